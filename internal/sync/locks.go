package sync

import stdsync "sync"

// Concurrent tasks against one container's store are not a supported
// configuration: interleaved writes can corrupt the change log. The engine
// serializes every operation on a per-container lock keyed by the database
// path.
var (
	locksMu stdsync.Mutex
	locks   = make(map[string]*stdsync.Mutex)
)

// lockContainer acquires the lock for a container path and returns the
// release function.
func lockContainer(path string) func() {
	locksMu.Lock()
	mu, ok := locks[path]
	if !ok {
		mu = &stdsync.Mutex{}
		locks[path] = mu
	}
	locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}
