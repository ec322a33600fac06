// Package dedup collapses trivial conflicts before interactive resolution.
package dedup

import (
	"github.com/layersync/layersync/internal/domain"
)

// Result is the outcome of one deduplication pass.
type Result struct {
	// NeedsStateUpdate is true when anything was removed and the container's
	// change log needs a cleanup (the purged fids below).
	NeedsStateUpdate bool
	// Actions is the remote action list with redundant deletes removed.
	Actions []domain.Action
	// Conflicts is the conflict list with benign pairs removed.
	Conflicts []domain.Conflict
	// PurgedFIDs lists remote fids whose delete backups can be dropped from
	// the change log: both sides agree the feature is gone.
	PurgedFIDs []domain.FeatureID
}

// Deduplicate removes double-delete conflicts. A feature deleted both
// locally and remotely is not a real conflict: both sides agree it is gone,
// so there is nothing to ask the user. The pair is dropped from the conflict
// list, the remote delete is dropped from the action list (it is already
// deleted locally), and the fid is recorded so its delete backup can be
// purged. This is the only automatic conflict resolution in the system; all
// other same-type conflicts are left for the resolver.
//
// The pass is idempotent: running it on already-deduplicated input returns
// NeedsStateUpdate == false and the input unchanged.
func Deduplicate(actions []domain.Action, conflicts []domain.Conflict) Result {
	doubleDeletes := make(map[domain.FeatureID]bool)
	for _, c := range conflicts {
		if c.IsDoubleDelete() {
			doubleDeletes[c.FID] = true
		}
	}

	if len(doubleDeletes) == 0 {
		return Result{Actions: actions, Conflicts: conflicts}
	}

	filteredActions := make([]domain.Action, 0, len(actions))
	for _, a := range actions {
		if del, ok := a.(domain.FeatureDelete); ok && doubleDeletes[del.FID] {
			continue
		}
		filteredActions = append(filteredActions, a)
	}

	filteredConflicts := make([]domain.Conflict, 0, len(conflicts))
	purged := make([]domain.FeatureID, 0, len(doubleDeletes))
	for _, c := range conflicts {
		if c.IsDoubleDelete() {
			purged = append(purged, c.FID)
			continue
		}
		filteredConflicts = append(filteredConflicts, c)
	}

	return Result{
		NeedsStateUpdate: true,
		Actions:          filteredActions,
		Conflicts:        filteredConflicts,
		PurgedFIDs:       purged,
	}
}
