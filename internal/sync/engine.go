// Package sync orchestrates the delta exchange with the remote authority:
// fetch, conflict detection, apply, resolution, and upload, plus the
// container lifecycle (init and destructive reset).
package sync

import (
	"context"
	"database/sql"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/layersync/layersync/internal/apply"
	"github.com/layersync/layersync/internal/dedup"
	"github.com/layersync/layersync/internal/domain"
	"github.com/layersync/layersync/internal/events"
	"github.com/layersync/layersync/internal/extract"
	"github.com/layersync/layersync/internal/ngw"
	"github.com/layersync/layersync/internal/resolve"
	"github.com/layersync/layersync/internal/store"
)

// State is the phase of the synchronization state machine.
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateComparing  State = "comparing"
	StateApplying   State = "applying"
	StateConflicted State = "conflicted"
	StateSynced     State = "synced"
)

// Result is the outcome of one sync attempt.
type Result struct {
	State   State
	Version int64
	Applied int
	// Conflicts is non-empty only in the Conflicted state.
	Conflicts []domain.Conflict
}

// Engine runs synchronization tasks against one container. Only one task per
// container runs at a time; the engine serializes them itself.
type Engine struct {
	store     *store.Store
	client    *ngw.Client
	events    *events.Writer
	extractor *extract.Extractor
	applier   *apply.Applier
	items     *resolve.ItemExtractor
	resolver  *resolve.Resolver

	// state is read by State() from arbitrary goroutines while a task
	// goroutine advances it, so it gets its own lock.
	stateMu stdsync.Mutex
	state   State
}

// NewEngine creates an engine over an open container store and a remote
// client.
func NewEngine(s *store.Store, client *ngw.Client) *Engine {
	return &Engine{
		store:     s,
		client:    client,
		events:    events.NewWriter(s.DB().DB),
		extractor: extract.New(s),
		applier:   apply.New(s),
		items:     resolve.NewItemExtractor(s),
		resolver:  resolve.NewResolver(s),
		state:     StateIdle,
	}
}

// State returns the engine's current phase. Safe to call from any goroutine.
func (e *Engine) State() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.stateMu.Lock()
	e.state = s
	e.stateMu.Unlock()
}

// Sync fetches the remote delta, applies what does not conflict, and surfaces
// the rest. In the Conflicted outcome the container version is NOT advanced;
// it moves only when every conflict is settled through Resolve.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	unlock := lockContainer(e.store.DB().Path())
	defer unlock()

	res, err := e.sync(ctx)
	if err != nil {
		e.setState(StateIdle)
		_ = e.events.LogSyncFailed(nil, err)
		return nil, err
	}
	e.setState(res.State)
	return res, nil
}

func (e *Engine) sync(ctx context.Context) (*Result, error) {
	// Metadata is read fresh each cycle so structural drift is caught here,
	// never from a stale snapshot.
	meta, err := e.store.Meta.Read(e.store.DB())
	if err != nil {
		return nil, err
	}

	if _, err := e.preflight(ctx, meta); err != nil {
		return nil, err
	}

	if !meta.IsVersioned {
		// Non-versioned layers have no delta protocol: the count guard in
		// preflight is the only inbound check, and local changes move
		// through Upload.
		return &Result{State: StateSynced, Version: meta.Version}, nil
	}

	if err := e.events.LogSyncStarted(nil, meta.Version); err != nil {
		return nil, err
	}

	e.setState(StateFetching)
	check, err := e.client.CheckChanges(ctx, meta.ResourceID, meta.Epoch, meta.Version)
	if err != nil {
		return nil, domain.NewSyncError(domain.KindTransport, err, "failed to check for remote changes")
	}
	if check == nil {
		// Nothing newer on the server.
		return &Result{State: StateSynced, Version: meta.Version}, nil
	}
	remoteActions, err := e.fetchAll(ctx, check.Fetch)
	if err != nil {
		return nil, err
	}

	e.setState(StateComparing)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("synchronization cancelled: %w", err)
	}
	localActions, err := e.extractor.Actions(e.store.DB(), meta)
	if err != nil {
		return nil, err
	}
	conflicts, err := pairConflicts(localActions, remoteActions)
	if err != nil {
		return nil, err
	}
	d := dedup.Deduplicate(remoteActions, conflicts)

	e.setState(StateApplying)
	result := &Result{}
	err = e.store.WithTx(func(tx *sql.Tx) error {
		if err := e.purgeDoubleDeletes(tx, d); err != nil {
			return err
		}

		if len(d.Conflicts) > 0 {
			// Apply only what does not conflict; the rest waits for
			// resolution and the version stays put.
			clean := withoutConflicting(d.Actions, d.Conflicts)
			if err := e.applier.Apply(tx, clean); err != nil {
				return err
			}
			if err := e.events.LogConflictsDetected(tx, len(d.Conflicts)); err != nil {
				return err
			}
			result.State = StateConflicted
			result.Version = meta.Version
			result.Applied = len(clean)
			result.Conflicts = d.Conflicts
			return nil
		}

		if err := e.applier.Apply(tx, d.Actions); err != nil {
			return err
		}
		if err := e.store.Meta.UpdateSyncState(tx, check.Target, meta.Epoch, syncStamp(check)); err != nil {
			return err
		}
		if err := e.events.LogSyncFinished(tx, check.Target, len(d.Actions)); err != nil {
			return err
		}
		result.State = StateSynced
		result.Version = check.Target
		result.Applied = len(d.Actions)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// preflight runs the structural checks that must pass before any comparison
// is allowed. A failure here fails the whole attempt immediately; no partial
// sync runs once a structural mismatch is found.
func (e *Engine) preflight(ctx context.Context, meta *domain.ContainerMeta) (*ngw.RemoteLayer, error) {
	if meta.ContainerVersion < domain.MinSupportedContainerVersion {
		return nil, &domain.ContainerError{
			Path:    e.store.DB().Path(),
			Message: fmt.Sprintf("container schema version %d is older than the minimum supported %d", meta.ContainerVersion, domain.MinSupportedContainerVersion),
		}
	}

	remote, err := e.client.Layer(ctx, meta.ResourceID)
	if err != nil {
		return nil, domain.NewSyncError(domain.KindTransport, err, "failed to fetch remote layer description")
	}

	if remote.Versioned && !meta.IsVersioned {
		return nil, domain.NewSyncError(domain.KindVersioningEnabled, nil,
			"versioning was enabled on the remote layer")
	}
	if !remote.Versioned && meta.IsVersioned {
		return nil, domain.NewSyncError(domain.KindVersioningDisabled, nil,
			"versioning was disabled on the remote layer")
	}
	if meta.IsVersioned && remote.Epoch != meta.Epoch {
		return nil, domain.NewSyncError(domain.KindEpochChanged, nil,
			"remote epoch %d does not match local epoch %d", remote.Epoch, meta.Epoch)
	}
	if remote.GeometryType != meta.GeometryType {
		return nil, domain.NewSyncError(domain.KindStructureChanged, nil,
			"remote geometry type %q does not match local %q", remote.GeometryType, meta.GeometryType)
	}
	if err := compareSchema(meta, remote); err != nil {
		return nil, err
	}

	if !meta.IsVersioned {
		if err := e.countGuard(ctx, meta); err != nil {
			return nil, err
		}
	}
	return remote, nil
}

// compareSchema requires the remote field schema to match the local one
// exactly.
func compareSchema(meta *domain.ContainerMeta, remote *ngw.RemoteLayer) error {
	if len(remote.Fields) != len(meta.Fields) {
		return domain.NewSyncError(domain.KindStructureChanged, nil,
			"remote layer has %d fields, container has %d", len(remote.Fields), len(meta.Fields))
	}
	for _, rf := range remote.Fields {
		fm, ok := meta.FieldByNgwID(domain.FieldID(rf.ID))
		if !ok {
			return domain.NewSyncError(domain.KindStructureChanged, nil,
				"remote field %q (%d) is unknown to the container", rf.Keyname, rf.ID)
		}
		if fm.Keyname != rf.Keyname || fm.Datatype != rf.Datatype {
			return domain.NewSyncError(domain.KindStructureChanged, nil,
				"remote field %q (%d) changed shape", rf.Keyname, rf.ID)
		}
	}
	return nil
}

// countGuard is the only external-change detection available to a
// non-versioned layer: the remote feature count must equal the local count
// adjusted for pending local adds and deletes. A drift means something else
// changed the layer, and with no delta history the guard fails closed.
func (e *Engine) countGuard(ctx context.Context, meta *domain.ContainerMeta) error {
	remoteCount, err := e.client.FeatureCount(ctx, meta.ResourceID)
	if err != nil {
		return domain.NewSyncError(domain.KindTransport, err, "failed to fetch remote feature count")
	}

	localCount, err := e.store.Features.Count(e.store.DB())
	if err != nil {
		return err
	}
	added, err := e.store.Changes.AddedFIDs(e.store.DB())
	if err != nil {
		return err
	}
	removed, err := e.store.Changes.RemovedFIDs(e.store.DB())
	if err != nil {
		return err
	}

	expected := localCount - int64(len(added)) + int64(len(removed))
	if remoteCount != expected {
		return domain.NewSyncError(domain.KindNotVersionedContentChanged, nil,
			"remote has %d features, expected %d", remoteCount, expected)
	}
	return nil
}

// fetchAll follows the pagination chain until a page carries no continuation
// marker. Cancellation is honored between pages, never mid-request teardown.
func (e *Engine) fetchAll(ctx context.Context, url string) ([]domain.Action, error) {
	var all []domain.Action
	for url != "" {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("synchronization cancelled: %w", err)
		}
		page, err := e.client.FetchPage(ctx, url)
		if err != nil {
			return nil, domain.NewSyncError(domain.KindTransport, err, "failed to fetch delta page")
		}
		url = ""
		for _, a := range page {
			if cont, ok := a.(domain.ContinueAction); ok {
				url = cont.URL
				continue
			}
			all = append(all, a)
		}
	}
	return all, nil
}

// pairConflicts pairs local pending actions with remote actions on the same
// feature. Local creates carry a local fid with no remote counterpart and
// can never conflict; fids present on only one side are not conflicts.
func pairConflicts(local, remote []domain.Action) ([]domain.Conflict, error) {
	remoteByFID := make(map[domain.FeatureID]domain.Action)
	for _, ra := range remote {
		switch ra.(type) {
		case domain.FeatureUpdate, domain.FeatureDelete:
			fid, _ := domain.ActionFID(ra)
			remoteByFID[fid] = ra
		}
	}

	var conflicts []domain.Conflict
	for _, la := range local {
		switch la.(type) {
		case domain.FeatureUpdate, domain.FeatureDelete:
		default:
			continue
		}
		fid, _ := domain.ActionFID(la)
		ra, ok := remoteByFID[fid]
		if !ok {
			continue
		}
		c, err := domain.NewConflict(la, ra)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, nil
}

// withoutConflicting filters the remote action list down to actions on
// features that are not in the conflict set.
func withoutConflicting(actions []domain.Action, conflicts []domain.Conflict) []domain.Action {
	disputed := make(map[domain.FeatureID]bool, len(conflicts))
	for _, c := range conflicts {
		disputed[c.FID] = true
	}

	clean := make([]domain.Action, 0, len(actions))
	for _, a := range actions {
		if fid, ok := domain.ActionFID(a); ok && disputed[fid] {
			continue
		}
		clean = append(clean, a)
	}
	return clean
}

// purgeDoubleDeletes drops the change-log leftovers of features both sides
// deleted.
func (e *Engine) purgeDoubleDeletes(tx *sql.Tx, d dedup.Result) error {
	if !d.NeedsStateUpdate {
		return nil
	}
	for _, ngwFID := range d.PurgedFIDs {
		fid, ok, err := e.store.Features.LocalFID(tx, ngwFID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := e.store.Changes.DropRemoved(tx, fid); err != nil {
			return err
		}
		if err := e.store.Features.DeleteMapping(tx, fid); err != nil {
			return err
		}
	}
	return nil
}

func syncStamp(check *ngw.ChangesCheck) time.Time {
	if !check.Tstamp.IsZero() {
		return check.Tstamp
	}
	return time.Now()
}
