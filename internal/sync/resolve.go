package sync

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/layersync/layersync/internal/dedup"
	"github.com/layersync/layersync/internal/domain"
	"github.com/layersync/layersync/internal/resolve"
)

// Chooser records the user's decisions on the extracted resolution items.
// It runs between fetch and merge; items it leaves unresolved make the whole
// attempt fail with ConflictsNotResolved.
type Chooser func(items []*resolve.Item) error

// Resolve re-runs the fetch/compare phases, hands the conflict items to the
// chooser, and applies the merged outcome. The version advances only when
// every conflict is settled: resolution is all-or-nothing per attempt.
func (e *Engine) Resolve(ctx context.Context, choose Chooser) (*Result, error) {
	unlock := lockContainer(e.store.DB().Path())
	defer unlock()

	res, err := e.resolveSync(ctx, choose)
	if err != nil {
		e.setState(StateIdle)
		_ = e.events.LogSyncFailed(nil, err)
		return nil, err
	}
	e.setState(res.State)
	return res, nil
}

func (e *Engine) resolveSync(ctx context.Context, choose Chooser) (*Result, error) {
	meta, err := e.store.Meta.Read(e.store.DB())
	if err != nil {
		return nil, err
	}
	if _, err := e.preflight(ctx, meta); err != nil {
		return nil, err
	}
	if !meta.IsVersioned {
		return nil, domain.NewSyncError(domain.KindInvalidAction, nil,
			"conflict resolution applies only to versioned layers")
	}

	e.setState(StateFetching)
	check, err := e.client.CheckChanges(ctx, meta.ResourceID, meta.Epoch, meta.Version)
	if err != nil {
		return nil, domain.NewSyncError(domain.KindTransport, err, "failed to check for remote changes")
	}
	if check == nil {
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

	var resolutions []domain.Resolution
	if len(d.Conflicts) > 0 {
		items, err := e.items.Items(e.store.DB(), meta, d.Conflicts)
		if err != nil {
			return nil, domain.WrapDetached("failed to extract conflict items", err)
		}
		if err := choose(items); err != nil {
			return nil, err
		}
		resolutions = make([]domain.Resolution, len(items))
		for i, it := range items {
			if !it.IsResolved {
				resolutions[i] = domain.Resolution{Type: domain.NoResolution, Conflict: it.Conflict}
				continue
			}
			r, err := resolve.ToResolution(it)
			if err != nil {
				return nil, domain.WrapDetached("failed to convert resolution", err)
			}
			resolutions[i] = r
		}
	}

	e.setState(StateApplying)
	result := &Result{}
	err = e.store.WithTx(func(tx *sql.Tx) error {
		if err := e.purgeDoubleDeletes(tx, d); err != nil {
			return err
		}

		merged := d.Actions
		if len(resolutions) > 0 {
			status, m, err := e.resolver.Resolve(tx, meta, d.Actions, resolutions)
			if err != nil {
				return err
			}
			if status != resolve.StatusResolved {
				return domain.NewSyncError(domain.KindConflictsNotResolved, nil,
					"conflict resolution is incomplete (%s)", status)
			}
			merged = m
			if err := e.events.LogConflictsResolved(tx, len(resolutions)); err != nil {
				return err
			}
		}

		if err := e.applier.Apply(tx, merged); err != nil {
			return err
		}
		if err := e.store.Meta.UpdateSyncState(tx, check.Target, meta.Epoch, syncStamp(check)); err != nil {
			return err
		}
		if err := e.events.LogSyncFinished(tx, check.Target, len(merged)); err != nil {
			return err
		}
		result.State = StateSynced
		result.Version = check.Target
		result.Applied = len(merged)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Conflicts re-runs fetch/compare and returns the current conflict items
// without applying anything. Used to display pending conflicts.
func (e *Engine) Conflicts(ctx context.Context) ([]*resolve.Item, error) {
	unlock := lockContainer(e.store.DB().Path())
	defer unlock()

	meta, err := e.store.Meta.Read(e.store.DB())
	if err != nil {
		return nil, err
	}
	if !meta.IsVersioned {
		return nil, nil
	}
	if _, err := e.preflight(ctx, meta); err != nil {
		return nil, err
	}

	check, err := e.client.CheckChanges(ctx, meta.ResourceID, meta.Epoch, meta.Version)
	if err != nil {
		return nil, domain.NewSyncError(domain.KindTransport, err, "failed to check for remote changes")
	}
	if check == nil {
		return nil, nil
	}
	remoteActions, err := e.fetchAll(ctx, check.Fetch)
	if err != nil {
		return nil, err
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
	if len(d.Conflicts) == 0 {
		return nil, nil
	}

	items, err := e.items.Items(e.store.DB(), meta, d.Conflicts)
	if err != nil {
		return nil, domain.WrapDetached("failed to extract conflict items", err)
	}
	return items, nil
}
