package sync

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/layersync/layersync/internal/codec"
	"github.com/layersync/layersync/internal/domain"
	"github.com/layersync/layersync/internal/ngw"
)

// UploadStats summarizes one upload of local changes.
type UploadStats struct {
	Creates int
	Updates int
	Deletes int
	Version int64
}

// Total returns how many actions the upload carried.
func (s UploadStats) Total() int { return s.Creates + s.Updates + s.Deletes }

// Upload pushes the pending local changes to the server. Versioned layers go
// through a server-side transaction (begin, put, commit, with abort on
// failure); non-versioned layers use plain feature CRUD. On success the
// change log is cleared and new remote fids are recorded, all in one local
// transaction.
func (e *Engine) Upload(ctx context.Context) (*UploadStats, error) {
	unlock := lockContainer(e.store.DB().Path())
	defer unlock()

	meta, err := e.store.Meta.Read(e.store.DB())
	if err != nil {
		return nil, err
	}

	perm, err := e.client.Permission(ctx, meta.ResourceID)
	if err != nil {
		return nil, domain.NewSyncError(domain.KindTransport, err, "failed to check resource permission")
	}
	if !perm.Write {
		return nil, &domain.NgwError{
			StatusCode: http.StatusForbidden,
			Message:    fmt.Sprintf("no write permission on resource %d", meta.ResourceID),
			Reconnect:  true,
		}
	}

	actions, err := e.extractor.Actions(e.store.DB(), meta)
	if err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return &UploadStats{Version: meta.Version}, nil
	}

	stats := countActions(actions)
	if meta.IsVersioned {
		err = e.uploadVersioned(ctx, meta, actions, stats)
	} else {
		err = e.uploadPlain(ctx, meta, actions, stats)
	}
	if err != nil {
		_ = e.events.LogSyncFailed(nil, err)
		return nil, err
	}
	return stats, nil
}

func (e *Engine) uploadVersioned(ctx context.Context, meta *domain.ContainerMeta, actions []domain.Action, stats *UploadStats) error {
	tx, err := e.client.BeginTransaction(ctx, meta.ResourceID, meta.Epoch)
	if err != nil {
		return domain.NewSyncError(domain.KindTransport, err, "failed to begin upload transaction")
	}

	assignments, err := tx.Put(ctx, actions)
	if err != nil {
		_ = tx.Abort(ctx)
		return domain.NewSyncError(domain.KindTransport, err, "failed to stage upload actions")
	}

	version, err := tx.Commit(ctx)
	if err != nil {
		// Commit already aborted the server-side transaction.
		return domain.NewSyncError(domain.KindTransport, err, "failed to commit upload transaction")
	}
	stats.Version = version

	return e.finishUpload(meta, assignments, stats, version)
}

func (e *Engine) uploadPlain(ctx context.Context, meta *domain.ContainerMeta, actions []domain.Action, stats *UploadStats) error {
	var assignments []ngw.FidAssignment
	for _, a := range actions {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("upload cancelled: %w", err)
		}
		switch act := a.(type) {
		case domain.FeatureCreate:
			payload := ngw.Feature{Fields: keynameFields(meta, act.Fields), Geom: act.Geom}
			ngwFID, err := e.client.CreateFeature(ctx, meta.ResourceID, payload)
			if err != nil {
				return domain.NewSyncError(domain.KindTransport, err, "failed to upload created feature %d", act.FID)
			}
			assignments = append(assignments, ngw.FidAssignment{LocalFID: act.FID, NgwFID: ngwFID})
		case domain.FeatureUpdate:
			payload := ngw.Feature{Fields: keynameFields(meta, act.Fields)}
			if act.Geom != nil {
				payload.Geom = *act.Geom
			}
			if err := e.client.UpdateFeature(ctx, meta.ResourceID, act.FID, payload); err != nil {
				return domain.NewSyncError(domain.KindTransport, err, "failed to upload update for feature %d", act.FID)
			}
		case domain.FeatureDelete:
			if err := e.client.DeleteFeature(ctx, meta.ResourceID, act.FID); err != nil {
				return domain.NewSyncError(domain.KindTransport, err, "failed to upload delete for feature %d", act.FID)
			}
		default:
			return domain.NewSyncError(domain.KindInvalidAction, nil,
				"action %q cannot be uploaded", a.Type())
		}
	}

	return e.finishUpload(meta, assignments, stats, meta.Version)
}

// finishUpload records the server's fid assignments, clears the change log,
// and stamps the sync state atomically.
func (e *Engine) finishUpload(meta *domain.ContainerMeta, assignments []ngw.FidAssignment, stats *UploadStats, version int64) error {
	return e.store.WithTx(func(tx *sql.Tx) error {
		for _, as := range assignments {
			if err := e.store.Features.SetNgwFID(tx, as.LocalFID, as.NgwFID); err != nil {
				return err
			}
		}
		if err := e.store.Changes.Clear(tx); err != nil {
			return err
		}
		if err := e.store.Meta.UpdateSyncState(tx, version, meta.Epoch, time.Now()); err != nil {
			return err
		}
		if !meta.IsVersioned {
			count, err := e.store.Features.Count(tx)
			if err != nil {
				return err
			}
			if err := e.store.Meta.SetFeaturesCount(tx, count); err != nil {
				return err
			}
		}
		return e.events.LogUploadFinished(tx, stats.Creates, stats.Updates, stats.Deletes)
	})
}

// keynameFields converts an action's field list to the keyname-keyed map the
// plain feature API expects.
func keynameFields(meta *domain.ContainerMeta, fields []domain.FieldValue) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for _, fv := range fields {
		fm, ok := meta.FieldByNgwID(fv.ID)
		if !ok {
			continue
		}
		out[fm.Keyname] = codec.SerializeValue(fv.Value)
	}
	return out
}

func countActions(actions []domain.Action) *UploadStats {
	stats := &UploadStats{}
	for _, a := range actions {
		switch a.(type) {
		case domain.FeatureCreate:
			stats.Creates++
		case domain.FeatureUpdate:
			stats.Updates++
		case domain.FeatureDelete:
			stats.Deletes++
		}
	}
	return stats
}
