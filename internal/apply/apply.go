// Package apply mutates the local container according to an inbound
// (remote) action list.
package apply

import (
	"database/sql"

	"github.com/layersync/layersync/internal/domain"
	"github.com/layersync/layersync/internal/store"
)

// Applier writes inbound remote actions into a container.
type Applier struct {
	store *store.Store
}

// New creates an Applier over a container store.
func New(s *store.Store) *Applier {
	return &Applier{store: s}
}

// Apply executes an ordered inbound action list inside the given
// transaction. Creates insert a row and record the fid mapping; deletes
// remove the row unless the feature is already locally deleted (a double
// delete is a no-op); updates set only the fields and geometry present in
// the action; absence means unchanged. An action that needs a missing fid
// mapping fails the whole sync attempt.
func (a *Applier) Apply(tx *sql.Tx, actions []domain.Action) error {
	for _, action := range actions {
		var err error
		switch act := action.(type) {
		case domain.FeatureCreate:
			err = a.applyCreate(tx, act)
		case domain.FeatureUpdate:
			err = a.applyUpdate(tx, act)
		case domain.FeatureDelete:
			err = a.applyDelete(tx, act)
		case domain.ContinueAction:
			err = domain.NewSyncError(domain.KindInvalidAction, nil,
				"continuation marker reached the applier; the fetcher must consume it")
		default:
			err = domain.NewSyncError(domain.KindInvalidAction, nil,
				"unknown action type %q", action.Type())
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *Applier) applyCreate(tx *sql.Tx, act domain.FeatureCreate) error {
	fields := make(map[domain.FieldID]interface{}, len(act.Fields))
	for _, fv := range act.Fields {
		fields[fv.ID] = fv.Value
	}

	// A conflicted sync applies the clean part of a delta and holds the
	// version, so the same create can arrive again on the next attempt.
	// An already mapped remote fid means the row exists; overwrite it.
	fid, ok, err := a.store.Features.LocalFID(tx, act.FID)
	if err != nil {
		return err
	}
	if ok {
		return a.store.Features.Update(tx, &domain.Feature{FID: fid, Fields: fields, Geom: act.Geom})
	}

	fid, err = a.store.Features.Insert(tx, &domain.Feature{Fields: fields, Geom: act.Geom})
	if err != nil {
		return err
	}
	// Inbound creates carry the remote fid; record the mapping right away.
	return a.store.Features.SetNgwFID(tx, fid, act.FID)
}

func (a *Applier) applyUpdate(tx *sql.Tx, act domain.FeatureUpdate) error {
	fid, ok, err := a.store.Features.LocalFID(tx, act.FID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NewSyncError(domain.KindInvalidAction, domain.ErrFidNotMapped,
			"remote update for unknown feature %d", act.FID)
	}

	if len(act.Fields) > 0 {
		values := make(map[domain.FieldID]interface{}, len(act.Fields))
		for _, fv := range act.Fields {
			values[fv.ID] = fv.Value
		}
		if err := a.store.Features.SetFields(tx, fid, values); err != nil {
			return err
		}
	}

	if act.Geom != nil {
		if err := a.store.Features.SetGeom(tx, fid, *act.Geom); err != nil {
			return err
		}
	}

	return nil
}

func (a *Applier) applyDelete(tx *sql.Tx, act domain.FeatureDelete) error {
	fid, ok, err := a.store.Features.LocalFID(tx, act.FID)
	if err != nil {
		return err
	}
	if !ok {
		// Unknown on this side; nothing to remove.
		return nil
	}

	// Already deleted locally: the deduplicator normally strips this pair,
	// but a lone remote delete of a locally deleted feature is still a
	// no-op for the feature table.
	removed, err := a.store.Changes.IsRemoved(tx, fid)
	if err != nil {
		return err
	}
	if removed {
		return nil
	}

	if err := a.store.Features.Delete(tx, fid); err != nil {
		return err
	}
	return a.store.Features.DeleteMapping(tx, fid)
}
