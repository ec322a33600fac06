// Package edit is the local editing surface of a container. It applies user
// edits to the live feature table while maintaining the change-log
// discipline: the first local change to a field or geometry records its
// pre-change value as a backup row, and that row's presence is what marks
// the value dirty for the next upload.
package edit

import (
	"database/sql"
	"fmt"

	"github.com/layersync/layersync/internal/domain"
	"github.com/layersync/layersync/internal/store"
)

// Editor applies local edits to one container.
type Editor struct {
	store *store.Store
}

// New creates an Editor over a container store.
func New(s *store.Store) *Editor {
	return &Editor{store: s}
}

// Create inserts a new local feature and marks it pending upload. The
// feature has no remote fid until the first successful sync.
func (e *Editor) Create(feature *domain.Feature) (domain.FeatureID, error) {
	var fid domain.FeatureID
	err := e.store.WithTx(func(tx *sql.Tx) error {
		var err error
		fid, err = e.store.Features.Insert(tx, feature)
		if err != nil {
			return err
		}
		if err := e.store.Features.CreateMapping(tx, fid); err != nil {
			return err
		}
		return e.store.Changes.MarkAdded(tx, fid)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create feature: %w", err)
	}
	return fid, nil
}

// SetField changes one field value, backing up the previous value on the
// first change since the last sync. Edits to not-yet-uploaded features need
// no backup: the whole feature is pending as a create.
func (e *Editor) SetField(fid domain.FeatureID, field domain.FieldID, value interface{}) error {
	meta, err := e.store.Meta.Read(e.store.DB())
	if err != nil {
		return err
	}
	fm, ok := meta.FieldByNgwID(field)
	if !ok {
		return fmt.Errorf("unknown field %d", field)
	}

	return e.store.WithTx(func(tx *sql.Tx) error {
		current, err := e.store.Features.Get(tx, fid)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("feature %d does not exist", fid)
		}

		added, err := e.store.Changes.IsAdded(tx, fid)
		if err != nil {
			return err
		}
		if !added {
			if err := e.store.Changes.BackupAttribute(tx, fid, fm.Attribute, current.Fields[field]); err != nil {
				return err
			}
		}

		return e.store.Features.SetFields(tx, fid, map[domain.FieldID]interface{}{field: value})
	})
}

// SetGeometry changes the feature's geometry, backing up the previous
// geometry on the first change since the last sync.
func (e *Editor) SetGeometry(fid domain.FeatureID, geom string) error {
	return e.store.WithTx(func(tx *sql.Tx) error {
		current, err := e.store.Features.Get(tx, fid)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("feature %d does not exist", fid)
		}

		added, err := e.store.Changes.IsAdded(tx, fid)
		if err != nil {
			return err
		}
		if !added {
			if err := e.store.Changes.BackupGeometry(tx, fid, current.Geom); err != nil {
				return err
			}
		}

		return e.store.Features.SetGeom(tx, fid, geom)
	})
}

// Delete removes a feature locally. For synced features the pre-delete state
// is backed up so conflict extraction can reconstruct it later; deleting a
// not-yet-uploaded feature just cancels the pending creation.
func (e *Editor) Delete(fid domain.FeatureID) error {
	return e.store.WithTx(func(tx *sql.Tx) error {
		current, err := e.store.Features.Get(tx, fid)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("feature %d does not exist", fid)
		}

		added, err := e.store.Changes.IsAdded(tx, fid)
		if err != nil {
			return err
		}

		if added {
			if err := e.store.Changes.DropAdded(tx, fid); err != nil {
				return err
			}
			if err := e.store.Features.DeleteMapping(tx, fid); err != nil {
				return err
			}
		} else {
			// The delete backup must describe the feature as the server
			// last saw it, so pending edits are undone first.
			meta, err := e.store.Meta.Read(tx)
			if err != nil {
				return err
			}
			backup, err := e.store.PreSyncSnapshot(tx, meta, fid)
			if err != nil {
				return err
			}
			if err := e.store.Changes.MarkRemoved(tx, fid, backup); err != nil {
				return err
			}
			if err := e.store.Changes.DropAllAttributeBackups(tx, fid); err != nil {
				return err
			}
			if err := e.store.Changes.DropGeometryBackup(tx, fid); err != nil {
				return err
			}
		}

		return e.store.Features.Delete(tx, fid)
	})
}
