package store

import (
	"database/sql"
	"fmt"

	"github.com/layersync/layersync/internal/domain"
)

// OpKind enumerates the change-log mutations the resolver can emit.
type OpKind string

const (
	// OpDropAttributeBackup clears one field's dirty flag.
	OpDropAttributeBackup OpKind = "drop_attribute_backup"
	// OpAddAttributeBackup marks one field dirty for the next upload.
	OpAddAttributeBackup OpKind = "add_attribute_backup"
	// OpDropAllAttributeBackups clears every dirty field of a feature.
	OpDropAllAttributeBackups OpKind = "drop_all_attribute_backups"
	// OpDropGeometryBackup clears a feature's geometry dirty flag.
	OpDropGeometryBackup OpKind = "drop_geometry_backup"
	// OpAddGeometryBackup marks a feature's geometry dirty.
	OpAddGeometryBackup OpKind = "add_geometry_backup"
	// OpDropRemoved purges a delete backup row.
	OpDropRemoved OpKind = "drop_removed"
	// OpMarkAdded re-queues a feature as a pending local creation.
	OpMarkAdded OpKind = "mark_added"
	// OpClearNgwFID detaches a feature from its remote fid.
	OpClearNgwFID OpKind = "clear_ngw_fid"
	// OpDeleteMapping drops a feature's fid mapping row entirely.
	OpDeleteMapping OpKind = "delete_mapping"
)

// Op is one change-log mutation. The resolver assembles a script of these
// in memory and applies it atomically once resolution has fully succeeded.
type Op struct {
	Kind      OpKind
	FID       domain.FeatureID
	Attribute int
	Value     interface{}
	Geometry  string
}

// ApplyOps executes a resolution script inside the given transaction. A
// zero-length script is a no-op.
func (cs *ChangeStore) ApplyOps(tx *sql.Tx, ops []Op) error {
	for _, op := range ops {
		var err error
		switch op.Kind {
		case OpDropAttributeBackup:
			err = cs.DropAttributeBackup(tx, op.FID, op.Attribute)
		case OpAddAttributeBackup:
			err = cs.BackupAttribute(tx, op.FID, op.Attribute, op.Value)
		case OpDropAllAttributeBackups:
			err = cs.DropAllAttributeBackups(tx, op.FID)
		case OpDropGeometryBackup:
			err = cs.DropGeometryBackup(tx, op.FID)
		case OpAddGeometryBackup:
			err = cs.BackupGeometry(tx, op.FID, op.Geometry)
		case OpDropRemoved:
			err = cs.DropRemoved(tx, op.FID)
		case OpMarkAdded:
			err = cs.MarkAdded(tx, op.FID)
		case OpClearNgwFID:
			err = cs.store.Features.ClearNgwFID(tx, op.FID)
		case OpDeleteMapping:
			err = cs.store.Features.DeleteMapping(tx, op.FID)
		default:
			err = fmt.Errorf("unknown change-log op %q", op.Kind)
		}
		if err != nil {
			return fmt.Errorf("change-log script failed at %s for feature %d: %w", op.Kind, op.FID, err)
		}
	}
	return nil
}
