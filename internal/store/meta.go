package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/layersync/layersync/internal/domain"
)

// MetaStore reads and writes the per-container descriptor.
type MetaStore struct {
	store *Store
}

// Read loads the container metadata and the layer schema. Callers re-read it
// at the start of every sync-related operation instead of caching it, so
// structural drift is detected each cycle.
func (ms *MetaStore) Read(q Queryer) (*domain.ContainerMeta, error) {
	meta := &domain.ContainerMeta{}
	var syncDate sql.NullString
	var versioned int

	err := q.QueryRow(`
		SELECT container_version, connection_id, instance_id, resource_id,
		       epoch, version, sync_date, is_versioned, geometry_type, features_count
		FROM ngw_metadata WHERE id = 1
	`).Scan(
		&meta.ContainerVersion, &meta.ConnectionID, &meta.InstanceID, &meta.ResourceID,
		&meta.Epoch, &meta.Version, &syncDate, &versioned, &meta.GeometryType, &meta.FeaturesCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ContainerError{Path: ms.store.db.Path(), Message: "container is not initialized"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read container metadata: %w", err)
	}

	meta.IsVersioned = versioned != 0
	if syncDate.Valid && syncDate.String != "" {
		t, err := time.Parse(time.RFC3339, syncDate.String)
		if err != nil {
			return nil, fmt.Errorf("invalid sync_date %q: %w", syncDate.String, err)
		}
		meta.SyncDate = &t
	}

	fields, err := ms.readFields(q)
	if err != nil {
		return nil, err
	}
	meta.Fields = fields

	return meta, nil
}

func (ms *MetaStore) readFields(q Queryer) ([]domain.FieldMeta, error) {
	rows, err := q.Query(`
		SELECT ngw_id, attribute, keyname, datatype, display_name, is_label, lookup_table
		FROM ngw_fields_metadata ORDER BY attribute
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to read fields metadata: %w", err)
	}
	defer rows.Close()

	var fields []domain.FieldMeta
	for rows.Next() {
		var f domain.FieldMeta
		var isLabel int
		var lookup sql.NullInt64
		if err := rows.Scan(&f.NgwID, &f.Attribute, &f.Keyname, &f.Datatype, &f.DisplayName, &isLabel, &lookup); err != nil {
			return nil, fmt.Errorf("failed to scan field metadata: %w", err)
		}
		f.IsLabel = isLabel != 0
		if lookup.Valid {
			f.LookupTable = &lookup.Int64
		}
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fields metadata: %w", err)
	}
	return fields, nil
}

// Init writes the descriptor and schema of a freshly created container.
func (ms *MetaStore) Init(tx *sql.Tx, meta *domain.ContainerMeta) error {
	versioned := 0
	if meta.IsVersioned {
		versioned = 1
	}
	var syncDate interface{}
	if meta.SyncDate != nil {
		syncDate = meta.SyncDate.UTC().Format(time.RFC3339)
	}

	_, err := tx.Exec(`
		INSERT INTO ngw_metadata (
			id, container_version, connection_id, instance_id, resource_id,
			epoch, version, sync_date, is_versioned, geometry_type, features_count
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		meta.ContainerVersion, meta.ConnectionID, meta.InstanceID, meta.ResourceID,
		meta.Epoch, meta.Version, syncDate, versioned, meta.GeometryType, meta.FeaturesCount,
	)
	if err != nil {
		return fmt.Errorf("failed to write container metadata: %w", err)
	}

	for _, f := range meta.Fields {
		isLabel := 0
		if f.IsLabel {
			isLabel = 1
		}
		var lookup interface{}
		if f.LookupTable != nil {
			lookup = *f.LookupTable
		}
		_, err := tx.Exec(`
			INSERT INTO ngw_fields_metadata (ngw_id, attribute, keyname, datatype, display_name, is_label, lookup_table)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, f.NgwID, f.Attribute, f.Keyname, f.Datatype, f.DisplayName, isLabel, lookup)
		if err != nil {
			return fmt.Errorf("failed to write field metadata for %q: %w", f.Keyname, err)
		}
	}

	return nil
}

// ReplaceSchema overwrites the container descriptor and field schema with a
// freshly fetched remote state. Used by container reset, where structural
// drift is the expected reason for being here.
func (ms *MetaStore) ReplaceSchema(tx *sql.Tx, meta *domain.ContainerMeta) error {
	if _, err := tx.Exec(`DELETE FROM ngw_metadata`); err != nil {
		return fmt.Errorf("failed to clear container metadata: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM ngw_fields_metadata`); err != nil {
		return fmt.Errorf("failed to clear fields metadata: %w", err)
	}
	return ms.Init(tx, meta)
}

// UpdateSyncState records the new version, epoch, and sync date. It runs in
// the same transaction as the last applied action so a crash mid-apply can
// never record a sync as complete without the corresponding mutations.
func (ms *MetaStore) UpdateSyncState(tx *sql.Tx, version, epoch int64, syncDate time.Time) error {
	_, err := tx.Exec(`
		UPDATE ngw_metadata SET version = ?, epoch = ?, sync_date = ? WHERE id = 1
	`, version, epoch, syncDate.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to update sync state: %w", err)
	}
	return nil
}

// SetFeaturesCount stores the authoritative remote feature count observed at
// sync time. Non-versioned containers use it to detect external changes.
func (ms *MetaStore) SetFeaturesCount(tx *sql.Tx, count int64) error {
	_, err := tx.Exec(`UPDATE ngw_metadata SET features_count = ? WHERE id = 1`, count)
	if err != nil {
		return fmt.Errorf("failed to update features count: %w", err)
	}
	return nil
}
