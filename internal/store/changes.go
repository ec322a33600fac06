package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/layersync/layersync/internal/domain"
)

// ChangeStore accesses the local change log: the added/removed feature lists
// and the attribute/geometry backup tables. The presence of a backup row is
// the dirty flag; the backup value is the pre-change state while the current
// value lives in the features table.
type ChangeStore struct {
	store *Store
}

// featureBackup is the JSON shape persisted in ngw_removed_features.
type featureBackup struct {
	Fields map[string]interface{} `json:"fields"`
	Geom   string                 `json:"geom"`
}

// MarkAdded records a locally created feature pending upload.
func (cs *ChangeStore) MarkAdded(tx *sql.Tx, fid domain.FeatureID) error {
	_, err := tx.Exec(`INSERT OR IGNORE INTO ngw_added_features (fid) VALUES (?)`, fid)
	if err != nil {
		return fmt.Errorf("failed to mark feature %d added: %w", fid, err)
	}
	return nil
}

// AddedFIDs returns the locally created features pending upload, ordered.
func (cs *ChangeStore) AddedFIDs(q Queryer) ([]domain.FeatureID, error) {
	return cs.fidList(q, `SELECT fid FROM ngw_added_features ORDER BY fid`)
}

// IsAdded reports whether a feature is a pending local creation.
func (cs *ChangeStore) IsAdded(q Queryer, fid domain.FeatureID) (bool, error) {
	var n int
	if err := q.QueryRow(`SELECT COUNT(*) FROM ngw_added_features WHERE fid = ?`, fid).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check added flag for %d: %w", fid, err)
	}
	return n > 0, nil
}

// DropAdded clears the pending-creation flag after a successful upload.
func (cs *ChangeStore) DropAdded(tx *sql.Tx, fid domain.FeatureID) error {
	if _, err := tx.Exec(`DELETE FROM ngw_added_features WHERE fid = ?`, fid); err != nil {
		return fmt.Errorf("failed to drop added flag for %d: %w", fid, err)
	}
	return nil
}

// MarkRemoved records a local deletion with a backup of the pre-delete state.
// The backup reconstructs the "remote view before this delete" during
// conflict extraction.
func (cs *ChangeStore) MarkRemoved(tx *sql.Tx, fid domain.FeatureID, backup *domain.Feature) error {
	fields := make(map[string]interface{}, len(backup.Fields))
	for id, v := range backup.Fields {
		fields[fmt.Sprintf("%d", id)] = v
	}
	data, err := json.Marshal(featureBackup{Fields: fields, Geom: backup.Geom})
	if err != nil {
		return fmt.Errorf("failed to encode delete backup for %d: %w", fid, err)
	}
	_, err = tx.Exec(`INSERT OR IGNORE INTO ngw_removed_features (fid, backup_json) VALUES (?, ?)`, fid, string(data))
	if err != nil {
		return fmt.Errorf("failed to mark feature %d removed: %w", fid, err)
	}
	return nil
}

// RemovedFIDs returns the locally deleted features pending upload, ordered.
func (cs *ChangeStore) RemovedFIDs(q Queryer) ([]domain.FeatureID, error) {
	return cs.fidList(q, `SELECT fid FROM ngw_removed_features ORDER BY fid`)
}

// IsRemoved reports whether a feature is a pending local deletion.
func (cs *ChangeStore) IsRemoved(q Queryer, fid domain.FeatureID) (bool, error) {
	var n int
	if err := q.QueryRow(`SELECT COUNT(*) FROM ngw_removed_features WHERE fid = ?`, fid).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check removed flag for %d: %w", fid, err)
	}
	return n > 0, nil
}

// RemovedBackup returns the pre-delete snapshot of a locally deleted feature.
func (cs *ChangeStore) RemovedBackup(q Queryer, fid domain.FeatureID) (*domain.Feature, error) {
	var raw string
	err := q.QueryRow(`SELECT backup_json FROM ngw_removed_features WHERE fid = ?`, fid).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read delete backup for %d: %w", fid, err)
	}

	var backup featureBackup
	if err := json.Unmarshal([]byte(raw), &backup); err != nil {
		return nil, fmt.Errorf("corrupt delete backup for %d: %w", fid, err)
	}
	fields := make(map[domain.FieldID]interface{}, len(backup.Fields))
	for k, v := range backup.Fields {
		var id int64
		if _, err := fmt.Sscanf(k, "%d", &id); err != nil {
			return nil, fmt.Errorf("corrupt delete backup for %d: bad field key %q", fid, k)
		}
		fields[domain.FieldID(id)] = v
	}
	return &domain.Feature{FID: fid, Fields: fields, Geom: backup.Geom}, nil
}

// DropRemoved purges the delete backup once no reconciliation remains.
func (cs *ChangeStore) DropRemoved(tx *sql.Tx, fid domain.FeatureID) error {
	if _, err := tx.Exec(`DELETE FROM ngw_removed_features WHERE fid = ?`, fid); err != nil {
		return fmt.Errorf("failed to drop delete backup for %d: %w", fid, err)
	}
	return nil
}

// BackupAttribute records the pre-change value of a field the first time it
// is edited locally. Repeat edits keep the original backup (INSERT OR
// IGNORE): the dirty flag means "changed since last sync", not "changed
// since last edit".
func (cs *ChangeStore) BackupAttribute(tx *sql.Tx, fid domain.FeatureID, attribute int, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode attribute backup: %w", err)
	}
	_, err = tx.Exec(`INSERT OR IGNORE INTO ngw_updated_attributes (fid, attribute, backup_value) VALUES (?, ?, ?)`,
		fid, attribute, string(data))
	if err != nil {
		return fmt.Errorf("failed to backup attribute %d of feature %d: %w", attribute, fid, err)
	}
	return nil
}

// UpdatedAttributes returns the dirty attribute indexes of one feature.
func (cs *ChangeStore) UpdatedAttributes(q Queryer, fid domain.FeatureID) ([]int, error) {
	rows, err := q.Query(`SELECT attribute FROM ngw_updated_attributes WHERE fid = ? ORDER BY attribute`, fid)
	if err != nil {
		return nil, fmt.Errorf("failed to read updated attributes for %d: %w", fid, err)
	}
	defer rows.Close()

	var attrs []int
	for rows.Next() {
		var a int
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("failed to scan attribute: %w", err)
		}
		attrs = append(attrs, a)
	}
	return attrs, rows.Err()
}

// UpdatedAttributeFIDs returns all features with dirty attributes, ordered.
func (cs *ChangeStore) UpdatedAttributeFIDs(q Queryer) ([]domain.FeatureID, error) {
	return cs.fidList(q, `SELECT DISTINCT fid FROM ngw_updated_attributes ORDER BY fid`)
}

// AttributeBackup returns the pre-change value of a dirty field.
func (cs *ChangeStore) AttributeBackup(q Queryer, fid domain.FeatureID, attribute int) (interface{}, bool, error) {
	var raw sql.NullString
	err := q.QueryRow(`SELECT backup_value FROM ngw_updated_attributes WHERE fid = ? AND attribute = ?`,
		fid, attribute).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read attribute backup: %w", err)
	}
	if !raw.Valid {
		return nil, true, nil
	}
	var value interface{}
	if err := json.Unmarshal([]byte(raw.String), &value); err != nil {
		return nil, false, fmt.Errorf("corrupt attribute backup for feature %d attribute %d: %w", fid, attribute, err)
	}
	return value, true, nil
}

// DropAttributeBackup clears one field's dirty flag.
func (cs *ChangeStore) DropAttributeBackup(tx *sql.Tx, fid domain.FeatureID, attribute int) error {
	_, err := tx.Exec(`DELETE FROM ngw_updated_attributes WHERE fid = ? AND attribute = ?`, fid, attribute)
	if err != nil {
		return fmt.Errorf("failed to drop attribute backup: %w", err)
	}
	return nil
}

// DropAllAttributeBackups clears every dirty field of one feature.
func (cs *ChangeStore) DropAllAttributeBackups(tx *sql.Tx, fid domain.FeatureID) error {
	if _, err := tx.Exec(`DELETE FROM ngw_updated_attributes WHERE fid = ?`, fid); err != nil {
		return fmt.Errorf("failed to drop attribute backups for %d: %w", fid, err)
	}
	return nil
}

// BackupGeometry records the pre-change geometry the first time it is edited
// locally.
func (cs *ChangeStore) BackupGeometry(tx *sql.Tx, fid domain.FeatureID, geom string) error {
	_, err := tx.Exec(`INSERT OR IGNORE INTO ngw_updated_geometries (fid, backup_geometry) VALUES (?, ?)`, fid, geom)
	if err != nil {
		return fmt.Errorf("failed to backup geometry of feature %d: %w", fid, err)
	}
	return nil
}

// GeometryBackup returns the pre-change geometry of a feature, if dirty.
func (cs *ChangeStore) GeometryBackup(q Queryer, fid domain.FeatureID) (string, bool, error) {
	var geom string
	err := q.QueryRow(`SELECT backup_geometry FROM ngw_updated_geometries WHERE fid = ?`, fid).Scan(&geom)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read geometry backup for %d: %w", fid, err)
	}
	return geom, true, nil
}

// UpdatedGeometryFIDs returns all features with dirty geometry, ordered.
func (cs *ChangeStore) UpdatedGeometryFIDs(q Queryer) ([]domain.FeatureID, error) {
	return cs.fidList(q, `SELECT fid FROM ngw_updated_geometries ORDER BY fid`)
}

// DropGeometryBackup clears a feature's geometry dirty flag.
func (cs *ChangeStore) DropGeometryBackup(tx *sql.Tx, fid domain.FeatureID) error {
	if _, err := tx.Exec(`DELETE FROM ngw_updated_geometries WHERE fid = ?`, fid); err != nil {
		return fmt.Errorf("failed to drop geometry backup for %d: %w", fid, err)
	}
	return nil
}

// Clear empties the whole change log. Used after a successful upload and on
// container reset.
func (cs *ChangeStore) Clear(tx *sql.Tx) error {
	for _, table := range []string{
		"ngw_added_features",
		"ngw_removed_features",
		"ngw_updated_attributes",
		"ngw_updated_geometries",
	} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// HasPending reports whether any local edits await upload.
func (cs *ChangeStore) HasPending(q Queryer) (bool, error) {
	var n int
	err := q.QueryRow(`
		SELECT (SELECT COUNT(*) FROM ngw_added_features)
		     + (SELECT COUNT(*) FROM ngw_removed_features)
		     + (SELECT COUNT(*) FROM ngw_updated_attributes)
		     + (SELECT COUNT(*) FROM ngw_updated_geometries)
	`).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count pending changes: %w", err)
	}
	return n > 0, nil
}

func (cs *ChangeStore) fidList(q Queryer, query string) ([]domain.FeatureID, error) {
	rows, err := q.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query change log: %w", err)
	}
	defer rows.Close()

	var fids []domain.FeatureID
	for rows.Next() {
		var fid int64
		if err := rows.Scan(&fid); err != nil {
			return nil, fmt.Errorf("failed to scan fid: %w", err)
		}
		fids = append(fids, domain.FeatureID(fid))
	}
	return fids, rows.Err()
}
