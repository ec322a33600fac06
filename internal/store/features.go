package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/layersync/layersync/internal/domain"
)

// FeatureStore accesses the live feature table and the local<->remote fid
// mapping.
type FeatureStore struct {
	store *Store
}

func encodeFields(fields map[domain.FieldID]interface{}) (string, error) {
	m := make(map[string]interface{}, len(fields))
	for id, v := range fields {
		m[strconv.FormatInt(int64(id), 10)] = v
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode fields: %w", err)
	}
	return string(data), nil
}

func decodeFields(raw string) (map[domain.FieldID]interface{}, error) {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	fields := make(map[domain.FieldID]interface{}, len(m))
	for k, v := range m {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid field id key %q: %w", k, err)
		}
		fields[domain.FieldID(id)] = v
	}
	return fields, nil
}

// Get returns the feature with the given local fid, or nil if absent.
func (fs *FeatureStore) Get(q Queryer, fid domain.FeatureID) (*domain.Feature, error) {
	var rawFields, geom string
	err := q.QueryRow(`SELECT fields, geom FROM features WHERE fid = ?`, fid).Scan(&rawFields, &geom)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read feature %d: %w", fid, err)
	}

	fields, err := decodeFields(rawFields)
	if err != nil {
		return nil, fmt.Errorf("feature %d: %w", fid, err)
	}
	return &domain.Feature{FID: fid, Fields: fields, Geom: geom}, nil
}

// Insert adds a new feature row and returns its local fid.
func (fs *FeatureStore) Insert(tx *sql.Tx, feature *domain.Feature) (domain.FeatureID, error) {
	raw, err := encodeFields(feature.Fields)
	if err != nil {
		return 0, err
	}
	res, err := tx.Exec(`INSERT INTO features (fields, geom) VALUES (?, ?)`, raw, feature.Geom)
	if err != nil {
		return 0, fmt.Errorf("failed to insert feature: %w", err)
	}
	fid, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted fid: %w", err)
	}
	return domain.FeatureID(fid), nil
}

// Update rewrites a feature's full field set and geometry.
func (fs *FeatureStore) Update(tx *sql.Tx, feature *domain.Feature) error {
	raw, err := encodeFields(feature.Fields)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`UPDATE features SET fields = ?, geom = ? WHERE fid = ?`, raw, feature.Geom, feature.FID)
	if err != nil {
		return fmt.Errorf("failed to update feature %d: %w", feature.FID, err)
	}
	return nil
}

// SetFields overwrites only the given field values, leaving others intact.
func (fs *FeatureStore) SetFields(tx *sql.Tx, fid domain.FeatureID, values map[domain.FieldID]interface{}) error {
	if len(values) == 0 {
		return nil
	}
	current, err := fs.Get(tx, fid)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("feature %d does not exist", fid)
	}
	for id, v := range values {
		current.Fields[id] = v
	}
	return fs.Update(tx, current)
}

// SetGeom overwrites a feature's geometry.
func (fs *FeatureStore) SetGeom(tx *sql.Tx, fid domain.FeatureID, geom string) error {
	_, err := tx.Exec(`UPDATE features SET geom = ? WHERE fid = ?`, geom, fid)
	if err != nil {
		return fmt.Errorf("failed to update geometry of feature %d: %w", fid, err)
	}
	return nil
}

// Delete removes a feature row. Deleting an absent row is a no-op.
func (fs *FeatureStore) Delete(tx *sql.Tx, fid domain.FeatureID) error {
	if _, err := tx.Exec(`DELETE FROM features WHERE fid = ?`, fid); err != nil {
		return fmt.Errorf("failed to delete feature %d: %w", fid, err)
	}
	return nil
}

// ClearAll wipes the feature table and the fid mapping. Used by container
// reset before refetching the remote state.
func (fs *FeatureStore) ClearAll(tx *sql.Tx) error {
	if _, err := tx.Exec(`DELETE FROM ngw_features_metadata`); err != nil {
		return fmt.Errorf("failed to clear fid mappings: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM features`); err != nil {
		return fmt.Errorf("failed to clear features: %w", err)
	}
	return nil
}

// Count returns the number of live features.
func (fs *FeatureStore) Count(q Queryer) (int64, error) {
	var n int64
	if err := q.QueryRow(`SELECT COUNT(*) FROM features`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count features: %w", err)
	}
	return n, nil
}

// CreateMapping inserts the fid mapping row for a new local feature. The
// remote fid stays unset until the first successful upload.
func (fs *FeatureStore) CreateMapping(tx *sql.Tx, fid domain.FeatureID) error {
	_, err := tx.Exec(`INSERT INTO ngw_features_metadata (fid, ngw_fid) VALUES (?, NULL)`, fid)
	if err != nil {
		return fmt.Errorf("failed to create fid mapping for %d: %w", fid, err)
	}
	return nil
}

// SetNgwFID associates a local feature with its remote fid.
func (fs *FeatureStore) SetNgwFID(tx *sql.Tx, fid, ngwFID domain.FeatureID) error {
	res, err := tx.Exec(`UPDATE ngw_features_metadata SET ngw_fid = ? WHERE fid = ?`, ngwFID, fid)
	if err != nil {
		return fmt.Errorf("failed to set remote fid for %d: %w", fid, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		_, err = tx.Exec(`INSERT INTO ngw_features_metadata (fid, ngw_fid) VALUES (?, ?)`, fid, ngwFID)
		if err != nil {
			return fmt.Errorf("failed to insert fid mapping %d -> %d: %w", fid, ngwFID, err)
		}
	}
	return nil
}

// ClearNgwFID detaches a local feature from its remote fid, returning it to
// the not-yet-synced state.
func (fs *FeatureStore) ClearNgwFID(tx *sql.Tx, fid domain.FeatureID) error {
	_, err := tx.Exec(`UPDATE ngw_features_metadata SET ngw_fid = NULL WHERE fid = ?`, fid)
	if err != nil {
		return fmt.Errorf("failed to clear remote fid for %d: %w", fid, err)
	}
	return nil
}

// NgwFID returns the remote fid mapped to a local fid, or (0, false) if the
// feature has not been uploaded yet.
func (fs *FeatureStore) NgwFID(q Queryer, fid domain.FeatureID) (domain.FeatureID, bool, error) {
	var ngwFID sql.NullInt64
	err := q.QueryRow(`SELECT ngw_fid FROM ngw_features_metadata WHERE fid = ?`, fid).Scan(&ngwFID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read fid mapping for %d: %w", fid, err)
	}
	if !ngwFID.Valid {
		return 0, false, nil
	}
	return domain.FeatureID(ngwFID.Int64), true, nil
}

// LocalFID returns the local fid mapped to a remote fid.
func (fs *FeatureStore) LocalFID(q Queryer, ngwFID domain.FeatureID) (domain.FeatureID, bool, error) {
	var fid int64
	err := q.QueryRow(`SELECT fid FROM ngw_features_metadata WHERE ngw_fid = ?`, ngwFID).Scan(&fid)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read fid mapping for remote %d: %w", ngwFID, err)
	}
	return domain.FeatureID(fid), true, nil
}

// DeleteMapping drops the fid mapping row.
func (fs *FeatureStore) DeleteMapping(tx *sql.Tx, fid domain.FeatureID) error {
	if _, err := tx.Exec(`DELETE FROM ngw_features_metadata WHERE fid = ?`, fid); err != nil {
		return fmt.Errorf("failed to delete fid mapping for %d: %w", fid, err)
	}
	return nil
}
