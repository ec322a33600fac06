// Package domain defines the core types of the detached-editing engine:
// feature actions, conflicts, resolutions, and container metadata.
package domain

import (
	"time"
)

// FeatureID identifies a feature. Two namespaces exist: local fids are row
// ids in the container's feature table, remote fids are ids assigned by the
// server. The ngw_features_metadata table maps between them; a local-only
// feature has no remote fid until its first successful upload.
type FeatureID int64

// FieldID identifies a field on the remote layer. It is stable across the
// local and remote representations and distinct from the local storage
// attribute index (see FieldMeta.Attribute).
type FieldID int64

// FieldValue is one (field id, value) pair as carried by actions.
// Value holds a JSON-compatible scalar: string, float64, bool, or nil.
type FieldValue struct {
	ID    FieldID
	Value interface{}
}

// Feature is an in-memory snapshot of one feature's state. Geom holds the
// serialized geometry (WKT or base64-WKB depending on the container's
// versioning flag); the empty string means "no geometry".
type Feature struct {
	FID    FeatureID
	Fields map[FieldID]interface{}
	Geom   string
}

// Clone returns a deep copy of the feature.
func (f *Feature) Clone() *Feature {
	if f == nil {
		return nil
	}
	fields := make(map[FieldID]interface{}, len(f.Fields))
	for k, v := range f.Fields {
		fields[k] = v
	}
	return &Feature{FID: f.FID, Fields: fields, Geom: f.Geom}
}

// Equal reports whether two feature snapshots have identical fields and
// geometry. FIDs are not compared: the same feature carries different ids
// in the local and remote namespaces.
func (f *Feature) Equal(other *Feature) bool {
	if f == nil || other == nil {
		return f == nil && other == nil
	}
	if f.Geom != other.Geom || len(f.Fields) != len(other.Fields) {
		return false
	}
	for k, v := range f.Fields {
		ov, ok := other.Fields[k]
		if !ok || !ValueEqual(v, ov) {
			return false
		}
	}
	return true
}

// ValueEqual compares two field values. Numeric values are compared as
// float64 because JSON decoding produces float64 for all numbers.
func ValueEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	return a == b
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case FeatureID:
		return float64(n), true
	}
	return 0, false
}

// FieldMeta describes one field of the layer schema and its local storage
// binding (attribute index <-> ngw field id <-> keyname).
type FieldMeta struct {
	NgwID       FieldID `json:"ngw_id"`
	Attribute   int     `json:"attribute"`
	Keyname     string  `json:"keyname"`
	Datatype    string  `json:"datatype"`
	DisplayName string  `json:"display_name"`
	IsLabel     bool    `json:"is_label"`
	LookupTable *int64  `json:"lookup_table,omitempty"`
}

// MinSupportedContainerVersion is the oldest container schema this build can
// synchronize. Older containers must be reset (re-created from the remote).
const MinSupportedContainerVersion = 1

// ContainerMeta is the per-container descriptor. It is read fresh at the
// start of every sync-related operation, never cached across tasks, because
// structural drift must be detected each cycle.
type ContainerMeta struct {
	ContainerVersion int
	ConnectionID     string
	InstanceID       string
	ResourceID       int64
	Epoch            int64
	Version          int64
	SyncDate         *time.Time
	IsVersioned      bool
	GeometryType     string
	FeaturesCount    int64
	Fields           []FieldMeta
}

// FieldByNgwID returns the schema entry for a remote field id.
func (m *ContainerMeta) FieldByNgwID(id FieldID) (FieldMeta, bool) {
	for _, f := range m.Fields {
		if f.NgwID == id {
			return f, true
		}
	}
	return FieldMeta{}, false
}

// FieldByAttribute returns the schema entry for a local attribute index.
func (m *ContainerMeta) FieldByAttribute(attribute int) (FieldMeta, bool) {
	for _, f := range m.Fields {
		if f.Attribute == attribute {
			return f, true
		}
	}
	return FieldMeta{}, false
}
