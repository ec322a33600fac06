package domain

import (
	"fmt"
	"sort"
)

// Conflict pairs one local pending action with one remote action on the same
// feature. The derived members are computed once by NewConflict; the value is
// treated as immutable afterward so they can never go stale.
type Conflict struct {
	FID    FeatureID
	Local  Action
	Remote Action

	// ConflictingFields is the sorted set of field ids present in both
	// actions' field lists where the remote value differs from the local
	// value. Populated only for update/update pairs.
	ConflictingFields []FieldID

	// HasGeometryConflict is true iff both sides set a new geometry and the
	// two values differ. Populated only for update/update pairs.
	HasGeometryConflict bool
}

// NewConflict builds a conflict from a local and a remote action on the same
// feature and computes the derived members. Field and geometry conflicts are
// meaningful only when both actions are updates; delete/update, update/delete
// and delete/delete pairs never populate them (the dispute there is
// existential, not content-level).
func NewConflict(local, remote Action) (Conflict, error) {
	lfid, ok := ActionFID(local)
	if !ok {
		return Conflict{}, fmt.Errorf("local action %q has no feature id", local.Type())
	}
	rfid, ok := ActionFID(remote)
	if !ok {
		return Conflict{}, fmt.Errorf("remote action %q has no feature id", remote.Type())
	}
	if lfid != rfid {
		return Conflict{}, fmt.Errorf("conflict pairs actions on different features: %d vs %d", lfid, rfid)
	}

	c := Conflict{FID: rfid, Local: local, Remote: remote}

	lu, lok := local.(FeatureUpdate)
	ru, rok := remote.(FeatureUpdate)
	if !lok || !rok {
		return c, nil
	}

	for _, lf := range lu.Fields {
		rv, present := FieldValueByID(ru.Fields, lf.ID)
		if present && !ValueEqual(lf.Value, rv) {
			c.ConflictingFields = append(c.ConflictingFields, lf.ID)
		}
	}
	sort.Slice(c.ConflictingFields, func(i, j int) bool {
		return c.ConflictingFields[i] < c.ConflictingFields[j]
	})

	if lu.Geom != nil && ru.Geom != nil && *lu.Geom != *ru.Geom {
		c.HasGeometryConflict = true
	}

	return c, nil
}

// IsUpdateUpdate reports whether both sides of the conflict are updates,
// the only shape that supports field-level resolution.
func (c Conflict) IsUpdateUpdate() bool {
	_, lok := c.Local.(FeatureUpdate)
	_, rok := c.Remote.(FeatureUpdate)
	return lok && rok
}

// IsDoubleDelete reports whether both sides deleted the feature.
func (c Conflict) IsDoubleDelete() bool {
	_, lok := c.Local.(FeatureDelete)
	_, rok := c.Remote.(FeatureDelete)
	return lok && rok
}

// ResolutionType classifies how a conflict was settled.
type ResolutionType string

const (
	// NoResolution marks a conflict the user has not settled yet.
	NoResolution ResolutionType = "none"
	// ResolutionLocal keeps the local side for every disputed field.
	ResolutionLocal ResolutionType = "local"
	// ResolutionRemote accepts the remote side for every disputed field.
	ResolutionRemote ResolutionType = "remote"
	// ResolutionCustom applies a user-merged state that matches neither side.
	ResolutionCustom ResolutionType = "custom"
)

// Resolution is the immutable decision record for one conflict. CustomFields
// and CustomGeom are meaningful only for ResolutionCustom.
type Resolution struct {
	Type         ResolutionType
	Conflict     Conflict
	CustomFields []FieldValue
	CustomGeom   *string
}
