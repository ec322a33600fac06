// Package resolve settles conflicts between local and remote edits: it
// builds the per-conflict resolution state the UI works with, converts the
// user's choices into resolution records, and computes the residual
// change-log mutations and the final merged action list.
package resolve

import (
	"fmt"

	"github.com/layersync/layersync/internal/domain"
)

// Item is the mutable resolution state for one conflict. LocalFeature is the
// feature as local edits left it, RemoteFeature is what the feature would
// look like if only the remote edit had happened, and ResultFeature is the
// outcome being assembled (nil when deletion wins). An item starts in the
// "undecided merge" state: conflicting fields are nulled out and geometry is
// cleared when both sides changed it.
type Item struct {
	Conflict domain.Conflict

	// LocalFID is the container-side fid, 0 when the feature is locally
	// deleted.
	LocalFID domain.FeatureID

	LocalFeature  *domain.Feature
	RemoteFeature *domain.Feature
	ResultFeature *domain.Feature

	// ChangedFields is the subset of conflicting fields resolved so far.
	ChangedFields map[domain.FieldID]bool
	// IsGeometryChanged is true once the geometry dispute has been decided.
	IsGeometryChanged bool
	// IsResolved is derived by updateState: every conflicting field decided
	// and, if geometry conflicts, geometry decided too.
	IsResolved bool
}

// SetField records the user's decision for one disputed field.
func (it *Item) SetField(id domain.FieldID, value interface{}) error {
	if !it.Conflict.IsUpdateUpdate() {
		return fmt.Errorf("field-level resolution needs an update/update conflict: %w", domain.ErrUnsupportedConflict)
	}
	if !it.isConflicting(id) {
		return fmt.Errorf("field %d is not disputed in this conflict", id)
	}
	if it.ResultFeature == nil {
		return fmt.Errorf("conflict for feature %d has no result to edit", it.Conflict.FID)
	}

	it.ResultFeature.Fields[id] = value
	it.ChangedFields[id] = true
	it.updateState()
	return nil
}

// SetGeometry records the user's decision for the disputed geometry.
func (it *Item) SetGeometry(geom string) error {
	if !it.Conflict.IsUpdateUpdate() {
		return fmt.Errorf("geometry resolution needs an update/update conflict: %w", domain.ErrUnsupportedConflict)
	}
	if !it.Conflict.HasGeometryConflict {
		return fmt.Errorf("geometry is not disputed in this conflict")
	}
	if it.ResultFeature == nil {
		return fmt.Errorf("conflict for feature %d has no result to edit", it.Conflict.FID)
	}

	it.ResultFeature.Geom = geom
	it.IsGeometryChanged = true
	it.updateState()
	return nil
}

// ChooseLocal resolves the whole conflict in favor of the local side.
func (it *Item) ChooseLocal() {
	it.ResultFeature = it.LocalFeature.Clone()
	it.markAllDecided()
}

// ChooseRemote resolves the whole conflict in favor of the remote side.
func (it *Item) ChooseRemote() {
	it.ResultFeature = it.RemoteFeature.Clone()
	it.markAllDecided()
}

func (it *Item) markAllDecided() {
	it.ChangedFields = make(map[domain.FieldID]bool, len(it.Conflict.ConflictingFields))
	for _, id := range it.Conflict.ConflictingFields {
		it.ChangedFields[id] = true
	}
	it.IsGeometryChanged = it.Conflict.HasGeometryConflict
	it.updateState()
}

// updateState recomputes IsResolved: fully resolved requires every
// conflicting field decided and, when geometry is disputed, an explicit
// geometry decision.
func (it *Item) updateState() {
	for _, id := range it.Conflict.ConflictingFields {
		if !it.ChangedFields[id] {
			it.IsResolved = false
			return
		}
	}
	if it.Conflict.HasGeometryConflict && !it.IsGeometryChanged {
		it.IsResolved = false
		return
	}
	it.IsResolved = true
}

// ResolutionType derives how this item was settled: NoResolution while
// unresolved, Local or Remote when the result equals one side exactly, and
// Custom otherwise.
func (it *Item) ResolutionType() domain.ResolutionType {
	if !it.IsResolved {
		return domain.NoResolution
	}
	if it.ResultFeature == nil {
		// Deletion won: attribute it to whichever side deleted.
		if _, ok := it.Conflict.Local.(domain.FeatureDelete); ok {
			return domain.ResolutionLocal
		}
		return domain.ResolutionRemote
	}
	if it.LocalFeature != nil && it.ResultFeature.Equal(it.LocalFeature) {
		return domain.ResolutionLocal
	}
	if it.RemoteFeature != nil && it.ResultFeature.Equal(it.RemoteFeature) {
		return domain.ResolutionRemote
	}
	return domain.ResolutionCustom
}

func (it *Item) isConflicting(id domain.FieldID) bool {
	for _, c := range it.Conflict.ConflictingFields {
		if c == id {
			return true
		}
	}
	return false
}
