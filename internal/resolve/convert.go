package resolve

import (
	"fmt"

	"github.com/layersync/layersync/internal/domain"
)

// ToResolution converts a settled item into its immutable resolution record.
// The type is derived from what the user actually assembled, not from which
// buttons were pressed: a field-by-field merge that happens to reproduce one
// side collapses to Local or Remote. Custom resolutions carry the chosen
// values for each disputed field and, when geometry is disputed, the chosen
// geometry.
func ToResolution(it *Item) (domain.Resolution, error) {
	rt := it.ResolutionType()
	res := domain.Resolution{Type: rt, Conflict: it.Conflict}
	if rt != domain.ResolutionCustom {
		return res, nil
	}

	if it.ResultFeature == nil {
		return domain.Resolution{}, fmt.Errorf("custom resolution for feature %d has no result state", it.Conflict.FID)
	}

	res.CustomFields = make([]domain.FieldValue, 0, len(it.Conflict.ConflictingFields))
	for _, id := range it.Conflict.ConflictingFields {
		res.CustomFields = append(res.CustomFields, domain.FieldValue{ID: id, Value: it.ResultFeature.Fields[id]})
	}
	if it.Conflict.HasGeometryConflict {
		geom := it.ResultFeature.Geom
		res.CustomGeom = &geom
	}
	return res, nil
}

// ToResolutions converts a batch of items, requiring every item to be
// settled first. An unsettled item aborts the whole conversion: the resolver
// is all-or-nothing, so handing it a half-decided batch only wastes a sync
// attempt.
func ToResolutions(items []*Item) ([]domain.Resolution, error) {
	resolutions := make([]domain.Resolution, 0, len(items))
	for _, it := range items {
		if !it.IsResolved {
			return nil, fmt.Errorf("conflict for feature %d is not resolved yet", it.Conflict.FID)
		}
		res, err := ToResolution(it)
		if err != nil {
			return nil, err
		}
		resolutions = append(resolutions, res)
	}
	return resolutions, nil
}
