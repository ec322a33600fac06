package store

import (
	"fmt"

	"github.com/layersync/layersync/internal/domain"
)

// PreSyncSnapshot reconstructs a live feature as of the last sync by undoing
// its pending attribute and geometry edits with the backup tables. Features
// without pending edits come back unchanged.
func (s *Store) PreSyncSnapshot(q Queryer, meta *domain.ContainerMeta, fid domain.FeatureID) (*domain.Feature, error) {
	current, err := s.Features.Get(q, fid)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("feature %d does not exist", fid)
	}

	snapshot := current.Clone()

	attrs, err := s.Changes.UpdatedAttributes(q, fid)
	if err != nil {
		return nil, err
	}
	for _, attr := range attrs {
		fm, ok := meta.FieldByAttribute(attr)
		if !ok {
			return nil, fmt.Errorf("backup references unknown attribute %d of feature %d", attr, fid)
		}
		value, _, err := s.Changes.AttributeBackup(q, fid, attr)
		if err != nil {
			return nil, err
		}
		snapshot.Fields[fm.NgwID] = value
	}

	if geom, dirty, err := s.Changes.GeometryBackup(q, fid); err != nil {
		return nil, err
	} else if dirty {
		snapshot.Geom = geom
	}

	return snapshot, nil
}
