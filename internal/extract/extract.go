// Package extract reads the local change log and produces the outbound
// action list: everything that changed locally since the last sync.
package extract

import (
	"fmt"

	"github.com/layersync/layersync/internal/domain"
	"github.com/layersync/layersync/internal/store"
)

// Extractor builds outbound actions from a container's change log.
type Extractor struct {
	store *store.Store
}

// New creates an Extractor over a container store.
func New(s *store.Store) *Extractor {
	return &Extractor{store: s}
}

// Actions returns the pending local changes as an ordered action list:
// creates first, then deletes, then updates. Creates carry the local fid
// (the server assigns the remote id); deletes and updates carry the remote
// fid and only the fields/geometries that have a backup row, with their
// current values.
func (e *Extractor) Actions(q store.Queryer, meta *domain.ContainerMeta) ([]domain.Action, error) {
	var actions []domain.Action

	creates, err := e.creates(q, meta)
	if err != nil {
		return nil, err
	}
	actions = append(actions, creates...)

	deletes, err := e.deletes(q)
	if err != nil {
		return nil, err
	}
	actions = append(actions, deletes...)

	updates, err := e.updates(q, meta)
	if err != nil {
		return nil, err
	}
	actions = append(actions, updates...)

	return actions, nil
}

func (e *Extractor) creates(q store.Queryer, meta *domain.ContainerMeta) ([]domain.Action, error) {
	fids, err := e.store.Changes.AddedFIDs(q)
	if err != nil {
		return nil, err
	}

	var actions []domain.Action
	for _, fid := range fids {
		feature, err := e.store.Features.Get(q, fid)
		if err != nil {
			return nil, err
		}
		if feature == nil {
			return nil, fmt.Errorf("added feature %d has no row in the feature table", fid)
		}

		fields := make([]domain.FieldValue, 0, len(meta.Fields))
		for _, fm := range meta.Fields {
			fields = append(fields, domain.FieldValue{ID: fm.NgwID, Value: feature.Fields[fm.NgwID]})
		}
		actions = append(actions, domain.FeatureCreate{FID: fid, Fields: fields, Geom: feature.Geom})
	}
	return actions, nil
}

func (e *Extractor) deletes(q store.Queryer) ([]domain.Action, error) {
	fids, err := e.store.Changes.RemovedFIDs(q)
	if err != nil {
		return nil, err
	}

	var actions []domain.Action
	for _, fid := range fids {
		ngwFID, ok, err := e.store.Features.NgwFID(q, fid)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.NewSyncError(domain.KindInvalidAction, domain.ErrFidNotMapped,
				"removed feature %d was never uploaded", fid)
		}
		actions = append(actions, domain.FeatureDelete{FID: ngwFID})
	}
	return actions, nil
}

func (e *Extractor) updates(q store.Queryer, meta *domain.ContainerMeta) ([]domain.Action, error) {
	attrFIDs, err := e.store.Changes.UpdatedAttributeFIDs(q)
	if err != nil {
		return nil, err
	}
	geomFIDs, err := e.store.Changes.UpdatedGeometryFIDs(q)
	if err != nil {
		return nil, err
	}

	// Merge the two dirty sets, preserving fid order.
	seen := make(map[domain.FeatureID]bool)
	var fids []domain.FeatureID
	for _, lists := range [][]domain.FeatureID{attrFIDs, geomFIDs} {
		for _, fid := range lists {
			if !seen[fid] {
				seen[fid] = true
				fids = append(fids, fid)
			}
		}
	}

	var actions []domain.Action
	for _, fid := range fids {
		feature, err := e.store.Features.Get(q, fid)
		if err != nil {
			return nil, err
		}
		if feature == nil {
			return nil, fmt.Errorf("updated feature %d has no row in the feature table", fid)
		}

		ngwFID, ok, err := e.store.Features.NgwFID(q, fid)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.NewSyncError(domain.KindInvalidAction, domain.ErrFidNotMapped,
				"updated feature %d was never uploaded", fid)
		}

		// Only backed-up fields are dirty, and only the current value is
		// sent: the backup is the pre-change state, not the payload.
		attrs, err := e.store.Changes.UpdatedAttributes(q, fid)
		if err != nil {
			return nil, err
		}
		var fields []domain.FieldValue
		for _, attr := range attrs {
			fm, ok := meta.FieldByAttribute(attr)
			if !ok {
				return nil, fmt.Errorf("change log references unknown attribute %d of feature %d", attr, fid)
			}
			fields = append(fields, domain.FieldValue{ID: fm.NgwID, Value: feature.Fields[fm.NgwID]})
		}

		var geom *string
		if _, dirty, err := e.store.Changes.GeometryBackup(q, fid); err != nil {
			return nil, err
		} else if dirty {
			g := feature.Geom
			geom = &g
		}

		actions = append(actions, domain.FeatureUpdate{FID: ngwFID, Fields: fields, Geom: geom})
	}
	return actions, nil
}
