package resolve

import (
	"fmt"

	"github.com/layersync/layersync/internal/domain"
	"github.com/layersync/layersync/internal/store"
)

// ItemExtractor reconstructs the three candidate feature states of each
// conflict by replaying backups and actions against the container.
type ItemExtractor struct {
	store *store.Store
}

// NewItemExtractor creates an ItemExtractor over a container store.
func NewItemExtractor(s *store.Store) *ItemExtractor {
	return &ItemExtractor{store: s}
}

// Items builds one resolution item per conflict. Only three conflict shapes
// are valid: update/update, delete/update, and update/delete; anything else
// is an invariant violation upstream and fails extraction.
func (ie *ItemExtractor) Items(q store.Queryer, meta *domain.ContainerMeta, conflicts []domain.Conflict) ([]*Item, error) {
	items := make([]*Item, 0, len(conflicts))
	for _, c := range conflicts {
		item, err := ie.item(q, meta, c)
		if err != nil {
			return nil, fmt.Errorf("conflict for feature %d: %w", c.FID, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func (ie *ItemExtractor) item(q store.Queryer, meta *domain.ContainerMeta, c domain.Conflict) (*Item, error) {
	localFID, mapped, err := ie.store.Features.LocalFID(q, c.FID)
	if err != nil {
		return nil, err
	}
	if !mapped {
		return nil, fmt.Errorf("%w", domain.ErrFidNotMapped)
	}

	switch c.Local.(type) {
	case domain.FeatureUpdate:
		switch c.Remote.(type) {
		case domain.FeatureUpdate:
			return ie.updateUpdate(q, meta, c, localFID)
		case domain.FeatureDelete:
			return ie.updateDelete(q, meta, c, localFID)
		}
	case domain.FeatureDelete:
		if _, ok := c.Remote.(domain.FeatureUpdate); ok {
			return ie.deleteUpdate(q, c, localFID)
		}
	}
	return nil, domain.ErrUnsupportedConflict
}

// updateUpdate reconstructs both-sides-edited state: local is the live row,
// remote is the pre-sync snapshot with the remote action overlaid, and the
// default result is the remote overlay with every disputed field nulled out
// (and geometry cleared when both sides changed it), the undecided merge
// the UI starts from, not a final answer.
func (ie *ItemExtractor) updateUpdate(q store.Queryer, meta *domain.ContainerMeta, c domain.Conflict, localFID domain.FeatureID) (*Item, error) {
	local, err := ie.store.Features.Get(q, localFID)
	if err != nil {
		return nil, err
	}
	if local == nil {
		return nil, fmt.Errorf("locally updated feature %d has no row", localFID)
	}

	base, err := ie.store.PreSyncSnapshot(q, meta, localFID)
	if err != nil {
		return nil, err
	}

	remoteUpd := c.Remote.(domain.FeatureUpdate)
	remote := overlayUpdate(base, remoteUpd)

	result := remote.Clone()
	for _, id := range c.ConflictingFields {
		result.Fields[id] = nil
	}
	if c.HasGeometryConflict {
		result.Geom = ""
	}

	return &Item{
		Conflict:      c,
		LocalFID:      localFID,
		LocalFeature:  local,
		RemoteFeature: remote,
		ResultFeature: result,
		ChangedFields: make(map[domain.FieldID]bool),
	}, nil
}

// deleteUpdate covers a local delete against a remote update: the feature no
// longer exists locally, so the local candidate is nil and there is no
// default merge; the user must pick a side. The remote candidate is rebuilt
// from the delete backup.
func (ie *ItemExtractor) deleteUpdate(q store.Queryer, c domain.Conflict, localFID domain.FeatureID) (*Item, error) {
	backup, err := ie.store.Changes.RemovedBackup(q, localFID)
	if err != nil {
		return nil, err
	}
	if backup == nil {
		return nil, fmt.Errorf("locally deleted feature %d has no delete backup", localFID)
	}

	remote := overlayUpdate(backup, c.Remote.(domain.FeatureUpdate))

	return &Item{
		Conflict:      c,
		LocalFID:      localFID,
		LocalFeature:  nil,
		RemoteFeature: remote,
		ResultFeature: nil,
		ChangedFields: make(map[domain.FieldID]bool),
	}, nil
}

// updateDelete covers a local update against a remote delete: the remote
// candidate is nil (the feature is gone on the server) and again there is no
// default merge.
func (ie *ItemExtractor) updateDelete(q store.Queryer, meta *domain.ContainerMeta, c domain.Conflict, localFID domain.FeatureID) (*Item, error) {
	local, err := ie.store.Features.Get(q, localFID)
	if err != nil {
		return nil, err
	}
	if local == nil {
		return nil, fmt.Errorf("locally updated feature %d has no row", localFID)
	}

	return &Item{
		Conflict:      c,
		LocalFID:      localFID,
		LocalFeature:  local,
		RemoteFeature: nil,
		ResultFeature: nil,
		ChangedFields: make(map[domain.FieldID]bool),
	}, nil
}

// overlayUpdate applies an update action to a feature snapshot, returning a
// new snapshot.
func overlayUpdate(base *domain.Feature, upd domain.FeatureUpdate) *domain.Feature {
	out := base.Clone()
	for _, fv := range upd.Fields {
		out.Fields[fv.ID] = fv.Value
	}
	if upd.Geom != nil {
		out.Geom = *upd.Geom
	}
	return out
}
