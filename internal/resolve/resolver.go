package resolve

import (
	"database/sql"
	"fmt"

	"github.com/layersync/layersync/internal/domain"
	"github.com/layersync/layersync/internal/store"
)

// Status is the outcome of a resolution batch.
type Status string

const (
	// StatusNotResolved: no conflict in the batch was settled.
	StatusNotResolved Status = "not_resolved"
	// StatusPartiallyResolved: some conflicts settled, some not. Nothing is
	// applied; resolution is all-or-nothing per sync attempt.
	StatusPartiallyResolved Status = "partially_resolved"
	// StatusResolved: every conflict settled; the merged list is usable.
	StatusResolved Status = "resolved"
)

// Resolver turns a batch of resolutions into the final merged action list
// and the residual change-log mutations.
type Resolver struct {
	store *store.Store
}

// NewResolver creates a Resolver over a container store.
func NewResolver(s *store.Store) *Resolver {
	return &Resolver{store: s}
}

// outcome accumulates the in-memory result of resolving one batch.
type outcome struct {
	modified map[domain.FeatureID]domain.Action
	dropped  map[domain.FeatureID]bool
	created  []domain.Action
	ops      []store.Op
}

// Resolve processes one resolution per conflict against the remote action
// list and returns the merged list to apply. Any NoResolution in the batch
// halts processing with an empty merged list: partial application is never
// written to the container. The change-log mutations are assembled purely in
// memory first and persisted as one atomic script only after every
// resolution has been computed; any failure comes back as a
// DetachedEditingError and commits nothing.
func (r *Resolver) Resolve(tx *sql.Tx, meta *domain.ContainerMeta, remoteActions []domain.Action, resolutions []domain.Resolution) (Status, []domain.Action, error) {
	unresolved := 0
	for _, res := range resolutions {
		if res.Type == domain.NoResolution {
			unresolved++
		}
	}
	if unresolved == len(resolutions) && unresolved > 0 {
		return StatusNotResolved, nil, nil
	}
	if unresolved > 0 {
		return StatusPartiallyResolved, nil, nil
	}

	out := &outcome{
		modified: make(map[domain.FeatureID]domain.Action),
		dropped:  make(map[domain.FeatureID]bool),
	}

	for _, res := range resolutions {
		if err := r.resolveOne(tx, meta, res, out); err != nil {
			return StatusNotResolved, nil, domain.WrapDetached(
				fmt.Sprintf("failed to resolve conflict for feature %d", res.Conflict.FID), err)
		}
	}

	merged := assembleMerged(remoteActions, out)

	if err := r.store.Changes.ApplyOps(tx, out.ops); err != nil {
		return StatusNotResolved, nil, domain.WrapDetached("failed to persist resolution state", err)
	}

	return StatusResolved, merged, nil
}

func (r *Resolver) resolveOne(tx *sql.Tx, meta *domain.ContainerMeta, res domain.Resolution, out *outcome) error {
	c := res.Conflict
	localFID, mapped, err := r.store.Features.LocalFID(tx, c.FID)
	if err != nil {
		return err
	}
	if !mapped {
		return domain.ErrFidNotMapped
	}

	localIsDelete := false
	remoteIsDelete := false
	switch c.Local.(type) {
	case domain.FeatureDelete:
		localIsDelete = true
	case domain.FeatureUpdate:
	default:
		return domain.ErrUnsupportedConflict
	}
	switch c.Remote.(type) {
	case domain.FeatureDelete:
		remoteIsDelete = true
	case domain.FeatureUpdate:
	default:
		return domain.ErrUnsupportedConflict
	}
	if localIsDelete && remoteIsDelete {
		// Double deletes never reach the resolver; the deduplicator owns them.
		return domain.ErrUnsupportedConflict
	}

	switch res.Type {
	case domain.ResolutionLocal:
		if localIsDelete {
			return r.resolveLocalOnDeleteUpdate(c, out)
		}
		if remoteIsDelete {
			return r.resolveLocalOnUpdateDelete(tx, c, localFID, out)
		}
		return r.resolveLocalOnUpdateUpdate(c, out)

	case domain.ResolutionRemote:
		if localIsDelete {
			return r.resolveRemoteOnDeleteUpdate(tx, c, localFID, out)
		}
		if remoteIsDelete {
			return r.resolveRemoteOnUpdateDelete(c, localFID, out)
		}
		return r.resolveRemoteOnUpdateUpdate(tx, meta, c, localFID, out)

	case domain.ResolutionCustom:
		// Guard against the invalid shapes explicitly: Custom merges only
		// make sense when both sides are updates.
		if localIsDelete || remoteIsDelete {
			return domain.ErrUnsupportedConflict
		}
		return r.resolveCustom(tx, meta, res, localFID, out)
	}

	return fmt.Errorf("unknown resolution type %q", res.Type)
}

// resolveLocalOnUpdateUpdate keeps the local value of every field both sides
// touched: the remote action is rewritten to drop those fields, and the
// remote geometry change is dropped when both sides changed geometry (the
// local geometry is pushed separately, its dirty flag stays).
func (r *Resolver) resolveLocalOnUpdateUpdate(c domain.Conflict, out *outcome) error {
	remote := c.Remote.(domain.FeatureUpdate)

	kept := make([]domain.FieldValue, 0, len(remote.Fields))
	for _, fv := range remote.Fields {
		if !containsField(c.ConflictingFields, fv.ID) {
			kept = append(kept, fv)
		}
	}

	geom := remote.Geom
	if c.HasGeometryConflict {
		geom = nil
	}

	out.modified[c.FID] = domain.FeatureUpdate{FID: remote.FID, Fields: kept, Geom: geom}
	return nil
}

// resolveRemoteOnUpdateUpdate accepts the remote values: the overridden
// local fields and geometry are no longer locally dirty, so their backup
// rows are dropped and the next upload does not re-push values the server
// already has. The remote action passes through unchanged.
func (r *Resolver) resolveRemoteOnUpdateUpdate(tx *sql.Tx, meta *domain.ContainerMeta, c domain.Conflict, localFID domain.FeatureID, out *outcome) error {
	for _, id := range c.ConflictingFields {
		fm, ok := meta.FieldByNgwID(id)
		if !ok {
			return fmt.Errorf("conflicting field %d is not in the layer schema", id)
		}
		out.ops = append(out.ops, store.Op{Kind: store.OpDropAttributeBackup, FID: localFID, Attribute: fm.Attribute})
	}
	if c.HasGeometryConflict {
		out.ops = append(out.ops, store.Op{Kind: store.OpDropGeometryBackup, FID: localFID})
	}
	return nil
}

// resolveCustom makes the user's chosen values authoritative. Per field: a
// value equal to the remote one means the server already has it, so the
// local dirty flag is dropped; a value equal to the local one stays dirty as
// it was; a genuinely new value is marked dirty for upload. Geometry follows
// the same three branches.
func (r *Resolver) resolveCustom(tx *sql.Tx, meta *domain.ContainerMeta, res domain.Resolution, localFID domain.FeatureID, out *outcome) error {
	c := res.Conflict
	local := c.Local.(domain.FeatureUpdate)
	remote := c.Remote.(domain.FeatureUpdate)

	fields := make([]domain.FieldValue, 0, len(remote.Fields)+len(res.CustomFields))
	decided := make(map[domain.FieldID]bool)

	for _, cf := range res.CustomFields {
		if !containsField(c.ConflictingFields, cf.ID) {
			return fmt.Errorf("custom value for field %d which is not disputed", cf.ID)
		}
		fm, ok := meta.FieldByNgwID(cf.ID)
		if !ok {
			return fmt.Errorf("custom field %d is not in the layer schema", cf.ID)
		}

		remoteValue, _ := domain.FieldValueByID(remote.Fields, cf.ID)
		localValue, _ := domain.FieldValueByID(local.Fields, cf.ID)

		switch {
		case domain.ValueEqual(cf.Value, remoteValue):
			// Remote already has it: not locally dirty anymore.
			out.ops = append(out.ops, store.Op{Kind: store.OpDropAttributeBackup, FID: localFID, Attribute: fm.Attribute})
		case domain.ValueEqual(cf.Value, localValue):
			// Keeps the existing dirty flag.
		default:
			// New value neither side had: dirty for the next upload, with
			// the remote value as its pre-change state.
			out.ops = append(out.ops, store.Op{Kind: store.OpAddAttributeBackup, FID: localFID, Attribute: fm.Attribute, Value: remoteValue})
		}

		fields = append(fields, domain.FieldValue{ID: cf.ID, Value: cf.Value})
		decided[cf.ID] = true
	}

	// Undisputed remote fields apply as-is.
	for _, fv := range remote.Fields {
		if !decided[fv.ID] {
			fields = append(fields, fv)
		}
	}

	geom := remote.Geom
	if c.HasGeometryConflict {
		if res.CustomGeom == nil {
			return fmt.Errorf("geometry is disputed but the resolution carries no geometry")
		}
		chosen := *res.CustomGeom
		switch {
		case remote.Geom != nil && chosen == *remote.Geom:
			out.ops = append(out.ops, store.Op{Kind: store.OpDropGeometryBackup, FID: localFID})
		case local.Geom != nil && chosen == *local.Geom:
			// Keeps the existing dirty flag.
		default:
			var pre string
			if remote.Geom != nil {
				pre = *remote.Geom
			}
			out.ops = append(out.ops, store.Op{Kind: store.OpAddGeometryBackup, FID: localFID, Geometry: pre})
		}
		geom = &chosen
	}

	out.modified[c.FID] = domain.FeatureUpdate{FID: remote.FID, Fields: fields, Geom: geom}
	return nil
}

// resolveLocalOnDeleteUpdate keeps the local deletion against a remote
// update. The remote update is replaced with an emptied update so version
// bookkeeping advances while nothing applies; the fid stays in the removed
// list so the next upload carries the delete to the server.
func (r *Resolver) resolveLocalOnDeleteUpdate(c domain.Conflict, out *outcome) error {
	remote := c.Remote.(domain.FeatureUpdate)
	out.modified[c.FID] = domain.FeatureUpdate{FID: remote.FID}
	return nil
}

// resolveRemoteOnDeleteUpdate revives a locally deleted feature with the
// remote edits: the feature is rebuilt from its delete backup plus the
// remote overlay and re-enters the container as a create, and the delete
// backup and stale mapping row are dropped.
func (r *Resolver) resolveRemoteOnDeleteUpdate(tx *sql.Tx, c domain.Conflict, localFID domain.FeatureID, out *outcome) error {
	backup, err := r.store.Changes.RemovedBackup(tx, localFID)
	if err != nil {
		return err
	}
	if backup == nil {
		return fmt.Errorf("locally deleted feature %d has no delete backup", localFID)
	}

	restored := overlayUpdate(backup, c.Remote.(domain.FeatureUpdate))

	fields := make([]domain.FieldValue, 0, len(restored.Fields))
	for id, v := range restored.Fields {
		fields = append(fields, domain.FieldValue{ID: id, Value: v})
	}
	out.dropped[c.FID] = true
	out.created = append(out.created, domain.FeatureCreate{FID: c.FID, Fields: fields, Geom: restored.Geom})
	out.ops = append(out.ops,
		store.Op{Kind: store.OpDropRemoved, FID: localFID},
		store.Op{Kind: store.OpDeleteMapping, FID: localFID},
	)
	return nil
}

// resolveLocalOnUpdateDelete keeps the locally edited feature against a
// remote delete: the delete is dropped from the inbound list and the
// feature returns to the not-yet-uploaded state (mapping detached, queued
// as a pending creation) so the next upload re-creates it on the server.
// Its field/geometry dirty flags are superseded by the pending create.
func (r *Resolver) resolveLocalOnUpdateDelete(tx *sql.Tx, c domain.Conflict, localFID domain.FeatureID, out *outcome) error {
	out.dropped[c.FID] = true
	out.ops = append(out.ops,
		store.Op{Kind: store.OpDropAllAttributeBackups, FID: localFID},
		store.Op{Kind: store.OpDropGeometryBackup, FID: localFID},
		store.Op{Kind: store.OpClearNgwFID, FID: localFID},
		store.Op{Kind: store.OpMarkAdded, FID: localFID},
	)
	return nil
}

// resolveRemoteOnUpdateDelete accepts the remote delete and discards the
// local edits: their dirty flags are purged and the delete applies
// normally.
func (r *Resolver) resolveRemoteOnUpdateDelete(c domain.Conflict, localFID domain.FeatureID, out *outcome) error {
	out.ops = append(out.ops,
		store.Op{Kind: store.OpDropAllAttributeBackups, FID: localFID},
		store.Op{Kind: store.OpDropGeometryBackup, FID: localFID},
	)
	return nil
}

// assembleMerged builds the final action list: every original remote action
// is substituted when a modified version exists, dropped when marked for
// deletion, otherwise passed through; newly created actions are appended.
func assembleMerged(remoteActions []domain.Action, out *outcome) []domain.Action {
	merged := make([]domain.Action, 0, len(remoteActions)+len(out.created))
	for _, a := range remoteActions {
		fid, ok := domain.ActionFID(a)
		if !ok {
			merged = append(merged, a)
			continue
		}
		if out.dropped[fid] {
			continue
		}
		if m, ok := out.modified[fid]; ok {
			merged = append(merged, m)
			continue
		}
		merged = append(merged, a)
	}
	merged = append(merged, out.created...)
	return merged
}

func containsField(fields []domain.FieldID, id domain.FieldID) bool {
	for _, f := range fields {
		if f == id {
			return true
		}
	}
	return false
}
