package sync

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/layersync/layersync/internal/codec"
	"github.com/layersync/layersync/internal/db"
	"github.com/layersync/layersync/internal/domain"
	"github.com/layersync/layersync/internal/events"
	"github.com/layersync/layersync/internal/ngw"
	"github.com/layersync/layersync/internal/store"
)

// InitContainer creates a fresh container at path from the remote resource:
// schema, versioning state, and the full current feature set. The returned
// store owns an open database handle; the caller closes it.
func InitContainer(ctx context.Context, path string, client *ngw.Client, connectionID string, resourceID int64) (*store.Store, error) {
	layer, err := client.Layer(ctx, resourceID)
	if err != nil {
		return nil, domain.NewSyncError(domain.KindTransport, err, "failed to fetch remote layer description")
	}
	items, err := client.Features(ctx, resourceID)
	if err != nil {
		return nil, domain.NewSyncError(domain.KindTransport, err, "failed to download features")
	}

	database, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, &domain.ContainerError{Path: path, Message: "failed to migrate container schema", Err: err}
	}
	s := store.New(database)

	now := time.Now()
	meta := &domain.ContainerMeta{
		ContainerVersion: domain.MinSupportedContainerVersion,
		ConnectionID:     connectionID,
		InstanceID:       uuid.NewString(),
		ResourceID:       resourceID,
		Epoch:            layer.Epoch,
		Version:          layer.Version,
		SyncDate:         &now,
		IsVersioned:      layer.Versioned,
		GeometryType:     layer.GeometryType,
		FeaturesCount:    int64(len(items)),
		Fields:           fieldsFromRemote(layer),
	}

	writer := events.NewWriter(database.DB)
	err = s.WithTx(func(tx *sql.Tx) error {
		if err := s.Meta.Init(tx, meta); err != nil {
			return err
		}
		if err := insertRemoteFeatures(tx, s, meta, items); err != nil {
			return err
		}
		return writer.LogContainerCreated(tx, resourceID, len(items))
	})
	if err != nil {
		database.Close()
		return nil, err
	}
	return s, nil
}

// Reset destructively rebuilds the container from the current remote state:
// the change log and all local features are dropped, the schema is refetched,
// and the feature set is downloaded again. This is the standard remediation
// for the structural-drift error classes.
func (e *Engine) Reset(ctx context.Context, reason string) error {
	unlock := lockContainer(e.store.DB().Path())
	defer unlock()

	meta, err := e.store.Meta.Read(e.store.DB())
	if err != nil {
		return err
	}

	layer, err := e.client.Layer(ctx, meta.ResourceID)
	if err != nil {
		return domain.NewSyncError(domain.KindTransport, err, "failed to fetch remote layer description")
	}
	items, err := e.client.Features(ctx, meta.ResourceID)
	if err != nil {
		return domain.NewSyncError(domain.KindTransport, err, "failed to download features")
	}

	now := time.Now()
	fresh := &domain.ContainerMeta{
		ContainerVersion: meta.ContainerVersion,
		ConnectionID:     meta.ConnectionID,
		InstanceID:       meta.InstanceID,
		ResourceID:       meta.ResourceID,
		Epoch:            layer.Epoch,
		Version:          layer.Version,
		SyncDate:         &now,
		IsVersioned:      layer.Versioned,
		GeometryType:     layer.GeometryType,
		FeaturesCount:    int64(len(items)),
		Fields:           fieldsFromRemote(layer),
	}

	return e.store.WithTx(func(tx *sql.Tx) error {
		if err := e.store.Changes.Clear(tx); err != nil {
			return err
		}
		if err := e.store.Features.ClearAll(tx); err != nil {
			return err
		}
		if err := e.store.Meta.ReplaceSchema(tx, fresh); err != nil {
			return err
		}
		if err := insertRemoteFeatures(tx, e.store, fresh, items); err != nil {
			return err
		}
		return e.events.LogReset(tx, reason)
	})
}

func fieldsFromRemote(layer *ngw.RemoteLayer) []domain.FieldMeta {
	fields := make([]domain.FieldMeta, 0, len(layer.Fields))
	for i, rf := range layer.Fields {
		fields = append(fields, domain.FieldMeta{
			NgwID:       domain.FieldID(rf.ID),
			Attribute:   i,
			Keyname:     rf.Keyname,
			Datatype:    rf.Datatype,
			DisplayName: rf.DisplayName,
			IsLabel:     rf.LabelField,
		})
	}
	return fields
}

// insertRemoteFeatures populates the feature table from a server listing.
// The server lists geometry as WKT; versioned containers re-encode it so the
// stored form always matches the container's versioning encoding.
func insertRemoteFeatures(tx *sql.Tx, s *store.Store, meta *domain.ContainerMeta, items []ngw.FeatureItem) error {
	byKeyname := make(map[string]domain.FieldID, len(meta.Fields))
	for _, fm := range meta.Fields {
		byKeyname[fm.Keyname] = fm.NgwID
	}

	for _, item := range items {
		fields := make(map[domain.FieldID]interface{}, len(item.Fields))
		for keyname, value := range item.Fields {
			id, ok := byKeyname[keyname]
			if !ok {
				return fmt.Errorf("feature %d carries unknown field %q", item.ID, keyname)
			}
			fields[id] = value
		}

		geom := item.Geom
		if meta.IsVersioned && geom != "" {
			g, err := codec.DeserializeGeometry(geom, false)
			if err != nil {
				return fmt.Errorf("feature %d has invalid geometry: %w", item.ID, err)
			}
			encoded, err := codec.SerializeGeometry(g, true)
			if err != nil {
				return fmt.Errorf("feature %d geometry re-encode failed: %w", item.ID, err)
			}
			geom = encoded
		}

		fid, err := s.Features.Insert(tx, &domain.Feature{Fields: fields, Geom: geom})
		if err != nil {
			return err
		}
		if err := s.Features.SetNgwFID(tx, fid, domain.FeatureID(item.ID)); err != nil {
			return err
		}
	}
	return nil
}
