// Package testutil provides helpers for tests that need a migrated,
// initialized container database.
package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/layersync/layersync/internal/db"
	"github.com/layersync/layersync/internal/domain"
	"github.com/layersync/layersync/internal/store"
)

// TempContainer creates a temporary migrated container database, initialized
// with TestMeta, and returns a store over it.
func TempContainer(t *testing.T) *store.Store {
	t.Helper()
	return TempContainerWithMeta(t, TestMeta())
}

// TempContainerWithMeta is TempContainer with a caller-supplied descriptor.
func TempContainerWithMeta(t *testing.T, meta *domain.ContainerMeta) *store.Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "container.gpkg")
	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test container: %v", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})

	s := store.New(database)
	err = s.WithTx(func(tx *sql.Tx) error {
		return s.Meta.Init(tx, meta)
	})
	if err != nil {
		t.Fatalf("Failed to initialize container metadata: %v", err)
	}

	return s
}

// TestMeta returns the container descriptor used by fixtures: a versioned
// point layer with two fields, NAME (field id 10, attribute 0) and VALUE
// (field id 11, attribute 1).
func TestMeta() *domain.ContainerMeta {
	return &domain.ContainerMeta{
		ContainerVersion: domain.MinSupportedContainerVersion,
		ConnectionID:     "test-connection",
		InstanceID:       uuid.NewString(),
		ResourceID:       42,
		Epoch:            1,
		Version:          5,
		IsVersioned:      true,
		GeometryType:     "POINT",
		Fields: []domain.FieldMeta{
			{NgwID: 10, Attribute: 0, Keyname: "NAME", Datatype: "STRING", DisplayName: "Name"},
			{NgwID: 11, Attribute: 1, Keyname: "VALUE", Datatype: "STRING", DisplayName: "Value"},
		},
	}
}

// InsertSyncedFeature inserts a feature that behaves as already synchronized:
// it has a live row, an fid mapping to the given remote fid, and no change
// log entries. Returns the local fid.
func InsertSyncedFeature(t *testing.T, s *store.Store, ngwFID domain.FeatureID, fields map[domain.FieldID]interface{}, geom string) domain.FeatureID {
	t.Helper()

	var fid domain.FeatureID
	err := s.WithTx(func(tx *sql.Tx) error {
		var err error
		fid, err = s.Features.Insert(tx, &domain.Feature{Fields: fields, Geom: geom})
		if err != nil {
			return err
		}
		return s.Features.SetNgwFID(tx, fid, ngwFID)
	})
	if err != nil {
		t.Fatalf("Failed to insert synced feature: %v", err)
	}
	return fid
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
}
