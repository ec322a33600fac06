package sync

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/layersync/layersync/internal/domain"
	"github.com/layersync/layersync/internal/edit"
	"github.com/layersync/layersync/internal/resolve"
	"github.com/layersync/layersync/internal/testutil"
)

// conflictedFixture builds a container with one disputed feature (local and
// remote both edited field 10 of remote fid 100) and one clean remote update,
// plus a server presenting that delta at target version 9.
func conflictedFixture(t *testing.T) (*Engine, *fakeNGW, domain.FeatureID) {
	t.Helper()

	s := testutil.TempContainer(t)
	disputedFID := testutil.InsertSyncedFeature(t, s, 100,
		map[domain.FieldID]interface{}{10: "base", 11: "v"}, "POINT (0 0)")
	testutil.InsertSyncedFeature(t, s, 101,
		map[domain.FieldID]interface{}{10: "other", 11: "v"}, "POINT (1 1)")

	testutil.AssertNoError(t, edit.New(s).SetField(disputedFID, 10, "local-name"))

	f := newFakeNGW(t)
	f.serveLayer(layerJSON(true, 1, 9, "POINT"))
	f.serveDelta(9, []domain.Action{
		domain.FeatureUpdate{FID: 100, Fields: []domain.FieldValue{fv(10, "remote-name")}},
		domain.FeatureUpdate{FID: 101, Fields: []domain.FieldValue{fv(11, "clean")}},
	})

	return NewEngine(s, f.client()), f, disputedFID
}

func TestResolveAppliesChoices(t *testing.T) {
	engine, _, disputedFID := conflictedFixture(t)
	s := engine.store

	res, err := engine.Resolve(context.Background(), func(items []*resolve.Item) error {
		for _, it := range items {
			it.ChooseRemote()
		}
		return nil
	})
	testutil.AssertNoError(t, err)

	if res.State != StateSynced || res.Version != 9 {
		t.Fatalf("Result = %+v", res)
	}

	disputed, err := s.Features.Get(s.DB(), disputedFID)
	testutil.AssertNoError(t, err)
	if disputed.Fields[10] != "remote-name" {
		t.Fatalf("Disputed field = %v, want the remote value", disputed.Fields[10])
	}

	// Choosing remote settles the local edit: the backup is gone and nothing
	// is pending for upload.
	_, dirty, err := s.Changes.AttributeBackup(s.DB(), disputedFID, 0)
	testutil.AssertNoError(t, err)
	if dirty {
		t.Fatal("Backup should be dropped after choosing remote")
	}
	pending, err := s.Changes.HasPending(s.DB())
	testutil.AssertNoError(t, err)
	if pending {
		t.Fatal("No changes should be pending after full remote resolution")
	}

	meta, err := s.Meta.Read(s.DB())
	testutil.AssertNoError(t, err)
	if meta.Version != 9 {
		t.Fatalf("Container version = %d, want 9 after resolution", meta.Version)
	}
}

func TestResolveLocalKeepsEditPending(t *testing.T) {
	engine, _, disputedFID := conflictedFixture(t)
	s := engine.store

	res, err := engine.Resolve(context.Background(), func(items []*resolve.Item) error {
		for _, it := range items {
			it.ChooseLocal()
		}
		return nil
	})
	testutil.AssertNoError(t, err)
	if res.State != StateSynced || res.Version != 9 {
		t.Fatalf("Result = %+v", res)
	}

	// The local value survives and stays dirty for the next upload.
	disputed, err := s.Features.Get(s.DB(), disputedFID)
	testutil.AssertNoError(t, err)
	if disputed.Fields[10] != "local-name" {
		t.Fatalf("Disputed field = %v, want the local value", disputed.Fields[10])
	}
	_, dirty, err := s.Changes.AttributeBackup(s.DB(), disputedFID, 0)
	testutil.AssertNoError(t, err)
	if !dirty {
		t.Fatal("Local choice must keep the edit pending for upload")
	}
}

func TestResolveIncompleteFailsClosed(t *testing.T) {
	engine, _, disputedFID := conflictedFixture(t)
	s := engine.store

	_, err := engine.Resolve(context.Background(), func(items []*resolve.Item) error {
		// Decide nothing.
		return nil
	})
	var se *domain.SyncError
	if !errors.As(err, &se) || se.Kind != domain.KindConflictsNotResolved {
		t.Fatalf("Resolve = %v, want conflicts-not-resolved", err)
	}

	// Nothing was applied and the version did not move.
	meta, err := s.Meta.Read(s.DB())
	testutil.AssertNoError(t, err)
	if meta.Version != 5 {
		t.Fatalf("Container version = %d, want untouched 5", meta.Version)
	}
	disputed, err := s.Features.Get(s.DB(), disputedFID)
	testutil.AssertNoError(t, err)
	if disputed.Fields[10] != "local-name" {
		t.Fatalf("Disputed field = %v, local edit must survive", disputed.Fields[10])
	}
	_, dirty, err := s.Changes.AttributeBackup(s.DB(), disputedFID, 0)
	testutil.AssertNoError(t, err)
	if !dirty {
		t.Fatal("The local edit must stay pending")
	}
}

func TestResolveAfterCleanCreateInConflictedDelta(t *testing.T) {
	s := testutil.TempContainer(t)
	disputedFID := testutil.InsertSyncedFeature(t, s, 100,
		map[domain.FieldID]interface{}{10: "base", 11: "v"}, "POINT (0 0)")
	testutil.AssertNoError(t, edit.New(s).SetField(disputedFID, 10, "local-name"))

	f := newFakeNGW(t)
	f.serveLayer(layerJSON(true, 1, 9, "POINT"))
	f.serveDelta(9, []domain.Action{
		domain.FeatureUpdate{FID: 100, Fields: []domain.FieldValue{fv(10, "remote-name")}},
		domain.FeatureCreate{FID: 201, Fields: []domain.FieldValue{fv(10, "incoming"), fv(11, "x")}, Geom: "POINT (2 2)"},
	})

	engine := NewEngine(s, f.client())
	res, err := engine.Sync(context.Background())
	testutil.AssertNoError(t, err)
	if res.State != StateConflicted {
		t.Fatalf("State = %s, want conflicted", res.State)
	}

	// The clean create landed during the conflicted attempt. The held version
	// means resolution refetches the same delta and sees that create again.
	createdFID, ok, err := s.Features.LocalFID(s.DB(), 201)
	testutil.AssertNoError(t, err)
	if !ok {
		t.Fatal("Clean create not applied during the conflicted sync")
	}

	res, err = engine.Resolve(context.Background(), func(items []*resolve.Item) error {
		for _, it := range items {
			it.ChooseLocal()
		}
		return nil
	})
	testutil.AssertNoError(t, err)
	if res.State != StateSynced || res.Version != 9 {
		t.Fatalf("Result = %+v", res)
	}

	// The reapplied create settled onto the same row instead of duplicating.
	again, ok, err := s.Features.LocalFID(s.DB(), 201)
	testutil.AssertNoError(t, err)
	if !ok || again != createdFID {
		t.Fatalf("Mapping after resolve = %d (ok=%v), want %d", again, ok, createdFID)
	}
	count, err := s.Features.Count(s.DB())
	testutil.AssertNoError(t, err)
	if count != 2 {
		t.Fatalf("Count = %d, want the disputed feature plus the created one", count)
	}
	created, err := s.Features.Get(s.DB(), again)
	testutil.AssertNoError(t, err)
	if created.Fields[10] != "incoming" {
		t.Fatalf("Created feature = %+v", created.Fields)
	}
}

func TestResolveChooserErrorAborts(t *testing.T) {
	engine, _, _ := conflictedFixture(t)

	wantErr := errors.New("user cancelled")
	_, err := engine.Resolve(context.Background(), func(items []*resolve.Item) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Resolve = %v, want the chooser's error", err)
	}
}

func TestConflictsListsWithoutApplying(t *testing.T) {
	engine, _, disputedFID := conflictedFixture(t)
	s := engine.store

	items, err := engine.Conflicts(context.Background())
	testutil.AssertNoError(t, err)
	if len(items) != 1 {
		t.Fatalf("Conflicts = %d items, want 1", len(items))
	}
	if items[0].Conflict.FID != 100 {
		t.Fatalf("Conflict fid = %d", items[0].Conflict.FID)
	}

	// Listing is read-only.
	meta, err := s.Meta.Read(s.DB())
	testutil.AssertNoError(t, err)
	if meta.Version != 5 {
		t.Fatalf("Container version = %d, listing must not sync", meta.Version)
	}
	disputed, err := s.Features.Get(s.DB(), disputedFID)
	testutil.AssertNoError(t, err)
	if disputed.Fields[10] != "local-name" {
		t.Fatalf("Disputed field = %v, listing must not apply", disputed.Fields[10])
	}
}

func TestResolveRejectsNonVersioned(t *testing.T) {
	meta := testutil.TestMeta()
	meta.IsVersioned = false
	meta.Epoch = 0
	meta.Version = 0
	s := testutil.TempContainerWithMeta(t, meta)

	f := newFakeNGW(t)
	f.serveLayer(layerJSON(false, 0, 0, "POINT"))
	f.mux.HandleFunc("/api/resource/42/feature_count", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"total_count": 0}`)
	})

	_, err := NewEngine(s, f.client()).Resolve(context.Background(), func(items []*resolve.Item) error {
		return nil
	})
	var se *domain.SyncError
	if !errors.As(err, &se) || se.Kind != domain.KindInvalidAction {
		t.Fatalf("Resolve = %v, want invalid-action", err)
	}
}
