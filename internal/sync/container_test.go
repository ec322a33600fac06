package sync

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/layersync/layersync/internal/domain"
	"github.com/layersync/layersync/internal/edit"
	"github.com/layersync/layersync/internal/events"
	"github.com/layersync/layersync/internal/testutil"
)

func (f *fakeNGW) serveFeatureList(body string) {
	f.mux.HandleFunc("/api/resource/42/feature/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("geom_format") != "wkt" {
			f.t.Errorf("feature list query = %s", r.URL.RawQuery)
		}
		io.WriteString(w, body)
	})
}

func TestInitContainer(t *testing.T) {
	f := newFakeNGW(t)
	f.serveLayer(layerJSON(true, 1, 9, "POINT"))
	f.serveFeatureList(`[
		{"id": 100, "fields": {"NAME": "alpha", "VALUE": "a"}, "geom": "POINT (1 2)"},
		{"id": 101, "fields": {"NAME": "beta", "VALUE": "b"}, "geom": "POINT (3 4)"}
	]`)

	path := filepath.Join(t.TempDir(), "container.gpkg")
	s, err := InitContainer(context.Background(), path, f.client(), "test-connection", 42)
	testutil.AssertNoError(t, err)
	defer s.DB().Close()

	meta, err := s.Meta.Read(s.DB())
	testutil.AssertNoError(t, err)
	if meta.ResourceID != 42 || meta.Epoch != 1 || meta.Version != 9 || !meta.IsVersioned {
		t.Fatalf("Meta = %+v", meta)
	}
	if meta.FeaturesCount != 2 {
		t.Fatalf("FeaturesCount = %d", meta.FeaturesCount)
	}
	if len(meta.Fields) != 2 || meta.Fields[0].Keyname != "NAME" || meta.Fields[0].Attribute != 0 {
		t.Fatalf("Fields = %+v", meta.Fields)
	}
	if meta.InstanceID == "" {
		t.Fatal("InstanceID not assigned")
	}

	fid, ok, err := s.Features.LocalFID(s.DB(), 100)
	testutil.AssertNoError(t, err)
	if !ok {
		t.Fatal("Downloaded feature has no fid mapping")
	}
	feature, err := s.Features.Get(s.DB(), fid)
	testutil.AssertNoError(t, err)
	if feature.Fields[10] != "alpha" || feature.Fields[11] != "a" {
		t.Fatalf("Feature fields = %+v", feature.Fields)
	}

	// Versioned containers store geometry in the versioning encoding, not the
	// WKT the listing came in.
	if feature.Geom == "" || strings.HasPrefix(feature.Geom, "POINT") {
		t.Fatalf("Geometry not re-encoded: %q", feature.Geom)
	}

	count, err := s.Features.Count(s.DB())
	testutil.AssertNoError(t, err)
	if count != 2 {
		t.Fatalf("Count = %d, want 2", count)
	}

	entries, err := events.NewWriter(s.DB().DB).Recent(1)
	testutil.AssertNoError(t, err)
	if len(entries) != 1 || entries[0].EventType != "container.created" {
		t.Fatalf("History = %+v", entries)
	}
}

func TestReset(t *testing.T) {
	s := testutil.TempContainer(t)
	editor := edit.New(s)

	staleFID := testutil.InsertSyncedFeature(t, s, 100,
		map[domain.FieldID]interface{}{10: "stale", 11: "s"}, "POINT (0 0)")
	testutil.AssertNoError(t, editor.SetField(staleFID, 10, "edited"))
	_, err := editor.Create(&domain.Feature{Fields: map[domain.FieldID]interface{}{10: "pending"}})
	testutil.AssertNoError(t, err)

	// The remote moved to epoch 2; a reset adopts the new state wholesale.
	f := newFakeNGW(t)
	f.serveLayer(layerJSON(true, 2, 20, "POINT"))
	f.serveFeatureList(`[
		{"id": 300, "fields": {"NAME": "fresh", "VALUE": "f"}, "geom": "POINT (9 9)"}
	]`)

	engine := NewEngine(s, f.client())
	testutil.AssertNoError(t, engine.Reset(context.Background(), "epoch changed"))

	meta, err := s.Meta.Read(s.DB())
	testutil.AssertNoError(t, err)
	if meta.Epoch != 2 || meta.Version != 20 {
		t.Fatalf("Meta after reset = epoch %d version %d", meta.Epoch, meta.Version)
	}
	if meta.ConnectionID != "test-connection" {
		t.Fatalf("ConnectionID = %q, identity must survive a reset", meta.ConnectionID)
	}

	count, err := s.Features.Count(s.DB())
	testutil.AssertNoError(t, err)
	if count != 1 {
		t.Fatalf("Count = %d, want only the re-downloaded feature", count)
	}
	fid, ok, err := s.Features.LocalFID(s.DB(), 300)
	testutil.AssertNoError(t, err)
	if !ok {
		t.Fatal("Re-downloaded feature has no mapping")
	}
	feature, err := s.Features.Get(s.DB(), fid)
	testutil.AssertNoError(t, err)
	if feature.Fields[10] != "fresh" {
		t.Fatalf("Feature = %+v", feature.Fields)
	}

	pending, err := s.Changes.HasPending(s.DB())
	testutil.AssertNoError(t, err)
	if pending {
		t.Fatal("Reset must discard all pending changes")
	}

	entries, err := events.NewWriter(s.DB().DB).Recent(1)
	testutil.AssertNoError(t, err)
	if len(entries) != 1 || entries[0].EventType != "container.reset" {
		t.Fatalf("History = %+v", entries)
	}
}
