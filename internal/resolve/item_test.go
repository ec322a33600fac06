package resolve

import (
	"errors"
	"testing"

	"github.com/layersync/layersync/internal/domain"
)

func strPtr(s string) *string { return &s }

func mustConflict(t *testing.T, local, remote domain.Action) domain.Conflict {
	t.Helper()
	c, err := domain.NewConflict(local, remote)
	if err != nil {
		t.Fatalf("Failed to build conflict: %v", err)
	}
	return c
}

// updateUpdateItem builds an item for a two-field conflict with disputed
// geometry: local has NAME=local-name, VALUE=local-value, remote has
// NAME=remote-name, VALUE=remote-value.
func updateUpdateItem(t *testing.T) *Item {
	t.Helper()

	local := domain.FeatureUpdate{
		FID: 100,
		Fields: []domain.FieldValue{
			{ID: 10, Value: "local-name"},
			{ID: 11, Value: "local-value"},
		},
		Geom: strPtr("POINT (1 1)"),
	}
	remote := domain.FeatureUpdate{
		FID: 100,
		Fields: []domain.FieldValue{
			{ID: 10, Value: "remote-name"},
			{ID: 11, Value: "remote-value"},
		},
		Geom: strPtr("POINT (2 2)"),
	}
	c := mustConflict(t, local, remote)

	localFeature := &domain.Feature{
		FID:    1,
		Fields: map[domain.FieldID]interface{}{10: "local-name", 11: "local-value"},
		Geom:   "POINT (1 1)",
	}
	remoteFeature := &domain.Feature{
		FID:    1,
		Fields: map[domain.FieldID]interface{}{10: "remote-name", 11: "remote-value"},
		Geom:   "POINT (2 2)",
	}
	result := remoteFeature.Clone()
	result.Fields[10] = nil
	result.Fields[11] = nil
	result.Geom = ""

	return &Item{
		Conflict:      c,
		LocalFID:      1,
		LocalFeature:  localFeature,
		RemoteFeature: remoteFeature,
		ResultFeature: result,
		ChangedFields: make(map[domain.FieldID]bool),
	}
}

func TestItemResolutionProgress(t *testing.T) {
	it := updateUpdateItem(t)

	if it.IsResolved {
		t.Fatal("Fresh item should not be resolved")
	}
	if got := it.ResolutionType(); got != domain.NoResolution {
		t.Fatalf("Unresolved item resolution type = %q, want %q", got, domain.NoResolution)
	}

	if err := it.SetField(10, "local-name"); err != nil {
		t.Fatalf("SetField failed: %v", err)
	}
	if it.IsResolved {
		t.Fatal("Item resolved with one of two fields decided")
	}

	if err := it.SetField(11, "local-value"); err != nil {
		t.Fatalf("SetField failed: %v", err)
	}
	if it.IsResolved {
		t.Fatal("Item resolved with geometry still disputed")
	}

	if err := it.SetGeometry("POINT (1 1)"); err != nil {
		t.Fatalf("SetGeometry failed: %v", err)
	}
	if !it.IsResolved {
		t.Fatal("Item should be resolved after every dispute is decided")
	}
	if got := it.ResolutionType(); got != domain.ResolutionLocal {
		t.Fatalf("Result matching the local side classified as %q, want %q", got, domain.ResolutionLocal)
	}
}

func TestItemResolutionTypeDerivation(t *testing.T) {
	t.Run("choose local", func(t *testing.T) {
		it := updateUpdateItem(t)
		it.ChooseLocal()
		if !it.IsResolved {
			t.Fatal("ChooseLocal should fully resolve the item")
		}
		if got := it.ResolutionType(); got != domain.ResolutionLocal {
			t.Fatalf("ResolutionType = %q, want %q", got, domain.ResolutionLocal)
		}
		if !it.ResultFeature.Equal(it.LocalFeature) {
			t.Fatal("ChooseLocal result should equal the local feature")
		}
	})

	t.Run("choose remote", func(t *testing.T) {
		it := updateUpdateItem(t)
		it.ChooseRemote()
		if got := it.ResolutionType(); got != domain.ResolutionRemote {
			t.Fatalf("ResolutionType = %q, want %q", got, domain.ResolutionRemote)
		}
	})

	t.Run("mixed values are custom", func(t *testing.T) {
		it := updateUpdateItem(t)
		if err := it.SetField(10, "local-name"); err != nil {
			t.Fatalf("SetField failed: %v", err)
		}
		if err := it.SetField(11, "remote-value"); err != nil {
			t.Fatalf("SetField failed: %v", err)
		}
		if err := it.SetGeometry("POINT (2 2)"); err != nil {
			t.Fatalf("SetGeometry failed: %v", err)
		}
		if got := it.ResolutionType(); got != domain.ResolutionCustom {
			t.Fatalf("ResolutionType = %q, want %q", got, domain.ResolutionCustom)
		}
	})

	t.Run("deletion outcome attributes the deleting side", func(t *testing.T) {
		c := mustConflict(t,
			domain.FeatureDelete{FID: 100},
			domain.FeatureUpdate{FID: 100, Fields: []domain.FieldValue{{ID: 10, Value: "x"}}},
		)
		it := &Item{Conflict: c, ChangedFields: make(map[domain.FieldID]bool), IsResolved: true}
		if got := it.ResolutionType(); got != domain.ResolutionLocal {
			t.Fatalf("Local delete winning classified as %q, want %q", got, domain.ResolutionLocal)
		}
	})
}

func TestItemRejectsInvalidDecisions(t *testing.T) {
	t.Run("field decision on existential conflict", func(t *testing.T) {
		c := mustConflict(t,
			domain.FeatureDelete{FID: 100},
			domain.FeatureUpdate{FID: 100, Fields: []domain.FieldValue{{ID: 10, Value: "x"}}},
		)
		it := &Item{Conflict: c, ChangedFields: make(map[domain.FieldID]bool)}
		err := it.SetField(10, "y")
		if !errors.Is(err, domain.ErrUnsupportedConflict) {
			t.Fatalf("SetField on delete/update conflict = %v, want ErrUnsupportedConflict", err)
		}
	})

	t.Run("undisputed field", func(t *testing.T) {
		it := updateUpdateItem(t)
		if err := it.SetField(99, "x"); err == nil {
			t.Fatal("Expected error for field that is not disputed")
		}
	})

	t.Run("geometry decision without a geometry dispute", func(t *testing.T) {
		local := domain.FeatureUpdate{FID: 100, Fields: []domain.FieldValue{{ID: 10, Value: "a"}}}
		remote := domain.FeatureUpdate{FID: 100, Fields: []domain.FieldValue{{ID: 10, Value: "b"}}}
		c := mustConflict(t, local, remote)
		it := &Item{
			Conflict:      c,
			ResultFeature: &domain.Feature{Fields: map[domain.FieldID]interface{}{}},
			ChangedFields: make(map[domain.FieldID]bool),
		}
		if err := it.SetGeometry("POINT (0 0)"); err == nil {
			t.Fatal("Expected error when geometry is not disputed")
		}
	})
}

func TestToResolution(t *testing.T) {
	t.Run("local", func(t *testing.T) {
		it := updateUpdateItem(t)
		it.ChooseLocal()
		res, err := ToResolution(it)
		if err != nil {
			t.Fatalf("ToResolution failed: %v", err)
		}
		if res.Type != domain.ResolutionLocal {
			t.Fatalf("Type = %q, want %q", res.Type, domain.ResolutionLocal)
		}
		if len(res.CustomFields) != 0 || res.CustomGeom != nil {
			t.Fatal("Non-custom resolution should carry no custom payload")
		}
	})

	t.Run("custom carries chosen values", func(t *testing.T) {
		it := updateUpdateItem(t)
		if err := it.SetField(10, "merged-name"); err != nil {
			t.Fatalf("SetField failed: %v", err)
		}
		if err := it.SetField(11, "remote-value"); err != nil {
			t.Fatalf("SetField failed: %v", err)
		}
		if err := it.SetGeometry("POINT (3 3)"); err != nil {
			t.Fatalf("SetGeometry failed: %v", err)
		}

		res, err := ToResolution(it)
		if err != nil {
			t.Fatalf("ToResolution failed: %v", err)
		}
		if res.Type != domain.ResolutionCustom {
			t.Fatalf("Type = %q, want %q", res.Type, domain.ResolutionCustom)
		}
		if len(res.CustomFields) != 2 {
			t.Fatalf("CustomFields length = %d, want 2", len(res.CustomFields))
		}
		if v, _ := domain.FieldValueByID(res.CustomFields, 10); v != "merged-name" {
			t.Fatalf("Custom value for field 10 = %v, want merged-name", v)
		}
		if res.CustomGeom == nil || *res.CustomGeom != "POINT (3 3)" {
			t.Fatalf("CustomGeom = %v, want POINT (3 3)", res.CustomGeom)
		}
	})
}

func TestToResolutionsRejectsUnresolved(t *testing.T) {
	resolved := updateUpdateItem(t)
	resolved.ChooseRemote()
	pending := updateUpdateItem(t)

	if _, err := ToResolutions([]*Item{resolved, pending}); err == nil {
		t.Fatal("Expected error for batch with an unresolved item")
	}

	resolutions, err := ToResolutions([]*Item{resolved})
	if err != nil {
		t.Fatalf("ToResolutions failed: %v", err)
	}
	if len(resolutions) != 1 || resolutions[0].Type != domain.ResolutionRemote {
		t.Fatalf("Unexpected resolutions: %+v", resolutions)
	}
}
