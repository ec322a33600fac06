package render

import (
	"strings"
	"testing"

	"github.com/layersync/layersync/internal/domain"
	"github.com/layersync/layersync/internal/resolve"
	"github.com/layersync/layersync/internal/testutil"
)

func updateUpdateItem(t *testing.T) *resolve.Item {
	t.Helper()

	local := "POINT (0 0)"
	remote := "POINT (1 1)"
	c, err := domain.NewConflict(
		domain.FeatureUpdate{FID: 100, Fields: []domain.FieldValue{{ID: 10, Value: "local-name"}}, Geom: &local},
		domain.FeatureUpdate{FID: 100, Fields: []domain.FieldValue{{ID: 10, Value: "remote-name"}}, Geom: &remote},
	)
	if err != nil {
		t.Fatal(err)
	}
	return &resolve.Item{
		Conflict: c,
		LocalFID: 1,
		LocalFeature: &domain.Feature{
			FID: 1, Fields: map[domain.FieldID]interface{}{10: "local-name"}, Geom: "POINT (0 0)",
		},
		RemoteFeature: &domain.Feature{
			FID: 1, Fields: map[domain.FieldID]interface{}{10: "remote-name"}, Geom: "POINT (1 1)",
		},
	}
}

func TestItemOutput(t *testing.T) {
	meta := testutil.TestMeta()
	it := updateUpdateItem(t)

	out := Item(it, meta, false)
	for _, want := range []string{
		"feature 100: update/update",
		"field NAME: local=local-name remote=remote-name",
		"geometry: local=POINT (0 0) remote=POINT (1 1)",
		"resolution: pending",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Output missing %q:\n%s", want, out)
		}
	}

	t.Run("with diff", func(t *testing.T) {
		out := Item(it, meta, true)
		if !strings.Contains(out, "--- local") || !strings.Contains(out, "+++ remote") {
			t.Errorf("Output missing unified diff headers:\n%s", out)
		}
		if !strings.Contains(out, "-local-name") || !strings.Contains(out, "+remote-name") {
			t.Errorf("Output missing diff body:\n%s", out)
		}
	})

	t.Run("resolved", func(t *testing.T) {
		it := updateUpdateItem(t)
		it.ChooseRemote()
		out := Item(it, meta, false)
		if !strings.Contains(out, "resolution: remote") {
			t.Errorf("Output missing resolution line:\n%s", out)
		}
	})
}

func TestItemExistentialShapes(t *testing.T) {
	meta := testutil.TestMeta()

	c, err := domain.NewConflict(
		domain.FeatureDelete{FID: 100},
		domain.FeatureUpdate{FID: 100, Fields: []domain.FieldValue{{ID: 10, Value: "remote-name"}}},
	)
	if err != nil {
		t.Fatal(err)
	}
	it := &resolve.Item{
		Conflict:      c,
		LocalFID:      1,
		RemoteFeature: &domain.Feature{FID: 1, Fields: map[domain.FieldID]interface{}{10: "remote-name"}},
	}

	out := Item(it, meta, false)
	if !strings.Contains(out, "deleted locally, updated remotely") {
		t.Errorf("Output missing existential hint:\n%s", out)
	}
}

func TestItemsEmpty(t *testing.T) {
	if got := Items(nil, testutil.TestMeta(), false); got != "no conflicts\n" {
		t.Errorf("Items = %q", got)
	}
}

func TestSummary(t *testing.T) {
	meta := testutil.TestMeta()
	it := updateUpdateItem(t)

	got := Summary(it, meta)
	if got != "100\tupdate/update\tNAME,geometry" {
		t.Errorf("Summary = %q", got)
	}
}
