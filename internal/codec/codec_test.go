package codec

import (
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/layersync/layersync/internal/domain"
)

func TestGeometryRoundTrip(t *testing.T) {
	geoms := map[string]orb.Geometry{
		"point":      orb.Point{37.6, 55.7},
		"linestring": orb.LineString{{0, 0}, {1, 1}, {2, 0}},
		"polygon":    orb.Polygon{{{0, 0}, {4, 0}, {4, 4}, {0, 4}, {0, 0}}},
	}

	for _, versioned := range []bool{false, true} {
		for name, g := range geoms {
			t.Run(name, func(t *testing.T) {
				s, err := SerializeGeometry(g, versioned)
				if err != nil {
					t.Fatalf("SerializeGeometry(versioned=%v): %v", versioned, err)
				}
				if s == "" {
					t.Fatal("non-empty geometry serialized to empty string")
				}
				back, err := DeserializeGeometry(s, versioned)
				if err != nil {
					t.Fatalf("DeserializeGeometry(versioned=%v): %v", versioned, err)
				}
				if !orb.Equal(back, g) {
					t.Errorf("round trip changed geometry: %v -> %v", g, back)
				}
			})
		}
	}
}

func TestGeometryEncodingDependsOnVersioning(t *testing.T) {
	g := orb.Point{1, 2}

	plain, err := SerializeGeometry(g, false)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(plain, "POINT") {
		t.Errorf("non-versioned geometry should be WKT, got %q", plain)
	}

	versioned, err := SerializeGeometry(g, true)
	if err != nil {
		t.Fatal(err)
	}
	if strings.HasPrefix(versioned, "POINT") {
		t.Errorf("versioned geometry should be base64 WKB, got %q", versioned)
	}
}

func TestGeometryEmpty(t *testing.T) {
	for _, versioned := range []bool{false, true} {
		s, err := SerializeGeometry(nil, versioned)
		if err != nil {
			t.Fatal(err)
		}
		if s != "" {
			t.Errorf("nil geometry must serialize to empty string, got %q", s)
		}
		g, err := DeserializeGeometry("", versioned)
		if err != nil {
			t.Fatal(err)
		}
		if g != nil {
			t.Errorf("empty string must deserialize to nil geometry, got %v", g)
		}
	}
}

func TestSerializeValueTime(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	got := SerializeValue(ts)
	if got != "2025-03-14T09:26:53Z" {
		t.Errorf("time serialized to %v", got)
	}

	back, err := DeserializeValue(got, "DATETIME")
	if err != nil {
		t.Fatal(err)
	}
	if !back.(time.Time).Equal(ts) {
		t.Errorf("time round trip: %v != %v", back, ts)
	}

	if SerializeValue(nil) != nil {
		t.Error("nil must stay nil")
	}
	if v, err := DeserializeValue(nil, "DATETIME"); err != nil || v != nil {
		t.Error("nil must deserialize to nil")
	}
}

func TestDeserializeValueInteger(t *testing.T) {
	v, err := DeserializeValue(float64(42), "INTEGER")
	if err != nil {
		t.Fatal(err)
	}
	if v.(int64) != 42 {
		t.Errorf("got %v", v)
	}
	if _, err := DeserializeValue("nope", "INTEGER"); err == nil {
		t.Error("expected error for non-numeric INTEGER value")
	}
}

func TestActionsRoundTrip(t *testing.T) {
	geom := "POINT (1 2)"
	actions := []domain.Action{
		domain.FeatureCreate{FID: 1, Fields: []domain.FieldValue{{ID: 10, Value: "name"}, {ID: 11, Value: nil}}, Geom: "POINT (5 6)"},
		domain.FeatureUpdate{FID: 2, Fields: []domain.FieldValue{{ID: 10, Value: float64(3)}}, Geom: &geom},
		domain.FeatureUpdate{FID: 3, Fields: nil, Geom: nil},
		domain.FeatureDelete{FID: 4},
		domain.ContinueAction{URL: "https://example.com/api/next"},
	}

	data, err := MarshalActions(actions)
	if err != nil {
		t.Fatalf("MarshalActions: %v", err)
	}

	back, err := UnmarshalActions(data)
	if err != nil {
		t.Fatalf("UnmarshalActions: %v", err)
	}
	if len(back) != len(actions) {
		t.Fatalf("got %d actions, want %d", len(back), len(actions))
	}

	upd := back[1].(domain.FeatureUpdate)
	if upd.Geom == nil || *upd.Geom != geom {
		t.Errorf("update geometry lost: %v", upd.Geom)
	}

	noop := back[2].(domain.FeatureUpdate)
	if noop.Geom != nil {
		t.Error("nil geometry (no change) must stay nil, not become empty string")
	}
	if len(noop.Fields) != 0 {
		t.Error("empty field list must stay empty")
	}

	cont := back[4].(domain.ContinueAction)
	if cont.URL != "https://example.com/api/next" {
		t.Errorf("continue url = %q", cont.URL)
	}
}

func TestUnmarshalActionsWireShape(t *testing.T) {
	data := []byte(`[
		{"action": "update", "id": 7, "fields": [[10, "B"], [11, "C"]]},
		{"action": "delete", "id": 8},
		{"action": "continue", "url": "/api/resource/5/feature/changes?from=3"}
	]`)

	actions, err := UnmarshalActions(data)
	if err != nil {
		t.Fatalf("UnmarshalActions: %v", err)
	}

	upd := actions[0].(domain.FeatureUpdate)
	if upd.FID != 7 || len(upd.Fields) != 2 {
		t.Errorf("update decoded as %+v", upd)
	}
	if upd.Fields[0].ID != 10 || upd.Fields[0].Value != "B" {
		t.Errorf("field pair decoded as %+v", upd.Fields[0])
	}
	if upd.Geom != nil {
		t.Error("absent geom must decode to nil")
	}

	if del := actions[1].(domain.FeatureDelete); del.FID != 8 {
		t.Errorf("delete decoded as %+v", del)
	}
}

func TestUnmarshalActionsRejectsUnknown(t *testing.T) {
	if _, err := UnmarshalActions([]byte(`[{"action": "rename", "id": 1}]`)); err == nil {
		t.Error("unknown action kind must be rejected")
	}
	if _, err := UnmarshalActions([]byte(`[{"action": "delete"}]`)); err == nil {
		t.Error("delete without id must be rejected")
	}
	if _, err := UnmarshalActions([]byte(`[{"action": "continue"}]`)); err == nil {
		t.Error("continue without url must be rejected")
	}
}
