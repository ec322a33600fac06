package dedup

import (
	"reflect"
	"testing"

	"github.com/layersync/layersync/internal/domain"
)

func mustConflict(t *testing.T, local, remote domain.Action) domain.Conflict {
	t.Helper()
	c, err := domain.NewConflict(local, remote)
	if err != nil {
		t.Fatalf("NewConflict: %v", err)
	}
	return c
}

func TestDeduplicateDoubleDelete(t *testing.T) {
	geom := "POINT (1 1)"
	actions := []domain.Action{
		domain.FeatureDelete{FID: 5},
		domain.FeatureUpdate{FID: 6, Fields: []domain.FieldValue{{ID: 10, Value: "y"}}, Geom: &geom},
	}
	conflicts := []domain.Conflict{
		mustConflict(t, domain.FeatureDelete{FID: 5}, domain.FeatureDelete{FID: 5}),
		mustConflict(t,
			domain.FeatureUpdate{FID: 6, Fields: []domain.FieldValue{{ID: 10, Value: "x"}}},
			domain.FeatureUpdate{FID: 6, Fields: []domain.FieldValue{{ID: 10, Value: "y"}}},
		),
	}

	res := Deduplicate(actions, conflicts)

	if !res.NeedsStateUpdate {
		t.Error("removing a double delete must request a state update")
	}
	if len(res.Actions) != 1 {
		t.Fatalf("remote delete should be dropped, actions = %v", res.Actions)
	}
	if _, ok := res.Actions[0].(domain.FeatureUpdate); !ok {
		t.Errorf("surviving action should be the update, got %T", res.Actions[0])
	}
	if len(res.Conflicts) != 1 || res.Conflicts[0].FID != 6 {
		t.Errorf("only the content conflict should survive, got %v", res.Conflicts)
	}
	if len(res.PurgedFIDs) != 1 || res.PurgedFIDs[0] != 5 {
		t.Errorf("fid 5 should be recorded for backup cleanup, got %v", res.PurgedFIDs)
	}
}

func TestDeduplicateKeepsExistentialConflicts(t *testing.T) {
	conflicts := []domain.Conflict{
		mustConflict(t, domain.FeatureDelete{FID: 1}, domain.FeatureUpdate{FID: 1}),
		mustConflict(t, domain.FeatureUpdate{FID: 2}, domain.FeatureDelete{FID: 2}),
	}
	actions := []domain.Action{
		domain.FeatureUpdate{FID: 1},
		domain.FeatureDelete{FID: 2},
	}

	res := Deduplicate(actions, conflicts)

	if res.NeedsStateUpdate {
		t.Error("delete/update pairs are real conflicts, no state update expected")
	}
	if len(res.Conflicts) != 2 || len(res.Actions) != 2 {
		t.Errorf("nothing should be filtered, got %d conflicts, %d actions", len(res.Conflicts), len(res.Actions))
	}
}

func TestDeduplicateIdempotent(t *testing.T) {
	actions := []domain.Action{
		domain.FeatureDelete{FID: 3},
	}
	conflicts := []domain.Conflict{
		mustConflict(t, domain.FeatureDelete{FID: 3}, domain.FeatureDelete{FID: 3}),
	}

	first := Deduplicate(actions, conflicts)
	if !first.NeedsStateUpdate {
		t.Fatal("first pass should report changes")
	}

	second := Deduplicate(first.Actions, first.Conflicts)
	if second.NeedsStateUpdate {
		t.Error("second pass must be a no-op")
	}
	if !reflect.DeepEqual(second.Actions, first.Actions) {
		t.Error("second pass changed the action list")
	}
	if !reflect.DeepEqual(second.Conflicts, first.Conflicts) {
		t.Error("second pass changed the conflict list")
	}
	if len(second.PurgedFIDs) != 0 {
		t.Errorf("second pass purged fids: %v", second.PurgedFIDs)
	}
}

func TestDeduplicateEmptyInput(t *testing.T) {
	res := Deduplicate(nil, nil)
	if res.NeedsStateUpdate || len(res.Actions) != 0 || len(res.Conflicts) != 0 {
		t.Errorf("empty input must pass through: %+v", res)
	}
}
