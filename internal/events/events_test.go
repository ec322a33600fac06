package events

import (
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/layersync/layersync/internal/domain"
	"github.com/layersync/layersync/internal/testutil"
)

func TestLogAndRecent(t *testing.T) {
	s := testutil.TempContainer(t)
	w := NewWriter(s.DB().DB)

	err := s.WithTx(func(tx *sql.Tx) error {
		if err := w.LogSyncStarted(tx, 5); err != nil {
			return err
		}
		return w.LogSyncFinished(tx, 7, 3)
	})
	testutil.AssertNoError(t, err)

	entries, err := w.Recent(10)
	testutil.AssertNoError(t, err)
	if len(entries) != 2 {
		t.Fatalf("Recent = %d entries, want 2", len(entries))
	}
	if entries[0].EventType != "sync.finished" || entries[1].EventType != "sync.started" {
		t.Fatalf("Entries not newest first: %s, %s", entries[0].EventType, entries[1].EventType)
	}

	var payload map[string]interface{}
	testutil.AssertNoError(t, json.Unmarshal([]byte(*entries[0].Payload), &payload))
	if payload["to_version"] != float64(7) || payload["applied"] != float64(3) {
		t.Fatalf("Payload = %v", payload)
	}

	if time.Since(entries[0].Timestamp) > time.Minute {
		t.Fatalf("Timestamp not recent: %v", entries[0].Timestamp)
	}
}

func TestLogOutsideTransaction(t *testing.T) {
	s := testutil.TempContainer(t)
	w := NewWriter(s.DB().DB)

	// Failure events are written with no transaction: the sync that failed
	// rolled its own back.
	syncErr := domain.NewSyncError(domain.KindEpochChanged, nil, "epoch moved")
	testutil.AssertNoError(t, w.LogSyncFailed(nil, syncErr))

	entries, err := w.Recent(1)
	testutil.AssertNoError(t, err)
	if len(entries) != 1 || entries[0].EventType != "sync.failed" {
		t.Fatalf("Recent = %+v", entries)
	}

	var payload map[string]interface{}
	testutil.AssertNoError(t, json.Unmarshal([]byte(*entries[0].Payload), &payload))
	if payload["kind"] != string(domain.KindEpochChanged) {
		t.Fatalf("Payload kind = %v", payload["kind"])
	}
	if payload["requires_reset"] != true {
		t.Fatalf("Payload requires_reset = %v", payload["requires_reset"])
	}
}

func TestLogFailedPlainError(t *testing.T) {
	s := testutil.TempContainer(t)
	w := NewWriter(s.DB().DB)

	testutil.AssertNoError(t, w.LogSyncFailed(nil, errors.New("connection refused")))

	entries, err := w.Recent(1)
	testutil.AssertNoError(t, err)
	var payload map[string]interface{}
	testutil.AssertNoError(t, json.Unmarshal([]byte(*entries[0].Payload), &payload))
	if _, ok := payload["kind"]; ok {
		t.Fatal("Plain errors should carry no kind")
	}
	if payload["error"] != "connection refused" {
		t.Fatalf("Payload error = %v", payload["error"])
	}
}
