// Package events writes the per-container synchronization history.
package events

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/layersync/layersync/internal/domain"
)

// Writer appends entries to a container's sync_log table.
type Writer struct {
	db *sql.DB
}

// NewWriter creates an event writer over a container database.
func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// Entry is one sync_log row.
type Entry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	Payload   *string   `json:"payload,omitempty"`
}

func (w *Writer) log(tx *sql.Tx, eventType string, payload interface{}) error {
	var payloadStr *string
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode event payload: %w", err)
		}
		s := string(data)
		payloadStr = &s
	}

	executor := w.getExecutor(tx)
	_, err := executor.Exec(`INSERT INTO sync_log (event_type, payload) VALUES (?, ?)`, eventType, payloadStr)
	if err != nil {
		return fmt.Errorf("failed to write sync event: %w", err)
	}
	return nil
}

// LogSyncStarted records the beginning of a sync attempt.
func (w *Writer) LogSyncStarted(tx *sql.Tx, fromVersion int64) error {
	return w.log(tx, "sync.started", map[string]interface{}{"from_version": fromVersion})
}

// LogSyncFinished records a completed sync.
func (w *Writer) LogSyncFinished(tx *sql.Tx, toVersion int64, applied int) error {
	return w.log(tx, "sync.finished", map[string]interface{}{
		"to_version": toVersion,
		"applied":    applied,
	})
}

// LogSyncFailed records a failed sync attempt with its error kind.
func (w *Writer) LogSyncFailed(tx *sql.Tx, err error) error {
	payload := map[string]interface{}{"error": err.Error()}
	var se *domain.SyncError
	if errors.As(err, &se) {
		payload["kind"] = string(se.Kind)
		payload["requires_reset"] = se.RequiresReset()
	}
	return w.log(tx, "sync.failed", payload)
}

// LogConflictsDetected records how many conflicts a sync surfaced.
func (w *Writer) LogConflictsDetected(tx *sql.Tx, count int) error {
	return w.log(tx, "sync.conflicts", map[string]interface{}{"count": count})
}

// LogConflictsResolved records a completed resolution round.
func (w *Writer) LogConflictsResolved(tx *sql.Tx, count int) error {
	return w.log(tx, "sync.resolved", map[string]interface{}{"count": count})
}

// LogUploadFinished records a completed upload of local changes.
func (w *Writer) LogUploadFinished(tx *sql.Tx, creates, updates, deletes int) error {
	return w.log(tx, "sync.uploaded", map[string]interface{}{
		"creates": creates,
		"updates": updates,
		"deletes": deletes,
	})
}

// LogContainerCreated records the initial population of a container.
func (w *Writer) LogContainerCreated(tx *sql.Tx, resourceID int64, features int) error {
	return w.log(tx, "container.created", map[string]interface{}{
		"resource_id": resourceID,
		"features":    features,
	})
}

// LogReset records a destructive container reset.
func (w *Writer) LogReset(tx *sql.Tx, reason string) error {
	return w.log(tx, "container.reset", map[string]interface{}{"reason": reason})
}

// Recent returns the latest history entries, newest first.
func (w *Writer) Recent(limit int) ([]Entry, error) {
	rows, err := w.db.Query(`
		SELECT id, timestamp, event_type, payload
		FROM sync_log ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.EventType, &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan sync log entry: %w", err)
		}
		t, err := time.Parse("2006-01-02T15:04:05Z", ts)
		if err != nil {
			t, err = time.Parse(time.RFC3339, ts)
			if err != nil {
				return nil, fmt.Errorf("invalid timestamp in sync log: %w", err)
			}
		}
		e.Timestamp = t
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (w *Writer) getExecutor(tx *sql.Tx) interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
} {
	if tx != nil {
		return tx
	}
	return w.db
}

