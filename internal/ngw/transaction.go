package ngw

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/layersync/layersync/internal/codec"
	"github.com/layersync/layersync/internal/domain"
)

// Transaction is one server-side versioned upload transaction: actions are
// staged with Put and become visible atomically on Commit.
type Transaction struct {
	ID       string
	client   *Client
	resource int64
	done     bool
}

// BeginTransaction opens a versioned upload transaction on the resource for
// the given epoch.
func (c *Client) BeginTransaction(ctx context.Context, resourceID, epoch int64) (*Transaction, error) {
	url := fmt.Sprintf("%s/api/resource/%d/feature/transaction/", c.baseURL, resourceID)
	body, err := c.send(ctx, http.MethodPost, url, map[string]interface{}{"epoch": epoch})
	if err != nil {
		return nil, err
	}

	var raw struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid transaction begin response: %w", err)
	}
	if raw.ID == "" {
		return nil, fmt.Errorf("transaction begin returned no id")
	}
	return &Transaction{ID: raw.ID, client: c, resource: resourceID}, nil
}

// FidAssignment maps the client-side fid of an uploaded create to the fid
// the server assigned it.
type FidAssignment struct {
	LocalFID domain.FeatureID
	NgwFID   domain.FeatureID
}

// Put stages an action list in the transaction and returns the server's fid
// assignments for the creates in it.
func (t *Transaction) Put(ctx context.Context, actions []domain.Action) ([]FidAssignment, error) {
	payload, err := codec.MarshalActions(actions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode upload actions: %w", err)
	}

	url := fmt.Sprintf("%s/api/resource/%d/feature/transaction/%s", t.client.baseURL, t.resource, t.ID)
	body, err := t.client.sendRaw(ctx, http.MethodPut, url, payload)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Action string `json:"action"`
		ID     int64  `json:"id"`
		Fid    int64  `json:"fid"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid transaction put response: %w", err)
	}

	var assignments []FidAssignment
	for _, r := range raw {
		if r.Action == "create" && r.Fid != 0 {
			assignments = append(assignments, FidAssignment{
				LocalFID: domain.FeatureID(r.ID),
				NgwFID:   domain.FeatureID(r.Fid),
			})
		}
	}
	return assignments, nil
}

// Commit makes the staged actions visible and returns the resulting resource
// version. A commit failure triggers an explicit abort before the error
// propagates, so no dangling transaction is left on the server; the abort's
// own outcome never masks the commit error.
func (t *Transaction) Commit(ctx context.Context) (int64, error) {
	url := fmt.Sprintf("%s/api/resource/%d/feature/transaction/%s/commit", t.client.baseURL, t.resource, t.ID)
	body, err := t.client.send(ctx, http.MethodPost, url, nil)
	if err != nil {
		_ = t.Abort(ctx)
		return 0, err
	}
	t.done = true

	var raw struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return 0, fmt.Errorf("invalid transaction commit response: %w", err)
	}
	return raw.Version, nil
}

// Abort discards the transaction. Aborting a committed or already aborted
// transaction is a no-op.
func (t *Transaction) Abort(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	url := fmt.Sprintf("%s/api/resource/%d/feature/transaction/%s", t.client.baseURL, t.resource, t.ID)
	_, err := t.client.send(ctx, http.MethodDelete, url, nil)
	return err
}
