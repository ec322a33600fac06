// Package ngw is the HTTP client for the remote layer authority. It covers
// the delta protocol (changes/check plus paginated fetch), the versioned
// upload transaction, plain feature CRUD for non-versioned layers, and the
// resource metadata and permission lookups the sync engine needs.
package ngw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/layersync/layersync/internal/codec"
	"github.com/layersync/layersync/internal/domain"
)

// Client talks to one NGW instance.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the given base URL. token may be empty for
// anonymous access.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// SetHTTPClient replaces the underlying HTTP client. Tests use it to point
// the client at an httptest server with no timeout games.
func (c *Client) SetHTTPClient(h *http.Client) { c.http = h }

// ChangesCheck is the response of the changes/check endpoint.
type ChangesCheck struct {
	Target int64     `json:"target"`
	Tstamp time.Time `json:"tstamp"`
	Fetch  string    `json:"fetch"`
}

// CheckChanges asks whether the resource changed past the given epoch and
// version. A nil result means the remote has nothing newer.
func (c *Client) CheckChanges(ctx context.Context, resourceID, epoch, initial int64) (*ChangesCheck, error) {
	url := fmt.Sprintf("%s/api/resource/%d/feature/changes/check?epoch=%d&initial=%d",
		c.baseURL, resourceID, epoch, initial)

	body, status, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent || len(body) == 0 || string(body) == "null" {
		return nil, nil
	}

	var raw struct {
		Target int64  `json:"target"`
		Tstamp string `json:"tstamp"`
		Fetch  string `json:"fetch"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid changes/check response: %w", err)
	}
	if raw.Fetch == "" {
		return nil, nil
	}

	check := &ChangesCheck{Target: raw.Target, Fetch: raw.Fetch}
	if raw.Tstamp != "" {
		t, err := time.Parse(time.RFC3339, raw.Tstamp)
		if err != nil {
			return nil, fmt.Errorf("invalid changes/check timestamp %q: %w", raw.Tstamp, err)
		}
		check.Tstamp = t
	}
	return check, nil
}

// FetchPage retrieves one page of the delta. The last element may be a
// continuation marker; the caller follows it.
func (c *Client) FetchPage(ctx context.Context, url string) ([]domain.Action, error) {
	body, _, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	actions, err := codec.UnmarshalActions(body)
	if err != nil {
		return nil, fmt.Errorf("invalid delta page from %s: %w", url, err)
	}
	return actions, nil
}

// Permission is the caller's access to one resource.
type Permission struct {
	Read  bool `json:"read"`
	Write bool `json:"write"`
}

// Permission fetches the caller's permissions on a resource.
func (c *Client) Permission(ctx context.Context, resourceID int64) (Permission, error) {
	url := fmt.Sprintf("%s/api/resource/%d/permission", c.baseURL, resourceID)
	body, _, err := c.get(ctx, url)
	if err != nil {
		return Permission{}, err
	}

	var raw struct {
		Data Permission `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Permission{}, fmt.Errorf("invalid permission response: %w", err)
	}
	return raw.Data, nil
}

// RemoteField is one field of the remote layer schema.
type RemoteField struct {
	ID          int64  `json:"id"`
	Keyname     string `json:"keyname"`
	Datatype    string `json:"datatype"`
	DisplayName string `json:"display_name"`
	LabelField  bool   `json:"label_field"`
}

// RemoteLayer is the slice of the resource description the sync engine
// compares against local metadata.
type RemoteLayer struct {
	Fields       []RemoteField
	GeometryType string
	Versioned    bool
	Epoch        int64
	Version      int64
}

// Layer fetches the remote layer description: schema, geometry type, and
// versioning state.
func (c *Client) Layer(ctx context.Context, resourceID int64) (*RemoteLayer, error) {
	url := fmt.Sprintf("%s/api/resource/%d", c.baseURL, resourceID)
	body, _, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var raw struct {
		FeatureLayer struct {
			Fields     []RemoteField `json:"fields"`
			Versioning struct {
				Enabled bool  `json:"enabled"`
				Epoch   int64 `json:"epoch"`
				Latest  int64 `json:"latest"`
			} `json:"versioning"`
		} `json:"feature_layer"`
		VectorLayer struct {
			GeometryType string `json:"geometry_type"`
		} `json:"vector_layer"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid resource response: %w", err)
	}

	return &RemoteLayer{
		Fields:       raw.FeatureLayer.Fields,
		GeometryType: raw.VectorLayer.GeometryType,
		Versioned:    raw.FeatureLayer.Versioning.Enabled,
		Epoch:        raw.FeatureLayer.Versioning.Epoch,
		Version:      raw.FeatureLayer.Versioning.Latest,
	}, nil
}

// FeatureCount fetches the authoritative remote feature count.
func (c *Client) FeatureCount(ctx context.Context, resourceID int64) (int64, error) {
	url := fmt.Sprintf("%s/api/resource/%d/feature_count", c.baseURL, resourceID)
	body, _, err := c.get(ctx, url)
	if err != nil {
		return 0, err
	}

	var raw struct {
		TotalCount int64 `json:"total_count"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return 0, fmt.Errorf("invalid feature_count response: %w", err)
	}
	return raw.TotalCount, nil
}

// Feature is the wire shape of one feature for plain (non-versioned) CRUD.
type Feature struct {
	Fields map[string]interface{} `json:"fields"`
	Geom   string                 `json:"geom,omitempty"`
}

// FeatureItem is one feature as the server lists it.
type FeatureItem struct {
	ID     int64                  `json:"id"`
	Fields map[string]interface{} `json:"fields"`
	Geom   string                 `json:"geom"`
}

// Features downloads the full feature set of a resource. Used when a
// container is created or reset.
func (c *Client) Features(ctx context.Context, resourceID int64) ([]FeatureItem, error) {
	url := fmt.Sprintf("%s/api/resource/%d/feature/?geom_format=wkt", c.baseURL, resourceID)
	body, _, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var items []FeatureItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("invalid feature list response: %w", err)
	}
	return items, nil
}

// CreateFeature uploads a new feature and returns its assigned remote fid.
func (c *Client) CreateFeature(ctx context.Context, resourceID int64, f Feature) (domain.FeatureID, error) {
	url := fmt.Sprintf("%s/api/resource/%d/feature/", c.baseURL, resourceID)
	body, err := c.send(ctx, http.MethodPost, url, f)
	if err != nil {
		return 0, err
	}

	var raw struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return 0, fmt.Errorf("invalid create response: %w", err)
	}
	return domain.FeatureID(raw.ID), nil
}

// UpdateFeature uploads changed fields and geometry of one feature.
func (c *Client) UpdateFeature(ctx context.Context, resourceID int64, fid domain.FeatureID, f Feature) error {
	url := fmt.Sprintf("%s/api/resource/%d/feature/%d", c.baseURL, resourceID, fid)
	_, err := c.send(ctx, http.MethodPut, url, f)
	return err
}

// DeleteFeature removes one feature on the server.
func (c *Client) DeleteFeature(ctx context.Context, resourceID int64, fid domain.FeatureID) error {
	url := fmt.Sprintf("%s/api/resource/%d/feature/%d", c.baseURL, resourceID, fid)
	_, err := c.send(ctx, http.MethodDelete, url, nil)
	return err
}

func (c *Client) get(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req)
}

func (c *Client) send(ctx context.Context, method, url string, payload interface{}) ([]byte, error) {
	if payload == nil {
		return c.sendRaw(ctx, method, url, nil)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return c.sendRaw(ctx, method, url, data)
}

// sendRaw issues a request with a pre-encoded JSON body.
func (c *Client) sendRaw(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	data, _, err := c.do(req)
	return data, err
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, &domain.NgwError{URL: req.URL.String(), Message: err.Error(), Reconnect: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &domain.NgwError{
			StatusCode: resp.StatusCode, URL: req.URL.String(), Message: "failed to read response body",
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, &domain.NgwError{
			StatusCode: resp.StatusCode,
			URL:        req.URL.String(),
			Message:    serverMessage(body, resp.StatusCode),
			Reconnect:  resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden,
		}
	}
	return body, resp.StatusCode, nil
}

// serverMessage extracts the server's error message when the body carries
// one.
func serverMessage(body []byte, status int) string {
	var raw struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &raw); err == nil && raw.Message != "" {
		return raw.Message
	}
	return http.StatusText(status)
}
