// Package registry talks to the flow cell registry REST API.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hochfrequenz/flowcell-ingest/internal/domain"
)

const defaultTimeout = 60 * time.Second

// HTTPError is returned for any non-2xx response
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Unwrap maps 404 to domain.ErrRegistryNotFound and everything else to domain.ErrRegistryTransport
func (e *HTTPError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return domain.ErrRegistryNotFound
	}
	return domain.ErrRegistryTransport
}

// Client is an HTTP client for one project of the registry
type Client struct {
	baseURL string
	project string
	token   string
	client  *http.Client
}

// NewClient creates a client for baseURL scoped to the given project UUID
func NewClient(baseURL, project, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		project: project,
		token:   token,
		client: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// Project returns the project UUID the client is scoped to
func (c *Client) Project() string {
	return c.project
}

// Resolve looks up a flow cell by its natural key
func (c *Client) Resolve(ctx context.Context, key domain.FlowCellKey) (*domain.FlowCell, error) {
	path := fmt.Sprintf("/api/flowcells/resolve/%s/%s/%s/%s/",
		url.PathEscape(key.Project),
		url.PathEscape(key.Instrument),
		strconv.Itoa(key.RunNumber),
		url.PathEscape(key.Flowcell))

	var fc domain.FlowCell
	if err := c.do(ctx, http.MethodGet, path, nil, &fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Create registers a new flow cell and returns the stored record
func (c *Client) Create(ctx context.Context, fc *domain.FlowCell) (*domain.FlowCell, error) {
	path := fmt.Sprintf("/api/flowcells/%s/", url.PathEscape(c.project))

	var created domain.FlowCell
	if err := c.do(ctx, http.MethodPost, path, fc, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// Update sends the ingestion-owned fields of a flow cell as a partial update
func (c *Client) Update(ctx context.Context, uuid string, patch domain.FlowCellPatch) (*domain.FlowCell, error) {
	path := fmt.Sprintf("/api/flowcells/%s/%s/", url.PathEscape(c.project), url.PathEscape(uuid))

	var updated domain.FlowCell
	if err := c.do(ctx, http.MethodPatch, path, patch, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// PushHistogram stores an index histogram for one lane of a flow cell
func (c *Client) PushHistogram(ctx context.Context, hist domain.LaneIndexHistogram) error {
	path := fmt.Sprintf("/api/indexhistos/%s/%s/", url.PathEscape(c.project), url.PathEscape(hist.Flowcell))
	return c.do(ctx, http.MethodPost, path, hist, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	target := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRegistryTransport, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrRegistryTransport, method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{Method: method, URL: target, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response of %s %s: %v", domain.ErrRegistryTransport, method, target, err)
	}
	return nil
}
