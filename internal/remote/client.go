// Package remote is the typed REST client for the stocktake backend.
//
// The backend is treated as an opaque record store with conventional CRUD
// semantics keyed by record id. Every call carries a bounded timeout; a
// timed-out call surfaces as a transient error, never a permanent one.
// Not-found is an indication, not an error: FetchByID returns (nil, nil)
// and Remove treats an already-absent record as success.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stocktake/stocktake/internal/model"
)

// DefaultTimeout bounds each individual remote call.
const DefaultTimeout = 10 * time.Second

// Client wraps interactions with the remote record store.
type Client struct {
	baseURL string
	hc      *http.Client
	timeout time.Duration
}

// NewClient constructs a client for the given base URL. A zero timeout
// falls back to DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		// Per-call deadlines come from context.WithTimeout; the client-wide
		// timeout is a backstop slightly above it.
		hc:      &http.Client{Timeout: timeout + 5*time.Second},
		timeout: timeout,
	}
}

// BaseURL returns the configured backend URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Ping checks whether the backend is reachable. Used by the scheduler's
// connectivity watcher.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return &Error{Kind: KindPermanent, Op: "ping", Err: err}
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return &Error{Kind: KindTransient, Op: "ping", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return &Error{Kind: classifyStatus(resp.StatusCode), Op: "ping", Status: resp.StatusCode}
	}
	return nil
}

// Items returns the items collection.
func (c *Client) Items() *Collection[model.Item] {
	return &Collection[model.Item]{c: c, path: "/items", name: "items"}
}

// Sessions returns the sessions collection.
func (c *Client) Sessions() *Collection[model.Session] {
	return &Collection[model.Session]{c: c, path: "/sessions", name: "sessions"}
}

// Entries returns the count-entries collection.
func (c *Client) Entries() *Collection[model.CountEntry] {
	return &Collection[model.CountEntry]{c: c, path: "/count-entries", name: "count_entries"}
}

// Reports returns the reports collection.
func (c *Client) Reports() *Collection[model.Report] {
	return &Collection[model.Report]{c: c, path: "/reports", name: "reports"}
}

// Collection is the typed CRUD surface for one entity collection.
type Collection[T any] struct {
	c    *Client
	path string
	name string
}

// Name identifies the collection in logs and pass results.
func (col *Collection[T]) Name() string { return col.name }

// FetchAll retrieves every record in the collection.
func (col *Collection[T]) FetchAll(ctx context.Context) ([]T, error) {
	var out []T
	if err := col.c.do(ctx, http.MethodGet, col.path, col.name+".fetch_all", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchById retrieves one record. A missing id is (nil, nil), never an
// error; other failures carry their kind.
func (col *Collection[T]) FetchById(ctx context.Context, id string) (*T, error) {
	var out T
	err := col.c.do(ctx, http.MethodGet, col.path+"/"+id, col.name+".fetch", nil, &out)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Create stores a new record and returns the server's canonical copy. The
// server may assign a different id than the client-generated one; callers
// must reconcile identities. A duplicate-key rejection has kind
// KindDuplicate.
func (col *Collection[T]) Create(ctx context.Context, rec T) (*T, error) {
	var out T
	if err := col.c.do(ctx, http.MethodPost, col.path, col.name+".create", rec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update replaces the record's fields and returns the server's canonical
// copy. A missing target id has kind KindNotFound so the caller can fall
// back to Create.
func (col *Collection[T]) Update(ctx context.Context, id string, rec T) (*T, error) {
	var out T
	if err := col.c.do(ctx, http.MethodPut, col.path+"/"+id, col.name+".update", rec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Remove deletes the record. Removing an already-absent record is success.
func (col *Collection[T]) Remove(ctx context.Context, id string) error {
	err := col.c.do(ctx, http.MethodDelete, col.path+"/"+id, col.name+".remove", nil, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// do issues one JSON request with the client's bounded timeout and maps
// failures onto the error taxonomy.
func (c *Client) do(ctx context.Context, method, path, op string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindPermanent, Op: op, Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Kind: KindPermanent, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		// Network-level failures (refused, reset, deadline) are transient
		// by definition: the record stays dirty and is retried.
		return &Error{Kind: KindTransient, Op: op, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &Error{Kind: classifyStatus(resp.StatusCode), Op: op, Status: resp.StatusCode}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindPermanent, Op: op, Status: resp.StatusCode,
			Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}
