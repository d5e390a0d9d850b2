package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tableside/internal/domain"
)

// ErrTransport means no usable response reached us from the order service.
// Durable work is retried later; it is never surfaced as a user error.
var ErrTransport = errors.New("remote: transport failure")

const (
	SyncOrdersPath    = "/api/sync/orders"
	SubmitOrderPath   = "/api/orders"
	MenuSnapshotPath  = "/api/menu/snapshot"
	TableSnapshotPath = "/api/tables/snapshot"
)

// Client talks to the remote order service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

func NewClient(baseURL string, httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		timeout: timeout,
	}
}

// SyncOrders submits a batch of pending orders to the idempotent sync
// endpoint. A transport failure (no response) is reported as ErrTransport;
// the caller reverts the batch and retries later.
func (c *Client) SyncOrders(ctx context.Context, orders []domain.SyncOrder) (domain.SyncResponse, error) {
	var out domain.SyncResponse
	err := c.postJSON(ctx, SyncOrdersPath, domain.SyncRequest{Orders: orders}, &out)
	if err != nil {
		return domain.SyncResponse{}, err
	}
	return out, nil
}

// SubmitResult is the outcome of an immediate single-order submission.
type SubmitResult struct {
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
}

// Queued reports whether the submission was only accepted for later
// delivery (the offline path) rather than confirmed by the service.
func (r SubmitResult) Queued() bool { return r.Status == "queued" }

// SubmitOrder attempts an immediate submission of one order. When the
// device is offline the request interceptor answers it with a queued
// acceptance, since the order is already durable in the local queue.
func (c *Client) SubmitOrder(ctx context.Context, order domain.SyncOrder) (SubmitResult, error) {
	var out SubmitResult
	if err := c.postJSON(ctx, SubmitOrderPath, order, &out); err != nil {
		return SubmitResult{}, err
	}
	return out, nil
}

// FetchMenu retrieves the full menu snapshot.
func (c *Client) FetchMenu(ctx context.Context) (domain.MenuSnapshotResponse, error) {
	var out domain.MenuSnapshotResponse
	if err := c.getJSON(ctx, MenuSnapshotPath, &out); err != nil {
		return domain.MenuSnapshotResponse{}, err
	}
	return out, nil
}

// FetchTables retrieves the full floor/table snapshot.
func (c *Client) FetchTables(ctx context.Context) (domain.TableSnapshotResponse, error) {
	var out domain.TableSnapshotResponse
	if err := c.getJSON(ctx, TableSnapshotPath, &out); err != nil {
		return domain.TableSnapshotResponse{}, err
	}
	return out, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrTransport, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	// A stale replay from the request interceptor is fine for UI reads but
	// not for API calls that have their own fallback layer: those should
	// see the outage and keep their last-known-good state instead.
	if resp.Header.Get("X-Tableside-Cache") == "stale" {
		return fmt.Errorf("%w: %s %s: served from offline cache", ErrTransport, req.Method, req.URL.Path)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s %s: status %d", ErrTransport, req.Method, req.URL.Path, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: status %d: %s", domain.ErrRejected, req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
