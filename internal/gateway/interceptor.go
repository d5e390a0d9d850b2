package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"tableside/internal/logger"
	"tableside/internal/storage"
)

const cacheCollection = "http_cache"

// offlinePage is the navigation fallback shown when a page is requested
// with no network and no cached copy.
const offlinePage = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Offline</title></head>
<body>
<h1>You are offline</h1>
<p>Orders you take are saved on this device and will be sent to the
kitchen as soon as the connection returns.</p>
</body>
</html>
`

// Interceptor is an http.RoundTripper that keeps the terminal usable
// without a network: successful reads are cached, failed reads are served
// from the cache, and failed order submissions are answered as accepted
// because the order is already durable in the pending queue.
type Interceptor struct {
	inner      http.RoundTripper
	store      storage.Store
	log        *logger.Logger
	submitPath string
}

func New(inner http.RoundTripper, store storage.Store, log *logger.Logger, submitPath string) *Interceptor {
	if inner == nil {
		inner = http.DefaultTransport
	}
	return &Interceptor{inner: inner, store: store, log: log, submitPath: submitPath}
}

type cachedResponse struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	switch {
	case req.Method == http.MethodGet:
		return i.roundTripRead(req)
	case req.Method == http.MethodPost && req.URL.Path == i.submitPath:
		return i.roundTripSubmit(req)
	default:
		return i.inner.RoundTrip(req)
	}
}

func (i *Interceptor) roundTripRead(req *http.Request) (*http.Response, error) {
	resp, err := i.inner.RoundTrip(req)
	if err == nil {
		i.cacheResponse(req, resp)
		return resp, nil
	}

	if cached, ok := i.cachedFor(req); ok {
		i.log.Debug("serving_cached_response", map[string]any{"url": req.URL.String()})
		return replay(req, cached), nil
	}
	if wantsHTML(req) {
		return synthesize(req, http.StatusServiceUnavailable, "text/html; charset=utf-8", []byte(offlinePage)), nil
	}
	body, _ := json.Marshal(map[string]string{"error": "service unavailable offline"})
	return synthesize(req, http.StatusServiceUnavailable, "application/json", body), nil
}

func (i *Interceptor) roundTripSubmit(req *http.Request) (*http.Response, error) {
	resp, err := i.inner.RoundTrip(req)
	if err == nil {
		return resp, nil
	}
	// The order is already recorded locally; answer as accepted and let
	// the sync engine deliver it.
	i.log.Info("order_submit_deferred", map[string]any{"url": req.URL.String()})
	body, _ := json.Marshal(map[string]string{"status": "queued"})
	return synthesize(req, http.StatusAccepted, "application/json", body), nil
}

func (i *Interceptor) cacheResponse(req *http.Request, resp *http.Response) {
	if resp.StatusCode != http.StatusOK {
		return
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		resp.Body = io.NopCloser(bytes.NewReader(nil))
		return
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	entry, err := json.Marshal(cachedResponse{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
	})
	if err != nil {
		return
	}
	if err := i.store.Put(context.Background(), cacheCollection, cacheKey(req), entry); err != nil {
		i.log.Error("cache_write_failed", err, map[string]any{"url": req.URL.String()})
	}
}

func (i *Interceptor) cachedFor(req *http.Request) (cachedResponse, bool) {
	raw, err := i.store.Get(req.Context(), cacheCollection, cacheKey(req))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			i.log.Error("cache_read_failed", err, map[string]any{"url": req.URL.String()})
		}
		return cachedResponse{}, false
	}
	var cached cachedResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		return cachedResponse{}, false
	}
	return cached, true
}

func replay(req *http.Request, cached cachedResponse) *http.Response {
	header := cached.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("X-Tableside-Cache", "stale")
	return &http.Response{
		StatusCode:    cached.Status,
		Status:        http.StatusText(cached.Status),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(cached.Body)),
		ContentLength: int64(len(cached.Body)),
		Request:       req,
	}
}

func synthesize(req *http.Request, status int, contentType string, body []byte) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", contentType)
	header.Set("X-Tableside-Offline", "1")
	return &http.Response{
		StatusCode:    status,
		Status:        http.StatusText(status),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func cacheKey(req *http.Request) string {
	return req.Method + " " + req.URL.String()
}

func wantsHTML(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
