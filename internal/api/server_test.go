package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/turmoilwatch/internal/config"
	"github.com/JakeFAU/turmoilwatch/internal/scheduler"
	"github.com/JakeFAU/turmoilwatch/internal/storage/memory"
	"github.com/JakeFAU/turmoilwatch/internal/watch"
)

const renderedPage = "<!DOCTYPE html><html><body>No, CNBC last mentioned it on February 24, 2020.</body></html>"

func TestServer_Index_BeforeFirstRender(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t, config.AuthConfig{})
	rec := serve(server, http.MethodGet, "/", nil)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "30", rec.Header().Get("Retry-After"))
}

func TestServer_Index_ServesFileVerbatim(t *testing.T) {
	t.Parallel()

	server, site, _ := newTestServer(t, config.AuthConfig{})
	putPage(t, site, renderedPage)

	rec := serve(server, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Equal(t, renderedPage, rec.Body.String())

	rec = serve(server, http.MethodHead, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Body.String())
}

func TestServer_Index_ReadError(t *testing.T) {
	t.Parallel()

	cfg := testConfig(config.AuthConfig{})
	server := NewServer(&failingSource{err: errors.New("permission denied")}, &fakeCycles{}, &fakeRecords{}, cfg, zap.NewNop())

	rec := serve(server, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	server, site, _ := newTestServer(t, config.AuthConfig{})
	require.Equal(t, http.StatusServiceUnavailable, serve(server, http.MethodGet, "/readyz", nil).Code)

	putPage(t, site, renderedPage)
	require.Equal(t, http.StatusOK, serve(server, http.MethodGet, "/readyz", nil).Code)
	require.Equal(t, http.StatusOK, serve(server, http.MethodGet, "/healthz", nil).Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t, config.AuthConfig{})
	rec := serve(server, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "turmoil_cycles_skipped_total")
}

func TestServer_Status(t *testing.T) {
	t.Parallel()

	server, _, cycles := newTestServer(t, config.AuthConfig{})
	cycles.last = watch.CycleResult{ID: "cycle-9", Outcome: watch.OutcomeOK, Found: true}
	cycles.hasLast = true

	rec := serve(server, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "https://www.cnbc.com", body.SourceURL)
	require.Equal(t, "15m0s", body.Interval)
	require.NotNil(t, body.LastCycle)
	require.Equal(t, "cycle-9", body.LastCycle.ID)
	require.NotNil(t, body.Record)
	require.Equal(t, "/x", body.Record.URL)
}

func TestServer_Refresh(t *testing.T) {
	t.Parallel()

	server, _, cycles := newTestServer(t, config.AuthConfig{})
	cycles.next = watch.CycleResult{ID: "manual", Outcome: watch.OutcomeOK}

	rec := serve(server, http.MethodPost, "/v1/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"id":"manual"`)

	cycles.err = scheduler.ErrBusy
	rec = serve(server, http.MethodPost, "/v1/refresh", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(server, http.MethodGet, "/v1/refresh", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	server, site, _ := newTestServer(t, config.AuthConfig{Enabled: true, APIKey: "secret"})
	putPage(t, site, renderedPage)

	// The public page stays open.
	require.Equal(t, http.StatusOK, serve(server, http.MethodGet, "/", nil).Code)

	require.Equal(t, http.StatusForbidden, serve(server, http.MethodGet, "/v1/status", nil).Code)
	require.Equal(t, http.StatusForbidden, serve(server, http.MethodGet, "/v1/status", http.Header{"X-API-Key": {"wrong"}}).Code)
	require.Equal(t, http.StatusOK, serve(server, http.MethodGet, "/v1/status", http.Header{"X-API-Key": {"secret"}}).Code)
	require.Equal(t, http.StatusOK, serve(server, http.MethodGet, "/v1/status?api_key=secret", nil).Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t, config.AuthConfig{})
	rec := serve(server, http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(server, http.MethodGet, "/healthz", http.Header{"X-Request-ID": {"trace-1"}})
	require.Equal(t, "trace-1", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	s := &Server{logger: zap.NewNop()}
	h := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

func testConfig(auth config.AuthConfig) config.Config {
	return config.Config{
		Auth:     auth,
		Source:   config.SourceConfig{URL: "https://www.cnbc.com"},
		Schedule: config.ScheduleConfig{Interval: 15 * time.Minute},
		Site:     config.SiteConfig{Dir: "site", IndexFile: "index.html"},
	}
}

func newTestServer(t *testing.T, auth config.AuthConfig) (*Server, *memory.BlobStore, *fakeCycles) {
	t.Helper()
	site := memory.NewBlobStore()
	cycles := &fakeCycles{}
	records := &fakeRecords{rec: watch.MatchRecord{Timestamp: "2024-08-05T13:30:00Z", URL: "/x"}, ok: true}
	return NewServer(site, cycles, records, testConfig(auth), zap.NewNop()), site, cycles
}

func putPage(t *testing.T, site *memory.BlobStore, body string) {
	t.Helper()
	_, err := site.PutObject(context.Background(), "index.html", "text/html; charset=utf-8", bytes.NewBufferString(body))
	require.NoError(t, err)
}

func serve(s *Server, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[http.CanonicalHeaderKey(k)] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

type fakeCycles struct {
	mu      sync.Mutex
	next    watch.CycleResult
	err     error
	last    watch.CycleResult
	hasLast bool
}

func (c *fakeCycles) TriggerNow(context.Context) (watch.CycleResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return watch.CycleResult{Outcome: watch.OutcomeSkipped}, c.err
	}
	c.last, c.hasLast = c.next, true
	return c.next, nil
}

func (c *fakeCycles) Last() (watch.CycleResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.hasLast
}

func (c *fakeCycles) Busy() bool {
	return false
}

type fakeRecords struct {
	rec watch.MatchRecord
	ok  bool
}

func (r *fakeRecords) Load(context.Context) (watch.MatchRecord, bool, error) {
	return r.rec, r.ok, nil
}

func (r *fakeRecords) Save(context.Context, watch.MatchRecord) error {
	return nil
}

func (r *fakeRecords) Delete(context.Context) error {
	return nil
}

type failingSource struct {
	err error
}

func (f *failingSource) GetObject(context.Context, string) ([]byte, error) {
	return nil, f.err
}

func (f *failingSource) Exists(string) bool {
	return true
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
