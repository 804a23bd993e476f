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

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-diff-scraper/internal/config"
	"github.com/JakeFAU/listing-diff-scraper/internal/crawler"
	"github.com/JakeFAU/listing-diff-scraper/internal/pipeline"
)

const testRunID = "0190f3a4-8c2b-7cde-9f00-000000000001"

type fakeRunner struct {
	mu     sync.Mutex
	calls  []crawler.SourceConfig
	report pipeline.Report
	err    error
}

func (f *fakeRunner) Execute(_ context.Context, cfg crawler.SourceConfig) (pipeline.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cfg)
	report := f.report
	if report.RunID == "" {
		report.RunID = testRunID
	}
	report.SourceID = cfg.SourceID()
	if f.err != nil {
		report.Status = pipeline.StatusFailed
		return report, f.err
	}
	return report, nil
}

func testConfig() config.Config {
	return config.Config{
		Sources: map[string]crawler.SourceConfig{
			"militaria": {BaseURL: "https://shop.example.com/", Currency: crawler.CurrencyGBP},
		},
	}
}

func newTestServer(runner RunExecutor) *Server {
	return NewServer(runner, nil, []string{"militariamart"}, testConfig(), zap.NewNop())
}

func serve(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_SubmitRun_Succeeds(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{report: pipeline.Report{Accepted: 12, Status: pipeline.StatusCompleted}}
	rec := serve(newTestServer(runner), http.MethodPost, "/v1/runs",
		[]byte(`{"baseUrl":"https://shop.example.com/","currency":"GBP","sleepBetweenPagesMillis":500}`))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp runResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, testRunID, resp.RunID)
	require.Equal(t, "source#https://shop.example.com/", resp.SourceID)
	require.Equal(t, 12, resp.Accepted)

	require.Len(t, runner.calls, 1)
	require.Equal(t, crawler.CurrencyGBP, runner.calls[0].Currency)
	require.NotNil(t, runner.calls[0].SleepBetweenPagesMillis)
	require.EqualValues(t, 500, *runner.calls[0].SleepBetweenPagesMillis)
}

func TestServer_SubmitRun_InvalidJSON(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	rec := serve(newTestServer(runner), http.MethodPost, "/v1/runs", []byte("{invalid"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, runner.calls)
}

func TestServer_SubmitRun_ErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: base url is required", pipeline.ErrInvalidSource), http.StatusBadRequest},
		{fmt.Errorf("%w: db down", pipeline.ErrSnapshotLookup), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusRequestTimeout},
		{errors.New("generate run id"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := serve(newTestServer(&fakeRunner{err: tc.err}), http.MethodPost, "/v1/runs", []byte(`{"baseUrl":"x"}`))
		require.Equal(t, tc.want, rec.Code, tc.err.Error())
		require.Contains(t, rec.Body.String(), tc.err.Error())
	}
}

func TestServer_SubmitTemplateRun(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	s := newTestServer(runner)

	rec := serve(s, http.MethodPost, "/v1/runs/militaria", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, runner.calls, 1)
	require.Equal(t, "https://shop.example.com/", runner.calls[0].BaseURL)

	rec = serve(s, http.MethodPost, "/v1/runs/unknown", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListSources(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(&fakeRunner{}), http.MethodGet, "/v1/sources", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"sources":["militaria"],"adapters":["militariamart"]}`, rec.Body.String())
}

func TestServer_ReportsHistory(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{report: pipeline.Report{Accepted: 3, Status: pipeline.StatusCompleted}}
	s := newTestServer(runner)
	require.Equal(t, http.StatusOK, serve(s, http.MethodPost, "/v1/runs/militaria", nil).Code)

	rec := serve(s, http.MethodGet, "/v1/reports", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Runs []runDTO `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Runs, 1)
	require.Equal(t, 3, list.Runs[0].Accepted)

	rec = serve(s, http.MethodGet, "/v1/reports/"+testRunID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), testRunID)

	require.Equal(t, http.StatusBadRequest, serve(s, http.MethodGet, "/v1/reports/not-a-uuid", nil).Code)
	require.Equal(t, http.StatusNotFound,
		serve(s, http.MethodGet, "/v1/reports/0190f3a4-8c2b-7cde-9f00-0000000000ff", nil).Code)
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeRunner{})
	require.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/healthz", nil).Code)
	require.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/readyz", nil).Code)

	rec := serve(s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")

	failing := NewServer(&fakeRunner{}, nil, nil, testConfig(), zap.NewNop(), func(context.Context) error {
		return errors.New("pubsub unreachable")
	})
	rec = serve(failing, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "pubsub unreachable")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	s := NewServer(&fakeRunner{}, nil, nil, cfg, zap.NewNop())

	require.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/healthz", nil).Code)
	require.Equal(t, http.StatusForbidden, serve(s, http.MethodGet, "/v1/sources", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/sources", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/v1/sources?api_key=secret", nil).Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(&fakeRunner{}), http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	rec = httptest.NewRecorder()
	newTestServer(&fakeRunner{}).Handler().ServeHTTP(rec, req)
	require.Equal(t, "upstream-id", rec.Header().Get("X-Request-ID"))
}

type panicRunner struct{}

func (panicRunner) Execute(context.Context, crawler.SourceConfig) (pipeline.Report, error) {
	panic("boom")
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(panicRunner{}), http.MethodPost, "/v1/runs", []byte(`{"baseUrl":"x"}`))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	return h.client.Close()
}
