package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/vfrelay/config"
	"github.com/mohammad-safakhou/vfrelay/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/transcripts/proj", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"unauthorized"}`))
			return
		}
		_, _ = w.Write([]byte(`[{"_id":"t-1","sessionID":"sess-a"}]`))
	})
	mux.HandleFunc("/v2/transcripts/proj/t-1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"type":"text","startTime":"2024-05-01T10:00:00Z","payload":{"payload":{"message":"hi there"}}}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T) (*echo.Echo, *metrics.Metrics) {
	t.Helper()
	up := newUpstream(t)
	cfg := config.Default()
	cfg.Voiceflow.APIBaseURL = up.URL
	cfg.Voiceflow.RuntimeBaseURL = up.URL
	cfg.Transcripts.DisplayTimezone = "UTC"
	m := metrics.New()
	return New(cfg, zap.NewNop(), m), m
}

func TestHealth(t *testing.T) {
	e, _ := newTestServer(t)
	rec := get(e, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestEndToEndTranscriptAndMetrics(t *testing.T) {
	e, _ := newTestServer(t)

	rec := get(e, "/api/transcript-url?apiKey=good-key&projectId=proj&sessionId=sess-a&html=true")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hi there")

	rec = get(e, "/api/transcript-url?apiKey=bad-key&projectId=proj&sessionId=sess-a")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to get transcript URL","details":{"message":"unauthorized"}}`, rec.Body.String())

	rec = get(e, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `vfrelay_upstream_requests_total{op="list_transcripts",outcome="ok"} 1`)
	assert.Contains(t, body, `vfrelay_upstream_requests_total{op="list_transcripts",outcome="error"} 1`)
	assert.Contains(t, body, `vfrelay_upstream_requests_total{op="get_transcript",outcome="ok"} 1`)
	assert.Contains(t, body, `vfrelay_http_requests_total{code="500",method="GET",route="/api/transcript-url"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	e, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/knowledge-query", nil)
	req.Header.Set(echo.HeaderOrigin, "https://app.example")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestUnknownRouteUsesJSONError(t *testing.T) {
	e, _ := newTestServer(t)
	rec := get(e, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"error"`))
}

func TestRunStopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	cfg := config.Default()
	cfg.General.Listen = addr
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, zap.NewNop()) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestDocsEndpoints(t *testing.T) {
	e, _ := newTestServer(t)

	rec := get(e, "/api/openapi.yaml")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/transcript-url:")
	assert.Contains(t, rec.Body.String(), "/api/knowledge-query:")

	rec = get(e, "/api/docs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/openapi.yaml")
}
