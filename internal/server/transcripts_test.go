package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/vfrelay/internal/transcript"
	"github.com/mohammad-safakhou/vfrelay/internal/voiceflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeTranscripts struct {
	list      []voiceflow.TranscriptSummary
	listErr   error
	events    []voiceflow.TranscriptEvent
	detailErr error

	listCalls   int
	detailCalls int
}

func (f *fakeTranscripts) ListTranscripts(_ context.Context, _, _ string) ([]voiceflow.TranscriptSummary, error) {
	f.listCalls++
	return f.list, f.listErr
}

func (f *fakeTranscripts) GetTranscript(_ context.Context, _, _, _ string) ([]voiceflow.TranscriptEvent, error) {
	f.detailCalls++
	return f.events, f.detailErr
}

type countingFallbacks map[string]int

func (c countingFallbacks) Fallback(kind string) { c[kind]++ }

func decodeList(t *testing.T, raw string) []voiceflow.TranscriptSummary {
	t.Helper()
	var out []voiceflow.TranscriptSummary
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

func decodeEvents(t *testing.T, raw string) []voiceflow.TranscriptEvent {
	t.Helper()
	var out []voiceflow.TranscriptEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

func newTranscriptsEcho(up TranscriptSource, logger *zap.Logger, fb FallbackRecorder) *echo.Echo {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := echo.New()
	e.HTTPErrorHandler = errorHandler(logger)
	h := &TranscriptsHandler{
		Upstream:       up,
		Classifier:     transcript.NewClassifier(time.UTC, "15:04:05"),
		Renderer:       transcript.NewRenderer(),
		CreatorBaseURL: "https://creator.voiceflow.com",
		Logger:         logger,
		Fallbacks:      fb,
	}
	h.Register(e.Group("/api"))
	return e
}

func get(e *echo.Echo, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

const sampleList = `[{"_id":"t-1","sessionID":"sess-a","browser":"Firefox"},{"_id":"t-2","sessionID":"sess-b","os":"macOS"}]`

func TestTranscriptLookupRequiresFields(t *testing.T) {
	up := &fakeTranscripts{}
	e := newTranscriptsEcho(up, nil, nil)

	rec := get(e, "/api/transcript-url?projectId=p&sessionId=s")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"API key is required"}`, rec.Body.String())

	rec = get(e, "/api/transcript-url?apiKey=k&sessionId=s&html=true")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Project ID is required"}`, rec.Body.String())

	assert.Zero(t, up.listCalls)
}

func TestTranscriptLookupMissingSession(t *testing.T) {
	up := &fakeTranscripts{}
	e := newTranscriptsEcho(up, nil, nil)

	rec := get(e, "/api/transcript-url?apiKey=k&projectId=p")
	assert.Equal(t, http.StatusOK, rec.Code)
	var body MissingSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "No session ID was provided", body.Error)
	assert.NotEmpty(t, body.Message)

	rec = get(e, "/api/transcript-url?apiKey=k&projectId=p&string=true")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "No session ID was provided", rec.Body.String())

	rec = get(e, "/api/transcript-url?apiKey=k&projectId=p&html=true&string=true")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/html")
	assert.Contains(t, rec.Body.String(), "Missing Session ID")

	assert.Zero(t, up.listCalls)
}

func TestTranscriptLookupJSON(t *testing.T) {
	up := &fakeTranscripts{list: decodeList(t, sampleList)}
	e := newTranscriptsEcho(up, nil, nil)

	rec := get(e, "/api/transcript-url?apiKey=k&projectId=proj&sessionId=sess-b")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"transcriptUrl":"https://creator.voiceflow.com/project/proj/transcripts/t-2",
		"transcriptData":{"_id":"t-2","sessionID":"sess-b","os":"macOS"}
	}`, rec.Body.String())
	assert.Zero(t, up.detailCalls)
}

func TestTranscriptLookupAliasedProject(t *testing.T) {
	up := &fakeTranscripts{list: decodeList(t, sampleList)}
	e := newTranscriptsEcho(up, nil, nil)

	rec := get(e, "/api/transcript-url?apiKey=k&projectId=678e0f128a8526a7fdf491cd&sessionId=sess-a&string=true")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/plain")
	assert.Equal(t, "https://creator.voiceflow.com/project/678e0f128a8526a7fdf491ce/transcripts/t-1", rec.Body.String())
}

func TestTranscriptLookupNotFound(t *testing.T) {
	up := &fakeTranscripts{list: decodeList(t, sampleList)}
	e := newTranscriptsEcho(up, nil, nil)

	rec := get(e, "/api/transcript-url?apiKey=k&projectId=proj&sessionId=nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"No transcript found with the provided session ID","availableSessions":["sess-a","sess-b"]}`, rec.Body.String())

	rec = get(e, "/api/transcript-url?apiKey=k&projectId=proj&sessionId=nope&string=true")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(e, "/api/transcript-url?apiKey=k&projectId=proj&sessionId=nope&html=true")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Conversation Not Found")
	assert.Contains(t, rec.Body.String(), "nope")
	assert.Contains(t, rec.Body.String(), "proj")
	assert.Zero(t, up.detailCalls)
}

func TestTranscriptLookupListFailure(t *testing.T) {
	up := &fakeTranscripts{listErr: &voiceflow.UpstreamError{
		Op: "list_transcripts", StatusCode: 401, Status: "401 Unauthorized", Body: []byte(`{"message":"bad key"}`),
	}}
	e := newTranscriptsEcho(up, nil, nil)

	for _, q := range []string{"", "&string=true", "&html=true"} {
		rec := get(e, "/api/transcript-url?apiKey=k&projectId=proj&sessionId=s"+q)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, q)
		assert.JSONEq(t, `{"error":"Failed to get transcript URL","details":{"message":"bad key"}}`, rec.Body.String(), q)
	}
}

func TestTranscriptLookupHTMLConversation(t *testing.T) {
	up := &fakeTranscripts{
		list: decodeList(t, sampleList),
		events: decodeEvents(t, `[
			{"type":"request","startTime":"2024-05-01T10:00:05Z","payload":{"type":"intent","payload":{"query":"where is my order"}}},
			{"type":"text","startTime":"2024-05-01T10:00:00Z","payload":{"payload":{"message":"Hello, I'm the assistant"}}},
			{"type":"debug","startTime":"2024-05-01T10:00:01Z","payload":{"message":"hidden"}},
			{"type":"text","startTime":"2024-05-01T10:00:09Z","payload":{"payload":{"message":"It ships tomorrow"}}}
		]`),
	}
	e := newTranscriptsEcho(up, nil, nil)

	rec := get(e, "/api/transcript-url?apiKey=k&projectId=proj&sessionId=sess-a&html=true&string=true")
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()

	greet := strings.Index(out, "Hello, I&#39;m the assistant")
	ask := strings.Index(out, "where is my order")
	answer := strings.Index(out, "It ships tomorrow")
	require.True(t, greet >= 0 && ask >= 0 && answer >= 0, out)
	assert.True(t, greet < ask && ask < answer)
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "10:00:05")
	assert.Contains(t, out, `href="https://creator.voiceflow.com/project/proj/transcripts/t-1"`)
	assert.Equal(t, 1, up.detailCalls)
}

func TestTranscriptLookupHTMLDetailFailureDegrades(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	fb := countingFallbacks{}
	up := &fakeTranscripts{list: decodeList(t, sampleList), detailErr: errors.New("connection reset")}
	e := newTranscriptsEcho(up, zap.New(core), fb)

	rec := get(e, "/api/transcript-url?apiKey=k&projectId=proj&sessionId=sess-a&html=true")
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, `href="https://creator.voiceflow.com/project/proj/transcripts/t-1"`)
	assert.NotContains(t, out, "connection reset")
	assert.NotContains(t, out, `class="bubble"`)
	assert.Equal(t, 1, logs.FilterMessage("transcript detail fetch failed, rendering link only").Len())
	assert.Equal(t, 1, fb["transcript_detail"])
}
