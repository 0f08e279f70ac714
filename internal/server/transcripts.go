package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/vfrelay/internal/transcript"
	"github.com/mohammad-safakhou/vfrelay/internal/voiceflow"
	"go.uber.org/zap"
)

const (
	msgNoSession      = "No session ID was provided"
	msgNoSessionHint  = "Please provide a sessionId query parameter to look up a conversation transcript."
	msgNotFound       = "No transcript found with the provided session ID"
	msgTranscriptFail = "Failed to get transcript URL"
)

// TranscriptSource is the upstream transcript API.
type TranscriptSource interface {
	ListTranscripts(ctx context.Context, apiKey, projectID string) ([]voiceflow.TranscriptSummary, error)
	GetTranscript(ctx context.Context, apiKey, projectID, transcriptID string) ([]voiceflow.TranscriptEvent, error)
}

// FallbackRecorder counts degraded best-effort steps.
type FallbackRecorder interface {
	Fallback(kind string)
}

// TranscriptsHandler serves GET /api/transcript-url.
type TranscriptsHandler struct {
	Upstream       TranscriptSource
	Classifier     *transcript.Classifier
	Renderer       *transcript.Renderer
	CreatorBaseURL string
	Logger         *zap.Logger
	Fallbacks      FallbackRecorder
}

func (h *TranscriptsHandler) Register(g *echo.Group) {
	g.GET("/transcript-url", h.lookup)
}

// TranscriptURLResponse is the JSON answer for a matched session.
type TranscriptURLResponse struct {
	TranscriptURL  string                      `json:"transcriptUrl"`
	TranscriptData voiceflow.TranscriptSummary `json:"transcriptData"`
}

// MissingSessionResponse is returned with 200 when no session id was given.
type MissingSessionResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NotFoundResponse lists the sessions that do exist for the project.
type NotFoundResponse struct {
	Error             string   `json:"error"`
	AvailableSessions []string `json:"availableSessions"`
}

func (h *TranscriptsHandler) lookup(c echo.Context) error {
	apiKey := c.QueryParam("apiKey")
	projectID := c.QueryParam("projectId")
	sessionID := c.QueryParam("sessionId")
	format := transcript.ParseFormat(transcript.Flag(c.QueryParam("html")), transcript.Flag(c.QueryParam("string")))

	if apiKey == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "API key is required")
	}
	if projectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Project ID is required")
	}
	if sessionID == "" {
		return h.missingSession(c, format)
	}

	ctx := c.Request().Context()
	list, err := h.Upstream.ListTranscripts(ctx, apiKey, projectID)
	if err != nil {
		h.Logger.Error("transcript list failed", zap.String("project_id", projectID), zap.Error(err))
		return upstreamFailure(c, msgTranscriptFail, err)
	}

	match, err := transcript.FindTranscript(list, sessionID)
	var nf *transcript.NotFoundError
	if errors.As(err, &nf) {
		return h.notFound(c, format, projectID, nf)
	}
	if err != nil {
		return err
	}

	transcriptURL := transcript.TranscriptURL(h.CreatorBaseURL, projectID, match.ID)
	switch format {
	case transcript.FormatText:
		return c.String(http.StatusOK, transcriptURL)
	case transcript.FormatHTML:
		return h.conversation(c, apiKey, projectID, match.ID, transcriptURL)
	default:
		return c.JSON(http.StatusOK, TranscriptURLResponse{TranscriptURL: transcriptURL, TranscriptData: match})
	}
}

func (h *TranscriptsHandler) missingSession(c echo.Context, format transcript.Format) error {
	switch format {
	case transcript.FormatHTML:
		return h.html(c, http.StatusOK, func(buf *bytes.Buffer) error { return h.Renderer.MissingSession(buf) })
	case transcript.FormatText:
		return c.String(http.StatusOK, msgNoSession)
	default:
		return c.JSON(http.StatusOK, MissingSessionResponse{Success: false, Error: msgNoSession, Message: msgNoSessionHint})
	}
}

func (h *TranscriptsHandler) notFound(c echo.Context, format transcript.Format, projectID string, nf *transcript.NotFoundError) error {
	switch format {
	case transcript.FormatHTML:
		return h.html(c, http.StatusOK, func(buf *bytes.Buffer) error {
			return h.Renderer.NotFound(buf, nf.SessionID, projectID, nf.Available)
		})
	case transcript.FormatText:
		return c.String(http.StatusNotFound, msgNotFound)
	default:
		return c.JSON(http.StatusNotFound, NotFoundResponse{Error: msgNotFound, AvailableSessions: nf.Available})
	}
}

// conversation fetches the event log and renders it. A failed detail fetch
// degrades to the link-only view; the caller never sees that error.
func (h *TranscriptsHandler) conversation(c echo.Context, apiKey, projectID, transcriptID, transcriptURL string) error {
	events, err := h.Upstream.GetTranscript(c.Request().Context(), apiKey, projectID, transcriptID)
	if err != nil {
		h.Logger.Warn("transcript detail fetch failed, rendering link only",
			zap.String("project_id", projectID),
			zap.String("transcript_id", transcriptID),
			zap.Error(err),
		)
		if h.Fallbacks != nil {
			h.Fallbacks.Fallback("transcript_detail")
		}
		return h.html(c, http.StatusOK, func(buf *bytes.Buffer) error { return h.Renderer.LinkOnly(buf, transcriptURL) })
	}

	messages := h.Classifier.Classify(events)
	h.Logger.Debug("transcript classified",
		zap.String("transcript_id", transcriptID),
		zap.Int("events", len(events)),
		zap.Int("messages", len(messages)),
	)
	return h.html(c, http.StatusOK, func(buf *bytes.Buffer) error {
		return h.Renderer.Conversation(buf, transcriptURL, messages)
	})
}

// html renders into a buffer first so a template failure still produces a
// clean error response.
func (h *TranscriptsHandler) html(c echo.Context, code int, render func(*bytes.Buffer) error) error {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		return err
	}
	return c.HTMLBlob(code, buf.Bytes())
}
