package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/vfrelay/internal/knowledge"
	"github.com/mohammad-safakhou/vfrelay/internal/voiceflow"
	"go.uber.org/zap"
)

// KnowledgeQuerier is the upstream knowledge-base call.
type KnowledgeQuerier interface {
	QueryKnowledge(ctx context.Context, apiKey, utterance string) (*voiceflow.KnowledgeResponse, error)
}

// KnowledgeHandler serves POST /api/knowledge-query.
type KnowledgeHandler struct {
	Upstream  KnowledgeQuerier
	Formatter *knowledge.Formatter
	Logger    *zap.Logger
}

func (h *KnowledgeHandler) Register(g *echo.Group) {
	g.POST("/knowledge-query", h.query)
}

type knowledgeQueryRequest struct {
	APIKey        string `json:"apiKey"`
	LastUtterance string `json:"lastUtterance"`
}

// KnowledgeQueryResponse is the answer returned to callers.
type KnowledgeQueryResponse struct {
	Answer      string          `json:"answer"`
	RawResponse json.RawMessage `json:"rawResponse"`
	Output      json.RawMessage `json:"output,omitempty"`
}

func (h *KnowledgeHandler) query(c echo.Context) error {
	var req knowledgeQueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.APIKey == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "API key is required")
	}
	if req.LastUtterance == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Last utterance is required")
	}

	ctx := c.Request().Context()
	resp, err := h.Upstream.QueryKnowledge(ctx, req.APIKey, req.LastUtterance)
	if err != nil {
		h.Logger.Error("knowledge base query failed", zap.Error(err))
		return upstreamFailure(c, "Failed to query Voiceflow knowledge base", err)
	}

	return c.JSON(http.StatusOK, KnowledgeQueryResponse{
		Answer:      h.Formatter.Format(ctx, resp.Chunks),
		RawResponse: resp.Raw,
		Output:      resp.Output,
	})
}
