package voiceflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mohammad-safakhou/vfrelay/config"
	"github.com/mohammad-safakhou/vfrelay/internal/helpers"
	"go.uber.org/zap"
)

const errorBodyLimit = 64 << 10

// Observer receives one call per outbound request.
type Observer interface {
	ObserveUpstream(op, outcome string, elapsed time.Duration)
}

// Client talks to the Voiceflow runtime and transcript APIs. It performs no
// retries: each operation is exactly one HTTP request.
type Client struct {
	http       *http.Client
	runtimeURL string
	apiURL     string
	knowledge  config.KnowledgeConfig
	logger     *zap.Logger
	observer   Observer
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

func NewClient(cfg config.VoiceflowConfig, opts ...Option) *Client {
	cfg = cfg.Normalize()
	c := &Client{
		http:       &http.Client{Timeout: cfg.Timeout},
		runtimeURL: cfg.RuntimeBaseURL,
		apiURL:     cfg.APIBaseURL,
		knowledge:  cfg.Knowledge,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type knowledgeRequest struct {
	Question   string            `json:"question"`
	Settings   knowledgeSettings `json:"settings"`
	ChunkLimit int               `json:"chunkLimit"`
}

type knowledgeSettings struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
}

// QueryKnowledge asks the project's knowledge base. The utterance is sent
// wrapped in braces, which is how the runtime expects interpolated input.
func (c *Client) QueryKnowledge(ctx context.Context, apiKey, utterance string) (*KnowledgeResponse, error) {
	body := knowledgeRequest{
		Question: "{" + utterance + "}",
		Settings: knowledgeSettings{
			Model:       c.knowledge.Model,
			Temperature: c.knowledge.Temperature,
		},
		ChunkLimit: c.knowledge.ChunkLimit,
	}
	var out KnowledgeResponse
	if err := c.doJSON(ctx, "knowledge_query", http.MethodPost, c.runtimeURL+"/knowledge-base/query", apiKey, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTranscripts returns the project's transcript summaries in upstream order.
func (c *Client) ListTranscripts(ctx context.Context, apiKey, projectID string) ([]TranscriptSummary, error) {
	endpoint := fmt.Sprintf("%s/v2/transcripts/%s", c.apiURL, url.PathEscape(projectID))
	var out []TranscriptSummary
	if err := c.doJSON(ctx, "list_transcripts", http.MethodGet, endpoint, apiKey, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTranscript returns the raw event log of one transcript.
func (c *Client) GetTranscript(ctx context.Context, apiKey, projectID, transcriptID string) ([]TranscriptEvent, error) {
	endpoint := fmt.Sprintf("%s/v2/transcripts/%s/%s", c.apiURL, url.PathEscape(projectID), url.PathEscape(transcriptID))
	var out []TranscriptEvent
	if err := c.doJSON(ctx, "get_transcript", http.MethodGet, endpoint, apiKey, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, endpoint, apiKey string, body any, out any) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			c.logger.Debug("upstream call failed", zap.String("op", op), zap.Error(err))
		}
		if c.observer != nil {
			c.observer.ObserveUpstream(op, outcome, time.Since(start))
		}
	}()

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("voiceflow %s: encode request: %w", op, err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("voiceflow %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("voiceflow %s: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// read response body (best-effort) to include in error
		b, _ := helpers.ReadLimitedAndClose(resp.Body, errorBodyLimit)
		return &UpstreamError{Op: op, StatusCode: resp.StatusCode, Status: resp.Status, Body: b}
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("voiceflow %s: empty response body", op)
		}
		return fmt.Errorf("voiceflow %s: decode response: %w", op, err)
	}
	return nil
}
