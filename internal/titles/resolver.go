package titles

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"github.com/mohammad-safakhou/vfrelay/config"
	"github.com/mohammad-safakhou/vfrelay/internal/helpers"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
)

// Untitled is returned whenever a title cannot be determined.
const Untitled = "Untitled"

var titlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// FallbackRecorder is notified each time a lookup degrades to Untitled.
type FallbackRecorder interface {
	Fallback(kind string)
}

// Resolver fetches web pages and extracts their titles. It never returns an
// error: every failure degrades to Untitled.
type Resolver struct {
	http      *http.Client
	userAgent string
	strategy  string
	maxBody   int64
	logger    *zap.Logger
	recorder  FallbackRecorder
}

func NewResolver(cfg config.TitlesConfig, logger *zap.Logger, recorder FallbackRecorder) *Resolver {
	cfg = cfg.Normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		http:      &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		strategy:  cfg.Strategy,
		maxBody:   cfg.MaxBodyBytes,
		logger:    logger,
		recorder:  recorder,
	}
}

// Resolve returns the page title of rawURL, or Untitled.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) string {
	if strings.TrimSpace(rawURL) == "" {
		return Untitled
	}
	title, err := r.fetch(ctx, rawURL)
	if err != nil {
		r.logger.Warn("title lookup failed", zap.String("url", rawURL), zap.Error(err))
		r.fallback()
		return Untitled
	}
	if title == "" {
		r.fallback()
		return Untitled
	}
	return title
}

func (r *Resolver) fallback() {
	if r.recorder != nil {
		r.recorder.Fallback("title")
	}
}

func (r *Resolver) fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := r.http.Do(req)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	utf8Body, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		resp.Body.Close()
		return "", fmt.Errorf("detect charset: %w", err)
	}
	body, err := helpers.ReadLimitedAndClose(struct {
		io.Reader
		io.Closer
	}{utf8Body, resp.Body}, r.maxBody)
	if err != nil {
		return "", err
	}

	if r.strategy == "readability" {
		if title := readabilityTitle(body, resp.Request.URL); title != "" {
			return title, nil
		}
	}
	return ExtractTitle(body), nil
}

// ExtractTitle returns the text of the first <title> element in page, or ""
// when there is none.
func ExtractTitle(page []byte) string {
	m := titlePattern.FindSubmatch(page)
	if m == nil {
		return ""
	}
	return helpers.PlainText(string(m[1]))
}

func readabilityTitle(page []byte, pageURL *url.URL) string {
	article, err := readability.FromReader(bytes.NewReader(page), pageURL)
	if err != nil {
		return ""
	}
	return helpers.PlainText(article.Title)
}
