package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/vfrelay/config"
	"github.com/mohammad-safakhou/vfrelay/internal/knowledge"
	"github.com/mohammad-safakhou/vfrelay/internal/metrics"
	"github.com/mohammad-safakhou/vfrelay/internal/titles"
	"github.com/mohammad-safakhou/vfrelay/internal/transcript"
	"github.com/mohammad-safakhou/vfrelay/internal/voiceflow"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// New wires the relay's dependencies and routes onto a fresh echo instance.
func New(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *echo.Echo {
	upstream := voiceflow.NewClient(cfg.Voiceflow,
		voiceflow.WithLogger(logger.Named("voiceflow")),
		voiceflow.WithObserver(m),
	)
	resolver := titles.NewResolver(cfg.Titles, logger.Named("titles"), m)

	kh := &KnowledgeHandler{
		Upstream:  upstream,
		Formatter: knowledge.NewFormatter(resolver),
		Logger:    logger.Named("knowledge"),
	}
	th := &TranscriptsHandler{
		Upstream:       upstream,
		Classifier:     transcript.NewClassifier(cfg.Transcripts.Location(), cfg.Transcripts.TimeLayout),
		Renderer:       transcript.NewRenderer(),
		CreatorBaseURL: cfg.Voiceflow.CreatorBaseURL,
		Logger:         logger.Named("transcript"),
		Fallbacks:      m,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger.Named("http"))
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(requestLogger(logger.Named("http")))
	e.Use(observeRequests(m))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.Server.CORSAllowOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	e.GET("/health", health)
	registerDocs(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))

	api := e.Group("/api")
	kh.Register(api)
	th.Register(api)
	return e
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	e := New(cfg, logger, metrics.New())

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.General.Listen))
		errCh <- e.Start(cfg.General.Listen)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return e.Shutdown(shutdownCtx)
}

func health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// errorHandler writes {"error": msg} for any error that reached echo without
// a committed response.
func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		fields := []zap.Field{
			zap.Int("status", code),
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.String("remote_ip", c.RealIP()),
			zap.Error(err),
		}
		if code >= http.StatusInternalServerError {
			logger.Error("request failed", fields...)
		} else {
			logger.Debug("request rejected", fields...)
		}
		if !c.Response().Committed {
			if req.Method == http.MethodHead {
				_ = c.NoContent(code)
				return
			}
			_ = c.JSON(code, map[string]string{"error": msg})
		}
	}
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURIPath:   true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			// apiKey travels in the query string, so only the path is logged.
			logger.Info("request",
				zap.String("method", v.Method),
				zap.String("path", v.URIPath),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			)
			return nil
		},
	})
}

func observeRequests(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			code := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					code = he.Code
				} else if !c.Response().Committed {
					code = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.ObserveHTTP(route, c.Request().Method, strconv.Itoa(code), time.Since(start))
			return err
		}
	}
}
