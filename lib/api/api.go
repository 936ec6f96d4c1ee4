// Package api exposes the enrichment pipelines over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deadline/lib/logger"
	"deadline/lib/pipeline"
	"deadline/lib/store"
)

const DefaultEventCacheTTL = 10 * time.Minute

type DetailRunner interface {
	Run(ctx context.Context, idOrSlug string) (*pipeline.DetailResult, error)
}

type UpdateRunner interface {
	Run(ctx context.Context, idOrSlug string) (*pipeline.UpdateResult, error)
}

// EventCache stores rendered public event payloads under invalidation tags.
type EventCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error
}

type Options struct {
	Secret   string
	Details  DetailRunner
	Updates  UpdateRunner
	Store    store.Gateway
	Cache    EventCache
	CacheTTL time.Duration
	Logger   *logger.Logger
}

type Server struct {
	echo     *echo.Echo
	secret   []byte
	details  DetailRunner
	updates  UpdateRunner
	store    store.Gateway
	cache    EventCache
	cacheTTL time.Duration
	logger   *logger.Logger
}

func NewServer(opts Options) *Server {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultEventCacheTTL
	}
	s := &Server{
		echo:     echo.New(),
		secret:   []byte(opts.Secret),
		details:  opts.Details,
		updates:  opts.Updates,
		store:    opts.Store,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		logger:   opts.Logger,
	}
	if s.logger == nil {
		s.logger = logger.Discard()
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path == "/health"
		},
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error("%s %s -> %d in %dms: %v", v.Method, redactKey(v.URI), v.Status, v.Latency.Milliseconds(), v.Error)
				return nil
			}
			s.logger.Info("%s %s -> %d in %dms", v.Method, redactKey(v.URI), v.Status, v.Latency.Milliseconds())
			return nil
		},
	}))
	e.Use(middleware.Recover())

	e.Match([]string{http.MethodGet, http.MethodPost}, "/api/extract-details", s.extractDetails)
	e.Match([]string{http.MethodGet, http.MethodPost}, "/api/check-updates", s.checkUpdates)
	e.GET("/api/events/:slug", s.getEvent)
	e.GET("/health", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return s
}

func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening on %s", addr)
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// handleError renders anything a handler returned as a JSON body.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	body := errorBody{Error: "Internal server error"}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if msg, ok := he.Message.(string); ok {
			body.Error = msg
		} else {
			body.Error = http.StatusText(status)
		}
	} else {
		body.Details = err.Error()
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("Unhandled error on %s: %v", c.Path(), err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		s.logger.Error("Writing error response: %v", err)
	}
}
