// Package gateway serves a loopback HTTP proxy that relays patient API
// calls through the authenticated pipeline, so local tools reuse the
// stored session without ever seeing its tokens.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/patientctl/internal/platform/apiclient"
	"github.com/ehr/patientctl/internal/platform/auth"
	"github.com/ehr/patientctl/internal/platform/middleware"
	"github.com/ehr/patientctl/internal/platform/telemetry"
)

// Session is the read-only view of the session the proxy exposes.
type Session interface {
	IsLoggedIn() bool
	User() *auth.User
	PatientID() string
	AccessTokenExpiry() time.Time
}

type Config struct {
	Addr        string
	BodyLimit   string
	CORSOrigins []string
	Timeout     time.Duration
	RateLimit   float64
}

// forwardedHeaders are copied from the local request to the backend call.
// Authorization is never forwarded; the pipeline owns it.
var forwardedHeaders = []string{
	echo.HeaderContentType,
	echo.HeaderAccept,
	apiclient.PatientIDHeader,
	middleware.RequestIDHeader,
}

type Server struct {
	echo    *echo.Echo
	api     apiclient.Caller
	session Session
	addr    string
	logger  zerolog.Logger
}

func New(cfg Config, api apiclient.Caller, session Session, metrics *telemetry.Provider, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, api: api, session: session, addr: cfg.Addr, logger: logger}

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(metrics.MetricsMiddleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{echo.HeaderContentType, echo.HeaderAccept, apiclient.PatientIDHeader, middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
	}))

	e.GET("/healthz", s.healthz)
	e.GET("/session", s.sessionInfo)
	e.GET("/metrics", metrics.PrometheusHandler())

	relay := []echo.MiddlewareFunc{
		middleware.BodyLimit(cfg.BodyLimit),
		middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit,
			BurstSize:         int(cfg.RateLimit*2) + 1,
		}),
		middleware.RequestTimeout(cfg.Timeout),
	}
	e.Any("/patient/*", s.forward, relay...)
	e.Any("/common/*", s.forward, relay...)

	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("starting proxy")
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("proxy server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down proxy")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("proxy shutdown: %w", err)
	}
	s.logger.Info().Msg("proxy stopped")
	return nil
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type sessionResponse struct {
	LoggedIn         bool       `json:"logged_in"`
	PatientID        string     `json:"patient_id"`
	Name             string     `json:"name,omitempty"`
	Email            string     `json:"email,omitempty"`
	AccessExpiresAt  *time.Time `json:"access_token_expires_at,omitempty"`
	ExpiresInSeconds *int64     `json:"expires_in_seconds,omitempty"`
}

func (s *Server) sessionInfo(c echo.Context) error {
	resp := sessionResponse{
		LoggedIn:  s.session.IsLoggedIn(),
		PatientID: s.session.PatientID(),
	}
	if u := s.session.User(); u != nil {
		resp.Name, resp.Email = u.Name, u.Email
	}
	if exp := s.session.AccessTokenExpiry(); !exp.IsZero() {
		secs := int64(time.Until(exp).Seconds())
		if secs < 0 {
			secs = 0
		}
		resp.AccessExpiresAt = &exp
		resp.ExpiresInSeconds = &secs
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) forward(c echo.Context) error {
	req := c.Request()

	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			if errors.Is(err, middleware.ErrBodyTooLarge) {
				return s.fail(c, http.StatusRequestEntityTooLarge, "request body too large")
			}
			return s.fail(c, http.StatusBadRequest, "could not read request body")
		}
		if len(b) > 0 {
			body = b
		}
	}

	header := make(map[string]string, len(forwardedHeaders))
	for _, h := range forwardedHeaders {
		if v := req.Header.Get(h); v != "" {
			header[h] = v
		}
	}
	if _, ok := header[apiclient.PatientIDHeader]; !ok {
		header[apiclient.PatientIDHeader] = s.session.PatientID()
	}

	raw, err := s.api.Call(req.Context(), apiclient.Request{
		Method: req.Method,
		Path:   req.URL.Path,
		Query:  req.URL.Query(),
		Header: header,
		Body:   body,
	})
	if err != nil {
		return s.mapError(c, err)
	}
	if raw == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSONBlob(http.StatusOK, raw)
}

// mapError translates pipeline errors into proxy responses.
func (s *Server) mapError(c echo.Context, err error) error {
	var httpErr *apiclient.HTTPError
	switch {
	case errors.Is(err, apiclient.ErrSessionExpired):
		return s.fail(c, http.StatusUnauthorized, apiclient.SessionExpiredMessage)
	case errors.As(err, &httpErr):
		return s.fail(c, httpErr.StatusCode, httpErr.Message)
	case errors.Is(err, context.DeadlineExceeded):
		return s.fail(c, http.StatusGatewayTimeout, "backend did not answer in time")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing to write.
		return nil
	case errors.Is(err, apiclient.ErrMalformedResponse):
		return s.fail(c, http.StatusBadGateway, "backend returned an invalid response")
	}
	s.logger.Error().Err(err).Str("path", c.Request().URL.Path).Msg("backend unreachable")
	return s.fail(c, http.StatusBadGateway, "backend unreachable")
}

func (s *Server) fail(c echo.Context, status int, msg string) error {
	rid, _ := c.Get("request_id").(string)
	return c.JSON(status, middleware.ErrorBody{Message: msg, RequestID: rid})
}
