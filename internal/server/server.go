// Package server is the space service: an HTTP API over the pose and frame
// store plus the WebSocket stream viewers write poses and watch spaces on.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/watashi-museum/museum/internal/blob"
	"github.com/watashi-museum/museum/internal/cache"
	"github.com/watashi-museum/museum/internal/dispatcher"
	"github.com/watashi-museum/museum/internal/identity"
	"github.com/watashi-museum/museum/internal/storage"
)

const claimsKey = "claims"

// Dependencies holds everything the service needs.
type Dependencies struct {
	Store      storage.Backend
	Dispatcher *dispatcher.Dispatcher
	Visitors   *cache.VisitorCache
	Tokens     *identity.Provider
	Blobs      blob.Store

	// BlobDir is served under /blobs when set.
	BlobDir string

	// IssuerKey guards token issuing. Empty disables the endpoint.
	IssuerKey string

	Logger *slog.Logger
	Now    func() time.Time
}

// Server wires the echo router and the stream hub.
type Server struct {
	deps Dependencies
	echo *echo.Echo
	hub  *Hub
}

// New builds the router.
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Visitors == nil {
		deps.Visitors = cache.NewVisitorCache()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		deps: deps,
		echo: e,
		hub:  NewHub(deps.Store, deps.Dispatcher, deps.Logger),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				deps.Logger.Warn("Request failed", "method", v.Method, "uri", v.URI, "status", v.Status, "error", v.Error)
				return nil
			}
			deps.Logger.Debug("Request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	e.Use(s.bearer)

	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthcheck", s.healthcheck)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/auth/token", s.issueToken)

	spaces := v1.Group("/spaces/:space")
	spaces.GET("/frames", s.getFrames)
	spaces.PUT("/frames/:slot", s.putFrame)
	spaces.POST("/frames/:slot/image", s.uploadImage, middleware.BodyLimit("10M"))
	spaces.GET("/visitors", s.getVisitors)

	v1.GET("/stream", s.stream)

	if s.deps.BlobDir != "" {
		s.echo.Static("/blobs", s.deps.BlobDir)
	}
}

// Handler returns the HTTP handler of the service.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Hub returns the stream hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.deps.Logger.Info("Space service listening", "addr", addr)
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown closes the stream connections and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.CloseAll()
	return s.echo.Shutdown(ctx)
}

// bearer verifies an Authorization bearer token when one is sent. Requests
// without a token continue anonymously.
func (s *Server) bearer(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, ok := strings.CutPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
		if !ok {
			// Browsers cannot set headers on WebSocket upgrades.
			token = c.QueryParam("token")
		}
		if token == "" {
			return next(c)
		}
		if s.deps.Tokens == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "tokens are not accepted by this server")
		}
		claims, err := s.deps.Tokens.Verify(token)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
		}
		c.Set(claimsKey, claims)
		return next(c)
	}
}

func claimsFrom(c echo.Context) *identity.Claims {
	claims, _ := c.Get(claimsKey).(*identity.Claims)
	return claims
}
