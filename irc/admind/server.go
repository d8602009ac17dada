// Package admind serves the optional admin HTTP surface of the IRC server:
// health, Prometheus metrics, statistics and channel notices.
package admind

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/presbrey/ircd/irc/server"
)

type Server struct {
	irc *server.Server

	echoServer *echo.Echo
	metrics    *httpMetrics
	onceSetup  sync.Once
}

// New creates the admin surface for srv. Call it once per IRC server, since
// the HTTP collectors are registered on the server's registry.
func New(srv *server.Server) *Server {
	s := &Server{irc: srv}
	s.setup()
	return s
}

func (s *Server) setup() {
	s.onceSetup.Do(func() {
		e := echo.New()
		e.HideBanner = true
		e.HidePort = true
		e.Validator = newRequestValidator()
		s.metrics = newHTTPMetrics(s.irc.Metrics().Registry)
		s.echoServer = e
		s.route(e)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}

// Start listens on addr and serves until Shutdown. It returns once the
// listener is bound; serving errors are logged.
func (s *Server) Start(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start admin server: %w", err)
	}
	s.echoServer.Listener = ln

	go func() {
		if err := s.echoServer.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("admin server error: %v", err)
		}
	}()

	log.Printf("admin server listening on %s", ln.Addr())
	return ln.Addr(), nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echoServer.Shutdown(ctx)
}

func (s *Server) route(e *echo.Echo) {
	e.Use(middleware.Recover())
	e.Use(s.metrics.middleware(func(c echo.Context) bool {
		return c.Path() == "/metrics"
	}))

	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", s.handleMetrics())
	e.GET("/stats", s.handleStats)
	e.POST("/channels/:name/notice", s.handleNotice)
}
