package admind

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/presbrey/ircd/irc/server"
)

// loopTimeout bounds how long a request waits on the event loop.
const loopTimeout = 5 * time.Second

type noticeRequest struct {
	Text string `json:"text" validate:"required,max=400,oneline"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(
		s.irc.Metrics().Registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	))
}

// handleStats returns server statistics in JSON format
func (s *Server) handleStats(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), loopTimeout)
	defer cancel()

	st, err := s.irc.Snapshot(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}

	cfg := s.irc.Config()
	return c.JSON(http.StatusOK, struct {
		ServerName string `json:"server_name"`
		Network    string `json:"network"`
		server.Stats
	}{
		ServerName: cfg.Server.Name,
		Network:    cfg.Server.Network,
		Stats:      st,
	})
}

// handleNotice relays a server NOTICE into a channel. The leading '#' may
// be omitted from the path.
func (s *Server) handleNotice(c echo.Context) error {
	name, err := url.PathUnescape(c.Param("name"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid channel name")
	}
	if !strings.HasPrefix(name, "#") {
		name = "#" + name
	}

	var req noticeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Text = strings.TrimSpace(req.Text)
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), loopTimeout)
	defer cancel()

	if err := s.irc.Relay(ctx, name, req.Text); err != nil {
		if errors.Is(err, server.ErrNoSuchChannel) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}

	return c.JSON(http.StatusAccepted, map[string]string{"channel": name, "status": "sent"})
}
