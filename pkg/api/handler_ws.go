package api

import (
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler handles GET /api/v1/ws.
// Upgrades the connection and hands it to the ConnectionManager, which
// blocks until the socket closes. Auth happened in the middleware; browsers
// pass the token as a query parameter since the WebSocket API cannot set
// headers.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.connManager == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream is not available")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: s.wsOriginPatterns(),
	})
	if err != nil {
		return err
	}

	// HandleConnection blocks until the WebSocket closes.
	s.connManager.HandleConnection(c.Request().Context(), conn)
	return nil
}

// wsOriginPatterns builds the allowed cross-origin host patterns: the
// dashboard host plus any extras from config. Same-origin requests are
// always accepted.
func (s *Server) wsOriginPatterns() []string {
	if s.gateway == nil {
		return nil
	}
	patterns := append([]string(nil), s.gateway.AllowedWSOrigins...)
	if u, err := url.Parse(s.gateway.DashboardURL); err == nil && u.Host != "" {
		patterns = append(patterns, u.Host)
	}
	return patterns
}
