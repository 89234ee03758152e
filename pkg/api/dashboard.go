package api

import (
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	echo "github.com/labstack/echo/v5"
)

// SetDashboardDir points the server at a built dashboard bundle and
// registers the SPA routes. An empty dir leaves the gateway API-only.
func (s *Server) SetDashboardDir(dir string) {
	s.dashboardDir = dir
	s.setupDashboardRoutes()
}

// setupDashboardRoutes registers static file serving with an SPA fallback.
// No-op when the dashboard directory is unset or holds no index.html, so a
// missing frontend build never breaks the API.
func (s *Server) setupDashboardRoutes() {
	if s.dashboardDir == "" {
		return
	}
	if _, err := os.Stat(filepath.Join(s.dashboardDir, "index.html")); err != nil {
		slog.Warn("Dashboard directory has no index.html, skipping dashboard routes",
			"dir", s.dashboardDir)
		return
	}

	// Registered routes always win over the catch-all.
	s.echo.GET("/*", s.dashboardHandler)
}

// dashboardHandler serves exact files from the dashboard build when they
// exist on disk, otherwise falls back to index.html so client-side routing
// works on hard refresh. Hashed Vite assets under /assets/ get immutable
// cache headers; everything else is no-cache so browsers pick up new asset
// hashes after deployments.
func (s *Server) dashboardHandler(c *echo.Context) error {
	reqPath := c.Request().URL.Path

	// Never shadow the API or health probes with the SPA.
	if strings.HasPrefix(reqPath, "/api/") || reqPath == "/healthz" || reqPath == "/health" {
		return echo.ErrNotFound
	}

	rel := strings.TrimPrefix(path.Clean(reqPath), "/")
	if rel != "" && rel != "." && !strings.Contains(rel, "..") {
		full := filepath.Join(s.dashboardDir, filepath.FromSlash(rel))
		if st, err := os.Stat(full); err == nil && !st.IsDir() {
			if strings.HasPrefix(reqPath, "/assets/") {
				c.Response().Header().Set("Cache-Control", "public, max-age=31536000, immutable")
			} else {
				c.Response().Header().Set("Cache-Control", "no-cache")
			}
			http.ServeFile(c.Response(), c.Request(), full)
			return nil
		}
	}

	c.Response().Header().Set("Cache-Control", "no-cache")
	http.ServeFile(c.Response(), c.Request(), filepath.Join(s.dashboardDir, "index.html"))
	return nil
}
