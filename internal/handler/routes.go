package handler

import (
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"moneywise-bff-go/internal/config"
)

// apiPrefixes enumerates the backend resource groups the relay exposes.
// Anything outside this list never reaches the backend.
var apiPrefixes = []string{
	"/api/auth",
	"/api/accounts",
	"/api/transactions",
	"/api/categories",
	"/api/budgets",
	"/api/scheduled-transactions",
}

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, proxy *ProxyHandler, dashboard *DashboardHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/bff/status", health.Status)

	for _, prefix := range apiPrefixes {
		e.Any(prefix, proxy.Handle)
		e.Any(prefix+"/*", proxy.Handle)
	}

	e.Any("/api/banking", proxy.HandleBanking)
	e.Any("/api/banking/*", proxy.HandleBanking)

	e.GET("/api/bff/dashboard", dashboard.Handle)

	registerSPA(e, cfg)
}

// registerSPA serves the built frontend with HTML5 history fallback when a
// dist directory is configured. Reserved prefixes stay with their own
// handlers and never fall through to index.html.
func registerSPA(e *echo.Echo, cfg *config.Config) {
	if cfg.SPA.Dir == "" {
		return
	}

	reserved := []string{"/api", "/healthz", "/bff"}
	if cfg.Metrics.Enabled {
		reserved = append(reserved, cfg.Metrics.Path)
	}

	e.Use(echomw.StaticWithConfig(echomw.StaticConfig{
		Root:  cfg.SPA.Dir,
		HTML5: true,
		Skipper: func(c echo.Context) bool {
			p := c.Request().URL.Path
			for _, prefix := range reserved {
				if p == prefix || strings.HasPrefix(p, prefix+"/") {
					return true
				}
			}
			return false
		},
	}))
}
