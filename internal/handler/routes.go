package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kaixu-devserver/internal/config"
	"kaixu-devserver/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler, site *SiteHandler) {
	// Static also claims "/", so it goes first and the redirect below replaces it.
	e.Static("/", cfg.Site.Root)

	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	prefix := cfg.Gateway.Prefix
	e.GET(prefix+"/fs/projects", site.Projects)
	e.GET(prefix+"/kaixu-key", site.Key)
	e.POST(prefix+"/*", proxy.Handle)

	app := "/" + cfg.Site.AppDir
	e.GET("/", site.Index)
	e.GET("/admin", site.Admin)
	e.GET(app+"/admin", site.AdminPanel)
	e.GET(app+"/admin_panel.html", site.AdminPanel)
	e.GET("/login", site.LoginPage)
	e.GET(app+"/login", site.LoginPage)
	e.POST("/login", site.Login)
	e.POST(app+"/login", site.Login)
	e.POST(app+"/login.html", site.Login)
}
