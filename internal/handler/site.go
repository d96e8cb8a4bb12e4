package handler

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"

	"kaixu-devserver/internal/config"
	"kaixu-devserver/internal/model"
)

const sessionCookie = "sk_admin_session"

// SiteHandler serves the workspace side of the dev server: redirects, the
// project listing, the admin gate and the login form.
type SiteHandler struct {
	root         string
	appDir       string
	password     string
	sessionToken string
	virtualKey   string
	exposeKey    bool
	logger       *slog.Logger
}

// NewSiteHandler creates a SiteHandler.
func NewSiteHandler(cfg *config.Config, logger *slog.Logger) *SiteHandler {
	sum := sha256.Sum256([]byte(cfg.Auth.AdminPassword))
	return &SiteHandler{
		root:         cfg.Site.Root,
		appDir:       cfg.Site.AppDir,
		password:     cfg.Auth.AdminPassword,
		sessionToken: hex.EncodeToString(sum[:]),
		virtualKey:   cfg.Auth.VirtualKey,
		exposeKey:    cfg.Site.ExposeKey,
		logger:       logger.With("component", "site_handler"),
	}
}

func (h *SiteHandler) appPath(name string) string {
	return "/" + h.appDir + "/" + name
}

// Index sends the browser to the IDE.
func (h *SiteHandler) Index(c echo.Context) error {
	return c.Redirect(http.StatusSeeOther, h.appPath("index.html"))
}

// Projects lists the top-level directories of the site root.
func (h *SiteHandler) Projects(c echo.Context) error {
	projects := []model.Project{}

	entries, err := os.ReadDir(h.root)
	if err != nil {
		h.logger.Error("listing projects", "err", err, "root", h.root)
		return c.JSON(http.StatusOK, projects)
	}

	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, ".") || name == "node_modules" {
			continue
		}
		p := model.Project{Name: name, Path: "/" + name + "/"}
		if _, err := os.Stat(filepath.Join(h.root, name, "index.html")); err == nil {
			p.HasIndex = true
			p.Path = "/" + name + "/index.html"
		}
		projects = append(projects, p)
	}
	return c.JSON(http.StatusOK, projects)
}

// Key hands the configured virtual key to local tooling. It only answers
// when site.expose_key is enabled.
func (h *SiteHandler) Key(c echo.Context) error {
	if !h.exposeKey || h.virtualKey == "" {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "No key configured"})
	}
	return c.JSON(http.StatusOK, map[string]string{"key": h.virtualKey})
}

// Admin redirects to the admin panel or to the login page.
func (h *SiteHandler) Admin(c echo.Context) error {
	if !h.authenticated(c) {
		return c.Redirect(http.StatusSeeOther, h.appPath("login.html"))
	}
	return c.Redirect(http.StatusSeeOther, h.appPath("admin_panel.html"))
}

// AdminPanel serves the admin panel file to authenticated sessions.
func (h *SiteHandler) AdminPanel(c echo.Context) error {
	if !h.authenticated(c) {
		return c.Redirect(http.StatusSeeOther, h.appPath("login.html"))
	}
	return c.File(filepath.Join(h.root, h.appDir, "admin_panel.html"))
}

// LoginPage redirects short login URLs to the login form.
func (h *SiteHandler) LoginPage(c echo.Context) error {
	return c.Redirect(http.StatusSeeOther, h.appPath("login.html"))
}

// Login checks the submitted password and issues the session cookie.
func (h *SiteHandler) Login(c echo.Context) error {
	password := c.FormValue("password")
	if h.password == "" || subtle.ConstantTimeCompare([]byte(password), []byte(h.password)) != 1 {
		h.logger.Warn("admin login failed", "remote_ip", c.RealIP())
		return c.Redirect(http.StatusSeeOther, h.appPath("login.html")+"?error=1")
	}

	c.SetCookie(&http.Cookie{
		Name:     sessionCookie,
		Value:    h.sessionToken,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	h.logger.Info("admin login", "remote_ip", c.RealIP())
	return c.Redirect(http.StatusSeeOther, h.appPath("admin_panel.html"))
}

func (h *SiteHandler) authenticated(c echo.Context) bool {
	if h.password == "" {
		return false
	}
	cookie, err := c.Cookie(sessionCookie)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(h.sessionToken)) == 1
}
