package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/wardenbot/warden/antinuke/licensestore"
	"github.com/wardenbot/warden/antinuke/panel"
	"github.com/wardenbot/warden/antinuke/platform"
	"github.com/wardenbot/warden/antinuke/policystore"
)

type ToggleBody struct {
	Enabled bool `json:"enabled"`
}

type ActivateBody struct {
	Key    string `json:"key"`
	UserID string `json:"user_id"`
}

type DeactivateBody struct {
	UserID string `json:"user_id"`
}

// acting user; only the super-admin may publish for an unlicensed server
type PublishBody struct {
	UserID string `json:"user_id"`
}

type PolicyResponse struct {
	TenantID  string                    `json:"tenant_id"`
	Toggles   map[policystore.Flag]bool `json:"toggles"`
	AllowList []string                  `json:"allow_list"`
}

func policyResponse(tenantID string, pol *policystore.TenantPolicy) PolicyResponse {
	return PolicyResponse{TenantID: tenantID, Toggles: pol.Toggles, AllowList: pol.AllowList}
}

func (s *Server) adminAuthMiddleware() echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/_health"
		},
		Validator: func(key string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(s.adminToken)) == 1, nil
		},
	})
}

func (s *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := "internal error"
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		code = he.Code
		msg = fmt.Sprint(he.Message)
	case errors.Is(err, licensestore.ErrKeyNotFound):
		code, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, licensestore.ErrKeyInUse):
		code, msg = http.StatusConflict, err.Error()
	case errors.Is(err, licensestore.ErrKeyExpired), errors.Is(err, licensestore.ErrMalformedExpiry):
		code, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, panel.ErrUnlicensed):
		code, msg = http.StatusForbidden, "server is not licensed or license expired"
	}
	if code >= 500 {
		s.logger.Warn("admin API request error", "statusCode", code, "path", c.Path(), "err", err)
	}
	if !c.Response().Committed {
		c.JSON(code, map[string]string{"error": msg})
	}
}

func (s *Server) newAdminEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware("warden-admin"))
	e.Use(slogecho.New(s.logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64K"))
	e.Use(s.adminAuthMiddleware())
	e.HTTPErrorHandler = s.errorHandler

	e.GET("/_health", s.HandleHealthCheck)
	api := e.Group("/api/tenants/:tenant")
	api.GET("/panel", s.HandlePanel)
	api.POST("/panel/publish", s.HandlePanelPublish)
	api.PUT("/toggles/:flag", s.HandleToggle)
	api.PUT("/allowlist/:actor", s.HandleAllow)
	api.DELETE("/allowlist/:actor", s.HandleDisallow)
	api.POST("/license/activate", s.HandleActivate)
	api.POST("/license/deactivate", s.HandleDeactivate)
	return e
}

// Serves the admin API until the context is cancelled. Disabled without an admin token.
func (s *Server) RunAdmin(ctx context.Context, listen string) error {
	if s.adminToken == "" {
		s.logger.Warn("no admin token configured, admin API disabled")
		return nil
	}
	s.echo = s.newAdminEcho()
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting admin API", "bind", listen)
		errCh <- s.echo.Start(listen)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}

func (s *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": versioninfo.Short()})
}

func (s *Server) HandlePanel(c echo.Context) error {
	snap, err := s.panel.Snapshot(c.Request().Context(), c.Param("tenant"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) HandlePanelPublish(c echo.Context) error {
	var body PublishBody
	if err := c.Bind(&body); err != nil {
		return err
	}
	snap, err := s.panel.Publish(c.Request().Context(), c.Param("tenant"), body.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) HandleToggle(c echo.Context) error {
	flag, err := policystore.ParseFlag(c.Param("flag"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var body ToggleBody
	if err := c.Bind(&body); err != nil {
		return err
	}
	tenantID := c.Param("tenant")
	pol, err := policystore.SetToggle(c.Request().Context(), s.policies, tenantID, flag, body.Enabled)
	if err != nil {
		return err
	}
	s.logger.Info("toggled policy flag", "tenant", tenantID, "flag", flag, "enabled", body.Enabled)
	return c.JSON(http.StatusOK, policyResponse(tenantID, pol))
}

func (s *Server) updateAllowList(c echo.Context, allow bool) error {
	tenantID, actorID := c.Param("tenant"), c.Param("actor")
	pol, err := s.policies.Update(c.Request().Context(), tenantID, func(p *policystore.TenantPolicy) error {
		if allow {
			p.Allow(actorID)
		} else {
			p.Disallow(actorID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("updated allow-list", "tenant", tenantID, "actor", actorID, "allowed", allow)
	return c.JSON(http.StatusOK, policyResponse(tenantID, pol))
}

func (s *Server) HandleAllow(c echo.Context) error {
	return s.updateAllowList(c, true)
}

func (s *Server) HandleDisallow(c echo.Context) error {
	return s.updateAllowList(c, false)
}

// Only the tenant owner may bind or release licenses.
func (s *Server) requireOwner(ctx context.Context, tenantID, userID string) error {
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	m, err := s.platform.GetMember(ctx, tenantID, userID)
	if errors.Is(err, platform.ErrNotFound) {
		return echo.NewHTTPError(http.StatusForbidden, "only the server owner can manage the license")
	}
	if err != nil {
		return err
	}
	if !m.Owner {
		return echo.NewHTTPError(http.StatusForbidden, "only the server owner can manage the license")
	}
	return nil
}

func (s *Server) HandleActivate(c echo.Context) error {
	ctx := c.Request().Context()
	var body ActivateBody
	if err := c.Bind(&body); err != nil {
		return err
	}
	tenantID := c.Param("tenant")
	if err := s.requireOwner(ctx, tenantID, body.UserID); err != nil {
		return err
	}
	rec, err := s.licenses.Activate(ctx, body.Key, tenantID, body.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) HandleDeactivate(c echo.Context) error {
	ctx := c.Request().Context()
	var body DeactivateBody
	if err := c.Bind(&body); err != nil {
		return err
	}
	tenantID := c.Param("tenant")
	if err := s.requireOwner(ctx, tenantID, body.UserID); err != nil {
		return err
	}
	n, err := s.licenses.Deactivate(ctx, tenantID, body.UserID)
	if err != nil {
		return err
	}
	if n == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "no active license for this server")
	}
	return c.JSON(http.StatusOK, map[string]int{"released": n})
}
