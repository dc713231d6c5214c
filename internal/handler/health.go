package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"frameproxy/internal/config"
	"frameproxy/internal/ruleset"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	rules   *ruleset.RuleSet
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, rules *ruleset.RuleSet, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, rules: rules, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// statusResponse is the body of the status endpoint.
type statusResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	PublicURL       string `json:"public_url,omitempty"`
	RefererFallback bool   `json:"referer_fallback"`
	Rules           int    `json:"rules"`
	RuleDomains     int    `json:"rule_domains"`
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Status:          "ok",
		Version:         string(h.version),
		PublicURL:       h.cfg.Server.PublicURL,
		RefererFallback: h.cfg.Rewrite.RefererFallbackEnabled(),
		Rules:           h.rules.Count(),
		RuleDomains:     h.rules.DomainCount(),
	})
}
