// Package admin provides read-only endpoints for inspecting a running
// gateway: its routing table, effective configuration and rate limiter.
// Every endpoint is restricted to an IP allowlist.
package admin

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/dskow/service-gateway/internal/apierror"
	"github.com/dskow/service-gateway/internal/config"
	"github.com/dskow/service-gateway/internal/ratelimit"
	"github.com/dskow/service-gateway/internal/routing"
)

// ConfigProvider abstracts config access for testability.
type ConfigProvider interface {
	Current() *config.Config
}

// Handler serves the admin endpoints.
type Handler struct {
	config      ConfigProvider
	table       *routing.Table
	limiter     *ratelimit.Limiter
	allowedNets []*net.IPNet
	logger      *slog.Logger
}

// New creates a Handler. The allowlist CIDRs are validated by config
// loading; unparsable entries are ignored here. limiter may be nil.
func New(cfg ConfigProvider, table *routing.Table, limiter *ratelimit.Limiter, allowlist []string, logger *slog.Logger) *Handler {
	nets := make([]*net.IPNet, 0, len(allowlist))
	for _, cidr := range allowlist {
		if _, ipNet, err := net.ParseCIDR(cidr); err == nil {
			nets = append(nets, ipNet)
		}
	}
	return &Handler{
		config:      cfg,
		table:       table,
		limiter:     limiter,
		allowedNets: nets,
		logger:      logger,
	}
}

// Routes returns a router to be mounted under /admin.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.guard)
	r.Get("/routes", h.routesHandler)
	r.Get("/config", h.configHandler)
	r.Get("/limiter", h.limiterHandler)
	return r
}

func (h *Handler) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := extractIP(r.RemoteAddr)
		if !h.isAllowed(ip) {
			h.logger.Warn("admin access denied", "client_ip", ip, "path", r.URL.Path)
			apierror.WriteDetail(w, http.StatusForbidden, apierror.Forbidden, "Forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) isAllowed(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range h.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func (h *Handler) routesHandler(w http.ResponseWriter, r *http.Request) {
	routes := h.table.Routes()
	for i := range routes {
		routes[i].Backend.BaseURL = redactURL(routes[i].Backend.BaseURL)
	}
	writeJSON(w, http.StatusOK, map[string]any{"routes": routes})
}

func (h *Handler) configHandler(w http.ResponseWriter, r *http.Request) {
	cfg := *h.config.Current()
	services := make([]config.ServiceConfig, len(cfg.Services))
	copy(services, cfg.Services)
	for i := range services {
		services[i].BaseURL = redactURL(services[i].BaseURL)
	}
	cfg.Services = services
	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handler) limiterHandler(w http.ResponseWriter, r *http.Request) {
	if h.limiter == nil {
		writeJSON(w, http.StatusOK, ratelimit.Stats{})
		return
	}
	writeJSON(w, http.StatusOK, h.limiter.Stats())
}

// redactURL hides any password embedded in a base URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
