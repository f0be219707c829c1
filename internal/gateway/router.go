package gateway

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dskow/service-gateway/internal/admin"
	"github.com/dskow/service-gateway/internal/config"
	"github.com/dskow/service-gateway/internal/forward"
	"github.com/dskow/service-gateway/internal/health"
	"github.com/dskow/service-gateway/internal/metrics"
	"github.com/dskow/service-gateway/internal/middleware"
	"github.com/dskow/service-gateway/internal/ratelimit"
	"github.com/dskow/service-gateway/internal/routing"
)

// Options configures New.
type Options struct {
	Config *config.Config
	// Provider serves the admin config endpoint. Defaults to Config itself;
	// pass the reloader so reloaded settings show up.
	Provider admin.ConfigProvider
	// Transport carries forwarded calls and health probes. Defaults to a
	// pooled transport built from Config.Forward.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// Gateway is an assembled gateway ready to be served.
type Gateway struct {
	Table      *routing.Table
	Forwarder  *forward.Forwarder
	Health     *health.Aggregator
	Limiter    *ratelimit.Limiter
	Dispatcher *Dispatcher

	handler   http.Handler
	transport http.RoundTripper
}

type staticConfig struct{ cfg *config.Config }

func (s staticConfig) Current() *config.Config { return s.cfg }

// New builds the routing table and every component that depends on it,
// then assembles the router:
//
//	RequestID → Logging → SecurityHeaders → CORS → Deadline → Recovery → RateLimit → BodyLimit
//
// Recovery sits inside Deadline so a panicking handler still answers 500,
// and the headers set above Deadline also reach its 504.
func New(opts Options) (*Gateway, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Provider == nil {
		opts.Provider = staticConfig{cfg: cfg}
	}
	transport := opts.Transport
	if transport == nil {
		transport = forward.NewTransport(cfg.Forward)
	}

	table, err := BuildTable(cfg.Services)
	if err != nil {
		return nil, err
	}

	fwd := forward.New(forward.Options{
		Timeout:   cfg.Forward.Timeout,
		Transport: transport,
		Logger:    logger,
	})
	agg := health.NewAggregator(Backends(cfg.Services), health.Options{
		ProbeTimeout: cfg.Health.ProbeTimeout,
		Transport:    transport,
		Logger:       logger,
	})
	limiter := ratelimit.New(cfg.RateLimit, table, cfg.Server.TrustedProxies, logger)

	g := &Gateway{
		Table:      table,
		Forwarder:  fwd,
		Health:     agg,
		Limiter:    limiter,
		Dispatcher: NewDispatcher(table, fwd, logger),
		transport:  transport,
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Logging(logger),
		middleware.SecurityHeaders(),
		middleware.CORS(corsConfig(cfg.CORS)),
		middleware.Deadline(cfg.Server.GlobalTimeout()),
		middleware.Recovery(logger),
		limiter.Middleware(),
		middleware.BodyLimit(cfg.Server.MaxBodyBytes),
	)

	r.Get("/", InfoHandler(NewInfo(cfg.Gateway, cfg.Services)))
	r.Method(http.MethodGet, cfg.Health.Path, agg.Handler())
	if cfg.Metrics.IsEnabled() {
		r.Method(http.MethodGet, cfg.Metrics.Path, metrics.Handler())
		logger.Info("metrics endpoint registered", "path", cfg.Metrics.Path)
	}
	if cfg.Admin.Enabled {
		adm := admin.New(opts.Provider, table, limiter, cfg.Admin.IPAllowlist, logger)
		r.Mount("/admin", adm.Routes())
		logger.Info("admin endpoints enabled", "allowlist", cfg.Admin.IPAllowlist)
	}

	// Everything else belongs to the routing table, including methods the
	// fixed endpoints do not accept.
	r.NotFound(g.Dispatcher.ServeHTTP)
	r.MethodNotAllowed(g.Dispatcher.ServeHTTP)

	g.handler = r
	return g, nil
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.handler.ServeHTTP(w, r)
}

// UpdateConfig applies the runtime-safe parts of a reloaded config.
func (g *Gateway) UpdateConfig(cfg *config.Config) {
	g.Limiter.UpdateConfig(cfg.RateLimit)
}

// Close stops background work and drops idle backend connections.
func (g *Gateway) Close() {
	g.Limiter.Stop()
	if t, ok := g.transport.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
}

func corsConfig(c config.CORSConfig) middleware.CORSConfig {
	cc := middleware.DefaultCORSConfig()
	if len(c.AllowedOrigins) > 0 {
		cc.AllowedOrigins = c.AllowedOrigins
	}
	cc.AllowCredentials = c.AllowCredentials
	return cc
}
