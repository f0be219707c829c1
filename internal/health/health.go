// Package health aggregates backend health probes into a single report.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dskow/service-gateway/internal/metrics"
	"github.com/dskow/service-gateway/internal/routing"
)

// Status is the probe result for one backend.
type Status string

const (
	Healthy     Status = "healthy"
	Unhealthy   Status = "unhealthy"
	Unreachable Status = "unreachable"
)

// Report is the body served on GET /health. The gateway itself is always
// healthy: if this code runs, the gateway can answer.
type Report struct {
	Gateway  string            `json:"gateway"`
	Services map[string]Status `json:"services"`
}

// Options configures an Aggregator.
type Options struct {
	// ProbeTimeout bounds each probe. Defaults to 5s.
	ProbeTimeout time.Duration
	// Path is appended to each backend base URL. Defaults to "/health".
	Path string
	// Transport issues the probes. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// Aggregator probes every live backend on each call. Results are never
// cached.
type Aggregator struct {
	backends []routing.BackendRef
	client   *http.Client
	timeout  time.Duration
	path     string
	logger   *slog.Logger
}

// NewAggregator creates an Aggregator. Placeholder backends are skipped
// since there is nothing to probe.
func NewAggregator(backends []routing.BackendRef, opts Options) *Aggregator {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	if opts.Path == "" {
		opts.Path = "/health"
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	live := make([]routing.BackendRef, 0, len(backends))
	for _, b := range backends {
		if !b.Placeholder {
			live = append(live, b)
		}
	}

	return &Aggregator{
		backends: live,
		client: &http.Client{
			Transport: opts.Transport,
			// A redirect is not a 200.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: opts.ProbeTimeout,
		path:    opts.Path,
		logger:  opts.Logger,
	}
}

// Backends returns the backends this Aggregator probes.
func (a *Aggregator) Backends() []routing.BackendRef {
	return append([]routing.BackendRef(nil), a.backends...)
}

// Aggregate probes all backends concurrently and joins the results. Each
// probe has its own timeout, so the call returns within roughly one probe
// timeout regardless of how many backends are slow.
func (a *Aggregator) Aggregate(ctx context.Context) Report {
	type result struct {
		name   string
		status Status
	}

	ch := make(chan result, len(a.backends))
	for _, b := range a.backends {
		go func(b routing.BackendRef) {
			ch <- result{name: b.Name, status: a.probe(ctx, b)}
		}(b)
	}

	services := make(map[string]Status, len(a.backends))
	for range a.backends {
		res := <-ch
		services[res.name] = res.status
		metrics.HealthProbeStatus.WithLabelValues(res.name).Set(gaugeValue(res.status))
	}

	return Report{Gateway: string(Healthy), Services: services}
}

func (a *Aggregator) probe(ctx context.Context, b routing.BackendRef) Status {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	url := strings.TrimRight(b.BaseURL, "/") + a.path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		a.logger.Warn("health probe request invalid", "backend", b.Name, "error", err)
		return Unreachable
	}

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Warn("backend unreachable", "backend", b.Name, "url", url, "error", err)
		return Unreachable
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		a.logger.Warn("backend unhealthy", "backend", b.Name, "status", resp.StatusCode)
		return Unhealthy
	}
	return Healthy
}

func gaugeValue(s Status) float64 {
	switch s {
	case Healthy:
		return 1
	case Unhealthy:
		return 0
	default:
		return -1
	}
}

// Handler serves the aggregated Report. The status code is always 200;
// backend problems are reported in the body.
func (a *Aggregator) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := a.Aggregate(r.Context())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(report) //nolint:errcheck
	})
}
