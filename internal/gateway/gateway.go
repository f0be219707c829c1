// Package gateway is the HTTP entry point. It resolves each request against
// the routing table, hands it to the forwarder and writes the translated
// outcome back to the client.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dskow/service-gateway/internal/apierror"
	"github.com/dskow/service-gateway/internal/forward"
	"github.com/dskow/service-gateway/internal/metrics"
	"github.com/dskow/service-gateway/internal/routing"
)

// LatencyHeader reports how long the gateway spent on a forwarded request.
const LatencyHeader = "X-Gateway-Latency"

const unmatchedRoute = "unmatched"

// Forwarder relays a matched request to its backend.
type Forwarder interface {
	Forward(ctx context.Context, m routing.Match, r *http.Request) forward.Outcome
}

// Dispatcher serves every request that is not one of the gateway's own
// endpoints.
type Dispatcher struct {
	table  *routing.Table
	fwd    Forwarder
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(table *routing.Table, fwd Forwarder, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{table: table, fwd: fwd, logger: logger}
}

// ServeHTTP resolves, forwards and translates. Unmatched requests and
// placeholder routes are answered without an outbound call.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	route := unmatchedRoute

	var o forward.Outcome
	m, ok := d.table.Resolve(r.Method, r.URL.EscapedPath())
	switch {
	case !ok:
		o = forward.RouteNotFound{}
	case m.Route.Backend.Placeholder:
		route = m.Route.Pattern
		o = forward.NotImplemented{Message: m.Route.Backend.NotImplementedMessage}
	default:
		route = m.Route.Pattern
		o = d.forward(m, r)
	}

	resp := apierror.Translate(o)
	latency := time.Since(start)

	metrics.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(resp.Status)).Inc()
	metrics.RequestDuration.WithLabelValues(route, r.Method).Observe(latency.Seconds())

	if errors.Is(r.Context().Err(), context.Canceled) {
		return
	}
	if _, forwarded := o.(forward.Success); forwarded {
		w.Header().Set(LatencyHeader, latency.String())
	}
	apierror.Write(w, resp)
}

func (d *Dispatcher) forward(m routing.Match, r *http.Request) forward.Outcome {
	metrics.ActiveRequests.Inc()
	defer metrics.ActiveRequests.Dec()

	o := d.fwd.Forward(r.Context(), m, r)
	metrics.ForwardOutcomes.WithLabelValues(m.Route.Backend.Name, forward.Kind(o)).Inc()
	return o
}
