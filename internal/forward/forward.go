// Package forward relays a matched request to its backend and reports the
// result as a typed Outcome. The Forwarder never writes to the client; the
// caller turns the Outcome into a response.
package forward

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dskow/service-gateway/internal/routing"
)

// DefaultTimeout bounds a backend call when Options.Timeout is unset.
const DefaultTimeout = 30 * time.Second

// Options configures a Forwarder.
type Options struct {
	// Timeout covers connecting, waiting for headers and reading the body.
	Timeout time.Duration
	// Transport issues the outbound calls. Tests inject counting or failing
	// round trippers here. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// Forwarder issues one outbound call per inbound request. It holds no
// per-request state and is safe for concurrent use.
type Forwarder struct {
	timeout   time.Duration
	transport http.RoundTripper
	logger    *slog.Logger
}

// New creates a Forwarder.
func New(opts Options) *Forwarder {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Forwarder{
		timeout:   opts.Timeout,
		transport: opts.Transport,
		logger:    opts.Logger,
	}
}

// Timeout returns the per-call budget.
func (f *Forwarder) Timeout() time.Duration { return f.timeout }

// Forward relays r to the backend of m and returns the outcome. The
// outbound call derives from ctx, so cancelling ctx (for example when the
// client goes away) aborts the call.
//
// Method, concrete path, raw query and headers are preserved; Host and
// hop-by-hop headers are not relayed. The body is relayed only for POST,
// PUT and PATCH.
func (f *Forwarder) Forward(ctx context.Context, m routing.Match, r *http.Request) Outcome {
	backend := m.Route.Backend
	if backend.Placeholder {
		return NotImplemented{Message: backend.NotImplementedMessage}
	}

	var body []byte
	if carriesBody(r.Method) && r.Body != nil {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return RequestTooLarge{Limit: tooLarge.Limit}
			}
			return UnexpectedFailure{Message: "reading request body: " + err.Error(), Err: err}
		}
		body = b
	}

	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	out, err := f.newOutbound(callCtx, backend, m.Path, r, body)
	if err != nil {
		return UnexpectedFailure{Message: err.Error(), Err: err}
	}

	start := time.Now()
	resp, err := f.transport.RoundTrip(out)
	if err != nil {
		return f.fail(ctx, callCtx, backend, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return f.fail(ctx, callCtx, backend, err)
	}

	header := cloneHeader(resp.Header)
	dropHopByHop(header)
	if r.Method != http.MethodHead {
		header.Set("Content-Length", strconv.Itoa(len(respBody)))
	}

	f.logger.Debug("forwarded",
		"backend", backend.Name,
		"method", r.Method,
		"path", m.Path,
		"status", resp.StatusCode,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return Success{Status: resp.StatusCode, Header: header, Body: respBody}
}

func (f *Forwarder) newOutbound(ctx context.Context, backend routing.BackendRef, path string, r *http.Request, body []byte) (*http.Request, error) {
	target := strings.TrimRight(backend.BaseURL, "/") + path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	out, err := http.NewRequestWithContext(ctx, r.Method, target, reader)
	if err != nil {
		return nil, err
	}

	out.Header = cloneHeader(r.Header)
	dropHopByHop(out.Header)
	out.Header.Del("Host")
	out.Header.Del("Content-Length")
	addForwardedFor(out.Header, r.RemoteAddr)
	if r.Host != "" {
		out.Header.Set("X-Forwarded-Host", r.Host)
	}
	out.ContentLength = int64(len(body))
	return out, nil
}

// fail classifies a transport error and logs it.
func (f *Forwarder) fail(parent, call context.Context, backend routing.BackendRef, err error) Outcome {
	o := classify(parent, call, backend, err)
	if _, ok := o.(UnexpectedFailure); ok && parent.Err() != nil {
		f.logger.Info("client closed request before backend answered", "backend", backend.Name)
		return o
	}
	f.logger.Warn("forward failed", "backend", backend.Name, "base_url", backend.BaseURL, "kind", Kind(o), "error", err)
	return o
}

// classify maps a transport error onto a failure outcome. The call context
// is consulted first because a deadline that fires during a body read can
// surface as an arbitrary read error.
func classify(parent, call context.Context, backend routing.BackendRef, err error) Outcome {
	if errors.Is(call.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return TimeoutFailure{Backend: backend, Err: err}
	}
	if errors.Is(parent.Err(), context.Canceled) {
		return UnexpectedFailure{Message: "client closed request", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TimeoutFailure{Backend: backend, Err: err}
	}
	if isConnectError(err) {
		return ConnectFailure{Backend: backend, Err: err}
	}
	return UnexpectedFailure{Message: err.Error(), Err: err}
}

func isConnectError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}

func carriesBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}
