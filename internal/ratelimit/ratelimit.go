// Package ratelimit provides optional per-client-IP token bucket rate
// limiting for the service gateway. The limiter is off unless
// rate_limit.enabled is set, and can be switched on or retuned by a config
// reload without a restart.
package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dskow/service-gateway/internal/apierror"
	"github.com/dskow/service-gateway/internal/config"
	"github.com/dskow/service-gateway/internal/metrics"
	"github.com/dskow/service-gateway/internal/routing"
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter tracks per-client token buckets and evicts idle clients.
type Limiter struct {
	mu           sync.RWMutex
	enabled      bool
	rate         rate.Limit
	burst        int
	clients      map[string]*client
	table        *routing.Table
	trustedCIDRs []*net.IPNet
	logger       *slog.Logger
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// New creates a Limiter and starts its cleanup goroutine. table is used
// only to label rejections by route pattern and may be nil. trustedProxies
// lists CIDRs whose X-Forwarded-For header is believed.
func New(cfg config.RateLimitConfig, table *routing.Table, trustedProxies []string, logger *slog.Logger) *Limiter {
	l := &Limiter{
		clients:      make(map[string]*client),
		table:        table,
		trustedCIDRs: parseCIDRs(trustedProxies, logger),
		logger:       logger,
		stopCh:       make(chan struct{}),
	}
	l.apply(cfg)
	go l.cleanup()
	return l
}

func parseCIDRs(cidrs []string, logger *slog.Logger) []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Warn("invalid trusted proxy CIDR, skipping", "cidr", cidr, "error", err)
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}

// Stop terminates the cleanup goroutine. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// UpdateConfig applies new settings. Existing buckets are dropped so the
// new limits take effect on the next request.
func (l *Limiter) UpdateConfig(cfg config.RateLimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applyLocked(cfg)
	l.clients = make(map[string]*client)
}

func (l *Limiter) apply(cfg config.RateLimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applyLocked(cfg)
}

func (l *Limiter) applyLocked(cfg config.RateLimitConfig) {
	l.enabled = cfg.Enabled && cfg.RequestsPerSecond > 0 && cfg.BurstSize > 0
	l.rate = rate.Limit(cfg.RequestsPerSecond)
	l.burst = cfg.BurstSize
}

// Enabled reports whether requests are currently being limited.
func (l *Limiter) Enabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.enabled
}

// Stats is a point-in-time view of the limiter for inspection.
type Stats struct {
	Enabled           bool    `json:"enabled"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	BurstSize         int     `json:"burst_size"`
	TrackedClients    int     `json:"tracked_clients"`
}

// Stats returns the current settings and the number of tracked clients.
func (l *Limiter) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Stats{
		Enabled:           l.enabled,
		RequestsPerSecond: float64(l.rate),
		BurstSize:         l.burst,
		TrackedClients:    len(l.clients),
	}
}

// Middleware rejects clients that exhaust their bucket with 429 and a
// Retry-After hint.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := l.ClientIP(r)
			limiter, limit, ok := l.limiterFor(ip)
			if !ok || limiter.Allow() {
				next.ServeHTTP(w, r)
				return
			}

			route := l.routeLabel(r)
			l.logger.Warn("rate limit exceeded", "client_ip", ip, "path", r.URL.Path, "route", route)
			metrics.RateLimitHits.WithLabelValues(route).Inc()

			retryAfter := 1
			if limit > 0 && limit < 1 {
				retryAfter = int(1/float64(limit) + 0.5)
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			apierror.WriteDetail(w, http.StatusTooManyRequests, apierror.RateLimitExceeded, apierror.DetailRateLimited)
		})
	}
}

func (l *Limiter) routeLabel(r *http.Request) string {
	if l.table == nil {
		return "unmatched"
	}
	if m, ok := l.table.Resolve(r.Method, r.URL.EscapedPath()); ok {
		return m.Route.Pattern
	}
	return "unmatched"
}

// ClientIP extracts the client address. X-Forwarded-For is only consulted
// when the direct peer is a trusted proxy; it is walked right to left and
// the first untrusted address wins.
func (l *Limiter) ClientIP(r *http.Request) string {
	peerIP := extractIP(r.RemoteAddr)

	if len(l.trustedCIDRs) > 0 && l.isTrusted(peerIP) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			for i := len(parts) - 1; i >= 0; i-- {
				ip := strings.TrimSpace(parts[i])
				if ip != "" && !l.isTrusted(ip) {
					return ip
				}
			}
		}
	}
	return peerIP
}

func (l *Limiter) isTrusted(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, cidr := range l.trustedCIDRs {
		if cidr.Contains(ip) {
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

// limiterFor returns the bucket for ip, creating it on first use. ok is
// false when limiting is disabled.
func (l *Limiter) limiterFor(ip string) (*rate.Limiter, rate.Limit, bool) {
	l.mu.RLock()
	if !l.enabled {
		l.mu.RUnlock()
		return nil, 0, false
	}
	limit := l.rate
	if c, exists := l.clients[ip]; exists {
		stale := time.Since(c.lastSeen) > time.Minute
		l.mu.RUnlock()
		if stale {
			l.mu.Lock()
			c.lastSeen = time.Now()
			l.mu.Unlock()
		}
		return c.limiter, limit, true
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled {
		return nil, 0, false
	}
	if c, exists := l.clients[ip]; exists {
		c.lastSeen = time.Now()
		return c.limiter, l.rate, true
	}
	limiter := rate.NewLimiter(l.rate, l.burst)
	l.clients[ip] = &client{limiter: limiter, lastSeen: time.Now()}
	return limiter, l.rate, true
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			for ip, c := range l.clients {
				if time.Since(c.lastSeen) > 3*time.Minute {
					delete(l.clients, ip)
				}
			}
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}
