package forward

import (
	"net"
	"net/http"
	"time"

	"github.com/dskow/service-gateway/internal/config"
)

// NewTransport builds the pooled HTTP/1.1 transport used for backend calls.
// There is no separate dial or header timeout: the per-call context
// deadline bounds the whole exchange.
//
// Compression is disabled so that bodies and Content-Encoding pass through
// untouched instead of being transparently decoded.
func NewTransport(cfg config.ForwardConfig) *http.Transport {
	dialer := &net.Dialer{
		KeepAlive: 60 * time.Second,
	}
	return &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdlePerHost * 4,
		MaxIdleConnsPerHost:   cfg.MaxIdlePerHost,
		IdleConnTimeout:       cfg.IdleTimeout,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
		DisableCompression:    true,
		ForceAttemptHTTP2:     false,
	}
}
