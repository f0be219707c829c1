package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/dskow/service-gateway/internal/config"
)

// Info is the body served on GET /.
type Info struct {
	Service      string            `json:"service"`
	Version      string            `json:"version"`
	Architecture string            `json:"architecture"`
	Services     map[string]string `json:"services"`
}

// NewInfo collects gateway metadata and the base URL of every service,
// keyed by service key.
func NewInfo(meta config.GatewayInfo, services []config.ServiceConfig) Info {
	urls := make(map[string]string, len(services))
	for _, svc := range services {
		urls[svc.Key] = svc.BaseURL
	}
	return Info{
		Service:      meta.Name,
		Version:      meta.Version,
		Architecture: meta.Architecture,
		Services:     urls,
	}
}

// InfoHandler serves info. The body is encoded once.
func InfoHandler(info Info) http.HandlerFunc {
	body, err := json.Marshal(info)
	if err != nil {
		panic(err)
	}
	body = append(body, '\n')
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(body) //nolint:errcheck
	}
}
