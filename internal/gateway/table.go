package gateway

import (
	"fmt"

	"github.com/dskow/service-gateway/internal/config"
	"github.com/dskow/service-gateway/internal/routing"
)

// BackendFor converts a service declaration into the backend reference
// carried by its routes.
func BackendFor(svc config.ServiceConfig) routing.BackendRef {
	msg := svc.Message
	if msg == "" {
		msg = config.NotImplementedMessage(svc.Name)
	}
	return routing.BackendRef{
		Name:                  svc.Name,
		BaseURL:               svc.BaseURL,
		Placeholder:           svc.Placeholder,
		NotImplementedMessage: msg,
	}
}

// Backends returns one reference per configured service, in declaration
// order.
func Backends(services []config.ServiceConfig) []routing.BackendRef {
	out := make([]routing.BackendRef, 0, len(services))
	for _, svc := range services {
		out = append(out, BackendFor(svc))
	}
	return out
}

// BuildTable builds the immutable routing table from the service list.
func BuildTable(services []config.ServiceConfig) (*routing.Table, error) {
	b := routing.NewBuilder()
	for _, svc := range services {
		backend := BackendFor(svc)
		for _, rc := range svc.Routes {
			b.Add(rc.Pattern, backend, rc.Methods...)
		}
	}
	table, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("building routing table: %w", err)
	}
	return table, nil
}
