// Package routing provides the gateway's static routing table. A Table is
// assembled once at startup through a Builder and is read-only afterwards,
// so it is safe for concurrent use without synchronization.
package routing

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// BackendRef identifies one logical backend service.
type BackendRef struct {
	// Name is the service name reported by health checks, e.g. "task-service".
	Name string `json:"name"`
	// BaseURL is the scheme://host[:port] prefix outbound calls are sent to.
	BaseURL string `json:"base_url"`
	// Placeholder marks a declared service with no live implementation.
	// Routes pointing at it answer 501 and never issue an outbound call.
	Placeholder bool `json:"placeholder"`
	// NotImplementedMessage is the 501 detail for placeholder backends.
	NotImplementedMessage string `json:"not_implemented_message,omitempty"`
}

// Route maps a path pattern and a set of methods to a backend.
type Route struct {
	Pattern string     `json:"pattern"`
	Methods []string   `json:"methods"`
	Backend BackendRef `json:"backend"`
}

// Allows reports whether the route accepts the given HTTP method.
func (r Route) Allows(method string) bool {
	for _, m := range r.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// Match is the result of a successful Resolve.
type Match struct {
	Route Route
	// Path is the escaped request path that matched Route.Pattern, as the
	// client sent it.
	Path string
	// Params holds placeholder captures keyed by placeholder name.
	Params map[string]string
}

// Param returns the captured value for a placeholder, or "" if absent.
func (m Match) Param(name string) string {
	return m.Params[name]
}

type entry struct {
	route   Route
	pattern pattern
	order   int
}

// Table is an immutable routing table.
type Table struct {
	entries []entry
}

// Resolve finds the route for method and the escaped path (URL.EscapedPath).
// Segments are split before unescaping, so %2F never crosses a segment
// boundary. Entries are scanned from
// most to least specific; the first entry whose pattern matches the path and
// whose method set contains method wins. A path that matches only under a
// different method resolves to not found, exactly like an unknown path.
func (t *Table) Resolve(method, path string) (Match, bool) {
	for _, e := range t.entries {
		params, ok := e.pattern.match(path)
		if !ok || !e.route.Allows(method) {
			continue
		}
		return Match{Route: e.route, Path: path, Params: params}, true
	}
	return Match{}, false
}

// Routes returns a copy of the table's routes in resolution order.
func (t *Table) Routes() []Route {
	out := make([]Route, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.route
		out[i].Methods = append([]string(nil), e.route.Methods...)
	}
	return out
}

// Len returns the number of routes in the table.
func (t *Table) Len() int { return len(t.entries) }

// Builder accumulates routes and produces a Table. A Builder is not safe for
// concurrent use; it is meant to be driven from startup code only.
type Builder struct {
	entries []entry
	errs    []error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add registers pattern for the given methods on backend. Errors are
// collected and reported by Build so callers can chain Add calls.
func (b *Builder) Add(raw string, backend BackendRef, methods ...string) *Builder {
	p, err := parsePattern(raw)
	if err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	if len(methods) == 0 {
		b.errs = append(b.errs, fmt.Errorf("pattern %q has no methods", raw))
		return b
	}
	if backend.BaseURL == "" && !backend.Placeholder {
		b.errs = append(b.errs, fmt.Errorf("pattern %q: backend %q has no base URL", raw, backend.Name))
		return b
	}

	normalized := make([]string, 0, len(methods))
	for _, m := range methods {
		m = strings.ToUpper(strings.TrimSpace(m))
		if !validMethods[m] {
			b.errs = append(b.errs, fmt.Errorf("pattern %q: unsupported method %q", raw, m))
			return b
		}
		normalized = append(normalized, m)
	}

	b.entries = append(b.entries, entry{
		route:   Route{Pattern: raw, Methods: normalized, Backend: backend},
		pattern: p,
		order:   len(b.entries),
	})
	return b
}

// Build validates the accumulated routes and returns the immutable Table.
// Two routes may share a pattern only if their method sets are disjoint.
func (b *Builder) Build() (*Table, error) {
	errs := append([]error(nil), b.errs...)

	owner := make(map[string]string)
	for _, e := range b.entries {
		for _, m := range e.route.Methods {
			key := m + " " + e.pattern.shape()
			if prev, dup := owner[key]; dup {
				errs = append(errs, fmt.Errorf("%s %s conflicts with %s", m, e.route.Pattern, prev))
				continue
			}
			owner[key] = e.route.Pattern
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	entries := make([]entry, len(b.entries))
	copy(entries, b.entries)
	sort.SliceStable(entries, func(i, j int) bool {
		a, c := entries[i].pattern, entries[j].pattern
		if a.literals != c.literals {
			return a.literals > c.literals
		}
		if len(a.segments) != len(c.segments) {
			return len(a.segments) > len(c.segments)
		}
		return entries[i].order < entries[j].order
	})
	return &Table{entries: entries}, nil
}

// shape renders the pattern with placeholder names erased, so "/tasks/{id}"
// and "/tasks/{task_id}" are recognized as the same route shape.
func (p pattern) shape() string {
	if len(p.segments) == 0 {
		return "/"
	}
	var sb strings.Builder
	for _, s := range p.segments {
		sb.WriteByte('/')
		if s.param != "" {
			sb.WriteString("{}")
			continue
		}
		sb.WriteString(s.literal)
	}
	return sb.String()
}

var validMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
}
