package routing

import (
	"fmt"
	"net/url"
	"strings"
)

// segment is one "/"-separated piece of a route pattern. A segment with a
// non-empty param name is a placeholder and matches any single non-empty
// path segment.
type segment struct {
	literal string
	param   string
}

// pattern is a parsed route pattern such as "/tasks/{id}/status".
type pattern struct {
	raw      string
	segments []segment
	literals int
}

// parsePattern validates and splits a route pattern. Patterns must start
// with "/", must not contain empty segments (except the root pattern "/"),
// and placeholder names must be unique within a pattern.
func parsePattern(raw string) (pattern, error) {
	if !strings.HasPrefix(raw, "/") {
		return pattern{}, fmt.Errorf("pattern %q must start with /", raw)
	}
	p := pattern{raw: raw}
	if raw == "/" {
		return p, nil
	}

	seen := make(map[string]bool)
	for _, part := range strings.Split(raw[1:], "/") {
		if part == "" {
			return pattern{}, fmt.Errorf("pattern %q contains an empty segment", raw)
		}
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			name := part[1 : len(part)-1]
			if name == "" || strings.ContainsAny(name, "{}") {
				return pattern{}, fmt.Errorf("pattern %q has an invalid placeholder %q", raw, part)
			}
			if seen[name] {
				return pattern{}, fmt.Errorf("pattern %q repeats placeholder %q", raw, name)
			}
			seen[name] = true
			p.segments = append(p.segments, segment{param: name})
			continue
		}
		if strings.ContainsAny(part, "{}") {
			return pattern{}, fmt.Errorf("pattern %q has a malformed segment %q", raw, part)
		}
		p.segments = append(p.segments, segment{literal: part})
		p.literals++
	}
	return p, nil
}

// match reports whether path matches the pattern and returns the captured
// placeholder values. The path is the escaped URL path, split on literal
// "/" only, so an encoded slash stays inside its segment. Each segment is
// unescaped before it is compared or captured.
func (p pattern) match(path string) (map[string]string, bool) {
	parts, ok := splitPath(path)
	if !ok || len(parts) != len(p.segments) {
		return nil, false
	}

	var params map[string]string
	for i, seg := range p.segments {
		if parts[i] == "" {
			return nil, false
		}
		part, err := url.PathUnescape(parts[i])
		if err != nil {
			return nil, false
		}
		if seg.param == "" {
			if part != seg.literal {
				return nil, false
			}
			continue
		}
		if params == nil {
			params = make(map[string]string, len(p.segments)-p.literals)
		}
		params[seg.param] = part
	}
	return params, true
}

// splitPath breaks an absolute path into its segments. The root path "/"
// has zero segments. A trailing slash produces a final empty segment, which
// no pattern accepts.
func splitPath(path string) ([]string, bool) {
	if !strings.HasPrefix(path, "/") {
		return nil, false
	}
	if path == "/" {
		return nil, true
	}
	return strings.Split(path[1:], "/"), true
}
