package forward

import (
	"fmt"
	"net/http"

	"github.com/dskow/service-gateway/internal/routing"
)

// Outcome is the closed set of results a forwarded request can produce.
// Every value is one of Success, ConnectFailure, TimeoutFailure,
// UnexpectedFailure, NotImplemented, RouteNotFound or RequestTooLarge.
// The failure variants also implement error.
type Outcome interface {
	isOutcome()
}

// Success carries the backend response exactly as received, minus
// hop-by-hop headers. Backend 4xx and 5xx responses are successes too.
type Success struct {
	Status int
	Header http.Header
	Body   []byte
}

// ConnectFailure means no connection to the backend could be established.
type ConnectFailure struct {
	Backend routing.BackendRef
	Err     error
}

func (f ConnectFailure) Error() string {
	return fmt.Sprintf("backend %s unreachable at %s: %v", f.Backend.Name, f.Backend.BaseURL, f.Err)
}

func (f ConnectFailure) Unwrap() error { return f.Err }

// TimeoutFailure means the backend did not answer within the forward budget.
type TimeoutFailure struct {
	Backend routing.BackendRef
	Err     error
}

func (f TimeoutFailure) Error() string {
	return fmt.Sprintf("backend %s timed out at %s: %v", f.Backend.Name, f.Backend.BaseURL, f.Err)
}

func (f TimeoutFailure) Unwrap() error { return f.Err }

// UnexpectedFailure covers every other fault while forwarding.
type UnexpectedFailure struct {
	Message string
	Err     error
}

func (f UnexpectedFailure) Error() string { return f.Message }

func (f UnexpectedFailure) Unwrap() error { return f.Err }

// NotImplemented is produced for routes owned by a placeholder backend.
type NotImplemented struct {
	Message string
}

func (f NotImplemented) Error() string { return f.Message }

// RouteNotFound is produced when no route accepts the method and path.
type RouteNotFound struct{}

func (RouteNotFound) Error() string { return "no matching route" }

// RequestTooLarge means the inbound body exceeded the configured limit
// before it could be relayed.
type RequestTooLarge struct {
	Limit int64
}

func (f RequestTooLarge) Error() string {
	return fmt.Sprintf("request body exceeds %d bytes", f.Limit)
}

func (Success) isOutcome()           {}
func (ConnectFailure) isOutcome()    {}
func (TimeoutFailure) isOutcome()    {}
func (UnexpectedFailure) isOutcome() {}
func (NotImplemented) isOutcome()    {}
func (RouteNotFound) isOutcome()     {}
func (RequestTooLarge) isOutcome()   {}

// Kind returns a short stable label for an outcome, used in logs and metrics.
func Kind(o Outcome) string {
	switch o.(type) {
	case Success:
		return "success"
	case ConnectFailure:
		return "connect_failure"
	case TimeoutFailure:
		return "timeout"
	case UnexpectedFailure:
		return "unexpected"
	case NotImplemented:
		return "not_implemented"
	case RouteNotFound:
		return "route_not_found"
	case RequestTooLarge:
		return "request_too_large"
	default:
		return "unknown"
	}
}
