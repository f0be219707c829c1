// Package apierror turns forwarding outcomes into client-visible responses.
// Every response the gateway produces itself has a {"detail": ...} JSON body,
// Content-Type application/json and a stable X-Gateway-Error-Code header.
package apierror

import (
	"encoding/json"
	"net/http"

	"github.com/dskow/service-gateway/internal/forward"
)

// ErrorCode is a machine-readable error classification string.
type ErrorCode string

// Gateway error codes. These form a public API contract; clients can program
// against them. Do not rename or remove existing codes.
const (
	RouteNotFound      ErrorCode = "GATEWAY_ROUTE_NOT_FOUND"
	NotImplemented     ErrorCode = "GATEWAY_NOT_IMPLEMENTED"
	BackendUnreachable ErrorCode = "GATEWAY_BACKEND_UNREACHABLE"
	BackendTimeout     ErrorCode = "GATEWAY_BACKEND_TIMEOUT"
	ForwardingError    ErrorCode = "GATEWAY_FORWARDING_ERROR"
	RateLimitExceeded  ErrorCode = "GATEWAY_RATE_LIMIT_EXCEEDED"
	InternalError      ErrorCode = "GATEWAY_INTERNAL_ERROR"
	BodyTooLarge       ErrorCode = "GATEWAY_BODY_TOO_LARGE"
	DeadlineExceeded   ErrorCode = "GATEWAY_DEADLINE_EXCEEDED"
	Forbidden          ErrorCode = "GATEWAY_FORBIDDEN"
)

// CodeHeader carries the ErrorCode on gateway-generated responses.
const CodeHeader = "X-Gateway-Error-Code"

// Fixed details used by more than one component.
const (
	DetailNotFound      = "Resource not found"
	DetailInternalError = "Internal server error"
	DetailBodyTooLarge  = "Request body too large"
	DetailRateLimited   = "Rate limit exceeded, retry later"
)

// ErrorResponse is the gateway error body.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// Response is a fully materialized status, header and body triple.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Pre-serialized bodies for the fixed-detail responses.
var (
	preNotFound      = mustMarshal(DetailNotFound)
	preInternalError = mustMarshal(DetailInternalError)
	preBodyTooLarge  = mustMarshal(DetailBodyTooLarge)
	preRateLimited   = mustMarshal(DetailRateLimited)
)

func mustMarshal(detail string) []byte {
	b, err := json.Marshal(ErrorResponse{Detail: detail})
	if err != nil {
		panic(err)
	}
	return append(b, '\n')
}

// Translate maps an outcome onto the response the client receives. It has
// no side effects; a Success passes through untouched.
func Translate(o forward.Outcome) Response {
	switch o := o.(type) {
	case forward.Success:
		return Response{Status: o.Status, Header: o.Header, Body: o.Body}
	case forward.ConnectFailure:
		return detail(http.StatusServiceUnavailable, BackendUnreachable, "Service unavailable: "+o.Backend.BaseURL)
	case forward.TimeoutFailure:
		return detail(http.StatusGatewayTimeout, BackendTimeout, "Service timeout: "+o.Backend.BaseURL)
	case forward.UnexpectedFailure:
		return detail(http.StatusInternalServerError, ForwardingError, "Gateway error: "+o.Message)
	case forward.NotImplemented:
		return detail(http.StatusNotImplemented, NotImplemented, o.Message)
	case forward.RouteNotFound:
		return detail(http.StatusNotFound, RouteNotFound, DetailNotFound)
	case forward.RequestTooLarge:
		return detail(http.StatusRequestEntityTooLarge, BodyTooLarge, DetailBodyTooLarge)
	default:
		return detail(http.StatusInternalServerError, InternalError, DetailInternalError)
	}
}

func detail(status int, code ErrorCode, msg string) Response {
	h := make(http.Header, 2)
	h.Set("Content-Type", "application/json")
	h.Set(CodeHeader, string(code))
	body := preSerialized(msg)
	if body == nil {
		body = mustMarshal(msg)
	}
	return Response{Status: status, Header: h, Body: body}
}

func preSerialized(msg string) []byte {
	switch msg {
	case DetailNotFound:
		return preNotFound
	case DetailInternalError:
		return preInternalError
	case DetailBodyTooLarge:
		return preBodyTooLarge
	case DetailRateLimited:
		return preRateLimited
	}
	return nil
}

// Write sends resp to w. Headers already present on w (request ID,
// security headers) are kept unless resp overrides them.
func Write(w http.ResponseWriter, resp Response) {
	dst := w.Header()
	for k, vv := range resp.Header {
		dst[k] = append([]string(nil), vv...)
	}
	w.WriteHeader(resp.Status)
	w.Write(resp.Body) //nolint:errcheck
}

// WriteDetail writes a gateway-generated {"detail": ...} response.
func WriteDetail(w http.ResponseWriter, status int, code ErrorCode, msg string) {
	Write(w, detail(status, code, msg))
}
