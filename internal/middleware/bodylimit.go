package middleware

import (
	"net/http"

	"github.com/dskow/service-gateway/internal/apierror"
)

// BodyLimit rejects requests whose declared Content-Length exceeds maxBytes
// with 413, and wraps every other body in http.MaxBytesReader so chunked
// uploads are cut off at the same limit. A non-positive maxBytes disables
// the check.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				WriteBodyLimitError(w)
				return
			}
			if r.Body != nil && r.ContentLength != 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteBodyLimitError writes the 413 detail response.
func WriteBodyLimitError(w http.ResponseWriter) {
	apierror.WriteDetail(w, http.StatusRequestEntityTooLarge, apierror.BodyTooLarge, apierror.DetailBodyTooLarge)
}
