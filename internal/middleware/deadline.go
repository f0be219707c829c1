package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dskow/service-gateway/internal/apierror"
)

// Deadline applies a global deadline to everything downstream. If it fires
// before the handler has written anything, the client gets a 504. A
// non-positive timeout disables the middleware.
//
// The handler runs on its own goroutine. A panic there is carried back and
// re-raised on the calling goroutine once the handler returns, so an outer
// Recovery still sees it. Place Recovery inside Deadline to have the 500
// go through the same first-writer-wins response.
func Deadline(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			done := make(chan struct{})
			dw := &deadlineWriter{w: w, header: w.Header().Clone()}

			var panicVal any
			go func() {
				defer func() {
					panicVal = recover()
					close(done)
				}()
				next.ServeHTTP(dw, r.WithContext(ctx))
			}()
			defer func() {
				if panicVal != nil {
					panic(panicVal)
				}
			}()

			select {
			case <-done:
			case <-ctx.Done():
				if dw.claim() {
					apierror.WriteDetail(w, http.StatusGatewayTimeout, apierror.DeadlineExceeded, "Gateway deadline exceeded")
				}
				<-done
			}
		})
	}
}

// deadlineWriter lets the handler goroutine and the deadline race for the
// response. Whoever writes first owns it; the loser's writes are dropped.
type deadlineWriter struct {
	w      http.ResponseWriter
	header http.Header

	mu       sync.Mutex
	claimed  bool
	timedOut bool
}

func (dw *deadlineWriter) Header() http.Header { return dw.header }

// claim is called by the deadline path. It reports whether the handler
// had not started writing yet.
func (dw *deadlineWriter) claim() bool {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.claimed {
		return false
	}
	dw.claimed = true
	dw.timedOut = true
	return true
}

func (dw *deadlineWriter) WriteHeader(code int) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.timedOut || dw.claimed {
		return
	}
	dw.commitLocked(code)
}

func (dw *deadlineWriter) Write(b []byte) (int, error) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	if !dw.claimed {
		dw.commitLocked(http.StatusOK)
	}
	return dw.w.Write(b)
}

func (dw *deadlineWriter) commitLocked(code int) {
	dw.claimed = true
	dst := dw.w.Header()
	for k, v := range dw.header {
		dst[k] = v
	}
	dw.w.WriteHeader(code)
}
