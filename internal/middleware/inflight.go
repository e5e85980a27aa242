package middleware

import (
	"net/http"
	"strconv"
)

// InFlight caps the number of requests served at once. Requests over the cap
// are answered with 429 and a Retry-After hint instead of queueing behind a
// running generation. A limit of zero or less disables the cap.
func InFlight(limit int, retryAfterSeconds int) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	slots := make(chan struct{}, limit)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case slots <- struct{}{}:
			default:
				if retryAfterSeconds > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
				}
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			defer func() { <-slots }()
			next.ServeHTTP(w, r)
		})
	}
}
