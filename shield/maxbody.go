package shield

import "net/http"

// MaxBody returns middleware that limits the request body size. Requests
// without a body pass through untouched; oversized bodies surface as a
// *http.MaxBytesError from the handler's decoder.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength != 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
