// Package shield provides the HTTP middleware guarding the vigie admin API.
// It consolidates security headers, per-endpoint rate limiting, body limits,
// request IDs and HEAD method handling into a single importable package.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack() {
//	    r.Use(mw)
//	}
//	rl := shield.NewRateLimiter(db, "/health")
//	rl.StartReloader(ctx.Done())
//	r.Use(rl.Middleware)
package shield

import "net/http"

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultStack returns the standard middleware chain for the admin API.
// Middleware is ordered: HeadToGet → SecurityHeaders → MaxBody → RequestID.
// Rate limiting needs a database handle, so callers append
// RateLimiter.Middleware themselves after applying the stack.
func DefaultStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(64 * 1024),
		RequestID,
	}
}

// HeadToGet converts HEAD requests to GET so that route handlers registered
// with r.Get() respond with 200 instead of 405 (Method Not Allowed).
// Go's net/http automatically strips the body for HEAD responses.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}
