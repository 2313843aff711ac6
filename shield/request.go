package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/vigie/idgen"
	"github.com/hazyhaar/vigie/kit"
)

var newRequestID = idgen.NanoID(8)

// RequestID tags each request with a short random ID and injects it into the
// context, the X-Request-ID response header, and a per-request structured
// logger. Audit entries written further down the chain pick the ID up from
// kit.RequestIDKey, so one header value ties a log line to its audit row.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := newRequestID()

		ctx := kit.WithRequestID(r.Context(), id)
		ctx = kit.WithRemoteAddr(ctx, ExtractIP(r))
		w.Header().Set("X-Request-ID", id)

		logger := slog.Default().With(
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)
		ctx = context.WithValue(ctx, LoggerKey, logger)
		logger.Info("request")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
