package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/profilemirror/horosafe"
	"github.com/hazyhaar/profilemirror/idgen"
	"github.com/hazyhaar/profilemirror/kit"
)

// maxTraceID bounds caller-supplied trace ids.
const maxTraceID = 64

// TraceID tags each request with a trace id: the caller's X-Trace-ID when it
// is a short identifier (mirrord forwards its run id to browserd), a fresh
// one otherwise. The id goes into the context, the response header and a
// per-request logger.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(kit.TraceHeader)
		if len(traceID) > maxTraceID || horosafe.ValidateIdentifier(traceID) != nil {
			traceID = idgen.TraceID()
		}
		w.Header().Set(kit.TraceHeader, traceID)

		logger := slog.Default().With(
			"trace_id", traceID,
			"method", r.Method,
			"path", r.URL.Path,
		)
		logger.Debug("request", "remote_addr", r.RemoteAddr)

		ctx := withLogger(kit.WithTraceID(r.Context(), traceID), logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetLogger retrieves the per-request logger, or slog.Default().
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
