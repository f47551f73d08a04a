package kit

import "context"

type contextKey string

const (
	transportKey contextKey = "transport" // "http", "mcp", "scheduler"
	traceIDKey   contextKey = "trace_id"
	siteIDKey    contextKey = "site_id"
)

// TraceHeader carries a trace id between mirrord and browserd.
const TraceHeader = "X-Trace-ID"

func value(ctx context.Context, key contextKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// WithTransport records which surface a call came through.
func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, transportKey, t)
}

// GetTransport defaults to "http".
func GetTransport(ctx context.Context) string {
	if v := value(ctx, transportKey); v != "" {
		return v
	}
	return "http"
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

func GetTraceID(ctx context.Context) string { return value(ctx, traceIDKey) }

// WithSiteID scopes ctx to one configured mirror site.
func WithSiteID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, siteIDKey, id)
}

func GetSiteID(ctx context.Context) string { return value(ctx, siteIDKey) }

// LogAttrs returns the request-scoped values set on ctx as slog key/value
// pairs, skipping empty ones.
func LogAttrs(ctx context.Context) []any {
	attrs := []any{"transport", GetTransport(ctx)}
	if v := GetTraceID(ctx); v != "" {
		attrs = append(attrs, "trace_id", v)
	}
	if v := GetSiteID(ctx); v != "" {
		attrs = append(attrs, "site", v)
	}
	return attrs
}
