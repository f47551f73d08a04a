// Package shield provides the HTTP middleware shared by browserd and mirrord:
// open CORS, JSON body caps, security headers, request tracing, JSON panic
// recovery and per-IP rate limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultAPIStack(1 << 20) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"encoding/json"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultAPIStack returns the standard middleware stack for a JSON API.
// Order: Recover → CORS → SecurityHeaders → TraceID → MaxBody.
func DefaultAPIStack(maxBody int64) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		Recover,
		CORS,
		SecurityHeaders(DefaultHeaders()),
		TraceID,
		MaxBody(maxBody),
	}
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes {"error": msg}.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// withLogger is used by TraceID; exported access goes through GetLogger.
func withLogger(ctx context.Context, v any) context.Context {
	return context.WithValue(ctx, LoggerKey, v)
}
