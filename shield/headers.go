package shield

import "net/http"

// Headers maps response header names to values. An empty value removes the
// header from a set built with With.
type Headers map[string]string

// DefaultHeaders is the set for JSON, image and websocket APIs: nothing is
// cached, sniffed, framed or allowed to load sub-resources.
func DefaultHeaders() Headers {
	return Headers{
		"X-Content-Type-Options":  "nosniff",
		"Referrer-Policy":         "no-referrer",
		"Cache-Control":           "no-store",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	}
}

// With returns a copy of h with overrides applied.
func (h Headers) With(overrides Headers) Headers {
	out := make(Headers, len(h)+len(overrides))
	for k, v := range h {
		out[k] = v
	}
	for k, v := range overrides {
		if v == "" {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// SecurityHeaders sets h on every response.
func SecurityHeaders(h Headers) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			dst := w.Header()
			for k, v := range h {
				dst.Set(k, v)
			}
			next.ServeHTTP(w, r)
		})
	}
}
