package browserd

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/profilemirror/extract"
	"github.com/hazyhaar/profilemirror/shield"
)

// NewHandler returns the full HTTP surface: shield middleware, optional
// per-IP rate limiting, the service routes and, when non-nil, /metrics.
func NewHandler(s *Service, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack(s.cfg.MaxBodyBytes) {
		r.Use(mw)
	}
	if s.cfg.RateLimitRPS > 0 {
		rl := shield.NewRateLimiter(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst, "/health", "/metrics")
		rl.StartGC(s.stop)
		r.Use(rl.Middleware)
	}
	s.RegisterHTTP(r)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}

// RegisterHTTP mounts the service routes on r.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Post("/snapshot", s.handleSnapshot)
	r.Post("/extract", s.handleExtract)
	r.Get("/sessions", s.handleSessions)
	r.Post("/session/start", s.handleSessionStart)
	r.Route("/session/{id}", func(r chi.Router) {
		r.Get("/frame", s.handleFrame)
		r.Post("/navigate", s.handleNavigate)
		r.Post("/viewport", s.handleViewport)
		r.Post("/input", s.handleInput)
		r.Delete("/", s.handleDelete)
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	shield.WriteJSON(w, http.StatusOK, s.Health())
}

func (s *Service) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	var req SnapshotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	img, err := s.Snapshot(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeImage(w, img)
}

func (s *Service) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extract.Request
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.Extract(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	shield.WriteJSON(w, http.StatusOK, res)
}

func (s *Service) handleSessions(w http.ResponseWriter, r *http.Request) {
	shield.WriteJSON(w, http.StatusOK, map[string]any{"sessions": s.Sessions()})
}

func (s *Service) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	info, err := s.StartSession(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	shield.WriteJSON(w, http.StatusOK, info)
}

func (s *Service) handleFrame(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	quality := 0
	if v := q.Get("quality"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			shield.WriteError(w, http.StatusBadRequest, "quality must be an integer")
			return
		}
		quality = n
	}
	img, err := s.Frame(r.Context(), chi.URLParam(r, "id"), q.Get("format"), quality)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeImage(w, img)
}

func (s *Service) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	loaded, err := s.Navigate(r.Context(), chi.URLParam(r, "id"), req.URL)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	shield.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "url": loaded})
}

func (s *Service) handleViewport(w http.ResponseWriter, r *http.Request) {
	var req Viewport
	if !decodeJSON(w, r, &req) {
		return
	}
	vp, err := s.SetViewport(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	shield.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "viewport": vp})
}

func (s *Service) handleInput(w http.ResponseWriter, r *http.Request) {
	var ev InputEvent
	if !decodeJSON(w, r, &ev) {
		return
	}
	if err := s.Input(r.Context(), chi.URLParam(r, "id"), ev); err != nil {
		writeServiceError(w, r, err)
		return
	}
	shield.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.DeleteSession(chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	shield.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// decodeJSON reads the request body into v. On failure it writes the
// response (413 for an oversized body, 400 otherwise) and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if shield.IsBodyTooLarge(err) {
			shield.WriteBodyTooLarge(w)
			return false
		}
		shield.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// StatusCode maps a service error to its HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrInvalidTarget), errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)
	log := shield.GetLogger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("browserd: request failed", "error", err)
	} else {
		log.Info("browserd: request rejected", "status", status, "error", err)
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	shield.WriteError(w, status, msg)
}

func writeImage(w http.ResponseWriter, img *Image) {
	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Bytes)))
	w.WriteHeader(http.StatusOK)
	w.Write(img.Bytes)
}
