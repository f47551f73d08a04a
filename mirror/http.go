package mirror

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/profilemirror/shield"
)

// maxBody caps request bodies; mirrord endpoints take none.
const maxBody = 64 << 10

// NewHandler returns the consumer HTTP surface. metrics, when non-nil, is
// mounted at /metrics.
func NewHandler(m *Mirror, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack(maxBody) {
		r.Use(mw)
	}
	m.RegisterHTTP(r)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}

// RegisterHTTP mounts the mirror routes on r.
func (m *Mirror) RegisterHTTP(r chi.Router) {
	r.Get("/health", m.handleHealth)
	r.Get("/snapshot", m.handleSnapshot)
	r.Get("/snapshot/stream", m.handleStream)
	r.Get("/status", m.handleStatus)
	r.Get("/sites/{site}/runs", m.handleRuns)
	r.Post("/refresh", m.handleRefreshAll)
	r.Post("/refresh/{site}", m.handleRefreshSite)
}

func (m *Mirror) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := m.Snapshot()
	shield.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"sites":    len(snap.Sites),
		"inFlight": snap.InFlight,
		"summary":  snap.Summary,
	})
}

func (m *Mirror) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	shield.WriteJSON(w, http.StatusOK, m.Snapshot())
}

func (m *Mirror) handleStatus(w http.ResponseWriter, r *http.Request) {
	shield.WriteJSON(w, http.StatusOK, map[string]any{"sites": m.Status()})
}

func (m *Mirror) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			shield.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := m.Runs(r.Context(), chi.URLParam(r, "site"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	shield.WriteJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (m *Mirror) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	results, err := m.RefreshAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	shield.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "results": results})
}

func (m *Mirror) handleRefreshSite(w http.ResponseWriter, r *http.Request) {
	res, err := m.RefreshSite(r.Context(), chi.URLParam(r, "site"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	shield.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "result": res})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, ErrUnknownSite) {
		status = http.StatusNotFound
	}
	log := shield.GetLogger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("mirror: request failed", "error", err)
		// Raw errors stay in the log; consumers only see status fields.
		shield.WriteError(w, status, "internal error")
		return
	}
	shield.WriteError(w, status, err.Error())
}
