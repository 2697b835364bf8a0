package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleRecentExchanges(w http.ResponseWriter, r *http.Request) {
	uid := strings.TrimSpace(chi.URLParam(r, "uid"))
	if uid == "" {
		respondError(w, http.StatusBadRequest, "missing_uid", "missing uid path segment")
		return
	}
	if s.store == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "archive not configured")
		return
	}

	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer in [1,500]")
			return
		}
		limit = n
	}

	records, err := s.store.RecentExchanges(r.Context(), uid, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "archive_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"uid":       uid,
		"exchanges": records,
	})
}
