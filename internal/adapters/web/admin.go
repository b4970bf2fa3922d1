package web

import (
	"fmt"
	"net/http"
	"strconv"
)

const (
	defaultCleanupDays = 30
	maxCleanupDays     = 365
)

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.st.DBStats(r.Context())
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"stats":  stats,
	})
}

func (s *Server) handleAdminCleanup(w http.ResponseWriter, r *http.Request) {
	days := defaultCleanupDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "days должен быть числом")
			return
		}
		days = v
	}
	if days < 1 || days > maxCleanupDays {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("days должен быть в диапазоне 1..%d", maxCleanupDays))
		return
	}

	deleted, err := s.st.CleanupOldItems(r.Context(), days)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"deleted_count": deleted,
		"message":       fmt.Sprintf("Удалены объявления старше %d дней", days),
	})
}
