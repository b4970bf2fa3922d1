package web

import (
	"encoding/json"
	"net/http"

	"pvz-monitor/internal/infra/logger"
)

// writeJSON сериализует v и пишет ответ с указанным кодом.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("api: запись ответа: %v", err)
	}
}

// writeDetail пишет ошибку в форме {"detail": "..."}.
func writeDetail(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"detail": msg})
}
