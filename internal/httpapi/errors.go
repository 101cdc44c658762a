package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/you/recurse-review/internal/core"
)

// statusFor maps an error's kind to the response status.
func statusFor(err error) int {
	switch core.KindOf(err) {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindConfiguration:
		return http.StatusServiceUnavailable
	case core.KindSourceFetch, core.KindGeneration:
		return http.StatusBadGateway
	case core.KindRepository:
		if errors.Is(err, core.ErrNotFound) {
			return http.StatusNotFound
		}
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
