package server

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/cwbudde/govizier/internal/study"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 8 << 20

var validate = validator.New()

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// decodeBody reads a JSON body into v and validates its struct tags.
func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return study.InvalidArgument("failed to read body: %v", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return study.InvalidArgument("invalid JSON: %v", err)
	}
	if err := validate.Struct(v); err != nil {
		return study.InvalidArgument("%v", err)
	}
	return nil
}

// trialIDParam parses the {id} route parameter.
func trialIDParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, study.InvalidArgument("invalid trial id %q", raw)
	}
	return id, nil
}

// intQuery parses an optional non-negative integer query parameter.
func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, study.InvalidArgument("invalid %s %q", name, raw)
	}
	return v, nil
}
