package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwbudde/govizier/internal/policy"
)

// PolicyServer runs suggestion cycles on behalf of a front server.
type PolicyServer struct {
	service *policy.Service
}

func NewPolicyServer(service *policy.Service) *PolicyServer {
	return &PolicyServer{service: service}
}

// Handler builds the policy routes.
func (p *PolicyServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/policy/v1/suggest", p.handleSuggest)
	return r
}

func (p *PolicyServer) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req policySuggestRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	trials, err := p.service.SuggestTrials(r.Context(), req.StudyGUID, req.Count)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeTrials(w, http.StatusOK, trials)
}
