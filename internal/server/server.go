// Package server exposes studies, trials and suggestions over HTTP/JSON and
// wires the front and policy servers into colocated or distributed topologies.
package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwbudde/govizier/internal/policy"
	"github.com/cwbudde/govizier/internal/store"
	"github.com/cwbudde/govizier/internal/study"
)

// Suggester runs suggestion cycles. It is satisfied by a local
// policy.Service and by a PolicyClient of a remote policy server.
type Suggester interface {
	SuggestTrials(ctx context.Context, guid string, count int) ([]study.Trial, error)
}

// Server is the front study/trial API.
type Server struct {
	store       store.Store
	suggester   Suggester
	broadcaster *EventBroadcaster

	done      chan struct{}
	closeOnce sync.Once
}

// NewServer serves st and forwards suggestion requests to suggester.
func NewServer(st store.Store, suggester Suggester) *Server {
	b := NewEventBroadcaster()
	return newServer(newNotifyingStore(st, b), b, suggester)
}

// NewLocalServer serves st with an in-process policy service.
func NewLocalServer(st store.Store, registry *policy.Registry) *Server {
	b := NewEventBroadcaster()
	ns := newNotifyingStore(st, b)
	return newServer(ns, b, policy.NewService(ns, registry))
}

func newServer(st store.Store, b *EventBroadcaster, suggester Suggester) *Server {
	return &Server{
		store:       st,
		suggester:   suggester,
		broadcaster: b,
		done:        make(chan struct{}),
	}
}

// Broadcaster returns the trial event broadcaster.
func (s *Server) Broadcaster() *EventBroadcaster {
	return s.broadcaster
}

// Close ends open event streams. It is safe to call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Handler builds the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/studies", func(r chi.Router) {
		r.Post("/", s.handleCreateStudy)
		r.Get("/", s.handleListStudies)
		r.Route("/{guid}", func(r chi.Router) {
			r.Get("/", s.handleGetStudy)
			r.Get("/config", s.handleGetStudyConfig)
			r.Post("/trials", s.handleAddTrials)
			r.Get("/trials", s.handleGetTrials)
			r.Post("/trials/{id}/complete", s.handleCompleteTrial)
			r.Post("/trials/{id}/stop", s.handleStopTrial)
			r.Post("/metadata", s.handleUpdateMetadata)
			r.Get("/best", s.handleBestTrials)
			r.Post("/suggest", s.handleSuggest)
			r.Get("/events", s.handleEvents)
		})
	})
	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createStudyRequest struct {
	GUID        string            `json:"guid,omitempty" validate:"omitempty,max=128"`
	DisplayName string            `json:"display_name,omitempty" validate:"max=256"`
	Owner       string            `json:"owner,omitempty" validate:"max=256"`
	Config      study.StudyConfig `json:"config"`
}

type studiesResponse struct {
	Studies []study.Study `json:"studies"`
}

type trialsRequest struct {
	Trials []study.Trial `json:"trials" validate:"required"`
}

type trialsResponse struct {
	Trials []study.Trial `json:"trials"`
}

type completeRequest struct {
	Measurement study.Measurement `json:"measurement"`
}

type suggestRequest struct {
	Count int `json:"count" validate:"gte=1"`
}

func (s *Server) handleCreateStudy(w http.ResponseWriter, r *http.Request) {
	var req createStudyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.store.CreateStudy(r.Context(), study.Study{
		GUID:        req.GUID,
		DisplayName: req.DisplayName,
		Owner:       req.Owner,
		Config:      req.Config,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListStudies(w http.ResponseWriter, r *http.Request) {
	studies, err := s.store.ListStudies(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if studies == nil {
		studies = []study.Study{}
	}
	writeJSON(w, http.StatusOK, studiesResponse{Studies: studies})
}

func (s *Server) handleGetStudy(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.GetStudy(r.Context(), chi.URLParam(r, "guid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleGetStudyConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.GetStudyConfig(r.Context(), chi.URLParam(r, "guid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleAddTrials(w http.ResponseWriter, r *http.Request) {
	var req trialsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	added, err := s.store.AddTrials(r.Context(), chi.URLParam(r, "guid"), req.Trials)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, trialsResponse{Trials: added})
}

func (s *Server) handleGetTrials(w http.ResponseWriter, r *http.Request) {
	minID, err := intQuery(r, "min_id", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	maxID, err := intQuery(r, "max_id", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	trials, err := s.store.GetTrials(r.Context(), chi.URLParam(r, "guid"), store.TrialFilter{MinID: minID, MaxID: maxID})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeTrials(w, http.StatusOK, trials)
}

func (s *Server) handleCompleteTrial(w http.ResponseWriter, r *http.Request) {
	id, err := trialIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req completeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.store.CompleteTrial(r.Context(), chi.URLParam(r, "guid"), id, req.Measurement)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleStopTrial(w http.ResponseWriter, r *http.Request) {
	id, err := trialIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.store.StopTrial(r.Context(), chi.URLParam(r, "guid"), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	var delta study.MetadataDelta
	if err := decodeBody(r, &delta); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.store.UpdateMetadata(r.Context(), chi.URLParam(r, "guid"), delta); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBestTrials(w http.ResponseWriter, r *http.Request) {
	count, err := intQuery(r, "count", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	best, err := policy.BestTrials(r.Context(), s.store, chi.URLParam(r, "guid"), count)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeTrials(w, http.StatusOK, best)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req suggestRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	trials, err := s.suggester.SuggestTrials(r.Context(), chi.URLParam(r, "guid"), req.Count)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeTrials(w, http.StatusOK, trials)
}

func writeTrials(w http.ResponseWriter, status int, trials []study.Trial) {
	if trials == nil {
		trials = []study.Trial{}
	}
	writeJSON(w, status, trialsResponse{Trials: trials})
}
