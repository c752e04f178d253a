package policy

import (
	"context"
	"errors"
	"sync"

	"github.com/cwbudde/govizier/internal/store"
	"github.com/cwbudde/govizier/internal/study"
)

// Service keeps one Supporter per study.
type Service struct {
	store    store.Store
	registry *Registry

	mu         sync.Mutex
	supporters map[string]*Supporter
}

func NewService(st store.Store, registry *Registry) *Service {
	return &Service{
		store:      st,
		registry:   registry,
		supporters: make(map[string]*Supporter),
	}
}

// Registry returns the algorithm registry used by the service.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Supporter returns the supporter of a study, creating it on first use.
func (s *Service) Supporter(guid string) *Supporter {
	s.mu.Lock()
	defer s.mu.Unlock()

	sup, ok := s.supporters[guid]
	if !ok {
		sup = NewSupporter(guid, s.store, s.registry)
		s.supporters[guid] = sup
	}
	return sup
}

// SuggestTrials runs a suggestion cycle for the study.
func (s *Service) SuggestTrials(ctx context.Context, guid string, count int) ([]study.Trial, error) {
	if guid == "" {
		return nil, study.InvalidArgument("study guid is required")
	}
	sup := s.Supporter(guid)
	trials, err := sup.SuggestTrials(ctx, count)
	if errors.Is(err, study.ErrNotFound) {
		s.forget(guid, sup)
	}
	return trials, err
}

// forget drops the supporter of a study that could not be found, unless it
// was already replaced.
func (s *Service) forget(guid string, sup *Supporter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.supporters[guid] == sup {
		delete(s.supporters, guid)
	}
}

// Len returns the number of studies with a supporter.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.supporters)
}

// GetBestTrials ranks the study's completed trials.
func (s *Service) GetBestTrials(ctx context.Context, guid string, count int) ([]study.Trial, error) {
	return BestTrials(ctx, s.store, guid, count)
}
