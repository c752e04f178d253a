package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cwbudde/govizier/internal/study"
)

type memStudy struct {
	study  study.Study
	trials []study.Trial // trials[i].ID == i+1
}

// MemoryStore keeps studies in process memory. Every value crossing the API
// boundary is deep-copied so callers never alias committed state.
type MemoryStore struct {
	mu      sync.RWMutex
	studies map[string]*memStudy
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		studies: make(map[string]*memStudy),
		now:     time.Now,
	}
}

func (s *MemoryStore) CreateStudy(_ context.Context, in study.Study) (study.Study, error) {
	prepared, err := prepareStudy(in, s.now())
	if err != nil {
		return study.Study{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.studies[prepared.GUID]; exists {
		return study.Study{}, study.InvalidArgument("study %s already exists", prepared.GUID)
	}
	s.studies[prepared.GUID] = &memStudy{study: prepared}
	return prepared.Clone(), nil
}

func (s *MemoryStore) GetStudy(_ context.Context, guid string) (study.Study, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.studies[guid]
	if !ok {
		return study.Study{}, study.StudyNotFound(guid)
	}
	return st.study.Clone(), nil
}

func (s *MemoryStore) ListStudies(_ context.Context) ([]study.Study, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]study.Study, 0, len(s.studies))
	for _, st := range s.studies {
		out = append(out, st.study.Clone())
	}
	sortStudies(out)
	return out, nil
}

func (s *MemoryStore) GetStudyConfig(ctx context.Context, guid string) (study.StudyConfig, error) {
	st, err := s.GetStudy(ctx, guid)
	if err != nil {
		return study.StudyConfig{}, err
	}
	return st.Config, nil
}

func (s *MemoryStore) AddTrials(_ context.Context, guid string, trials []study.Trial) ([]study.Trial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.studies[guid]
	if !ok {
		return nil, study.StudyNotFound(guid)
	}
	prepared, err := prepareTrials(trials, len(st.trials), s.now())
	if err != nil {
		return nil, err
	}
	st.trials = append(st.trials, prepared...)
	return study.CloneTrials(prepared), nil
}

func (s *MemoryStore) GetTrials(_ context.Context, guid string, filter TrialFilter) ([]study.Trial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.studies[guid]
	if !ok {
		return nil, study.StudyNotFound(guid)
	}
	out := make([]study.Trial, 0, len(st.trials))
	for _, t := range st.trials {
		if filter.contains(t.ID) {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) CompleteTrial(_ context.Context, guid string, id int, m study.Measurement) (study.Trial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.trialLocked(guid, id)
	if err != nil {
		return study.Trial{}, err
	}
	if err := completeTrial(t, guid, m, s.now()); err != nil {
		return study.Trial{}, err
	}
	return t.Clone(), nil
}

func (s *MemoryStore) StopTrial(_ context.Context, guid string, id int) (study.Trial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.trialLocked(guid, id)
	if err != nil {
		return study.Trial{}, err
	}
	if err := stopTrial(t, guid); err != nil {
		return study.Trial{}, err
	}
	return t.Clone(), nil
}

func (s *MemoryStore) UpdateMetadata(_ context.Context, guid string, delta study.MetadataDelta) error {
	if err := delta.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.studies[guid]
	if !ok {
		return study.StudyNotFound(guid)
	}
	// Check every reference before touching anything.
	for _, id := range delta.TrialIDs() {
		if id > len(st.trials) {
			return study.TrialNotFound(guid, id)
		}
	}

	st.study.Config.Metadata = delta.ApplyStudy(st.study.Config.Metadata)
	for _, id := range delta.TrialIDs() {
		t := &st.trials[id-1]
		t.Metadata = delta.ApplyTrial(id, t.Metadata)
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) trialLocked(guid string, id int) (*study.Trial, error) {
	st, ok := s.studies[guid]
	if !ok {
		return nil, study.StudyNotFound(guid)
	}
	if id <= 0 || id > len(st.trials) {
		return nil, study.TrialNotFound(guid, id)
	}
	return &st.trials[id-1], nil
}

func sortStudies(studies []study.Study) {
	sort.Slice(studies, func(i, j int) bool {
		if !studies[i].CreationTime.Equal(studies[j].CreationTime) {
			return studies[i].CreationTime.Before(studies[j].CreationTime)
		}
		return studies[i].GUID < studies[j].GUID
	})
}
