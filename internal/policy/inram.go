package policy

import (
	"context"

	"github.com/cwbudde/govizier/internal/store"
	"github.com/cwbudde/govizier/internal/study"
)

// InRam runs a designer for a single problem against a private memory store.
// It is the smallest way to drive an algorithm end to end.
type InRam struct {
	store     *store.MemoryStore
	guid      string
	supporter *Supporter
}

// NewInRam creates a study for problem using algorithm and returns a
// supporter bound to it.
func NewInRam(ctx context.Context, problem study.ProblemStatement, algorithm string) (*InRam, error) {
	registry := NewRegistry()
	if _, _, err := registry.Resolve(algorithm); err != nil {
		return nil, err
	}
	st := store.NewMemoryStore()
	created, err := st.CreateStudy(ctx, study.Study{
		DisplayName: "in-ram",
		Config:      study.StudyConfig{Problem: problem, Algorithm: algorithm},
	})
	if err != nil {
		return nil, err
	}
	return &InRam{
		store:     st,
		guid:      created.GUID,
		supporter: NewSupporter(created.GUID, st, registry),
	}, nil
}

func (r *InRam) Store() store.Store { return r.store }

func (r *InRam) GUID() string { return r.guid }

func (r *InRam) SuggestTrials(ctx context.Context, count int) ([]study.Trial, error) {
	return r.supporter.SuggestTrials(ctx, count)
}

// Complete records the measurement of a suggested trial.
func (r *InRam) Complete(ctx context.Context, id int, metrics map[string]float64) (study.Trial, error) {
	return r.store.CompleteTrial(ctx, r.guid, id, study.Measurement{Metrics: metrics})
}

func (r *InRam) GetBestTrials(ctx context.Context, count int) ([]study.Trial, error) {
	return r.supporter.GetBestTrials(ctx, count)
}
