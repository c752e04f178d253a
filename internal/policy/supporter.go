// Package policy drives designers against the study store: it owns the live
// designer of each study, serializes suggestion cycles per study and commits
// designer checkpoints into study metadata so a fresh process can resume.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cwbudde/govizier/internal/designer"
	"github.com/cwbudde/govizier/internal/metrics"
	"github.com/cwbudde/govizier/internal/ranking"
	"github.com/cwbudde/govizier/internal/store"
	"github.com/cwbudde/govizier/internal/study"
)

// Supporter runs suggestion cycles for one study.
//
// At most one cycle is in flight per study: the token is taken with a
// try-lock, so a concurrent request fails with study.ErrResourceBusy instead
// of queueing. The live designer is only trusted while every cycle commits;
// any failure drops it and the next cycle restores from the last committed
// checkpoint.
type Supporter struct {
	guid     string
	store    store.Store
	registry *Registry

	token sync.Mutex

	// Owned by the token holder.
	live      designer.Designer
	algorithm string
	seen      map[int]bool
}

func NewSupporter(guid string, st store.Store, registry *Registry) *Supporter {
	return &Supporter{guid: guid, store: st, registry: registry}
}

// GUID returns the study this supporter serves.
func (s *Supporter) GUID() string {
	return s.guid
}

// SuggestTrials runs one suggestion cycle and returns the persisted trials.
func (s *Supporter) SuggestTrials(ctx context.Context, count int) ([]study.Trial, error) {
	if err := designer.CheckCount(count); err != nil {
		return nil, err
	}
	if !s.token.TryLock() {
		metrics.BusyRejections.Inc()
		return nil, fmt.Errorf("%w: study %s already has a suggestion in flight", study.ErrResourceBusy, s.guid)
	}
	defer s.token.Unlock()

	start := time.Now()
	trials, err := s.cycle(ctx, count)
	metrics.RecordSuggest(s.algorithmLabel(), len(trials), time.Since(start), err)
	if err != nil {
		s.live = nil
		s.seen = nil
		slog.Warn("Suggestion cycle failed", "study_guid", s.guid, "count", count, "error", err)
		return nil, err
	}
	slog.Debug("Suggestion cycle committed", "study_guid", s.guid, "algorithm", s.algorithm, "trials", len(trials))
	return trials, nil
}

func (s *Supporter) algorithmLabel() string {
	if s.algorithm == "" {
		return "unknown"
	}
	return s.algorithm
}

func (s *Supporter) cycle(ctx context.Context, count int) ([]study.Trial, error) {
	cfg, err := s.store.GetStudyConfig(ctx, s.guid)
	if err != nil {
		return nil, err
	}
	if s.live == nil {
		if err := s.restore(cfg); err != nil {
			return nil, err
		}
	}

	all, err := s.store.GetTrials(ctx, s.guid, store.TrialFilter{})
	if err != nil {
		return nil, err
	}
	var fresh []study.Trial
	for _, t := range all {
		if t.IsCompleted() && !s.seen[t.ID] {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) > 0 {
		if err := s.live.Update(fresh); err != nil {
			return nil, fmt.Errorf("designer update: %w", err)
		}
		for _, t := range fresh {
			s.seen[t.ID] = true
		}
	}

	suggestions, err := s.live.Suggest(count)
	if err != nil {
		return nil, fmt.Errorf("designer suggest: %w", err)
	}
	added, err := s.store.AddTrials(ctx, s.guid, suggestions)
	if err != nil {
		return nil, err
	}

	if err := s.commit(ctx); err != nil {
		return nil, err
	}
	return added, nil
}

// restore builds a designer for the study's algorithm and loads the
// committed checkpoint, if one exists.
func (s *Supporter) restore(cfg study.StudyConfig) error {
	name, factory, err := s.registry.Resolve(cfg.Algorithm)
	if err != nil {
		return err
	}
	d, err := factory(cfg.Problem, designer.SeedFromGUID(s.guid))
	if err != nil {
		return fmt.Errorf("create %s designer: %w", name, err)
	}

	seen := make(map[int]bool)
	cp, ok, err := LoadCheckpoint(cfg.Metadata)
	if err != nil {
		return err
	}
	if ok {
		if cp.Algorithm != name {
			return study.CorruptState("study %s checkpoint belongs to %s, study uses %s", s.guid, cp.Algorithm, name)
		}
		if err := d.Load(cp.Designer); err != nil {
			return err
		}
		for _, id := range cp.Seen {
			seen[id] = true
		}
		slog.Info("Designer restored from checkpoint", "study_guid", s.guid, "algorithm", name, "seen", len(seen))
	} else {
		slog.Info("Designer created", "study_guid", s.guid, "algorithm", name)
	}

	s.live = d
	s.algorithm = name
	s.seen = seen
	return nil
}

func (s *Supporter) commit(ctx context.Context) error {
	dump, err := s.live.Dump()
	if err != nil {
		return fmt.Errorf("designer dump: %w", err)
	}
	value, err := Checkpoint{Algorithm: s.algorithm, Designer: dump, Seen: seenList(s.seen)}.Encode()
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	var delta study.MetadataDelta
	delta.Assign(MetadataNamespace, KeyCheckpoint, value)
	delta.Assign(MetadataNamespace, KeyAlgorithm, s.algorithm)
	if err := s.store.UpdateMetadata(ctx, s.guid, delta); err != nil {
		return err
	}
	metrics.CheckpointBytes.WithLabelValues(s.algorithm).Observe(float64(len(value)))
	return nil
}

// GetBestTrials ranks the study's completed trials. It is a pure read and
// does not take the suggestion token.
func (s *Supporter) GetBestTrials(ctx context.Context, count int) ([]study.Trial, error) {
	return BestTrials(ctx, s.store, s.guid, count)
}

// BestTrials ranks the completed trials of a study read from st.
func BestTrials(ctx context.Context, st store.Store, guid string, count int) ([]study.Trial, error) {
	cfg, err := st.GetStudyConfig(ctx, guid)
	if err != nil {
		return nil, err
	}
	trials, err := st.GetTrials(ctx, guid, store.TrialFilter{})
	if err != nil {
		return nil, err
	}
	return ranking.BestTrials(cfg.Problem, trials, count)
}
