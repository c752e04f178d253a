package store

import (
	"context"

	"github.com/cwbudde/govizier/internal/study"
)

// TrialFilter restricts GetTrials to an inclusive id range. Zero bounds are open.
type TrialFilter struct {
	MinID int
	MaxID int
}

func (f TrialFilter) contains(id int) bool {
	if f.MinID > 0 && id < f.MinID {
		return false
	}
	if f.MaxID > 0 && id > f.MaxID {
		return false
	}
	return true
}

// Store defines the identifier/metadata store shared by the study API and the
// policy supporters. Implementations must be thread-safe.
//
// Error handling conventions:
//   - unknown study or trial references return a *study.NotFoundError
//   - malformed input returns an error wrapping study.ErrInvalidArgument
//   - undecodable persisted records return an error wrapping study.ErrCorruptState
//   - other failures are wrapped with context using fmt.Errorf("context: %w", err)
type Store interface {
	// CreateStudy registers a new study. An empty GUID is replaced by a fresh
	// one; the stored study is returned.
	CreateStudy(ctx context.Context, s study.Study) (study.Study, error)

	GetStudy(ctx context.Context, guid string) (study.Study, error)

	// ListStudies returns all studies ordered by creation time, then guid.
	ListStudies(ctx context.Context) ([]study.Study, error)

	// GetStudyConfig returns the committed config and metadata snapshot.
	GetStudyConfig(ctx context.Context, guid string) (study.StudyConfig, error)

	// AddTrials assigns each trial the next unused id of the study, starting
	// at 1, and persists them. Concurrent callers never receive overlapping
	// id ranges and ids are never reused.
	AddTrials(ctx context.Context, guid string, trials []study.Trial) ([]study.Trial, error)

	// GetTrials returns trials in ascending id order within the filter range.
	GetTrials(ctx context.Context, guid string, filter TrialFilter) ([]study.Trial, error)

	// CompleteTrial records the final measurement of an active or stopped trial.
	// The final measurement of a completed trial is immutable.
	CompleteTrial(ctx context.Context, guid string, id int, m study.Measurement) (study.Trial, error)

	// StopTrial marks an active trial as stopped early.
	StopTrial(ctx context.Context, guid string, id int) (study.Trial, error)

	// UpdateMetadata applies the delta atomically to the study and the named
	// trials. If any referenced trial is unknown nothing is applied.
	UpdateMetadata(ctx context.Context, guid string, delta study.MetadataDelta) error

	Close() error
}
