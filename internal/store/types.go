package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/govizier/internal/study"
)

// prepareStudy validates a study for creation and fills in server-side fields.
func prepareStudy(s study.Study, now time.Time) (study.Study, error) {
	if err := s.Config.Problem.Validate(); err != nil {
		return study.Study{}, err
	}
	out := s.Clone()
	if out.GUID == "" {
		out.GUID = uuid.New().String()
	}
	if err := validGUID(out.GUID); err != nil {
		return study.Study{}, err
	}
	if out.Config.Algorithm == "" {
		out.Config.Algorithm = study.AlgorithmDefault
	}
	if out.Config.EarlyStopping == nil {
		es := study.DefaultStoppingConfig()
		out.Config.EarlyStopping = &es
	}
	out.CreationTime = now.UTC()
	return out, nil
}

// validGUID rejects guids that cannot be used as one path or key segment.
func validGUID(guid string) error {
	if guid == "" || guid == "." || guid == ".." || strings.ContainsAny(guid, `/\`) {
		return study.InvalidArgument("invalid study guid %q", guid)
	}
	return nil
}

// prepareTrials assigns ids starting after lastID and normalizes lifecycle
// fields. It returns the prepared copies.
func prepareTrials(trials []study.Trial, lastID int, now time.Time) ([]study.Trial, error) {
	out := make([]study.Trial, len(trials))
	for i, t := range trials {
		t = t.Clone()
		if t.FinalMeasurement != nil {
			if err := t.FinalMeasurement.Validate(); err != nil {
				return nil, fmt.Errorf("trial at position %d: %w", i, err)
			}
		}
		if t.Status == "" {
			if t.FinalMeasurement != nil {
				t.Status = study.Completed
			} else {
				t.Status = study.Active
			}
		}
		switch t.Status {
		case study.Active, study.Stopped:
		case study.Completed:
			if t.FinalMeasurement == nil {
				return nil, study.InvalidArgument("completed trial at position %d has no final measurement", i)
			}
			if t.CompletionTime == nil {
				ct := now.UTC()
				t.CompletionTime = &ct
			}
		default:
			return nil, study.InvalidArgument("trial at position %d has unknown status %q", i, t.Status)
		}
		t.ID = lastID + i + 1
		if t.CreationTime.IsZero() {
			t.CreationTime = now.UTC()
		}
		out[i] = t
	}
	return out, nil
}

// completeTrial applies a completion to t in place.
func completeTrial(t *study.Trial, guid string, m study.Measurement, now time.Time) error {
	if t.Status == study.Completed {
		return study.InvalidArgument("trial %s/%d is already completed", guid, t.ID)
	}
	if err := m.Validate(); err != nil {
		return err
	}
	t.Status = study.Completed
	t.FinalMeasurement = study.NewMeasurement(m.Metrics)
	ct := now.UTC()
	t.CompletionTime = &ct
	return nil
}

// stopTrial applies an early stop to t in place.
func stopTrial(t *study.Trial, guid string) error {
	if t.Status == study.Completed {
		return study.InvalidArgument("trial %s/%d is already completed", guid, t.ID)
	}
	t.Status = study.Stopped
	return nil
}
