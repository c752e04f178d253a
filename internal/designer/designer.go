// Package designer defines the stateful suggestion algorithms driven by the
// policy layer and the canonical encodings their checkpoints are built from.
//
// A Designer is single-threaded: the policy layer guarantees that at most one
// goroutine calls into a given instance at a time.
package designer

import (
	"github.com/cwbudde/govizier/internal/study"
)

// Designer proposes new trials and learns from completed ones.
type Designer interface {
	// Suggest returns exactly count new ACTIVE trials. count <= 0 is an
	// invalid argument. Suggest advances the designer's random stream.
	Suggest(count int) ([]study.Trial, error)

	// Update feeds newly completed trials. Trials without a usable final
	// measurement are ignored.
	Update(completed []study.Trial) error

	// Dump serializes the complete designer state.
	Dump() ([]byte, error)

	// Load restores a state produced by Dump on an instance of the same
	// algorithm built from the same problem. It must be called on a fresh
	// instance; a payload of the wrong version, algorithm or shape returns an
	// error wrapping study.ErrCorruptState and leaves the instance unusable.
	Load(payload []byte) error
}

// Factory builds a fresh designer for a problem. seed initializes the
// designer's random stream; a restored checkpoint replaces it.
type Factory func(problem study.ProblemStatement, seed uint64) (Designer, error)

// CheckCount validates the count argument of Suggest.
func CheckCount(count int) error {
	if count <= 0 {
		return study.InvalidArgument("suggestion count must be positive, got %d", count)
	}
	return nil
}

// NewTrial builds an ACTIVE trial for the given parameters.
func NewTrial(params map[string]study.ParameterValue) study.Trial {
	return study.Trial{Parameters: params, Status: study.Active}
}
