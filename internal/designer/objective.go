package designer

import (
	"github.com/cwbudde/govizier/internal/study"
)

// Score reduces a completed trial to one value where higher is better. Each
// objective contributes its value signed by its goal, so single-objective
// problems keep the metric's ordering and multi-objective problems use an
// equal-weight scalarization. ok is false when any objective is missing.
func Score(problem study.ProblemStatement, t study.Trial) (score float64, ok bool) {
	if !t.IsCompleted() {
		return 0, false
	}
	for _, m := range problem.Metrics {
		v, present := t.FinalMeasurement.Value(m.Name)
		if !present {
			return 0, false
		}
		if m.Goal == study.Minimize {
			v = -v
		}
		score += v
	}
	return score, true
}
