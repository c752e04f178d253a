// Package ranking selects the best completed trials of a study.
package ranking

import (
	"sort"

	"github.com/cwbudde/govizier/internal/study"
)

// scored is a trial together with its objective values in metric order.
type scored struct {
	trial  study.Trial
	values []float64
}

// BestTrials returns the best completed trials under the problem's metrics.
//
// With one objective the count best trials are returned best to worst, ties
// broken by ascending id; a count of 0 returns the single best trial. With
// several objectives count is ignored and the Pareto-optimal set is returned
// in ascending id order.
//
// Trials that are not completed or that lack a finite value for any objective
// are skipped.
func BestTrials(problem study.ProblemStatement, trials []study.Trial, count int) ([]study.Trial, error) {
	if len(problem.Metrics) == 0 {
		return nil, study.InvalidArgument("problem statement has no metrics")
	}
	if count < 0 {
		return nil, study.InvalidArgument("count must not be negative, got %d", count)
	}

	candidates := eligible(problem.Metrics, trials)
	if len(candidates) == 0 {
		return []study.Trial{}, nil
	}

	if !problem.IsMultiObjective() {
		return singleObjective(problem.Metrics[0].Goal, candidates, count), nil
	}
	return paretoFront(problem.Metrics, candidates), nil
}

func eligible(metrics []study.MetricInformation, trials []study.Trial) []scored {
	out := make([]scored, 0, len(trials))
next:
	for _, t := range trials {
		if !t.IsCompleted() {
			continue
		}
		values := make([]float64, len(metrics))
		for i, m := range metrics {
			v, ok := t.FinalMeasurement.Value(m.Name)
			if !ok {
				continue next
			}
			values[i] = v
		}
		out = append(out, scored{trial: t, values: values})
	}
	return out
}

func singleObjective(goal study.Goal, candidates []scored, count int) []study.Trial {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].values[0], candidates[j].values[0]
		if a != b {
			return goal.Better(a, b)
		}
		return candidates[i].trial.ID < candidates[j].trial.ID
	})
	if count == 0 {
		count = 1
	}
	if count > len(candidates) {
		count = len(candidates)
	}
	out := make([]study.Trial, count)
	for i := range out {
		out[i] = candidates[i].trial.Clone()
	}
	return out
}

func paretoFront(metrics []study.MetricInformation, candidates []scored) []study.Trial {
	out := []study.Trial{}
	for i, c := range candidates {
		dominated := false
		for j, other := range candidates {
			if i != j && dominates(other.values, c.values, metrics) {
				dominated = true
				break
			}
		}
		if !dominated {
			out = append(out, c.trial.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Dominates reports whether trial a Pareto-dominates trial b: a is at least as
// good on every metric and strictly better on at least one. Trials missing a
// metric never dominate and are never dominated.
func Dominates(a, b study.Trial, metrics []study.MetricInformation) bool {
	av := make([]float64, len(metrics))
	bv := make([]float64, len(metrics))
	for i, m := range metrics {
		x, okA := a.FinalMeasurement.Value(m.Name)
		y, okB := b.FinalMeasurement.Value(m.Name)
		if !okA || !okB {
			return false
		}
		av[i], bv[i] = x, y
	}
	return dominates(av, bv, metrics)
}

func dominates(a, b []float64, metrics []study.MetricInformation) bool {
	strictly := false
	for i, m := range metrics {
		if m.Goal.Better(b[i], a[i]) {
			return false
		}
		if m.Goal.Better(a[i], b[i]) {
			strictly = true
		}
	}
	return strictly
}
