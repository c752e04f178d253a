package ranking

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cwbudde/govizier/internal/study"
)

func completed(id int, metrics map[string]float64) study.Trial {
	return study.Trial{ID: id, Status: study.Completed, FinalMeasurement: study.NewMeasurement(metrics)}
}

func singleProblem(goal study.Goal) study.ProblemStatement {
	return study.ProblemStatement{Metrics: []study.MetricInformation{{Name: "obj", Goal: goal}}}
}

func objValues(trials []study.Trial) []float64 {
	out := make([]float64, len(trials))
	for i, t := range trials {
		out[i], _ = t.FinalMeasurement.Value("obj")
	}
	return out
}

func TestBestTrials_SingleObjective(t *testing.T) {
	var trials []study.Trial
	for i := 0; i < 10; i++ {
		trials = append(trials, completed(i+1, map[string]float64{"obj": float64(i)}))
	}

	tests := []struct {
		name  string
		goal  study.Goal
		count int
		want  []float64
	}{
		{"maximize top two", study.Maximize, 2, []float64{9, 8}},
		{"minimize top two", study.Minimize, 2, []float64{0, 1}},
		{"minimize unspecified", study.Minimize, 0, []float64{0}},
		{"maximize unspecified", study.Maximize, 0, []float64{9}},
		{"count above size", study.Maximize, 20, []float64{9, 8, 7, 6, 5, 4, 3, 2, 1, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BestTrials(singleProblem(tt.goal), trials, tt.count)
			if err != nil {
				t.Fatalf("BestTrials failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, objValues(got)); diff != "" {
				t.Errorf("BestTrials mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBestTrials_TiesBrokenByID(t *testing.T) {
	trials := []study.Trial{
		completed(3, map[string]float64{"obj": 1}),
		completed(1, map[string]float64{"obj": 1}),
		completed(2, map[string]float64{"obj": 1}),
	}
	got, err := BestTrials(singleProblem(study.Maximize), trials, 3)
	if err != nil {
		t.Fatalf("BestTrials failed: %v", err)
	}
	ids := []int{got[0].ID, got[1].ID, got[2].ID}
	if diff := cmp.Diff([]int{1, 2, 3}, ids); diff != "" {
		t.Errorf("Tie order mismatch (-want +got):\n%s", diff)
	}
}

func TestBestTrials_SkipsIneligible(t *testing.T) {
	trials := []study.Trial{
		{ID: 1, Status: study.Active},
		{ID: 2, Status: study.Stopped},
		completed(3, map[string]float64{"other": 100}),
		completed(4, map[string]float64{"obj": math.NaN()}),
		completed(5, map[string]float64{"obj": 0.5}),
		completed(6, map[string]float64{"obj": math.Inf(1)}),
		completed(7, map[string]float64{"obj": math.Inf(-1)}),
	}
	got, err := BestTrials(singleProblem(study.Maximize), trials, 7)
	if err != nil {
		t.Fatalf("BestTrials failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != 5 {
		t.Errorf("Expected only trial 5, got %+v", got)
	}

	none, err := BestTrials(singleProblem(study.Maximize), trials[:2], 1)
	if err != nil {
		t.Fatalf("BestTrials failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected no trials, got %d", len(none))
	}
}

func TestBestTrials_InvalidArguments(t *testing.T) {
	if _, err := BestTrials(study.ProblemStatement{}, nil, 1); !errors.Is(err, study.ErrInvalidArgument) {
		t.Errorf("Expected InvalidArgument for empty metrics, got %v", err)
	}
	if _, err := BestTrials(singleProblem(study.Maximize), nil, -1); !errors.Is(err, study.ErrInvalidArgument) {
		t.Errorf("Expected InvalidArgument for negative count, got %v", err)
	}
}

// arcTrials places five trials on each of the arcs with radius 1..5 in the
// first quadrant.
func arcTrials() []study.Trial {
	var trials []study.Trial
	id := 1
	for r := 1; r <= 5; r++ {
		for k := 0; k < 5; k++ {
			theta := float64(k) / 4 * math.Pi / 2
			trials = append(trials, completed(id, map[string]float64{
				"x": float64(r) * math.Cos(theta),
				"y": float64(r) * math.Sin(theta),
			}))
			id++
		}
	}
	return trials
}

func TestBestTrials_MultiObjectiveParetoFront(t *testing.T) {
	tests := []struct {
		name    string
		goal    study.Goal
		wantIDs []int
	}{
		{"maximize keeps outer arc", study.Maximize, []int{21, 22, 23, 24, 25}},
		{"minimize keeps inner arc", study.Minimize, []int{1, 2, 3, 4, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problem := study.ProblemStatement{Metrics: []study.MetricInformation{
				{Name: "x", Goal: tt.goal},
				{Name: "y", Goal: tt.goal},
			}}
			// count is ignored for multi-objective problems.
			got, err := BestTrials(problem, arcTrials(), 1)
			if err != nil {
				t.Fatalf("BestTrials failed: %v", err)
			}
			ids := make([]int, len(got))
			for i, tr := range got {
				ids[i] = tr.ID
			}
			if diff := cmp.Diff(tt.wantIDs, ids); diff != "" {
				t.Errorf("Pareto front mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDominates_MixedGoals(t *testing.T) {
	metrics := []study.MetricInformation{
		{Name: "acc", Goal: study.Maximize},
		{Name: "latency", Goal: study.Minimize},
	}
	a := completed(1, map[string]float64{"acc": 0.9, "latency": 10})
	b := completed(2, map[string]float64{"acc": 0.8, "latency": 12})
	c := completed(3, map[string]float64{"acc": 0.95, "latency": 20})

	if !Dominates(a, b, metrics) {
		t.Error("Expected a to dominate b")
	}
	if Dominates(b, a, metrics) {
		t.Error("Expected b not to dominate a")
	}
	if Dominates(a, c, metrics) || Dominates(c, a, metrics) {
		t.Error("Expected a and c to be mutually non-dominated")
	}
	if Dominates(a, a, metrics) {
		t.Error("A trial must not dominate itself")
	}
}
