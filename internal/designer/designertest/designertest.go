// Package designertest holds checks every designer implementation must pass.
package designertest

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cwbudde/govizier/internal/designer"
	"github.com/cwbudde/govizier/internal/study"
)

// Problem is a mixed search space with one maximized metric.
func Problem() study.ProblemStatement {
	return study.ProblemStatement{
		SearchSpace: study.SearchSpace{Parameters: []study.ParameterConfig{
			{Name: "x", Type: study.Double, Min: -2, Max: 2},
			{Name: "y", Type: study.Double, Min: 0, Max: 1},
			{Name: "n", Type: study.Integer, Min: 0, Max: 10},
			{Name: "c", Type: study.Categorical, Categories: []string{"a", "b", "c"}},
			{Name: "k", Type: study.Discrete, FeasiblePoints: []float64{1, 2, 5}},
		}},
		Metrics: []study.MetricInformation{{Name: "obj", Goal: study.Maximize}},
	}
}

// Objective peaks at x=0.3, y=0.7, n=4, c=b, k=2.
func Objective(params map[string]study.ParameterValue) float64 {
	v := -math.Pow(params["x"].Number-0.3, 2) - math.Pow(params["y"].Number-0.7, 2)
	v -= math.Abs(params["n"].Number-4) / 10
	if params["c"].Category != "b" {
		v -= 0.5
	}
	if params["k"].Number != 2 {
		v -= 0.25
	}
	return v
}

// Driver feeds a designer with evaluated suggestions, assigning ids the way
// the store does.
type Driver struct {
	NextID int
}

// Round suggests count trials, completes them with Objective and updates the
// designer. It returns the suggestions as produced by the designer.
func (dr *Driver) Round(d designer.Designer, count int) ([]study.Trial, error) {
	suggested, err := d.Suggest(count)
	if err != nil {
		return nil, err
	}
	if len(suggested) != count {
		return nil, fmt.Errorf("suggested %d trials, want %d", len(suggested), count)
	}
	completed := make([]study.Trial, len(suggested))
	for i, t := range suggested {
		dr.NextID++
		t = t.Clone()
		t.ID = dr.NextID
		completed[i] = t.Complete(study.NewMeasurement(map[string]float64{"obj": Objective(t.Parameters)}))
	}
	if err := d.Update(completed); err != nil {
		return nil, err
	}
	return suggested, nil
}

// CheckRoundTrip verifies that a designer restored from a dump behaves
// exactly like the original for any subsequent suggest/update sequence.
func CheckRoundTrip(t *testing.T, factory designer.Factory, warmupRounds int) {
	t.Helper()
	problem := Problem()

	original, err := factory(problem, 42)
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	driver := &Driver{}
	for i := 0; i < warmupRounds; i++ {
		if _, err := driver.Round(original, 3); err != nil {
			t.Fatalf("warmup round %d failed: %v", i, err)
		}
	}

	payload, err := original.Dump()
	if err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	restored, err := factory(problem, 7)
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	if err := restored.Load(payload); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	a := &Driver{NextID: driver.NextID}
	b := &Driver{NextID: driver.NextID}
	for round, count := range []int{1, 4, 2, 5, 3} {
		want, err := a.Round(original, count)
		if err != nil {
			t.Fatalf("original round %d failed: %v", round, err)
		}
		got, err := b.Round(restored, count)
		if err != nil {
			t.Fatalf("restored round %d failed: %v", round, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("round %d: restored designer diverged (-original +restored):\n%s", round, diff)
		}
	}

	// Dumps of both must restore to the same behavior as well.
	again, err := restored.Dump()
	if err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	third, _ := factory(problem, 99)
	if err := third.Load(again); err != nil {
		t.Fatalf("Load of second dump failed: %v", err)
	}
	want, _ := (&Driver{NextID: b.NextID}).Round(restored, 2)
	got, _ := (&Driver{NextID: b.NextID}).Round(third, 2)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("second restore diverged (-restored +third):\n%s", diff)
	}
}

// CheckSuggestContract verifies counts, statuses and parameter bounds.
func CheckSuggestContract(t *testing.T, factory designer.Factory) {
	t.Helper()
	problem := Problem()
	d, err := factory(problem, 1)
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}

	for _, count := range []int{0, -1} {
		if _, err := d.Suggest(count); !errors.Is(err, study.ErrInvalidArgument) {
			t.Errorf("Suggest(%d): expected InvalidArgument, got %v", count, err)
		}
	}

	driver := &Driver{}
	for round := 0; round < 6; round++ {
		trials, err := driver.Round(d, 4)
		if err != nil {
			t.Fatalf("round %d failed: %v", round, err)
		}
		for _, tr := range trials {
			if tr.Status != study.Active {
				t.Errorf("Expected ACTIVE suggestion, got %s", tr.Status)
			}
			if err := inSpace(problem.SearchSpace, tr.Parameters); err != nil {
				t.Errorf("Suggestion outside the search space: %v", err)
			}
		}
	}
}

func inSpace(ss study.SearchSpace, params map[string]study.ParameterValue) error {
	if len(params) != len(ss.Parameters) {
		return fmt.Errorf("got %d parameters, want %d", len(params), len(ss.Parameters))
	}
	for _, p := range ss.Parameters {
		v, ok := params[p.Name]
		if !ok {
			return fmt.Errorf("missing parameter %q", p.Name)
		}
		switch p.Type {
		case study.Double:
			if v.Number < p.Min || v.Number > p.Max {
				return fmt.Errorf("%s=%v outside [%v, %v]", p.Name, v.Number, p.Min, p.Max)
			}
		case study.Integer:
			if v.Number < p.Min || v.Number > p.Max || v.Number != math.Round(v.Number) {
				return fmt.Errorf("%s=%v is not an integer in [%v, %v]", p.Name, v.Number, p.Min, p.Max)
			}
		case study.Categorical:
			found := false
			for _, c := range p.Categories {
				found = found || c == v.Category
			}
			if !found {
				return fmt.Errorf("%s=%q is not a category", p.Name, v.Category)
			}
		case study.Discrete:
			found := false
			for _, fp := range p.FeasiblePoints {
				found = found || fp == v.Number
			}
			if !found {
				return fmt.Errorf("%s=%v is not a feasible point", p.Name, v.Number)
			}
		}
	}
	return nil
}

// CheckCorruptPayloads verifies Load rejects foreign and malformed payloads.
func CheckCorruptPayloads(t *testing.T, factory designer.Factory, algorithm string, foreign []byte) {
	t.Helper()

	payloads := map[string][]byte{
		"not json":        []byte("garbage"),
		"empty":           {},
		"foreign":         foreign,
		"future version":  []byte(fmt.Sprintf(`{"v":99,"alg":%q,"state":{}}`, algorithm)),
		"missing state":   []byte(fmt.Sprintf(`{"v":1,"alg":%q}`, algorithm)),
		"null state":      []byte(fmt.Sprintf(`{"v":1,"alg":%q,"state":null}`, algorithm)),
		"unknown field":   []byte(fmt.Sprintf(`{"v":1,"alg":%q,"state":{"bogus":1}}`, algorithm)),
		"envelope extras": []byte(fmt.Sprintf(`{"v":1,"alg":%q,"state":{},"extra":true}`, algorithm)),
		"bad stream":      []byte(fmt.Sprintf(`{"v":1,"alg":%q,"state":{"stream":"!!"}}`, algorithm)),
	}
	for name, payload := range payloads {
		d, err := factory(Problem(), 1)
		if err != nil {
			t.Fatalf("factory failed: %v", err)
		}
		if err := d.Load(payload); !errors.Is(err, study.ErrCorruptState) {
			t.Errorf("%s: expected CorruptState, got %v", name, err)
		}
	}
}
