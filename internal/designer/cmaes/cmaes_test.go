package cmaes

import (
	"math"
	"testing"

	"github.com/cwbudde/govizier/internal/designer/designertest"
	"github.com/cwbudde/govizier/internal/designer/random"
	"github.com/cwbudde/govizier/internal/study"
)

func TestCMAES_SuggestContract(t *testing.T) {
	designertest.CheckSuggestContract(t, New)
}

func TestCMAES_RoundTripMidGeneration(t *testing.T) {
	// Population size for 5 parameters is 8, so three rounds of 3 leave a
	// partially buffered generation in the checkpoint.
	designertest.CheckRoundTrip(t, New, 3)
}

func TestCMAES_CorruptPayloads(t *testing.T) {
	other, _ := random.New(designertest.Problem(), 1)
	foreign, err := other.Dump()
	if err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	designertest.CheckCorruptPayloads(t, New, Algorithm, foreign)
}

func TestCMAES_RejectsDimensionMismatch(t *testing.T) {
	small := study.ProblemStatement{
		SearchSpace: study.SearchSpace{Parameters: []study.ParameterConfig{{Name: "x", Type: study.Double, Min: 0, Max: 1}}},
		Metrics:     []study.MetricInformation{{Name: "obj", Goal: study.Maximize}},
	}
	d, _ := New(small, 1)
	payload, err := d.Dump()
	if err != nil {
		t.Fatalf("Dump failed: %v", err)
	}

	big, _ := New(designertest.Problem(), 1)
	if err := big.Load(payload); err == nil {
		t.Fatal("Expected error loading a checkpoint of another dimension")
	}
}

func TestCMAES_GenerationAdvancesPerPopulation(t *testing.T) {
	d, _ := New(designertest.Problem(), 3)
	c := d.(*Designer)
	lambda := c.PopulationSize()

	driver := &designertest.Driver{}
	if _, err := driver.Round(d, lambda-1); err != nil {
		t.Fatalf("Round failed: %v", err)
	}
	if c.Generation() != 0 {
		t.Fatalf("Expected generation 0 with a partial population, got %d", c.Generation())
	}
	if _, err := driver.Round(d, 1); err != nil {
		t.Fatalf("Round failed: %v", err)
	}
	if c.Generation() != 1 {
		t.Fatalf("Expected generation 1, got %d", c.Generation())
	}
}

func TestCMAES_ImprovesOnSphere(t *testing.T) {
	problem := study.ProblemStatement{
		SearchSpace: study.SearchSpace{Parameters: []study.ParameterConfig{
			{Name: "a", Type: study.Double, Min: -5, Max: 5},
			{Name: "b", Type: study.Double, Min: -5, Max: 5},
		}},
		Metrics: []study.MetricInformation{{Name: "loss", Goal: study.Minimize}},
	}
	d, _ := New(problem, 11)
	c := d.(*Designer)

	best := math.Inf(1)
	id := 0
	for gen := 0; gen < 40; gen++ {
		trials, err := d.Suggest(c.PopulationSize())
		if err != nil {
			t.Fatalf("Suggest failed: %v", err)
		}
		for i := range trials {
			id++
			a, b := trials[i].Parameters["a"].Number, trials[i].Parameters["b"].Number
			loss := (a-1)*(a-1) + (b+2)*(b+2)
			best = math.Min(best, loss)
			trials[i].ID = id
			trials[i] = trials[i].Complete(study.NewMeasurement(map[string]float64{"loss": loss}))
		}
		if err := d.Update(trials); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}
	if best > 0.05 {
		t.Errorf("Expected CMA-ES to approach the optimum, best loss %f", best)
	}
}

func TestCMAES_EmptySearchSpace(t *testing.T) {
	problem := study.ProblemStatement{Metrics: []study.MetricInformation{{Name: "obj", Goal: study.Maximize}}}
	d, _ := New(problem, 1)
	trials, err := d.Suggest(2)
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}
	if len(trials) != 2 || len(trials[0].Parameters) != 0 {
		t.Errorf("Expected 2 empty suggestions, got %+v", trials)
	}
}
