package eagle

import (
	"math"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cwbudde/govizier/internal/designer/designertest"
	"github.com/cwbudde/govizier/internal/designer/random"
	"github.com/cwbudde/govizier/internal/study"
)

func TestEagle_SuggestContract(t *testing.T) {
	designertest.CheckSuggestContract(t, New)
}

func TestEagle_RoundTripBeforePoolIsFull(t *testing.T) {
	designertest.CheckRoundTrip(t, New, 1)
}

func TestEagle_RoundTripWithFullPool(t *testing.T) {
	// Capacity for 5 parameters is 18; eight rounds of three fill it.
	designertest.CheckRoundTrip(t, New, 8)
}

func TestEagle_CorruptPayloads(t *testing.T) {
	other, _ := random.New(designertest.Problem(), 1)
	foreign, err := other.Dump()
	if err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	designertest.CheckCorruptPayloads(t, New, Algorithm, foreign)
}

func TestEagle_PoolCapacity(t *testing.T) {
	tests := []struct {
		dim  int
		want int
	}{
		{0, 10},
		{1, 11},
		{5, 18},
	}
	for _, tt := range tests {
		if got := PoolCapacity(tt.dim); got != tt.want {
			t.Errorf("PoolCapacity(%d) = %d, want %d", tt.dim, got, tt.want)
		}
	}
}

func TestEagle_SpawnsUntilPoolIsFull(t *testing.T) {
	d, _ := New(designertest.Problem(), 2)
	e := d.(*Designer)

	driver := &designertest.Driver{}
	capacity := PoolCapacity(5)
	trials, err := driver.Round(d, capacity)
	if err != nil {
		t.Fatalf("Round failed: %v", err)
	}
	for i, tr := range trials {
		if got := flyID(t, tr); got != i+1 {
			t.Errorf("Spawned trial %d: expected fly %d, got %d", i, i+1, got)
		}
	}
	if e.PoolSize() != capacity {
		t.Fatalf("Expected full pool of %d, got %d", capacity, e.PoolSize())
	}

	// With a full pool suggestions cycle through the members in id order.
	next, err := d.Suggest(3)
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}
	got := []int{flyID(t, next[0]), flyID(t, next[1]), flyID(t, next[2])}
	if diff := cmp.Diff([]int{1, 2, 3}, got); diff != "" {
		t.Errorf("Round-robin mismatch (-want +got):\n%s", diff)
	}
}

func TestEagle_ImprovementAdvancesGeneration(t *testing.T) {
	d, _ := New(designertest.Problem(), 4)
	e := d.(*Designer)

	spawn, _ := d.Suggest(1)
	first := complete(spawn[0], 1, 0.1)
	if err := d.Update([]study.Trial{first}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	better := complete(spawn[0], 2, 0.9)
	if err := d.Update([]study.Trial{better}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	f := e.st.Flies[0]
	if f.Generation != 1 || f.Trial.ID != 2 {
		t.Errorf("Expected generation 1 holding trial 2, got generation %d trial %d", f.Generation, f.Trial.ID)
	}

	// Repeated failures shrink the perturbation until the fly is evicted.
	for i := 0; i < 40 && e.PoolSize() > 0; i++ {
		worse := complete(spawn[0], 3+i, -1)
		if err := d.Update([]study.Trial{worse}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}
	if e.PoolSize() != 0 {
		t.Errorf("Expected the stagnant fly to be evicted, pool size %d", e.PoolSize())
	}
}

func TestEagle_ForeignTrialsJoinPool(t *testing.T) {
	d, _ := New(designertest.Problem(), 4)
	e := d.(*Designer)

	foreign := study.Trial{ID: 1, Parameters: map[string]study.ParameterValue{
		"x": study.Num(0), "y": study.Num(0.5), "n": study.Num(3), "c": study.Cat("a"), "k": study.Num(5),
	}}
	foreign = foreign.Complete(study.NewMeasurement(map[string]float64{"obj": 1}))
	if err := d.Update([]study.Trial{foreign}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if e.PoolSize() != 1 || e.st.MaxFlyID != 1 {
		t.Errorf("Expected one fly with id 1, got pool %d max id %d", e.PoolSize(), e.st.MaxFlyID)
	}
}

func TestEagle_NonFiniteResultsStayOutOfPool(t *testing.T) {
	d, _ := New(designertest.Problem(), 4)
	e := d.(*Designer)

	suggested, err := d.Suggest(2)
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}
	completed := []study.Trial{
		complete(suggested[0], 1, math.Inf(1)),
		complete(suggested[1], 2, math.Inf(-1)),
	}
	if err := d.Update(completed); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if e.PoolSize() != 0 {
		t.Errorf("Expected non-finite results to be ignored, pool size %d", e.PoolSize())
	}
	if _, err := d.Dump(); err != nil {
		t.Errorf("Dump failed after non-finite results: %v", err)
	}
}

func complete(tr study.Trial, id int, obj float64) study.Trial {
	tr = tr.Clone()
	tr.ID = id
	return tr.Complete(study.NewMeasurement(map[string]float64{"obj": obj}))
}

func flyID(t *testing.T, tr study.Trial) int {
	t.Helper()
	raw, ok := tr.Metadata.Get(MetadataNamespace, MetadataFlyID)
	if !ok {
		t.Fatalf("Trial has no fly id: %+v", tr.Metadata)
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		t.Fatalf("Bad fly id %q: %v", raw, err)
	}
	return id
}
