package policy

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/govizier/internal/store"
	"github.com/cwbudde/govizier/internal/study"
)

func testProblem() study.ProblemStatement {
	return study.ProblemStatement{
		SearchSpace: study.SearchSpace{Parameters: []study.ParameterConfig{
			{Name: "x", Type: study.Double, Min: -1, Max: 1},
			{Name: "c", Type: study.Categorical, Categories: []string{"a", "b"}},
		}},
		Metrics: []study.MetricInformation{{Name: "obj", Goal: study.Maximize}},
	}
}

func objective(t study.Trial) float64 {
	v := -t.Parameters["x"].Number * t.Parameters["x"].Number
	if t.Parameters["c"].Category == "b" {
		v += 0.5
	}
	return v
}

func newStudy(t *testing.T, st store.Store, algorithm string) string {
	t.Helper()
	created, err := st.CreateStudy(context.Background(), study.Study{
		Config: study.StudyConfig{Problem: testProblem(), Algorithm: algorithm},
	})
	require.NoError(t, err)
	return created.GUID
}

func completeAll(t *testing.T, st store.Store, guid string, trials []study.Trial) {
	t.Helper()
	for _, tr := range trials {
		_, err := st.CompleteTrial(context.Background(), guid, tr.ID, study.Measurement{
			Metrics: map[string]float64{"obj": objective(tr)},
		})
		require.NoError(t, err)
	}
}

func params(trials []study.Trial) []map[string]study.ParameterValue {
	out := make([]map[string]study.ParameterValue, len(trials))
	for i, t := range trials {
		out[i] = t.Parameters
	}
	return out
}

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry()

	name, _, err := r.Resolve(study.AlgorithmDefault)
	require.NoError(t, err)
	assert.Equal(t, study.AlgorithmEagleStrategy, name)

	name, _, err = r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, study.AlgorithmEagleStrategy, name)

	_, _, err = r.Resolve("SIMULATED_ANNEALING")
	assert.ErrorIs(t, err, study.ErrInvalidArgument)

	require.NoError(t, r.SetDefault(study.AlgorithmRandomSearch))
	name, _, _ = r.Resolve(study.AlgorithmDefault)
	assert.Equal(t, study.AlgorithmRandomSearch, name)
	assert.ErrorIs(t, r.SetDefault("nope"), study.ErrInvalidArgument)

	assert.Equal(t, []string{"CMA_ES", "EAGLE_STRATEGY", "MAYFLY", "RANDOM_SEARCH"}, r.Algorithms())
}

func TestCheckpoint_EncodeDecode(t *testing.T) {
	cp := Checkpoint{Algorithm: "RANDOM_SEARCH", Designer: []byte(`{"v":1}`), Seen: []int{1, 3}}
	value, err := cp.Encode()
	require.NoError(t, err)

	got, err := DecodeCheckpoint(value)
	require.NoError(t, err)
	assert.Equal(t, cp, got)

	_, err = DecodeCheckpoint("%%%")
	assert.ErrorIs(t, err, study.ErrCorruptState)
	_, err = DecodeCheckpoint("e30=") // "{}"
	assert.ErrorIs(t, err, study.ErrCorruptState)
}

func TestSupporter_SuggestPersistsAndCommits(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	guid := newStudy(t, st, study.AlgorithmRandomSearch)
	sup := NewSupporter(guid, st, NewRegistry())

	first, err := sup.SuggestTrials(ctx, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	for i, tr := range first {
		assert.Equal(t, i+1, tr.ID)
		assert.Equal(t, study.Active, tr.Status)
	}

	second, err := sup.SuggestTrials(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, second[0].ID)
	assert.Equal(t, 5, second[1].ID)

	cfg, err := st.GetStudyConfig(ctx, guid)
	require.NoError(t, err)
	alg, ok := cfg.Metadata.Get(MetadataNamespace, KeyAlgorithm)
	require.True(t, ok)
	assert.Equal(t, study.AlgorithmRandomSearch, alg)

	cp, ok, err := LoadCheckpoint(cfg.Metadata)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, study.AlgorithmRandomSearch, cp.Algorithm)
}

func TestSupporter_InvalidCount(t *testing.T) {
	st := store.NewMemoryStore()
	guid := newStudy(t, st, study.AlgorithmRandomSearch)
	sup := NewSupporter(guid, st, NewRegistry())

	_, err := sup.SuggestTrials(context.Background(), 0)
	assert.ErrorIs(t, err, study.ErrInvalidArgument)
}

func TestSupporter_UnknownStudy(t *testing.T) {
	sup := NewSupporter("missing", store.NewMemoryStore(), NewRegistry())
	_, err := sup.SuggestTrials(context.Background(), 1)
	assert.ErrorIs(t, err, study.ErrNotFound)
}

func TestSupporter_UnknownAlgorithm(t *testing.T) {
	st := store.NewMemoryStore()
	guid := newStudy(t, st, "GRID_SEARCH")
	sup := NewSupporter(guid, st, NewRegistry())

	_, err := sup.SuggestTrials(context.Background(), 1)
	assert.ErrorIs(t, err, study.ErrInvalidArgument)
}

// blockingStore parks GetStudyConfig until released.
type blockingStore struct {
	store.Store
	entered chan struct{}
	release chan struct{}
	parked  atomic.Bool
}

func (b *blockingStore) GetStudyConfig(ctx context.Context, guid string) (study.StudyConfig, error) {
	if b.parked.CompareAndSwap(false, true) {
		close(b.entered)
		<-b.release
	}
	return b.Store.GetStudyConfig(ctx, guid)
}

func TestSupporter_ConcurrentCycleIsBusy(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	guid := newStudy(t, mem, study.AlgorithmRandomSearch)
	bs := &blockingStore{Store: mem, entered: make(chan struct{}), release: make(chan struct{})}
	sup := NewSupporter(guid, bs, NewRegistry())

	done := make(chan error, 1)
	go func() {
		_, err := sup.SuggestTrials(ctx, 1)
		done <- err
	}()
	<-bs.entered

	_, err := sup.SuggestTrials(ctx, 1)
	assert.ErrorIs(t, err, study.ErrResourceBusy)

	// Ranking is a pure read and is not blocked by the in-flight cycle.
	_, err = sup.GetBestTrials(ctx, 1)
	assert.NoError(t, err)

	close(bs.release)
	require.NoError(t, <-done)

	// The token is released once the cycle finishes.
	_, err = sup.SuggestTrials(ctx, 1)
	assert.NoError(t, err)
}

func TestSupporter_ResumeFromCheckpoint(t *testing.T) {
	for _, alg := range []string{
		study.AlgorithmRandomSearch,
		study.AlgorithmEagleStrategy,
		study.AlgorithmCMAES,
		study.AlgorithmMayfly,
	} {
		t.Run(alg, func(t *testing.T) {
			ctx := context.Background()
			src := store.NewMemoryStore()
			guid := newStudy(t, src, alg)
			running := NewSupporter(guid, src, NewRegistry())

			for round := 0; round < 4; round++ {
				trials, err := running.SuggestTrials(ctx, 3)
				require.NoError(t, err)
				completeAll(t, src, guid, trials)
			}

			// Copy the committed study into a second store and resume there
			// with a supporter that has never seen the study.
			var buf bytes.Buffer
			_, err := store.ExportStudy(ctx, src, guid, &buf)
			require.NoError(t, err)
			dst := store.NewMemoryStore()
			_, err = store.ImportStudy(ctx, dst, &buf)
			require.NoError(t, err)
			resumed := NewSupporter(guid, dst, NewRegistry())

			for round := 0; round < 3; round++ {
				want, err := running.SuggestTrials(ctx, 2)
				require.NoError(t, err)
				got, err := resumed.SuggestTrials(ctx, 2)
				require.NoError(t, err)
				require.Equal(t, params(want), params(got), "round %d", round)
				completeAll(t, src, guid, want)
				completeAll(t, dst, guid, got)
			}
		})
	}
}

func TestSupporter_CorruptCheckpointIsNeverReinitialized(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	guid := newStudy(t, st, study.AlgorithmEagleStrategy)

	var delta study.MetadataDelta
	delta.Assign(MetadataNamespace, KeyCheckpoint, "bm90IGEgY2hlY2twb2ludA==")
	require.NoError(t, st.UpdateMetadata(ctx, guid, delta))

	sup := NewSupporter(guid, st, NewRegistry())
	for i := 0; i < 2; i++ {
		_, err := sup.SuggestTrials(ctx, 1)
		require.ErrorIs(t, err, study.ErrCorruptState)
	}

	trials, err := st.GetTrials(ctx, guid, store.TrialFilter{})
	require.NoError(t, err)
	assert.Empty(t, trials, "no trials may be added from a reinitialized designer")
}

func TestSupporter_CheckpointFromOtherAlgorithm(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	guid := newStudy(t, st, study.AlgorithmRandomSearch)

	_, err := NewSupporter(guid, st, NewRegistry()).SuggestTrials(ctx, 1)
	require.NoError(t, err)

	// Swap the study to a different algorithm behind the policy's back.
	cfg, _ := st.GetStudyConfig(ctx, guid)
	cp, _, _ := LoadCheckpoint(cfg.Metadata)
	cp.Algorithm = study.AlgorithmCMAES
	value, err := cp.Encode()
	require.NoError(t, err)
	var delta study.MetadataDelta
	delta.Assign(MetadataNamespace, KeyCheckpoint, value)
	require.NoError(t, st.UpdateMetadata(ctx, guid, delta))

	_, err = NewSupporter(guid, st, NewRegistry()).SuggestTrials(ctx, 1)
	assert.ErrorIs(t, err, study.ErrCorruptState)
}

// flakyStore fails UpdateMetadata while failing is set.
type flakyStore struct {
	store.Store
	mu      sync.Mutex
	failing bool
}

func (f *flakyStore) setFailing(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = v
}

func (f *flakyStore) UpdateMetadata(ctx context.Context, guid string, delta study.MetadataDelta) error {
	f.mu.Lock()
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return errors.Join(study.ErrTransport, errors.New("connection refused"))
	}
	return f.Store.UpdateMetadata(ctx, guid, delta)
}

func TestSupporter_FailedCommitDropsLiveDesigner(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	guid := newStudy(t, mem, study.AlgorithmRandomSearch)
	fs := &flakyStore{Store: mem}
	sup := NewSupporter(guid, fs, NewRegistry())

	_, err := sup.SuggestTrials(ctx, 2)
	require.NoError(t, err)
	before, _ := mem.GetStudyConfig(ctx, guid)
	committed, _ := before.Metadata.Get(MetadataNamespace, KeyCheckpoint)

	fs.setFailing(true)
	_, err = sup.SuggestTrials(ctx, 2)
	require.ErrorIs(t, err, study.ErrTransport)
	assert.Nil(t, sup.live, "live designer must be dropped after a failed cycle")

	after, _ := mem.GetStudyConfig(ctx, guid)
	still, _ := after.Metadata.Get(MetadataNamespace, KeyCheckpoint)
	assert.Equal(t, committed, still, "failed cycle must not change the committed checkpoint")

	// The next cycle restores from the last committed checkpoint, so it
	// repeats the suggestions of the failed cycle.
	fs.setFailing(false)
	trials, err := mem.GetTrials(ctx, guid, store.TrialFilter{MinID: 3})
	require.NoError(t, err)
	retried, err := sup.SuggestTrials(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, params(trials), params(retried))
}

func TestService_SupportersPerStudy(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	svc := NewService(st, NewRegistry())
	a := newStudy(t, st, study.AlgorithmRandomSearch)
	b := newStudy(t, st, study.AlgorithmCMAES)

	assert.Same(t, svc.Supporter(a), svc.Supporter(a))
	assert.NotSame(t, svc.Supporter(a), svc.Supporter(b))

	ta, err := svc.SuggestTrials(ctx, a, 2)
	require.NoError(t, err)
	tb, err := svc.SuggestTrials(ctx, b, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, ta[0].ID)
	assert.Equal(t, 1, tb[0].ID)

	_, err = svc.SuggestTrials(ctx, "", 1)
	assert.ErrorIs(t, err, study.ErrInvalidArgument)
}

func TestService_UnknownStudiesKeepNoSupporter(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	svc := NewService(st, NewRegistry())
	guid := newStudy(t, st, study.AlgorithmRandomSearch)

	for _, missing := range []string{"missing-1", "missing-2", "missing-1"} {
		_, err := svc.SuggestTrials(ctx, missing, 1)
		require.ErrorIs(t, err, study.ErrNotFound)
	}
	assert.Equal(t, 0, svc.Len())

	_, err := svc.SuggestTrials(ctx, guid, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.Len())
}

func TestSupporter_NonFiniteResultDoesNotWedgeStudy(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	guid := newStudy(t, st, study.AlgorithmEagleStrategy)
	sup := NewSupporter(guid, st, NewRegistry())

	first, err := sup.SuggestTrials(ctx, 1)
	require.NoError(t, err)
	_, err = st.CompleteTrial(ctx, guid, first[0].ID, study.Measurement{
		Metrics: map[string]float64{"obj": math.Inf(1)},
	})
	require.ErrorIs(t, err, study.ErrInvalidArgument)

	for i := 0; i < 3; i++ {
		_, err := sup.SuggestTrials(ctx, 1)
		require.NoError(t, err, "cycle %d", i)
	}
	trials, err := st.GetTrials(ctx, guid, store.TrialFilter{})
	require.NoError(t, err)
	assert.Len(t, trials, 4)
}

func TestInRam_OptimizationLoop(t *testing.T) {
	ctx := context.Background()
	r, err := NewInRam(ctx, testProblem(), study.AlgorithmEagleStrategy)
	require.NoError(t, err)

	for round := 0; round < 10; round++ {
		trials, err := r.SuggestTrials(ctx, 4)
		require.NoError(t, err)
		for _, tr := range trials {
			_, err := r.Complete(ctx, tr.ID, map[string]float64{"obj": objective(tr)})
			require.NoError(t, err)
		}
	}

	best, err := r.GetBestTrials(ctx, 0)
	require.NoError(t, err)
	require.Len(t, best, 1)

	all, err := r.Store().GetTrials(ctx, r.GUID(), store.TrialFilter{})
	require.NoError(t, err)
	require.Len(t, all, 40)
	for _, tr := range all {
		v, _ := tr.FinalMeasurement.Value("obj")
		bestV, _ := best[0].FinalMeasurement.Value("obj")
		assert.LessOrEqual(t, v, bestV)
	}

	_, err = NewInRam(ctx, testProblem(), "NOPE")
	assert.ErrorIs(t, err, study.ErrInvalidArgument)
}
