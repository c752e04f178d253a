// Package mayfly implements a surrogate-assisted designer. Observed trials
// define an inverse-distance-weighted surrogate of the objective over the
// unit cube; each suggestion is the point a mayfly swarm finds when
// minimizing the negated surrogate minus an exploration bonus.
package mayfly

import (
	"math"
	"math/rand"

	"github.com/cwbudde/mayfly"

	"github.com/cwbudde/govizier/internal/designer"
	"github.com/cwbudde/govizier/internal/study"
)

const (
	Algorithm    = study.AlgorithmMayfly
	stateVersion = 1

	// minObservations below which suggestions are uniform random.
	minObservations = 2

	// Swarm settings. The mayfly library requires a population of at least 20.
	swarmSize       = 20
	swarmIterations = 30

	exploration = 0.5
	idwEpsilon  = 1e-9
)

type observation struct {
	ID    int       `json:"id"`
	X     []float64 `json:"x"`
	Score float64   `json:"score"`
}

type state struct {
	Stream       *designer.Stream `json:"stream"`
	Observations []observation    `json:"observations"`
}

type Designer struct {
	problem study.ProblemStatement
	space   designer.Space
	st      state
}

func New(problem study.ProblemStatement, seed uint64) (designer.Designer, error) {
	return &Designer{
		problem: problem,
		space:   designer.NewSpace(problem.SearchSpace),
		st: state{
			Stream:       designer.NewStream(seed),
			Observations: []observation{},
		},
	}, nil
}

func (d *Designer) Suggest(count int) ([]study.Trial, error) {
	if err := designer.CheckCount(count); err != nil {
		return nil, err
	}
	dim := d.space.Dim()
	out := make([]study.Trial, count)
	var picked [][]float64
	for i := range out {
		var u []float64
		if dim == 0 || len(d.st.Observations) < minObservations {
			u = d.st.Stream.Unit(dim)
		} else {
			u = d.optimize(picked)
		}
		picked = append(picked, u)
		out[i] = designer.NewTrial(d.space.Decode(u))
	}
	return out, nil
}

// optimize runs one swarm over the acquisition surface. Points already picked
// in this batch count as observed for the exploration term.
func (d *Designer) optimize(picked [][]float64) []float64 {
	dim := d.space.Dim()
	lo, hi := d.scoreRange()

	acquisition := func(x []float64) float64 {
		u := make([]float64, dim)
		for i := range u {
			u[i] = designer.Clip(x[i])
		}
		var num, den float64
		nearest := math.Inf(1)
		for _, o := range d.st.Observations {
			d2 := sqDist(u, o.X)
			w := 1 / (d2 + idwEpsilon)
			num += w * normalize(o.Score, lo, hi)
			den += w
			nearest = math.Min(nearest, d2)
		}
		for _, p := range picked {
			nearest = math.Min(nearest, sqDist(u, p))
		}
		return -(num / den) - exploration*math.Sqrt(nearest/float64(dim))
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = acquisition
	config.ProblemSize = dim
	config.MaxIterations = swarmIterations
	config.NPop = swarmSize
	config.LowerBound = 0
	config.UpperBound = 1
	config.Rand = rand.New(rand.NewSource(d.st.Stream.Int64()))

	result, err := mayfly.Optimize(config)
	if err != nil || len(result.GlobalBest.Position) != dim {
		return d.st.Stream.Unit(dim)
	}
	u := make([]float64, dim)
	for i, v := range result.GlobalBest.Position {
		u[i] = designer.Clip(v)
	}
	return u
}

func (d *Designer) scoreRange() (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, o := range d.st.Observations {
		lo = math.Min(lo, o.Score)
		hi = math.Max(hi, o.Score)
	}
	return lo, hi
}

func normalize(v, lo, hi float64) float64 {
	if hi <= lo {
		return 0.5
	}
	return (v - lo) / (hi - lo)
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += (a[i] - b[i]) * (a[i] - b[i])
	}
	return s
}

func (d *Designer) Update(completed []study.Trial) error {
	for _, t := range completed {
		score, ok := designer.Score(d.problem, t)
		if !ok {
			continue
		}
		x, ok := d.space.Encode(t.Parameters)
		if !ok {
			continue
		}
		d.st.Observations = append(d.st.Observations, observation{ID: t.ID, X: x, Score: score})
	}
	return nil
}

func (d *Designer) Dump() ([]byte, error) {
	return designer.Encode(Algorithm, stateVersion, d.st)
}

func (d *Designer) Load(payload []byte) error {
	var st state
	if err := designer.Decode(payload, Algorithm, stateVersion, &st); err != nil {
		return err
	}
	if st.Stream == nil {
		return study.CorruptState("%s checkpoint has no stream", Algorithm)
	}
	for _, o := range st.Observations {
		if len(o.X) != d.space.Dim() {
			return study.CorruptState("%s checkpoint observation %d does not match dimension %d", Algorithm, o.ID, d.space.Dim())
		}
	}
	if st.Observations == nil {
		st.Observations = []observation{}
	}
	d.st = st
	return nil
}
