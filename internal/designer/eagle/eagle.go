// Package eagle implements the eagle strategy: a bounded pool of fireflies
// that move toward brighter (better scoring) flies plus a shrinking random
// perturbation. Flies that stop improving are evicted and replaced by fresh
// random flies.
package eagle

import (
	"math"
	"sort"
	"strconv"

	"github.com/cwbudde/govizier/internal/designer"
	"github.com/cwbudde/govizier/internal/study"
)

const (
	Algorithm    = study.AlgorithmEagleStrategy
	stateVersion = 1

	// MetadataNamespace holds the fly id a trial was suggested for.
	MetadataNamespace = "eagle"
	MetadataFlyID     = "fly_id"
)

// Tuning constants.
const (
	initialPerturbation = 0.1
	perturbationDecay   = 0.8
	minPerturbation     = 1e-3
	attraction          = 1.0
	visibility          = 3.0
)

// fly is one member of the pool. Trial is the best trial the fly has produced.
type fly struct {
	ID           int         `json:"id"`
	Perturbation float64     `json:"perturbation"`
	Generation   int         `json:"generation"`
	Trial        study.Trial `json:"trial"`
}

type state struct {
	Stream   *designer.Stream `json:"stream"`
	Capacity int              `json:"capacity"`
	LastID   int              `json:"last_id"`
	MaxFlyID int              `json:"max_fly_id"`
	Flies    []fly            `json:"flies"`
}

type Designer struct {
	problem study.ProblemStatement
	space   designer.Space
	st      state
}

// PoolCapacity returns the pool size used for a search space of dim parameters.
func PoolCapacity(dim int) int {
	return 10 + dim/2 + int(math.Pow(float64(dim), 1.2))
}

func New(problem study.ProblemStatement, seed uint64) (designer.Designer, error) {
	space := designer.NewSpace(problem.SearchSpace)
	return &Designer{
		problem: problem,
		space:   space,
		st: state{
			Stream:   designer.NewStream(seed),
			Capacity: PoolCapacity(space.Dim()),
			Flies:    []fly{},
		},
	}, nil
}

func (d *Designer) Suggest(count int) ([]study.Trial, error) {
	if err := designer.CheckCount(count); err != nil {
		return nil, err
	}
	out := make([]study.Trial, count)
	for i := range out {
		var u []float64
		var flyID int
		if len(d.st.Flies) < d.st.Capacity {
			d.st.MaxFlyID++
			flyID = d.st.MaxFlyID
			u = d.st.Stream.Unit(d.space.Dim())
		} else {
			f := d.nextFly()
			flyID = f.ID
			u = d.move(f)
			d.st.LastID = f.ID
		}
		t := designer.NewTrial(d.space.Decode(u))
		t.Metadata = study.Metadata{}
		t.Metadata.Set(MetadataNamespace, MetadataFlyID, strconv.Itoa(flyID))
		out[i] = t
	}
	return out, nil
}

// nextFly returns the pool member following LastID in id order, wrapping.
func (d *Designer) nextFly() *fly {
	for i := range d.st.Flies {
		if d.st.Flies[i].ID > d.st.LastID {
			return &d.st.Flies[i]
		}
	}
	return &d.st.Flies[0]
}

// move proposes a new position for f: attraction toward every brighter fly
// plus a Gaussian perturbation.
func (d *Designer) move(f *fly) []float64 {
	dim := d.space.Dim()
	x, ok := d.space.Encode(f.Trial.Parameters)
	if !ok {
		return d.st.Stream.Unit(dim)
	}
	fScore, _ := designer.Score(d.problem, f.Trial)

	next := append([]float64(nil), x...)
	for i := range d.st.Flies {
		other := &d.st.Flies[i]
		if other.ID == f.ID {
			continue
		}
		oScore, _ := designer.Score(d.problem, other.Trial)
		if oScore <= fScore {
			continue
		}
		y, ok := d.space.Encode(other.Trial.Parameters)
		if !ok {
			continue
		}
		var r2 float64
		for j := range x {
			r2 += (y[j] - x[j]) * (y[j] - x[j])
		}
		if dim > 0 {
			r2 /= float64(dim)
		}
		beta := attraction * math.Exp(-visibility*r2)
		for j := range next {
			next[j] += beta * (y[j] - x[j])
		}
	}
	for j := range next {
		next[j] = designer.Clip(next[j] + f.Perturbation*d.st.Stream.NormFloat64())
	}
	return next
}

func (d *Designer) Update(completed []study.Trial) error {
	for _, t := range completed {
		score, ok := designer.Score(d.problem, t)
		if !ok {
			continue
		}
		if _, ok := d.space.Encode(t.Parameters); !ok {
			continue
		}
		id, hasID := flyIDOf(t)
		if !hasID {
			d.st.MaxFlyID++
			id = d.st.MaxFlyID
		}
		d.observe(id, t.Clone(), score)
	}
	return nil
}

func (d *Designer) observe(id int, t study.Trial, score float64) {
	if idx := d.indexOf(id); idx >= 0 {
		f := &d.st.Flies[idx]
		best, _ := designer.Score(d.problem, f.Trial)
		if score > best {
			f.Trial = t
			f.Generation++
			return
		}
		f.Perturbation *= perturbationDecay
		if f.Perturbation < minPerturbation {
			d.st.Flies = append(d.st.Flies[:idx], d.st.Flies[idx+1:]...)
		}
		return
	}

	newFly := fly{ID: id, Perturbation: initialPerturbation, Trial: t}
	if len(d.st.Flies) < d.st.Capacity {
		d.insert(newFly)
		return
	}
	worst := 0
	worstScore := math.Inf(1)
	for i, f := range d.st.Flies {
		s, _ := designer.Score(d.problem, f.Trial)
		if s < worstScore {
			worst, worstScore = i, s
		}
	}
	if score > worstScore {
		d.st.Flies = append(d.st.Flies[:worst], d.st.Flies[worst+1:]...)
		d.insert(newFly)
	}
}

func (d *Designer) indexOf(id int) int {
	for i, f := range d.st.Flies {
		if f.ID == id {
			return i
		}
	}
	return -1
}

// insert adds f keeping the pool sorted by id.
func (d *Designer) insert(f fly) {
	d.st.Flies = append(d.st.Flies, f)
	sort.Slice(d.st.Flies, func(i, j int) bool { return d.st.Flies[i].ID < d.st.Flies[j].ID })
}

func flyIDOf(t study.Trial) (int, bool) {
	raw, ok := t.Metadata.Get(MetadataNamespace, MetadataFlyID)
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// PoolSize reports the number of live flies.
func (d *Designer) PoolSize() int {
	return len(d.st.Flies)
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
	if st.Capacity <= 0 || len(st.Flies) > st.Capacity {
		return study.CorruptState("%s checkpoint pool of %d flies exceeds capacity %d", Algorithm, len(st.Flies), st.Capacity)
	}
	for i, f := range st.Flies {
		if f.ID <= 0 || f.ID > st.MaxFlyID || (i > 0 && f.ID <= st.Flies[i-1].ID) {
			return study.CorruptState("%s checkpoint has invalid fly id %d", Algorithm, f.ID)
		}
	}
	if st.Flies == nil {
		st.Flies = []fly{}
	}
	d.st = st
	return nil
}
