// Package cmaes implements the covariance matrix adaptation evolution
// strategy over the unit cube. Suggestions are sampled from the current
// search distribution; completed trials are buffered and the distribution is
// updated once a full generation of results is available.
package cmaes

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/govizier/internal/designer"
	"github.com/cwbudde/govizier/internal/study"
)

const (
	Algorithm    = study.AlgorithmCMAES
	stateVersion = 1

	initialSigma = 0.3
	minEigen     = 1e-20
)

// told is one buffered result.
type told struct {
	ID    int       `json:"id"`
	X     []float64 `json:"x"`
	Score float64   `json:"score"`
}

type state struct {
	Stream     *designer.Stream `json:"stream"`
	Generation int              `json:"generation"`
	Mean       []float64        `json:"mean"`
	Sigma      float64          `json:"sigma"`
	C          []float64        `json:"c"` // row-major n×n covariance
	B          []float64        `json:"b"` // row-major eigenvectors of C
	D          []float64        `json:"d"` // square roots of the eigenvalues
	PC         []float64        `json:"pc"`
	PS         []float64        `json:"ps"`
	Pending    []told           `json:"pending"`
}

// params are the strategy constants derived from the dimension.
type params struct {
	n       int
	lambda  int
	mu      int
	weights []float64
	mueff   float64
	cc      float64
	cs      float64
	c1      float64
	cmu     float64
	damps   float64
	chiN    float64
}

func newParams(n int) params {
	p := params{n: n}
	nf := float64(max(n, 1))
	p.lambda = 4 + int(math.Floor(3*math.Log(nf)))
	p.mu = p.lambda / 2

	p.weights = make([]float64, p.mu)
	var sum, sumSq float64
	for i := range p.weights {
		p.weights[i] = math.Log(float64(p.mu)+0.5) - math.Log(float64(i+1))
		sum += p.weights[i]
	}
	for i := range p.weights {
		p.weights[i] /= sum
		sumSq += p.weights[i] * p.weights[i]
	}
	p.mueff = 1 / sumSq

	p.cc = (4 + p.mueff/nf) / (nf + 4 + 2*p.mueff/nf)
	p.cs = (p.mueff + 2) / (nf + p.mueff + 5)
	p.c1 = 2 / ((nf+1.3)*(nf+1.3) + p.mueff)
	p.cmu = math.Min(1-p.c1, 2*(p.mueff-2+1/p.mueff)/((nf+2)*(nf+2)+p.mueff))
	p.damps = 1 + 2*math.Max(0, math.Sqrt((p.mueff-1)/(nf+1))-1) + p.cs
	p.chiN = math.Sqrt(nf) * (1 - 1/(4*nf) + 1/(21*nf*nf))
	return p
}

type Designer struct {
	problem study.ProblemStatement
	space   designer.Space
	p       params
	st      state
}

func New(problem study.ProblemStatement, seed uint64) (designer.Designer, error) {
	space := designer.NewSpace(problem.SearchSpace)
	n := space.Dim()
	st := state{
		Stream:  designer.NewStream(seed),
		Mean:    make([]float64, n),
		Sigma:   initialSigma,
		C:       identity(n),
		B:       identity(n),
		D:       make([]float64, n),
		PC:      make([]float64, n),
		PS:      make([]float64, n),
		Pending: []told{},
	}
	for i := range st.Mean {
		st.Mean[i] = 0.5
		st.D[i] = 1
	}
	return &Designer{problem: problem, space: space, p: newParams(n), st: st}, nil
}

func identity(n int) []float64 {
	m := make([]float64, n*n)
	for i := 0; i < n; i++ {
		m[i*n+i] = 1
	}
	return m
}

// PopulationSize is the number of results consumed per generation.
func (d *Designer) PopulationSize() int { return d.p.lambda }

// Generation is the number of completed distribution updates.
func (d *Designer) Generation() int { return d.st.Generation }

func (d *Designer) Suggest(count int) ([]study.Trial, error) {
	if err := designer.CheckCount(count); err != nil {
		return nil, err
	}
	n := d.p.n
	out := make([]study.Trial, count)
	for k := range out {
		// x = mean + sigma * B * (D .* z)
		z := make([]float64, n)
		for i := range z {
			z[i] = d.st.D[i] * d.st.Stream.NormFloat64()
		}
		x := make([]float64, n)
		for i := 0; i < n; i++ {
			var v float64
			for j := 0; j < n; j++ {
				v += d.st.B[i*n+j] * z[j]
			}
			x[i] = designer.Clip(d.st.Mean[i] + d.st.Sigma*v)
		}
		out[k] = designer.NewTrial(d.space.Decode(x))
	}
	return out, nil
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
		d.st.Pending = append(d.st.Pending, told{ID: t.ID, X: x, Score: score})
	}
	for len(d.st.Pending) >= d.p.lambda {
		batch := d.st.Pending[:d.p.lambda]
		d.st.Pending = append([]told{}, d.st.Pending[d.p.lambda:]...)
		if err := d.tell(batch); err != nil {
			return err
		}
	}
	return nil
}

// tell performs one distribution update from a full generation.
func (d *Designer) tell(batch []told) error {
	p := d.p
	n := p.n
	d.st.Generation++
	if n == 0 {
		return nil
	}

	sorted := append([]told(nil), batch...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].ID < sorted[j].ID
	})

	old := append([]float64(nil), d.st.Mean...)
	for i := range d.st.Mean {
		var v float64
		for k := 0; k < p.mu; k++ {
			v += p.weights[k] * sorted[k].X[i]
		}
		d.st.Mean[i] = v
	}

	y := make([]float64, n)
	for i := range y {
		y[i] = (d.st.Mean[i] - old[i]) / d.st.Sigma
	}

	// C^{-1/2} y = B diag(1/D) B^T y
	bty := make([]float64, n)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			bty[j] += d.st.B[i*n+j] * y[i]
		}
		bty[j] /= d.st.D[j]
	}
	csFactor := math.Sqrt(p.cs * (2 - p.cs) * p.mueff)
	var psNorm float64
	for i := 0; i < n; i++ {
		var v float64
		for j := 0; j < n; j++ {
			v += d.st.B[i*n+j] * bty[j]
		}
		d.st.PS[i] = (1-p.cs)*d.st.PS[i] + csFactor*v
		psNorm += d.st.PS[i] * d.st.PS[i]
	}
	psNorm = math.Sqrt(psNorm)

	hsig := 0.0
	denom := math.Sqrt(1 - math.Pow(1-p.cs, float64(2*d.st.Generation)))
	if psNorm/denom/p.chiN < 1.4+2/float64(n+1) {
		hsig = 1
	}

	ccFactor := math.Sqrt(p.cc * (2 - p.cc) * p.mueff)
	for i := range d.st.PC {
		d.st.PC[i] = (1-p.cc)*d.st.PC[i] + hsig*ccFactor*y[i]
	}

	artmp := make([][]float64, p.mu)
	for k := range artmp {
		artmp[k] = make([]float64, n)
		for i := 0; i < n; i++ {
			artmp[k][i] = (sorted[k].X[i] - old[i]) / d.st.Sigma
		}
	}
	keep := 1 - p.c1 - p.cmu
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			c := d.st.C[i*n+j]
			rankOne := d.st.PC[i]*d.st.PC[j] + (1-hsig)*p.cc*(2-p.cc)*c
			var rankMu float64
			for k := 0; k < p.mu; k++ {
				rankMu += p.weights[k] * artmp[k][i] * artmp[k][j]
			}
			d.st.C[i*n+j] = keep*c + p.c1*rankOne + p.cmu*rankMu
		}
	}

	d.st.Sigma *= math.Exp((p.cs / p.damps) * (psNorm/p.chiN - 1))
	if math.IsNaN(d.st.Sigma) || math.IsInf(d.st.Sigma, 0) || d.st.Sigma <= 0 {
		d.st.Sigma = initialSigma
	}

	return d.decompose()
}

// decompose refreshes B and D from C.
func (d *Designer) decompose() error {
	n := d.p.n
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, (d.st.C[i*n+j]+d.st.C[j*n+i])/2)
		}
	}
	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return study.CorruptState("%s covariance eigendecomposition failed at generation %d", Algorithm, d.st.Generation)
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d.st.C[i*n+j] = sym.At(i, j)
			d.st.B[i*n+j] = vectors.At(i, j)
		}
		d.st.D[i] = math.Sqrt(math.Max(values[i], minEigen))
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
	n := d.p.n
	switch {
	case st.Stream == nil:
		return study.CorruptState("%s checkpoint has no stream", Algorithm)
	case len(st.Mean) != n || len(st.D) != n || len(st.PC) != n || len(st.PS) != n:
		return study.CorruptState("%s checkpoint vectors do not match dimension %d", Algorithm, n)
	case len(st.C) != n*n || len(st.B) != n*n:
		return study.CorruptState("%s checkpoint matrices do not match dimension %d", Algorithm, n)
	case !(st.Sigma > 0):
		return study.CorruptState("%s checkpoint has invalid step size %v", Algorithm, st.Sigma)
	}
	for _, t := range st.Pending {
		if len(t.X) != n {
			return study.CorruptState("%s checkpoint buffered result %d does not match dimension %d", Algorithm, t.ID, n)
		}
	}
	if st.Pending == nil {
		st.Pending = []told{}
	}
	d.st = st
	return nil
}
