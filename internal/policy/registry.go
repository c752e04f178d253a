package policy

import (
	"sort"
	"sync"

	"github.com/cwbudde/govizier/internal/designer"
	"github.com/cwbudde/govizier/internal/designer/cmaes"
	"github.com/cwbudde/govizier/internal/designer/eagle"
	"github.com/cwbudde/govizier/internal/designer/mayfly"
	"github.com/cwbudde/govizier/internal/designer/random"
	"github.com/cwbudde/govizier/internal/study"
)

// Registry maps algorithm names to designer factories.
type Registry struct {
	mu         sync.RWMutex
	factories  map[string]designer.Factory
	defaultAlg string
}

// NewRegistry returns a registry with every built-in designer registered and
// DEFAULT resolving to the eagle strategy.
func NewRegistry() *Registry {
	r := &Registry{
		factories:  make(map[string]designer.Factory),
		defaultAlg: study.AlgorithmEagleStrategy,
	}
	r.Register(random.Algorithm, random.New)
	r.Register(eagle.Algorithm, eagle.New)
	r.Register(cmaes.Algorithm, cmaes.New)
	r.Register(mayfly.Algorithm, mayfly.New)
	return r
}

func (r *Registry) Register(name string, factory designer.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// SetDefault selects the algorithm DEFAULT resolves to.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; !ok {
		return study.InvalidArgument("unknown algorithm %q", name)
	}
	r.defaultAlg = name
	return nil
}

// Resolve returns the concrete algorithm name and factory for name. An empty
// name or DEFAULT resolves to the default algorithm.
func (r *Registry) Resolve(name string) (string, designer.Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" || name == study.AlgorithmDefault {
		name = r.defaultAlg
	}
	f, ok := r.factories[name]
	if !ok {
		return "", nil, study.InvalidArgument("unknown algorithm %q", name)
	}
	return name, f, nil
}

// Algorithms lists the registered algorithm names.
func (r *Registry) Algorithms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
