package study

import (
	"fmt"
	"math"
)

// Goal is the optimization direction of a metric.
type Goal string

const (
	Maximize Goal = "MAXIMIZE"
	Minimize Goal = "MINIMIZE"
)

// Better reports whether a is strictly better than b under the goal.
func (g Goal) Better(a, b float64) bool {
	if g == Minimize {
		return a < b
	}
	return a > b
}

// MetricInformation names an objective metric and its goal.
type MetricInformation struct {
	Name string `json:"name" validate:"required"`
	Goal Goal   `json:"goal" validate:"required,oneof=MAXIMIZE MINIMIZE"`
}

// ParameterType enumerates the supported search-space dimensions.
type ParameterType string

const (
	Double      ParameterType = "DOUBLE"
	Integer     ParameterType = "INTEGER"
	Categorical ParameterType = "CATEGORICAL"
	Discrete    ParameterType = "DISCRETE"
)

// ParameterConfig describes one dimension of the search space.
type ParameterConfig struct {
	Name           string        `json:"name" validate:"required"`
	Type           ParameterType `json:"type" validate:"required,oneof=DOUBLE INTEGER CATEGORICAL DISCRETE"`
	Min            float64       `json:"min,omitempty"`
	Max            float64       `json:"max,omitempty"`
	Categories     []string      `json:"categories,omitempty"`
	FeasiblePoints []float64     `json:"feasible_points,omitempty"`
}

// SearchSpace is an ordered list of parameters.
type SearchSpace struct {
	Parameters []ParameterConfig `json:"parameters" validate:"dive"`
}

// ProblemStatement is the search space plus the metric definitions handed to
// every designer constructor.
type ProblemStatement struct {
	SearchSpace SearchSpace         `json:"search_space"`
	Metrics     []MetricInformation `json:"metrics" validate:"dive"`
}

// IsMultiObjective reports whether more than one objective metric is defined.
func (p ProblemStatement) IsMultiObjective() bool {
	return len(p.Metrics) > 1
}

// Validate checks the statement is usable by designers and the ranking.
func (p ProblemStatement) Validate() error {
	if len(p.Metrics) == 0 {
		return InvalidArgument("problem statement has no metrics")
	}
	seen := make(map[string]bool, len(p.Metrics))
	for _, m := range p.Metrics {
		if m.Name == "" {
			return InvalidArgument("metric name is empty")
		}
		if m.Goal != Maximize && m.Goal != Minimize {
			return InvalidArgument("metric %q has unknown goal %q", m.Name, m.Goal)
		}
		if seen[m.Name] {
			return InvalidArgument("duplicate metric %q", m.Name)
		}
		seen[m.Name] = true
	}

	names := make(map[string]bool, len(p.SearchSpace.Parameters))
	for _, pc := range p.SearchSpace.Parameters {
		if pc.Name == "" {
			return InvalidArgument("parameter name is empty")
		}
		if names[pc.Name] {
			return InvalidArgument("duplicate parameter %q", pc.Name)
		}
		names[pc.Name] = true
		if err := pc.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (pc ParameterConfig) validate() error {
	switch pc.Type {
	case Double, Integer:
		if math.IsNaN(pc.Min) || math.IsNaN(pc.Max) || pc.Min > pc.Max {
			return InvalidArgument("parameter %q has invalid bounds [%v, %v]", pc.Name, pc.Min, pc.Max)
		}
	case Categorical:
		if len(pc.Categories) == 0 {
			return InvalidArgument("parameter %q has no categories", pc.Name)
		}
	case Discrete:
		if len(pc.FeasiblePoints) == 0 {
			return InvalidArgument("parameter %q has no feasible points", pc.Name)
		}
	default:
		return InvalidArgument("parameter %q has unknown type %q", pc.Name, pc.Type)
	}
	return nil
}

// Metric looks up a metric definition by name.
func (p ProblemStatement) Metric(name string) (MetricInformation, error) {
	for _, m := range p.Metrics {
		if m.Name == name {
			return m, nil
		}
	}
	return MetricInformation{}, fmt.Errorf("metric %q: %w", name, ErrNotFound)
}
