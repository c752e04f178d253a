package study

import (
	"fmt"
	"math"
	"time"
)

// TrialStatus is the lifecycle state of a trial.
type TrialStatus string

const (
	Active    TrialStatus = "ACTIVE"
	Stopped   TrialStatus = "STOPPED"
	Completed TrialStatus = "COMPLETED"
)

// ParameterValue holds either a numeric or a categorical value.
type ParameterValue struct {
	Number   float64 `json:"number"`
	Category string  `json:"category,omitempty"`
}

// Num returns a numeric parameter value.
func Num(v float64) ParameterValue { return ParameterValue{Number: v} }

// Cat returns a categorical parameter value.
func Cat(v string) ParameterValue { return ParameterValue{Category: v} }

func (v ParameterValue) String() string {
	if v.Category != "" {
		return v.Category
	}
	return fmt.Sprintf("%g", v.Number)
}

// Measurement carries metric values of an evaluation.
type Measurement struct {
	Metrics map[string]float64 `json:"metrics"`
}

// NewMeasurement copies metrics into a Measurement.
func NewMeasurement(metrics map[string]float64) *Measurement {
	m := &Measurement{Metrics: make(map[string]float64, len(metrics))}
	for k, v := range metrics {
		m.Metrics[k] = v
	}
	return m
}

// Value returns the metric value when present and finite.
func (m *Measurement) Value(name string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	v, ok := m.Metrics[name]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Validate rejects metric values that have no JSON encoding.
func (m Measurement) Validate() error {
	for name, v := range m.Metrics {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return InvalidArgument("metric %q has non-finite value %v", name, v)
		}
	}
	return nil
}

// Trial is one proposed and optionally evaluated point. The store assigns ID.
type Trial struct {
	ID               int                       `json:"id"`
	Parameters       map[string]ParameterValue `json:"parameters,omitempty"`
	FinalMeasurement *Measurement              `json:"final_measurement,omitempty"`
	Status           TrialStatus               `json:"status"`
	Metadata         Metadata                  `json:"metadata,omitempty"`
	CreationTime     time.Time                 `json:"creation_time"`
	CompletionTime   *time.Time                `json:"completion_time,omitempty"`
}

// Complete returns t marked completed with the given measurement.
func (t Trial) Complete(m *Measurement) Trial {
	t.Status = Completed
	t.FinalMeasurement = m
	return t
}

// IsCompleted reports whether the trial carries a final measurement.
func (t Trial) IsCompleted() bool {
	return t.Status == Completed && t.FinalMeasurement != nil
}

// Clone returns a deep copy of t.
func (t Trial) Clone() Trial {
	out := t
	if t.Parameters != nil {
		out.Parameters = make(map[string]ParameterValue, len(t.Parameters))
		for k, v := range t.Parameters {
			out.Parameters[k] = v
		}
	}
	if t.FinalMeasurement != nil {
		out.FinalMeasurement = NewMeasurement(t.FinalMeasurement.Metrics)
	}
	out.Metadata = t.Metadata.Clone()
	if t.CompletionTime != nil {
		ct := *t.CompletionTime
		out.CompletionTime = &ct
	}
	return out
}

// CloneTrials deep-copies a slice of trials.
func CloneTrials(trials []Trial) []Trial {
	out := make([]Trial, len(trials))
	for i, t := range trials {
		out[i] = t.Clone()
	}
	return out
}
