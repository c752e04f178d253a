// Package study holds the data model shared by every layer of the service:
// studies, trials, measurements, staged metadata deltas and the error taxonomy.
package study

import (
	"time"

	"github.com/goccy/go-json"
)

// Algorithm names understood by the policy registry.
const (
	AlgorithmDefault       = "DEFAULT"
	AlgorithmRandomSearch  = "RANDOM_SEARCH"
	AlgorithmEagleStrategy = "EAGLE_STRATEGY"
	AlgorithmCMAES         = "CMA_ES"
	AlgorithmMayfly        = "MAYFLY"
)

// StudyConfig is the committed configuration of a study.
type StudyConfig struct {
	Problem       ProblemStatement     `json:"problem"`
	Algorithm     string               `json:"algorithm,omitempty"`
	EarlyStopping *EarlyStoppingConfig `json:"early_stopping,omitempty"`
	Metadata      Metadata             `json:"metadata,omitempty"`
}

// Clone deep-copies the config.
func (c StudyConfig) Clone() StudyConfig {
	out := c
	out.Problem.Metrics = append([]MetricInformation(nil), c.Problem.Metrics...)
	params := make([]ParameterConfig, len(c.Problem.SearchSpace.Parameters))
	for i, p := range c.Problem.SearchSpace.Parameters {
		p.Categories = append([]string(nil), p.Categories...)
		p.FeasiblePoints = append([]float64(nil), p.FeasiblePoints...)
		params[i] = p
	}
	out.Problem.SearchSpace.Parameters = params
	if c.EarlyStopping != nil {
		es := *c.EarlyStopping
		out.EarlyStopping = &es
	}
	out.Metadata = c.Metadata.Clone()
	return out
}

// Study is one optimization run.
type Study struct {
	GUID         string      `json:"guid"`
	DisplayName  string      `json:"display_name,omitempty"`
	Owner        string      `json:"owner,omitempty"`
	Config       StudyConfig `json:"config"`
	CreationTime time.Time   `json:"creation_time"`
}

// Clone deep-copies the study.
func (s Study) Clone() Study {
	out := s
	out.Config = s.Config.Clone()
	return out
}

func marshalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalJSON(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
