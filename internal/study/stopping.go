package study

// StoppingKind selects the automated early-stopping policy of a study.
type StoppingKind string

const (
	StoppingDefault    StoppingKind = "DEFAULT"
	StoppingMedian     StoppingKind = "MEDIAN"
	StoppingDecayCurve StoppingKind = "DECAY_CURVE"
)

// EarlyStoppingConfig is a value object describing the stopping policy.
type EarlyStoppingConfig struct {
	Kind               StoppingKind
	UseElapsedDuration bool
}

// DefaultStoppingConfig returns the service default stopping policy.
func DefaultStoppingConfig() EarlyStoppingConfig {
	return EarlyStoppingConfig{Kind: StoppingDefault}
}

// DefaultStoppingSpec is the wire form of the default policy. It carries no fields.
type DefaultStoppingSpec struct{}

// MedianStoppingSpec is the wire form of median-rule stopping.
type MedianStoppingSpec struct {
	UseElapsedDuration bool `json:"use_elapsed_duration,omitempty"`
}

// DecayCurveStoppingSpec is the wire form of decay-curve stopping.
type DecayCurveStoppingSpec struct {
	UseElapsedDuration bool `json:"use_elapsed_duration,omitempty"`
}

// StoppingSpecWire mirrors the study wire representation; exactly one field is set.
type StoppingSpecWire struct {
	Default    *DefaultStoppingSpec    `json:"default_stopping_spec,omitempty"`
	Median     *MedianStoppingSpec     `json:"median_automated_stopping_spec,omitempty"`
	DecayCurve *DecayCurveStoppingSpec `json:"decay_curve_stopping_spec,omitempty"`
}

// ToWire converts the config to its wire representation.
func (c EarlyStoppingConfig) ToWire() StoppingSpecWire {
	switch c.Kind {
	case StoppingMedian:
		return StoppingSpecWire{Median: &MedianStoppingSpec{UseElapsedDuration: c.UseElapsedDuration}}
	case StoppingDecayCurve:
		return StoppingSpecWire{DecayCurve: &DecayCurveStoppingSpec{UseElapsedDuration: c.UseElapsedDuration}}
	default:
		return StoppingSpecWire{Default: &DefaultStoppingSpec{}}
	}
}

// EarlyStoppingFromWire is the inverse of ToWire.
func EarlyStoppingFromWire(w StoppingSpecWire) (EarlyStoppingConfig, error) {
	set := 0
	var cfg EarlyStoppingConfig
	if w.Default != nil {
		set++
		cfg = EarlyStoppingConfig{Kind: StoppingDefault}
	}
	if w.Median != nil {
		set++
		cfg = EarlyStoppingConfig{Kind: StoppingMedian, UseElapsedDuration: w.Median.UseElapsedDuration}
	}
	if w.DecayCurve != nil {
		set++
		cfg = EarlyStoppingConfig{Kind: StoppingDecayCurve, UseElapsedDuration: w.DecayCurve.UseElapsedDuration}
	}
	if set != 1 {
		return EarlyStoppingConfig{}, InvalidArgument("stopping spec must set exactly one policy, got %d", set)
	}
	return cfg, nil
}

// MarshalJSON encodes the config in its wire form.
func (c EarlyStoppingConfig) MarshalJSON() ([]byte, error) {
	return marshalJSON(c.ToWire())
}

// UnmarshalJSON decodes the wire form.
func (c *EarlyStoppingConfig) UnmarshalJSON(data []byte) error {
	var w StoppingSpecWire
	if err := unmarshalJSON(data, &w); err != nil {
		return err
	}
	cfg, err := EarlyStoppingFromWire(w)
	if err != nil {
		return err
	}
	*c = cfg
	return nil
}
