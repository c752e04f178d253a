package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/cwbudde/govizier/internal/metrics"
	"github.com/cwbudde/govizier/internal/study"
)

// BreakerSettings tunes the circuit breaker of a PolicyClient.
type BreakerSettings struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultBreakerSettings returns the settings used when none are configured.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}

// PolicyClient forwards suggestion requests to a policy server. Requests are
// never retried. Only transport failures count against the breaker; errors
// reported by the policy server itself pass through unchanged.
type PolicyClient struct {
	client *apiClient
	cb     *gobreaker.CircuitBreaker[[]study.Trial]
	name   string
}

var _ Suggester = (*PolicyClient)(nil)

// NewPolicyClient returns a client of the policy server at endpoint. timeout
// bounds each call in addition to the caller's context.
func NewPolicyClient(endpoint string, timeout time.Duration, settings BreakerSettings) *PolicyClient {
	name := "policy-" + endpoint
	metrics.BreakerState.WithLabelValues(name).Set(0)

	threshold := settings.FailureThreshold
	if threshold == 0 {
		threshold = 1
	}

	cb := gobreaker.NewCircuitBreaker[[]study.Trial](gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, study.ErrTransport)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("Circuit breaker state transition", "name", name, "from", from.String(), "to", to.String())
			metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return &PolicyClient{
		client: newAPIClient(endpoint, timeout),
		cb:     cb,
		name:   name,
	}
}

type policySuggestRequest struct {
	StudyGUID string `json:"study_guid" validate:"required"`
	Count     int    `json:"count" validate:"gte=1"`
}

// SuggestTrials asks the policy server to run a suggestion cycle.
func (c *PolicyClient) SuggestTrials(ctx context.Context, guid string, count int) ([]study.Trial, error) {
	trials, err := c.cb.Execute(func() ([]study.Trial, error) {
		var out trialsResponse
		req := policySuggestRequest{StudyGUID: guid, Count: count}
		if err := c.client.do(ctx, http.MethodPost, "/policy/v1/suggest", req, &out); err != nil {
			return nil, err
		}
		return out.Trials, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: policy server unavailable: %w", study.ErrTransport, err)
		}
		if errors.Is(err, study.ErrTransport) {
			metrics.ForwardFailures.WithLabelValues("policy").Inc()
		}
		return nil, err
	}
	return trials, nil
}

// State returns the breaker state.
func (c *PolicyClient) State() gobreaker.State {
	return c.cb.State()
}

// Close releases idle connections.
func (c *PolicyClient) Close() {
	c.client.http.CloseIdleConnections()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
