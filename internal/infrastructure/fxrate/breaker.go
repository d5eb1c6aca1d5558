package fxrate

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"kimp/internal/application/port"
	"kimp/internal/domain/model"
)

// breakerSource 为单个汇率来源加熔断：连续失败后短时间内直接跳过，交给下一个来源
type breakerSource struct {
	src port.RateSource
	cb  *gobreaker.CircuitBreaker
}

// WithBreaker wraps src in a circuit breaker.
func WithBreaker(src port.RateSource) port.RateSource {
	return &breakerSource{src: src, cb: newCircuitBreaker(src.Name())}
}

func (b *breakerSource) Name() string { return b.src.Name() }

func (b *breakerSource) FetchRate(ctx context.Context) (model.FxRate, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.src.FetchRate(ctx)
	})
	if err != nil {
		return model.FxRate{}, err
	}
	return v.(model.FxRate), nil
}

func newCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: name,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				log.Warn().Str("source", name).Msg("fx source seems down, stop allowing requests")
			}
			if from == gobreaker.StateOpen && to == gobreaker.StateHalfOpen {
				log.Info().Str("source", name).Msg("checking fx source status")
			}
			if from == gobreaker.StateHalfOpen && to == gobreaker.StateClosed {
				log.Info().Str("source", name).Msg("fx source seems ok, restart allowing requests")
			}
		},
	})
}
