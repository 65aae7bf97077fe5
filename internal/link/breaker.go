package link

import (
	"context"

	"github.com/sony/gobreaker"

	"meshbridge/internal/config"
	"meshbridge/pkg/circuitbreaker"
)

// BreakerLink wraps a Link with a per-link circuit breaker so a flapping
// transport fails fast instead of eating a send timeout on every
// message.
type BreakerLink struct {
	inner   Link
	breaker *circuitbreaker.Wrapper
}

func WithBreaker(inner Link, cfg config.CircuitBreakerConfig) *BreakerLink {
	bc := circuitbreaker.DefaultConfig(inner.Name())

	if cfg.MaxRequests > 0 {
		bc.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		bc.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		bc.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		ratio := cfg.FailureRatio
		min := cfg.MinRequests
		bc.ReadyToTrip = func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= min && failureRatio >= ratio
		}
	}

	return &BreakerLink{
		inner:   inner,
		breaker: circuitbreaker.NewWrapper(bc),
	}
}

func (b *BreakerLink) Name() string {
	return b.inner.Name()
}

func (b *BreakerLink) Send(ctx context.Context, text string, channel int) error {
	_, err := b.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, b.inner.Send(ctx, text, channel)
	})
	return err
}

func (b *BreakerLink) State() gobreaker.State {
	return b.breaker.State()
}
