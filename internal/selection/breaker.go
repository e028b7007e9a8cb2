package selection

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/memodrill/memodrill/pkg/types"
)

// ErrContentUnavailable is returned while the content provider's circuit is
// open. Callers should surface it as a temporary condition, not a bug.
var ErrContentUnavailable = errors.New("selection: content provider unavailable")

// BreakerConfig tunes the content-provider circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the consecutive-failure count that trips the circuit.
	// Default: 3.
	MaxFailures uint32

	// Timeout is how long the circuit stays open before probing. Default: 30s.
	Timeout time.Duration

	// HalfOpenMaxRequests is how many probe requests half-open allows.
	// Default: 2.
	HalfOpenMaxRequests uint32
}

// Breaker wraps a ContentProvider with a circuit breaker so that a failing
// content platform degrades selection fast instead of stalling every session
// start behind timeouts.
type Breaker struct {
	inner   ContentProvider
	breaker *gobreaker.CircuitBreaker
}

var _ ContentProvider = (*Breaker)(nil)

// NewBreaker wraps the provider with default settings.
func NewBreaker(inner ContentProvider) *Breaker {
	return NewBreakerWithConfig(inner, BreakerConfig{})
}

// NewBreakerWithConfig wraps the provider with custom breaker settings.
func NewBreakerWithConfig(inner ContentProvider, cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests == 0 {
		cfg.HalfOpenMaxRequests = 2
	}

	settings := gobreaker.Settings{
		Name:        "ContentProvider",
		MaxRequests: cfg.HalfOpenMaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("selection: %s circuit %s -> %s", name, from, to)
		},
	}

	return &Breaker{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// ItemsInContainers proxies through the breaker.
func (b *Breaker) ItemsInContainers(ctx context.Context, containerIDs []int64, mode types.StudyMode) ([]ContentItem, error) {
	result, err := b.execute(ctx, func() (interface{}, error) {
		return b.inner.ItemsInContainers(ctx, containerIDs, mode)
	})
	if err != nil {
		return nil, err
	}
	return result.([]ContentItem), nil
}

// Item proxies through the breaker.
func (b *Breaker) Item(ctx context.Context, itemID int64) (*ContentItem, error) {
	result, err := b.execute(ctx, func() (interface{}, error) {
		return b.inner.Item(ctx, itemID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*ContentItem), nil
}

func (b *Breaker) execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result, err := b.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrContentUnavailable
	}
	return result, err
}

// State returns "closed", "open", or "half-open" for health reporting.
func (b *Breaker) State() string {
	switch b.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
