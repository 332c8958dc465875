package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"llmcourier/internal/domain"
	"llmcourier/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// errServerStatus marks a 5xx response inside the breaker so the failure is
// counted while the response still reaches the caller.
var errServerStatus = errors.New("server status")

// BreakerTransport wraps a domain.Transport with circuit breaker protection.
// When the endpoint fails repeatedly (transport errors or 5xx responses),
// the circuit opens and subsequent sends fail fast without reaching the
// network, preventing retry storms. 4xx responses do not trip the breaker.
type BreakerTransport struct {
	inner   domain.Transport
	breaker *gobreaker.CircuitBreaker[*domain.TransportResponse]
	logger  *slog.Logger
}

// NewBreakerTransport wraps inner with a circuit breaker.
// If cfg is zero-valued, sensible defaults are used.
func NewBreakerTransport(inner domain.Transport, name string, cfg config.CircuitBreakerConfig, logger *slog.Logger) *BreakerTransport {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[*domain.TransportResponse](gobreaker.Settings{
		Name:        "transport:" + name,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &BreakerTransport{
		inner:   inner,
		breaker: cb,
		logger:  logger,
	}
}

// Send implements domain.Transport. Exchanges are routed through the
// circuit breaker; 5xx responses count as failures but are still returned
// to the caller for status classification.
func (b *BreakerTransport) Send(ctx context.Context, req *domain.TransportRequest) (*domain.TransportResponse, error) {
	resp, err := b.breaker.Execute(func() (*domain.TransportResponse, error) {
		resp, err := b.inner.Send(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.Status >= 500 {
			return resp, errServerStatus
		}
		return resp, nil
	})

	if errors.Is(err, errServerStatus) {
		return resp, nil
	}
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			// Open circuit surfaces as a transient transport failure.
			return nil, fmt.Errorf("%w: circuit open: %v", domain.ErrTransport, err)
		}
		return nil, err
	}
	return resp, nil
}

// State returns the current circuit breaker state for monitoring.
func (b *BreakerTransport) State() gobreaker.State {
	return b.breaker.State()
}

// Counts returns the current circuit breaker failure/success counts.
func (b *BreakerTransport) Counts() gobreaker.Counts {
	return b.breaker.Counts()
}

// Compile-time interface check.
var _ domain.Transport = (*BreakerTransport)(nil)
