package browser

import (
	"context"
	"time"

	"github.com/PentesterFlow/OpenAudit/internal/errors"
	"github.com/PentesterFlow/OpenAudit/internal/logger"
)

// Guard wraps a Renderer with a circuit breaker. While the breaker is open
// Render fails fast with errors.ErrCircuitOpen and callers keep the HTTP
// body instead.
type Guard struct {
	next    Renderer
	breaker *errors.CircuitBreaker
}

// NewGuard guards next with a breaker built from config.
func NewGuard(next Renderer, config errors.CircuitBreakerConfig, log *logger.Logger) *Guard {
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("renderer")

	cb := errors.NewCircuitBreaker(config)
	cb.OnStateChange(func(from, to errors.CircuitState) {
		log.Warnf("render circuit %s -> %s", from, to)
	})
	return &Guard{next: next, breaker: cb}
}

// Render renders url unless the breaker is open.
func (g *Guard) Render(ctx context.Context, url string, timeout time.Duration) (string, time.Duration, error) {
	if !g.breaker.Allow() {
		return "", 0, errors.NewRenderError(url, errors.ErrCircuitOpen)
	}

	html, elapsed, err := g.next.Render(ctx, url, timeout)
	if err != nil {
		g.breaker.RecordFailure()
		return "", elapsed, errors.NewRenderError(url, err)
	}
	g.breaker.RecordSuccess()
	return html, elapsed, nil
}

// State returns the breaker state.
func (g *Guard) State() errors.CircuitState {
	return g.breaker.State()
}
