package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultMaxRetries bounds the number of quota-driven backend switches per call.
const DefaultMaxRetries = 3

// Observer receives generation and fallback events. metrics.Recorder
// implements it.
type Observer interface {
	ObserveGeneration(backend string, outcome Outcome, elapsed time.Duration)
	ObserveFallback(from, to string)
}

// FallbackClient generates text with the best backend that still has quota.
// The active backend is sticky: once a backend reports quota exhaustion it
// is never tried again by this client.
type FallbackClient struct {
	mu         sync.Mutex
	backends   []Backend
	current    int
	exhausted  bool
	maxRetries int
	observer   Observer
	logger     *slog.Logger
}

// Option configures a FallbackClient.
type Option func(*FallbackClient)

// WithMaxRetries sets the attempt budget. Values below 1 are ignored.
func WithMaxRetries(n int) Option {
	return func(c *FallbackClient) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithObserver reports generations and transitions to o.
func WithObserver(o Observer) Option {
	return func(c *FallbackClient) { c.observer = o }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *FallbackClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewFallbackClient builds a client over backends ordered best first.
func NewFallbackClient(backends []Backend, opts ...Option) *FallbackClient {
	c := &FallbackClient{
		backends:   backends,
		maxRetries: DefaultMaxRetries,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current returns the index and name of the active backend.
func (c *FallbackClient) Current() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.backends) == 0 {
		return 0, ""
	}
	return c.current, c.backends[c.current].Name()
}

// Generate sends prompt to the active backend. A quota rejection moves to
// the next backend and retries the same prompt; any other failure is
// returned immediately.
func (c *FallbackClient) Generate(ctx context.Context, prompt string) (string, error) {
	if len(c.backends) == 0 {
		return "", ErrNoBackend
	}

	for attempts := 0; attempts < c.maxRetries; {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		idx, backend, ok := c.active()
		if !ok {
			return "", ErrAllBackendsExhausted
		}

		start := time.Now()
		res := backend.Generate(ctx, prompt)
		if c.observer != nil {
			c.observer.ObserveGeneration(backend.Name(), res.Outcome, time.Since(start))
		}

		switch res.Outcome {
		case OutcomeSuccess:
			return res.Text, nil
		case OutcomeQuotaExceeded:
			c.logger.Warn("Model quota exceeded", "backend", backend.Name(), "error", res.Err)
			if !c.advance(idx) {
				return "", ErrAllBackendsExhausted
			}
			attempts++
		case OutcomeFailure:
			return "", fmt.Errorf("generate with %s: %w", backend.Name(), res.Err)
		default:
			return "", fmt.Errorf("generate with %s: unexpected outcome %s", backend.Name(), res.Outcome)
		}
	}

	return "", fmt.Errorf("%w after %d attempts", ErrRetriesExhausted, c.maxRetries)
}

func (c *FallbackClient) active() (int, Backend, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exhausted {
		return 0, nil, false
	}
	return c.current, c.backends[c.current], true
}

// advance moves past the backend at idx. A concurrent caller may already
// have moved on, in which case the pointer is left alone.
func (c *FallbackClient) advance(idx int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.exhausted {
		return false
	}
	if c.current != idx {
		return true
	}
	if idx >= len(c.backends)-1 {
		c.exhausted = true
		c.logger.Error("All model backends exhausted", "last", c.backends[idx].Name())
		return false
	}

	from, to := c.backends[idx].Name(), c.backends[idx+1].Name()
	c.current = idx + 1
	c.logger.Warn("Switching model backend", "from", from, "to", to)
	if c.observer != nil {
		c.observer.ObserveFallback(from, to)
	}
	return true
}
