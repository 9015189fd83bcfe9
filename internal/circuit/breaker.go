// Package circuit implements a circuit breaker guarding a remote storage
// endpoint. After enough consecutive endpoint failures the breaker opens and
// calls fail fast instead of waiting out timeouts; after a cooldown a single
// trial call probes whether the endpoint recovered.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/arraystore/arraystore/pkg/errors"
)

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the state's canonical name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config represents breaker configuration.
type Config struct {
	// FailureThreshold is the number of consecutive endpoint failures that
	// opens the breaker.
	FailureThreshold int `yaml:"failure_threshold"`

	// Cooldown is how long the breaker stays open before a trial call.
	Cooldown time.Duration `yaml:"cooldown"`

	// IsEndpointFailure classifies an error as an endpoint failure. Errors it
	// rejects (missing objects, bad arguments) never trip the breaker.
	IsEndpointFailure func(err error) bool `yaml:"-"`
}

// Breaker tracks the health of one endpoint.
type Breaker struct {
	name string
	cfg  Config

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a breaker for the named endpoint.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.IsEndpointFailure == nil {
		cfg.IsEndpointFailure = func(err error) bool { return err != nil }
	}
	return &Breaker{name: name, cfg: cfg}
}

// Do runs fn if the breaker admits the call. While open it fails fast with
// CONNECTION_FAILED; the half-open state admits one trial call at a time.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.observe(err)
	return err
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current()
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.current() {
	case StateOpen:
		return errors.Newf(errors.ErrCodeConnectionFailed,
			"endpoint %q is unavailable, circuit breaker is open", b.name)
	case StateHalfOpen:
		if b.probing {
			return errors.Newf(errors.ErrCodeConnectionFailed,
				"endpoint %q has a recovery probe in flight", b.name)
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) observe(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	probe := b.probing
	b.probing = false

	if err == nil || !b.cfg.IsEndpointFailure(err) {
		b.state = StateClosed
		b.failures = 0
		return
	}

	if probe {
		// The trial call failed; start another cooldown.
		b.state = StateOpen
		b.openedAt = time.Now()
		return
	}

	b.failures++
	if b.failures >= b.cfg.FailureThreshold {
		b.state = StateOpen
		b.openedAt = time.Now()
	}
}

// current resolves the open-to-half-open transition. Must be called with the
// lock held.
func (b *Breaker) current() State {
	if b.state == StateOpen && time.Since(b.openedAt) >= b.cfg.Cooldown {
		b.state = StateHalfOpen
	}
	return b.state
}
