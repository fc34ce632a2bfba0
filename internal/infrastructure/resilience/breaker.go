package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("circuit breaker is probing, too many requests")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config controls when a breaker trips and how it recovers
type Config struct {
	// FailureThreshold consecutive failures open the breaker
	FailureThreshold int
	// Cooldown is how long the breaker stays open before probing
	Cooldown time.Duration
	// Probes is the number of successful half-open calls needed to close
	Probes int
	// ResetInterval clears failure counts while closed; zero disables it
	ResetInterval time.Duration
	// IsFailure classifies errors; context cancellation never counts by default
	IsFailure func(error) bool
	Logger    *zap.Logger
}

// DefaultConfig is used for outbound calls to integrations
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		Probes:           1,
		ResetInterval:    time.Minute,
	}
}

// Stats is a snapshot of breaker counters
type Stats struct {
	State               State
	ConsecutiveFailures int
	TotalFailures       int
	TotalSuccesses      int
	Rejected            int
}

// Breaker guards calls to one remote dependency
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu       sync.Mutex
	state    State
	stats    Stats
	inFlight int
	openedAt time.Time
	resetAt  time.Time
	probesOK int
}

// New creates a breaker; zero config fields take DefaultConfig values
func New(name string, cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.Probes <= 0 {
		cfg.Probes = def.Probes
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool {
			return !errors.Is(err, context.Canceled)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	b := &Breaker{name: name, cfg: cfg, now: time.Now}
	b.resetAt = b.nextReset(b.now())
	return b
}

// Name returns the breaker name
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state, moving open to half-open after the cooldown
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance(b.now())
	return b.state
}

// Stats returns a copy of the counters
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance(b.now())
	s := b.stats
	s.State = b.state
	return s
}

// Do runs fn unless the breaker rejects the call
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}

	var err error
	defer func() {
		if r := recover(); r != nil {
			b.release(false)
			panic(r)
		}
		b.release(err == nil || !b.cfg.IsFailure(err))
	}()

	err = fn(ctx)
	return err
}

// Call runs fn through b and returns its value
func Call[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := b.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance(b.now())
	switch b.state {
	case StateOpen:
		b.stats.Rejected++
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.inFlight >= b.cfg.Probes {
			b.stats.Rejected++
			return ErrTooManyRequests
		}
	}
	b.inFlight++
	return nil
}

func (b *Breaker) release(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.inFlight--
	now := b.now()
	b.advance(now)

	if ok {
		b.stats.TotalSuccesses++
		b.stats.ConsecutiveFailures = 0
		if b.state == StateHalfOpen {
			b.probesOK++
			if b.probesOK >= b.cfg.Probes {
				b.transition(StateClosed, now)
			}
		}
		return
	}

	b.stats.TotalFailures++
	b.stats.ConsecutiveFailures++
	switch b.state {
	case StateHalfOpen:
		b.transition(StateOpen, now)
	case StateClosed:
		if b.stats.ConsecutiveFailures >= b.cfg.FailureThreshold {
			b.transition(StateOpen, now)
		}
	}
}

// advance applies time based transitions; caller holds mu
func (b *Breaker) advance(now time.Time) {
	switch b.state {
	case StateOpen:
		if now.Sub(b.openedAt) >= b.cfg.Cooldown {
			b.transition(StateHalfOpen, now)
		}
	case StateClosed:
		if !b.resetAt.IsZero() && now.After(b.resetAt) {
			b.stats.ConsecutiveFailures = 0
			b.resetAt = b.nextReset(now)
		}
	}
}

func (b *Breaker) transition(to State, now time.Time) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.probesOK = 0

	switch to {
	case StateOpen:
		b.openedAt = now
	case StateClosed:
		b.stats.ConsecutiveFailures = 0
		b.resetAt = b.nextReset(now)
	}

	b.cfg.Logger.Info("circuit breaker state changed",
		zap.String("breaker", b.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

func (b *Breaker) nextReset(now time.Time) time.Time {
	if b.cfg.ResetInterval <= 0 {
		return time.Time{}
	}
	return now.Add(b.cfg.ResetInterval)
}

// Group hands out one breaker per key, e.g. one per cluster
type Group struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGroup creates a keyed set of breakers sharing cfg
func NewGroup(cfg Config) *Group {
	return &Group{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for key, creating it on first use
func (g *Group) Get(key string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.breakers[key]
	if !ok {
		b = New(key, g.cfg)
		g.breakers[key] = b
	}
	return b
}
