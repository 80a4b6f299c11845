package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling fn while the breaker is open,
// or while it is half-open and the trial call has not come back yet.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State of a Breaker
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

// Settings for New. Zero fields take defaults.
type Settings struct {
	Threshold     int           // consecutive failures that open the breaker, default 5
	Cooldown      time.Duration // time spent open before one trial call, default 30s
	OnStateChange func(name string, from, to State)
	Now           func() time.Time
}

// Breaker fails calls fast once an endpoint keeps failing, then lets a
// single trial call through after a cooldown to see if it recovered.
type Breaker struct {
	name     string
	settings Settings

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool   // half-open call in flight
	epoch    uint64 // bumped on every transition
}

// New creates a closed breaker
func New(name string, settings Settings) *Breaker {
	if settings.Threshold <= 0 {
		settings.Threshold = 5
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 30 * time.Second
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}
	return &Breaker{name: name, settings: settings}
}

func (b *Breaker) Name() string { return b.name }

// State reports the state, moving open to half-open once the cooldown is over
func (b *Breaker) State() State {
	b.mu.Lock()
	changed := b.cool()
	state := b.state
	b.mu.Unlock()

	b.notify(changed)
	return state
}

// Failures is the current run of consecutive failures
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Do calls fn unless the breaker is open. A panic in fn counts as a
// failure and is re-raised.
func (b *Breaker) Do(fn func() error) error {
	epoch, err := b.admit()
	if err != nil {
		return err
	}

	ok := false
	defer func() { b.done(epoch, ok) }()

	err = fn()
	ok = err == nil
	return err
}

// Execute is Do for functions that return a value
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var result T
	err := b.Do(func() error {
		var err error
		result, err = fn()
		return err
	})
	return result, err
}

type transition struct{ from, to State }

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	changed := b.cool()
	var err error
	switch {
	case b.state == StateOpen:
		err = ErrCircuitOpen
	case b.state == StateHalfOpen && b.trial:
		err = ErrCircuitOpen
	case b.state == StateHalfOpen:
		b.trial = true
	}
	epoch := b.epoch
	b.mu.Unlock()

	b.notify(changed)
	return epoch, err
}

func (b *Breaker) done(epoch uint64, ok bool) {
	b.mu.Lock()
	var changed []transition
	// results from before the last transition no longer count
	if epoch == b.epoch {
		switch {
		case ok:
			b.failures = 0
			if b.state == StateHalfOpen {
				changed = b.set(StateClosed)
			}
		case b.state == StateHalfOpen:
			changed = b.set(StateOpen)
		default:
			b.failures++
			if b.failures >= b.settings.Threshold {
				changed = b.set(StateOpen)
			}
		}
	}
	b.mu.Unlock()

	b.notify(changed)
}

// cool moves an open breaker to half-open after the cooldown. Caller holds mu.
func (b *Breaker) cool() []transition {
	if b.state == StateOpen && !b.settings.Now().Before(b.openedAt.Add(b.settings.Cooldown)) {
		return b.set(StateHalfOpen)
	}
	return nil
}

// set changes state. Caller holds mu.
func (b *Breaker) set(to State) []transition {
	from := b.state
	b.state = to
	b.epoch++
	b.trial = false
	if to == StateOpen {
		b.openedAt = b.settings.Now()
	}
	if to == StateClosed {
		b.failures = 0
	}
	return []transition{{from, to}}
}

// notify runs the callback outside the lock
func (b *Breaker) notify(changed []transition) {
	if b.settings.OnStateChange == nil {
		return
	}
	for _, t := range changed {
		b.settings.OnStateChange(b.name, t.from, t.to)
	}
}
