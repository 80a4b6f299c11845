package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRefused = errors.New("connection refused")

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newBreaker(clock *fakeClock, threshold int) *Breaker {
	return New("status", Settings{
		Threshold: threshold,
		Cooldown:  10 * time.Second,
		Now:       clock.Now,
	})
}

func call(b *Breaker, ok bool) error {
	return b.Do(func() error {
		if ok {
			return nil
		}
		return errRefused
	})
}

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		calls         []bool // true = success, false = failure
		advance       time.Duration
		expectedState State
	}{
		{"stays closed on successes", []bool{true, true, true}, 0, StateClosed},
		{"opens after consecutive failures", []bool{false, false, false}, 0, StateOpen},
		{"success resets the failure streak", []bool{false, false, true, false, false}, 0, StateClosed},
		{"still open inside cooldown", []bool{false, false, false}, 9 * time.Second, StateOpen},
		{"half-open after cooldown", []bool{false, false, false}, 10 * time.Second, StateHalfOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
			b := newBreaker(clock, 3)

			for _, ok := range tt.calls {
				_ = call(b, ok)
			}
			clock.Advance(tt.advance)
			assert.Equal(t, tt.expectedState, b.State())
		})
	}
}

func TestBreakerFailures(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := newBreaker(clock, 10)

	_ = call(b, false)
	_ = call(b, false)
	assert.Equal(t, 2, b.Failures())

	_ = call(b, true)
	assert.Zero(t, b.Failures())
}

func TestBreakerOpenFailsFast(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := newBreaker(clock, 2)
	_ = call(b, false)
	_ = call(b, false)
	require.Equal(t, StateOpen, b.State())

	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerHalfOpen(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := newBreaker(clock, 1)

	_ = call(b, false)
	clock.Advance(10 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	// a failed trial reopens and restarts the cooldown
	assert.ErrorIs(t, call(b, false), errRefused)
	assert.Equal(t, StateOpen, b.State())
	clock.Advance(5 * time.Second)
	assert.Equal(t, StateOpen, b.State())
	clock.Advance(5 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	// one trial at a time
	err := b.Do(func() error {
		assert.ErrorIs(t, call(b, true), ErrCircuitOpen)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerIgnoresStaleResults(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := newBreaker(clock, 1)

	// a slow call started while closed comes back after another call opened
	// the breaker; its success must not close it again
	err := b.Do(func() error {
		_ = call(b, false)
		require.Equal(t, StateOpen, b.State())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := newBreaker(clock, 1)

	assert.PanicsWithValue(t, "boom", func() {
		_ = b.Do(func() error { panic("boom") })
	})
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerCallbacks(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var (
		transitions []string
		b           *Breaker
	)
	b = New("status", Settings{
		Threshold: 1,
		Cooldown:  time.Second,
		OnStateChange: func(name string, from, to State) {
			// runs outside the lock
			_ = b.Failures()
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
		Now: clock.Now,
	})

	_ = call(b, false)
	clock.Advance(2 * time.Second)
	_ = call(b, true)

	assert.Equal(t, []string{
		"status:closed->open",
		"status:open->half-open",
		"status:half-open->closed",
	}, transitions)
}

func TestExecute(t *testing.T) {
	b := New("status", Settings{})

	code, err := Execute(b, func() (int, error) { return 204, nil })
	require.NoError(t, err)
	assert.Equal(t, 204, code)

	_, err = Execute(b, func() (string, error) { return "", errRefused })
	assert.ErrorIs(t, err, errRefused)
	assert.Equal(t, "status", b.Name())
}
