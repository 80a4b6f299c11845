package sandbox

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// threadContext runs the lifecycle loop in a goroutine.
type threadContext struct {
	appID  string
	run    func() error
	logger *zap.Logger

	mu    sync.Mutex
	state State
	err   error
	done  chan struct{}
}

func newThreadContext(appID string, run func() error, logger *zap.Logger) *threadContext {
	return &threadContext{
		appID:  appID,
		run:    run,
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (t *threadContext) AppID() string { return t.appID }

func (t *threadContext) Mode() Mode { return ModeThread }

func (t *threadContext) Done() <-chan struct{} { return t.done }

func (t *threadContext) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *threadContext) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *threadContext) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateCreated {
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, t.appID)
	}
	t.state = StateRunning

	go func() {
		t.finish(t.safeRun())
	}()
	return nil
}

func (t *threadContext) safeRun() (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("lifecycle loop panicked: %v", p)
		}
	}()
	return t.run()
}

func (t *threadContext) finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.err = err
	switch {
	case t.state == StateAbandoned:
		// stays abandoned; the kernel has already moved on
	case err != nil:
		t.state = StateFailed
	default:
		t.state = StateStopped
	}
	close(t.done)
}

// Stop waits up to grace for the loop to return. There is no way to
// terminate a goroutine, so on timeout the context is abandoned.
func (t *threadContext) Stop(grace time.Duration) error {
	t.mu.Lock()
	switch t.state {
	case StateCreated:
		t.state = StateStopped
		close(t.done)
		t.mu.Unlock()
		return nil
	case StateRunning:
		t.state = StateStopping
	case StateAbandoned:
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAbandoned, t.appID)
	}
	t.mu.Unlock()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-t.done:
		return nil
	case <-timer.C:
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.done:
		return nil
	default:
	}
	t.state = StateAbandoned
	t.logger.Warn("Thread context did not stop within grace period, abandoning",
		zap.String("app_id", t.appID),
		zap.Duration("grace", grace),
	)
	return fmt.Errorf("%w: %s", ErrAbandoned, t.appID)
}
