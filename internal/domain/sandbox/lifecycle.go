package sandbox

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/andrewsiemer/matrix-os/internal/domain/app"
	"github.com/andrewsiemer/matrix-os/internal/domain/ipc"
	"github.com/andrewsiemer/matrix-os/internal/shared/frame"
)

// DefaultIdle is how long a paused loop waits for a control message
// before checking again.
const DefaultIdle = 10 * time.Millisecond

// Endpoint is the app side of a channel to the kernel. *ipc.Channel
// implements it for thread contexts; the app host implements it over the
// wire codec.
type Endpoint interface {
	app.Port
	SubmitFrame(f *frame.Frame) bool
	ReportReady() bool
	ReportError(phase string, err error) bool
	ReceiveTimeout(timeout time.Duration) (ipc.Message, bool)
	Done() <-chan struct{}
}

// LoopConfig parameterizes one app's lifecycle loop.
type LoopConfig struct {
	Unit     Unit
	Interval time.Duration
	Idle     time.Duration
}

// loop runs one app inside its execution context: build, start, then
// update/render at the frame interval until told to stop.
type loop struct {
	cfg      LoopConfig
	registry *app.Registry
	ep       Endpoint
	logger   *zap.Logger

	app    app.App
	paused bool
	next   time.Time
}

// RunLoop builds the app described by cfg.Unit and drives it until a stop
// or shutdown message arrives or the endpoint closes. It returns an error
// only when the app could not be built or started.
func RunLoop(registry *app.Registry, cfg LoopConfig, ep Endpoint, logger *zap.Logger) error {
	if cfg.Idle <= 0 {
		cfg.Idle = DefaultIdle
	}
	if cfg.Interval <= 0 {
		cfg.Interval = FrameInterval(cfg.Unit.Manifest.Framerate, 1, 60)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &loop{
		cfg:      cfg,
		registry: registry,
		ep:       ep,
		logger:   logger.With(zap.String("app_id", cfg.Unit.AppID)),
	}
	return l.run()
}

func (l *loop) run() error {
	if err := l.start(); err != nil {
		l.logger.Error("App failed to start", zap.Error(err))
		l.ep.ReportError(ipc.PhaseStart, err)
		return err
	}
	defer l.stop()

	l.ep.ReportReady()
	l.next = time.Now()

	for {
		select {
		case <-l.ep.Done():
			return nil
		default:
		}

		wait := l.cfg.Idle
		if !l.paused {
			wait = max(time.Until(l.next), 0)
		}

		if msg, ok := l.ep.ReceiveTimeout(wait); ok {
			if l.handle(msg) {
				return nil
			}
			continue
		}

		if l.paused {
			continue
		}
		now := time.Now()
		if now.Before(l.next) {
			continue
		}
		// an overrun skips ticks rather than queueing them
		l.next = now.Add(l.cfg.Interval)
		l.tick()
	}
}

func (l *loop) start() (err error) {
	env := app.Env{
		AppID:        l.cfg.Unit.AppID,
		Frame:        frame.New(l.cfg.Unit.Width, l.cfg.Unit.Height),
		Port:         l.ep,
		Capabilities: l.cfg.Unit.Capabilities,
		Logger:       l.logger,
	}

	a, err := l.registry.Build(l.cfg.Unit.Spec, env)
	if err != nil {
		return err
	}
	l.app = a

	if s, ok := a.(app.Starter); ok {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic in OnStart: %v", p)
			}
		}()
		return s.OnStart()
	}
	return nil
}

// handle applies a control message and reports whether the loop must exit
func (l *loop) handle(msg ipc.Message) bool {
	switch msg.Type {
	case ipc.AppStop, ipc.SystemShutdown:
		l.logger.Debug("Stop requested", zap.Stringer("type", msg.Type))
		return true
	case ipc.AppPause:
		l.paused = true
	case ipc.AppResume:
		if l.paused {
			l.paused = false
			l.next = time.Now()
		}
	case ipc.FrameRequest:
		l.next = time.Now()
	default:
		l.logger.Debug("Ignoring message", zap.Stringer("type", msg.Type))
	}
	return false
}

// tick runs one update/render cycle. Failures are reported and the loop
// carries on with the next cycle.
func (l *loop) tick() {
	if err := l.guard(l.app.Update); err != nil {
		l.fail(ipc.PhaseUpdate, err)
		return
	}

	var f *frame.Frame
	err := l.guard(func() (err error) {
		f, err = l.app.Render()
		return err
	})
	if err != nil {
		l.fail(ipc.PhaseRender, err)
		return
	}
	if f != nil {
		l.ep.SubmitFrame(f)
	}
}

func (l *loop) fail(phase string, err error) {
	l.logger.Warn("App runtime error", zap.String("phase", phase), zap.Error(err))
	l.ep.ReportError(phase, err)
}

func (l *loop) guard(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}

func (l *loop) stop() {
	s, ok := l.app.(app.Stopper)
	if !ok {
		return
	}
	err := l.guard(func() error {
		s.OnStop()
		return nil
	})
	if err != nil {
		l.logger.Warn("App OnStop failed", zap.Error(err))
		l.ep.ReportError(ipc.PhaseStop, err)
	}
}
