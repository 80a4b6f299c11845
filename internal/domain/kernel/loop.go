package kernel

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/andrewsiemer/matrix-os/internal/domain/ipc"
	"github.com/andrewsiemer/matrix-os/internal/shared/frame"
)

// loop is the render loop. Each iteration drains a bounded batch of
// messages, ticks the scheduler and renders, then sleeps for whatever is
// left of the frame budget. An overrun skips the sleep; nothing queues up.
func (k *Kernel) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	budget := time.Second / time.Duration(k.cfg.TargetFPS)
	timer := time.NewTimer(budget)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		default:
		}

		start := time.Now()
		k.step()
		elapsed := time.Since(start)

		overrun := elapsed >= budget
		k.metrics.ObserveTick(elapsed, overrun)
		if overrun {
			continue
		}

		timer.Reset(budget - elapsed)
		select {
		case <-stop:
			return
		case <-timer.C:
		}
	}
}

// step is one render loop iteration
func (k *Kernel) step() {
	k.drain()

	appID, f, ok := k.scheduler.TickApp()
	if !ok {
		return
	}
	k.render(appID, f)
}

// drain routes at most MessageBatch inbound messages
func (k *Kernel) drain() {
	for i := 0; i < k.cfg.MessageBatch; i++ {
		msg, ok := k.bus.PollInbound(k.cfg.PollTimeout)
		if !ok {
			return
		}
		k.route(msg)
	}
}

func (k *Kernel) route(msg ipc.Message) {
	k.metrics.RecordMessageRouted(msg.Type.String())

	switch msg.Type {
	case ipc.FrameReady:
		k.frameReady(msg)
	case ipc.AppError:
		k.appError(msg)
	case ipc.AppReady:
		k.appReady(msg.Source)
	default:
		k.logger.Debug("Unhandled message", zap.Stringer("type", msg.Type), zap.String("app_id", msg.Source))
	}

	k.bus.Dispatch(msg)
}

func (k *Kernel) frameReady(msg ipc.Message) {
	f, ok := msg.Payload.(*frame.Frame)
	if !ok || f == nil {
		k.metrics.RecordFrameDropped("payload")
		k.logger.Warn("Dropping frame-ready message without a frame", zap.String("app_id", msg.Source))
		return
	}
	if f.Width() != k.width || f.Height() != k.height {
		k.metrics.RecordFrameDropped("size")
		k.logger.Warn("Dropping frame with wrong dimensions",
			zap.String("app_id", msg.Source),
			zap.Int("width", f.Width()),
			zap.Int("height", f.Height()),
		)
		return
	}

	k.mu.Lock()
	rec, ok := k.apps[msg.Source]
	if ok && rec.status != StatusFailed {
		rec.frames++
	} else {
		ok = false
	}
	k.mu.Unlock()

	if !ok {
		k.metrics.RecordFrameDropped("unknown_app")
		return
	}
	if k.scheduler.SubmitFrame(msg.Source, f) {
		k.metrics.RecordFrameSubmitted(msg.Source)
	}
}

func (k *Kernel) appError(msg ipc.Message) {
	fault, ok := msg.Payload.(ipc.Fault)
	if !ok {
		fault = ipc.Fault{Phase: ipc.PhaseUpdate, Cause: fmt.Sprint(msg.Payload)}
	}

	if fault.Fatal() {
		k.appFailed(msg.Source, fault)
		return
	}

	k.mu.Lock()
	rec, ok := k.apps[msg.Source]
	if ok {
		rec.errors++
		rec.lastError = fault.Error()
	}
	k.mu.Unlock()
	if !ok {
		return
	}

	k.metrics.RecordAppError(msg.Source, fault.Phase)
	k.logger.Error("App error",
		zap.String("app_id", msg.Source),
		zap.String("phase", fault.Phase),
		zap.String("cause", fault.Cause),
	)
}

// appFailed excludes an app from scheduling. It is reported once; later
// faults from the same app are ignored.
func (k *Kernel) appFailed(appID string, fault ipc.Fault) {
	k.mu.Lock()
	rec, ok := k.apps[appID]
	first := ok && rec.status != StatusFailed
	if first {
		rec.status = StatusFailed
		rec.errors++
		rec.lastError = fault.Error()
	}
	k.mu.Unlock()

	if !first {
		return
	}

	k.scheduler.RemoveApp(appID)
	k.metrics.RecordAppError(appID, fault.Phase)
	k.logger.Error("App failed, removed from scheduling",
		zap.String("app_id", appID),
		zap.String("phase", fault.Phase),
		zap.String("cause", fault.Cause),
	)
	k.notifyRegistry(RegistryEvent{Type: AppFailed, AppID: appID})
}

func (k *Kernel) appReady(appID string) {
	k.mu.Lock()
	rec, ok := k.apps[appID]
	if ok && rec.status == StatusRegistered {
		rec.status = StatusReady
	}
	k.mu.Unlock()

	if ok {
		k.logger.Info("App ready", zap.String("app_id", appID))
	}
}

// render hands f to the sink and then to frame observers. Neither a sink
// failure nor an observer panic escapes the render loop.
func (k *Kernel) render(appID string, f *frame.Frame) {
	if err := k.renderSink(f); err != nil {
		k.metrics.RecordFrameDropped("sink")
		k.logger.Warn("Output sink render failed", zap.String("app_id", appID), zap.Error(err))
		return
	}
	k.metrics.RecordFrameRendered()

	k.observersMu.RLock()
	observers := k.frameObservers
	k.observersMu.RUnlock()

	for _, fn := range observers {
		k.safely("frame observer", func() { fn(appID, f) })
	}
}

func (k *Kernel) renderSink(f *frame.Frame) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return k.sink.Render(f)
}
