package ipc

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/andrewsiemer/matrix-os/internal/shared/frame"
)

// Channel binds one app to the bus: an outbound path into the kernel's
// shared inbound queue and a private queue of messages from the kernel.
// A Channel lives exactly as long as its app's record.
type Channel struct {
	appID  string
	toBus  chan<- Message
	inbox  chan Message
	closed atomic.Bool
	done   chan struct{}
	onDrop func(Message)

	logger *zap.Logger
}

// AppID returns the app this channel is bound to
func (c *Channel) AppID() string { return c.appID }

// Done is closed when the channel is removed from the bus
func (c *Channel) Done() <-chan struct{} { return c.done }

// Closed reports whether the channel has been removed
func (c *Channel) Closed() bool { return c.closed.Load() }

// Send queues a message from the app to the kernel without blocking. The
// source is always the channel's app id. A full queue drops the message
// and logs one warning.
func (c *Channel) Send(t MessageType, payload any) bool {
	return c.Forward(NewMessage(t, c.appID, KernelID, payload))
}

// Forward queues a prebuilt message, re-stamping its source with this
// channel's app id so an app can never speak for another.
func (c *Channel) Forward(msg Message) bool {
	if c.closed.Load() {
		return false
	}
	msg.Source = c.appID
	if msg.Target == "" {
		msg.Target = KernelID
	}

	select {
	case c.toBus <- msg:
		return true
	default:
		c.logger.Warn("Kernel queue full, dropping message",
			zap.String("app_id", c.appID),
			zap.Stringer("type", msg.Type),
		)
		if c.onDrop != nil {
			c.onDrop(msg)
		}
		return false
	}
}

// SubmitFrame sends a private copy of f to the kernel
func (c *Channel) SubmitFrame(f *frame.Frame) bool {
	if f == nil {
		return false
	}
	return c.Send(FrameReady, f.Clone())
}

// ReportReady tells the kernel the app finished starting
func (c *Channel) ReportReady() bool {
	return c.Send(AppReady, nil)
}

// ReportError sends a Fault to the kernel
func (c *Channel) ReportError(phase string, err error) bool {
	return c.Send(AppError, Fault{Phase: phase, Cause: err.Error()})
}

// Receive returns the next message from the kernel without blocking
func (c *Channel) Receive() (Message, bool) {
	select {
	case msg := <-c.inbox:
		return msg, true
	default:
		return Message{}, false
	}
}

// ReceiveTimeout waits at most timeout for a message from the kernel
func (c *Channel) ReceiveTimeout(timeout time.Duration) (Message, bool) {
	if timeout <= 0 {
		return c.Receive()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-c.inbox:
		return msg, true
	case <-c.done:
		return c.Receive()
	case <-timer.C:
		return Message{}, false
	}
}

// deliver queues a kernel message for the app without blocking
func (c *Channel) deliver(msg Message) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.inbox <- msg:
		return true
	default:
		return false
	}
}

func (c *Channel) close() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.done)
	}
}
