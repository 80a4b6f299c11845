package sandbox

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/andrewsiemer/matrix-os/internal/domain/app"
	"github.com/andrewsiemer/matrix-os/internal/domain/ipc"
	"github.com/andrewsiemer/matrix-os/internal/infrastructure/wire"
	"github.com/andrewsiemer/matrix-os/internal/shared/frame"
)

const hostQueueDepth = 32

// ServeHost is the app host side of a process context. It reads the
// handshake from in, builds the app fresh in this process, and runs the
// lifecycle loop with messages encoded onto out. It returns when the app
// stops, when in is closed, or when the app fails to start.
func ServeHost(in io.Reader, out io.Writer, registry *app.Registry, newLogger func(level string) *zap.Logger) error {
	dec := wire.NewDecoder(in)
	defer dec.Close()
	enc := wire.NewEncoder(out)
	defer enc.Close()

	hs, err := dec.ReadHandshake()
	if err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}
	caps, err := hs.Caps()
	if err != nil {
		return fmt.Errorf("handshake capabilities: %w", err)
	}

	logger := zap.NewNop()
	if newLogger != nil {
		logger = newLogger(hs.LogLevel)
	}

	ep := newHostEndpoint(hs.AppID, hs.Width, hs.Height, enc, logger.With(zap.String("app_id", hs.AppID)))
	go ep.pump(dec)

	manifest := app.Manifest{Framerate: hs.Framerate}
	if def, ok := registry.Lookup(hs.Spec.Kind); ok {
		manifest = def.Manifest
	}

	cfg := LoopConfig{
		Unit: Unit{
			AppID:        hs.AppID,
			Spec:         hs.Spec,
			Manifest:     manifest,
			Capabilities: caps,
			Width:        hs.Width,
			Height:       hs.Height,
		},
		Interval: FrameInterval(hs.Framerate, 1, max(hs.Framerate, 1)),
	}

	logger.Info("App host serving", zap.String("app_id", hs.AppID), zap.String("kind", hs.Spec.Kind))
	return RunLoop(registry, cfg, ep, logger)
}

// hostEndpoint implements Endpoint over the wire codec
type hostEndpoint struct {
	appID  string
	width  int
	height int
	enc    *wire.Encoder
	inbox  chan ipc.Message
	done   chan struct{}
	logger *zap.Logger
}

func newHostEndpoint(appID string, width, height int, enc *wire.Encoder, logger *zap.Logger) *hostEndpoint {
	return &hostEndpoint{
		appID:  appID,
		width:  width,
		height: height,
		enc:    enc,
		inbox:  make(chan ipc.Message, hostQueueDepth),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// pump feeds decoded kernel messages into the inbox until the input closes
func (h *hostEndpoint) pump(dec *wire.Decoder) {
	defer close(h.done)
	for {
		msg, err := dec.Decode()
		if err != nil {
			if errors.Is(err, wire.ErrMalformed) {
				h.logger.Warn("Malformed message from kernel", zap.Error(err))
				continue
			}
			return
		}
		select {
		case h.inbox <- msg:
		default:
			h.logger.Warn("Host queue full, dropping message", zap.Stringer("type", msg.Type))
		}
	}
}

func (h *hostEndpoint) AppID() string { return h.appID }

func (h *hostEndpoint) Done() <-chan struct{} { return h.done }

func (h *hostEndpoint) Send(t ipc.MessageType, payload any) bool {
	if err := h.enc.Encode(ipc.NewMessage(t, h.appID, ipc.KernelID, payload)); err != nil {
		h.logger.Debug("Failed to send to kernel", zap.Stringer("type", t), zap.Error(err))
		return false
	}
	return true
}

// SubmitFrame encodes f directly; compression already copies the pixels.
// Frames that do not match the handshake size never leave the host.
func (h *hostEndpoint) SubmitFrame(f *frame.Frame) bool {
	if f == nil {
		return false
	}
	if f.Width() != h.width || f.Height() != h.height {
		h.logger.Error("Dropping frame with wrong dimensions",
			zap.Int("width", f.Width()),
			zap.Int("height", f.Height()),
			zap.Int("want_width", h.width),
			zap.Int("want_height", h.height),
		)
		return false
	}
	return h.Send(ipc.FrameReady, f)
}

func (h *hostEndpoint) ReportReady() bool {
	return h.Send(ipc.AppReady, nil)
}

func (h *hostEndpoint) ReportError(phase string, err error) bool {
	return h.Send(ipc.AppError, ipc.Fault{Phase: phase, Cause: err.Error()})
}

func (h *hostEndpoint) ReceiveTimeout(timeout time.Duration) (ipc.Message, bool) {
	select {
	case msg := <-h.inbox:
		return msg, true
	default:
	}
	if timeout <= 0 {
		return ipc.Message{}, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-h.inbox:
		return msg, true
	case <-h.done:
		return ipc.Message{}, false
	case <-timer.C:
		return ipc.Message{}, false
	}
}
