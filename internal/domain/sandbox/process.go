package sandbox

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/andrewsiemer/matrix-os/internal/domain/ipc"
	"github.com/andrewsiemer/matrix-os/internal/infrastructure/wire"
	"github.com/andrewsiemer/matrix-os/internal/shared/frame"
)

// inputPoll bounds how long the stdin bridge waits before rechecking
// whether the context is gone.
const inputPoll = 50 * time.Millisecond

// Command is how the kernel launches an app host process.
type Command struct {
	Path string
	Args []string
	Env  []string // added to the kernel's environment
}

// DefaultCommand re-executes the running binary as an app host
func DefaultCommand() Command {
	path, err := os.Executable()
	if err != nil {
		path = os.Args[0]
	}
	return Command{Path: path, Args: []string{"app-host"}}
}

// processContext runs the lifecycle loop in an app host process. The only
// things crossing the boundary are the handshake, wire-encoded control
// messages on stdin, and wire-encoded messages and frames on stdout.
type processContext struct {
	unit      Unit
	command   Command
	framerate int
	logLevel  string
	killWait  time.Duration
	ch        *ipc.Channel
	logger    *zap.Logger

	mu    sync.Mutex
	state State
	err   error
	cmd   *exec.Cmd
	done  chan struct{}
}

func newProcessContext(unit Unit, ch *ipc.Channel, cfg Config, logger *zap.Logger) *processContext {
	return &processContext{
		unit:      unit,
		command:   cfg.Host,
		framerate: ClampFramerate(unit.Manifest.Framerate, cfg.MinFramerate, cfg.MaxFramerate),
		logLevel:  cfg.HostLogLevel,
		killWait:  cfg.KillWait,
		ch:        ch,
		logger:    logger.With(zap.String("app_id", unit.AppID)),
		done:      make(chan struct{}),
	}
}

func (p *processContext) AppID() string { return p.unit.AppID }

func (p *processContext) Mode() Mode { return ModeProcess }

func (p *processContext) Done() <-chan struct{} { return p.done }

func (p *processContext) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *processContext) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Pid returns the host process id, or 0 before start
func (p *processContext) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *processContext) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateCreated {
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, p.unit.AppID)
	}

	cmd := exec.Command(p.command.Path, p.command.Args...)
	cmd.Env = append(os.Environ(), p.command.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return p.failStart(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return p.failStart(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return p.failStart(err)
	}
	if err := cmd.Start(); err != nil {
		return p.failStart(err)
	}
	p.cmd = cmd

	enc := wire.NewEncoder(stdin)
	handshake := wire.Handshake{
		AppID:        p.unit.AppID,
		Spec:         p.unit.Spec,
		Width:        p.unit.Width,
		Height:       p.unit.Height,
		Capabilities: p.unit.Capabilities.Names(),
		Framerate:    p.framerate,
		LogLevel:     p.logLevel,
	}
	if err := enc.WriteHandshake(handshake); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return p.failStart(fmt.Errorf("handshake: %w", err))
	}

	p.state = StateRunning
	p.logger.Info("App host started", zap.Int("pid", cmd.Process.Pid))

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		p.readOutput(stdout)
	}()
	go func() {
		defer readers.Done()
		p.readLogs(stderr)
	}()
	go p.writeInput(enc, stdin)
	go p.wait(&readers)

	return nil
}

func (p *processContext) failStart(err error) error {
	p.state = StateFailed
	p.err = err
	close(p.done)
	return fmt.Errorf("start app host for %s: %w", p.unit.AppID, err)
}

// readOutput forwards host messages into the kernel queue. Sources are
// re-stamped by the channel and frames must match the sink size.
func (p *processContext) readOutput(r io.Reader) {
	dec := wire.NewDecoder(r)
	defer dec.Close()

	for {
		msg, err := dec.Decode()
		if err != nil {
			if errors.Is(err, wire.ErrMalformed) {
				p.logger.Warn("Malformed message from app host", zap.Error(err))
				continue
			}
			if !errors.Is(err, io.EOF) {
				p.logger.Debug("App host output closed", zap.Error(err))
			}
			return
		}

		if msg.Type == ipc.FrameReady && !p.fits(msg.Payload) {
			continue
		}
		msg.Target = ipc.KernelID
		p.ch.Forward(msg)
	}
}

func (p *processContext) fits(payload any) bool {
	f, ok := payload.(*frame.Frame)
	if !ok {
		p.logger.Error("Dropping frame-ready message without a frame")
		return false
	}
	if f.Width() != p.unit.Width || f.Height() != p.unit.Height {
		p.logger.Error("Dropping frame with wrong dimensions",
			zap.Int("width", f.Width()),
			zap.Int("height", f.Height()),
			zap.Int("want_width", p.unit.Width),
			zap.Int("want_height", p.unit.Height),
		)
		return false
	}
	return true
}

// readLogs forwards every stderr line of the host into the kernel logger
func (p *processContext) readLogs(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		p.logger.Info("App host", zap.String("output", sc.Text()))
	}
}

// writeInput bridges kernel messages for the app onto the host's stdin.
// Closing stdin when the channel is removed lets the host exit on its own.
func (p *processContext) writeInput(enc *wire.Encoder, stdin io.WriteCloser) {
	defer enc.Close()
	defer stdin.Close()

	for {
		select {
		case <-p.done:
			return
		default:
		}
		if p.ch.Closed() {
			return
		}

		msg, ok := p.ch.ReceiveTimeout(inputPoll)
		if !ok {
			continue
		}
		if err := enc.Encode(msg); err != nil {
			p.logger.Debug("App host input closed", zap.Error(err))
			return
		}
	}
}

func (p *processContext) wait(readers *sync.WaitGroup) {
	// all pipe reads must finish before Wait
	readers.Wait()
	err := p.cmd.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.err = err
	switch p.state {
	case StateKilled:
	case StateStopping:
		p.state = StateStopped
	default:
		p.state = StateFailed
		if err == nil {
			err = errors.New("exited without a stop request")
		}
		p.logger.Error("App host exited unexpectedly", zap.Error(err))
		p.ch.Forward(ipc.NewMessage(ipc.AppError, p.unit.AppID, ipc.KernelID,
			ipc.Fault{Phase: ipc.PhaseHost, Cause: err.Error()}))
	}
	close(p.done)
}

// Stop waits up to grace for the host to exit, then kills it and waits up
// to the kill timeout.
func (p *processContext) Stop(grace time.Duration) error {
	p.mu.Lock()
	switch p.state {
	case StateCreated:
		p.state = StateStopped
		close(p.done)
		p.mu.Unlock()
		return nil
	case StateRunning:
		p.state = StateStopping
	}
	p.mu.Unlock()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-timer.C:
	}

	p.kill()

	killTimer := time.NewTimer(p.killWait)
	defer killTimer.Stop()

	select {
	case <-p.done:
		return nil
	case <-killTimer.C:
		return fmt.Errorf("%w: %s", ErrKillTimeout, p.unit.AppID)
	}
}

func (p *processContext) kill() {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.done:
		return
	default:
	}

	p.state = StateKilled
	p.logger.Warn("App host did not stop within grace period, killing",
		zap.Int("pid", p.cmd.Process.Pid))
	if err := p.cmd.Process.Kill(); err != nil {
		p.logger.Warn("Failed to kill app host", zap.Error(err))
	}
}
