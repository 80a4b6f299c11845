package sandbox

import (
	"errors"
	"time"

	"github.com/andrewsiemer/matrix-os/internal/domain/app"
)

var (
	ErrNotRegistered     = errors.New("app not registered with sandbox")
	ErrAlreadyRegistered = errors.New("app already registered with sandbox")
	ErrAlreadyStarted    = errors.New("execution context already started")
	// ErrAbandoned is returned when a thread context ignores the stop request
	// for the whole grace period. Goroutines cannot be killed; the context
	// keeps running detached from the kernel until it returns on its own.
	ErrAbandoned = errors.New("thread context abandoned after grace period")
	// ErrKillTimeout is returned when a killed process has not exited
	ErrKillTimeout = errors.New("process did not exit after kill")
)

// Mode is the isolation mechanism of an execution context.
type Mode int

const (
	// ModeThread runs the app in a goroutine sharing the kernel's memory
	ModeThread Mode = iota
	// ModeProcess runs the app in a separate app host process
	ModeProcess
)

func (m Mode) String() string {
	switch m {
	case ModeThread:
		return "thread"
	case ModeProcess:
		return "process"
	default:
		return "unknown"
	}
}

// ModeFor decides the isolation of an app from its declared capabilities.
// Capabilities with external side effects require a process.
func ModeFor(caps app.Capabilities) Mode {
	if caps.HasAny(app.CapNetwork, app.CapFilesystem) {
		return ModeProcess
	}
	return ModeThread
}

// State represents the lifecycle state of an execution context
type State int

const (
	// StateCreated - registered, not started
	StateCreated State = iota
	// StateRunning - lifecycle loop is executing
	StateRunning
	// StateStopping - stop requested, waiting for the grace period
	StateStopping
	// StateStopped - loop returned after a stop request
	StateStopped
	// StateFailed - loop returned on its own with an error
	StateFailed
	// StateAbandoned - thread ignored the stop request
	StateAbandoned
	// StateKilled - process was force-terminated
	StateKilled
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	case StateAbandoned:
		return "abandoned"
	case StateKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the context will not run again
func (s State) Terminal() bool {
	return s >= StateStopped
}

// Unit describes the app an execution context runs.
type Unit struct {
	AppID        string
	Spec         app.Spec
	Manifest     app.Manifest
	Capabilities app.Capabilities
	Width        int
	Height       int
}

// Info is a snapshot of one execution context
type Info struct {
	AppID string `json:"app_id"`
	Mode  Mode   `json:"-"`
	State State  `json:"-"`
	Err   error  `json:"-"`
}

// Context is one app's execution context. Stop expects the stop request to
// have been delivered over the app's channel already.
type Context interface {
	AppID() string
	Mode() Mode
	State() State
	Start() error
	Stop(grace time.Duration) error
	Done() <-chan struct{}
	Err() error
}

// ClampFramerate limits a manifest framerate to [lo, hi], with lo at least 1
func ClampFramerate(framerate, lo, hi int) int {
	lo = max(lo, 1)
	hi = max(hi, lo)
	return min(max(framerate, lo), hi)
}

// FrameInterval converts a manifest framerate into the loop's tick interval
func FrameInterval(framerate, lo, hi int) time.Duration {
	return time.Second / time.Duration(ClampFramerate(framerate, lo, hi))
}
