package kernel

import (
	"time"

	"github.com/andrewsiemer/matrix-os/internal/domain/app"
	"github.com/andrewsiemer/matrix-os/internal/domain/sandbox"
)

// Placement is how a registered app is scheduled.
type Placement struct {
	Priority   int           `json:"priority"`
	Duration   time.Duration `json:"duration"`
	Overlay    bool          `json:"overlay"`
	Persistent bool          `json:"persistent"`
}

// Status is the kernel's view of an app
type Status int

const (
	StatusRegistered Status = iota
	StatusReady
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusRegistered:
		return "registered"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// AppRecord is one registered app. Its identity fields never change; the
// rest is guarded by the kernel lock.
type AppRecord struct {
	ID           string
	Spec         app.Spec
	Manifest     app.Manifest
	Capabilities app.Capabilities
	Mode         sandbox.Mode
	Placement    Placement
	RegisteredAt time.Time

	status    Status
	paused    bool
	lastError string
	frames    uint64
	errors    uint64
}

// AppInfo is a snapshot of an app for callers outside the kernel.
type AppInfo struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Name         string    `json:"name"`
	Version      string    `json:"version"`
	Framerate    int       `json:"framerate"`
	Capabilities []string  `json:"capabilities"`
	Mode         string    `json:"mode"`
	Status       string    `json:"status"`
	Sandbox      string    `json:"sandbox"`
	Placement    Placement `json:"placement"`
	Current      bool      `json:"current"`
	Paused       bool      `json:"paused"`
	LastError    string    `json:"last_error,omitempty"`
	Frames       uint64    `json:"frames"`
	Errors       uint64    `json:"errors"`
	RegisteredAt time.Time `json:"registered_at"`
}

func (r *AppRecord) info() AppInfo {
	return AppInfo{
		ID:           r.ID,
		Kind:         r.Spec.Kind,
		Name:         r.Manifest.Name,
		Version:      r.Manifest.Version,
		Framerate:    r.Manifest.Framerate,
		Capabilities: r.Capabilities.Names(),
		Mode:         r.Mode.String(),
		Status:       r.status.String(),
		Placement:    r.Placement,
		Paused:       r.paused,
		LastError:    r.lastError,
		Frames:       r.frames,
		Errors:       r.errors,
		RegisteredAt: r.RegisteredAt,
	}
}

// RegistryEventType distinguishes registry changes
type RegistryEventType string

const (
	AppRegistered   RegistryEventType = "registered"
	AppUnregistered RegistryEventType = "unregistered"
	AppFailed       RegistryEventType = "failed"
)

// RegistryEvent is passed to registry observers
type RegistryEvent struct {
	Type  RegistryEventType `json:"type"`
	AppID string            `json:"app_id"`
}
