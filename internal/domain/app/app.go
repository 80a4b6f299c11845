// Package app defines the contract every visual app implements, the static
// metadata it declares, and the registry used to construct apps from a
// serializable Spec.
//
// Apps are never moved between execution contexts. The kernel only hands a
// Spec (kind + options) to the execution context, which builds the app there.
package app

import (
	"go.uber.org/zap"

	"github.com/andrewsiemer/matrix-os/internal/domain/ipc"
	"github.com/andrewsiemer/matrix-os/internal/shared/frame"
)

// Manifest is the static metadata of an app kind.
type Manifest struct {
	Name         string       `json:"name"`
	Version      string       `json:"version"`
	Author       string       `json:"author,omitempty"`
	Description  string       `json:"description,omitempty"`
	Framerate    int          `json:"framerate"`
	Capabilities Capabilities `json:"-"`
}

// App is a single visual app. Update mutates state once per tick and Render
// returns the frame to display, or nil to skip this tick.
type App interface {
	Update() error
	Render() (*frame.Frame, error)
}

// Starter is implemented by apps that need initialization inside their
// execution context.
type Starter interface {
	OnStart() error
}

// Stopper is implemented by apps that release resources on stop.
type Stopper interface {
	OnStop()
}

// Port is the app's side of its channel to the kernel. Sends never block.
type Port interface {
	AppID() string
	Send(t ipc.MessageType, payload any) bool
}

// Env carries everything an app is constructed with.
type Env struct {
	AppID        string
	Frame        *frame.Frame // private draw buffer, sized to the output sink
	Port         Port
	Capabilities Capabilities
	Logger       *zap.Logger
}

// Width is the display width in pixels
func (e Env) Width() int { return e.Frame.Width() }

// Height is the display height in pixels
func (e Env) Height() int { return e.Frame.Height() }
