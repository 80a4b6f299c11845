package ipc

import (
	"fmt"
	"time"
)

// Well-known endpoint ids.
const (
	KernelID    = "kernel"
	BroadcastID = "*"
)

// MessageType enumerates control and data message kinds.
type MessageType int

const (
	// Frame submission
	FrameReady MessageType = iota + 1
	FrameRequest

	// App lifecycle
	AppStart
	AppStop
	AppPause
	AppResume
	AppError
	AppReady

	// System events
	SystemShutdown
	SystemConfig

	// App requests
	RequestNetwork
	RequestFilesystem
	RequestCanvas

	// Responses
	ResponseOK
	ResponseError
	ResponseDenied
)

var messageTypeNames = map[MessageType]string{
	FrameReady:        "frame-ready",
	FrameRequest:      "frame-request",
	AppStart:          "app-start",
	AppStop:           "app-stop",
	AppPause:          "app-pause",
	AppResume:         "app-resume",
	AppError:          "app-error",
	AppReady:          "app-ready",
	SystemShutdown:    "system-shutdown",
	SystemConfig:      "system-config",
	RequestNetwork:    "request-network",
	RequestFilesystem: "request-filesystem",
	RequestCanvas:     "request-canvas",
	ResponseOK:        "response-ok",
	ResponseError:     "response-error",
	ResponseDenied:    "response-denied",
}

// String returns the wire name of the message type
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("message-type(%d)", int(t))
}

// ParseMessageType resolves a wire name
func ParseMessageType(name string) (MessageType, error) {
	for t, n := range messageTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown message type %q", name)
}

// IsControl reports whether t asks an app's lifecycle loop to change state
func (t MessageType) IsControl() bool {
	switch t {
	case AppStop, AppPause, AppResume, SystemShutdown:
		return true
	}
	return false
}

// Message is a routed IPC message. It is passed by value and treated as
// immutable once constructed; a *frame.Frame payload is always a private copy.
type Message struct {
	Type      MessageType
	Source    string
	Target    string
	Payload   any
	Timestamp time.Time
}

// NewMessage builds a message stamped with the current time
func NewMessage(t MessageType, source, target string, payload any) Message {
	return Message{
		Type:      t,
		Source:    source,
		Target:    target,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

func (m Message) String() string {
	return fmt.Sprintf("Message(%s, %s -> %s)", m.Type, m.Source, m.Target)
}

// Fault phases
const (
	PhaseStart  = "start"
	PhaseUpdate = "update"
	PhaseRender = "render"
	PhaseStop   = "stop"
	PhaseHost   = "host"
)

// Fault is the payload of an AppError message.
type Fault struct {
	Phase string `json:"phase"`
	Cause string `json:"cause"`
}

func (f Fault) Error() string {
	return f.Phase + ": " + f.Cause
}

// Fatal reports whether the fault ends the app's participation in scheduling
func (f Fault) Fatal() bool {
	return f.Phase == PhaseStart || f.Phase == PhaseHost
}
