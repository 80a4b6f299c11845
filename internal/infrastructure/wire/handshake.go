package wire

import (
	"github.com/andrewsiemer/matrix-os/internal/domain/app"
)

// Handshake is the first line the kernel writes to an app host. It carries
// everything the host needs to construct the app in its own address space.
type Handshake struct {
	AppID        string   `json:"app_id"`
	Spec         app.Spec `json:"spec"`
	Width        int      `json:"width"`
	Height       int      `json:"height"`
	Capabilities []string `json:"capabilities,omitempty"`
	Framerate    int      `json:"framerate"`
	LogLevel     string   `json:"log_level,omitempty"`
}

// Caps parses the capability names back into a set
func (h Handshake) Caps() (app.Capabilities, error) {
	return app.ParseCapabilities(h.Capabilities)
}
