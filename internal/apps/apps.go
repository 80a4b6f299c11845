// Package apps collects the built-in app kinds.
package apps

import (
	"github.com/andrewsiemer/matrix-os/internal/apps/binaryclock"
	"github.com/andrewsiemer/matrix-os/internal/apps/dvd"
	"github.com/andrewsiemer/matrix-os/internal/apps/httpstatus"
	"github.com/andrewsiemer/matrix-os/internal/apps/imageviewer"
	"github.com/andrewsiemer/matrix-os/internal/apps/script"
	"github.com/andrewsiemer/matrix-os/internal/apps/testpattern"
	"github.com/andrewsiemer/matrix-os/internal/domain/app"
	"github.com/andrewsiemer/matrix-os/internal/infrastructure/config"
)

// Definitions returns the definition of every built-in kind
func Definitions() []app.Definition {
	return []app.Definition{
		dvd.Definition(),
		binaryclock.Definition(),
		testpattern.Definition(),
		imageviewer.Definition(),
		httpstatus.Definition(),
		script.Definition(),
	}
}

// Builtin returns a registry holding every built-in kind. The kernel and
// app hosts must be built from the same registry contents.
func Builtin() *app.Registry {
	return app.NewRegistry(Definitions()...)
}

// DefaultRoster is used when no roster file is configured. It only uses
// kinds that need no options.
func DefaultRoster() *config.Roster {
	return &config.Roster{
		Apps: []config.RosterEntry{
			{Kind: dvd.Kind, Duration: "15s"},
			{Kind: binaryclock.Kind, Duration: "10s"},
			{Kind: testpattern.Kind, Duration: "5s"},
		},
	}
}
