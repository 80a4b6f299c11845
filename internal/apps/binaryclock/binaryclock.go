// Package binaryclock shows the seconds since midnight or noon as sixteen
// colored squares, most significant bit first.
package binaryclock

import (
	"fmt"
	"math/rand/v2"
	"time"
	_ "time/tzdata"

	"github.com/andrewsiemer/matrix-os/internal/domain/app"
	"github.com/andrewsiemer/matrix-os/internal/shared/frame"
)

// Kind is the registry kind of this app
const Kind = "binary-clock"

const (
	bits    = 16
	columns = 4
)

// Options configures the clock
type Options struct {
	Timezone string `json:"timezone"`
}

func (o *Options) SetDefaults() {
	o.Timezone = "America/Los_Angeles"
}

func (o *Options) Validate() error {
	if _, err := time.LoadLocation(o.Timezone); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	return nil
}

var manifest = app.Manifest{
	Name:         "Binary Clock",
	Version:      "1.0.0",
	Description:  "Binary representation of time",
	Framerate:    1,
	Capabilities: app.NewCapabilities(app.CapSystemInfo),
}

// Definition registers the app
func Definition() app.Definition {
	return app.Define(Kind, manifest, New)
}

// App is the binary clock
type App struct {
	fb  *frame.Frame
	loc *time.Location
	now func() time.Time
	rng *rand.Rand

	seconds int
	// square layout, derived from the display size
	size, pitch, originX, originY int
}

// New creates the app
func New(env app.Env, opts Options) (app.App, error) {
	loc, err := time.LoadLocation(opts.Timezone)
	if err != nil {
		return nil, err
	}

	rows := bits / columns
	pitch := max(min(env.Width()/columns, env.Height()/rows), 2)
	return &App{
		fb:      env.Frame,
		loc:     loc,
		now:     time.Now,
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 7)),
		size:    pitch - 2,
		pitch:   pitch,
		originX: (env.Width()-columns*pitch)/2 + 1,
		originY: (env.Height()-rows*pitch)/2 + 1,
	}, nil
}

// halfDaySeconds returns seconds since the last midnight or noon
func halfDaySeconds(t time.Time) int {
	return (t.Hour()%12)*3600 + t.Minute()*60 + t.Second()
}

func (a *App) Update() error {
	a.seconds = halfDaySeconds(a.now().In(a.loc))
	return nil
}

func (a *App) Render() (*frame.Frame, error) {
	a.fb.Clear(frame.Black)
	for i := 0; i < bits; i++ {
		if a.seconds&(1<<(bits-1-i)) == 0 {
			continue
		}
		x := a.originX + (i%columns)*a.pitch
		y := a.originY + (i/columns)*a.pitch
		a.fb.FillRect(x, y, a.size, a.size, a.randomColor())
	}
	return a.fb, nil
}

func (a *App) randomColor() frame.Color {
	return frame.Color{
		R: uint8(50 + a.rng.IntN(206)),
		G: uint8(50 + a.rng.IntN(206)),
		B: uint8(50 + a.rng.IntN(206)),
	}
}
