// Package testpattern draws color bars with a sweeping scan line, for
// checking panel wiring and color order.
package testpattern

import (
	"errors"

	"github.com/andrewsiemer/matrix-os/internal/domain/app"
	"github.com/andrewsiemer/matrix-os/internal/shared/frame"
)

// Kind is the registry kind of this app
const Kind = "test-pattern"

// Bars are drawn left to right
var Bars = []frame.Color{
	frame.White,
	{R: 255, G: 255},
	{G: 255, B: 255},
	frame.Green,
	{R: 255, B: 255},
	frame.Red,
	frame.Blue,
	frame.Black,
}

// Options configures the pattern
type Options struct {
	// Speed is how many pixels the scan line moves per frame
	Speed int `json:"speed"`
	// Border draws a one pixel white frame around the panel
	Border bool `json:"border"`
}

func (o *Options) SetDefaults() {
	o.Speed = 1
	o.Border = true
}

func (o *Options) Validate() error {
	if o.Speed < 0 {
		return errors.New("speed must not be negative")
	}
	return nil
}

var manifest = app.Manifest{
	Name:        "Test Pattern",
	Version:     "1.0.0",
	Description: "Color bars and scan line",
	Framerate:   30,
}

// Definition registers the app
func Definition() app.Definition {
	return app.Define(Kind, manifest, New)
}

// App is the test pattern
type App struct {
	fb   *frame.Frame
	opts Options
	scan int
}

// New creates the app
func New(env app.Env, opts Options) (app.App, error) {
	return &App{fb: env.Frame, opts: opts}, nil
}

func (a *App) Update() error {
	if h := a.fb.Height(); h > 0 {
		a.scan = (a.scan + a.opts.Speed) % h
	}
	return nil
}

func (a *App) Render() (*frame.Frame, error) {
	w, h := a.fb.Width(), a.fb.Height()
	a.fb.Clear(frame.Black)

	for i, c := range Bars {
		x0 := i * w / len(Bars)
		x1 := (i + 1) * w / len(Bars)
		a.fb.FillRect(x0, 0, x1-x0, h, c)
	}
	a.fb.DrawLine(0, a.scan, w-1, a.scan, frame.Color{R: 128, G: 128, B: 128})

	if a.opts.Border {
		a.fb.DrawLine(0, 0, w-1, 0, frame.White)
		a.fb.DrawLine(0, h-1, w-1, h-1, frame.White)
		a.fb.DrawLine(0, 0, 0, h-1, frame.White)
		a.fb.DrawLine(w-1, 0, w-1, h-1, frame.White)
	}
	return a.fb, nil
}
