// Package dvd is the bouncing DVD logo.
package dvd

import (
	"math/rand/v2"
	"time"

	"github.com/andrewsiemer/matrix-os/internal/domain/app"
	"github.com/andrewsiemer/matrix-os/internal/shared/frame"
)

// Kind is the registry kind of this app
const Kind = "dvd"

var logo = [...]string{
	"XXXXXX...XXXXX.",
	"..XX.X...X...XX",
	"X..X.XX.XX.X..X",
	"X.XX..X.X..X.XX",
	"XXX...XXX..XXX.",
	".......X.......",
	"..XXXXXXXXXXX..",
	"XXXXX.....XXXXX",
	"..XXXXXXXXXXX..",
}

// Options configures the animation
type Options struct {
	// Seed makes colors reproducible; 0 seeds from the clock
	Seed uint64 `json:"seed"`
}

var manifest = app.Manifest{
	Name:        "DVD",
	Version:     "1.0.0",
	Description: "Bouncing DVD logo animation",
	Framerate:   10,
}

// Definition registers the app
func Definition() app.Definition {
	return app.Define(Kind, manifest, New)
}

// App bounces the logo off the display edges, changing color on every
// bounce.
type App struct {
	fb     *frame.Frame
	rng    *rand.Rand
	x, y   int
	dx, dy int
	maxX   int
	maxY   int
	color  frame.Color
}

// New creates the app
func New(env app.Env, opts Options) (app.App, error) {
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	a := &App{
		fb:   env.Frame,
		rng:  rand.New(rand.NewPCG(seed, seed>>1|1)),
		dx:   1,
		dy:   1,
		maxX: max(env.Width()-len(logo[0]), 0),
		maxY: max(env.Height()-len(logo), 0),
	}
	a.randomizeColor()
	return a, nil
}

func (a *App) randomizeColor() {
	a.color = frame.Color{
		R: uint8(50 + a.rng.IntN(206)),
		G: uint8(50 + a.rng.IntN(206)),
		B: uint8(50 + a.rng.IntN(206)),
	}
}

// step moves one pixel along an axis and reports a bounce
func step(pos, dir, limit int) (int, int, bool) {
	next := pos + dir
	if next < 0 || next > limit {
		return min(max(pos-dir, 0), limit), -dir, true
	}
	return next, dir, false
}

func (a *App) Update() error {
	var bx, by bool
	a.x, a.dx, bx = step(a.x, a.dx, a.maxX)
	a.y, a.dy, by = step(a.y, a.dy, a.maxY)
	if bx || by {
		a.randomizeColor()
	}
	return nil
}

func (a *App) Render() (*frame.Frame, error) {
	a.fb.Clear(frame.Black)
	for row, line := range logo {
		for col := 0; col < len(line); col++ {
			if line[col] == 'X' {
				a.fb.Set(a.x+col, a.y+row, a.color)
			}
		}
	}
	return a.fb, nil
}

// Position returns the logo's top-left corner
func (a *App) Position() (int, int) { return a.x, a.y }
