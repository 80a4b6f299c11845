// Package script runs a small JavaScript program as an app. The program
// draws through a handful of globals and may define update(tick) and
// render() hooks:
//
//	function update(tick) {
//		clear(0, 0, 0)
//		set(tick % width, height / 2, 255, 255, 255)
//	}
//
// Globals: width, height, clear(r, g, b), set(x, y, r, g, b),
// fill(x, y, w, h, r, g, b), line(x0, y0, x1, y1, r, g, b) and console.
// Every call into the program is interrupted once it exceeds its budget.
package script

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/andrewsiemer/matrix-os/internal/domain/app"
	"github.com/andrewsiemer/matrix-os/internal/shared/frame"
)

// Kind is the registry kind of this app
const Kind = "script"

// ErrBudget is returned when a call into the program runs too long
var ErrBudget = errors.New("script exceeded its time budget")

// Options configures the program
type Options struct {
	// Source is the program text
	Source string `json:"source"`
	// Path is a file holding the program, used when Source is empty
	Path string `json:"path"`
	// Budget bounds every call into the program
	Budget string `json:"budget"`
}

func (o *Options) SetDefaults() {
	o.Budget = "50ms"
}

func (o *Options) Validate() error {
	if (o.Source == "") == (o.Path == "") {
		return errors.New("exactly one of source or path is required")
	}
	if d, err := time.ParseDuration(o.Budget); err != nil || d <= 0 {
		return fmt.Errorf("invalid budget %q", o.Budget)
	}
	return nil
}

// Scripts are untrusted code, so the kind always runs in its own process.
var manifest = app.Manifest{
	Name:         "Script",
	Version:      "1.0.0",
	Description:  "JavaScript drawing program",
	Framerate:    30,
	Capabilities: app.NewCapabilities(app.CapFilesystem),
}

// Definition registers the app
func Definition() app.Definition {
	return app.Define(Kind, manifest, New)
}

// App hosts one program in its own goja runtime
type App struct {
	fb     *frame.Frame
	opts   Options
	budget time.Duration
	logger *zap.Logger

	vm     *goja.Runtime
	update goja.Callable
	render goja.Callable
	tick   int64
}

// New creates the app. The program is compiled and run in OnStart.
func New(env app.Env, opts Options) (app.App, error) {
	budget, _ := time.ParseDuration(opts.Budget)
	logger := env.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{fb: env.Frame, opts: opts, budget: budget, logger: logger}, nil
}

func (a *App) OnStart() error {
	src := a.opts.Source
	if src == "" {
		data, err := os.ReadFile(a.opts.Path)
		if err != nil {
			return err
		}
		src = string(data)
	}

	a.vm = goja.New()
	a.vm.SetMaxCallStackSize(1024)
	a.setupGlobals()

	if err := a.guarded(func() (goja.Value, error) { return a.vm.RunString(src) }); err != nil {
		return fmt.Errorf("load program: %w", err)
	}
	a.update, _ = goja.AssertFunction(a.vm.Get("update"))
	a.render, _ = goja.AssertFunction(a.vm.Get("render"))
	if a.update == nil && a.render == nil {
		return errors.New("program defines neither update nor render")
	}
	return nil
}

func (a *App) Update() error {
	a.tick++
	if a.update == nil {
		return nil
	}
	return a.guarded(func() (goja.Value, error) {
		return a.update(goja.Undefined(), a.vm.ToValue(a.tick))
	})
}

func (a *App) Render() (*frame.Frame, error) {
	if a.render != nil {
		if err := a.guarded(func() (goja.Value, error) { return a.render(goja.Undefined()) }); err != nil {
			return nil, err
		}
	}
	return a.fb, nil
}

// guarded runs fn with the budget armed. The interrupt is always cleared
// before returning so it cannot leak into the next call.
func (a *App) guarded(fn func() (goja.Value, error)) error {
	fired := make(chan struct{})
	timer := time.AfterFunc(a.budget, func() {
		defer close(fired)
		a.vm.Interrupt(ErrBudget)
	})
	_, err := fn()
	if !timer.Stop() {
		<-fired
	}
	a.vm.ClearInterrupt()

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("%w (%s)", ErrBudget, a.budget)
	}
	return err
}

func (a *App) setupGlobals() {
	vm := a.vm
	vm.Set("require", goja.Undefined())
	vm.Set("process", goja.Undefined())
	vm.Set("module", goja.Undefined())
	vm.Set("exports", goja.Undefined())

	vm.Set("width", a.fb.Width())
	vm.Set("height", a.fb.Height())

	vm.Set("clear", func(call goja.FunctionCall) goja.Value {
		a.fb.Clear(colorArg(call, 0))
		return goja.Undefined()
	})
	vm.Set("set", func(call goja.FunctionCall) goja.Value {
		a.fb.Set(intArg(call, 0), intArg(call, 1), colorArg(call, 2))
		return goja.Undefined()
	})
	vm.Set("fill", func(call goja.FunctionCall) goja.Value {
		a.fb.FillRect(intArg(call, 0), intArg(call, 1), intArg(call, 2), intArg(call, 3), colorArg(call, 4))
		return goja.Undefined()
	})
	vm.Set("line", func(call goja.FunctionCall) goja.Value {
		a.fb.DrawLine(intArg(call, 0), intArg(call, 1), intArg(call, 2), intArg(call, 3), colorArg(call, 4))
		return goja.Undefined()
	})

	console := vm.NewObject()
	console.Set("log", a.consoleFunc(zap.InfoLevel))
	console.Set("info", a.consoleFunc(zap.InfoLevel))
	console.Set("warn", a.consoleFunc(zap.WarnLevel))
	console.Set("error", a.consoleFunc(zap.ErrorLevel))
	vm.Set("console", console)
}

func (a *App) consoleFunc(level zapcore.Level) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		if ce := a.logger.Check(level, "Script console"); ce != nil {
			ce.Write(zap.String("message", strings.Join(parts, " ")))
		}
		return goja.Undefined()
	}
}

func intArg(call goja.FunctionCall, i int) int {
	return int(call.Argument(i).ToInteger())
}

// colorArg reads r, g, b starting at argument i, clamped to 0..255
func colorArg(call goja.FunctionCall, i int) frame.Color {
	channel := func(j int) uint8 {
		return uint8(min(max(call.Argument(i+j).ToInteger(), 0), 255))
	}
	return frame.Color{R: channel(0), G: channel(1), B: channel(2)}
}
