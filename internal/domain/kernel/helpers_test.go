package kernel

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andrewsiemer/matrix-os/internal/domain/app"
	"github.com/andrewsiemer/matrix-os/internal/infrastructure/display"
	"github.com/andrewsiemer/matrix-os/internal/infrastructure/monitoring"
	"github.com/andrewsiemer/matrix-os/internal/shared/frame"
)

const (
	testWidth  = 8
	testHeight = 4
)

type solidOptions struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

type solid struct {
	env   app.Env
	color frame.Color
}

func (a *solid) Update() error { return nil }

func (a *solid) Render() (*frame.Frame, error) {
	a.env.Frame.Clear(a.color)
	return a.env.Frame, nil
}

// faulty renders one good frame, then panics on every render
type faulty struct {
	solid
	rendered bool
}

func (a *faulty) Render() (*frame.Frame, error) {
	if a.rendered {
		panic("font cache corrupted")
	}
	a.rendered = true
	return a.solid.Render()
}

type broken struct {
	solid
}

func (a *broken) OnStart() error {
	return assertErr("display font missing")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func testRegistry() *app.Registry {
	m := app.Manifest{Name: "test", Version: "1.0.0", Framerate: 60}
	newSolid := func(env app.Env, o solidOptions) solid {
		return solid{env: env, color: frame.Color{R: o.R, G: o.G, B: o.B}}
	}
	return app.NewRegistry(
		app.Define("solid", m, func(env app.Env, o solidOptions) (app.App, error) {
			s := newSolid(env, o)
			return &s, nil
		}),
		app.Define("faulty", m, func(env app.Env, o solidOptions) (app.App, error) {
			return &faulty{solid: newSolid(env, o)}, nil
		}),
		app.Define("broken", m, func(env app.Env, o solidOptions) (app.App, error) {
			return &broken{newSolid(env, o)}, nil
		}),
	)
}

var (
	red   = solidOptions{R: 255}
	green = solidOptions{G: 255}
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TargetFPS = 100
	cfg.Sandbox.StopGrace = 500 * time.Millisecond
	return cfg
}

func newSimulator(t *testing.T) *display.Simulator {
	t.Helper()
	sim, err := display.NewSimulator(display.Geometry{Rows: testHeight, Cols: testWidth, Brightness: 100})
	require.NoError(t, err)
	return sim
}

func newTestKernel(t *testing.T, cfg Config, sink display.Sink, logger *zap.Logger) *Kernel {
	t.Helper()
	if logger == nil {
		logger = zap.NewNop()
	}
	k, err := New(Options{
		Config:   cfg,
		Registry: testRegistry(),
		Sink:     sink,
		Logger:   logger,
		Metrics:  monitoring.NewMetrics("test"),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if k.Running() {
			_ = k.Stop()
		}
	})
	return k
}

func register(t *testing.T, k *Kernel, kind string, opts solidOptions, p Placement) string {
	t.Helper()
	appID, err := k.RegisterApp(app.MustSpec(kind, opts), p)
	require.NoError(t, err)
	return appID
}

func showing(sim *display.Simulator, c frame.Color) func() bool {
	return func() bool {
		f, ok := sim.Last()
		return ok && f.At(0, 0) == c
	}
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Initialize() error {
	return m.Called().Error(0)
}

func (m *mockSink) Size() (int, int) {
	args := m.Called()
	return args.Int(0), args.Int(1)
}

func (m *mockSink) CreateFrame(width, height int) *frame.Frame {
	return frame.New(width, height)
}

func (m *mockSink) Render(f *frame.Frame) error {
	return m.Called(f).Error(0)
}

func (m *mockSink) Shutdown() error {
	return m.Called().Error(0)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
