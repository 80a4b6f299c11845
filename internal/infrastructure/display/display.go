package display

import (
	"errors"
	"fmt"
	"io"

	"github.com/andrewsiemer/matrix-os/internal/shared/frame"
)

var (
	ErrNotInitialized = errors.New("display not initialized")
	ErrFrameSize      = errors.New("frame does not match display size")
	ErrGeometry       = errors.New("invalid display geometry")
)

// Sink is an output device for frames. Render must return within one
// frame budget.
type Sink interface {
	Initialize() error
	Size() (width, height int)
	CreateFrame(width, height int) *frame.Frame
	Render(f *frame.Frame) error
	Shutdown() error
}

// Geometry describes a chain of LED matrix panels.
type Geometry struct {
	Rows       int // per panel
	Cols       int // per panel
	Chain      int // panels chained horizontally
	Parallel   int // parallel chains stacked vertically
	Brightness int // percent
}

// DefaultGeometry is a single 64x32 panel
func DefaultGeometry() Geometry {
	return Geometry{Rows: 32, Cols: 64, Chain: 1, Parallel: 1, Brightness: 100}
}

// Width in pixels
func (g Geometry) Width() int { return g.Cols * max(g.Chain, 1) }

// Height in pixels
func (g Geometry) Height() int { return g.Rows * max(g.Parallel, 1) }

// Validate checks dimensions and clamps brightness to 0..100
func (g *Geometry) Validate() error {
	if g.Rows <= 0 || g.Cols <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrGeometry, g.Cols, g.Rows)
	}
	if g.Chain <= 0 {
		g.Chain = 1
	}
	if g.Parallel <= 0 {
		g.Parallel = 1
	}
	g.Brightness = min(max(g.Brightness, 0), 100)
	return nil
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d (%dx%d panels x%d chain x%d parallel)", g.Width(), g.Height(), g.Cols, g.Rows, g.Chain, g.Parallel)
}

// dim scales a color channel by brightness percent
func dim(v uint8, brightness int) uint8 {
	return uint8(int(v) * brightness / 100)
}

// Sink names accepted by Open
const (
	SinkSimulator = "simulator"
	SinkTerminal  = "terminal"
)

// Open creates the named sink. Terminal output goes to out.
func Open(name string, g Geometry, out io.Writer) (Sink, error) {
	switch name {
	case "", SinkSimulator:
		return NewSimulator(g)
	case SinkTerminal:
		return NewTerminal(g, out, 20)
	default:
		return nil, fmt.Errorf("unknown display sink %q", name)
	}
}
