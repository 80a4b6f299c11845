package display

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/andrewsiemer/matrix-os/internal/shared/frame"
)

// Terminal draws frames into an ANSI truecolor terminal, two pixel rows per
// character cell. Redraws are limited to maxFPS.
type Terminal struct {
	geometry Geometry
	out      io.Writer
	interval time.Duration

	mu          sync.Mutex
	w           *bufio.Writer
	initialized bool
	last        time.Time
}

// NewTerminal creates a terminal sink writing to out
func NewTerminal(g Geometry, out io.Writer, maxFPS int) (*Terminal, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if maxFPS <= 0 {
		maxFPS = 20
	}
	return &Terminal{geometry: g, out: out, interval: time.Second / time.Duration(maxFPS)}, nil
}

func (t *Terminal) Initialize() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.w = bufio.NewWriterSize(t.out, 64<<10)
	t.initialized = true
	// clear screen, hide cursor
	_, _ = t.w.WriteString("\x1b[2J\x1b[?25l")
	return t.w.Flush()
}

func (t *Terminal) Size() (int, int) {
	return t.geometry.Width(), t.geometry.Height()
}

func (t *Terminal) CreateFrame(width, height int) *frame.Frame {
	return frame.New(width, height)
}

func (t *Terminal) Render(f *frame.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized {
		return ErrNotInitialized
	}
	if f.Width() != t.geometry.Width() || f.Height() != t.geometry.Height() {
		return fmt.Errorf("%w: got %dx%d", ErrFrameSize, f.Width(), f.Height())
	}
	now := time.Now()
	if now.Sub(t.last) < t.interval {
		return nil
	}
	t.last = now

	b := t.geometry.Brightness
	_, _ = t.w.WriteString("\x1b[H")
	for y := 0; y < f.Height(); y += 2 {
		for x := 0; x < f.Width(); x++ {
			top := f.At(x, y)
			bottom := f.At(x, y+1)
			fmt.Fprintf(t.w, "\x1b[38;2;%d;%d;%dm\x1b[48;2;%d;%d;%dm▀",
				dim(top.R, b), dim(top.G, b), dim(top.B, b),
				dim(bottom.R, b), dim(bottom.G, b), dim(bottom.B, b))
		}
		_, _ = t.w.WriteString("\x1b[0m\n")
	}
	return t.w.Flush()
}

func (t *Terminal) Shutdown() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized {
		return nil
	}
	t.initialized = false
	_, _ = t.w.WriteString("\x1b[0m\x1b[?25h\n")
	return t.w.Flush()
}
