package display

import (
	"fmt"
	"sync"

	"github.com/andrewsiemer/matrix-os/internal/shared/frame"
)

// Simulator is an in-memory sink. It keeps the last rendered frame with
// brightness applied, as a panel would show it.
type Simulator struct {
	geometry Geometry

	mu          sync.RWMutex
	initialized bool
	last        *frame.Frame
	rendered    uint64
}

// NewSimulator creates a simulator sink
func NewSimulator(g Geometry) (*Simulator, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &Simulator{geometry: g}, nil
}

func (s *Simulator) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.last = frame.New(s.geometry.Width(), s.geometry.Height())
	return nil
}

func (s *Simulator) Size() (int, int) {
	return s.geometry.Width(), s.geometry.Height()
}

func (s *Simulator) CreateFrame(width, height int) *frame.Frame {
	return frame.New(width, height)
}

func (s *Simulator) Render(f *frame.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	if !f.SameSize(s.last) {
		return fmt.Errorf("%w: got %dx%d", ErrFrameSize, f.Width(), f.Height())
	}

	src, dst := f.Pixels(), s.last.Pixels()
	for i, v := range src {
		dst[i] = dim(v, s.geometry.Brightness)
	}
	s.rendered++
	return nil
}

func (s *Simulator) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = false
	return nil
}

// Last returns a copy of the last displayed frame
func (s *Simulator) Last() (*frame.Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.last == nil || s.rendered == 0 {
		return nil, false
	}
	return s.last.Clone(), true
}

// Rendered returns how many frames have been displayed
func (s *Simulator) Rendered() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rendered
}
