// Package frame provides the pixel canvas exchanged between apps and the kernel.
//
// A Frame is immutable by convention once it has been submitted: producers
// draw into their own buffer and hand the kernel a Clone, so ownership always
// transfers by copy at a boundary crossing. Dimensions are fixed at creation.
package frame

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// BytesPerPixel is the number of bytes used by one RGB pixel.
const BytesPerPixel = 3

var (
	ErrInvalidSize  = errors.New("frame: width and height must be positive")
	ErrBufferLength = errors.New("frame: pixel buffer length does not match dimensions")
	ErrSizeMismatch = errors.New("frame: dimensions do not match")
)

// Color is a 24-bit RGB color.
type Color struct {
	R, G, B uint8
}

// Common colors
var (
	Black = Color{0, 0, 0}
	White = Color{255, 255, 255}
	Red   = Color{255, 0, 0}
	Green = Color{0, 255, 0}
	Blue  = Color{0, 0, 255}
)

// RGBA implements color.Color.
func (c Color) RGBA() (r, g, b, a uint32) {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff}.RGBA()
}

// Frame is a width x height RGB canvas stored row-major.
type Frame struct {
	width  int
	height int
	pix    []byte
}

// New creates a black frame. It panics on non-positive dimensions since a
// frame is always sized from the output sink.
func New(width, height int) *Frame {
	if width <= 0 || height <= 0 {
		panic(ErrInvalidSize)
	}
	return &Frame{
		width:  width,
		height: height,
		pix:    make([]byte, width*height*BytesPerPixel),
	}
}

// FromPixels builds a frame around a copy of pix.
func FromPixels(width, height int, pix []byte) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidSize
	}
	if len(pix) != width*height*BytesPerPixel {
		return nil, fmt.Errorf("%w: got %d bytes for %dx%d", ErrBufferLength, len(pix), width, height)
	}
	buf := make([]byte, len(pix))
	copy(buf, pix)
	return &Frame{width: width, height: height, pix: buf}, nil
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int { return f.width }

// Height returns the frame height in pixels.
func (f *Frame) Height() int { return f.height }

// Pixels exposes the raw RGB buffer. Callers must not modify a submitted frame.
func (f *Frame) Pixels() []byte { return f.pix }

// SameSize reports whether o has the same dimensions as f.
func (f *Frame) SameSize(o *Frame) bool {
	return o != nil && f.width == o.width && f.height == o.height
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	buf := make([]byte, len(f.pix))
	copy(buf, f.pix)
	return &Frame{width: f.width, height: f.height, pix: buf}
}

// CopyFrom overwrites f with the pixels of src. Both frames must share dimensions.
func (f *Frame) CopyFrom(src *Frame) error {
	if !f.SameSize(src) {
		return ErrSizeMismatch
	}
	copy(f.pix, src.pix)
	return nil
}

// Clear fills the whole frame with c.
func (f *Frame) Clear(c Color) {
	for i := 0; i < len(f.pix); i += BytesPerPixel {
		f.pix[i] = c.R
		f.pix[i+1] = c.G
		f.pix[i+2] = c.B
	}
}

func (f *Frame) offset(x, y int) (int, bool) {
	if x < 0 || y < 0 || x >= f.width || y >= f.height {
		return 0, false
	}
	return (y*f.width + x) * BytesPerPixel, true
}

// Set writes one pixel; out-of-bounds coordinates are ignored.
func (f *Frame) Set(x, y int, c Color) {
	if i, ok := f.offset(x, y); ok {
		f.pix[i] = c.R
		f.pix[i+1] = c.G
		f.pix[i+2] = c.B
	}
}

// At reads one pixel; out-of-bounds coordinates read as black.
func (f *Frame) At(x, y int) Color {
	i, ok := f.offset(x, y)
	if !ok {
		return Black
	}
	return Color{f.pix[i], f.pix[i+1], f.pix[i+2]}
}

// FillRect fills the rectangle [x, x+w) x [y, y+h), clipped to the frame.
func (f *Frame) FillRect(x, y, w, h int, c Color) {
	for yy := max(y, 0); yy < min(y+h, f.height); yy++ {
		for xx := max(x, 0); xx < min(x+w, f.width); xx++ {
			f.Set(xx, yy, c)
		}
	}
}

// DrawLine draws a line between two points using Bresenham's algorithm.
func (f *Frame) DrawLine(x0, y0, x1, y1 int, c Color) {
	dx := abs(x1 - x0)
	dy := abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx - dy

	for {
		f.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x0 += sx
		}
		if e2 < dx {
			err += dx
			y0 += sy
		}
	}
}

// Blit draws img with its top-left corner at (x, y), clipped to the frame.
func (f *Frame) Blit(img image.Image, x, y int) {
	b := img.Bounds()
	for sy := b.Min.Y; sy < b.Max.Y; sy++ {
		dy := y + sy - b.Min.Y
		if dy < 0 || dy >= f.height {
			continue
		}
		for sx := b.Min.X; sx < b.Max.X; sx++ {
			dx := x + sx - b.Min.X
			if dx < 0 || dx >= f.width {
				continue
			}
			r, g, bb, _ := img.At(sx, sy).RGBA()
			f.Set(dx, dy, Color{uint8(r >> 8), uint8(g >> 8), uint8(bb >> 8)})
		}
	}
}

// Image converts the frame to an opaque *image.RGBA.
func (f *Frame) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.width, f.height))
	for i, j := 0, 0; i < len(f.pix); i, j = i+BytesPerPixel, j+4 {
		img.Pix[j] = f.pix[i]
		img.Pix[j+1] = f.pix[i+1]
		img.Pix[j+2] = f.pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
