package frame

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsBlack(t *testing.T) {
	f := New(4, 2)
	assert.Equal(t, 4, f.Width())
	assert.Equal(t, 2, f.Height())
	assert.Len(t, f.Pixels(), 4*2*BytesPerPixel)
	assert.Equal(t, Black, f.At(3, 1))
}

func TestNewPanicsOnInvalidSize(t *testing.T) {
	assert.Panics(t, func() { New(0, 10) })
}

func TestSetAndAtClip(t *testing.T) {
	f := New(3, 3)
	f.Set(1, 1, Red)
	f.Set(-1, 0, White)
	f.Set(3, 3, White)

	assert.Equal(t, Red, f.At(1, 1))
	assert.Equal(t, Black, f.At(-1, 0))
	assert.Equal(t, Black, f.At(0, 0))
}

func TestCloneIsIndependent(t *testing.T) {
	f := New(2, 2)
	f.Set(0, 0, Green)

	c := f.Clone()
	f.Set(0, 0, Blue)

	assert.Equal(t, Green, c.At(0, 0))
	assert.True(t, f.SameSize(c))
}

func TestFromPixels(t *testing.T) {
	pix := []byte{1, 2, 3, 4, 5, 6}
	f, err := FromPixels(2, 1, pix)
	require.NoError(t, err)
	pix[0] = 99
	assert.Equal(t, Color{1, 2, 3}, f.At(0, 0))

	_, err = FromPixels(2, 2, pix)
	assert.ErrorIs(t, err, ErrBufferLength)

	_, err = FromPixels(0, 2, pix)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestCopyFromRequiresSameSize(t *testing.T) {
	dst := New(2, 2)
	src := New(2, 2)
	src.Clear(White)
	require.NoError(t, dst.CopyFrom(src))
	assert.Equal(t, White, dst.At(1, 1))

	assert.ErrorIs(t, dst.CopyFrom(New(3, 2)), ErrSizeMismatch)
}

func TestFillRectClips(t *testing.T) {
	f := New(4, 4)
	f.FillRect(2, 2, 10, 10, Red)

	assert.Equal(t, Red, f.At(3, 3))
	assert.Equal(t, Red, f.At(2, 2))
	assert.Equal(t, Black, f.At(1, 1))
}

func TestDrawLine(t *testing.T) {
	f := New(5, 5)
	f.DrawLine(0, 0, 4, 4, White)
	for i := 0; i < 5; i++ {
		assert.Equal(t, White, f.At(i, i))
	}
	assert.Equal(t, Black, f.At(4, 0))

	f.DrawLine(4, 0, 0, 0, Red)
	for i := 0; i < 5; i++ {
		assert.Equal(t, Red, f.At(i, 0))
	}
}

func TestBlitClipsNegativeOrigin(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}

	f := New(3, 3)
	f.Blit(img, -1, -1)

	assert.Equal(t, Color{10, 20, 30}, f.At(0, 0))
	assert.Equal(t, Black, f.At(1, 1))
}

func TestImage(t *testing.T) {
	f := New(2, 1)
	f.Set(1, 0, Color{7, 8, 9})

	img := f.Image()
	assert.Equal(t, image.Rect(0, 0, 2, 1), img.Bounds())
	assert.Equal(t, color.RGBA{7, 8, 9, 255}, img.RGBAAt(1, 0))
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, img.RGBAAt(0, 0))
}
