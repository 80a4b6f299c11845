package testpattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewsiemer/matrix-os/internal/domain/app"
	"github.com/andrewsiemer/matrix-os/internal/shared/frame"
)

func TestBars(t *testing.T) {
	a, err := New(app.Env{Frame: frame.New(64, 32)}, Options{Speed: 1})
	require.NoError(t, err)

	f, err := a.Render()
	require.NoError(t, err)
	for i, c := range Bars {
		assert.Equal(t, c, f.At(i*8+4, 10), "bar %d", i)
	}
	assert.Equal(t, frame.Color{R: 128, G: 128, B: 128}, f.At(4, 0))
}

func TestScanLineWraps(t *testing.T) {
	a, err := New(app.Env{Frame: frame.New(8, 4)}, Options{Speed: 3})
	require.NoError(t, err)
	p := a.(*App)

	var rows []int
	for i := 0; i < 4; i++ {
		require.NoError(t, p.Update())
		rows = append(rows, p.scan)
	}
	assert.Equal(t, []int{3, 2, 1, 0}, rows)
}

func TestBorder(t *testing.T) {
	a, err := New(app.Env{Frame: frame.New(64, 32)}, Options{Border: true})
	require.NoError(t, err)

	f, err := a.Render()
	require.NoError(t, err)
	assert.Equal(t, frame.White, f.At(63, 16))
	assert.Equal(t, frame.White, f.At(30, 31))
}

func TestOptionsDecode(t *testing.T) {
	reg := app.NewRegistry(Definition())

	_, err := reg.Resolve(app.MustSpec(Kind, map[string]any{"speed": -1}))
	assert.ErrorIs(t, err, app.ErrInvalidOptions)

	_, err = reg.Resolve(app.MustSpec(Kind, map[string]any{"sped": 2}))
	assert.ErrorIs(t, err, app.ErrInvalidOptions)

	_, err = reg.Resolve(app.MustSpec(Kind, nil))
	assert.NoError(t, err)
}
