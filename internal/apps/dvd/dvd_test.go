package dvd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewsiemer/matrix-os/internal/domain/app"
	"github.com/andrewsiemer/matrix-os/internal/shared/frame"
)

func newApp(t *testing.T, w, h int) *App {
	t.Helper()
	a, err := New(app.Env{AppID: "dvd_1", Frame: frame.New(w, h)}, Options{Seed: 42})
	require.NoError(t, err)
	return a.(*App)
}

func TestLogoStaysOnScreen(t *testing.T) {
	a := newApp(t, 64, 32)

	for i := 0; i < 500; i++ {
		require.NoError(t, a.Update())
		x, y := a.Position()
		require.GreaterOrEqual(t, x, 0)
		require.GreaterOrEqual(t, y, 0)
		require.LessOrEqual(t, x, 64-len(logo[0]))
		require.LessOrEqual(t, y, 32-len(logo))
	}
}

func TestBounceChangesColor(t *testing.T) {
	a := newApp(t, len(logo[0])+2, len(logo)+10)
	before := a.color

	changed := false
	for i := 0; i < 4; i++ {
		require.NoError(t, a.Update())
		if a.color != before {
			changed = true
		}
	}
	assert.True(t, changed, "hitting the right edge should recolor the logo")
	assert.Equal(t, -1, a.dx)
}

func TestRenderDrawsLogo(t *testing.T) {
	a := newApp(t, 64, 32)

	f, err := a.Render()
	require.NoError(t, err)
	assert.Equal(t, a.color, f.At(0, 0))
	assert.Equal(t, frame.Black, f.At(6, 0))
	assert.Equal(t, frame.Black, f.At(40, 20))
}

func TestTinyDisplay(t *testing.T) {
	a := newApp(t, 4, 4)
	for i := 0; i < 10; i++ {
		require.NoError(t, a.Update())
		x, y := a.Position()
		assert.Zero(t, x)
		assert.Zero(t, y)
	}
	_, err := a.Render()
	assert.NoError(t, err)
}

func TestDefinition(t *testing.T) {
	def := Definition()
	assert.Equal(t, Kind, def.Kind)
	assert.Equal(t, 10, def.Manifest.Framerate)
	assert.Zero(t, def.Manifest.Capabilities)
}
