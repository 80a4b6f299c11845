package imageviewer

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewsiemer/matrix-os/internal/domain/app"
	"github.com/andrewsiemer/matrix-os/internal/shared/frame"
)

func writePNG(t *testing.T, path string, w, h int, c color.RGBA) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func options(path string) Options {
	var o Options
	o.SetDefaults()
	o.Path = path
	return o
}

func newViewer(t *testing.T, opts Options) *App {
	t.Helper()
	require.NoError(t, opts.Validate())
	a, err := New(app.Env{AppID: "image-viewer_1", Frame: frame.New(8, 4)}, opts)
	require.NoError(t, err)
	return a.(*App)
}

func TestSingleImageContain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logo.png")
	writePNG(t, path, 4, 4, color.RGBA{R: 255, A: 255})

	v := newViewer(t, options(path))
	require.NoError(t, v.OnStart())
	assert.Equal(t, 1, v.Slides())

	f, err := v.Render()
	require.NoError(t, err)
	// a square image is centered and letterboxed on an 8x4 panel
	assert.Equal(t, frame.Black, f.At(1, 2))
	assert.Equal(t, frame.Red, f.At(2, 0))
	assert.Equal(t, frame.Red, f.At(5, 3))
	assert.Equal(t, frame.Black, f.At(6, 2))
}

func TestStretch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logo.png")
	writePNG(t, path, 4, 4, color.RGBA{B: 255, A: 255})

	opts := options(path)
	opts.Fit = FitStretch
	v := newViewer(t, opts)
	require.NoError(t, v.OnStart())

	f, err := v.Render()
	require.NoError(t, err)
	assert.Equal(t, frame.Blue, f.At(0, 0))
	assert.Equal(t, frame.Blue, f.At(7, 3))
}

func TestSlideshow(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 8, 4, color.RGBA{R: 255, A: 255})
	writePNG(t, filepath.Join(dir, "nested", "b.png"), 8, 4, color.RGBA{G: 255, A: 255})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fake.png"), []byte("not really a png"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored by the glob"), 0o644))

	opts := options(dir)
	opts.Interval = "5s"
	v := newViewer(t, opts)

	now := time.Unix(1_700_000_000, 0)
	v.now = func() time.Time { return now }
	require.NoError(t, v.OnStart())
	require.Equal(t, 2, v.Slides())

	show := func() frame.Color {
		require.NoError(t, v.Update())
		f, err := v.Render()
		require.NoError(t, err)
		return f.At(0, 0)
	}

	assert.Equal(t, frame.Red, show())
	now = now.Add(4 * time.Second)
	assert.Equal(t, frame.Red, show())
	now = now.Add(time.Second)
	assert.Equal(t, frame.Green, show())
	now = now.Add(5 * time.Second)
	assert.Equal(t, frame.Red, show())
}

func TestNoImagesFailsStart(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fake.png"), []byte("plain text"), 0o644))

	v := newViewer(t, options(dir))
	assert.ErrorIs(t, v.OnStart(), ErrNoImages)

	f, err := v.Render()
	assert.NoError(t, err)
	assert.Nil(t, f)

	missing := newViewer(t, options(filepath.Join(dir, "missing.png")))
	assert.Error(t, missing.OnStart())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"missing path", func(o *Options) { o.Path = "" }},
		{"bad interval", func(o *Options) { o.Interval = "soon" }},
		{"zero interval", func(o *Options) { o.Interval = "0s" }},
		{"bad fit", func(o *Options) { o.Fit = "cover" }},
		{"bad pattern", func(o *Options) { o.Pattern = "[" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := options("/srv/images")
			tt.mutate(&o)
			assert.Error(t, o.Validate())
		})
	}

	assert.True(t, Definition().Manifest.Capabilities.Has(app.CapFilesystem))
}

func TestContainSize(t *testing.T) {
	w, h := containSize(128, 32, 64, 32)
	assert.Equal(t, [2]int{64, 16}, [2]int{w, h})
	w, h = containSize(10, 40, 64, 32)
	assert.Equal(t, [2]int{8, 32}, [2]int{w, h})
}
