// Package imageviewer shows an image, or a slideshow of every image under
// a directory, scaled to the display.
package imageviewer

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/andrewsiemer/matrix-os/internal/domain/app"
	"github.com/andrewsiemer/matrix-os/internal/shared/frame"
)

// Kind is the registry kind of this app
const Kind = "image-viewer"

// Fit modes
const (
	FitContain = "contain"
	FitStretch = "stretch"
)

var ErrNoImages = errors.New("no images found")

// Options configures the viewer
type Options struct {
	// Path is an image file or a directory to search
	Path string `json:"path"`
	// Pattern selects images under a directory Path
	Pattern string `json:"pattern"`
	// Interval between slides
	Interval string `json:"interval"`
	Fit      string `json:"fit"`
}

func (o *Options) SetDefaults() {
	o.Pattern = "**/*.{png,jpg,jpeg,gif}"
	o.Interval = "10s"
	o.Fit = FitContain
}

func (o *Options) Validate() error {
	if o.Path == "" {
		return errors.New("path is required")
	}
	if !doublestar.ValidatePattern(o.Pattern) {
		return fmt.Errorf("invalid pattern %q", o.Pattern)
	}
	if d, err := time.ParseDuration(o.Interval); err != nil || d <= 0 {
		return fmt.Errorf("invalid interval %q", o.Interval)
	}
	if o.Fit != FitContain && o.Fit != FitStretch {
		return fmt.Errorf("fit must be %q or %q", FitContain, FitStretch)
	}
	return nil
}

var manifest = app.Manifest{
	Name:         "Image Viewer",
	Version:      "1.0.0",
	Description:  "Display static images",
	Framerate:    1,
	Capabilities: app.NewCapabilities(app.CapFilesystem),
}

// Definition registers the app
func Definition() app.Definition {
	return app.Define(Kind, manifest, New)
}

// App is the image viewer
type App struct {
	fb       *frame.Frame
	opts     Options
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	slides  []*frame.Frame
	current int
	shownAt time.Time
}

// New creates the app. Images are loaded in OnStart.
func New(env app.Env, opts Options) (app.App, error) {
	interval, _ := time.ParseDuration(opts.Interval)
	logger := env.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		fb:       env.Frame,
		opts:     opts,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (a *App) OnStart() error {
	files, err := a.files()
	if err != nil {
		return err
	}

	for _, path := range files {
		slide, err := a.load(path)
		if err != nil {
			a.logger.Warn("Skipping image", zap.String("path", path), zap.Error(err))
			continue
		}
		a.slides = append(a.slides, slide)
	}
	if len(a.slides) == 0 {
		return fmt.Errorf("%w under %s", ErrNoImages, a.opts.Path)
	}

	a.shownAt = a.now()
	a.logger.Info("Images loaded", zap.Int("count", len(a.slides)), zap.String("path", a.opts.Path))
	return nil
}

// files lists candidate files in a stable order
func (a *App) files() ([]string, error) {
	info, err := os.Stat(a.opts.Path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{a.opts.Path}, nil
	}

	var (
		mu    sync.Mutex
		files []string
	)
	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, a.opts.Path, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(a.opts.Path, p)
		if err != nil {
			return nil
		}
		if ok, _ := doublestar.Match(a.opts.Pattern, filepath.ToSlash(rel)); ok {
			mu.Lock()
			files = append(files, p)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// load sniffs, decodes and scales one image into a display-sized frame
func (a *App) load(path string) (*frame.Frame, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, fmt.Errorf("not an image: %s", mt.String())
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, fmt.Errorf("unsupported format %s", mt.String())
		}
		return nil, err
	}

	slide := frame.New(a.fb.Width(), a.fb.Height())
	w, h := a.fb.Width(), a.fb.Height()
	x, y := 0, 0
	if a.opts.Fit == FitContain {
		w, h = containSize(img.Bounds().Dx(), img.Bounds().Dy(), w, h)
		x, y = (a.fb.Width()-w)/2, (a.fb.Height()-h)/2
	}
	slide.Blit(resize(img, w, h), x, y)
	return slide, nil
}

// containSize scales (iw, ih) to fit inside (w, h), keeping aspect ratio
func containSize(iw, ih, w, h int) (int, int) {
	if iw <= 0 || ih <= 0 {
		return 0, 0
	}
	if iw*h > ih*w {
		return w, max(ih*w/iw, 1)
	}
	return max(iw*h/ih, 1), h
}

// resize samples src to w x h with nearest-neighbor
func resize(src image.Image, w, h int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	b := src.Bounds()
	for y := 0; y < h; y++ {
		sy := b.Min.Y + y*b.Dy()/h
		for x := 0; x < w; x++ {
			dst.Set(x, y, src.At(b.Min.X+x*b.Dx()/w, sy))
		}
	}
	return dst
}

func (a *App) Update() error {
	if len(a.slides) > 1 && a.now().Sub(a.shownAt) >= a.interval {
		a.current = (a.current + 1) % len(a.slides)
		a.shownAt = a.now()
	}
	return nil
}

func (a *App) Render() (*frame.Frame, error) {
	if len(a.slides) == 0 {
		return nil, nil
	}
	if err := a.fb.CopyFrom(a.slides[a.current]); err != nil {
		return nil, err
	}
	return a.fb, nil
}

// Slides returns how many images were loaded
func (a *App) Slides() int { return len(a.slides) }
