package http

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/andrewsiemer/matrix-os/internal/domain/kernel"
	"github.com/andrewsiemer/matrix-os/internal/domain/scheduler"
	"github.com/andrewsiemer/matrix-os/internal/infrastructure/monitoring"
	"github.com/andrewsiemer/matrix-os/internal/shared/frame"
)

// MaxFrameScale bounds the ?scale= parameter of the frame endpoint
const MaxFrameScale = 16

// Kernel is the part of the kernel the monitor reads and controls
type Kernel interface {
	RunID() string
	Running() bool
	Size() (int, int)
	Apps() []kernel.AppInfo
	App(appID string) (kernel.AppInfo, bool)
	CurrentAppID() string
	CurrentFrame() (*frame.Frame, bool)
	ForceApp(appID string) error
	PauseApp(appID string) error
	ResumeApp(appID string) error
}

// Handlers contains the monitor's HTTP handlers
type Handlers struct {
	kernel  Kernel
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(k Kernel, metrics *monitoring.Metrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{kernel: k, metrics: metrics, logger: logger}
}

// Root identifies the service
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "matrix-os",
		"run_id":  h.kernel.RunID(),
	})
}

// Health reports whether the render loop is running
func (h *Handlers) Health(c *gin.Context) {
	width, height := h.kernel.Size()
	status, code := "healthy", http.StatusOK
	if !h.kernel.Running() {
		status, code = "stopped", http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":  status,
		"run_id":  h.kernel.RunID(),
		"apps":    len(h.kernel.Apps()),
		"current": h.kernel.CurrentAppID(),
		"display": gin.H{"width": width, "height": height},
	})
}

// ListApps lists every registered app
func (h *Handlers) ListApps(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"apps":    h.kernel.Apps(),
		"current": h.kernel.CurrentAppID(),
	})
}

// GetApp returns one app
func (h *Handlers) GetApp(c *gin.Context) {
	appID := c.Param("id")
	info, ok := h.kernel.App(appID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "app not found", "app_id": appID})
		return
	}
	c.JSON(http.StatusOK, info)
}

// Current returns the app being displayed
func (h *Handlers) Current(c *gin.Context) {
	appID := h.kernel.CurrentAppID()
	if appID == "" {
		c.JSON(http.StatusOK, gin.H{"current": nil})
		return
	}
	info, ok := h.kernel.App(appID)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"current": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"current": info})
}

// Frame renders the current frame as a PNG, optionally scaled up
func (h *Handlers) Frame(c *gin.Context) {
	scale := 1
	if raw := c.Query("scale"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxFrameScale {
			c.JSON(http.StatusBadRequest, gin.H{"error": "scale must be an integer in 1.." + strconv.Itoa(MaxFrameScale)})
			return
		}
		scale = n
	}

	f, ok := h.kernel.CurrentFrame()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame available"})
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, upscale(f.Image(), scale)); err != nil {
		h.logger.Error("Failed to encode frame", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode frame"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

// upscale enlarges img by an integer factor with nearest-neighbor sampling
func upscale(img *image.RGBA, scale int) *image.RGBA {
	if scale == 1 {
		return img
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx()*scale, b.Dy()*scale))
	for y := 0; y < b.Dy()*scale; y++ {
		src := img.Pix[(y/scale)*img.Stride:]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < b.Dx()*scale; x++ {
			copy(dst[x*4:x*4+4], src[(x/scale)*4:(x/scale)*4+4])
		}
	}
	return out
}

// FocusApp shows an app now
func (h *Handlers) FocusApp(c *gin.Context) {
	h.control(c, "focus", h.kernel.ForceApp)
}

// PauseApp stops an app from ticking
func (h *Handlers) PauseApp(c *gin.Context) {
	h.control(c, "pause", h.kernel.PauseApp)
}

// ResumeApp lets a paused app tick again
func (h *Handlers) ResumeApp(c *gin.Context) {
	h.control(c, "resume", h.kernel.ResumeApp)
}

func (h *Handlers) control(c *gin.Context, action string, fn func(string) error) {
	appID := c.Param("id")
	if err := fn(appID); err != nil {
		h.logger.Warn("Control request failed",
			zap.String("action", action),
			zap.String("app_id", appID),
			zap.Error(err),
		)
		c.JSON(statusFor(err), gin.H{
			"success": false,
			"app_id":  appID,
			"error":   err.Error(),
		})
		return
	}

	h.logger.Info("Control request", zap.String("action", action), zap.String("app_id", appID))
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"app_id":  appID,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, kernel.ErrAppNotFound), errors.Is(err, scheduler.ErrUnknownApp):
		return http.StatusNotFound
	case errors.Is(err, kernel.ErrNotRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
