package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LevelControl reads and changes the minimum log level at runtime.
// *logging.Logger implements it.
type LevelControl interface {
	Level() string
	SetLevel(level string) error
}

// LogLevel serves the kernel's log level
type LogLevel struct {
	levels LevelControl
	logger *zap.Logger
}

// NewLogLevel creates the log level handlers
func NewLogLevel(levels LevelControl, logger *zap.Logger) *LogLevel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogLevel{levels: levels, logger: logger}
}

// Register mounts GET and POST /api/log/level
func (h *LogLevel) Register(r gin.IRouter) {
	r.GET("/api/log/level", h.Get)
	r.POST("/api/log/level", h.Set)
}

// Get returns the current level
func (h *LogLevel) Get(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"level": h.levels.Level()})
}

// Set changes the level
func (h *LogLevel) Set(c *gin.Context) {
	var req struct {
		Level string `json:"level" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	from := h.levels.Level()
	if err := h.levels.SetLevel(req.Level); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// logged at warn so the change shows up whatever the new level is
	h.logger.Warn("Log level changed", zap.String("from", from), zap.String("to", h.levels.Level()))
	c.JSON(http.StatusOK, gin.H{"level": h.levels.Level()})
}
