package http

import "github.com/gin-gonic/gin"

// Register mounts the monitor's REST routes
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	api := r.Group("/api")
	api.GET("/apps", h.ListApps)
	api.GET("/apps/:id", h.GetApp)
	api.POST("/apps/:id/focus", h.FocusApp)
	api.POST("/apps/:id/pause", h.PauseApp)
	api.POST("/apps/:id/resume", h.ResumeApp)
	api.GET("/current", h.Current)
	api.GET("/frame", h.Frame)
	api.GET("/metrics", h.Metrics)
}
