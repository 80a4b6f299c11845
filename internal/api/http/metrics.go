package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/andrewsiemer/matrix-os/internal/infrastructure/monitoring"
)

// MetricsSnapshot is the JSON view of the kernel's metrics
type MetricsSnapshot struct {
	Timestamp time.Time           `json:"timestamp"`
	RunID     string              `json:"run_id"`
	Current   string              `json:"current"`
	Kernel    monitoring.Snapshot `json:"kernel"`
	Apps      []AppCounters       `json:"apps"`
}

// AppCounters are the per-app frame and error counts
type AppCounters struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Frames uint64 `json:"frames"`
	Errors uint64 `json:"errors"`
}

// Metrics returns a JSON snapshot of the kernel's metrics
func (h *Handlers) Metrics(c *gin.Context) {
	apps := h.kernel.Apps()
	counters := make([]AppCounters, 0, len(apps))
	for _, a := range apps {
		counters = append(counters, AppCounters{ID: a.ID, Status: a.Status, Frames: a.Frames, Errors: a.Errors})
	}

	c.JSON(http.StatusOK, MetricsSnapshot{
		Timestamp: time.Now(),
		RunID:     h.kernel.RunID(),
		Current:   h.kernel.CurrentAppID(),
		Kernel:    h.metrics.Snapshot(),
		Apps:      counters,
	})
}
