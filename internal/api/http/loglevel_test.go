package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/andrewsiemer/matrix-os/internal/infrastructure/logging"
)

func setupLogLevel(t *testing.T) (*gin.Engine, *logging.Logger, *observer.ObservedLogs) {
	t.Helper()
	logger, err := logging.New(logging.Config{Level: "info", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)

	core, logs := observer.New(zap.InfoLevel)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewLogLevel(logger, zap.New(core)).Register(router)
	return router, logger, logs
}

func post(router http.Handler, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestGetLogLevel(t *testing.T) {
	router, _, _ := setupLogLevel(t)

	w := do(router, http.MethodGet, "/api/log/level")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "info", decode(t, w)["level"])
}

func TestSetLogLevel(t *testing.T) {
	router, logger, logs := setupLogLevel(t)

	w := post(router, "/api/log/level", `{"level":"debug"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "debug", decode(t, w)["level"])
	assert.Equal(t, "debug", logger.Level())
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	entries := logs.FilterMessage("Log level changed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "info", entries[0].ContextMap()["from"])
	assert.Equal(t, "debug", entries[0].ContextMap()["to"])
}

func TestSetLogLevelRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown level", `{"level":"chatty"}`},
		{"missing level", `{}`},
		{"not json", `level=debug`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, logger, logs := setupLogLevel(t)

			w := post(router, "/api/log/level", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, decode(t, w)["error"])
			assert.Equal(t, "info", logger.Level())
			assert.Zero(t, logs.Len())
		})
	}
}
