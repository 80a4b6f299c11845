package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewsiemer/matrix-os/internal/infrastructure/monitoring"
	"github.com/andrewsiemer/matrix-os/internal/shared/frame"
)

func serve(t *testing.T, cfg Config) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub(cfg, nil, monitoring.NewMetrics("ws_test"))
	router := gin.New()
	router.GET("/ws", hub.HandleConnection)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, hub *Hub, url string) *websocket.Conn {
	t.Helper()
	before := hub.Clients()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	hello := read(t, conn)
	require.Equal(t, EventHello, hello.Type)
	require.NotEmpty(t, hello.ClientID)
	require.Eventually(t, func() bool { return hub.Clients() == before+1 }, time.Second, 5*time.Millisecond)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, sonic.Unmarshal(data, &ev))
	return ev
}

func TestStreamsFrames(t *testing.T) {
	hub, url := serve(t, Config{StreamFPS: 1000})
	conn := dial(t, hub, url)

	f := frame.New(2, 1)
	f.Set(1, 0, frame.Blue)
	hub.PublishFrame("dvd_1", f)

	ev := read(t, conn)
	assert.Equal(t, EventFrame, ev.Type)
	assert.Equal(t, "dvd_1", ev.AppID)
	assert.Equal(t, 2, ev.Width)
	assert.Equal(t, 1, ev.Height)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 255}, ev.Pixels)
}

func TestFramesAreThrottled(t *testing.T) {
	hub, url := serve(t, Config{StreamFPS: 1})
	conn := dial(t, hub, url)

	hub.PublishFrame("dvd_1", frame.New(2, 1))
	hub.PublishFrame("dvd_1", frame.New(2, 1))
	hub.PublishAppChange("dvd_1", "clock_2")

	assert.Equal(t, EventFrame, read(t, conn).Type)
	ev := read(t, conn)
	assert.Equal(t, EventAppChange, ev.Type)
	assert.Equal(t, "dvd_1", ev.Previous)
	assert.Equal(t, "clock_2", ev.AppID)
}

func TestPingPong(t *testing.T) {
	hub, url := serve(t, DefaultConfig())
	conn := dial(t, hub, url)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, EventPong, read(t, conn).Type)
}

func TestDisconnectRemovesClient(t *testing.T) {
	hub, url := serve(t, DefaultConfig())
	conn := dial(t, hub, url)
	dial(t, hub, url)
	require.Equal(t, 2, hub.Clients())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestPublishWithoutClients(t *testing.T) {
	hub := NewHub(DefaultConfig(), nil, nil)
	hub.PublishFrame("dvd_1", frame.New(2, 1))
	hub.PublishAppChange("", "dvd_1")
	assert.Zero(t, hub.Clients())
}

func TestCloseDisconnectsClients(t *testing.T) {
	hub, url := serve(t, DefaultConfig())
	conn := dial(t, hub, url)

	hub.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}
