package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/andrewsiemer/matrix-os/internal/domain/ipc"
	"github.com/andrewsiemer/matrix-os/internal/infrastructure/monitoring"
	"github.com/andrewsiemer/matrix-os/internal/shared/frame"
)

func observedKernel(t *testing.T) (*Kernel, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	return newTestKernel(t, testConfig(), newSimulator(t), zap.New(core)), logs
}

func fromApp(t ipc.MessageType, appID string, payload any) ipc.Message {
	return ipc.NewMessage(t, appID, ipc.KernelID, payload)
}

func TestRouteLogsOneErrorPerFault(t *testing.T) {
	k, logs := observedKernel(t)
	appID := register(t, k, "solid", red, Placement{})

	k.route(fromApp(ipc.AppError, appID, ipc.Fault{Phase: ipc.PhaseUpdate, Cause: "division by zero"}))
	k.route(fromApp(ipc.AppError, appID, ipc.Fault{Phase: ipc.PhaseRender, Cause: "index out of range"}))

	entries := logs.FilterMessage("App error").All()
	require.Len(t, entries, 2)
	assert.Equal(t, appID, entries[0].ContextMap()["app_id"])
	assert.Equal(t, "update", entries[0].ContextMap()["phase"])
	assert.Equal(t, "index out of range", entries[1].ContextMap()["cause"])

	info, _ := k.App(appID)
	assert.Equal(t, uint64(2), info.Errors)
	assert.Equal(t, "registered", info.Status)
}

func TestRouteFatalFaultFailsAppOnce(t *testing.T) {
	k, logs := observedKernel(t)
	a := register(t, k, "solid", red, Placement{})
	b := register(t, k, "solid", green, Placement{})

	var failed []string
	k.OnRegistryChange(func(ev RegistryEvent) {
		if ev.Type == AppFailed {
			failed = append(failed, ev.AppID)
		}
	})

	fault := ipc.Fault{Phase: ipc.PhaseHost, Cause: "exit status 2"}
	k.route(fromApp(ipc.AppError, a, fault))
	k.route(fromApp(ipc.AppError, a, fault))

	assert.Equal(t, 1, logs.FilterMessage("App failed, removed from scheduling").Len())
	assert.Equal(t, []string{a}, failed)
	assert.Equal(t, b, k.CurrentAppID())
	assert.Equal(t, []string{b}, k.scheduler.Rotation())

	// a failed app's frames are ignored
	k.route(fromApp(ipc.FrameReady, a, solidFrame(frame.Red)))
	_, ok := k.scheduler.LastFrame(a)
	assert.False(t, ok)
}

func TestRouteFrameReady(t *testing.T) {
	k, logs := observedKernel(t)
	appID := register(t, k, "solid", red, Placement{})

	k.route(fromApp(ipc.FrameReady, appID, frame.New(testWidth+1, testHeight)))
	_, ok := k.scheduler.LastFrame(appID)
	assert.False(t, ok)
	assert.Equal(t, 1, logs.FilterMessage("Dropping frame with wrong dimensions").Len())

	k.route(fromApp(ipc.FrameReady, appID, "not a frame"))
	assert.Equal(t, 1, logs.FilterMessage("Dropping frame-ready message without a frame").Len())

	k.route(fromApp(ipc.FrameReady, "ghost_7", solidFrame(frame.Green)))
	_, ok = k.scheduler.LastFrame("ghost_7")
	assert.False(t, ok)

	k.route(fromApp(ipc.FrameReady, appID, solidFrame(frame.Blue)))
	f, ok := k.scheduler.LastFrame(appID)
	require.True(t, ok)
	assert.Equal(t, frame.Blue, f.At(0, 0))

	info, _ := k.App(appID)
	assert.Equal(t, uint64(1), info.Frames)
}

func TestRouteReadyAndDispatch(t *testing.T) {
	k, _ := observedKernel(t)
	appID := register(t, k, "solid", red, Placement{})

	var seen []ipc.MessageType
	k.Subscribe(ipc.AppReady, func(msg ipc.Message) { seen = append(seen, msg.Type) })
	k.Subscribe(ipc.AppError, func(msg ipc.Message) { seen = append(seen, msg.Type) })

	k.route(fromApp(ipc.AppReady, appID, nil))
	k.route(fromApp(ipc.AppError, appID, ipc.Fault{Phase: ipc.PhaseUpdate, Cause: "x"}))

	info, _ := k.App(appID)
	assert.Equal(t, "ready", info.Status)
	assert.Equal(t, []ipc.MessageType{ipc.AppReady, ipc.AppError}, seen)
}

func TestRenderRecordsMetrics(t *testing.T) {
	sim := newSimulator(t)
	metrics := monitoring.NewMetrics("kernel_test")
	k, err := New(Options{Config: testConfig(), Registry: testRegistry(), Sink: sim, Metrics: metrics})
	require.NoError(t, err)

	// sink not initialized: render fails and nothing reaches observers
	var observed int
	k.OnFrame(func(string, *frame.Frame) { observed++ })
	k.render("solid_1", solidFrame(frame.Red))
	assert.Zero(t, observed)
	assert.Zero(t, metrics.Snapshot().FramesRendered)

	require.NoError(t, sim.Initialize())
	k.render("solid_1", solidFrame(frame.Red))
	assert.Equal(t, 1, observed)
	assert.Equal(t, int64(1), metrics.Snapshot().FramesRendered)
}

func solidFrame(c frame.Color) *frame.Frame {
	f := frame.New(testWidth, testHeight)
	f.Clear(c)
	return f
}

func TestFailedContextExcludedWhenReportDropped(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	cfg := testConfig()
	cfg.Bus.KernelQueueDepth = 1
	k := newTestKernel(t, cfg, newSimulator(t), zap.New(core))
	t.Cleanup(func() { _ = k.sandbox.StopAll() })

	good := register(t, k, "solid", green, Placement{})
	bad := register(t, k, "broken", red, Placement{})

	// the render loop is not running, so nothing drains the kernel queue
	ch, ok := k.bus.Channel(good)
	require.True(t, ok)
	require.True(t, ch.Send(ipc.AppReady, nil))

	k.startApp(bad)

	require.Eventually(t, func() bool {
		info, _ := k.App(bad)
		return info.Status == "failed"
	}, waitFor, tick)
	assert.Equal(t, []string{good}, k.scheduler.Rotation())
	assert.NotZero(t, logs.FilterMessage("Kernel queue full, dropping message").Len())

	info, _ := k.App(bad)
	assert.Contains(t, info.LastError, "display font missing")
	assert.Equal(t, 1, logs.FilterMessage("App failed, removed from scheduling").Len())
}
