package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/andrewsiemer/matrix-os/internal/domain/app"
	"github.com/andrewsiemer/matrix-os/internal/domain/ipc"
	"github.com/andrewsiemer/matrix-os/internal/domain/sandbox"
	"github.com/andrewsiemer/matrix-os/internal/domain/scheduler"
	"github.com/andrewsiemer/matrix-os/internal/infrastructure/display"
	"github.com/andrewsiemer/matrix-os/internal/infrastructure/monitoring"
	"github.com/andrewsiemer/matrix-os/internal/shared/frame"
	"github.com/andrewsiemer/matrix-os/internal/shared/id"
)

var (
	ErrSinkInit       = errors.New("output sink failed to initialize")
	ErrNotRunning     = errors.New("kernel not running")
	ErrAlreadyRunning = errors.New("kernel already running")
	ErrStopped        = errors.New("kernel already stopped")
	ErrAppNotFound    = errors.New("app not found")
)

// Config controls the render loop and the components the kernel owns.
type Config struct {
	TargetFPS       int
	MessageBatch    int
	PollTimeout     time.Duration
	DefaultDuration time.Duration
	PauseHidden     bool
	LoopStopTimeout time.Duration
	Bus             ipc.Config
	Sandbox         sandbox.Config
}

// DefaultConfig returns the default kernel configuration
func DefaultConfig() Config {
	return Config{
		TargetFPS:       60,
		MessageBatch:    10,
		PollTimeout:     100 * time.Microsecond,
		DefaultDuration: scheduler.DefaultDuration,
		LoopStopTimeout: 2 * time.Second,
		Bus:             ipc.DefaultConfig(),
		Sandbox:         sandbox.DefaultConfig(),
	}
}

// Options wires a kernel
type Options struct {
	Config   Config
	Registry *app.Registry
	Sink     display.Sink
	Logger   *zap.Logger
	Metrics  *monitoring.Metrics
	Clock    func() time.Time // scheduler clock, for tests
}

// FrameFunc observes every frame handed to the output sink
type FrameFunc func(appID string, f *frame.Frame)

// RegistryFunc observes app registration changes
type RegistryFunc func(RegistryEvent)

// Kernel is the composition root. It owns the bus, the sandbox manager
// and the scheduler, and runs the single render loop.
type Kernel struct {
	cfg      Config
	registry *app.Registry
	sink     display.Sink
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	bus       *ipc.Bus
	sandbox   *sandbox.Manager
	scheduler *scheduler.Scheduler

	ids    id.Sequence
	runID  string
	width  int
	height int

	mu    sync.RWMutex
	apps  map[string]*AppRecord // Protected by mu
	order []string              // Protected by mu

	lifecycle sync.Mutex
	running   atomic.Bool
	stopped   atomic.Bool
	stopLoop  chan struct{}
	loopDone  chan struct{}
	quit      chan struct{} // closed by Stop

	observersMu       sync.RWMutex
	frameObservers    []FrameFunc
	registryObservers []RegistryFunc
}

// New creates a kernel. Frames are sized to the sink.
func New(opts Options) (*Kernel, error) {
	if opts.Registry == nil {
		return nil, errors.New("kernel: registry is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("kernel: output sink is required")
	}
	cfg := withDefaults(opts.Config)

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	width, height := opts.Sink.Size()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("kernel: invalid sink size %dx%d", width, height)
	}

	schedOpts := []scheduler.Option{
		scheduler.WithLogger(logger.Named("scheduler")),
		scheduler.WithDefaultDuration(cfg.DefaultDuration),
	}
	if opts.Clock != nil {
		schedOpts = append(schedOpts, scheduler.WithClock(opts.Clock))
	}

	bus := ipc.NewBus(cfg.Bus, logger.Named("bus"), opts.Metrics)
	k := &Kernel{
		cfg:       cfg,
		registry:  opts.Registry,
		sink:      opts.Sink,
		logger:    logger.Named("kernel"),
		metrics:   opts.Metrics,
		bus:       bus,
		sandbox:   sandbox.NewManager(cfg.Sandbox, opts.Registry, bus, logger.Named("sandbox")).WithMetrics(opts.Metrics),
		scheduler: scheduler.New(schedOpts...),
		runID:     id.NewGenerator().NewRunID(),
		width:     width,
		height:    height,
		apps:      make(map[string]*AppRecord),
		quit:      make(chan struct{}),
	}
	k.scheduler.OnAppChange(k.appChanged)

	k.logger.Info("Kernel created",
		zap.String("run_id", k.runID),
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Int("target_fps", cfg.TargetFPS),
	)
	return k, nil
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = def.TargetFPS
	}
	if cfg.MessageBatch <= 0 {
		cfg.MessageBatch = def.MessageBatch
	}
	if cfg.PollTimeout < 0 {
		cfg.PollTimeout = 0
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = def.DefaultDuration
	}
	if cfg.LoopStopTimeout <= 0 {
		cfg.LoopStopTimeout = def.LoopStopTimeout
	}
	return cfg
}

// RunID identifies this kernel instance
func (k *Kernel) RunID() string { return k.runID }

// Size returns the frame dimensions every app renders at
func (k *Kernel) Size() (int, int) { return k.width, k.height }

// Running reports whether the render loop is active
func (k *Kernel) Running() bool { return k.running.Load() }

// RegisterApp validates spec, allocates an id and creates the app's
// channel, execution context and schedule entry. If the kernel is running
// the app starts immediately. Nothing is left behind on failure.
func (k *Kernel) RegisterApp(spec app.Spec, placement Placement) (string, error) {
	if k.stopped.Load() {
		return "", ErrStopped
	}
	def, err := k.registry.Resolve(spec)
	if err != nil {
		return "", err
	}
	if placement.Duration <= 0 {
		placement.Duration = k.cfg.DefaultDuration
	}

	appID := k.ids.Next(spec.Kind)
	rec := &AppRecord{
		ID:           appID,
		Spec:         spec,
		Manifest:     def.Manifest,
		Capabilities: def.Manifest.Capabilities,
		Mode:         sandbox.ModeFor(def.Manifest.Capabilities),
		Placement:    placement,
		RegisteredAt: time.Now(),
	}

	ch, err := k.bus.CreateChannel(appID)
	if err != nil {
		return "", err
	}
	unit := sandbox.Unit{
		AppID:        appID,
		Spec:         spec,
		Manifest:     def.Manifest,
		Capabilities: rec.Capabilities,
		Width:        k.width,
		Height:       k.height,
	}
	if _, err := k.sandbox.Register(unit, ch); err != nil {
		k.bus.RemoveChannel(appID)
		return "", err
	}

	k.mu.Lock()
	k.apps[appID] = rec
	k.order = append(k.order, appID)
	count := len(k.apps)
	k.mu.Unlock()

	err = k.scheduler.AddApp(scheduler.ScheduledApp{
		AppID:      appID,
		Priority:   placement.Priority,
		Duration:   placement.Duration,
		Overlay:    placement.Overlay,
		Persistent: placement.Persistent,
	})
	if err != nil {
		k.forget(appID)
		_ = k.sandbox.Unregister(appID)
		k.bus.RemoveChannel(appID)
		return "", err
	}

	k.metrics.SetAppsRegistered(count)
	k.logger.Info("App registered",
		zap.String("app_id", appID),
		zap.String("kind", spec.Kind),
		zap.Stringer("mode", rec.Mode),
		zap.Stringer("capabilities", rec.Capabilities),
	)

	if k.running.Load() {
		k.startApp(appID)
	}
	k.notifyRegistry(RegistryEvent{Type: AppRegistered, AppID: appID})
	return appID, nil
}

// UnregisterApp removes an app from the registry and scheduler, stops its
// execution context and removes its channel. It always completes, even
// when the context has to be abandoned.
func (k *Kernel) UnregisterApp(appID string) bool {
	if !k.forget(appID) {
		return false
	}

	k.scheduler.RemoveApp(appID)
	if err := k.sandbox.Unregister(appID); err != nil {
		k.logger.Warn("App did not stop cleanly", zap.String("app_id", appID), zap.Error(err))
	}
	k.bus.RemoveChannel(appID)

	k.metrics.SetAppsRegistered(k.appCount())
	k.logger.Info("App unregistered", zap.String("app_id", appID))
	k.notifyRegistry(RegistryEvent{Type: AppUnregistered, AppID: appID})
	return true
}

func (k *Kernel) forget(appID string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.apps[appID]; !ok {
		return false
	}
	delete(k.apps, appID)
	for i, other := range k.order {
		if other == appID {
			k.order = append(k.order[:i], k.order[i+1:]...)
			break
		}
	}
	return true
}

func (k *Kernel) appCount() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.apps)
}

// Start initializes the output sink, starts every execution context and
// then the render loop. A sink failure aborts start-up.
func (k *Kernel) Start() error {
	k.lifecycle.Lock()
	defer k.lifecycle.Unlock()

	if k.stopped.Load() {
		return ErrStopped
	}
	if k.running.Load() {
		return ErrAlreadyRunning
	}

	if err := k.initSink(); err != nil {
		k.logger.Error("Output sink failed to initialize", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrSinkInit, err)
	}

	k.running.Store(true)
	for _, appID := range k.appIDs() {
		k.startApp(appID)
	}

	k.stopLoop = make(chan struct{})
	k.loopDone = make(chan struct{})
	go k.loop(k.stopLoop, k.loopDone)

	k.logger.Info("Kernel started", zap.Int("apps", k.appCount()))
	return nil
}

func (k *Kernel) initSink() (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return k.sink.Initialize()
}

func (k *Kernel) startApp(appID string) {
	if err := k.sandbox.Start(appID); err != nil {
		if errors.Is(err, sandbox.ErrAlreadyStarted) {
			return
		}
		k.appFailed(appID, ipc.Fault{Phase: ipc.PhaseHost, Cause: err.Error()})
		return
	}
	if done, ok := k.sandbox.Done(appID); ok {
		go k.watch(appID, done)
	}
	if k.cfg.PauseHidden && !k.scheduler.IsActive(appID) {
		k.setPaused(appID, k.sandbox.Pause(appID))
	}
}

// watch fails the app when its execution context ends in StateFailed. The
// context's own error report can be dropped when the kernel queue is full.
func (k *Kernel) watch(appID string, done <-chan struct{}) {
	select {
	case <-done:
	case <-k.quit:
		return
	}
	info, ok := k.sandbox.Get(appID)
	if !ok || info.State != sandbox.StateFailed {
		return
	}
	fault := ipc.Fault{Phase: ipc.PhaseHost, Cause: "execution context failed"}
	if info.Mode == sandbox.ModeThread {
		// the lifecycle loop only returns an error when build or OnStart fails
		fault.Phase = ipc.PhaseStart
	}
	if info.Err != nil {
		fault.Cause = info.Err.Error()
	}
	k.appFailed(appID, fault)
}

// Stop broadcasts shutdown, stops every execution context, stops the
// render loop and shuts down the sink. A kernel cannot be restarted.
func (k *Kernel) Stop() error {
	k.lifecycle.Lock()
	defer k.lifecycle.Unlock()

	if !k.running.Load() {
		return ErrNotRunning
	}
	k.logger.Info("Kernel stopping")

	k.bus.Broadcast(ipc.NewMessage(ipc.SystemShutdown, ipc.KernelID, ipc.BroadcastID, nil))
	var errs []error
	if err := k.sandbox.StopAll(); err != nil {
		errs = append(errs, err)
	}

	close(k.stopLoop)
	select {
	case <-k.loopDone:
	case <-time.After(k.cfg.LoopStopTimeout):
		errs = append(errs, errors.New("render loop did not stop in time"))
	}
	k.running.Store(false)
	k.stopped.Store(true)
	close(k.quit)

	if err := k.sink.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("sink shutdown: %w", err))
	}
	k.bus.Close()

	err := errors.Join(errs...)
	if err != nil {
		k.logger.Warn("Kernel stopped with errors", zap.Error(err))
	} else {
		k.logger.Info("Kernel stopped")
	}
	return err
}

// Run starts the kernel, blocks until ctx is done, then stops it
func (k *Kernel) Run(ctx context.Context) error {
	if err := k.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return k.Stop()
}

// CurrentAppID returns the app whose frames are shown, or ""
func (k *Kernel) CurrentAppID() string {
	return k.scheduler.Current()
}

// ForceApp shows appID now and restarts its rotation clock
func (k *Kernel) ForceApp(appID string) error {
	return k.scheduler.ForceApp(appID)
}

// PauseApp asks an app to stop ticking
func (k *Kernel) PauseApp(appID string) error {
	return k.control(appID, true)
}

// ResumeApp asks a paused app to tick again
func (k *Kernel) ResumeApp(appID string) error {
	return k.control(appID, false)
}

func (k *Kernel) control(appID string, pause bool) error {
	if !k.hasApp(appID) {
		return fmt.Errorf("%w: %s", ErrAppNotFound, appID)
	}
	var ok bool
	if pause {
		ok = k.sandbox.Pause(appID)
	} else {
		ok = k.sandbox.Resume(appID)
	}
	if !ok {
		return fmt.Errorf("%w: %s is not accepting control messages", ErrNotRunning, appID)
	}
	k.setPaused(appID, pause)
	return nil
}

func (k *Kernel) setPaused(appID string, paused bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if rec, ok := k.apps[appID]; ok {
		rec.paused = paused
	}
}

func (k *Kernel) hasApp(appID string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.apps[appID]
	return ok
}

func (k *Kernel) appIDs() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := make([]string, len(k.order))
	copy(out, k.order)
	return out
}

// Apps returns snapshots of every app in registration order
func (k *Kernel) Apps() []AppInfo {
	current := k.scheduler.Current()

	k.mu.RLock()
	infos := make([]AppInfo, 0, len(k.order))
	for _, appID := range k.order {
		infos = append(infos, k.apps[appID].info())
	}
	k.mu.RUnlock()

	for i := range infos {
		infos[i].Current = infos[i].ID == current
		if sb, ok := k.sandbox.Get(infos[i].ID); ok {
			infos[i].Sandbox = sb.State.String()
		}
	}
	return infos
}

// App returns a snapshot of one app
func (k *Kernel) App(appID string) (AppInfo, bool) {
	k.mu.RLock()
	rec, ok := k.apps[appID]
	var info AppInfo
	if ok {
		info = rec.info()
	}
	k.mu.RUnlock()

	if !ok {
		return AppInfo{}, false
	}
	info.Current = appID == k.scheduler.Current()
	if sb, ok := k.sandbox.Get(appID); ok {
		info.Sandbox = sb.State.String()
	}
	return info, true
}

// CurrentFrame returns the latest frame of the current app
func (k *Kernel) CurrentFrame() (*frame.Frame, bool) {
	current := k.scheduler.Current()
	if current == "" {
		return nil, false
	}
	f, ok := k.scheduler.LastFrame(current)
	return f, ok && f != nil
}

// Subscribe observes inbound messages of one type after kernel routing
func (k *Kernel) Subscribe(t ipc.MessageType, h ipc.Handler) {
	k.bus.Subscribe(t, h)
}

// OnFrame registers a frame observer. Observers run on the render loop and
// must not block; panics are swallowed.
func (k *Kernel) OnFrame(fn FrameFunc) {
	k.observersMu.Lock()
	defer k.observersMu.Unlock()
	k.frameObservers = append(k.frameObservers, fn)
}

// OnAppChange registers an observer of current app changes
func (k *Kernel) OnAppChange(fn scheduler.ChangeFunc) {
	k.scheduler.OnAppChange(fn)
}

// OnRegistryChange registers an observer of app registration changes
func (k *Kernel) OnRegistryChange(fn RegistryFunc) {
	k.observersMu.Lock()
	defer k.observersMu.Unlock()
	k.registryObservers = append(k.registryObservers, fn)
}

func (k *Kernel) notifyRegistry(ev RegistryEvent) {
	k.observersMu.RLock()
	observers := k.registryObservers
	k.observersMu.RUnlock()

	for _, fn := range observers {
		k.safely("registry observer", func() { fn(ev) })
	}
}

func (k *Kernel) safely(what string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			k.logger.Error("Observer panicked", zap.String("observer", what), zap.Any("panic", p))
		}
	}()
	fn()
}

// appChanged keeps hidden apps paused when PauseHidden is set
func (k *Kernel) appChanged(previous, current string) {
	k.metrics.RecordAppSwitch()
	k.logger.Info("Current app changed", zap.String("previous", previous), zap.String("current", current))

	if !k.cfg.PauseHidden || !k.running.Load() {
		return
	}
	if previous != "" && !k.scheduler.IsActive(previous) {
		k.setPaused(previous, k.sandbox.Pause(previous))
	}
	if current != "" && k.sandbox.Resume(current) {
		k.setPaused(current, false)
	}
}
