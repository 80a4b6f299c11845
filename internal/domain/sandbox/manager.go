package sandbox

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/andrewsiemer/matrix-os/internal/domain/app"
	"github.com/andrewsiemer/matrix-os/internal/domain/ipc"
	"github.com/andrewsiemer/matrix-os/internal/infrastructure/monitoring"
)

// Config controls execution contexts
type Config struct {
	StopGrace    time.Duration
	KillWait     time.Duration
	MinFramerate int
	MaxFramerate int
	Idle         time.Duration
	Host         Command
	HostLogLevel string
}

// DefaultConfig returns the default sandbox configuration
func DefaultConfig() Config {
	return Config{
		StopGrace:    2 * time.Second,
		KillWait:     time.Second,
		MinFramerate: 1,
		MaxFramerate: 60,
		Idle:         DefaultIdle,
		Host:         DefaultCommand(),
		HostLogLevel: "info",
	}
}

// Manager owns the execution context of every registered app
type Manager struct {
	cfg      Config
	registry *app.Registry
	bus      *ipc.Bus
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	mu       sync.RWMutex
	contexts map[string]Context // Protected by mu
}

// NewManager creates a sandbox manager. Apps are built from registry and
// receive control messages through bus.
func NewManager(cfg Config, registry *app.Registry, bus *ipc.Bus, logger *zap.Logger) *Manager {
	def := DefaultConfig()
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = def.StopGrace
	}
	if cfg.KillWait <= 0 {
		cfg.KillWait = def.KillWait
	}
	if cfg.MinFramerate <= 0 {
		cfg.MinFramerate = def.MinFramerate
	}
	if cfg.MaxFramerate < cfg.MinFramerate {
		cfg.MaxFramerate = max(def.MaxFramerate, cfg.MinFramerate)
	}
	if cfg.Idle <= 0 {
		cfg.Idle = def.Idle
	}
	if cfg.Host.Path == "" {
		cfg.Host = def.Host
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		cfg:      cfg,
		registry: registry,
		bus:      bus,
		logger:   logger,
		contexts: make(map[string]Context),
	}
}

// WithMetrics adds metrics tracking to the manager
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// Config returns the effective configuration
func (m *Manager) Config() Config {
	return m.cfg
}

// Register creates the execution context for unit without starting it.
// The isolation mode is derived from the unit's capabilities.
func (m *Manager) Register(unit Unit, ch *ipc.Channel) (Context, error) {
	if ch == nil || ch.AppID() != unit.AppID {
		return nil, fmt.Errorf("register %s: channel not bound to app", unit.AppID)
	}

	var ctx Context
	switch ModeFor(unit.Capabilities) {
	case ModeProcess:
		ctx = newProcessContext(unit, ch, m.cfg, m.logger)
	default:
		cfg := LoopConfig{
			Unit:     unit,
			Interval: FrameInterval(unit.Manifest.Framerate, m.cfg.MinFramerate, m.cfg.MaxFramerate),
			Idle:     m.cfg.Idle,
		}
		ctx = newThreadContext(unit.AppID, func() error {
			return RunLoop(m.registry, cfg, ch, m.logger)
		}, m.logger)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.contexts[unit.AppID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, unit.AppID)
	}
	m.contexts[unit.AppID] = ctx

	m.logger.Debug("Execution context registered",
		zap.String("app_id", unit.AppID),
		zap.Stringer("mode", ctx.Mode()),
	)
	return ctx, nil
}

// Unregister stops the app's context and forgets it. The context is removed
// even when stopping fails, so nothing stays orphaned in the manager.
func (m *Manager) Unregister(appID string) error {
	ctx, ok := m.get(appID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, appID)
	}

	err := m.stop(ctx)

	m.mu.Lock()
	delete(m.contexts, appID)
	m.mu.Unlock()

	return err
}

// Start starts one context
func (m *Manager) Start(appID string) error {
	ctx, ok := m.get(appID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, appID)
	}
	if err := ctx.Start(); err != nil {
		return err
	}
	m.metrics.RecordSandboxStart(ctx.Mode().String())
	m.logger.Info("Execution context started",
		zap.String("app_id", appID),
		zap.Stringer("mode", ctx.Mode()),
	)
	return nil
}

// StartAll starts every context that has not been started
func (m *Manager) StartAll() error {
	var errs []error
	for _, ctx := range m.snapshot() {
		if ctx.State() != StateCreated {
			continue
		}
		if err := m.Start(ctx.AppID()); err != nil {
			m.logger.Error("Failed to start execution context", zap.String("app_id", ctx.AppID()), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop asks the app to stop and waits out the grace period, escalating to
// a kill for process contexts.
func (m *Manager) Stop(appID string) error {
	ctx, ok := m.get(appID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, appID)
	}
	return m.stop(ctx)
}

// StopAll stops every context in parallel, each with the same grace
// period, so shutdown takes about one grace period in total.
func (m *Manager) StopAll() error {
	contexts := m.snapshot()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, ctx := range contexts {
		wg.Add(1)
		go func(ctx Context) {
			defer wg.Done()
			if err := m.stop(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(ctx)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (m *Manager) stop(ctx Context) error {
	if ctx.State().Terminal() {
		return nil
	}
	wasRunning := ctx.State() != StateCreated

	if wasRunning {
		m.bus.SendTo(ctx.AppID(), ipc.NewMessage(ipc.AppStop, ipc.KernelID, ctx.AppID(), nil))
	}
	err := ctx.Stop(m.cfg.StopGrace)

	if wasRunning {
		outcome := ctx.State().String()
		if err != nil && ctx.State() != StateAbandoned {
			outcome = "error"
		}
		m.metrics.RecordSandboxStop(ctx.Mode().String(), outcome)
	}

	if err != nil {
		m.logger.Warn("Execution context did not stop cleanly", zap.String("app_id", ctx.AppID()), zap.Error(err))
		return err
	}
	m.logger.Info("Execution context stopped",
		zap.String("app_id", ctx.AppID()),
		zap.Stringer("state", ctx.State()),
	)
	return nil
}

// Pause asks a running app to stop ticking
func (m *Manager) Pause(appID string) bool {
	return m.control(appID, ipc.AppPause)
}

// Resume asks a paused app to start ticking again
func (m *Manager) Resume(appID string) bool {
	return m.control(appID, ipc.AppResume)
}

func (m *Manager) control(appID string, t ipc.MessageType) bool {
	ctx, ok := m.get(appID)
	if !ok || ctx.State() != StateRunning {
		return false
	}
	return m.bus.SendTo(appID, ipc.NewMessage(t, ipc.KernelID, appID, nil))
}

// Get returns a snapshot of one context
func (m *Manager) Get(appID string) (Info, bool) {
	ctx, ok := m.get(appID)
	if !ok {
		return Info{}, false
	}
	return infoOf(ctx), true
}

// Done returns a channel closed when the app's context has terminated
func (m *Manager) Done(appID string) (<-chan struct{}, bool) {
	ctx, ok := m.get(appID)
	if !ok {
		return nil, false
	}
	return ctx.Done(), true
}

// List returns snapshots of all contexts, sorted by app id
func (m *Manager) List() []Info {
	contexts := m.snapshot()
	infos := make([]Info, 0, len(contexts))
	for _, ctx := range contexts {
		infos = append(infos, infoOf(ctx))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].AppID < infos[j].AppID })
	return infos
}

func infoOf(ctx Context) Info {
	return Info{AppID: ctx.AppID(), Mode: ctx.Mode(), State: ctx.State(), Err: ctx.Err()}
}

func (m *Manager) get(appID string) (Context, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ctx, ok := m.contexts[appID]
	return ctx, ok
}

func (m *Manager) snapshot() []Context {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Context, 0, len(m.contexts))
	for _, ctx := range m.contexts {
		out = append(out, ctx)
	}
	return out
}
