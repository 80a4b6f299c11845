package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/andrewsiemer/matrix-os/internal/shared/frame"
)

var (
	ErrOverlayTaken = errors.New("overlay slot already taken")
	ErrUnknownApp   = errors.New("app not scheduled")
	ErrDuplicateApp = errors.New("app already scheduled")
)

// DefaultDuration is used for apps scheduled without a duration
const DefaultDuration = 15 * time.Second

// ScheduledApp is one app's scheduling entry. Priority is carried for
// callers but does not influence rotation order.
type ScheduledApp struct {
	AppID      string        `json:"app_id"`
	Priority   int           `json:"priority"`
	Duration   time.Duration `json:"duration"`
	Overlay    bool          `json:"overlay"`
	Persistent bool          `json:"persistent"`
}

// ChangeFunc observes current app changes. An empty id means no app.
type ChangeFunc func(previous, current string)

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock replaces the wall clock, for deterministic rotation
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithDefaultDuration sets the duration of apps scheduled without one
func WithDefaultDuration(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.defaultDuration = d
		}
	}
}

// Scheduler decides which app's latest frame is shown. The current app is
// always a member of the rotation, or empty when the rotation is empty.
type Scheduler struct {
	mu          sync.Mutex
	apps        map[string]ScheduledApp
	rotation    []string // non-overlay apps in insertion order
	index       int      // position of current in rotation, -1 if none
	current     string
	activatedAt time.Time
	overlay     string
	persistent  map[string]struct{}
	frames      map[string]*frame.Frame

	observersMu sync.RWMutex
	observers   []ChangeFunc

	now             func() time.Time
	defaultDuration time.Duration
	logger          *zap.Logger
}

// New creates an empty scheduler
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		apps:            make(map[string]ScheduledApp),
		index:           -1,
		persistent:      make(map[string]struct{}),
		frames:          make(map[string]*frame.Frame),
		now:             time.Now,
		defaultDuration: DefaultDuration,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type change struct {
	previous, current string
}

// AddApp schedules an app. An overlay takes the single overlay slot; any
// other app joins the rotation and becomes current if nothing is.
func (s *Scheduler) AddApp(app ScheduledApp) error {
	if app.Duration <= 0 {
		app.Duration = s.defaultDuration
	}

	s.mu.Lock()
	if _, exists := s.apps[app.AppID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateApp, app.AppID)
	}
	if app.Overlay && s.overlay != "" {
		taken := s.overlay
		s.mu.Unlock()
		return fmt.Errorf("%w: held by %s", ErrOverlayTaken, taken)
	}

	s.apps[app.AppID] = app
	if app.Persistent {
		s.persistent[app.AppID] = struct{}{}
	}

	var ch *change
	if app.Overlay {
		s.overlay = app.AppID
	} else {
		s.rotation = append(s.rotation, app.AppID)
		if s.current == "" {
			ch = s.activate(len(s.rotation) - 1)
		}
	}
	s.mu.Unlock()

	s.logger.Debug("App scheduled",
		zap.String("app_id", app.AppID),
		zap.Duration("duration", app.Duration),
		zap.Bool("overlay", app.Overlay),
		zap.Bool("persistent", app.Persistent),
	)
	s.notify(ch)
	return nil
}

// RemoveApp unschedules an app and drops its frame. Removing the current
// app promotes the next one in rotation order immediately.
func (s *Scheduler) RemoveApp(appID string) bool {
	s.mu.Lock()
	if _, ok := s.apps[appID]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.apps, appID)
	delete(s.frames, appID)
	delete(s.persistent, appID)
	if s.overlay == appID {
		s.overlay = ""
	}

	var ch *change
	if i := s.position(appID); i >= 0 {
		s.rotation = append(s.rotation[:i], s.rotation[i+1:]...)
		switch {
		case appID == s.current && len(s.rotation) == 0:
			ch = &change{previous: s.current}
			s.current, s.index = "", -1
		case appID == s.current:
			// the next entry slid into position i
			ch = s.activate(i % len(s.rotation))
		case i < s.index:
			s.index--
		}
	}
	s.mu.Unlock()

	s.notify(ch)
	return true
}

// SubmitFrame stores the latest frame of a scheduled app, replacing the
// previous one.
func (s *Scheduler) SubmitFrame(appID string, f *frame.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.apps[appID]; !ok {
		return false
	}
	s.frames[appID] = f
	return true
}

// Tick advances the rotation if the current app has used up its duration
// and returns the current app's latest frame. It returns false when there
// is no current app or it has not produced a frame yet.
func (s *Scheduler) Tick() (*frame.Frame, bool) {
	_, f, ok := s.TickApp()
	return f, ok
}

// TickApp is Tick that also returns the id of the app the frame belongs
// to, read under the same lock as the frame.
func (s *Scheduler) TickApp() (string, *frame.Frame, bool) {
	s.mu.Lock()
	var ch *change
	if s.current != "" && len(s.rotation) > 1 {
		now := s.now()
		// bounded by one full cycle; a longer stall restarts the clock
		for steps := 0; now.Sub(s.activatedAt) >= s.apps[s.current].Duration; steps++ {
			if steps == len(s.rotation) {
				s.activatedAt = now
				break
			}
			due := s.activatedAt.Add(s.apps[s.current].Duration)
			prev := s.current
			s.activate((s.index + 1) % len(s.rotation))
			s.activatedAt = due
			if ch == nil {
				ch = &change{previous: prev}
			}
		}
		if ch != nil {
			ch.current = s.current
			if ch.previous == ch.current {
				ch = nil
			}
		}
	}
	current := s.current
	f, ok := s.frames[current]
	s.mu.Unlock()

	s.notify(ch)
	return current, f, ok && f != nil
}

// ForceApp makes a rotation member current and restarts its clock
func (s *Scheduler) ForceApp(appID string) error {
	s.mu.Lock()
	i := s.position(appID)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is not in rotation", ErrUnknownApp, appID)
	}
	ch := s.activate(i)
	s.mu.Unlock()

	s.notify(ch)
	return nil
}

// activate makes rotation[i] current. Caller holds mu.
func (s *Scheduler) activate(i int) *change {
	prev := s.current
	s.index = i
	s.current = s.rotation[i]
	s.activatedAt = s.now()
	if prev == s.current {
		return nil
	}
	return &change{previous: prev, current: s.current}
}

// position returns the rotation index of appID, or -1. Caller holds mu.
func (s *Scheduler) position(appID string) int {
	for i, id := range s.rotation {
		if id == appID {
			return i
		}
	}
	return -1
}

// OnAppChange registers an observer of current app changes. Observers run
// on the caller's goroutine outside the scheduler lock; panics are logged
// and swallowed.
func (s *Scheduler) OnAppChange(fn ChangeFunc) {
	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Scheduler) notify(ch *change) {
	if ch == nil {
		return
	}
	s.observersMu.RLock()
	observers := s.observers
	s.observersMu.RUnlock()

	for _, fn := range observers {
		s.call(fn, ch)
	}
}

func (s *Scheduler) call(fn ChangeFunc, ch *change) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("App change observer panicked",
				zap.String("previous", ch.previous),
				zap.String("current", ch.current),
				zap.Any("panic", p),
			)
		}
	}()
	fn(ch.previous, ch.current)
}

// Current returns the current app id, or "" when the rotation is empty
func (s *Scheduler) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Overlay returns the overlay app id
func (s *Scheduler) Overlay() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlay, s.overlay != ""
}

// Rotation returns the rotation order
func (s *Scheduler) Rotation() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.rotation))
	copy(out, s.rotation)
	return out
}

// Apps returns every scheduled app, rotation first, then the overlay
func (s *Scheduler) Apps() []ScheduledApp {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ScheduledApp, 0, len(s.apps))
	for _, id := range s.rotation {
		out = append(out, s.apps[id])
	}
	if s.overlay != "" {
		out = append(out, s.apps[s.overlay])
	}
	return out
}

// Get returns one app's entry
func (s *Scheduler) Get(appID string) (ScheduledApp, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.apps[appID]
	return app, ok
}

// ActiveApps returns the apps that must keep running: the current app, the
// overlay, and every persistent app.
func (s *Scheduler) ActiveApps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(s.persistent)+2)
	var out []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	add(s.current)
	add(s.overlay)
	persistent := make([]string, 0, len(s.persistent))
	for id := range s.persistent {
		persistent = append(persistent, id)
	}
	sort.Strings(persistent)
	for _, id := range persistent {
		add(id)
	}
	return out
}

// IsActive reports whether appID is in ActiveApps
func (s *Scheduler) IsActive(appID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if appID == s.current || appID == s.overlay {
		return appID != ""
	}
	_, ok := s.persistent[appID]
	return ok
}

// LastFrame returns the latest frame submitted by appID
func (s *Scheduler) LastFrame(appID string) (*frame.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.frames[appID]
	return f, ok
}
