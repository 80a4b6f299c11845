package ipc

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/andrewsiemer/matrix-os/internal/infrastructure/monitoring"
)

var (
	ErrChannelExists = errors.New("channel already exists")
	ErrBusClosed     = errors.New("message bus closed")
)

// Drop directions, used as metric labels
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Config sizes the bus queues.
type Config struct {
	KernelQueueDepth int // shared app -> kernel queue
	AppQueueDepth    int // per-app kernel -> app queue
}

// DefaultConfig returns the default queue sizes
func DefaultConfig() Config {
	return Config{
		KernelQueueDepth: 256,
		AppQueueDepth:    32,
	}
}

// Handler observes inbound messages of one type.
type Handler func(Message)

// Bus owns every channel. It routes kernel -> app messages by id or to all
// apps, and exposes the shared app -> kernel queue through PollInbound.
// No bus operation blocks indefinitely.
type Bus struct {
	cfg     Config
	inbound chan Message

	mu          sync.RWMutex
	channels    map[string]*Channel
	subscribers map[MessageType][]Handler

	closed  atomic.Bool
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewBus creates a bus
func NewBus(cfg Config, logger *zap.Logger, metrics *monitoring.Metrics) *Bus {
	def := DefaultConfig()
	if cfg.KernelQueueDepth <= 0 {
		cfg.KernelQueueDepth = def.KernelQueueDepth
	}
	if cfg.AppQueueDepth <= 0 {
		cfg.AppQueueDepth = def.AppQueueDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Bus{
		cfg:         cfg,
		inbound:     make(chan Message, cfg.KernelQueueDepth),
		channels:    make(map[string]*Channel),
		subscribers: make(map[MessageType][]Handler),
		logger:      logger,
		metrics:     metrics,
	}
}

// CreateChannel creates the channel for appID
func (b *Bus) CreateChannel(appID string) (*Channel, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.channels[appID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrChannelExists, appID)
	}

	ch := &Channel{
		appID:  appID,
		toBus:  b.inbound,
		inbox:  make(chan Message, b.cfg.AppQueueDepth),
		done:   make(chan struct{}),
		logger: b.logger,
		onDrop: func(Message) {
			b.metrics.RecordMessageDropped(DirectionInbound)
		},
	}
	b.channels[appID] = ch
	return ch, nil
}

// RemoveChannel unbinds appID. Pending messages for the app are discarded
// and further sends on its channel are refused.
func (b *Bus) RemoveChannel(appID string) bool {
	b.mu.Lock()
	ch, ok := b.channels[appID]
	delete(b.channels, appID)
	b.mu.Unlock()

	if ok {
		ch.close()
	}
	return ok
}

// Channel returns the channel bound to appID
func (b *Bus) Channel(appID string) (*Channel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ch, ok := b.channels[appID]
	return ch, ok
}

// AppIDs returns the ids of all bound apps, sorted
func (b *Bus) AppIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.channels))
	for id := range b.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SendTo delivers msg to one app without blocking. A full app queue drops
// the message and logs one warning.
func (b *Bus) SendTo(appID string, msg Message) bool {
	ch, ok := b.Channel(appID)
	if !ok {
		b.logger.Warn("App not found in message bus", zap.String("app_id", appID), zap.Stringer("type", msg.Type))
		return false
	}
	if msg.Target == "" {
		msg.Target = appID
	}
	return b.deliver(ch, msg)
}

// Broadcast delivers msg to every bound app and returns how many accepted it
func (b *Bus) Broadcast(msg Message) int {
	b.mu.RLock()
	targets := make([]*Channel, 0, len(b.channels))
	for _, ch := range b.channels {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	msg.Target = BroadcastID
	delivered := 0
	for _, ch := range targets {
		if b.deliver(ch, msg) {
			delivered++
		}
	}
	return delivered
}

func (b *Bus) deliver(ch *Channel, msg Message) bool {
	if ch.deliver(msg) {
		return true
	}
	if ch.Closed() {
		return false
	}
	b.logger.Warn("App queue full, dropping message",
		zap.String("app_id", ch.AppID()),
		zap.Stringer("type", msg.Type),
	)
	b.metrics.RecordMessageDropped(DirectionOutbound)
	return false
}

// PollInbound returns the next app -> kernel message, waiting at most
// timeout. A non-positive timeout never waits.
func (b *Bus) PollInbound(timeout time.Duration) (Message, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	default:
	}
	if timeout <= 0 {
		return Message{}, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-b.inbound:
		return msg, true
	case <-timer.C:
		return Message{}, false
	}
}

// Pending returns the number of queued inbound messages
func (b *Bus) Pending() int {
	return len(b.inbound)
}

// Subscribe registers a handler for inbound messages of type t
func (b *Bus) Subscribe(t MessageType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers[t] = append(b.subscribers[t], h)
}

// Dispatch invokes the subscribers of msg.Type. Handler panics are
// recovered and logged.
func (b *Bus) Dispatch(msg Message) {
	b.mu.RLock()
	handlers := b.subscribers[msg.Type]
	b.mu.RUnlock()

	for _, h := range handlers {
		b.safeInvoke(h, msg)
	}
}

func (b *Bus) safeInvoke(h Handler, msg Message) {
	defer func() {
		if p := recover(); p != nil {
			b.logger.Error("Message subscriber panicked",
				zap.Stringer("type", msg.Type),
				zap.String("app_id", msg.Source),
				zap.Any("panic", p),
			)
		}
	}()
	h(msg)
}

// Close removes every channel and refuses new ones
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}

	b.mu.Lock()
	channels := b.channels
	b.channels = make(map[string]*Channel)
	b.mu.Unlock()

	for _, ch := range channels {
		ch.close()
	}
}
