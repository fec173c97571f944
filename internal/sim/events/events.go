package events

import (
	"sync"
	"time"
)

type Kind string

const (
	CreatureLoaded   Kind = "CREATURE_LOADED"
	CreatureUnloaded Kind = "CREATURE_UNLOADED"
	LoadingError     Kind = "LOADING_ERROR"

	MovementComplete Kind = "MOVEMENT_COMPLETE"
	EscapeStarted    Kind = "ESCAPE_STARTED"
	EscapeComplete   Kind = "ESCAPE_COMPLETE"

	GrabTarget    Kind = "GRAB_TARGET"
	ThrowTarget   Kind = "THROW_TARGET"
	GrabCancelled Kind = "GRAB_CANCELLED"

	CaptureModeEntered Kind = "CAPTURE_MODE_ENTERED"
	CaptureModeExited  Kind = "CAPTURE_MODE_EXITED"
	CaptureWarning     Kind = "CAPTURE_WARNING"
	CaptureResolved    Kind = "CAPTURE_RESOLVED"
	CaptureSuccess     Kind = "CAPTURE_SUCCESS"
	CaptureFail        Kind = "CAPTURE_FAIL"

	ProjectionSent      Kind = "PROJECTION_SENT"
	ProjectionDelivered Kind = "PROJECTION_DELIVERED"
	ProjectionFailed    Kind = "PROJECTION_FAILED"
	DeviceHealth        Kind = "DEVICE_HEALTH"

	SpawnRejected Kind = "SPAWN_REJECTED"
)

// Event is one occurrence published on the session bus.
type Event struct {
	Kind       Kind           `json:"kind"`
	Tick       uint64         `json:"tick"`
	AtMS       int64          `json:"at_ms"`
	InstanceID string         `json:"instance_id,omitempty"`
	CreatureID string         `json:"creature_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

type Handler func(Event)

type subscriber struct {
	id   int
	kind Kind // empty: all kinds
	fn   Handler
}

// Bus fans events out to every subscriber registered at publish time.
// Handlers run synchronously on the publishing goroutine.
type Bus struct {
	mu     sync.Mutex
	subs   []subscriber
	nextID int

	clock func() (uint64, time.Duration)
}

func NewBus() *Bus { return &Bus{} }

// SetClock installs the stamp source for events published without a tick.
func (b *Bus) SetClock(fn func() (tick uint64, at time.Duration)) {
	b.mu.Lock()
	b.clock = fn
	b.mu.Unlock()
}

func (b *Bus) Subscribe(kind Kind, fn Handler) (unsubscribe func()) {
	return b.add(kind, fn)
}

func (b *Bus) SubscribeAll(fn Handler) (unsubscribe func()) {
	return b.add("", fn)
}

func (b *Bus) add(kind Kind, fn Handler) func() {
	if b == nil || fn == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, kind: kind, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	if ev.Tick == 0 && ev.AtMS == 0 && b.clock != nil {
		tick, at := b.clock()
		ev.Tick = tick
		ev.AtMS = at.Milliseconds()
	}
	snapshot := make([]subscriber, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()

	for _, s := range snapshot {
		if s.kind == "" || s.kind == ev.Kind {
			s.fn(ev)
		}
	}
}
