package demux

import (
	"sync"
	"time"

	"github.com/duskrelay/soegateway/internal/wire"
)

// EventType is the kind of channel lifecycle event a Manager can emit.
// Adapted from the teacher's generic pub-sub EventManager (originally game
// events like EventPlayerConnect) into channel lifecycle notifications.
type EventType int

const (
	EventChannelEstablished EventType = iota
	EventChannelClosed
	EventChannelTimedOut
)

// Event describes one channel lifecycle transition.
type Event struct {
	Type      EventType
	Addr      string
	Reason    wire.DisconnectReason
	Timestamp time.Time
}

// EventHandler handles one Event.
type EventHandler func(Event)

// EventManager is a small synchronous pub-sub registry, guarded by a mutex
// since Manager fires events from whatever goroutine called HandleDatagram
// or Tick.
type EventManager struct {
	mu       sync.Mutex
	handlers map[EventType][]EventHandler
}

// NewEventManager creates an empty EventManager.
func NewEventManager() *EventManager {
	return &EventManager{handlers: make(map[EventType][]EventHandler)}
}

// Register adds a handler for eventType.
func (em *EventManager) Register(eventType EventType, handler EventHandler) {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.handlers[eventType] = append(em.handlers[eventType], handler)
}

// Trigger synchronously invokes every handler registered for event.Type.
func (em *EventManager) Trigger(event Event) {
	em.mu.Lock()
	handlers := append([]EventHandler(nil), em.handlers[event.Type]...)
	em.mu.Unlock()
	for _, h := range handlers {
		h(event)
	}
}
