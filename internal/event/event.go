// Package event implements the typed notification bus used by the connector
// to report lifecycle changes and inbound messages to the application.
package event

import (
	"encoding/json"
	"sync"
)

// Kind identifies a notification.
type Kind int

const (
	Connecting Kind = iota // a dial was started; URL is set
	Open                   // the link is established
	Error                  // dial timeout or transport failure
	Close                  // clean close of the link
	Received               // a JSON text frame arrived; Message is set
	Malformed              // a text frame could not be decoded; Raw and Err are set
)

func (k Kind) String() string {
	switch k {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Error:
		return "error"
	case Close:
		return "close"
	case Received:
		return "received"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Notification is the payload delivered to handlers. Only the fields that
// belong to Kind are populated.
type Notification struct {
	Kind    Kind
	URL     string
	Message json.RawMessage
	Raw     []byte
	Err     error
}

// Handler receives notifications of one Kind.
type Handler func(Notification)

type entry struct {
	id uint64
	fn Handler
}

// Bus dispatches notifications synchronously to the handlers registered for
// their Kind, in registration order. It is safe for concurrent use; handlers
// may subscribe or unsubscribe while a publish is in progress, which only
// affects later publishes.
type Bus struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[Kind][]entry
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Kind][]entry)}
}

// Subscribe registers fn for kind and returns a function that removes it.
func (b *Bus) Subscribe(kind Kind, fn Handler) (cancel func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[kind] = append(b.handlers[kind], entry{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(kind, id) })
	}
}

// Once registers fn so that it fires for the next notification of kind only.
func (b *Bus) Once(kind Kind, fn Handler) {
	var cancel func()
	var fired bool
	var mu sync.Mutex
	mu.Lock()
	defer mu.Unlock()
	cancel = b.Subscribe(kind, func(n Notification) {
		mu.Lock()
		if fired {
			mu.Unlock()
			return
		}
		fired = true
		mu.Unlock()
		cancel()
		fn(n)
	})
}

func (b *Bus) remove(kind Kind, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.handlers[kind]
	for i, e := range list {
		if e.id == id {
			// Copy so that a publish iterating the old slice is unaffected.
			next := make([]entry, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			b.handlers[kind] = next
			return
		}
	}
}

// Publish calls every handler registered for n.Kind.
func (b *Bus) Publish(n Notification) {
	b.mu.Lock()
	list := b.handlers[n.Kind]
	b.mu.Unlock()

	for _, e := range list {
		e.fn(n)
	}
}

// Len reports how many handlers are registered for kind.
func (b *Bus) Len(kind Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[kind])
}
