// Package webhook relays project notifications into per-project views.
package webhook

import (
	"context"
	"sync"

	"github.com/splax/lovablebridge/internal/domain"
)

// Listener receives notifications from a Source.
type Listener struct {
	OnPayload func(domain.WebhookPayload)
	OnError   func(error)
}

// Source is a transport delivering webhook payloads. Listen registers l and
// returns a function that removes it.
type Source interface {
	Listen(ctx context.Context, l Listener) (stop func(), err error)
}

// Bus is an in-process Source. Dispatch delivers synchronously to every
// registered listener.
type Bus struct {
	mu        sync.RWMutex
	listeners map[int]Listener
	next      int
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{listeners: make(map[int]Listener)}
}

// Listen registers l until the returned stop function is called or ctx is
// done.
func (b *Bus) Listen(ctx context.Context, l Listener) (func(), error) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.listeners[id] = l
	b.mu.Unlock()

	var once sync.Once
	stopped := make(chan struct{})
	stop := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
			close(stopped)
		})
	}
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				stop()
			case <-stopped:
			}
		}()
	}
	return stop, nil
}

// Dispatch delivers payload to all listeners.
func (b *Bus) Dispatch(payload domain.WebhookPayload) {
	for _, l := range b.snapshot() {
		if l.OnPayload != nil {
			l.OnPayload(payload)
		}
	}
}

// Fail reports err to all listeners.
func (b *Bus) Fail(err error) {
	for _, l := range b.snapshot() {
		if l.OnError != nil {
			l.OnError(err)
		}
	}
}

// Listeners reports how many listeners are registered.
func (b *Bus) Listeners() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

func (b *Bus) snapshot() []Listener {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		out = append(out, l)
	}
	return out
}
