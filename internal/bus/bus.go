// Package bus carries sound messages between sessions.
package bus

import (
	"context"
	"sync"

	"github.com/toksikk/soundfx/internal/sfx"
)

// Bus broadcasts messages and delivers the ones other sessions sent.
type Bus interface {
	sfx.Broadcaster
	// Subscribe registers fn for every delivered message. The returned func
	// removes it again.
	Subscribe(fn func(context.Context, sfx.Message)) (cancel func())
}

// Hub is an in-process bus. Emit delivers synchronously to every
// subscriber, including the emitting session.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(context.Context, sfx.Message)
}

var _ Bus = (*Hub)(nil)

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]func(context.Context, sfx.Message))}
}

// Emit implements sfx.Broadcaster.
func (h *Hub) Emit(ctx context.Context, msg sfx.Message) error {
	h.deliver(ctx, msg)
	return nil
}

// Subscribe implements Bus.
func (h *Hub) Subscribe(fn func(context.Context, sfx.Message)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

func (h *Hub) deliver(ctx context.Context, msg sfx.Message) {
	h.mu.Lock()
	subs := make([]func(context.Context, sfx.Message), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	for _, fn := range subs {
		fn(ctx, msg)
	}
}
