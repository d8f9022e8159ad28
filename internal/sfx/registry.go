package sfx

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// VolumeDebounce is the fade applied when a single effect's volume is changed
// from the panel.
const VolumeDebounce = 100 * time.Millisecond

// Effect is a registry entry.
type Effect struct {
	ID     string
	Handle *Handle
}

// Registry indexes the handles that are currently audible so they can be
// listed and rescaled. It does not start or own playback.
type Registry struct {
	clock    clockwork.Clock
	interval time.Duration

	mu       sync.Mutex
	effects  map[string]*Handle
	onChange func()
	ticker   clockwork.Ticker
	tickDone chan struct{}
}

// NewRegistry returns an empty registry. While it is non-empty the change
// callback also fires every refresh interval so timestamps can be redrawn. A
// zero interval disables the periodic refresh.
func NewRegistry(clock clockwork.Clock, refresh time.Duration) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{
		clock:    clock,
		interval: refresh,
		effects:  make(map[string]*Handle),
	}
}

// OnChange sets the function called whenever the listing should be redrawn.
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Register stores h under a fresh id. The entry is removed when h finishes.
func (r *Registry) Register(h *Handle) string {
	id := newEffectID()

	r.mu.Lock()
	r.effects[id] = h
	if len(r.effects) == 1 {
		r.startTicker()
	}
	r.mu.Unlock()

	r.changed()
	h.OnFinish(func(*Handle) { r.Unregister(id) })
	return id
}

// Unregister drops id. The refresh ticker stops once nothing is left.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	if _, ok := r.effects[id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.effects, id)
	if len(r.effects) == 0 {
		r.stopTicker()
	}
	r.mu.Unlock()

	r.changed()
}

// Get returns the handle registered under id.
func (r *Registry) Get(id string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.effects[id]
	return h, ok
}

// Len is the number of registered effects.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.effects)
}

// List returns the registered effects, oldest first.
func (r *Registry) List() []Effect {
	r.mu.Lock()
	list := make([]Effect, 0, len(r.effects))
	for id, h := range r.effects {
		list = append(list, Effect{ID: id, Handle: h})
	}
	r.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		a, b := list[i].Handle.StartedAt(), list[j].Handle.StartedAt()
		if a.Equal(b) {
			return list[i].ID < list[j].ID
		}
		return a.Before(b)
	})
	return list
}

// Stop stops the effect registered under id.
func (r *Registry) Stop(id string) bool {
	h, ok := r.Get(id)
	if !ok {
		return false
	}
	h.Stop()
	return true
}

// SetVolume fades one effect to volume.
func (r *Registry) SetVolume(id string, volume float64) bool {
	h, ok := r.Get(id)
	if !ok || !h.Playing() {
		return false
	}
	volume = ClampVolume(volume)
	if volume == h.Gain() {
		return true
	}
	h.Fade(volume, VolumeDebounce)
	return true
}

// OnGlobalVolumeChanged rescales every playing effect to its own volume
// times master, without a fade.
func (r *Registry) OnGlobalVolumeChanged(master float64) {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.effects))
	for _, h := range r.effects {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		if h.Playing() {
			h.SetGain(h.EffectiveVolume * master)
		}
	}
}

func (r *Registry) changed() {
	r.mu.Lock()
	fn := r.onChange
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// startTicker must be called with r.mu held.
func (r *Registry) startTicker() {
	if r.interval <= 0 || r.ticker != nil {
		return
	}
	t := r.clock.NewTicker(r.interval)
	done := make(chan struct{})
	r.ticker, r.tickDone = t, done
	go func() {
		for {
			select {
			case <-t.Chan():
				r.changed()
			case <-done:
				return
			}
		}
	}()
}

// stopTicker must be called with r.mu held.
func (r *Registry) stopTicker() {
	if r.ticker == nil {
		return
	}
	r.ticker.Stop()
	close(r.tickDone)
	r.ticker, r.tickDone = nil, nil
}

// ticking reports whether the refresh ticker runs.
func (r *Registry) ticking() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticker != nil
}

func newEffectID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
