package sfx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/toksikk/soundfx/internal/util"
)

// FadeOutDuration is the ramp applied before a toggled sound is stopped.
const FadeOutDuration = 250 * time.Millisecond

// Options configures a Controller.
type Options struct {
	// SessionID identifies this process on the broadcast channel.
	SessionID string
	Backend   Backend
	Resolver  *Resolver
	Registry  *Registry
	// Entities is used to look up the targets of remote messages.
	Entities    EntityStore
	Broadcaster Broadcaster
	Clock       clockwork.Clock

	MasterVolume float64
	// CombatSounds enables AdvanceTurn.
	CombatSounds bool
	// OnRender is called when a render message arrives.
	OnRender func()
	// Pick returns an index in [0,n). Defaults to a uniform random pick.
	Pick func(n int) int
}

// ToggleOptions modifies a single Toggle call.
type ToggleOptions struct {
	// Action forces a direction. ActionNone toggles.
	Action Action
	// OnFinish runs when the started sound ends or is stopped.
	OnFinish func()
}

// Controller plays and stops entity sounds, keeping at most one handle per
// entity.
type Controller struct {
	sessionID   string
	backend     Backend
	resolver    *Resolver
	registry    *Registry
	entities    EntityStore
	broadcaster Broadcaster
	clock       clockwork.Clock
	combat      bool
	onRender    func()
	pick        func(n int) int

	mu       sync.Mutex
	handles  map[string]*Handle
	previews map[string]*Handle
	master   float64
}

// NewController builds a controller from o.
func NewController(o Options) *Controller {
	c := &Controller{
		sessionID:   o.SessionID,
		backend:     o.Backend,
		resolver:    o.Resolver,
		registry:    o.Registry,
		entities:    o.Entities,
		broadcaster: o.Broadcaster,
		clock:       o.Clock,
		combat:      o.CombatSounds,
		onRender:    o.OnRender,
		pick:        o.Pick,
		handles:     make(map[string]*Handle),
		previews:    make(map[string]*Handle),
		master:      ClampVolume(o.MasterVolume),
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.registry == nil {
		c.registry = NewRegistry(c.clock, 0)
	}
	if c.pick == nil {
		c.pick = func(n int) int { return util.RandomRange(0, n) }
	}
	return c
}

// SessionID returns the id this controller broadcasts with.
func (c *Controller) SessionID() string { return c.sessionID }

// Registry returns the registry active handles are listed in.
func (c *Controller) Registry() *Registry { return c.registry }

// Handle returns the handle entityID currently holds.
func (c *Controller) Handle(entityID string) (*Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[entityID]
	return h, ok
}

// MasterVolume returns the global multiplier.
func (c *Controller) MasterVolume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.master
}

// SetMasterVolume changes the global multiplier and rescales what is playing.
func (c *Controller) SetMasterVolume(v float64) {
	v = ClampVolume(v)
	c.mu.Lock()
	changed := c.master != v
	c.master = v
	c.mu.Unlock()
	if changed {
		slog.Info("master volume changed", "volume", v)
	}
	c.registry.OnGlobalVolumeChanged(v)
}

// Toggle stops the entity's sound if it has one, otherwise starts it.
//
// The handle is taken off the entity before its fade-out finishes, so a
// Toggle issued during the fade starts a new sound.
func (c *Controller) Toggle(ctx context.Context, e SoundCapable, opts ToggleOptions) (Action, error) {
	id := e.ID()

	c.mu.Lock()
	h := c.handles[id]
	if h != nil && opts.Action != ActionPlay {
		delete(c.handles, id)
		c.mu.Unlock()
		c.release(h)
		return ActionStop, nil
	}
	c.mu.Unlock()

	if h != nil || opts.Action == ActionStop {
		return ActionNone, nil
	}

	spec, err := e.Sound(ctx)
	if err != nil {
		return ActionNone, fmt.Errorf("reading sound of %s: %w", id, err)
	}

	files := c.resolver.Resolve(ctx, id, spec.Path)
	if len(files) == 0 {
		return ActionPlay, nil
	}
	file := files[c.pick(len(files))]

	if c.start(ctx, id, e.DisplayName(), file, spec.Volume, OriginLocal, opts.OnFinish) == nil {
		return ActionPlay, nil
	}
	c.emit(ctx, Message{Action: ActionPlay, UUID: id, AudioFile: file, Volume: spec.Volume})
	return ActionPlay, nil
}

// Preview plays a dialog's sound at its raw volume. Previews are neither
// registered nor broadcast, and a second call stops without fading.
func (c *Controller) Preview(ctx context.Context, d *Dialog) (Action, error) {
	id := d.ID()

	c.mu.Lock()
	if h, ok := c.previews[id]; ok {
		delete(c.previews, id)
		c.mu.Unlock()
		h.Stop()
		return ActionStop, nil
	}
	c.mu.Unlock()

	spec, err := d.Sound(ctx)
	if err != nil {
		return ActionNone, fmt.Errorf("reading sound of %s: %w", id, err)
	}
	files := c.resolver.Resolve(ctx, "", spec.Path)
	if len(files) == 0 {
		return ActionNone, nil
	}

	h := newHandle(c.clock, id, d.DisplayName(), files[c.pick(len(files))], spec.Volume, OriginPreview)
	c.mu.Lock()
	c.previews[id] = h
	c.mu.Unlock()
	h.OnFinish(func(h *Handle) {
		c.mu.Lock()
		if c.previews[id] == h {
			delete(c.previews, id)
		}
		c.mu.Unlock()
	})
	go h.start(context.WithoutCancel(ctx), c.backend, spec.Volume)
	return ActionPlay, nil
}

// SetSound stores a new sound on e and drops its cached file set.
func (c *Controller) SetSound(ctx context.Context, e SoundCapable, path string, volume float64) error {
	if err := e.SetSound(ctx, NormalizePath(path), volume); err != nil {
		return err
	}
	c.resolver.Forget(e.ID())
	return nil
}

// Discard forgets everything held in memory for entityID and stops its
// sound.
func (c *Controller) Discard(entityID string) {
	c.mu.Lock()
	h := c.handles[entityID]
	delete(c.handles, entityID)
	c.mu.Unlock()
	if h != nil {
		h.Stop()
	}
	c.resolver.Forget(entityID)
}

// AdvanceTurn stops the previous combatant's sound and toggles the current
// one. It does nothing unless combat sounds are enabled. Either may be nil.
func (c *Controller) AdvanceTurn(ctx context.Context, previous, current SoundCapable) error {
	if !c.combat {
		return nil
	}
	if previous != nil {
		if _, err := c.Toggle(ctx, previous, ToggleOptions{Action: ActionStop}); err != nil {
			return err
		}
	}
	if current != nil {
		if _, err := c.Toggle(ctx, current, ToggleOptions{}); err != nil {
			return err
		}
	}
	return nil
}

// RequestRender asks every session, this one included, to redraw.
func (c *Controller) RequestRender(ctx context.Context) {
	c.render()
	c.emit(ctx, Message{Action: ActionRender})
}

// HandleMessage applies a message from the broadcast channel. Play and stop
// messages sent by this session are ignored.
func (c *Controller) HandleMessage(ctx context.Context, msg Message) {
	switch msg.Action {
	case ActionRender:
		c.render()
		return
	case ActionPlay, ActionStop:
	default:
		slog.Debug("ignoring unknown sound message", "action", msg.Action)
		return
	}
	if msg.SenderID == c.sessionID {
		return
	}

	if msg.Action == ActionStop {
		c.mu.Lock()
		h := c.handles[msg.UUID]
		delete(c.handles, msg.UUID)
		c.mu.Unlock()
		if h != nil {
			c.release(h)
		}
		return
	}

	if msg.AudioFile == "" || c.entities == nil {
		return
	}
	e, err := c.entities.Entity(ctx, msg.UUID)
	if err != nil {
		if !errors.Is(err, ErrMissingEntity) {
			slog.Warn("could not look up entity for remote sound", "uuid", msg.UUID, "error", err)
		}
		return
	}
	c.start(ctx, e.UUID, e.Name, msg.AudioFile, msg.Volume, OriginRemote, nil)
}

// start attaches a new handle to entityID and starts playback in the
// background. It returns nil if the entity already holds a handle.
func (c *Controller) start(ctx context.Context, entityID, name, file string, volume float64, origin Origin, onFinish func()) *Handle {
	h := newHandle(c.clock, entityID, name, file, volume, origin)

	c.mu.Lock()
	if _, busy := c.handles[entityID]; busy {
		c.mu.Unlock()
		return nil
	}
	c.handles[entityID] = h
	gain := volume * c.master
	c.mu.Unlock()

	h.OnFinish(func(h *Handle) {
		c.mu.Lock()
		if c.handles[entityID] == h {
			delete(c.handles, entityID)
		}
		c.mu.Unlock()

		if err := h.Err(); err != nil {
			slog.Error("could not play sound", "entity", entityID, "path", file, "error", err)
		} else if h.Origin == OriginLocal && h.State() == StateStopped {
			c.emit(context.Background(), Message{Action: ActionStop, UUID: entityID})
		}
		if onFinish != nil {
			onFinish()
		}
	})

	go func() {
		h.start(context.WithoutCancel(ctx), c.backend, gain)
		if !h.Playing() {
			return
		}
		c.registry.Register(h)
		// the master volume may have changed while the backend was starting
		c.mu.Lock()
		held := c.handles[entityID] == h
		rescaled := volume * c.master
		c.mu.Unlock()
		if held {
			h.SetGain(rescaled)
		}
	}()
	slog.Debug("starting sound", "entity", entityID, "path", file, "volume", volume, "origin", origin)
	return h
}

// release fades a playing handle out and stops it. Handles that are not
// audible yet are stopped right away.
func (c *Controller) release(h *Handle) {
	if !h.Playing() {
		h.Stop()
		return
	}
	go func() {
		<-h.Fade(0, FadeOutDuration)
		h.Stop()
	}()
}

func (c *Controller) emit(ctx context.Context, msg Message) {
	if c.broadcaster == nil {
		return
	}
	msg.SenderID = c.sessionID
	if err := c.broadcaster.Emit(ctx, msg); err != nil {
		slog.Warn("could not broadcast sound message", "action", msg.Action, "uuid", msg.UUID, "error", err)
	}
}

func (c *Controller) render() {
	if c.onRender != nil {
		c.onRender()
	}
}
