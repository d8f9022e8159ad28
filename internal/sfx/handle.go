package sfx

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// fadeStep is the interval between gain updates during a fade.
const fadeStep = 25 * time.Millisecond

// Playback is a live sound produced by a Backend.
type Playback interface {
	Volume() float64
	SetVolume(v float64)
	// Position is how far playback has progressed.
	Position() time.Duration
	// Duration is the total length, or 0 when unknown.
	Duration() time.Duration
	Stop()
	// Done is closed once playback has ended or was stopped.
	Done() <-chan struct{}
}

// Backend starts playbacks of a resolved file at a given gain.
type Backend interface {
	Play(ctx context.Context, path string, volume float64) (Playback, error)
}

// State of a Handle.
type State int

// Handle states. Stopped and Ended are terminal.
const (
	StateStarting State = iota
	StatePlaying
	StateStopped
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StatePlaying:
		return "playing"
	case StateStopped:
		return "stopped"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

// Origin tells whether a handle was started here or mirrors a remote session.
type Origin int

// Handle origins.
const (
	OriginLocal Origin = iota
	OriginRemote
	OriginPreview
)

// Handle is the live state of one in-progress playback. It refers to its
// entity by id only.
type Handle struct {
	EntityID        string
	Name            string
	Path            string
	EffectiveVolume float64
	Origin          Origin

	clock clockwork.Clock

	mu            sync.Mutex
	state         State
	playback      Playback
	startedAt     time.Time
	stopRequested bool
	err           error
	callbacks     []func(*Handle)
	started       chan struct{}
	finished      chan struct{}
}

func newHandle(clock clockwork.Clock, entityID, name, path string, volume float64, origin Origin) *Handle {
	return &Handle{
		EntityID:        entityID,
		Name:            name,
		Path:            path,
		EffectiveVolume: volume,
		Origin:          origin,
		clock:           clock,
		started:         make(chan struct{}),
		finished:        make(chan struct{}),
	}
}

// State returns the current state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Playing reports whether the handle is producing audio.
func (h *Handle) Playing() bool {
	return h.State() == StatePlaying
}

// Err is the backend error for handles that never started.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// StartedAt is when playback was established.
func (h *Handle) StartedAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startedAt
}

// Started is closed when the handle leaves StateStarting.
func (h *Handle) Started() <-chan struct{} { return h.started }

// Finished is closed when the handle reaches a terminal state.
func (h *Handle) Finished() <-chan struct{} { return h.finished }

// Gain is the current output gain, 0 before playback starts.
func (h *Handle) Gain() float64 {
	pb := h.current()
	if pb == nil {
		return 0
	}
	return pb.Volume()
}

// SetGain applies v immediately.
func (h *Handle) SetGain(v float64) {
	if pb := h.current(); pb != nil {
		pb.SetVolume(ClampVolume(v))
	}
}

// Position returns how far playback has progressed.
func (h *Handle) Position() time.Duration {
	if pb := h.current(); pb != nil {
		return pb.Position()
	}
	return 0
}

// Duration is the total length of the sound, 0 when unknown.
func (h *Handle) Duration() time.Duration {
	if pb := h.current(); pb != nil {
		return pb.Duration()
	}
	return 0
}

// OnFinish registers fn to run once the handle is stopped or ends. If that
// already happened fn runs right away.
func (h *Handle) OnFinish(fn func(*Handle)) {
	h.mu.Lock()
	if h.state == StateStopped || h.state == StateEnded {
		h.mu.Unlock()
		fn(h)
		return
	}
	h.callbacks = append(h.callbacks, fn)
	h.mu.Unlock()
}

// Stop ends playback. A handle still starting is stopped as soon as its
// playback arrives.
func (h *Handle) Stop() {
	h.mu.Lock()
	h.stopRequested = true
	pb := h.playback
	h.mu.Unlock()
	if pb != nil {
		pb.Stop()
	}
}

// Fade ramps the gain to target over d. The returned channel is closed when
// the ramp is complete or playback went away. Fades cannot be cancelled.
func (h *Handle) Fade(target float64, d time.Duration) <-chan struct{} {
	done := make(chan struct{})
	pb := h.current()
	if pb == nil {
		close(done)
		return done
	}

	steps := int(d / fadeStep)
	if steps < 1 {
		steps = 1
	}
	interval := d / time.Duration(steps)
	from := pb.Volume()
	target = ClampVolume(target)

	go func() {
		defer close(done)
		for i := 1; i <= steps; i++ {
			select {
			case <-h.clock.After(interval):
			case <-pb.Done():
				return
			}
			pb.SetVolume(from + (target-from)*float64(i)/float64(steps))
		}
	}()
	return done
}

func (h *Handle) current() Playback {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playback
}

// start asks backend for the playback and moves the handle to Playing, or
// to Stopped when the backend fails.
func (h *Handle) start(ctx context.Context, backend Backend, gain float64) {
	pb, err := backend.Play(ctx, h.Path, ClampVolume(gain))

	h.mu.Lock()
	if err != nil {
		h.err = err
		h.mu.Unlock()
		close(h.started)
		h.finish(StateStopped)
		return
	}
	h.playback = pb
	h.state = StatePlaying
	h.startedAt = h.clock.Now()
	stop := h.stopRequested
	h.mu.Unlock()
	close(h.started)

	if stop {
		pb.Stop()
	}
	go h.watch(pb)
}

func (h *Handle) watch(pb Playback) {
	<-pb.Done()
	h.mu.Lock()
	state := StateEnded
	if h.stopRequested {
		state = StateStopped
	}
	h.mu.Unlock()
	h.finish(state)
}

func (h *Handle) finish(state State) {
	h.mu.Lock()
	if h.state == StateStopped || h.state == StateEnded {
		h.mu.Unlock()
		return
	}
	h.state = state
	callbacks := h.callbacks
	h.callbacks = nil
	h.mu.Unlock()

	for _, fn := range callbacks {
		fn(h)
	}
	close(h.finished)
}
