package sfx

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

type fakePlayback struct {
	mu      sync.Mutex
	volume  float64
	volumes []float64
	stopped bool
	once    sync.Once
	done    chan struct{}
}

func newFakePlayback(volume float64) *fakePlayback {
	return &fakePlayback{volume: volume, done: make(chan struct{})}
}

func (p *fakePlayback) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

func (p *fakePlayback) SetVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = v
	p.volumes = append(p.volumes, v)
}

func (p *fakePlayback) Position() time.Duration { return 0 }
func (p *fakePlayback) Duration() time.Duration { return 0 }

func (p *fakePlayback) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.once.Do(func() { close(p.done) })
}

func (p *fakePlayback) Done() <-chan struct{} { return p.done }

// end simulates the sound running out.
func (p *fakePlayback) end() { p.once.Do(func() { close(p.done) }) }

func (p *fakePlayback) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

type fakeBackend struct {
	mu    sync.Mutex
	plays []*fakePlayback
	paths []string
	err   error
	// gate, when set, holds every Play call until it is closed.
	gate chan struct{}
}

func (b *fakeBackend) Play(_ context.Context, path string, volume float64) (Playback, error) {
	b.mu.Lock()
	gate := b.gate
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	pb := newFakePlayback(volume)
	b.plays = append(b.plays, pb)
	b.paths = append(b.paths, path)
	return pb, nil
}

func (b *fakeBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.plays)
}

func (b *fakeBackend) last() (*fakePlayback, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.plays) == 0 {
		return nil, ""
	}
	return b.plays[len(b.plays)-1], b.paths[len(b.paths)-1]
}

type countingLister struct {
	mu    sync.Mutex
	calls int
	files []string
	err   error
}

func (l *countingLister) List(context.Context, string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return append([]string(nil), l.files...), nil
}

func (l *countingLister) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type flagKey struct{ doc, ns, key string }

type memFlags struct {
	mu    sync.Mutex
	flags map[flagKey]string
}

func newMemFlags() *memFlags {
	return &memFlags{flags: make(map[flagKey]string)}
}

func (m *memFlags) GetFlag(_ context.Context, doc, ns, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.flags[flagKey{doc, ns, key}]
	return v, ok, nil
}

func (m *memFlags) SetFlag(_ context.Context, doc, ns, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[flagKey{doc, ns, key}] = value
	return nil
}

type memEntities map[string]Entity

func (m memEntities) Entity(_ context.Context, uuid string) (*Entity, error) {
	e, ok := m[uuid]
	if !ok {
		return nil, ErrMissingEntity
	}
	return &e, nil
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []Message
}

func (b *recordingBroadcaster) Emit(_ context.Context, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, msg)
	return nil
}

func (b *recordingBroadcaster) actions() []Action {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Action, 0, len(b.sent))
	for _, m := range b.sent {
		out = append(out, m.Action)
	}
	return out
}

// fakeClock is the part of clockwork's fake clock the tests drive.
type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
	BlockUntilContext(ctx context.Context, n int) error
}

type fixture struct {
	clock    fakeClock
	backend  *fakeBackend
	lister   *countingLister
	flags    *memFlags
	entities memEntities
	bus      *recordingBroadcaster
	registry *Registry
	ctrl     *Controller
}

func newFixture(t *testing.T, session string, master float64) *fixture {
	t.Helper()
	f := &fixture{
		clock:    clockwork.NewFakeClock(),
		backend:  &fakeBackend{},
		lister:   &countingLister{},
		flags:    newMemFlags(),
		entities: memEntities{},
		bus:      &recordingBroadcaster{},
	}
	resolver, err := NewResolver(f.lister, 16, func(error) {})
	require.NoError(t, err)
	f.registry = NewRegistry(f.clock, 0)
	f.ctrl = NewController(Options{
		SessionID:    session,
		Backend:      f.backend,
		Resolver:     resolver,
		Registry:     f.registry,
		Entities:     f.entities,
		Broadcaster:  f.bus,
		Clock:        f.clock,
		MasterVolume: master,
		CombatSounds: true,
		Pick:         func(int) int { return 0 },
	})
	return f
}

// addEntity stores an actor with the given primary flags.
func (f *fixture) addEntity(t *testing.T, uuid, path, volume string) *Sounder {
	t.Helper()
	e := Entity{UUID: uuid, Name: "Entity " + uuid, Kind: KindActor, ActorType: "npc"}
	f.entities[uuid] = e
	ctx := context.Background()
	if path != "" {
		require.NoError(t, f.flags.SetFlag(ctx, uuid, DefaultNamespaces.Primary, FlagSoundEffect, path))
	}
	if volume != "" {
		require.NoError(t, f.flags.SetFlag(ctx, uuid, DefaultNamespaces.Primary, FlagVolume, volume))
	}
	return NewSounder(e, f.flags, DefaultNamespaces)
}

// completeFade advances the fake clock through a fade of duration d.
func (f *fixture) completeFade(t *testing.T, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 0; i < int(d/fadeStep); i++ {
		require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
		f.clock.Advance(fadeStep)
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel to close")
	}
}

// waitPlaying returns the entity's handle once it is audible and registered.
func (f *fixture) waitPlaying(t *testing.T, uuid string) *Handle {
	t.Helper()
	h, ok := f.ctrl.Handle(uuid)
	require.True(t, ok, "entity %s holds no handle", uuid)
	waitClosed(t, h.Started())
	require.Eventually(t, func() bool {
		for _, e := range f.registry.List() {
			if e.Handle == h {
				return true
			}
		}
		return false
	}, 2*time.Second, time.Millisecond)
	return h
}
