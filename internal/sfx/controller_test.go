package sfx

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToggleStartsThenStops(t *testing.T) {
	f := newFixture(t, "gm", 0.5)
	e := f.addEntity(t, "actor-1", "/sounds/roar.ogg", "0.8")
	ctx := context.Background()

	got, err := f.ctrl.Toggle(ctx, e, ToggleOptions{})
	require.NoError(t, err)
	assert.Equal(t, ActionPlay, got)

	h := f.waitPlaying(t, "actor-1")
	pb, path := f.backend.last()
	assert.Equal(t, "/sounds/roar.ogg", path)
	assert.InDelta(t, 0.4, pb.Volume(), 1e-9)
	assert.InDelta(t, 0.8, h.EffectiveVolume, 1e-9)
	assert.Equal(t, StatePlaying, h.State())

	got, err = f.ctrl.Toggle(ctx, e, ToggleOptions{})
	require.NoError(t, err)
	assert.Equal(t, ActionStop, got)

	_, held := f.ctrl.Handle("actor-1")
	assert.False(t, held, "handle is released before the fade completes")
	assert.False(t, pb.isStopped())

	f.completeFade(t, FadeOutDuration)
	waitClosed(t, h.Finished())

	assert.True(t, pb.isStopped())
	assert.Equal(t, StateStopped, h.State())
	assert.InDelta(t, 0, pb.Volume(), 1e-9)
	assert.Equal(t, 0, f.registry.Len())
	assert.Equal(t, []Action{ActionPlay, ActionStop}, f.bus.actions())
}

func TestTogglePlayMessageCarriesSound(t *testing.T) {
	f := newFixture(t, "gm", 1)
	e := f.addEntity(t, "actor-1", "/sounds/roar.ogg", "0.3")

	_, err := f.ctrl.Toggle(context.Background(), e, ToggleOptions{})
	require.NoError(t, err)
	f.waitPlaying(t, "actor-1")

	require.Len(t, f.bus.sent, 1)
	assert.Equal(t, Message{
		Action:    ActionPlay,
		UUID:      "actor-1",
		AudioFile: "/sounds/roar.ogg",
		Volume:    0.3,
		SenderID:  "gm",
	}, f.bus.sent[0])
}

func TestToggleDuringFadeStartsNewSound(t *testing.T) {
	f := newFixture(t, "gm", 1)
	e := f.addEntity(t, "actor-1", "/sounds/roar.ogg", "")
	ctx := context.Background()

	_, err := f.ctrl.Toggle(ctx, e, ToggleOptions{})
	require.NoError(t, err)
	first := f.waitPlaying(t, "actor-1")

	got, err := f.ctrl.Toggle(ctx, e, ToggleOptions{})
	require.NoError(t, err)
	require.Equal(t, ActionStop, got)

	got, err = f.ctrl.Toggle(ctx, e, ToggleOptions{})
	require.NoError(t, err)
	assert.Equal(t, ActionPlay, got)
	second := f.waitPlaying(t, "actor-1")
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, f.registry.Len())

	f.completeFade(t, FadeOutDuration)
	waitClosed(t, first.Finished())

	h, ok := f.ctrl.Handle("actor-1")
	require.True(t, ok, "finishing the faded sound must not release the new one")
	assert.Same(t, second, h)
	assert.Equal(t, 1, f.registry.Len())
}

func TestToggleForcedDirection(t *testing.T) {
	f := newFixture(t, "gm", 1)
	e := f.addEntity(t, "actor-1", "/sounds/roar.ogg", "")
	ctx := context.Background()

	got, err := f.ctrl.Toggle(ctx, e, ToggleOptions{Action: ActionStop})
	require.NoError(t, err)
	assert.Equal(t, ActionNone, got)
	assert.Equal(t, 0, f.backend.count())

	got, err = f.ctrl.Toggle(ctx, e, ToggleOptions{Action: ActionPlay})
	require.NoError(t, err)
	assert.Equal(t, ActionPlay, got)
	f.waitPlaying(t, "actor-1")

	got, err = f.ctrl.Toggle(ctx, e, ToggleOptions{Action: ActionPlay})
	require.NoError(t, err)
	assert.Equal(t, ActionNone, got)
	assert.Equal(t, 1, f.backend.count(), "an entity never holds two sounds")
}

func TestToggleEmptyResolutionPlaysNothing(t *testing.T) {
	f := newFixture(t, "gm", 1)
	e := f.addEntity(t, "actor-1", "/sounds/none*.ogg", "")

	got, err := f.ctrl.Toggle(context.Background(), e, ToggleOptions{})
	require.NoError(t, err)
	assert.Equal(t, ActionPlay, got)

	_, held := f.ctrl.Handle("actor-1")
	assert.False(t, held)
	assert.Equal(t, 0, f.backend.count())
	assert.Empty(t, f.bus.sent)
}

func TestToggleWithoutSoundPlaysNothing(t *testing.T) {
	f := newFixture(t, "gm", 1)
	e := f.addEntity(t, "actor-1", "", "")

	_, err := f.ctrl.Toggle(context.Background(), e, ToggleOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, f.backend.count())
	assert.Equal(t, 0, f.lister.count())
}

func TestTogglePicksFromWildcard(t *testing.T) {
	f := newFixture(t, "gm", 1)
	f.lister.files = []string{"/sounds/roar1.ogg", "/sounds/roar2.ogg", "/sounds/roar3.ogg"}
	f.ctrl.pick = func(n int) int { return n - 1 }
	e := f.addEntity(t, "actor-1", "/sounds/roar*.ogg", "")

	_, err := f.ctrl.Toggle(context.Background(), e, ToggleOptions{})
	require.NoError(t, err)
	f.waitPlaying(t, "actor-1")

	_, path := f.backend.last()
	assert.Equal(t, "/sounds/roar3.ogg", path)
}

func TestToggleDefaultsToFullVolume(t *testing.T) {
	tests := []struct {
		name   string
		volume string
		want   float64
	}{
		{name: "unset", volume: "", want: 1},
		{name: "zero counts as unset", volume: "0", want: 1},
		{name: "set", volume: "0.25", want: 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "gm", 1)
			e := f.addEntity(t, "actor-1", "/sounds/roar.ogg", tt.volume)

			_, err := f.ctrl.Toggle(context.Background(), e, ToggleOptions{})
			require.NoError(t, err)
			h := f.waitPlaying(t, "actor-1")
			assert.InDelta(t, tt.want, h.EffectiveVolume, 1e-9)
		})
	}
}

func TestToggleMigratesLegacyFlags(t *testing.T) {
	f := newFixture(t, "gm", 1)
	e := f.addEntity(t, "actor-1", "", "")
	ctx := context.Background()
	require.NoError(t, f.flags.SetFlag(ctx, "actor-1", DefaultNamespaces.Legacy, FlagSoundEffect, "/old/growl.ogg"))
	require.NoError(t, f.flags.SetFlag(ctx, "actor-1", DefaultNamespaces.Legacy, FlagVolume, "0.6"))

	got, err := f.ctrl.Toggle(ctx, e, ToggleOptions{})
	require.NoError(t, err)
	assert.Equal(t, ActionPlay, got)
	f.waitPlaying(t, "actor-1")

	path, ok, _ := f.flags.GetFlag(ctx, "actor-1", DefaultNamespaces.Primary, FlagSoundEffect)
	assert.True(t, ok)
	assert.Equal(t, "/old/growl.ogg", path)
	volume, ok, _ := f.flags.GetFlag(ctx, "actor-1", DefaultNamespaces.Primary, FlagVolume)
	assert.True(t, ok)
	assert.Equal(t, "0.6", volume)

	pb, played := f.backend.last()
	assert.Equal(t, "/old/growl.ogg", played)
	assert.InDelta(t, 0.6, pb.Volume(), 1e-9)
}

func TestSoundEndingNaturallyReleasesHandle(t *testing.T) {
	f := newFixture(t, "gm", 1)
	e := f.addEntity(t, "actor-1", "/sounds/roar.ogg", "")
	finished := make(chan struct{})

	_, err := f.ctrl.Toggle(context.Background(), e, ToggleOptions{OnFinish: func() { close(finished) }})
	require.NoError(t, err)
	h := f.waitPlaying(t, "actor-1")

	pb, _ := f.backend.last()
	pb.end()
	waitClosed(t, finished)

	assert.Equal(t, StateEnded, h.State())
	_, held := f.ctrl.Handle("actor-1")
	assert.False(t, held)
	assert.Equal(t, 0, f.registry.Len())
	assert.Equal(t, []Action{ActionPlay}, f.bus.actions(), "natural end is not broadcast")
}

func TestPlaybackFailureReleasesHandle(t *testing.T) {
	f := newFixture(t, "gm", 1)
	f.backend.err = errors.New("decode failed")
	e := f.addEntity(t, "actor-1", "/sounds/broken.ogg", "")

	got, err := f.ctrl.Toggle(context.Background(), e, ToggleOptions{})
	require.NoError(t, err)
	assert.Equal(t, ActionPlay, got)

	h, ok := f.ctrl.Handle("actor-1")
	if ok {
		waitClosed(t, h.Finished())
		assert.Equal(t, StateStopped, h.State())
		assert.Error(t, h.Err())
	}
	require.Eventually(t, func() bool {
		_, held := f.ctrl.Handle("actor-1")
		return !held
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 0, f.registry.Len())
	assert.Equal(t, []Action{ActionPlay}, f.bus.actions())
}

func TestMasterVolumeRescalesWithoutFade(t *testing.T) {
	f := newFixture(t, "gm", 1)
	ctx := context.Background()
	a := f.addEntity(t, "a", "/a.ogg", "0.5")
	b := f.addEntity(t, "b", "/b.ogg", "0.8")

	for _, e := range []*Sounder{a, b} {
		_, err := f.ctrl.Toggle(ctx, e, ToggleOptions{})
		require.NoError(t, err)
	}
	ha := f.waitPlaying(t, "a")
	hb := f.waitPlaying(t, "b")
	assert.InDelta(t, 0.5, ha.Gain(), 1e-9)
	assert.InDelta(t, 0.8, hb.Gain(), 1e-9)

	f.ctrl.SetMasterVolume(0.5)
	assert.InDelta(t, 0.25, ha.Gain(), 1e-9)
	assert.InDelta(t, 0.4, hb.Gain(), 1e-9)
	assert.InDelta(t, 0.5, f.ctrl.MasterVolume(), 1e-9)

	// new sounds start at the new master volume
	c := f.addEntity(t, "c", "/c.ogg", "1")
	_, err := f.ctrl.Toggle(ctx, c, ToggleOptions{})
	require.NoError(t, err)
	hc := f.waitPlaying(t, "c")
	assert.InDelta(t, 0.5, hc.Gain(), 1e-9)
}

func TestRemotePlayIsMirrored(t *testing.T) {
	tests := []struct {
		name     string
		sender   string
		wantPlay bool
	}{
		{name: "own message", sender: "player-1", wantPlay: false},
		{name: "other session", sender: "gm", wantPlay: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "player-1", 0.5)
			f.addEntity(t, "token-1", "", "")

			f.ctrl.HandleMessage(context.Background(), Message{
				Action:    ActionPlay,
				UUID:      "token-1",
				AudioFile: "/sounds/roar2.ogg",
				Volume:    0.6,
				SenderID:  tt.sender,
			})

			h, held := f.ctrl.Handle("token-1")
			assert.Equal(t, tt.wantPlay, held)
			if !tt.wantPlay {
				assert.Equal(t, 0, f.backend.count())
				return
			}
			h = f.waitPlaying(t, "token-1")
			pb, path := f.backend.last()
			assert.Equal(t, "/sounds/roar2.ogg", path)
			assert.InDelta(t, 0.3, pb.Volume(), 1e-9)
			assert.Equal(t, OriginRemote, h.Origin)
			assert.Empty(t, f.bus.sent, "mirrored sounds are not re-broadcast")
		})
	}
}

func TestRemotePlayForUnknownEntityIsIgnored(t *testing.T) {
	f := newFixture(t, "player-1", 1)

	f.ctrl.HandleMessage(context.Background(), Message{Action: ActionPlay, UUID: "gone", AudioFile: "/a.ogg", SenderID: "gm"})
	assert.Equal(t, 0, f.backend.count())
}

func TestRemoteStop(t *testing.T) {
	f := newFixture(t, "player-1", 1)
	f.addEntity(t, "token-1", "", "")
	ctx := context.Background()

	f.ctrl.HandleMessage(ctx, Message{Action: ActionPlay, UUID: "token-1", AudioFile: "/a.ogg", Volume: 1, SenderID: "gm"})
	h := f.waitPlaying(t, "token-1")

	// our own stop echo changes nothing
	f.ctrl.HandleMessage(ctx, Message{Action: ActionStop, UUID: "token-1", SenderID: "player-1"})
	_, held := f.ctrl.Handle("token-1")
	assert.True(t, held)

	f.ctrl.HandleMessage(ctx, Message{Action: ActionStop, UUID: "token-1", SenderID: "gm"})
	_, held = f.ctrl.Handle("token-1")
	assert.False(t, held)

	f.completeFade(t, FadeOutDuration)
	waitClosed(t, h.Finished())
	assert.Empty(t, f.bus.sent, "stopping a mirrored sound is not broadcast")
}

func TestRenderMessageAlwaysApplies(t *testing.T) {
	f := newFixture(t, "gm", 1)
	renders := 0
	f.ctrl.onRender = func() { renders++ }

	f.ctrl.HandleMessage(context.Background(), Message{Action: ActionRender, SenderID: "gm"})
	f.ctrl.HandleMessage(context.Background(), Message{Action: ActionRender, SenderID: "other"})
	assert.Equal(t, 2, renders)

	f.ctrl.RequestRender(context.Background())
	assert.Equal(t, 3, renders)
	assert.Equal(t, []Action{ActionRender}, f.bus.actions())
}

func TestAdvanceTurn(t *testing.T) {
	f := newFixture(t, "gm", 1)
	ctx := context.Background()
	goblin := f.addEntity(t, "goblin", "/goblin.ogg", "")
	orc := f.addEntity(t, "orc", "/orc.ogg", "")

	require.NoError(t, f.ctrl.AdvanceTurn(ctx, nil, goblin))
	f.waitPlaying(t, "goblin")

	require.NoError(t, f.ctrl.AdvanceTurn(ctx, goblin, orc))
	_, held := f.ctrl.Handle("goblin")
	assert.False(t, held)
	f.waitPlaying(t, "orc")

	f.ctrl.combat = false
	require.NoError(t, f.ctrl.AdvanceTurn(ctx, orc, goblin))
	_, held = f.ctrl.Handle("orc")
	assert.True(t, held, "disabled combat sounds leave playback alone")
}

func TestPreview(t *testing.T) {
	f := newFixture(t, "gm", 0.5)
	d := NewDialog("dialog-1", "Preview", "/sounds/preview.ogg", 0.7)
	ctx := context.Background()

	got, err := f.ctrl.Preview(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, ActionPlay, got)
	require.Eventually(t, func() bool { return f.backend.count() == 1 }, 2*time.Second, time.Millisecond)

	pb, _ := f.backend.last()
	assert.InDelta(t, 0.7, pb.Volume(), 1e-9, "previews ignore the master volume")
	assert.Equal(t, 0, f.registry.Len())
	assert.Empty(t, f.bus.sent)

	got, err = f.ctrl.Preview(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, ActionStop, got)
	require.Eventually(t, pb.isStopped, 2*time.Second, time.Millisecond, "previews stop without a fade")
}

func TestSetSoundForgetsResolution(t *testing.T) {
	f := newFixture(t, "gm", 1)
	f.lister.files = []string{"/sounds/a.ogg"}
	e := f.addEntity(t, "actor-1", "/sounds/*.ogg", "")
	ctx := context.Background()

	f.ctrl.resolver.Resolve(ctx, "actor-1", "/sounds/*.ogg")
	require.NoError(t, f.ctrl.SetSound(ctx, e, "sounds/new/*.ogg", 0.4))

	spec, err := e.Sound(ctx)
	require.NoError(t, err)
	assert.Equal(t, SoundSpec{Path: "/sounds/new/*.ogg", Volume: 0.4}, spec)

	f.ctrl.resolver.Resolve(ctx, "actor-1", spec.Path)
	assert.Equal(t, 2, f.lister.count())
}

func TestMasterVolumeChangedWhileStarting(t *testing.T) {
	f := newFixture(t, "gm", 1)
	f.backend.gate = make(chan struct{})
	e := f.addEntity(t, "actor-1", "/a.ogg", "0.8")

	_, err := f.ctrl.Toggle(context.Background(), e, ToggleOptions{})
	require.NoError(t, err)
	f.ctrl.SetMasterVolume(0.5)
	close(f.backend.gate)

	h := f.waitPlaying(t, "actor-1")
	require.Eventually(t, func() bool {
		return math.Abs(h.Gain()-0.4) < 1e-9
	}, 2*time.Second, time.Millisecond)
}

func TestSharedSoundSourceChangeIsPickedUp(t *testing.T) {
	f := newFixture(t, "gm", 1)
	ctx := context.Background()
	f.lister.files = []string{"/old/a.ogg"}
	actor := f.addEntity(t, "actor-1", "/old/*.ogg", "")

	tokenEntity := Entity{UUID: "token-1", Name: "Goblin token", Kind: KindToken, SoundSource: "actor-1"}
	f.entities["token-1"] = tokenEntity
	token := NewSounder(tokenEntity, f.flags, DefaultNamespaces)

	_, err := f.ctrl.Toggle(ctx, token, ToggleOptions{})
	require.NoError(t, err)
	f.waitPlaying(t, "token-1")
	_, played := f.backend.last()
	assert.Equal(t, "/old/a.ogg", played)
	_, err = f.ctrl.Toggle(ctx, token, ToggleOptions{Action: ActionStop})
	require.NoError(t, err)

	f.lister.mu.Lock()
	f.lister.files = []string{"/new/b.ogg"}
	f.lister.mu.Unlock()
	require.NoError(t, f.ctrl.SetSound(ctx, actor, "/new/*.ogg", 1))

	_, err = f.ctrl.Toggle(ctx, token, ToggleOptions{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.backend.count() == 2 }, 2*time.Second, time.Millisecond)
	_, played = f.backend.last()
	assert.Equal(t, "/new/b.ogg", played)
	assert.Equal(t, 2, f.lister.count())
}

func TestDiscardStopsSound(t *testing.T) {
	f := newFixture(t, "gm", 1)
	e := f.addEntity(t, "actor-1", "/a.ogg", "")

	_, err := f.ctrl.Toggle(context.Background(), e, ToggleOptions{})
	require.NoError(t, err)
	h := f.waitPlaying(t, "actor-1")

	f.ctrl.Discard("actor-1")
	waitClosed(t, h.Finished())
	_, held := f.ctrl.Handle("actor-1")
	assert.False(t, held)
}
