package player

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/hajimehoshi/ebiten/v2/audio/mp3"
	"github.com/hajimehoshi/ebiten/v2/audio/vorbis"
	"github.com/hajimehoshi/ebiten/v2/audio/wav"
	"github.com/toksikk/soundfx/internal/sfx"
)

// SampleRate of the speaker output.
const SampleRate = 48000

// pollInterval is how often a speaker playback checks whether it ended.
const pollInterval = 20 * time.Millisecond

// Speaker plays sounds on the local audio device.
type Speaker struct {
	ctx    *audio.Context
	opener *Opener
}

var _ sfx.Backend = (*Speaker)(nil)

// NewSpeaker returns a backend using the process wide audio context.
func NewSpeaker(opener *Opener) *Speaker {
	ctx := audio.CurrentContext()
	if ctx == nil {
		ctx = audio.NewContext(SampleRate)
	}
	return &Speaker{ctx: ctx, opener: opener}
}

type stream interface {
	io.ReadSeeker
	Length() int64
}

// decode picks the decoder by file extension.
func decode(name string, data []byte, sampleRate int) (stream, error) {
	r := bytes.NewReader(data)
	switch strings.ToLower(path.Ext(name)) {
	case ".wav":
		return wav.DecodeWithSampleRate(sampleRate, r)
	case ".mp3":
		return mp3.DecodeWithSampleRate(sampleRate, r)
	case ".ogg", ".oga":
		return vorbis.DecodeWithSampleRate(sampleRate, r)
	}
	return nil, fmt.Errorf("unsupported audio format %q", path.Ext(name))
}

// Play implements sfx.Backend.
func (s *Speaker) Play(ctx context.Context, p string, volume float64) (sfx.Playback, error) {
	r, err := s.opener.Open(ctx, p)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}

	st, err := decode(p, data, s.ctx.SampleRate())
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", p, err)
	}
	player, err := s.ctx.NewPlayer(st)
	if err != nil {
		return nil, fmt.Errorf("creating player for %s: %w", p, err)
	}
	player.SetVolume(sfx.ClampVolume(volume))
	player.Play()

	pb := &speakerPlayback{
		player:   player,
		// decoded streams are 16 bit stereo
		duration: time.Duration(st.Length()) * time.Second / time.Duration(s.ctx.SampleRate()*4),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go pb.watch()
	return pb, nil
}

type speakerPlayback struct {
	player   *audio.Player
	duration time.Duration

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func (p *speakerPlayback) watch() {
	defer close(p.done)
	defer p.player.Close()

	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			p.player.Pause()
			return
		case <-t.C:
			if !p.player.IsPlaying() {
				return
			}
		}
	}
}

func (p *speakerPlayback) Volume() float64         { return p.player.Volume() }
func (p *speakerPlayback) SetVolume(v float64)     { p.player.SetVolume(sfx.ClampVolume(v)) }
func (p *speakerPlayback) Position() time.Duration { return p.player.Position() }
func (p *speakerPlayback) Duration() time.Duration { return p.duration }
func (p *speakerPlayback) Done() <-chan struct{}   { return p.done }

func (p *speakerPlayback) Stop() {
	p.once.Do(func() { close(p.stop) })
}
