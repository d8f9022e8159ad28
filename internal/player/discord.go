package player

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/toksikk/soundfx/internal/sfx"
)

// frameDuration is the length of one opus frame in a DCA file.
const frameDuration = 20 * time.Millisecond

// LoadDCA reads length-prefixed opus frames.
// DCA files are pre-computed sound files that are easy to send to Discord.
// eg: dca-rs --raw -i <input wav file> > <output file>
func LoadDCA(r io.Reader) ([][]byte, error) {
	var (
		frames  [][]byte
		opuslen int16
	)
	for {
		err := binary.Read(r, binary.LittleEndian, &opuslen)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return frames, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading dca frame length: %w", err)
		}
		if opuslen <= 0 {
			return nil, fmt.Errorf("invalid dca frame length %d", opuslen)
		}

		frame := make([]byte, opuslen)
		if _, err := io.ReadFull(r, frame); err != nil {
			return nil, fmt.Errorf("reading dca frame: %w", err)
		}
		frames = append(frames, frame)
	}
}

// VoiceJoiner opens voice connections. *discordgo.Session implements it.
type VoiceJoiner interface {
	ChannelVoiceJoin(gID, cID string, mute, deaf bool) (*discordgo.VoiceConnection, error)
}

// Discord plays DCA-encoded sounds into one voice channel. Opus frames can
// not be mixed, so concurrent sounds take turns.
type Discord struct {
	joiner    VoiceJoiner
	guildID   string
	channelID string
	opener    *Opener

	mu    sync.Mutex
	vc    *discordgo.VoiceConnection
	clips *lru.Cache[string, [][]byte]
	// turn is held by the playback currently sending.
	turn chan struct{}
}

var _ sfx.Backend = (*Discord)(nil)

// NewDiscord returns a backend joining guildID/channelID on first use.
func NewDiscord(joiner VoiceJoiner, guildID, channelID string, opener *Opener) (*Discord, error) {
	clips, err := lru.New[string, [][]byte](64)
	if err != nil {
		return nil, err
	}
	return &Discord{
		joiner:    joiner,
		guildID:   guildID,
		channelID: channelID,
		opener:    opener,
		clips:     clips,
		turn:      make(chan struct{}, 1),
	}, nil
}

// DCAPath maps a sound path to its pre-encoded counterpart.
func DCAPath(p string) string {
	return strings.TrimSuffix(p, path.Ext(p)) + ".dca"
}

// Play implements sfx.Backend. The gain is recorded but cannot be applied
// to pre-encoded frames.
func (d *Discord) Play(ctx context.Context, p string, volume float64) (sfx.Playback, error) {
	frames, err := d.load(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%s holds no audio", DCAPath(p))
	}
	vc, err := d.connection()
	if err != nil {
		return nil, err
	}

	pb := &voicePlayback{
		frames: frames,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	pb.SetVolume(volume)
	go d.send(vc, pb)
	return pb, nil
}

// Close leaves the voice channel.
func (d *Discord) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.vc == nil {
		return nil
	}
	err := d.vc.Disconnect()
	d.vc = nil
	return err
}

func (d *Discord) load(ctx context.Context, p string) ([][]byte, error) {
	key := DCAPath(p)
	if frames, ok := d.clips.Get(key); ok {
		return frames, nil
	}
	r, err := d.opener.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	frames, err := LoadDCA(r)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", key, err)
	}
	d.clips.Add(key, frames)
	return frames, nil
}

func (d *Discord) connection() (*discordgo.VoiceConnection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.vc != nil {
		return d.vc, nil
	}
	if d.joiner == nil {
		return nil, errors.New("no discord session")
	}
	vc, err := d.joiner.ChannelVoiceJoin(d.guildID, d.channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("joining voice channel %s: %w", d.channelID, err)
	}
	d.vc = vc
	return vc, nil
}

func (d *Discord) send(vc *discordgo.VoiceConnection, pb *voicePlayback) {
	defer close(pb.done)

	select {
	case d.turn <- struct{}{}:
	case <-pb.stop:
		return
	}
	defer func() { <-d.turn }()

	if err := vc.Speaking(true); err != nil {
		slog.Debug("could not set speaking", "error", err)
	}
	defer func() {
		if err := vc.Speaking(false); err != nil {
			slog.Debug("could not unset speaking", "error", err)
		}
	}()

	for _, frame := range pb.frames {
		select {
		case vc.OpusSend <- frame:
			pb.sent.Add(1)
		case <-pb.stop:
			return
		}
	}
}

type voicePlayback struct {
	frames [][]byte
	sent   atomic.Int64
	volume atomic.Uint64

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func (p *voicePlayback) Volume() float64 {
	return math.Float64frombits(p.volume.Load())
}

func (p *voicePlayback) SetVolume(v float64) {
	p.volume.Store(math.Float64bits(sfx.ClampVolume(v)))
}

func (p *voicePlayback) Position() time.Duration {
	return time.Duration(p.sent.Load()) * frameDuration
}

func (p *voicePlayback) Duration() time.Duration {
	return time.Duration(len(p.frames)) * frameDuration
}

func (p *voicePlayback) Stop() {
	p.once.Do(func() { close(p.stop) })
}

func (p *voicePlayback) Done() <-chan struct{} { return p.done }
