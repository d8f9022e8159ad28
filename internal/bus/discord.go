package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/toksikk/soundfx/internal/sfx"
)

// Prefix marks control channel messages carrying a sound message.
const Prefix = "sfx:"

// ChannelSession is the part of *discordgo.Session the control channel uses.
type ChannelSession interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	AddHandler(handler interface{}) func()
}

// Discord relays messages through a Discord text channel so sessions on
// different hosts see each other.
type Discord struct {
	session   ChannelSession
	channelID string
	local     *Hub
	remove    func()
}

var _ Bus = (*Discord)(nil)

// NewDiscord starts listening on channelID.
func NewDiscord(session ChannelSession, channelID string) *Discord {
	d := &Discord{session: session, channelID: channelID, local: NewHub()}
	d.remove = session.AddHandler(d.onMessageCreate)
	return d
}

// Emit implements sfx.Broadcaster. The message reaches local subscribers
// once Discord echoes it back.
func (d *Discord) Emit(ctx context.Context, msg sfx.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := d.session.ChannelMessageSend(d.channelID, Prefix+string(b), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("sending to control channel: %w", err)
	}
	return nil
}

// Subscribe implements Bus.
func (d *Discord) Subscribe(fn func(context.Context, sfx.Message)) func() {
	return d.local.Subscribe(fn)
}

// Close stops listening.
func (d *Discord) Close() {
	if d.remove != nil {
		d.remove()
	}
}

func (d *Discord) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.ChannelID != d.channelID {
		return
	}
	msg, ok, err := Decode(m.Content)
	if !ok {
		return
	}
	if err != nil {
		slog.Warn("dropping malformed sound message", "message", m.ID, "error", err)
		return
	}
	d.local.deliver(context.Background(), msg)
}

// Decode parses a control channel message. ok is false for messages that
// are not sound messages at all.
func Decode(content string) (msg sfx.Message, ok bool, err error) {
	payload, ok := strings.CutPrefix(content, Prefix)
	if !ok {
		return sfx.Message{}, false, nil
	}
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return sfx.Message{}, true, err
	}
	return msg, true, nil
}
