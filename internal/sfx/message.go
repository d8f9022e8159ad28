package sfx

import "context"

// Action is both the direction of a broadcast message and the outcome of a
// toggle.
type Action string

// Actions.
const (
	ActionNone   Action = ""
	ActionPlay   Action = "play"
	ActionStop   Action = "stop"
	ActionRender Action = "render"
)

// Message is what sessions exchange to mirror each other's playback.
type Message struct {
	Action    Action  `json:"action"`
	UUID      string  `json:"uuid,omitempty"`
	AudioFile string  `json:"audiofile,omitempty"`
	Volume    float64 `json:"volume,omitempty"`
	SenderID  string  `json:"senderId"`
}

// Broadcaster delivers messages to the other sessions.
type Broadcaster interface {
	Emit(ctx context.Context, msg Message) error
}
