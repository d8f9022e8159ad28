package soundlink

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Link
	}{
		{name: "none", text: "just text", want: nil},
		{name: "bare", text: "@Sound[/sounds/door.ogg]", want: []Link{{Src: "/sounds/door.ogg", Label: "/sounds/door.ogg"}}},
		{name: "label", text: "open @Sound[/door.ogg]{the door} now", want: []Link{{Src: "/door.ogg", Label: "the door"}}},
		{name: "allowpause", text: "@Sound[/song.mp3 allowpause]{Song}", want: []Link{{Src: "/song.mp3", Label: "Song", AllowPause: true}}},
		{name: "unknown option", text: "@Sound[/song.mp3 loop]", want: []Link{{Src: "/song.mp3", Label: "/song.mp3"}}},
		{name: "several", text: "@Sound[/a.ogg]{A} and @Sound[/b.ogg]{B}", want: []Link{{Src: "/a.ogg", Label: "A"}, {Src: "/b.ogg", Label: "B"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.text))
		})
	}
}

func TestEnrich(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "plain",
			text: "Knock: @Sound[/door.ogg]{Door}!",
			want: `Knock: <a class="sound-link" draggable="true" data-src="/door.ogg"><i class="fas fa-volume-up"></i> Door</a>!`,
		},
		{
			name: "allowpause",
			text: "@Sound[/song.mp3 allowpause]",
			want: `<a class="sound-link" draggable="true" data-src="/song.mp3" data-allowpause="true"><i class="fas fa-volume-up"></i> /song.mp3</a>`,
		},
		{
			name: "escaped",
			text: `@Sound["/x.ogg]{<b>}`,
			want: `<a class="sound-link" draggable="true" data-src="&#34;/x.ogg"><i class="fas fa-volume-up"></i> &lt;b&gt;</a>`,
		},
		{name: "untouched", text: "no links <here>", want: "no links <here>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Enrich(tt.text))
		})
	}
}
