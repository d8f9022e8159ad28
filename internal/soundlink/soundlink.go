// Package soundlink renders @Sound[path allowpause]{label} markup into
// clickable sound links.
package soundlink

import (
	"html"
	"regexp"
	"strings"
)

var pattern = regexp.MustCompile(`@Sound\[([^\]]+)\](?:{([^}]+)})?`)

// Link is one parsed sound link.
type Link struct {
	Src   string `json:"src"`
	Label string `json:"label"`
	// AllowPause keeps the position when the link is clicked while playing.
	AllowPause bool `json:"allowpause"`
}

func parse(m []string) Link {
	fields := strings.Fields(m[1])
	l := Link{Label: m[2]}
	if len(fields) > 0 {
		l.Src = fields[0]
	}
	if len(fields) > 1 && fields[1] == "allowpause" {
		l.AllowPause = true
	}
	if l.Label == "" {
		l.Label = l.Src
	}
	return l
}

// Parse returns every link in text in order of appearance.
func Parse(text string) []Link {
	var links []Link
	for _, m := range pattern.FindAllStringSubmatch(text, -1) {
		links = append(links, parse(m))
	}
	return links
}

// HTML renders l as an anchor.
func (l Link) HTML() string {
	var b strings.Builder
	b.WriteString(`<a class="sound-link" draggable="true" data-src="`)
	b.WriteString(html.EscapeString(l.Src))
	b.WriteString(`"`)
	if l.AllowPause {
		b.WriteString(` data-allowpause="true"`)
	}
	b.WriteString(`><i class="fas fa-volume-up"></i> `)
	b.WriteString(html.EscapeString(l.Label))
	b.WriteString(`</a>`)
	return b.String()
}

// Enrich replaces every link in text with its HTML. The rest of text is
// left untouched.
func Enrich(text string) string {
	return pattern.ReplaceAllStringFunc(text, func(s string) string {
		return parse(pattern.FindStringSubmatch(s)).HTML()
	})
}
