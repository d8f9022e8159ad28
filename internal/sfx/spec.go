// Package sfx owns the sound-effect lifecycle of tabletop entities: which file
// an entity plays, the single live playback it may hold, and the process-wide
// list of effects that are currently audible.
package sfx

import (
	"errors"
	"strings"
)

// Flag keys stored on sound-bearing documents.
const (
	FlagSoundEffect  = "sound-effect"
	FlagVolume       = "volume"
	FlagHideName     = "hide-name"
	FlagHidePlaylist = "hide-playlist"
)

var (
	// ErrMissingEntity is returned by an EntityStore for unknown ids.
	ErrMissingEntity = errors.New("entity not found")
	// ErrResolution wraps failures to list the files behind a wildcard path.
	ErrResolution = errors.New("could not resolve sound files")
)

// Namespaces names the flag namespaces sounds are read from. Values only
// present in Legacy are copied into Primary the first time they are read.
type Namespaces struct {
	Primary string
	Legacy  string
}

// DefaultNamespaces matches the flag layout the tabletop host writes.
var DefaultNamespaces = Namespaces{
	Primary: "monks-sound-enhancements",
	Legacy:  "monks-little-details",
}

// SoundSpec is the persisted description of what an entity plays.
type SoundSpec struct {
	Path   string
	Volume float64
}

// IsWildcard reports whether path contains the wildcard marker.
func IsWildcard(path string) bool {
	return strings.Contains(path, "*")
}

// NormalizePath makes relative data paths absolute. URLs are left alone.
func NormalizePath(path string) string {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasPrefix(path, "http") {
		return path
	}
	return "/" + path
}

// ClampVolume keeps v inside [0,1].
func ClampVolume(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
