package util

import (
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"
)

// RandomRange returns a random integer between min and max
func RandomRange(min, max int) int {
	if max <= min {
		return min
	}
	return rand.IntN(max-min) + min
}

// FormatTimestamp renders d as m:ss, the way the effects panel shows
// positions. Unbounded durations render as ∞.
func FormatTimestamp(d time.Duration, unbounded bool) string {
	if unbounded {
		return "∞"
	}
	if d < 0 {
		d = 0
	}
	seconds := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// Within reports whether p, once cleaned, stays inside root. Both are
// compared lexically, symlinks are not followed.
func Within(root, p string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(p))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
