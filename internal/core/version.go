package soundfx

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/toksikk/soundfx/internal/cfg"
)

var version = ""
var builddate = ""

// SetVersion records the values injected at link time.
func SetVersion(v, date string) {
	version = v
	builddate = date
}

// Version returns the module version, falling back to the build info.
func Version() string {
	if version == "" {
		if build, ok := debug.ReadBuildInfo(); ok {
			version = build.Main.Version
		}
	}
	return version
}

// LogVersion print version to log
func LogVersion() {
	slog.Info("Soundfx", "version", Version(), "built", builddate)
}

// Banner prints the version and the active components to w, or stdout when
// w is nil. conf may be nil.
func Banner(w io.Writer, conf *cfg.Config) {
	if w == nil {
		w = os.Stdout
	}
	banner := []string{
		"\n                       _  __      \n",
		"  ___  ___  _   _ _ __ | |/ _|_  __\n",
		" / __|/ _ \\| | | | '_ \\| | |_\\ \\/ /\n",
		" \\__ \\ (_) | |_| | | | | |  _|>  < \n",
		" |___/\\___/ \\__,_|_| |_|_|_| /_/\\_\\ %s\n(%s)\n\n",
	}

	built := builddate
	if !strings.Contains(built, runtime.Version()) {
		built += " using " + runtime.Version()
	}

	for _, v := range banner {
		if strings.Contains(v, "%s") {
			fmt.Fprintf(w, v, Version(), built)
		} else {
			fmt.Fprint(w, v)
		}
	}

	if conf == nil {
		return
	}
	fmt.Fprintf(w, "Audio backend: %s\n", conf.Sound.Backend)
	fmt.Fprintf(w, "Message bus:   %s\n", conf.Sound.Bus)
	fmt.Fprintf(w, "Sound scope:   %s\n", conf.Sound.Scope)
}
