package main

import (
	"fmt"
	"os"

	soundfx "github.com/toksikk/soundfx/internal/core"
)

// set by -ldflags
var version = ""
var builddate = ""

func main() {
	soundfx.SetVersion(version, builddate)
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
