// Package player holds the audio backends sounds are played through.
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/toksikk/soundfx/internal/util"
)

// ErrOutsideRoot is returned for local paths reaching above Root.
var ErrOutsideRoot = errors.New("path leaves the data directory")

// Opener fetches sound files. Paths starting with http are downloaded,
// everything else is read below Root.
type Opener struct {
	Root   string
	Client *http.Client
}

// Open returns the contents of path.
func (o *Opener) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if strings.HasPrefix(path, "http") {
		return o.fetch(ctx, path)
	}
	dir := o.Root
	if dir == "" {
		dir = "."
	}
	name := filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(path, "/")))
	if !util.Within(dir, name) {
		return nil, fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	rel, err := filepath.Rel(dir, name)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	// os.Root also refuses symlinks pointing out of the directory
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer root.Close()
	f, err := root.Open(rel)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return f, nil
}

func (o *Opener) fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetching %s: %s", url, resp.Status)
	}
	return resp.Body, nil
}
