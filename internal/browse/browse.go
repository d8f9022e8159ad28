// Package browse lists the files behind a wildcard sound path. Patterns are
// routed to the local data directory, an S3 bucket or a remote forge.
package browse

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/toksikk/soundfx/internal/sfx"
	"github.com/toksikk/soundfx/internal/util"
)

var (
	// ErrNoSource is returned when no lister is configured for a pattern.
	ErrNoSource = errors.New("no file source for pattern")
	// ErrOutsideRoot is returned for patterns reaching above the data
	// directory.
	ErrOutsideRoot = errors.New("pattern leaves the data directory")
)

// Source names where a pattern is listed.
type Source string

// Sources.
const (
	SourceData  Source = "data"
	SourceS3    Source = "s3"
	SourceForge Source = "forge"
)

var _ sfx.Lister = (*Router)(nil)

// Router dispatches List calls to the lister responsible for the pattern.
type Router struct {
	Local sfx.Lister
	S3    sfx.Lister
	Forge sfx.Lister
}

// Source reports which backend lists pattern.
func (r *Router) Source(pattern string) Source {
	switch {
	case strings.Contains(pattern, ".s3."):
		return SourceS3
	case r.Forge != nil:
		return SourceForge
	}
	return SourceData
}

// List implements sfx.Lister.
func (r *Router) List(ctx context.Context, pattern string) ([]string, error) {
	var l sfx.Lister
	switch r.Source(pattern) {
	case SourceS3:
		l = r.S3
	case SourceForge:
		l = r.Forge
	default:
		l = r.Local
	}
	if l == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSource, pattern)
	}
	return l.List(ctx, pattern)
}

// Local lists files below a data directory. Patterns are rooted at Root.
type Local struct {
	Root string
}

// List implements sfx.Lister. The directory containing the wildcard must
// exist.
func (l *Local) List(ctx context.Context, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel := strings.TrimPrefix(pattern, "/")
	dir := filepath.Join(l.Root, filepath.FromSlash(path.Dir(rel)))
	if !util.Within(l.Root, dir) {
		return nil, fmt.Errorf("%w: %s", ErrOutsideRoot, pattern)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", path.Dir(pattern), err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("listing %s: not a directory", path.Dir(pattern))
	}

	matches, err := filepath.Glob(filepath.Join(l.Root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", pattern, err)
	}
	files := make([]string, 0, len(matches))
	for _, m := range matches {
		if fi, err := os.Stat(m); err != nil || fi.IsDir() {
			continue
		}
		if !util.Within(l.Root, m) {
			continue
		}
		r, err := filepath.Rel(l.Root, m)
		if err != nil {
			continue
		}
		files = append(files, "/"+filepath.ToSlash(r))
	}
	sort.Strings(files)
	return files, nil
}
