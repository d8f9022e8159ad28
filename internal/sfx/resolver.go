package sfx

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds how many entities keep a resolved file set.
const DefaultCacheSize = 1024

// Lister expands a wildcard pattern into concrete file paths.
type Lister interface {
	List(ctx context.Context, pattern string) ([]string, error)
}

// Resolver turns sound paths into candidate files. Wildcard results are
// cached per entity until the entity is forgotten or evicted, or its pattern
// changes; they are never rescanned.
type Resolver struct {
	lister Lister
	notify func(error)

	mu    sync.Mutex
	cache *lru.Cache[string, resolved]
}

// resolved is a cached file set and the pattern it was listed for.
type resolved struct {
	pattern string
	files   []string
}

// NewResolver returns a resolver listing through lister. notify receives
// listing failures for display to the user and may be nil.
func NewResolver(lister Lister, size int, notify func(error)) (*Resolver, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, resolved](size)
	if err != nil {
		return nil, err
	}
	if notify == nil {
		notify = func(err error) { slog.Warn("sound resolution failed", "error", err) }
	}
	return &Resolver{lister: lister, notify: notify, cache: cache}, nil
}

// Resolve returns the files path may play. An empty entityID disables
// caching. Listing failures are reported through notify and yield nil.
func (r *Resolver) Resolve(ctx context.Context, entityID, path string) []string {
	if path == "" {
		return nil
	}
	if !IsWildcard(path) {
		return []string{path}
	}

	if entityID != "" {
		r.mu.Lock()
		hit, ok := r.cache.Get(entityID)
		r.mu.Unlock()
		// the flags may live on another document and change under us
		if ok && hit.pattern == path {
			return hit.files
		}
	}

	files, err := r.lister.List(ctx, path)
	if err != nil {
		r.notify(fmt.Errorf("%w: %s: %v", ErrResolution, path, err))
		return nil
	}
	if files == nil {
		files = []string{}
	}

	if entityID != "" {
		r.mu.Lock()
		r.cache.Add(entityID, resolved{pattern: path, files: files})
		r.mu.Unlock()
	}
	slog.Debug("resolved wildcard sound", "entity", entityID, "pattern", path, "files", len(files))
	return files
}

// Forget drops the cached file set of entityID.
func (r *Resolver) Forget(entityID string) {
	r.mu.Lock()
	r.cache.Remove(entityID)
	r.mu.Unlock()
}
