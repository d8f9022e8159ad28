package sfx

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// Kind is the category of a sound-emitting entity.
type Kind string

// Entity kinds.
const (
	KindToken  Kind = "token"
	KindActor  Kind = "actor"
	KindItem   Kind = "item"
	KindDialog Kind = "dialog"
)

// Entity is a token, actor or item known to the service.
type Entity struct {
	UUID      string
	Name      string
	Kind      Kind
	ActorType string
	// SoundSource is the document whose flags hold the sound. Tokens point at
	// their actor. Empty means the entity itself.
	SoundSource string
}

// FlagDocument returns the document the entity's sound flags live on.
func (e Entity) FlagDocument() string {
	if e.SoundSource != "" {
		return e.SoundSource
	}
	return e.UUID
}

// FlagStore persists namespaced key/value flags on documents.
type FlagStore interface {
	GetFlag(ctx context.Context, document, namespace, key string) (string, bool, error)
	SetFlag(ctx context.Context, document, namespace, key, value string) error
}

// EntityStore looks entities up. Unknown ids yield ErrMissingEntity.
type EntityStore interface {
	Entity(ctx context.Context, uuid string) (*Entity, error)
}

// SoundCapable is anything that can carry and play a sound effect.
type SoundCapable interface {
	ID() string
	DisplayName() string
	Sound(ctx context.Context) (SoundSpec, error)
	SetSound(ctx context.Context, path string, volume float64) error
}

var (
	_ SoundCapable = (*Sounder)(nil)
	_ SoundCapable = (*Dialog)(nil)
)

// Sounder adapts a stored Entity to SoundCapable by reading and writing its
// flags.
type Sounder struct {
	entity Entity
	flags  FlagStore
	ns     Namespaces
}

// NewSounder wraps e. Flags are read from e.FlagDocument().
func NewSounder(e Entity, flags FlagStore, ns Namespaces) *Sounder {
	return &Sounder{entity: e, flags: flags, ns: ns}
}

// ID implements SoundCapable.
func (s *Sounder) ID() string { return s.entity.UUID }

// DisplayName implements SoundCapable.
func (s *Sounder) DisplayName() string { return s.entity.Name }

// Entity returns the wrapped entity.
func (s *Sounder) Entity() Entity { return s.entity }

// Sound reads the effective sound. A missing or zero volume means full
// volume. Values only found in the legacy namespace are migrated forward.
func (s *Sounder) Sound(ctx context.Context) (SoundSpec, error) {
	rawVolume, err := s.migrated(ctx, FlagVolume, func(v string) bool {
		f, err := strconv.ParseFloat(v, 64)
		return err == nil && f != 0
	})
	if err != nil {
		return SoundSpec{}, err
	}
	volume := 1.0
	if rawVolume != "" {
		volume, _ = strconv.ParseFloat(rawVolume, 64)
	}

	path, err := s.migrated(ctx, FlagSoundEffect, func(v string) bool { return v != "" })
	if err != nil {
		return SoundSpec{}, err
	}
	return SoundSpec{Path: path, Volume: ClampVolume(volume)}, nil
}

// SetSound implements SoundCapable.
func (s *Sounder) SetSound(ctx context.Context, path string, volume float64) error {
	doc := s.entity.FlagDocument()
	if err := s.flags.SetFlag(ctx, doc, s.ns.Primary, FlagSoundEffect, path); err != nil {
		return fmt.Errorf("storing sound path: %w", err)
	}
	v := strconv.FormatFloat(ClampVolume(volume), 'f', -1, 64)
	if err := s.flags.SetFlag(ctx, doc, s.ns.Primary, FlagVolume, v); err != nil {
		return fmt.Errorf("storing sound volume: %w", err)
	}
	return nil
}

func (s *Sounder) migrated(ctx context.Context, key string, usable func(string) bool) (string, error) {
	doc := s.entity.FlagDocument()
	v, ok, err := s.flags.GetFlag(ctx, doc, s.ns.Primary, key)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", key, err)
	}
	if ok && usable(v) {
		return v, nil
	}
	if s.ns.Legacy == "" {
		return "", nil
	}
	v, ok, err = s.flags.GetFlag(ctx, doc, s.ns.Legacy, key)
	if err != nil {
		return "", fmt.Errorf("reading legacy %s: %w", key, err)
	}
	if !ok || !usable(v) {
		return "", nil
	}
	if err := s.flags.SetFlag(ctx, doc, s.ns.Primary, key, v); err != nil {
		return "", fmt.Errorf("migrating %s: %w", key, err)
	}
	return v, nil
}

// Dialog is a transient entity backed by an unsaved sound form.
type Dialog struct {
	id   string
	name string

	mu   sync.Mutex
	spec SoundSpec
}

// NewDialog returns a dialog entity previewing path at volume.
func NewDialog(id, name, path string, volume float64) *Dialog {
	return &Dialog{id: id, name: name, spec: SoundSpec{Path: path, Volume: ClampVolume(volume)}}
}

// ID implements SoundCapable.
func (d *Dialog) ID() string { return d.id }

// DisplayName implements SoundCapable.
func (d *Dialog) DisplayName() string { return d.name }

// Sound implements SoundCapable.
func (d *Dialog) Sound(context.Context) (SoundSpec, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.spec, nil
}

// SetSound implements SoundCapable.
func (d *Dialog) SetSound(_ context.Context, path string, volume float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spec = SoundSpec{Path: path, Volume: ClampVolume(volume)}
	return nil
}
