// Package datastore persists entities and their namespaced flags in sqlite.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/toksikk/soundfx/internal/sfx"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrFlagNotFound is returned when unsetting a flag that was never set.
var ErrFlagNotFound = errors.New("flag not found")

// Entity is a stored token, actor or item.
type Entity struct {
	gorm.Model
	UUID        string `gorm:"not null;uniqueIndex"`
	Name        string `gorm:"not null"`
	Kind        string `gorm:"not null"`
	ActorType   string
	SoundSource string
}

// Flag is a namespaced value attached to a document.
type Flag struct {
	gorm.Model
	Document  string `gorm:"not null;uniqueIndex:idx_flag"`
	Namespace string `gorm:"not null;uniqueIndex:idx_flag"`
	Name      string `gorm:"not null;uniqueIndex:idx_flag"`
	Value     string
}

// Store represents the data store.
type Store struct {
	db *gorm.DB
	mu sync.Mutex
}

var (
	_ sfx.FlagStore   = (*Store)(nil)
	_ sfx.EntityStore = (*Store)(nil)
)

// InitDB opens the sqlite database at path and performs migrations.
func InitDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := db.AutoMigrate(&Entity{}, &Flag{}); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return db, nil
}

// NewStore creates a new Store instance.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// FLAGS

// GetFlag implements sfx.FlagStore.
func (s *Store) GetFlag(ctx context.Context, document, namespace, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var flag Flag
	result := s.db.WithContext(ctx).
		Where("document = ? AND namespace = ? AND name = ?", document, namespace, key).
		First(&flag)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, result.Error
	}
	return flag.Value, true, nil
}

// SetFlag implements sfx.FlagStore. Existing values are overwritten.
func (s *Store) SetFlag(ctx context.Context, document, namespace, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flag := Flag{Document: document, Namespace: namespace, Name: key, Value: value}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document"}, {Name: "namespace"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&flag)
	return result.Error
}

// UnsetFlag removes a flag.
func (s *Store) UnsetFlag(ctx context.Context, document, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := s.db.WithContext(ctx).Unscoped().
		Where("document = ? AND namespace = ? AND name = ?", document, namespace, key).
		Delete(&Flag{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrFlagNotFound
	}
	return nil
}

// Flags returns every flag set on document in namespace, keyed by name.
func (s *Store) Flags(ctx context.Context, document, namespace string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var flags []Flag
	result := s.db.WithContext(ctx).Where("document = ? AND namespace = ?", document, namespace).Find(&flags)
	if result.Error != nil {
		return nil, result.Error
	}
	out := make(map[string]string, len(flags))
	for _, f := range flags {
		out[f.Name] = f.Value
	}
	return out, nil
}

// ENTITY

// SaveEntity creates e or updates the entity with the same UUID.
func (s *Store) SaveEntity(ctx context.Context, e sfx.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := Entity{
		UUID:        e.UUID,
		Name:        e.Name,
		Kind:        string(e.Kind),
		ActorType:   e.ActorType,
		SoundSource: e.SoundSource,
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uuid"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "kind", "actor_type", "sound_source", "updated_at"}),
	}).Create(&row)
	return result.Error
}

// Entity implements sfx.EntityStore.
func (s *Store) Entity(ctx context.Context, uuid string) (*sfx.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var row Entity
	result := s.db.WithContext(ctx).Where("uuid = ?", uuid).First(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", sfx.ErrMissingEntity, uuid)
		}
		return nil, result.Error
	}
	e := row.toEntity()
	return &e, nil
}

// Entities retrieves all entities ordered by name.
func (s *Store) Entities(ctx context.Context) ([]sfx.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []Entity
	result := s.db.WithContext(ctx).Order("name, uuid").Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	out := make([]sfx.Entity, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toEntity())
	}
	return out, nil
}

// DeleteEntity removes the entity and the flags stored on it.
func (s *Store) DeleteEntity(ctx context.Context, uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Unscoped().Where("uuid = ?", uuid).Delete(&Entity{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", sfx.ErrMissingEntity, uuid)
		}
		return tx.Unscoped().Where("document = ?", uuid).Delete(&Flag{}).Error
	})
}

func (r Entity) toEntity() sfx.Entity {
	return sfx.Entity{
		UUID:        r.UUID,
		Name:        r.Name,
		Kind:        sfx.Kind(r.Kind),
		ActorType:   r.ActorType,
		SoundSource: r.SoundSource,
	}
}
