package cfg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/toksikk/soundfx/internal/browse"
	"github.com/toksikk/soundfx/internal/sfx"
	"gopkg.in/yaml.v3"
)

// ErrInvalidScope is returned for unknown sound_scope or item_sounds values.
var ErrInvalidScope = errors.New("invalid scope")

// Scope decides which actors get a sound control.
type Scope string

// Scopes.
const (
	ScopeNone     Scope = "none"
	ScopeNPC      Scope = "npc"
	ScopeEveryone Scope = "everyone"
)

// UnmarshalYAML accepts the scope names and the legacy booleans, true
// meaning npc and false meaning none.
func (s *Scope) UnmarshalYAML(n *yaml.Node) error {
	if n.Tag == "!!bool" {
		var b bool
		if err := n.Decode(&b); err != nil {
			return err
		}
		*s = ScopeNone
		if b {
			*s = ScopeNPC
		}
		return nil
	}
	var v string
	if err := n.Decode(&v); err != nil {
		return err
	}
	switch Scope(v) {
	case ScopeNone, ScopeNPC, ScopeEveryone:
		*s = Scope(v)
		return nil
	}
	return fmt.Errorf("%w: sound_scope %q", ErrInvalidScope, v)
}

// ItemSounds toggles sound controls on items.
type ItemSounds string

// Item sound settings.
const (
	ItemSoundsNone    ItemSounds = "none"
	ItemSoundsEnabled ItemSounds = "enabled"
)

// UnmarshalYAML accepts "none", "enabled" and booleans.
func (i *ItemSounds) UnmarshalYAML(n *yaml.Node) error {
	if n.Tag == "!!bool" {
		var b bool
		if err := n.Decode(&b); err != nil {
			return err
		}
		*i = ItemSoundsNone
		if b {
			*i = ItemSoundsEnabled
		}
		return nil
	}
	var v string
	if err := n.Decode(&v); err != nil {
		return err
	}
	switch ItemSounds(v) {
	case ItemSoundsNone, ItemSoundsEnabled:
		*i = ItemSounds(v)
		return nil
	}
	return fmt.Errorf("%w: item_sounds %q", ErrInvalidScope, v)
}

// Config struct with all parameters
type Config struct {
	Discord struct {
		Token            string `yaml:"token"`
		GuildID          string `yaml:"guild_id,omitempty"`
		VoiceChannelID   string `yaml:"voice_channel_id,omitempty"`
		ControlChannelID string `yaml:"control_channel_id,omitempty"`
	} `yaml:"discord"`
	Web struct {
		Oauth struct {
			ClientID     string `yaml:"client_id"`
			ClientSecret string `yaml:"client_secret"`
			RedirectURI  string `yaml:"redirect_uri"`
		} `yaml:"oauth"`
		Port       int    `yaml:"port,omitempty"`
		SessionKey string `yaml:"session_key,omitempty"`
		// Refresh is how often the panel redraws while sounds play.
		Refresh time.Duration `yaml:"refresh,omitempty"`
	} `yaml:"web"`
	Sound struct {
		DataDir      string     `yaml:"data_dir"`
		Database     string     `yaml:"database"`
		Backend      string     `yaml:"backend"`
		Bus          string     `yaml:"bus"`
		MasterVolume float64    `yaml:"master_volume"`
		Scope        Scope      `yaml:"sound_scope"`
		ItemSounds   ItemSounds `yaml:"item_sounds"`
		Combat       bool       `yaml:"playsound_combat"`
		CacheSize    int        `yaml:"cache_size,omitempty"`
		Namespaces   struct {
			Primary string `yaml:"primary"`
			Legacy  string `yaml:"legacy"`
		} `yaml:"namespaces"`
	} `yaml:"sound"`
	Panel struct {
		ShowNames    bool `yaml:"show_names"`
		ShowPlaylist bool `yaml:"show_playlist"`
	} `yaml:"panel"`
	S3    browse.S3Config `yaml:"s3"`
	Forge struct {
		Endpoint string `yaml:"endpoint"`
		Token    string `yaml:"token"`
	} `yaml:"forge"`
	DevMode bool `yaml:"dev_mode,omitempty"`
}

// Default returns the configuration used for anything the file leaves out.
func Default() *Config {
	c := &Config{}
	c.Web.Port = 8080
	c.Web.Refresh = time.Second
	c.Sound.DataDir = "data"
	c.Sound.Database = "soundfx.sqlite"
	c.Sound.Backend = "speaker"
	c.Sound.Bus = "local"
	c.Sound.MasterVolume = 1
	c.Sound.Scope = ScopeNPC
	c.Sound.ItemSounds = ItemSoundsEnabled
	c.Sound.Combat = false
	c.Sound.CacheSize = sfx.DefaultCacheSize
	c.Sound.Namespaces.Primary = sfx.DefaultNamespaces.Primary
	c.Sound.Namespaces.Legacy = sfx.DefaultNamespaces.Legacy
	c.Panel.ShowNames = true
	c.Panel.ShowPlaylist = true
	c.S3.UseSSL = true
	return c
}

// Load reads the config at path over the defaults. A missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	config := Default()
	configFile, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("Could not load config file, using defaults.", "path", path)
			return config, nil
		}
		return nil, err
	}
	defer configFile.Close()

	d := yaml.NewDecoder(configFile)
	if err := d.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return config, nil
}

// Namespaces returns the flag namespaces sounds are stored in.
func (c *Config) Namespaces() sfx.Namespaces {
	return sfx.Namespaces{Primary: c.Sound.Namespaces.Primary, Legacy: c.Sound.Namespaces.Legacy}
}

// Allows reports whether an entity of kind and actorType gets a sound
// control. Player characters are only included with ScopeEveryone.
func (c *Config) Allows(kind sfx.Kind, actorType string) bool {
	switch kind {
	case sfx.KindDialog:
		return true
	case sfx.KindItem:
		return c.Sound.ItemSounds == ItemSoundsEnabled
	}
	switch c.Sound.Scope {
	case ScopeEveryone:
		return true
	case ScopeNPC:
		return actorType != "character"
	}
	return false
}

// OAuthEnabled reports whether Discord login is configured.
func (c *Config) OAuthEnabled() bool {
	return c.Web.Oauth.ClientID != "" && c.Web.Oauth.ClientSecret != ""
}

// Watch calls fn with the reloaded config whenever the file at path is
// written, until ctx is done. Configs that fail to load are logged and
// skipped.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// editors replace files, so watch the directory
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return err
	}
	name := filepath.Clean(path)

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != name || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				c, err := Load(path)
				if err != nil {
					slog.Error("could not reload config", "path", path, "error", err)
					continue
				}
				slog.Info("config reloaded", "path", path)
				fn(c)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			}
		}
	}()
	return nil
}
