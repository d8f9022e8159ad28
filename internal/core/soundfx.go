package soundfx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"

	"github.com/toksikk/soundfx/internal/browse"
	"github.com/toksikk/soundfx/internal/bus"
	"github.com/toksikk/soundfx/internal/cfg"
	"github.com/toksikk/soundfx/internal/datastore"
	"github.com/toksikk/soundfx/internal/player"
	"github.com/toksikk/soundfx/internal/sfx"
	"github.com/toksikk/soundfx/internal/web"
)

var (
	// ErrUnknownBackend is returned for an unsupported sound.backend.
	ErrUnknownBackend = errors.New("unknown audio backend")
	// ErrUnknownBus is returned for an unsupported sound.bus.
	ErrUnknownBus = errors.New("unknown message bus")
	// ErrNoDiscord is returned when a Discord component is configured
	// without a bot token.
	ErrNoDiscord = errors.New("discord token missing")
)

// logLevel is shared by the default logger so dev mode can be toggled while
// running.
var logLevel = new(slog.LevelVar)

// ConfigureLogging installs the text logger. Debug output is enabled by the
// DEBUG env var or dev mode.
func ConfigureLogging(devMode bool) {
	if os.Getenv("DEBUG") != "" || devMode {
		logLevel.Set(slog.LevelDebug)
	} else {
		logLevel.Set(slog.LevelInfo)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
}

// App holds the wired service.
type App struct {
	conf  *cfg.Config
	clock clockwork.Clock

	db      *gorm.DB
	store   *datastore.Store
	discord *discordgo.Session
	backend sfx.Backend
	bus     bus.Bus
	ctrl    *sfx.Controller
	// panel is set once Serve runs; callbacks may fire before that.
	panel atomic.Pointer[web.Server]

	unsubscribe func()
}

// New wires storage, audio, messaging and the controller described by conf.
// The Discord session is opened when a Discord backend or bus is configured.
func New(conf *cfg.Config) (*App, error) {
	a := &App{conf: conf, clock: clockwork.NewRealClock()}

	db, err := datastore.InitDB(conf.Sound.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.db = db
	a.store = datastore.NewStore(db)

	if conf.Sound.Backend == "discord" || conf.Sound.Bus == "discord" {
		if err := a.openDiscord(); err != nil {
			a.Close()
			return nil, err
		}
	}

	if a.backend, err = a.newBackend(); err != nil {
		a.Close()
		return nil, err
	}
	if a.bus, err = a.newBus(); err != nil {
		a.Close()
		return nil, err
	}

	router, err := newRouter(conf)
	if err != nil {
		a.Close()
		return nil, err
	}
	resolver, err := sfx.NewResolver(router, conf.Sound.CacheSize, a.notify)
	if err != nil {
		a.Close()
		return nil, err
	}

	registry := sfx.NewRegistry(a.clock, conf.Web.Refresh)
	registry.OnChange(a.refresh)

	a.ctrl = sfx.NewController(sfx.Options{
		SessionID:    uuid.NewString(),
		Backend:      a.backend,
		Resolver:     resolver,
		Registry:     registry,
		Entities:     a.store,
		Broadcaster:  a.bus,
		Clock:        a.clock,
		MasterVolume: conf.Sound.MasterVolume,
		CombatSounds: conf.Sound.Combat,
		OnRender:     a.refresh,
	})
	a.unsubscribe = a.bus.Subscribe(a.ctrl.HandleMessage)
	slog.Debug("sound controller ready", "session", a.ctrl.SessionID(), "backend", conf.Sound.Backend, "bus", conf.Sound.Bus)
	return a, nil
}

// Controller returns the sound controller.
func (a *App) Controller() *sfx.Controller { return a.ctrl }

// Store returns the flag and entity store.
func (a *App) Store() *datastore.Store { return a.store }

// Sounder adapts e to the controller using the configured namespaces.
func (a *App) Sounder(e sfx.Entity) *sfx.Sounder {
	return sfx.NewSounder(e, a.store, a.conf.Namespaces())
}

// Serve runs the control panel until ctx is done. When configPath is set,
// edits to the file are applied to the running service.
func (a *App) Serve(ctx context.Context, configPath string) error {
	panel, err := web.New(a.conf, a.ctrl, a.store, a.clock)
	if err != nil {
		return fmt.Errorf("building control panel: %w", err)
	}
	a.panel.Store(panel)

	if configPath != "" {
		if err := cfg.Watch(ctx, configPath, a.reload); err != nil {
			slog.Warn("could not watch config file", "path", configPath, "error", err)
		}
	}
	return panel.ListenAndServe(ctx)
}

// Close stops every sound and releases connections.
func (a *App) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	if a.ctrl != nil {
		for _, e := range a.ctrl.Registry().List() {
			e.Handle.Stop()
		}
	}
	if d, ok := a.bus.(*bus.Discord); ok {
		d.Close()
	}
	if d, ok := a.backend.(*player.Discord); ok {
		if err := d.Close(); err != nil {
			slog.Warn("could not leave voice channel", "error", err)
		}
	}
	if a.discord != nil {
		if err := a.discord.Close(); err != nil {
			slog.Warn("could not close discord session", "error", err)
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
}

func (a *App) openDiscord() error {
	if a.conf.Discord.Token == "" {
		return ErrNoDiscord
	}
	slog.Info("Starting discord session...")
	s, err := discordgo.New("Bot " + a.conf.Discord.Token)
	if err != nil {
		return fmt.Errorf("creating discord session: %w", err)
	}
	s.AddHandler(func(_ *discordgo.Session, _ *discordgo.Ready) {
		slog.Info("Received READY payload.")
	})
	if err := s.Open(); err != nil {
		return fmt.Errorf("opening discord websocket: %w", err)
	}
	a.discord = s
	return nil
}

func (a *App) newBackend() (sfx.Backend, error) {
	opener := &player.Opener{Root: a.conf.Sound.DataDir}
	switch a.conf.Sound.Backend {
	case "speaker":
		return player.NewSpeaker(opener), nil
	case "discord":
		if a.discord == nil {
			return nil, ErrNoDiscord
		}
		return player.NewDiscord(a.discord, a.conf.Discord.GuildID, a.conf.Discord.VoiceChannelID, opener)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, a.conf.Sound.Backend)
}

func (a *App) newBus() (bus.Bus, error) {
	switch a.conf.Sound.Bus {
	case "local", "":
		return bus.NewHub(), nil
	case "discord":
		if a.discord == nil {
			return nil, ErrNoDiscord
		}
		return bus.NewDiscord(a.discord, a.conf.Discord.ControlChannelID), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBus, a.conf.Sound.Bus)
}

func newRouter(conf *cfg.Config) (*browse.Router, error) {
	r := &browse.Router{Local: &browse.Local{Root: conf.Sound.DataDir}}
	if conf.S3.Endpoint != "" {
		s3, err := browse.NewS3(conf.S3)
		if err != nil {
			return nil, fmt.Errorf("connecting to s3: %w", err)
		}
		r.S3 = s3
	}
	if conf.Forge.Endpoint != "" {
		r.Forge = browse.NewForge(conf.Forge.Endpoint, conf.Forge.Token)
	}
	return r, nil
}

func (a *App) reload(c *cfg.Config) {
	a.ctrl.SetMasterVolume(c.Sound.MasterVolume)
	if c.DevMode != a.conf.DevMode {
		ConfigureLogging(c.DevMode)
		slog.Info("Dev Mode", "enabled", c.DevMode)
	}
	a.conf.DevMode = c.DevMode
}

func (a *App) notify(err error) {
	if panel := a.panel.Load(); panel != nil {
		panel.Notify(err)
		return
	}
	slog.Warn("sound lookup failed", "error", err)
}

func (a *App) refresh() {
	if panel := a.panel.Load(); panel != nil {
		panel.Refresh()
	}
}

// StartSoundfx loads the config at configPath and serves until interrupted.
func StartSoundfx(configPath string) error {
	LogVersion()
	conf, err := cfg.Load(configPath)
	if err != nil {
		return err
	}
	ConfigureLogging(conf.DevMode)

	a, err := New(conf)
	if err != nil {
		return err
	}
	defer a.Close()

	Banner(nil, conf)
	slog.Info("Soundfx is ready. Quit with CTRL-C.")
	slog.Info("Dev Mode", "enabled", conf.DevMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Serve(ctx, configPath)
}
