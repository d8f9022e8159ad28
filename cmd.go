package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/toksikk/soundfx/internal/cfg"
	soundfx "github.com/toksikk/soundfx/internal/core"
	"github.com/toksikk/soundfx/internal/datastore"
	"github.com/toksikk/soundfx/internal/sfx"
)

var (
	errUnknownKind = errors.New("unknown entity kind")
	errUnknownFlag = errors.New("unknown flag")
)

type options struct {
	configPath string
	database   string

	kind        string
	actorType   string
	soundSource string
	volume      float64
	action      string
	show        bool
}

func newRootCmd() *cobra.Command {
	o := &options{}

	rootCmd := &cobra.Command{
		Use:           "soundfx",
		Short:         "Per-entity sound effects with a shared control panel",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&o.configPath, "config", "c", "config.yaml", "Path to the config file")
	rootCmd.PersistentFlags().StringVar(&o.database, "db", "", "Database file, overrides sound.database")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sound service and control panel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return soundfx.StartSoundfx(o.configPath)
		},
	}

	entityCmd := &cobra.Command{
		Use:   "entity",
		Short: "Manage sound-bearing entities",
	}
	addCmd := &cobra.Command{
		Use:   "add <uuid> <name>",
		Short: "Add or update an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.addEntity(cmd, args[0], args[1])
		},
	}
	addCmd.Flags().StringVar(&o.kind, "kind", string(sfx.KindActor), "Entity kind (token, actor or item)")
	addCmd.Flags().StringVar(&o.actorType, "actor-type", "npc", "Actor type, \"character\" marks a player character")
	addCmd.Flags().StringVar(&o.soundSource, "sound-source", "", "Document holding the sound flags, e.g. a token's actor")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List entities and their sounds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.listEntities(cmd)
		},
	}
	rmCmd := &cobra.Command{
		Use:   "rm <uuid>",
		Short: "Remove an entity and its flags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withStore(cmd.Context(), func(ctx context.Context, _ *cfg.Config, store *datastore.Store) error {
				return store.DeleteEntity(ctx, args[0])
			})
		},
	}
	hideCmd := &cobra.Command{
		Use:       "hide <uuid> <name|playlist>",
		Short:     "Hide an entity's name or its effects in the panel",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"name", "playlist"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.hide(cmd, args[0], args[1])
		},
	}
	hideCmd.Flags().BoolVar(&o.show, "show", false, "Clear the flag instead of setting it")
	entityCmd.AddCommand(addCmd, listCmd, rmCmd, hideCmd)

	setSoundCmd := &cobra.Command{
		Use:   "set-sound <uuid> <path>",
		Short: "Set the sound effect of an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.setSound(cmd, args[0], args[1])
		},
	}
	setSoundCmd.Flags().Float64Var(&o.volume, "volume", 1, "Volume between 0 and 1")

	playCmd := &cobra.Command{
		Use:   "play <uuid>",
		Short: "Toggle an entity's sound and wait for it to end",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.play(cmd, args[0])
		},
	}
	playCmd.Flags().StringVar(&o.action, "action", "", "Force \"play\" or \"stop\"")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := o.load()
			if err != nil {
				return err
			}
			soundfx.Banner(cmd.OutOrStdout(), conf)
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd, entityCmd, setSoundCmd, playCmd, versionCmd)
	return rootCmd
}

func (o *options) load() (*cfg.Config, error) {
	conf, err := cfg.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if o.database != "" {
		conf.Sound.Database = o.database
	}
	return conf, nil
}

// withStore runs fn against the configured database without starting audio.
func (o *options) withStore(ctx context.Context, fn func(context.Context, *cfg.Config, *datastore.Store) error) error {
	conf, err := o.load()
	if err != nil {
		return err
	}
	db, err := datastore.InitDB(conf.Sound.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer closeDB(db)
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, conf, datastore.NewStore(db))
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

func (o *options) addEntity(cmd *cobra.Command, uuid, name string) error {
	kind := sfx.Kind(o.kind)
	switch kind {
	case sfx.KindToken, sfx.KindActor, sfx.KindItem:
	default:
		return fmt.Errorf("%w: %q", errUnknownKind, o.kind)
	}
	return o.withStore(cmd.Context(), func(ctx context.Context, _ *cfg.Config, store *datastore.Store) error {
		e := sfx.Entity{UUID: uuid, Name: name, Kind: kind, ActorType: o.actorType, SoundSource: o.soundSource}
		if err := store.SaveEntity(ctx, e); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%s)\n", uuid, name)
		return nil
	})
}

func (o *options) listEntities(cmd *cobra.Command) error {
	return o.withStore(cmd.Context(), func(ctx context.Context, conf *cfg.Config, store *datastore.Store) error {
		entities, err := store.Entities(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "UUID\tNAME\tKIND\tSOUND\tVOLUME")
		for _, e := range entities {
			spec, err := sfx.NewSounder(e, store, conf.Namespaces()).Sound(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.UUID, e.Name, e.Kind, spec.Path, strconv.FormatFloat(spec.Volume, 'f', -1, 64))
		}
		return w.Flush()
	})
}

func (o *options) hide(cmd *cobra.Command, uuid, what string) error {
	var flag string
	switch what {
	case "name":
		flag = sfx.FlagHideName
	case "playlist":
		flag = sfx.FlagHidePlaylist
	default:
		return fmt.Errorf("%w: %q", errUnknownFlag, what)
	}
	return o.withStore(cmd.Context(), func(ctx context.Context, conf *cfg.Config, store *datastore.Store) error {
		e, err := store.Entity(ctx, uuid)
		if err != nil {
			return err
		}
		doc, ns := e.FlagDocument(), conf.Namespaces().Primary
		if !o.show {
			return store.SetFlag(ctx, doc, ns, flag, "true")
		}
		if err := store.UnsetFlag(ctx, doc, ns, flag); err != nil && !errors.Is(err, datastore.ErrFlagNotFound) {
			return err
		}
		return nil
	})
}

func (o *options) setSound(cmd *cobra.Command, uuid, path string) error {
	return o.withStore(cmd.Context(), func(ctx context.Context, conf *cfg.Config, store *datastore.Store) error {
		e, err := store.Entity(ctx, uuid)
		if err != nil {
			return err
		}
		path = sfx.NormalizePath(path)
		if err := sfx.NewSounder(*e, store, conf.Namespaces()).SetSound(ctx, path, o.volume); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s plays %s\n", uuid, path)
		return nil
	})
}

func (o *options) play(cmd *cobra.Command, uuid string) error {
	action := sfx.Action(o.action)
	switch action {
	case sfx.ActionNone, sfx.ActionPlay, sfx.ActionStop:
	default:
		return fmt.Errorf("unknown action %q", o.action)
	}

	conf, err := o.load()
	if err != nil {
		return err
	}
	soundfx.ConfigureLogging(conf.DevMode)
	app, err := soundfx.New(conf)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := app.Store().Entity(ctx, uuid)
	if err != nil {
		return err
	}
	done := make(chan struct{})
	result, err := app.Controller().Toggle(ctx, app.Sounder(*e), sfx.ToggleOptions{
		Action:   action,
		OnFinish: func() { close(done) },
	})
	if err != nil {
		return err
	}
	if _, playing := app.Controller().Handle(uuid); result != sfx.ActionPlay || !playing {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: nothing to play\n", uuid)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: playing, CTRL-C stops\n", uuid)
	select {
	case <-done:
	case <-ctx.Done():
		_, _ = app.Controller().Toggle(context.Background(), app.Sounder(*e), sfx.ToggleOptions{Action: sfx.ActionStop})
		<-done
	}
	return nil
}
