// Package main is the spoticord entrypoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/latoulicious/spoticord/internal/audio"
	"github.com/latoulicious/spoticord/internal/bootstrap"
	"github.com/latoulicious/spoticord/internal/commands"
	"github.com/latoulicious/spoticord/internal/config"
	"github.com/latoulicious/spoticord/internal/gateway"
	"github.com/latoulicious/spoticord/internal/handlers"
	"github.com/latoulicious/spoticord/internal/linker"
	"github.com/latoulicious/spoticord/internal/music"
	"github.com/latoulicious/spoticord/internal/presence"
	"github.com/latoulicious/spoticord/internal/spotify"
	"github.com/latoulicious/spoticord/pkg/cron"
	"github.com/latoulicious/spoticord/pkg/database"
	"github.com/latoulicious/spoticord/pkg/logging"
)

// Build-time variables (set via ldflags)
var (
	version = "dev"
	commit  = "unknown"
)

var globalOpts struct {
	configPath string
	envFile    string
}

var rootCmd = &cobra.Command{
	Use:   "spoticord",
	Short: "Discord bot that links Spotify accounts and plays them in voice",
	Long: `spoticord connects to Discord, serves the Spotify account linking
page and forwards voice sessions to the configured Lavalink nodes.

Running spoticord without a subcommand starts the bot.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBot,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalOpts.configPath, "config", "",
		"TOML config file (optional; environment variables override it)")
	rootCmd.PersistentFlags().StringVar(&globalOpts.envFile, "env-file", ".env",
		".env file to load before reading the environment")
}

func loadConfig() (*config.Manager, error) {
	return config.Load(config.LoadOptions{
		EnvFile:        globalOpts.envFile,
		ConfigPath:     globalOpts.configPath,
		ConfigRequired: globalOpts.configPath != "",
	})
}

func storeConfig(cfg *config.Manager) *database.DatabaseConfig {
	dbCfg := database.DefaultDatabaseConfig()
	dbCfg.Driver = cfg.Database().Driver
	dbCfg.DSN = cfg.Database().DSN
	return dbCfg
}

// app holds what runBot needs after Run returns.
type app struct {
	emitter *commands.CommandEmitter
	music   *music.Service
	reaper  *cron.LinkReaper
}

func build(cfg *config.Manager, a *app) (*bootstrap.Components, error) {
	log := logging.NewStructuredLogger(cfg.Logging())
	logging.NewStdLogAdapter(log).SetAsStdLogger()

	store, err := database.NewStore(storeConfig(cfg), log)
	if err != nil {
		return nil, err
	}

	discord, err := gateway.New(cfg.Get(config.KeyToken), log)
	if err != nil {
		return nil, err
	}

	redirect := cfg.Get(config.KeySpotifyRedirectURL)
	oauthCfg := spotify.NewOAuthConfig(
		cfg.Get(config.KeySpotifyClientID),
		cfg.Get(config.KeySpotifyClientSecret),
		redirect,
	)

	link, err := linker.New(store, oauthCfg, redirect, log)
	if err != nil {
		return nil, err
	}

	a.music = music.NewService(discord.Session(), log)
	a.emitter = commands.NewCommandEmitter(cfg, store, discord, log)

	router := handlers.NewMessageRouter(cfg.Prefix(), a.emitter, log)
	guilds := handlers.NewGuildLogger(log)
	discord.AddHandler(router.MessageHandler)
	discord.AddHandler(guilds.GuildCreateHandler)
	discord.AddHandler(guilds.GuildDeleteHandler)

	a.reaper, err = cron.NewLinkReaper(store, cfg.LinkTTL(), cfg.ReaperSchedule(), log)
	if err != nil {
		return nil, err
	}

	pm := presence.NewPresenceManager(discord.Session(), cfg.Prefix(), log)

	return &bootstrap.Components{
		Store:   store,
		Linker:  link,
		Gateway: discord,
		Music:   a.music,
		Spotify: spotify.NewHelper(store, oauthCfg, log),
		NewAudio: func(id gateway.Identity) (bootstrap.AudioNodes, error) {
			nodes, err := audio.NewManager(audio.Options{
				Nodes:  cfg.Nodes(),
				UserID: id.UserID,
				Shards: id.Shards,
			}, log)
			if err != nil {
				return nil, err
			}
			return nodes, nil
		},
		RegisterCommands: func() error {
			return commands.NewCoreCommands(a.music).Register(a.emitter)
		},
		OnOperational: func(ctx context.Context) {
			pm.StartPeriodicUpdates(ctx)
			a.reaper.Start()
			log.Info("bot is running, press CTRL-C to exit")
		},
	}, nil
}

func runBot(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logging.DefaultLogger()
	a := &app{}

	orch := bootstrap.New(bootstrap.Options{
		LoadConfig: loadConfig,
		Build: func(cfg *config.Manager) (*bootstrap.Components, error) {
			return build(cfg, a)
		},
		Exit: os.Exit,
		Log:  log,
	})

	runErr := orch.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.reaper != nil {
		a.reaper.Stop()
	}
	if a.music != nil {
		a.music.Close()
	}
	// No command may start once the store begins closing.
	if a.emitter != nil {
		a.emitter.Close()
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown finished with errors", logging.Error(err))
	}

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(bootstrap.ExitCodeFailure)
	}
}
