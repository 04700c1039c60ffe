// cmd/discord/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/keshon/melodeck/internal/config"
	"github.com/keshon/melodeck/internal/discord"
	"github.com/keshon/melodeck/internal/discord/voice"
	"github.com/keshon/melodeck/internal/logging"
	"github.com/keshon/melodeck/internal/music/mediastore"
	"github.com/keshon/melodeck/internal/music/nowplaying"
	"github.com/keshon/melodeck/internal/music/player"
	"github.com/keshon/melodeck/internal/music/prefetch"
	"github.com/keshon/melodeck/internal/music/resolver"
	"github.com/keshon/melodeck/internal/music/scheduler"
	"github.com/keshon/melodeck/internal/music/sources"
	"github.com/keshon/melodeck/internal/music/sources/direct"
	"github.com/keshon/melodeck/internal/music/sources/youtube"
	"github.com/keshon/melodeck/internal/music/status"
	"github.com/keshon/melodeck/internal/statusapi"
	"github.com/keshon/melodeck/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const appName = "melodeck"

func main() {
	cfg, envLoaded, err := config.Load()
	if err != nil {
		boot := logging.Component("main")
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Setup(logging.Config{Level: cfg.LogLevel, File: cfg.LogFile})
	log := logging.Component("main")
	if !envLoaded {
		log.Debug().Msg("no .env file, using process environment")
	}
	log.Info().Str("app", appName).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("stopped with error")
	}
	log.Info().Msg("bye")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	store, err := storage.New(ctx, cfg.StoragePath)
	if err != nil {
		return err
	}
	defer store.Close()

	media, err := mediastore.New(cfg.MediaDir)
	if err != nil {
		return err
	}

	yt, err := youtube.New(youtube.Options{Proxy: cfg.YouTubeProxy, Logger: logging.Component("youtube")})
	if err != nil {
		return err
	}
	set := sources.NewSet(yt, direct.New())

	dg, err := discord.NewSession(cfg.DiscordToken)
	if err != nil {
		return err
	}
	out := discord.NewSink(dg, logging.Component("sink"))
	chooser := discord.NewChooser(logging.Component("chooser"))

	hub := status.NewHub(cfg.SubscriberBacklog, logging.Component("status"))
	defer hub.Close()

	// The registry is built last; the prefetcher and scheduler reach it
	// through these late bindings.
	var registry *player.Registry
	activity := prefetch.ActivityFunc(func(tenantID string) bool { return registry.IsPlaying(tenantID) })

	timeouts := scheduler.New(scheduler.Config{Floor: cfg.FadeFloor}, nil, out, logging.Component("scheduler"))
	defer timeouts.Close()

	registry = player.NewRegistry(player.Deps{
		Transport:     voice.NewTransport(dg, logging.Component("voice")),
		Resolver:      resolver.New(set, chooser, cfg.SelectionTimeout, logging.Component("resolver")),
		Prefetcher:    prefetch.New(media, set, out, activity, cfg.ProgressEditInterval, logging.Component("prefetch")),
		Streamer:      set,
		Announcer:     nowplaying.New(out, nil, nil, logging.Component("nowplaying")),
		Timeouts:      timeouts,
		Prefs:         store,
		Hub:           hub,
		Notices:       out,
		DefaultVolume: cfg.DefaultVolume,
		Logger:        logging.Component("player"),
	})
	timeouts.SetTarget(registry)

	bot, err := discord.New(dg, discord.Options{
		GuildBlacklist:   cfg.DiscordGuildBlacklist,
		RegisterCommands: cfg.InitSlashCommands,
		CommandCacheDir:  cfg.CommandCacheDir,
	}, registry, store, chooser, logging.Component("discord"))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(gctx) })
	if cfg.StatusAddr != "" {
		api := statusapi.New(registry, logging.Component("statusapi"))
		g.Go(func() error { return api.Run(gctx, cfg.StatusAddr) })
	}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		mirror := status.NewRedisMirror(client, cfg.RedisPrefix, hub, logging.Component("redis"))
		g.Go(func() error { return mirror.Run(gctx) })
	}

	err = g.Wait()

	registry.Shutdown()
	if cerr := bot.Close(); cerr != nil {
		log.Warn().Err(cerr).Msg("failed to close discord session")
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
