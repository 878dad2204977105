package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/glizzus/alfira/internal/broadcast"
	"github.com/glizzus/alfira/internal/config"
	"github.com/glizzus/alfira/internal/datalayer"
	"github.com/glizzus/alfira/internal/generator"
	"github.com/glizzus/alfira/internal/handler"
	"github.com/glizzus/alfira/internal/media"
	"github.com/glizzus/alfira/internal/opus"
	"github.com/glizzus/alfira/internal/playback"
	"github.com/glizzus/alfira/internal/remote"
	"github.com/glizzus/alfira/internal/repository"
	"github.com/glizzus/alfira/internal/schedule"
	"github.com/glizzus/alfira/internal/voice"
)

const shutdownTimeout = 10 * time.Second

func runBotForever() error {
	if err := config.LoadEnv(); err != nil {
		if os.IsNotExist(err) {
			slog.Warn("No .env file found, continuing without it")
		} else {
			return fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	logConfig, err := config.NewLogConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load log config: %w", err)
	}
	slog.SetLogLoggerLevel(logConfig.Level)

	discordConfig, err := config.NewDiscordConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load discord config: %w", err)
	}
	playbackConfig, err := config.NewPlaybackConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load playback config: %w", err)
	}
	minioConfig, err := config.NewMinioConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load minio config: %w", err)
	}
	httpConfig, err := config.NewHTTPConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load http config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := datalayer.NewPostgresPoolFromEnv(ctx)
	if err != nil {
		return fmt.Errorf("failed to create postgres pool: %w", err)
	}
	defer pool.Close()

	if err := datalayer.MigratePostgres(pool); err != nil {
		return fmt.Errorf("failed to migrate postgres: %w", err)
	}
	catalog := repository.NewPostgresCatalogRepository(pool)

	minioStorage, err := datalayer.NewMinioStorage(minioConfig)
	if err != nil {
		return fmt.Errorf("failed to create minio storage: %w", err)
	}
	if err := minioStorage.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to ensure minio bucket: %w", err)
	}

	rdb, redisConfig, err := datalayer.NewRedisClientFromEnv(ctx)
	if err != nil {
		return err
	}
	defer rdb.Close()

	ytdlp := media.NewYtdlpResolver()
	resolver := &media.Router{
		Web:  ytdlp,
		Blob: media.NewBlobResolver(minioStorage, minioConfig.PresignExpiry),
	}

	registry := playback.NewRegistry(playback.Deps{
		Resolver:   resolver,
		Transcoder: opus.NewTranscoder(playbackConfig.FFmpegPath, playbackConfig.Bitrate),
		NewPlayer: func(conn voice.Connection) playback.AudioPlayer {
			return voice.NewPlayer(conn, playbackConfig.SendTimeout)
		},
		Options: playback.OptionsFromConfig(playbackConfig),
	})

	hub := broadcast.NewHub()
	redisSink := broadcast.NewRedisSink(rdb)
	registry.SetBroadcaster(broadcast.Fanout(hub.Broadcast, redisSink.Broadcast))

	var wg sync.WaitGroup
	goRun := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	goRun(hub.Run)
	// The sink outlives ctx so the snapshots StopAll broadcasts still reach
	// Redis.
	sinkCtx, stopSink := context.WithCancel(context.Background())
	defer stopSink()
	sinkDone := make(chan struct{})
	go func() {
		defer close(sinkDone)
		redisSink.Run(sinkCtx)
	}()

	server := &http.Server{
		Addr: httpConfig.Addr,
		Handler: broadcast.NewRouter(hub, broadcast.Sources{
			broadcast.RegistrySource{Registry: registry},
			redisSink,
		}, httpConfig.AllowedOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}
	goRun(func() {
		slog.Info("serving playback state", "addr", httpConfig.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("playback state server failed", "error", err)
		}
	})

	// Interaction handling needs the session for voice, so it is added
	// once the session exists.
	session, err := handler.NewSession(discordConfig.Token, handler.Handlers{
		Ready: handler.ReadyLog,
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	engines := handler.NewEngines(registry, handler.NewDiscordVoice(session), handler.NewDiscordNotifier(session))
	queueIDs := &generator.UUIDV4Generator{}
	session.AddHandler(handler.Adapt(handler.NewInteractionHandler(handler.Deps{
		Catalog:    catalog,
		Uploads:    handler.NewAudioPiper(minioStorage, &http.Client{Timeout: time.Minute}),
		Engines:    engines,
		Resolver:   resolver,
		Searcher:   ytdlp,
		QueueIDs:   queueIDs,
		CatalogIDs: &generator.UUIDV7Generator{},
	})))

	if err := session.Open(); err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			slog.Warn("failed to close session", "error", err)
		}
	}()

	if err := handler.EstablishCommands(session, discordConfig.CommandGuildID()); err != nil {
		return fmt.Errorf("failed to establish commands: %w", err)
	}

	consumer, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to get hostname: %w", err)
	}
	receiver, err := remote.NewRedisReceiver(ctx, rdb, redisConfig.CommandStream, redisConfig.CommandGroup, consumer)
	if err != nil {
		return fmt.Errorf("failed to create remote command receiver: %w", err)
	}
	dispatcher := remote.NewDispatcher(remote.RegistryLookup(registry))
	goRun(func() {
		if err := dispatcher.Run(ctx, receiver); err != nil {
			slog.Error("remote command dispatcher stopped", "error", err)
		}
	})

	scheduler := schedule.NewScheduler(catalog, handler.NewScheduledPlayer(catalog, engines, queueIDs), playbackConfig.ScheduleInterval)
	goRun(func() { scheduler.Run(ctx) })

	slog.Info("Bot is running, press Ctrl+C to exit")
	<-ctx.Done()
	slog.Info("Shutting down")

	stopPlayback(registry, stopSink, sinkDone)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("failed to shut down playback state server", "error", err)
	}
	hub.Stop()
	wg.Wait()
	return nil
}

// stopPlayback stops every engine before the Redis sink, then waits for
// the sink to flush the final idle snapshots.
func stopPlayback(engines interface{ StopAll() }, stopSink context.CancelFunc, sinkDone <-chan struct{}) {
	engines.StopAll()
	stopSink()
	<-sinkDone
}

func main() {
	if err := runBotForever(); err != nil {
		log.Fatalf("failed to run bot: %v", err)
	}
}
