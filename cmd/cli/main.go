package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glizzus/alfira/internal/config"
	"github.com/glizzus/alfira/internal/datalayer"
	"github.com/glizzus/alfira/internal/generator"
	"github.com/glizzus/alfira/internal/media"
	"github.com/glizzus/alfira/internal/opus"
	"github.com/glizzus/alfira/internal/presenters"
	"github.com/glizzus/alfira/internal/remote"
	"github.com/glizzus/alfira/internal/repository"
	"github.com/glizzus/alfira/internal/schedule"
	"github.com/urfave/cli/v2"
)

var idGenerator = generator.UUIDV7Generator{}

const cliUser = "cli"

var guildIDFlag = &cli.StringFlag{
	Name:     "guild-id",
	Usage:    "ID of the guild",
	Required: true,
}

func openCatalog(ctx context.Context) (*repository.PostgresCatalogRepository, func(), error) {
	pool, err := datalayer.NewPostgresPoolFromEnv(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := datalayer.MigratePostgres(pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to migrate postgres: %w", err)
	}
	return repository.NewPostgresCatalogRepository(pool), pool.Close, nil
}

// withCatalog opens the catalog for a single command.
func withCatalog(fn func(c *cli.Context, repo *repository.PostgresCatalogRepository) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		repo, closeFn, err := openCatalog(c.Context)
		if err != nil {
			return cli.Exit("Failed to open catalog: "+err.Error(), 1)
		}
		defer closeFn()
		return fn(c, repo)
	}
}

func printTrack(t repository.Track) {
	fmt.Printf("%s  %-50s  %7s  %s\n", t.ID, t.Title, presenters.FormatDuration(t.Duration), t.URL)
}

func addTrack(c *cli.Context, repo *repository.PostgresCatalogRepository) error {
	ref := c.String("url")
	meta, err := media.NewYtdlpResolver().ResolveMetadata(c.Context, ref)
	if err != nil {
		return cli.Exit("Failed to resolve track: "+err.Error(), 1)
	}

	id, _ := idGenerator.Next()
	track, err := repo.SaveTrack(c.Context, repository.Track{
		ID:        id,
		Title:     meta.Title,
		URL:       ref,
		SourceID:  meta.SourceID,
		Duration:  meta.Duration,
		Thumbnail: meta.Thumbnail,
		AddedBy:   cliUser,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return cli.Exit("Failed to save track: "+err.Error(), 1)
	}
	printTrack(track)
	return nil
}

// uploadTrack encodes a local file to Ogg Opus on the way into blob
// storage, so playing it never needs a re-encode.
func uploadTrack(c *cli.Context, repo *repository.PostgresCatalogRepository) error {
	path := c.String("file")
	file, err := os.Open(path)
	if err != nil {
		return cli.Exit("Failed to open file: "+err.Error(), 1)
	}
	defer file.Close()

	minioConfig, err := config.NewMinioConfigFromEnv()
	if err != nil {
		return cli.Exit("Failed to load minio config: "+err.Error(), 1)
	}
	storage, err := datalayer.NewMinioStorage(minioConfig)
	if err != nil {
		return cli.Exit("Failed to create minio storage: "+err.Error(), 1)
	}
	if err := storage.EnsureBucket(c.Context); err != nil {
		return cli.Exit("Failed to ensure minio bucket: "+err.Error(), 1)
	}
	playbackConfig, err := config.NewPlaybackConfigFromEnv()
	if err != nil {
		return cli.Exit("Failed to load playback config: "+err.Error(), 1)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	title := c.String("title")
	if title == "" {
		title = name
	}
	id, _ := idGenerator.Next()
	key := "uploads/" + id + "/" + name + ".ogg"

	pr, pw := io.Pipe()
	transcoder := opus.NewTranscoder(playbackConfig.FFmpegPath, playbackConfig.Bitrate)
	go func() {
		pw.CloseWithError(transcoder.Encode(c.Context, file, pw))
	}()

	err = storage.Put(c.Context, key, pr, datalayer.PutOptions{
		Size:        -1,
		ContentType: "audio/ogg",
		Metadata:    map[string]string{media.MetaTitle: title},
	})
	pr.Close()
	if err != nil {
		return cli.Exit("Failed to upload track: "+err.Error(), 1)
	}

	track, err := repo.SaveTrack(c.Context, repository.Track{
		ID:        id,
		Title:     title,
		URL:       media.BlobScheme + key,
		SourceID:  key,
		AddedBy:   cliUser,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return cli.Exit("Failed to save track: "+err.Error(), 1)
	}
	printTrack(track)
	return nil
}

func listTracks(c *cli.Context, repo *repository.PostgresCatalogRepository) error {
	tracks, err := repo.ListTracks(c.Context, c.Int("limit"))
	if err != nil {
		return cli.Exit("Failed to list tracks: "+err.Error(), 1)
	}
	if len(tracks) == 0 {
		log.Println("The catalog is empty.")
		return nil
	}
	for _, t := range tracks {
		printTrack(t)
	}
	return nil
}

func createPlaylist(c *cli.Context, repo *repository.PostgresCatalogRepository) error {
	id, _ := idGenerator.Next()
	playlist := repository.Playlist{
		ID:        id,
		GuildID:   c.String("guild-id"),
		Name:      c.String("name"),
		CreatedBy: cliUser,
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.SavePlaylist(c.Context, playlist); err != nil {
		return cli.Exit("Failed to save playlist: "+err.Error(), 1)
	}
	log.Printf("Created playlist %s (%s)", playlist.Name, playlist.ID)
	return nil
}

func findPlaylist(c *cli.Context, repo *repository.PostgresCatalogRepository) (repository.Playlist, error) {
	playlist, err := repo.FindPlaylist(c.Context, c.String("guild-id"), c.String("name"))
	if err != nil {
		return repository.Playlist{}, cli.Exit(fmt.Sprintf("Failed to find playlist %q: %v", c.String("name"), err), 1)
	}
	return playlist, nil
}

func addToPlaylist(c *cli.Context, repo *repository.PostgresCatalogRepository) error {
	playlist, err := findPlaylist(c, repo)
	if err != nil {
		return err
	}
	for _, trackID := range c.StringSlice("track-id") {
		if err := repo.AddToPlaylist(c.Context, playlist.ID, trackID); err != nil {
			return cli.Exit("Failed to add track "+trackID+": "+err.Error(), 1)
		}
	}
	log.Printf("Added %d tracks to %s", len(c.StringSlice("track-id")), playlist.Name)
	return nil
}

func showPlaylist(c *cli.Context, repo *repository.PostgresCatalogRepository) error {
	playlist, err := findPlaylist(c, repo)
	if err != nil {
		return err
	}
	tracks, err := repo.ListPlaylistTracks(c.Context, playlist.ID)
	if err != nil {
		return cli.Exit("Failed to list playlist tracks: "+err.Error(), 1)
	}
	log.Printf("Playlist %s has %d tracks", playlist.Name, len(tracks))
	for _, t := range tracks {
		printTrack(t)
	}
	return nil
}

func addSchedule(c *cli.Context, repo *repository.PostgresCatalogRepository) error {
	cron := c.String("cron")
	if err := schedule.ValidateCron(cron); err != nil {
		return cli.Exit("Invalid cron expression: "+err.Error(), 1)
	}
	playlist, err := findPlaylist(c, repo)
	if err != nil {
		return err
	}

	id, _ := idGenerator.Next()
	sched := repository.PlaylistSchedule{
		ID:            id,
		GuildID:       playlist.GuildID,
		PlaylistID:    playlist.ID,
		Cron:          cron,
		TextChannelID: c.String("channel-id"),
		CreatedAt:     time.Now().UTC(),
	}
	if err := repo.SaveSchedule(c.Context, sched); err != nil {
		return cli.Exit("Failed to save schedule: "+err.Error(), 1)
	}

	next, err := schedule.NextRunTimes(cron, 3)
	if err != nil {
		return cli.Exit("Failed to compute run times: "+err.Error(), 1)
	}
	log.Printf("Scheduled %s (%s)", playlist.Name, sched.ID)
	for _, t := range next {
		log.Printf("  next run: %s", t.Local().Format(time.RFC1123))
	}
	return nil
}

func publishControl(c *cli.Context) error {
	action, err := remote.ParseAction(c.String("action"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	rdb, redisConfig, err := datalayer.NewRedisClientFromEnv(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer rdb.Close()

	publisher := remote.NewRedisPublisher(rdb, redisConfig.CommandStream)
	err = publisher.Publish(c.Context, remote.Command{
		GuildID:  c.String("guild-id"),
		Action:   action,
		Arg:      c.String("arg"),
		IssuedBy: cliUser,
	})
	if err != nil {
		return cli.Exit("Failed to publish command: "+err.Error(), 1)
	}
	log.Printf("Sent %s to guild %s", action, c.String("guild-id"))
	return nil
}

func main() {
	if err := config.LoadEnv(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Failed to load .env file: %v", err)
	}

	playlistNameFlag := &cli.StringFlag{Name: "name", Usage: "Name of the playlist", Required: true}

	app := &cli.App{
		Name:        "alfira-cli",
		Description: "A development CLI tool for managing the alfira catalog without Discord",
		Commands: []*cli.Command{
			{
				Name:  "tracks",
				Usage: "Manage catalog tracks",
				Subcommands: []*cli.Command{
					{
						Name:   "add",
						Usage:  "Resolve a link and add it to the catalog",
						Action: withCatalog(addTrack),
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "url", Usage: "Link to the track", Required: true},
						},
					},
					{
						Name:   "upload",
						Usage:  "Encode a local audio file and upload it to the catalog",
						Action: withCatalog(uploadTrack),
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "file", Usage: "Path to the audio file", Required: true},
							&cli.StringFlag{Name: "title", Usage: "Track title. Defaults to the file name"},
						},
					},
					{
						Name:   "list",
						Usage:  "List the newest tracks",
						Action: withCatalog(listTracks),
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "limit", Usage: "How many tracks to list", Value: 25},
						},
					},
				},
			},
			{
				Name:  "playlists",
				Usage: "Manage a guild's playlists",
				Subcommands: []*cli.Command{
					{
						Name:   "create",
						Usage:  "Create an empty playlist",
						Action: withCatalog(createPlaylist),
						Flags:  []cli.Flag{guildIDFlag, playlistNameFlag},
					},
					{
						Name:   "add",
						Usage:  "Append tracks to a playlist",
						Action: withCatalog(addToPlaylist),
						Flags: []cli.Flag{
							guildIDFlag,
							playlistNameFlag,
							&cli.StringSliceFlag{Name: "track-id", Usage: "Catalog ID of a track, repeatable", Required: true},
						},
					},
					{
						Name:   "show",
						Usage:  "Show a playlist's tracks in order",
						Action: withCatalog(showPlaylist),
						Flags:  []cli.Flag{guildIDFlag, playlistNameFlag},
					},
				},
			},
			{
				Name:  "schedules",
				Usage: "Manage scheduled playlists",
				Subcommands: []*cli.Command{
					{
						Name:   "add",
						Usage:  "Play a playlist whenever a cron expression fires",
						Action: withCatalog(addSchedule),
						Flags: []cli.Flag{
							guildIDFlag,
							playlistNameFlag,
							&cli.StringFlag{Name: "cron", Usage: "Cron expression, e.g. '0 20 * * 5'", Required: true},
							&cli.StringFlag{Name: "channel-id", Usage: "Text channel for now playing messages"},
						},
					},
				},
			},
			{
				Name:  "control",
				Usage: "Send playback commands to the bot",
				Subcommands: []*cli.Command{
					{
						Name:   "publish",
						Usage:  "Publish a command on the remote control stream",
						Action: publishControl,
						Flags: []cli.Flag{
							guildIDFlag,
							&cli.StringFlag{Name: "action", Usage: "skip, stop, shuffle, loop, pause or resume", Required: true},
							&cli.StringFlag{Name: "arg", Usage: "Loop mode for the loop action"},
						},
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error running CLI: %v", err)
	}
}
