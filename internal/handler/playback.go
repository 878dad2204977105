package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/glizzus/alfira/internal/media"
	"github.com/glizzus/alfira/internal/playback"
	"github.com/glizzus/alfira/internal/presenters"
	"github.com/glizzus/alfira/internal/repository"
	"github.com/glizzus/alfira/internal/voice"
)

var errNothingPlaying = &UserError{Message: "Nothing is playing."}

func isReference(query string) bool {
	return strings.HasPrefix(query, "https://") ||
		strings.HasPrefix(query, "http://") ||
		strings.HasPrefix(query, media.BlobScheme)
}

// userChannel is the voice channel the invoking user is in.
func (c *controller) userChannel(i *discordgo.InteractionCreate) (string, error) {
	channelID, err := c.deps.Engines.voice.UserVoiceChannel(i.GuildID, interactionUser(i).ID)
	if errors.Is(err, voice.ErrNotInVoice) {
		return "", userErrorf("Join a voice channel first.")
	}
	if err != nil {
		return "", fmt.Errorf("failed to find the user's voice channel: %w", err)
	}
	return channelID, nil
}

// engineFor returns the guild's engine, joining the user's channel when
// there is none. Users outside voice are turned away even when an engine
// exists, so only listeners change the queue.
func (c *controller) engineFor(ctx context.Context, i *discordgo.InteractionCreate) (*playback.Engine, error) {
	channelID, err := c.userChannel(i)
	if err != nil {
		return nil, err
	}
	return c.deps.Engines.Ensure(ctx, i.GuildID, func() (string, error) {
		return channelID, nil
	})
}

func (c *controller) liveEngine(i *discordgo.InteractionCreate) (*playback.Engine, error) {
	engine, ok := c.deps.Engines.Live(i.GuildID)
	if !ok {
		return nil, errNothingPlaying
	}
	return engine, nil
}

// resolveTrack looks up ref and records it in the catalog. A track that
// cannot be stored is still returned, without an ID.
func (c *controller) resolveTrack(ctx context.Context, ref, addedBy string) (repository.Track, error) {
	meta, err := c.deps.Resolver.ResolveMetadata(ctx, ref)
	if err != nil {
		slog.Warn("failed to resolve track", "ref", ref, "error", err)
		return repository.Track{}, userErrorf("Could not find anything playable at <%s>.", ref)
	}

	track := repository.Track{
		Title:     meta.Title,
		URL:       ref,
		SourceID:  meta.SourceID,
		Duration:  meta.Duration,
		Thumbnail: meta.Thumbnail,
		AddedBy:   addedBy,
		CreatedAt: time.Now().UTC(),
	}

	id, err := c.deps.CatalogIDs.Next()
	if err != nil {
		return track, nil
	}
	track.ID = id

	saved, err := c.deps.Catalog.SaveTrack(ctx, track)
	if err != nil {
		slog.Warn("failed to save track, queueing it without an id", "url", ref, "error", err)
		track.ID = ""
		return track, nil
	}
	return saved, nil
}

// enqueue queues tracks on engine, or replaces its queue, and returns the
// confirmation to show.
func (c *controller) enqueue(engine *playback.Engine, i *discordgo.InteractionCreate, tracks []repository.Track, replace bool) (string, error) {
	queued, err := playback.NewQueuedTracks(c.deps.QueueIDs, tracks, displayName(i), i.ChannelID)
	if err != nil {
		return "", err
	}

	idle := engine.State().CurrentTrack == nil
	if replace {
		idle = true
		err = engine.ReplaceAndPlay(queued)
	} else {
		err = engine.Enqueue(queued...)
	}
	if errors.Is(err, playback.ErrEngineClosed) {
		return "", userErrorf("Playback just stopped, please try again.")
	}
	if err != nil {
		return "", fmt.Errorf("failed to queue tracks: %w", err)
	}

	slog.Info("queued tracks", "guildID", i.GuildID, "count", len(queued), "replace", replace, "requestedBy", interactionUser(i).ID)
	return presenters.QueuedMessage(queued, idle), nil
}

func (c *controller) playFlow() *Flow {
	return &Flow{
		ID: "play",
		Root: &Node{
			ID:      "play",
			Matcher: isCommand("play"),
			Handler: deferred(discordgo.InteractionResponseDeferredChannelMessageWithSource, c.play),
		},
	}
}

func (c *controller) play(ctx context.Context, i *discordgo.InteractionCreate, _ *FlowContext) (*discordgo.InteractionResponseData, error) {
	query := strings.TrimSpace(stringOption(i, "query"))
	if query == "" {
		return nil, userErrorf("Tell me what to play.")
	}
	// Check before resolving so nobody waits on a search just to be told
	// to join voice.
	if _, err := c.userChannel(i); err != nil {
		return nil, err
	}

	ref := query
	if !isReference(query) {
		results, err := c.deps.Searcher.Search(ctx, query, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to search for %q: %w", query, err)
		}
		if len(results) == 0 {
			return nil, userErrorf("No results for **%s**.", query)
		}
		ref = results[0].URL
	}

	track, err := c.resolveTrack(ctx, ref, interactionUser(i).ID)
	if err != nil {
		return nil, err
	}

	engine, err := c.engineFor(ctx, i)
	if err != nil {
		return nil, err
	}
	msg, err := c.enqueue(engine, i, []repository.Track{track}, false)
	if err != nil {
		return nil, err
	}
	return &discordgo.InteractionResponseData{Content: msg}, nil
}

func (c *controller) playlistFlow() *Flow {
	return &Flow{
		ID: "playlist",
		Root: &Node{
			ID:      "playlist",
			Matcher: isCommand("playlist"),
			Handler: deferred(discordgo.InteractionResponseDeferredChannelMessageWithSource, c.playlist),
		},
	}
}

func (c *controller) playlist(ctx context.Context, i *discordgo.InteractionCreate, _ *FlowContext) (*discordgo.InteractionResponseData, error) {
	name := strings.TrimSpace(stringOption(i, "name"))
	if name == "" {
		playlists, err := c.deps.Catalog.ListPlaylists(ctx, i.GuildID)
		if err != nil {
			return nil, fmt.Errorf("failed to list playlists: %w", err)
		}
		return &discordgo.InteractionResponseData{Content: presenters.PlaylistsMessage(playlists)}, nil
	}

	playlist, err := c.deps.Catalog.FindPlaylist(ctx, i.GuildID, name)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, userErrorf("There is no playlist called **%s**.", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find playlist %q: %w", name, err)
	}

	tracks, err := c.deps.Catalog.ListPlaylistTracks(ctx, playlist.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks of playlist %s: %w", playlist.ID, err)
	}
	if len(tracks) == 0 {
		return nil, userErrorf("Playlist **%s** is empty.", name)
	}

	engine, err := c.engineFor(ctx, i)
	if err != nil {
		return nil, err
	}
	msg, err := c.enqueue(engine, i, tracks, boolOption(i, "replace"))
	if err != nil {
		return nil, err
	}
	return &discordgo.InteractionResponseData{Content: msg}, nil
}

// skipFlow is deferred because skipping a track that is still resolving
// starts the next one before returning.
func (c *controller) skipFlow() *Flow {
	return &Flow{
		ID: "skip",
		Root: &Node{
			ID:      "skip",
			Matcher: isCommand("skip"),
			Handler: deferred(discordgo.InteractionResponseDeferredChannelMessageWithSource, c.skip),
		},
	}
}

func (c *controller) skip(_ context.Context, i *discordgo.InteractionCreate, _ *FlowContext) (*discordgo.InteractionResponseData, error) {
	engine, err := c.liveEngine(i)
	if err != nil {
		return nil, err
	}
	current, ok := engine.Current()
	if !ok || !engine.Skip() {
		return nil, errNothingPlaying
	}
	return &discordgo.InteractionResponseData{Content: fmt.Sprintf("Skipped **%s**.", current.Title)}, nil
}

func (c *controller) jumpFlow() *Flow {
	return &Flow{
		ID: "jump",
		Root: &Node{
			ID:      "jump",
			Matcher: isCommand("jump"),
			Handler: deferred(discordgo.InteractionResponseDeferredChannelMessageWithSource, c.jump),
		},
	}
}

func (c *controller) jump(_ context.Context, i *discordgo.InteractionCreate, _ *FlowContext) (*discordgo.InteractionResponseData, error) {
	position, ok := intOption(i, "position")
	if !ok || position < 1 {
		return nil, userErrorf("Give a queue position, starting at 1.")
	}
	engine, err := c.liveEngine(i)
	if err != nil {
		return nil, err
	}

	target, err := engine.Jump(int(position) - 1)
	if errors.Is(err, playback.ErrOutOfRange) {
		return nil, userErrorf("There is no track at position %d. The queue has %d.", position, len(engine.Queue()))
	}
	if errors.Is(err, playback.ErrEngineClosed) {
		return nil, errNothingPlaying
	}
	if err != nil {
		return nil, fmt.Errorf("failed to jump to position %d: %w", position, err)
	}
	return &discordgo.InteractionResponseData{Content: fmt.Sprintf("Jumped to **%s**.", target.Title)}, nil
}

// simpleFlow is a single step command answered immediately.
func simpleFlow(name string, fn func(i *discordgo.InteractionCreate) (*discordgo.InteractionResponse, error)) *Flow {
	return &Flow{
		ID: name,
		Root: &Node{
			ID:      name,
			Matcher: isCommand(name),
			Handler: func(s DiscordSession, i *discordgo.InteractionCreate, _ *FlowContext) error {
				resp, err := fn(i)
				if err != nil {
					return err
				}
				return respond(s, i, resp)
			},
		},
	}
}

func (c *controller) stopFlow() *Flow {
	return simpleFlow("stop", func(i *discordgo.InteractionCreate) (*discordgo.InteractionResponse, error) {
		engine, err := c.liveEngine(i)
		if err != nil {
			return nil, err
		}
		engine.Stop()
		return presenters.Message("Stopped playback and cleared the queue."), nil
	})
}

func (c *controller) pauseFlow() *Flow {
	return simpleFlow("pause", func(i *discordgo.InteractionCreate) (*discordgo.InteractionResponse, error) {
		engine, err := c.liveEngine(i)
		if err != nil {
			return nil, err
		}
		if !engine.Pause() {
			return nil, userErrorf("Nothing is playing, or it is already paused.")
		}
		return presenters.Message("Paused."), nil
	})
}

func (c *controller) resumeFlow() *Flow {
	return simpleFlow("resume", func(i *discordgo.InteractionCreate) (*discordgo.InteractionResponse, error) {
		engine, err := c.liveEngine(i)
		if err != nil {
			return nil, err
		}
		if !engine.Resume() {
			return nil, userErrorf("Playback is not paused.")
		}
		return presenters.Message("Resumed."), nil
	})
}

func (c *controller) shuffleFlow() *Flow {
	return simpleFlow("shuffle", func(i *discordgo.InteractionCreate) (*discordgo.InteractionResponse, error) {
		engine, err := c.liveEngine(i)
		if err != nil {
			return nil, err
		}
		n := len(engine.Queue())
		if n < 2 {
			return nil, userErrorf("There is nothing to shuffle.")
		}
		engine.Shuffle()
		return presenters.Message(fmt.Sprintf("Shuffled %d upcoming tracks.", n)), nil
	})
}

func (c *controller) loopFlow() *Flow {
	return simpleFlow("loop", func(i *discordgo.InteractionCreate) (*discordgo.InteractionResponse, error) {
		engine, err := c.liveEngine(i)
		if err != nil {
			return nil, err
		}

		mode := engine.LoopMode().Next()
		if raw := stringOption(i, "mode"); raw != "" {
			mode, err = playback.ParseLoopMode(raw)
			if err != nil {
				return nil, userErrorf("Loop mode must be off, song or queue.")
			}
		}
		engine.SetLoopMode(mode)
		return presenters.Message(fmt.Sprintf("Loop mode set to **%s**.", mode)), nil
	})
}

func (c *controller) queueFlow() *Flow {
	return simpleFlow("queue", func(i *discordgo.InteractionCreate) (*discordgo.InteractionResponse, error) {
		var state playback.State
		if engine, ok := c.deps.Engines.Live(i.GuildID); ok {
			state = engine.State()
		}
		return presenters.QueueResponse(state), nil
	})
}

func (c *controller) nowPlayingFlow() *Flow {
	return simpleFlow("nowplaying", func(i *discordgo.InteractionCreate) (*discordgo.InteractionResponse, error) {
		var state playback.State
		if engine, ok := c.deps.Engines.Live(i.GuildID); ok {
			state = engine.State()
		}
		return presenters.NowPlayingResponse(state), nil
	})
}
