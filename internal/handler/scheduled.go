package handler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glizzus/alfira/internal/generator"
	"github.com/glizzus/alfira/internal/playback"
	"github.com/glizzus/alfira/internal/repository"
	"github.com/glizzus/alfira/internal/schedule"
)

// ScheduledRequester is shown as the requester of scheduled tracks.
const ScheduledRequester = "schedule"

// ScheduledPlayer replaces a guild's queue with a playlist when one of its
// schedules fires. Without a live engine it joins the busiest voice
// channel.
type ScheduledPlayer struct {
	catalog  repository.PlaylistRepository
	engines  *Engines
	queueIDs generator.Generator[string]
}

func NewScheduledPlayer(catalog repository.PlaylistRepository, engines *Engines, queueIDs generator.Generator[string]) *ScheduledPlayer {
	if queueIDs == nil {
		queueIDs = &generator.UUIDV4Generator{}
	}
	return &ScheduledPlayer{catalog: catalog, engines: engines, queueIDs: queueIDs}
}

var _ schedule.Firer = (*ScheduledPlayer)(nil)

func (p *ScheduledPlayer) Fire(ctx context.Context, sched repository.PlaylistSchedule) error {
	tracks, err := p.catalog.ListPlaylistTracks(ctx, sched.PlaylistID)
	if err != nil {
		return fmt.Errorf("failed to list tracks of playlist %s: %w", sched.PlaylistID, err)
	}
	if len(tracks) == 0 {
		slog.Info("scheduled playlist is empty, nothing to play", "scheduleID", sched.ID, "playlistID", sched.PlaylistID)
		return nil
	}

	engine, err := p.engines.Ensure(ctx, sched.GuildID, func() (string, error) {
		return p.engines.voice.MostAttendedChannel(sched.GuildID)
	})
	if err != nil {
		return fmt.Errorf("failed to start playback in guild %s: %w", sched.GuildID, err)
	}

	queued, err := playback.NewQueuedTracks(p.queueIDs, tracks, ScheduledRequester, sched.TextChannelID)
	if err != nil {
		return err
	}
	if err := engine.ReplaceAndPlay(queued); err != nil {
		return fmt.Errorf("failed to play scheduled playlist %s: %w", sched.PlaylistID, err)
	}

	slog.Info("started scheduled playlist", "scheduleID", sched.ID, "guildID", sched.GuildID, "playlistID", sched.PlaylistID, "tracks", len(queued))
	return nil
}
