package repository

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Track is a playable item. The engine treats it as read only.
// ID is empty for ephemeral tracks that were never stored in the catalog.
type Track struct {
	ID        string    `json:"id,omitempty"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	SourceID  string    `json:"sourceId,omitempty"`
	Duration  int       `json:"duration"`
	Thumbnail string    `json:"thumbnail,omitempty"`
	AddedBy   string    `json:"addedBy,omitempty"`
	CreatedAt time.Time `json:"-"`
}

type Playlist struct {
	ID        string
	GuildID   string
	Name      string
	CreatedBy string
	CreatedAt time.Time
}

// PlaylistSchedule replaces a guild's queue with a playlist whenever its
// cron expression fires.
type PlaylistSchedule struct {
	ID            string
	GuildID       string
	PlaylistID    string
	Cron          string
	TextChannelID string
	CreatedAt     time.Time
}

type TrackRepository interface {
	SaveTrack(ctx context.Context, track Track) (Track, error)
	GetTrack(ctx context.Context, id string) (Track, error)
	ListTracks(ctx context.Context, limit int) ([]Track, error)
}

type PlaylistRepository interface {
	SavePlaylist(ctx context.Context, playlist Playlist) error
	FindPlaylist(ctx context.Context, guildID, name string) (Playlist, error)
	ListPlaylists(ctx context.Context, guildID string) ([]Playlist, error)
	AddToPlaylist(ctx context.Context, playlistID, trackID string) error
	ListPlaylistTracks(ctx context.Context, playlistID string) ([]Track, error)
}

type ScheduleRepository interface {
	SaveSchedule(ctx context.Context, schedule PlaylistSchedule) error
	ListSchedules(ctx context.Context) ([]PlaylistSchedule, error)
}

// CatalogRepository is everything the bot reads from and writes to the
// catalog store.
type CatalogRepository interface {
	TrackRepository
	PlaylistRepository
	ScheduleRepository
}
