package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresCatalogRepository struct {
	db *pgxpool.Pool
}

func NewPostgresCatalogRepository(db *pgxpool.Pool) *PostgresCatalogRepository {
	return &PostgresCatalogRepository{db: db}
}

var _ CatalogRepository = (*PostgresCatalogRepository)(nil)

func trackToRowParams(track Track) []any {
	return []any{
		track.ID,
		track.Title,
		track.URL,
		track.SourceID,
		track.Duration,
		track.Thumbnail,
		track.AddedBy,
	}
}

const trackColumns = `id, title, url, source_id, duration, thumbnail, added_by, created_at`

func scanTrack(row pgx.Row) (Track, error) {
	var track Track
	err := row.Scan(
		&track.ID,
		&track.Title,
		&track.URL,
		&track.SourceID,
		&track.Duration,
		&track.Thumbnail,
		&track.AddedBy,
		&track.CreatedAt,
	)
	return track, err
}

// SaveTrack inserts the track. A track whose URL is already catalogued is
// not duplicated; the stored row is returned instead.
func (r *PostgresCatalogRepository) SaveTrack(ctx context.Context, track Track) (Track, error) {
	const query = `
	INSERT INTO track (id, title, url, source_id, duration, thumbnail, added_by)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (url) DO UPDATE SET
		title = EXCLUDED.title,
		source_id = EXCLUDED.source_id,
		duration = EXCLUDED.duration,
		thumbnail = EXCLUDED.thumbnail
	RETURNING ` + trackColumns

	saved, err := scanTrack(r.db.QueryRow(ctx, query, trackToRowParams(track)...))
	if err != nil {
		return Track{}, fmt.Errorf("failed to save track: %w", err)
	}
	return saved, nil
}

func (r *PostgresCatalogRepository) GetTrack(ctx context.Context, id string) (Track, error) {
	query := `SELECT ` + trackColumns + ` FROM track WHERE id = $1`

	track, err := scanTrack(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Track{}, fmt.Errorf("track %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Track{}, fmt.Errorf("failed to get track: %w", err)
	}
	return track, nil
}

func (r *PostgresCatalogRepository) ListTracks(ctx context.Context, limit int) ([]Track, error) {
	query := `SELECT ` + trackColumns + ` FROM track ORDER BY created_at DESC, title LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	tracks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Track, error) {
		return scanTrack(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan tracks: %w", err)
	}
	return tracks, nil
}

func (r *PostgresCatalogRepository) SavePlaylist(ctx context.Context, playlist Playlist) error {
	const query = `
	INSERT INTO playlist (id, guild_id, name, created_by)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name
	`
	_, err := r.db.Exec(ctx, query, playlist.ID, playlist.GuildID, playlist.Name, playlist.CreatedBy)
	if err != nil {
		return fmt.Errorf("failed to save playlist: %w", err)
	}
	return nil
}

func (r *PostgresCatalogRepository) FindPlaylist(ctx context.Context, guildID, name string) (Playlist, error) {
	const query = `
	SELECT id, guild_id, name, created_by, created_at
	FROM playlist
	WHERE guild_id = $1 AND name = $2
	`
	var p Playlist
	err := r.db.QueryRow(ctx, query, guildID, name).Scan(&p.ID, &p.GuildID, &p.Name, &p.CreatedBy, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Playlist{}, fmt.Errorf("playlist %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return Playlist{}, fmt.Errorf("failed to find playlist: %w", err)
	}
	return p, nil
}

func (r *PostgresCatalogRepository) ListPlaylists(ctx context.Context, guildID string) ([]Playlist, error) {
	const query = `
	SELECT id, guild_id, name, created_by, created_at
	FROM playlist
	WHERE guild_id = $1
	ORDER BY name
	`
	rows, err := r.db.Query(ctx, query, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlists: %w", err)
	}
	defer rows.Close()

	var playlists []Playlist
	for rows.Next() {
		var p Playlist
		if err := rows.Scan(&p.ID, &p.GuildID, &p.Name, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan playlist: %w", err)
		}
		playlists = append(playlists, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating playlists: %w", err)
	}
	return playlists, nil
}

// AddToPlaylist appends the track after the playlist's last position.
func (r *PostgresCatalogRepository) AddToPlaylist(ctx context.Context, playlistID, trackID string) error {
	const lockQuery = `SELECT id FROM playlist WHERE id = $1 FOR UPDATE`
	const insertQuery = `
	INSERT INTO playlist_track (playlist_id, track_id, position)
	SELECT $1, $2, COALESCE(MAX(position), -1) + 1
	FROM playlist_track
	WHERE playlist_id = $1
	`

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	var id string
	err = tx.QueryRow(ctx, lockQuery, playlistID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("playlist %s: %w", playlistID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock playlist: %w", err)
	}

	if _, err := tx.Exec(ctx, insertQuery, playlistID, trackID); err != nil {
		return fmt.Errorf("failed to add track to playlist: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListPlaylistTracks returns the playlist's tracks ordered by position.
func (r *PostgresCatalogRepository) ListPlaylistTracks(ctx context.Context, playlistID string) ([]Track, error) {
	const query = `
	SELECT t.id, t.title, t.url, t.source_id, t.duration, t.thumbnail, t.added_by, t.created_at
	FROM playlist_track pt
	JOIN track t ON t.id = pt.track_id
	WHERE pt.playlist_id = $1
	ORDER BY pt.position
	`
	rows, err := r.db.Query(ctx, query, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist tracks: %w", err)
	}
	tracks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Track, error) {
		return scanTrack(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan playlist tracks: %w", err)
	}
	return tracks, nil
}

// SaveSchedule stores the schedule as given. Callers validate the cron
// expression with schedule.ValidateCron first.
func (r *PostgresCatalogRepository) SaveSchedule(ctx context.Context, s PlaylistSchedule) error {
	const query = `
	INSERT INTO playlist_schedule (id, guild_id, playlist_id, cron, text_channel_id)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET
		cron = EXCLUDED.cron,
		text_channel_id = EXCLUDED.text_channel_id
	`
	_, err := r.db.Exec(ctx, query, s.ID, s.GuildID, s.PlaylistID, s.Cron, s.TextChannelID)
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	return nil
}

func (r *PostgresCatalogRepository) ListSchedules(ctx context.Context) ([]PlaylistSchedule, error) {
	const query = `
	SELECT id, guild_id, playlist_id, cron, text_channel_id, created_at
	FROM playlist_schedule
	ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	var schedules []PlaylistSchedule
	for rows.Next() {
		var s PlaylistSchedule
		if err := rows.Scan(&s.ID, &s.GuildID, &s.PlaylistID, &s.Cron, &s.TextChannelID, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}
	return schedules, nil
}
