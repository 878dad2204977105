package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glizzus/alfira/internal/playback"
	"github.com/redis/go-redis/v9"
)

const (
	snapshotTTL  = 24 * time.Hour
	writeTimeout = 5 * time.Second
)

// ChannelName is the pub/sub channel snapshots of a guild are published on.
func ChannelName(guildID string) string {
	return "playback:" + guildID
}

func snapshotKey(guildID string) string {
	return "playback:state:" + guildID
}

// RedisSink publishes snapshots to Redis and caches the latest one per
// guild. Broadcast never touches the network; Run does the writes and
// only the newest pending snapshot of each guild is sent.
type RedisSink struct {
	client *redis.Client

	mu      sync.Mutex
	pending map[string]playback.State
	order   []string
	wake    chan struct{}
}

var _ StateSource = (*RedisSink)(nil)

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{
		client:  client,
		pending: make(map[string]playback.State),
		wake:    make(chan struct{}, 1),
	}
}

// Broadcast implements playback.Broadcaster.
func (s *RedisSink) Broadcast(state playback.State) {
	s.mu.Lock()
	if _, ok := s.pending[state.GuildID]; !ok {
		s.order = append(s.order, state.GuildID)
	}
	s.pending[state.GuildID] = state
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run writes pending snapshots until ctx is done, then flushes whatever
// is left. Writes already started are not cut short by ctx.
func (s *RedisSink) Run(ctx context.Context) {
	for {
		select {
		case <-s.wake:
			s.flush(ctx)
		case <-ctx.Done():
			s.flush(ctx)
			return
		}
	}
}

func (s *RedisSink) flush(ctx context.Context) {
	s.mu.Lock()
	pending, order := s.pending, s.order
	s.pending = make(map[string]playback.State)
	s.order = nil
	s.mu.Unlock()

	for _, guildID := range order {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
		err := s.Store(writeCtx, pending[guildID])
		cancel()
		if err != nil {
			slog.Error("failed to publish playback snapshot", "guildID", guildID, "error", err)
		}
	}
}

// Store caches state and publishes it in one round trip.
func (s *RedisSink) Store(ctx context.Context, state playback.State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, snapshotKey(state.GuildID), payload, snapshotTTL)
		pipe.Publish(ctx, ChannelName(state.GuildID), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

// Snapshot returns the last stored snapshot of the guild.
func (s *RedisSink) Snapshot(ctx context.Context, guildID string) (playback.State, error) {
	payload, err := s.client.Get(ctx, snapshotKey(guildID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return playback.State{}, ErrNoSnapshot
	}
	if err != nil {
		return playback.State{}, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var state playback.State
	if err := json.Unmarshal(payload, &state); err != nil {
		return playback.State{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return state, nil
}
