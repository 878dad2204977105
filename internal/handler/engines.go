package handler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/glizzus/alfira/internal/playback"
)

// Engines finds the live playback engine of a guild, or joins voice and
// starts one. Joins are serialized per guild so two commands arriving
// together cannot open two connections.
type Engines struct {
	registry *playback.Registry
	voice    VoiceJoiner
	notifier playback.Notifier

	locks sync.Map
}

func NewEngines(registry *playback.Registry, joiner VoiceJoiner, notifier playback.Notifier) *Engines {
	if notifier == nil {
		notifier = playback.NopNotifier{}
	}
	return &Engines{registry: registry, voice: joiner, notifier: notifier}
}

func (e *Engines) Live(guildID string) (*playback.Engine, bool) {
	engine, ok := e.registry.Get(guildID)
	if !ok || engine.Closed() {
		return nil, false
	}
	return engine, true
}

// Ensure returns the guild's live engine. Without one, it joins the
// channel returned by pick and creates an engine on that connection.
func (e *Engines) Ensure(ctx context.Context, guildID string, pick func() (string, error)) (*playback.Engine, error) {
	mu, _ := e.locks.LoadOrStore(guildID, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	if engine, ok := e.Live(guildID); ok {
		return engine, nil
	}

	channelID, err := pick()
	if err != nil {
		return nil, err
	}

	conn, err := e.voice.Join(ctx, guildID, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to join voice channel %s: %w", channelID, err)
	}

	engine, err := e.registry.GetOrCreate(guildID, conn, e.notifier)
	if err != nil {
		if derr := conn.Destroy(); derr != nil {
			slog.Warn("failed to destroy unused voice connection", "guildID", guildID, "error", derr)
		}
		return nil, fmt.Errorf("failed to create playback engine: %w", err)
	}
	return engine, nil
}
