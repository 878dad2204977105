package broadcast

import (
	"context"
	"errors"

	"github.com/glizzus/alfira/internal/playback"
)

// ErrNoSnapshot is returned when a guild has never published a snapshot.
var ErrNoSnapshot = errors.New("no playback snapshot for guild")

// Fanout calls every sink in order with each snapshot. Nil sinks are
// skipped.
func Fanout(sinks ...playback.Broadcaster) playback.Broadcaster {
	live := make([]playback.Broadcaster, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			live = append(live, sink)
		}
	}
	return func(s playback.State) {
		for _, sink := range live {
			sink(s)
		}
	}
}

// StateSource looks up the current snapshot of a guild.
type StateSource interface {
	Snapshot(ctx context.Context, guildID string) (playback.State, error)
}

// RegistrySource reads snapshots straight from live engines.
type RegistrySource struct {
	Registry *playback.Registry
}

var _ StateSource = RegistrySource{}

func (s RegistrySource) Snapshot(_ context.Context, guildID string) (playback.State, error) {
	e, ok := s.Registry.Get(guildID)
	if !ok || e.Closed() {
		return playback.State{}, ErrNoSnapshot
	}
	return e.State(), nil
}

// Sources tries each source in turn and returns the first snapshot found.
type Sources []StateSource

var _ StateSource = Sources(nil)

func (s Sources) Snapshot(ctx context.Context, guildID string) (playback.State, error) {
	for _, src := range s {
		state, err := src.Snapshot(ctx, guildID)
		if err == nil {
			return state, nil
		}
		if !errors.Is(err, ErrNoSnapshot) {
			return playback.State{}, err
		}
	}
	return playback.State{}, ErrNoSnapshot
}
