package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glizzus/alfira/internal/playback"
)

var ErrNoEngine = errors.New("no active playback in guild")

// Controls is the part of a playback engine remote commands can drive.
type Controls interface {
	Skip() bool
	Stop()
	Shuffle()
	Pause() bool
	Resume() bool
	LoopMode() playback.LoopMode
	SetLoopMode(playback.LoopMode)
}

var _ Controls = (*playback.Engine)(nil)

// EngineLookup finds the engine of a guild.
type EngineLookup func(guildID string) (Controls, bool)

func RegistryLookup(r *playback.Registry) EngineLookup {
	return func(guildID string) (Controls, bool) {
		e, ok := r.Get(guildID)
		if !ok || e.Closed() {
			return nil, false
		}
		return e, true
	}
}

type Dispatcher struct {
	lookup     EngineLookup
	retryDelay time.Duration
}

func NewDispatcher(lookup EngineLookup) *Dispatcher {
	return &Dispatcher{lookup: lookup, retryDelay: time.Second}
}

// Dispatch applies cmd to its guild's engine.
func (d *Dispatcher) Dispatch(cmd Command) error {
	e, ok := d.lookup(cmd.GuildID)
	if !ok {
		return ErrNoEngine
	}

	switch cmd.Action {
	case ActionSkip:
		e.Skip()
	case ActionStop:
		e.Stop()
	case ActionShuffle:
		e.Shuffle()
	case ActionPause:
		e.Pause()
	case ActionResume:
		e.Resume()
	case ActionLoop:
		mode := e.LoopMode().Next()
		if cmd.Arg != "" {
			parsed, err := playback.ParseLoopMode(cmd.Arg)
			if err != nil {
				return err
			}
			mode = parsed
		}
		e.SetLoopMode(mode)
	default:
		return fmt.Errorf("unknown action %q", cmd.Action)
	}
	return nil
}

// Run consumes r until ctx is done. Every received command is acked,
// including the ones that could not be applied.
func (d *Dispatcher) Run(ctx context.Context, r Receiver) error {
	for {
		cmds, err := r.Receive(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			slog.Error("failed to receive remote commands", "error", err)
			select {
			case <-time.After(d.retryDelay):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		ids := make([]string, 0, len(cmds))
		for _, cmd := range cmds {
			ids = append(ids, cmd.ID)
			if err := d.Dispatch(cmd); err != nil {
				slog.Warn(
					"failed to apply remote command",
					"guildID", cmd.GuildID,
					"action", cmd.Action,
					"issuedBy", cmd.IssuedBy,
					"error", err,
				)
				continue
			}
			slog.Info("applied remote command", "guildID", cmd.GuildID, "action", cmd.Action, "issuedBy", cmd.IssuedBy)
		}
		if err := r.Ack(ctx, ids...); err != nil && ctx.Err() == nil {
			slog.Error("failed to ack remote commands", "error", err)
		}
	}
}
