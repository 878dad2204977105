package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	joinAttempts      = 3
	readyPollInterval = 100 * time.Millisecond
	monitorInterval   = 250 * time.Millisecond
)

// DiscordConnection adapts a discordgo voice connection to Connection.
//
// discordgo reconnects its voice websocket on its own and only exposes a
// Ready flag, so the state machine is derived from that flag plus the
// bot's own voice state updates.
type DiscordConnection struct {
	session *discordgo.Session
	vc      *discordgo.VoiceConnection
	guildID string

	mu        sync.Mutex
	state     ConnState
	listeners map[int]func(from, to ConnState)
	nextID    int

	removeHandler func()
	stop          chan struct{}
	destroyOnce   sync.Once
	destroyErr    error
}

var _ Connection = (*DiscordConnection)(nil)

// Join connects to a voice channel, retrying a few times, and waits for
// the connection to become ready.
func Join(ctx context.Context, s *discordgo.Session, guildID, channelID string) (*DiscordConnection, error) {
	var (
		vc  *discordgo.VoiceConnection
		err error
	)
	for i := range joinAttempts {
		vc, err = s.ChannelVoiceJoin(guildID, channelID, false, true)
		if err == nil {
			break
		}
		slog.Warn("voice join attempt failed", "guildID", guildID, "attempt", i+1, "error", err)
		if i < joinAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i+1) * time.Second):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("unable to join the voice channel after %d attempts: %w", joinAttempts, err)
	}

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()
	for !isReady(vc) {
		select {
		case <-ctx.Done():
			if derr := vc.Disconnect(); derr != nil {
				slog.Error("failed to disconnect", "guildID", guildID, "error", derr)
			}
			return nil, fmt.Errorf("voice connection was not ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}

	c := &DiscordConnection{
		session:   s,
		vc:        vc,
		guildID:   guildID,
		state:     StateReady,
		listeners: make(map[int]func(from, to ConnState)),
		stop:      make(chan struct{}),
	}
	c.removeHandler = s.AddHandler(c.onVoiceStateUpdate)
	go c.monitor()

	slog.Info("joined voice channel", "guildID", guildID, "channelID", channelID)
	return c, nil
}

func isReady(vc *discordgo.VoiceConnection) bool {
	vc.RLock()
	defer vc.RUnlock()
	return vc.Ready
}

func (c *DiscordConnection) onVoiceStateUpdate(s *discordgo.Session, e *discordgo.VoiceStateUpdate) {
	if e.VoiceState == nil || e.GuildID != c.guildID || s.State.User == nil || e.UserID != s.State.User.ID {
		return
	}
	if e.ChannelID == "" {
		c.setState(StateDisconnected)
		return
	}
	// Moved or re-invited after a disconnect.
	if c.State() == StateDisconnected {
		c.setState(StateSignalling)
	}
}

func (c *DiscordConnection) monitor() {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}

		ready := isReady(c.vc)
		switch state := c.State(); {
		case state == StateReady && !ready:
			c.setState(StateConnecting)
		case (state == StateConnecting || state == StateSignalling) && ready:
			c.setState(StateReady)
		}
	}
}

func (c *DiscordConnection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *DiscordConnection) setState(to ConnState) {
	c.mu.Lock()
	from := c.state
	if from == to || from == StateDestroyed {
		c.mu.Unlock()
		return
	}
	c.state = to
	listeners := make([]func(from, to ConnState), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	slog.Debug("voice state changed", "guildID", c.guildID, "from", from, "to", to)
	for _, fn := range listeners {
		fn(from, to)
	}
}

func (c *DiscordConnection) OnStateChange(fn func(from, to ConnState)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *DiscordConnection) OpusSend() chan<- []byte {
	return c.vc.OpusSend
}

func (c *DiscordConnection) Speaking(speaking bool) error {
	return c.vc.Speaking(speaking)
}

// Destroy leaves the channel. Listeners observe StateDestroyed before the
// websocket is torn down. Repeated calls return the first result.
func (c *DiscordConnection) Destroy() error {
	c.destroyOnce.Do(func() {
		c.setState(StateDestroyed)
		close(c.stop)
		c.removeHandler()

		if err := c.vc.Speaking(false); err != nil {
			slog.Debug("failed to stop speaking", "guildID", c.guildID, "error", err)
		}
		if err := c.vc.Disconnect(); err != nil {
			c.destroyErr = fmt.Errorf("failed to disconnect: %w", err)
		}
	})
	return c.destroyErr
}
