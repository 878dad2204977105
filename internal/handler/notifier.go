package handler

import (
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/glizzus/alfira/internal/playback"
	"github.com/glizzus/alfira/internal/presenters"
)

// MessageSender is the part of *discordgo.Session the notifier uses.
type MessageSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ MessageSender = (*discordgo.Session)(nil)

// DiscordNotifier posts playback events to the text channel a track was
// requested from. Sends happen in the background and failures are only
// logged.
type DiscordNotifier struct {
	sender MessageSender
}

func NewDiscordNotifier(sender MessageSender) *DiscordNotifier {
	return &DiscordNotifier{sender: sender}
}

var _ playback.Notifier = (*DiscordNotifier)(nil)

func (n *DiscordNotifier) send(channelID, content string) {
	if channelID == "" {
		return
	}
	go func() {
		if _, err := n.sender.ChannelMessageSend(channelID, content); err != nil {
			slog.Warn("failed to send playback notification", "channelID", channelID, "error", err)
		}
	}()
}

func (n *DiscordNotifier) NowPlaying(track playback.QueuedTrack) {
	n.send(track.TextChannelID, presenters.NowPlayingMessage(track))
}

func (n *DiscordNotifier) TrackSkipped(track playback.QueuedTrack, reason error) {
	slog.Debug("notifying skipped track", "title", track.Title, "reason", reason)
	n.send(track.TextChannelID, presenters.TrackSkippedMessage(track))
}

func (n *DiscordNotifier) ConnectionLost(textChannelID string) {
	n.send(textChannelID, presenters.ConnectionLostMessage())
}
