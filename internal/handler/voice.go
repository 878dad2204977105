package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/glizzus/alfira/internal/voice"
)

// ErrNoListeners is returned when no voice channel in a guild has anyone
// in it.
var ErrNoListeners = errors.New("no voice channel has listeners")

// VoiceJoiner finds voice channels and connects to them.
type VoiceJoiner interface {
	UserVoiceChannel(guildID, userID string) (string, error)
	MostAttendedChannel(guildID string) (string, error)
	Join(ctx context.Context, guildID, channelID string) (voice.Connection, error)
}

// DiscordVoice reads voice states from the session's state cache.
type DiscordVoice struct {
	session *discordgo.Session
}

func NewDiscordVoice(s *discordgo.Session) *DiscordVoice {
	return &DiscordVoice{session: s}
}

var _ VoiceJoiner = (*DiscordVoice)(nil)

func (d *DiscordVoice) UserVoiceChannel(guildID, userID string) (string, error) {
	return voice.UserVoiceChannel(d.session.State, guildID, userID)
}

func (d *DiscordVoice) MostAttendedChannel(guildID string) (string, error) {
	guild, err := d.session.State.Guild(guildID)
	if err != nil {
		return "", fmt.Errorf("failed to get guild %s: %w", guildID, err)
	}

	channel := voice.MaxAttendedChannel(voice.AttendedChannels(guild, d.session.State.User.ID))
	if channel == nil || len(channel.Members) == 0 {
		return "", ErrNoListeners
	}
	return channel.ID, nil
}

func (d *DiscordVoice) Join(ctx context.Context, guildID, channelID string) (voice.Connection, error) {
	conn, err := voice.Join(ctx, d.session, guildID, channelID)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
