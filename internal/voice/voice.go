// Package voice owns the Discord voice transport: joining a channel,
// tracking the connection's lifecycle and pumping Opus packets into it.
package voice

import (
	"errors"

	"github.com/bwmarrin/discordgo"
)

// ConnState is the lifecycle state of a voice connection.
type ConnState int

const (
	StateSignalling ConnState = iota
	StateConnecting
	StateReady
	StateDisconnected
	StateDestroyed
)

func (s ConnState) String() string {
	switch s {
	case StateSignalling:
		return "signalling"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Connection is a handle to a voice transport. Destroyed is terminal.
type Connection interface {
	State() ConnState

	// OnStateChange registers fn to run on every transition. Listeners run
	// synchronously on the goroutine that caused the transition and must
	// not block.
	OnStateChange(fn func(from, to ConnState)) (remove func())

	OpusSend() chan<- []byte
	Speaking(speaking bool) error
	Destroy() error
}

// ErrNotInVoice is returned when a user asks for playback without being
// in a voice channel.
var ErrNotInVoice = errors.New("user is not in a voice channel")

// UserVoiceChannel returns the ID of the voice channel userID is in.
func UserVoiceChannel(state *discordgo.State, guildID, userID string) (string, error) {
	guild, err := state.Guild(guildID)
	if err != nil {
		return "", err
	}
	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID && vs.ChannelID != "" {
			return vs.ChannelID, nil
		}
	}
	return "", ErrNotInVoice
}

// MaxAttendedChannel returns the voice channel with the most members in it.
// This returns nil if there are no voice channels.
func MaxAttendedChannel(channels []*discordgo.Channel) *discordgo.Channel {
	var maxAttendedChannel *discordgo.Channel
	maxAttended := -1

	for _, channel := range channels {
		if channel.Type != discordgo.ChannelTypeGuildVoice {
			continue
		}

		if len(channel.Members) > maxAttended {
			maxAttendedChannel = channel
			maxAttended = len(channel.Members)
		}
	}

	return maxAttendedChannel
}

// AttendedChannels counts members per voice channel from the guild's voice
// states, ignoring ignoreUserID (usually the bot itself), and returns the
// guild's voice channels with Members populated.
func AttendedChannels(guild *discordgo.Guild, ignoreUserID string) []*discordgo.Channel {
	counts := make(map[string][]*discordgo.ThreadMember)
	for _, vs := range guild.VoiceStates {
		if vs.UserID == ignoreUserID || vs.ChannelID == "" {
			continue
		}
		counts[vs.ChannelID] = append(counts[vs.ChannelID], &discordgo.ThreadMember{UserID: vs.UserID})
	}

	var channels []*discordgo.Channel
	for _, ch := range guild.Channels {
		if ch.Type != discordgo.ChannelTypeGuildVoice {
			continue
		}
		c := *ch
		c.Members = counts[ch.ID]
		channels = append(channels, &c)
	}
	return channels
}
