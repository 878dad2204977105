package handler

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

var minPosition = 1.0

var queryOption = &discordgo.ApplicationCommandOption{
	Name:        "query",
	Type:        discordgo.ApplicationCommandOptionString,
	Description: "A link to play, or words to search for.",
	Required:    true,
}

// Commands is a list of all the commands the bot can handle.
// This is used to register the commands with Discord.
var Commands = []*discordgo.ApplicationCommand{
	{
		Name:        "ping",
		Description: "Check that the bot is alive",
	},
	{
		Name:        "play",
		Description: "Play a link or the first search result",
		Options:     []*discordgo.ApplicationCommandOption{queryOption},
	},
	{
		Name:        "search",
		Description: "Search for a track and pick one to queue",
		Options:     []*discordgo.ApplicationCommandOption{queryOption},
	},
	{
		Name:        "playlist",
		Description: "Queue one of this server's playlists, or list them",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        "name",
				Type:        discordgo.ApplicationCommandOptionString,
				Description: "The playlist to queue. Leave empty to list playlists.",
			},
			{
				Name:        "replace",
				Type:        discordgo.ApplicationCommandOptionBoolean,
				Description: "Replace the queue instead of adding to it.",
			},
		},
	},
	{
		Name:        "upload",
		Description: "Upload an audio file to the catalog and queue it",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        "audio",
				Type:        discordgo.ApplicationCommandOptionAttachment,
				Description: "The file to play.",
				Required:    true,
			},
			{
				Name:        "title",
				Type:        discordgo.ApplicationCommandOptionString,
				Description: "The track title. Defaults to the file name if not provided.",
			},
		},
	},
	{
		Name:        "skip",
		Description: "Skip the current track",
	},
	{
		Name:        "stop",
		Description: "Stop playback, clear the queue and leave the voice channel",
	},
	{
		Name:        "pause",
		Description: "Pause the current track",
	},
	{
		Name:        "resume",
		Description: "Resume the paused track",
	},
	{
		Name:        "shuffle",
		Description: "Shuffle the upcoming tracks",
	},
	{
		Name:        "loop",
		Description: "Set the loop mode, or cycle through the modes",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        "mode",
				Type:        discordgo.ApplicationCommandOptionString,
				Description: "The loop mode.",
				Choices: []*discordgo.ApplicationCommandOptionChoice{
					{Name: "off", Value: "off"},
					{Name: "song", Value: "song"},
					{Name: "queue", Value: "queue"},
				},
			},
		},
	},
	{
		Name:        "queue",
		Description: "Show the queue",
	},
	{
		Name:        "nowplaying",
		Description: "Show the current track",
	},
	{
		Name:        "jump",
		Description: "Play from a position in the queue, dropping the tracks before it",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        "position",
				Type:        discordgo.ApplicationCommandOptionInteger,
				Description: "The queue position, as shown by /queue.",
				Required:    true,
				MinValue:    &minPosition,
			},
		},
	},
}

func EstablishCommands(s *discordgo.Session, guildID string) error {
	_, err := s.ApplicationCommandBulkOverwrite(s.State.User.ID, guildID, Commands)
	if err != nil {
		return fmt.Errorf("failed to establish commands: %w", err)
	}
	return nil
}
