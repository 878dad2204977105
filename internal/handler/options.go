package handler

import (
	"github.com/bwmarrin/discordgo"
	"github.com/glizzus/alfira/internal/util"
)

func isCommand(name string) func(*discordgo.InteractionCreate) bool {
	return func(i *discordgo.InteractionCreate) bool {
		if i.Type != discordgo.InteractionApplicationCommand {
			return false
		}
		return i.ApplicationCommandData().Name == name
	}
}

func isComponent(prefix string) func(*discordgo.InteractionCreate) bool {
	return func(i *discordgo.InteractionCreate) bool {
		if i.Type != discordgo.InteractionMessageComponent {
			return false
		}
		id := i.MessageComponentData().CustomID
		return len(id) > len(prefix) && id[:len(prefix)+1] == prefix+":"
	}
}

func findOption(i *discordgo.InteractionCreate, name string) *discordgo.ApplicationCommandInteractionDataOption {
	option, _ := util.FindFirst(i.ApplicationCommandData().Options, func(o *discordgo.ApplicationCommandInteractionDataOption) bool {
		return o.Name == name
	})
	return option
}

func stringOption(i *discordgo.InteractionCreate, name string) string {
	option := findOption(i, name)
	if option == nil || option.Type != discordgo.ApplicationCommandOptionString {
		return ""
	}
	return option.StringValue()
}

func intOption(i *discordgo.InteractionCreate, name string) (int64, bool) {
	option := findOption(i, name)
	if option == nil || option.Type != discordgo.ApplicationCommandOptionInteger {
		return 0, false
	}
	return option.IntValue(), true
}

func boolOption(i *discordgo.InteractionCreate, name string) bool {
	option := findOption(i, name)
	if option == nil || option.Type != discordgo.ApplicationCommandOptionBoolean {
		return false
	}
	return option.BoolValue()
}

// interactionUser returns who triggered i. Member is set in guilds, User
// in direct messages.
func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	if i.User != nil {
		return i.User
	}
	return &discordgo.User{}
}

func displayName(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.Nick != "" {
		return i.Member.Nick
	}
	u := interactionUser(i)
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}
