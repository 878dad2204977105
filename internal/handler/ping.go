package handler

import (
	"github.com/bwmarrin/discordgo"
	"github.com/glizzus/alfira/internal/presenters"
)

var PingFlow = &Flow{
	ID: "ping",
	Root: &Node{
		ID:      "ping",
		Matcher: isCommand("ping"),
		Handler: func(s DiscordSession, i *discordgo.InteractionCreate, ctx *FlowContext) error {
			return s.InteractionRespond(i.Interaction, presenters.Message("Pong!"))
		},
	},
}
