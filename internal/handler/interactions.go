package handler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/glizzus/alfira/internal/generator"
	"github.com/glizzus/alfira/internal/media"
	"github.com/glizzus/alfira/internal/presenters"
	"github.com/glizzus/alfira/internal/repository"
)

// interactionTimeout bounds the work behind a deferred reply. Discord
// keeps the interaction token valid for 15 minutes.
const interactionTimeout = 2 * time.Minute

type Deps struct {
	Catalog  repository.CatalogRepository
	Uploads  *AudioPiper
	Engines  *Engines
	Resolver media.Resolver
	Searcher media.Searcher

	// FlowIDs names multi-step flows. QueueIDs names queue entries and
	// CatalogIDs names stored tracks.
	FlowIDs    generator.Generator[string]
	QueueIDs   generator.Generator[string]
	CatalogIDs generator.Generator[string]
}

type controller struct {
	deps Deps
}

func newController(deps Deps) *controller {
	if deps.QueueIDs == nil {
		deps.QueueIDs = &generator.UUIDV4Generator{}
	}
	if deps.CatalogIDs == nil {
		deps.CatalogIDs = &generator.UUIDV7Generator{}
	}
	return &controller{deps: deps}
}

func (c *controller) flows() []*Flow {
	return []*Flow{
		PingFlow,
		c.playFlow(),
		c.searchFlow(),
		c.playlistFlow(),
		c.uploadFlow(),
		c.skipFlow(),
		c.jumpFlow(),
		c.stopFlow(),
		c.pauseFlow(),
		c.resumeFlow(),
		c.shuffleFlow(),
		c.loopFlow(),
		c.queueFlow(),
		c.nowPlayingFlow(),
	}
}

// NewInteractionHandler routes every interaction through the bot's flows.
// Errors are reported back to the user; only unexpected ones are logged.
func NewInteractionHandler(deps Deps) func(DiscordSession, *discordgo.InteractionCreate) {
	c := newController(deps)
	fm := NewFlowManager(deps.FlowIDs)
	for _, flow := range c.flows() {
		fm.RegisterFlow(flow)
	}

	return func(s DiscordSession, i *discordgo.InteractionCreate) {
		err := fm.Router(s, i)
		if err == nil {
			return
		}

		msg, isUser := userMessage(err)
		if !isUser {
			slog.Error("failed to handle interaction", "guildID", i.GuildID, "type", i.Type, "error", err)
		}
		if rerr := s.InteractionRespond(i.Interaction, presenters.EphemeralMessage(msg)); rerr != nil {
			slog.Warn("failed to report error to user", "guildID", i.GuildID, "error", rerr)
		}
	}
}

type deferredFunc func(ctx context.Context, i *discordgo.InteractionCreate, fc *FlowContext) (*discordgo.InteractionResponseData, error)

// deferred acknowledges the interaction straight away, runs fn and edits
// the acknowledgement with its result or its error. Discord drops
// interactions that are not acknowledged within three seconds.
func deferred(kind discordgo.InteractionResponseType, fn deferredFunc) func(DiscordSession, *discordgo.InteractionCreate, *FlowContext) error {
	return func(s DiscordSession, i *discordgo.InteractionCreate, fc *FlowContext) error {
		if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{Type: kind}); err != nil {
			return fmt.Errorf("failed to defer response: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
		defer cancel()

		data, err := fn(ctx, i, fc)
		if err != nil {
			msg, isUser := userMessage(err)
			if !isUser {
				slog.Error("deferred interaction failed", "guildID", i.GuildID, "error", err)
			}
			data = &discordgo.InteractionResponseData{Content: msg}
		}

		if _, err := s.InteractionResponseEdit(i.Interaction, webhookEdit(data)); err != nil {
			slog.Warn("failed to edit deferred response", "guildID", i.GuildID, "error", err)
		}
		return nil
	}
}

// webhookEdit always replaces the components, so a select menu that has
// been used disappears.
func webhookEdit(data *discordgo.InteractionResponseData) *discordgo.WebhookEdit {
	content := data.Content
	components := data.Components
	if components == nil {
		components = []discordgo.MessageComponent{}
	}
	edit := &discordgo.WebhookEdit{
		Content:    &content,
		Components: &components,
	}
	if len(data.Embeds) > 0 {
		embeds := data.Embeds
		edit.Embeds = &embeds
	}
	return edit
}

func respond(s DiscordSession, i *discordgo.InteractionCreate, resp *discordgo.InteractionResponse) error {
	if err := s.InteractionRespond(i.Interaction, resp); err != nil {
		slog.Warn("failed to respond to interaction", "guildID", i.GuildID, "error", err)
	}
	return nil
}
