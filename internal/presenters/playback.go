package presenters

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/glizzus/alfira/internal/playback"
	"github.com/glizzus/alfira/internal/repository"
)

// QueuePageSize is how many upcoming tracks the queue embed lists.
const QueuePageSize = 10

const embedColor = 0x5865f2

// FormatDuration renders seconds as m:ss or h:mm:ss. Unknown durations
// (0 or less) render as "live".
func FormatDuration(seconds int) string {
	if seconds <= 0 {
		return "live"
	}
	h, m, s := seconds/3600, seconds/60%60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func trackLink(t repository.Track) string {
	title := strings.ReplaceAll(t.Title, "]", "\\]")
	if strings.HasPrefix(t.URL, "http") {
		return fmt.Sprintf("[%s](%s)", title, t.URL)
	}
	return "**" + title + "**"
}

func Message(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
		},
	}
}

// EphemeralMessage is only visible to the user who ran the command.
func EphemeralMessage(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
}

func NowPlayingMessage(t playback.QueuedTrack) string {
	return fmt.Sprintf("Now playing **%s** (%s), requested by %s", t.Title, FormatDuration(t.Duration), t.RequestedBy)
}

func TrackSkippedMessage(t playback.QueuedTrack) string {
	return fmt.Sprintf("Could not play **%s**, skipping.", t.Title)
}

func ConnectionLostMessage() string {
	return "Lost the voice connection, so playback stopped. Use /play to start again."
}

// QueuedMessage confirms tracks were added. started reports whether the
// engine was idle before.
func QueuedMessage(tracks []playback.QueuedTrack, started bool) string {
	switch {
	case len(tracks) == 0:
		return "Nothing was queued."
	case len(tracks) == 1 && started:
		return fmt.Sprintf("Starting **%s** (%s)", tracks[0].Title, FormatDuration(tracks[0].Duration))
	case len(tracks) == 1:
		return fmt.Sprintf("Queued **%s** (%s)", tracks[0].Title, FormatDuration(tracks[0].Duration))
	default:
		return fmt.Sprintf("Queued %d tracks, starting with **%s**", len(tracks), tracks[0].Title)
	}
}

func NowPlayingResponse(state playback.State) *discordgo.InteractionResponse {
	if state.CurrentTrack == nil {
		return Message("Nothing is playing.")
	}

	t := state.CurrentTrack
	fields := []*discordgo.MessageEmbedField{
		{Name: "Duration", Value: FormatDuration(t.Duration), Inline: true},
		{Name: "Requested by", Value: t.RequestedBy, Inline: true},
		{Name: "Loop", Value: state.LoopMode.String(), Inline: true},
	}
	if state.IsPaused {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Status", Value: "paused", Inline: true})
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Now playing",
		Description: trackLink(t.Track),
		Color:       embedColor,
		Fields:      fields,
	}
	if t.Thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: t.Thumbnail}
	}

	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
		},
	}
}

func QueueResponse(state playback.State) *discordgo.InteractionResponse {
	if state.CurrentTrack == nil && len(state.Queue) == 0 {
		return Message("The queue is empty.")
	}

	var b strings.Builder
	if t := state.CurrentTrack; t != nil {
		fmt.Fprintf(&b, "**Now playing:** %s `%s`\n\n", trackLink(t.Track), FormatDuration(t.Duration))
	}
	if len(state.Queue) > 0 {
		b.WriteString("**Up next:**\n")
	}

	total := 0
	for i, t := range state.Queue {
		total += t.Duration
		if i >= QueuePageSize {
			continue
		}
		fmt.Fprintf(&b, "%d. %s `%s` (%s)\n", i+1, trackLink(t.Track), FormatDuration(t.Duration), t.RequestedBy)
	}
	if extra := len(state.Queue) - QueuePageSize; extra > 0 {
		fmt.Fprintf(&b, "and %d more\n", extra)
	}

	footer := fmt.Sprintf("Loop: %s | %d upcoming", state.LoopMode, len(state.Queue))
	if total > 0 {
		footer += " | " + FormatDuration(total) + " total"
	}

	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{{
				Title:       "Queue",
				Description: strings.TrimRight(b.String(), "\n"),
				Color:       embedColor,
				Footer:      &discordgo.MessageEmbedFooter{Text: footer},
			}},
		},
	}
}

func PlaylistsMessage(playlists []repository.Playlist) string {
	if len(playlists) == 0 {
		return "This server has no playlists yet."
	}
	names := make([]string, 0, len(playlists))
	for _, p := range playlists {
		names = append(names, "`"+p.Name+"`")
	}
	return "Playlists: " + strings.Join(names, ", ")
}
