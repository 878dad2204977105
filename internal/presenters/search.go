package presenters

import (
	"strconv"

	"github.com/bwmarrin/discordgo"
	"github.com/glizzus/alfira/internal/media"
)

const ComponentIDSearchSelect = "search_select_menu"

// Discord rejects select option labels longer than this.
const maxLabel = 100

var noSearchResultsResponse = &discordgo.InteractionResponseData{
	Content: "No results found.",
}

var searchSelectMinValues = 1

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func searchResultToSelectMenuOption(i int, r media.SearchResult) discordgo.SelectMenuOption {
	return discordgo.SelectMenuOption{
		Label:       truncate(r.Title, maxLabel),
		Value:       strconv.Itoa(i),
		Description: FormatDuration(r.Duration),
	}
}

// BuildSearchResultsResponse lists results in a select menu whose values
// are indexes into results. It edits a deferred response.
func BuildSearchResultsResponse(results []media.SearchResult, instanceID string) *discordgo.InteractionResponseData {
	if len(results) == 0 {
		return noSearchResultsResponse
	}

	options := make([]discordgo.SelectMenuOption, 0, len(results))
	for i, r := range results {
		options = append(options, searchResultToSelectMenuOption(i, r))
	}

	menu := discordgo.SelectMenu{
		CustomID:    ComponentIDSearchSelect + ":" + instanceID,
		Placeholder: "Pick a track to queue",
		MinValues:   &searchSelectMinValues,
		MaxValues:   1,
		Options:     options,
	}

	return &discordgo.InteractionResponseData{
		Content: "**Search results** _(select one to queue it)_",
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{menu},
			},
		},
	}
}
