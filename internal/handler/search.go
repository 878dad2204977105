package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/glizzus/alfira/internal/media"
	"github.com/glizzus/alfira/internal/presenters"
	"github.com/glizzus/alfira/internal/repository"
)

// SearchLimit is how many results /search offers.
const SearchLimit = 10

const searchResultsKey = "results"

func (c *controller) searchFlow() *Flow {
	selectNode := &Node{
		ID:      "search_select",
		Matcher: isComponent(presenters.ComponentIDSearchSelect),
		Handler: deferred(discordgo.InteractionResponseDeferredMessageUpdate, c.searchSelect),
	}

	return &Flow{
		ID: "search",
		Root: &Node{
			ID:      "search",
			Matcher: isCommand("search"),
			Handler: deferred(discordgo.InteractionResponseDeferredChannelMessageWithSource, c.search),
			Next:    []*Node{selectNode},
		},
	}
}

func (c *controller) search(ctx context.Context, i *discordgo.InteractionCreate, fc *FlowContext) (*discordgo.InteractionResponseData, error) {
	query := strings.TrimSpace(stringOption(i, "query"))
	if query == "" {
		return nil, userErrorf("Tell me what to search for.")
	}

	results, err := c.deps.Searcher.Search(ctx, query, SearchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to search for %q: %w", query, err)
	}
	fc.State[searchResultsKey] = results
	return presenters.BuildSearchResultsResponse(results, fc.InstanceID), nil
}

func (c *controller) searchSelect(ctx context.Context, i *discordgo.InteractionCreate, fc *FlowContext) (*discordgo.InteractionResponseData, error) {
	results, _ := fc.State[searchResultsKey].([]media.SearchResult)

	values := i.MessageComponentData().Values
	if len(values) != 1 {
		return nil, userErrorf("Pick exactly one track.")
	}
	index, err := strconv.Atoi(values[0])
	if err != nil || index < 0 || index >= len(results) {
		return nil, errFlowExpired
	}

	track, err := c.resolveTrack(ctx, results[index].URL, interactionUser(i).ID)
	if err != nil {
		return nil, err
	}
	engine, err := c.engineFor(ctx, i)
	if err != nil {
		return nil, err
	}
	msg, err := c.enqueue(engine, i, []repository.Track{track}, false)
	if err != nil {
		return nil, err
	}
	return &discordgo.InteractionResponseData{Content: msg}, nil
}
