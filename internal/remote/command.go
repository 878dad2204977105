// Package remote carries playback commands from the admin UI to the bot
// over a Redis stream.
package remote

import (
	"fmt"
	"strings"
)

// Action is a playback control the admin UI can issue.
type Action string

const (
	ActionSkip    Action = "skip"
	ActionStop    Action = "stop"
	ActionShuffle Action = "shuffle"
	ActionLoop    Action = "loop"
	ActionPause   Action = "pause"
	ActionResume  Action = "resume"
)

var actions = []Action{ActionSkip, ActionStop, ActionShuffle, ActionLoop, ActionPause, ActionResume}

func ParseAction(s string) (Action, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, a := range actions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// Command is one entry of the command stream.
type Command struct {
	// ID is the stream entry ID, set on receive.
	ID string

	GuildID string
	Action  Action

	// Arg carries the loop mode for ActionLoop. Empty cycles the mode.
	Arg string

	IssuedBy string
}

func (c Command) values() map[string]any {
	return map[string]any{
		"guildID":  c.GuildID,
		"action":   string(c.Action),
		"arg":      c.Arg,
		"issuedBy": c.IssuedBy,
	}
}

func commandFromValues(id string, values map[string]any) (Command, error) {
	str := func(key string) string {
		v, _ := values[key].(string)
		return v
	}

	cmd := Command{
		ID:       id,
		GuildID:  str("guildID"),
		Arg:      str("arg"),
		IssuedBy: str("issuedBy"),
	}
	if cmd.GuildID == "" {
		return Command{}, fmt.Errorf("entry %s has no guildID", id)
	}
	action, err := ParseAction(str("action"))
	if err != nil {
		return Command{}, fmt.Errorf("entry %s: %w", id, err)
	}
	cmd.Action = action
	return cmd, nil
}
