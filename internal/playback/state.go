package playback

import "time"

// State is a read-only snapshot of an engine. It is always derived from
// the engine under its lock.
type State struct {
	GuildID      string        `json:"guildId"`
	IsPlaying    bool          `json:"isPlaying"`
	IsPaused     bool          `json:"isPaused"`
	LoopMode     LoopMode      `json:"loopMode"`
	CurrentTrack *QueuedTrack  `json:"currentTrack"`
	Queue        []QueuedTrack `json:"queue"`
	StartedAt    *time.Time    `json:"startedAt,omitempty"`
}

// Broadcaster receives a snapshot after every state change. It is called
// synchronously and must not call back into the engine.
type Broadcaster func(State)

func nopBroadcaster(State) {}
