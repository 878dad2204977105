package playback

import (
	"fmt"

	"github.com/glizzus/alfira/internal/generator"
	"github.com/glizzus/alfira/internal/repository"
)

// QueuedTrack is a Track handed to an engine, plus who asked for it and
// where to report about it. QueueID is unique per queued entry, so the
// same catalog track can be queued twice.
type QueuedTrack struct {
	repository.Track
	RequestedBy   string `json:"requestedBy"`
	QueueID       string `json:"queueId"`
	TextChannelID string `json:"-"`
}

func NewQueuedTrack(ids generator.Generator[string], track repository.Track, requestedBy, textChannelID string) (QueuedTrack, error) {
	id, err := ids.Next()
	if err != nil {
		return QueuedTrack{}, fmt.Errorf("failed to generate queue id: %w", err)
	}
	return QueuedTrack{
		Track:         track,
		RequestedBy:   requestedBy,
		QueueID:       id,
		TextChannelID: textChannelID,
	}, nil
}

// NewQueuedTracks queues tracks in order under one requester.
func NewQueuedTracks(ids generator.Generator[string], tracks []repository.Track, requestedBy, textChannelID string) ([]QueuedTrack, error) {
	queued := make([]QueuedTrack, 0, len(tracks))
	for _, track := range tracks {
		qt, err := NewQueuedTrack(ids, track, requestedBy, textChannelID)
		if err != nil {
			return nil, err
		}
		queued = append(queued, qt)
	}
	return queued, nil
}
