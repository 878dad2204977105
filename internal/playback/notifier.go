package playback

// Notifier posts fire-and-forget messages to a track's text channel.
// Implementations must not block and must swallow their own errors.
type Notifier interface {
	NowPlaying(track QueuedTrack)
	TrackSkipped(track QueuedTrack, reason error)
	ConnectionLost(textChannelID string)
}

type NopNotifier struct{}

func (NopNotifier) NowPlaying(QueuedTrack)          {}
func (NopNotifier) TrackSkipped(QueuedTrack, error) {}
func (NopNotifier) ConnectionLost(string)           {}

var _ Notifier = NopNotifier{}
