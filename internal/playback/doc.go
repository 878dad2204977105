// Package playback is the per-guild queue and loop state machine.
//
// An Engine owns a guild's queue, its current track and loop mode, and
// drives a media.Resolver, a Transcoder and an AudioPlayer to keep audio
// flowing into a voice.Connection. The Registry hands out one Engine per
// guild and attaches a supervisor that watches the connection for loss.
//
// After every mutation the engine publishes one State snapshot through the
// Registry's Broadcaster. The package knows nothing about how snapshots
// are delivered.
package playback
