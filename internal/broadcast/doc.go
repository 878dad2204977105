// Package broadcast delivers playback snapshots out of the bot process.
//
// A Hub pushes snapshots to websocket clients watching a guild, a
// RedisSink publishes them on a Redis channel and caches the latest one,
// and Fanout combines several sinks into the single playback.Broadcaster
// the engine registry accepts.
package broadcast
