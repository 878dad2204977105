// Package opus runs FFmpeg to turn resolved audio sources into Opus
// packets ready for a Discord voice connection.
//
// FFmpeg always writes an Ogg container to stdout. A demux goroutine
// drains that pipe as fast as FFmpeg produces it and parks the packets in
// an in-memory buffer, so a slow consumer never back-pressures the
// subprocess. The consumer reads packets from the buffer with
// Stream.ReadPacket.
//
// Encode is the offline variant used when uploading tracks: it converts
// an arbitrary input to an Ogg Opus file.
package opus
