package opus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/glizzus/alfira/internal/media"
)

// ErrKilled is returned when a stream is used after Kill.
var ErrKilled = errors.New("transcode process killed")

// Stream is a running transcode. ReadPacket returns io.EOF once the
// source is exhausted or the stream has been killed.
type Stream interface {
	ReadPacket() ([]byte, error)
	Kill()
}

type Transcoder struct {
	FFmpegPath string

	// Bitrate in bits per second when re-encoding.
	Bitrate int
}

func NewTranscoder(ffmpegPath string, bitrate int) *Transcoder {
	return &Transcoder{FFmpegPath: ffmpegPath, Bitrate: bitrate}
}

// Start spawns FFmpeg for src. The context only bounds the spawn; the
// returned stream lives until it ends on its own or is killed.
func (t *Transcoder) Start(ctx context.Context, src media.Source) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if src.URL == "" {
		return nil, fmt.Errorf("empty source: %w", media.ErrNoStream)
	}
	return startProcess(t.FFmpegPath, t.Args(src))
}

// Args builds the FFmpeg command line for src.
func (t *Transcoder) Args(src media.Source) []string {
	args := []string{"-hide_banner", "-loglevel", "warning", "-nostdin"}

	if strings.HasPrefix(src.URL, "http://") || strings.HasPrefix(src.URL, "https://") {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_on_network_error", "1",
			"-reconnect_delay_max", "5",
		)
	}

	args = append(args,
		"-i", src.URL,
		"-vn",
		"-map", "0:a",
	)

	if src.Hint == media.HintOpus {
		args = append(args, "-c:a", "copy")
	} else {
		args = append(args,
			"-c:a", "libopus",
			"-b:a", strconv.Itoa(t.Bitrate),
			"-ar", "48000",
			"-ac", "2",
			"-vbr", "on",
			"-frame_duration", "20",
			"-application", "audio",
			"-packet_loss", "1",
		)
	}

	return append(args, "-f", "ogg", "pipe:1")
}
