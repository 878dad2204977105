package opus

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// Encode transcodes any audio read from r into an Ogg Opus file written
// to w. It blocks until FFmpeg exits.
func (t *Transcoder) Encode(ctx context.Context, r io.Reader, w io.Writer) error {
	ffmpeg := exec.CommandContext(ctx, t.FFmpegPath,
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-vn",
		"-map", "0:a",
		"-c:a", "libopus",
		"-f", "ogg",
		"-vbr", "on",
		"-compression_level", "10",
		"-ar", "48000",
		"-ac", "2",
		"-b:a", strconv.Itoa(t.Bitrate),
		"-application", "audio",
		"-frame_duration", "20",
		"-packet_loss", "1",
		"-threads", "0",
		"pipe:1",
	)

	var stderr bytes.Buffer
	ffmpeg.Stdin = r
	ffmpeg.Stdout = w
	ffmpeg.Stderr = &stderr

	if err := ffmpeg.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("ffmpeg encode: %w: %s", err, msg)
		}
		return fmt.Errorf("ffmpeg encode: %w", err)
	}
	return nil
}
