package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// PlaybackConfig tunes the playback engine, the transcoder and the
// connection supervisor.
type PlaybackConfig struct {
	FFmpegPath string `env:"FFMPEG_PATH, default=ffmpeg"`

	// Bitrate is the Opus bitrate in bits per second used when a source
	// has to be re-encoded.
	Bitrate int `env:"OPUS_BITRATE, default=128000"`

	ResolveRetries    int           `env:"RESOLVE_RETRIES, default=2"`
	ResolveRetryDelay time.Duration `env:"RESOLVE_RETRY_DELAY, default=1s"`
	StartTimeout      time.Duration `env:"PLAYBACK_START_TIMEOUT, default=5s"`
	MaxSkipStreak     int           `env:"PLAYBACK_MAX_SKIP_STREAK, default=25"`
	SendTimeout       time.Duration `env:"VOICE_SEND_TIMEOUT, default=1m"`
	ReconnectWindow   time.Duration `env:"VOICE_RECONNECT_WINDOW, default=5s"`
	ScheduleInterval  time.Duration `env:"SCHEDULE_POLL_INTERVAL, default=30s"`
}

func NewPlaybackConfigFromEnv() (*PlaybackConfig, error) {
	var cfg PlaybackConfig
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *PlaybackConfig) Validate() error {
	if c.ResolveRetries < 0 {
		return fmt.Errorf("RESOLVE_RETRIES must not be negative, got %d", c.ResolveRetries)
	}
	if c.MaxSkipStreak < 1 {
		return fmt.Errorf("PLAYBACK_MAX_SKIP_STREAK must be at least 1, got %d", c.MaxSkipStreak)
	}
	if c.Bitrate < 6000 || c.Bitrate > 510000 {
		return fmt.Errorf("OPUS_BITRATE must be between 6000 and 510000, got %d", c.Bitrate)
	}
	if c.StartTimeout <= 0 {
		return fmt.Errorf("PLAYBACK_START_TIMEOUT must be positive")
	}
	return nil
}
