package config

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

// HTTPConfig configures the endpoint that streams playback state to the
// admin UI.
type HTTPConfig struct {
	Addr           string   `env:"HTTP_ADDR, default=:8080"`
	AllowedOrigins []string `env:"HTTP_ALLOWED_ORIGINS"`
}

func NewHTTPConfigFromEnv() (*HTTPConfig, error) {
	var cfg HTTPConfig
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
