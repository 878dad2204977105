package config

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type MinioConfig struct {
	Endpoint string `env:"MINIO_ENDPOINT, required"`
	Username string `env:"MINIO_USERNAME, required"`
	Password string `env:"MINIO_PASSWORD, required"`
	Bucket   string `env:"MINIO_BUCKET, default=alfira"`
	Secure   bool   `env:"MINIO_SECURE, default=false"`

	// PresignExpiry bounds how long a resolved stream URL for an uploaded
	// track stays valid.
	PresignExpiry time.Duration `env:"MINIO_PRESIGN_EXPIRY, default=10m"`
}

func NewMinioConfigFromEnv() (*MinioConfig, error) {
	var cfg MinioConfig
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
