package storage

import (
	"strings"

	"github.com/timmy/conveyor/internal/config"
)

// NewStorage builds the image mirror bucket from configuration.
// Parameters:
//   - cfg: storage section of the service configuration.
//
// Returns:
//   - ObjectStorage: S3-compatible client.
//   - error: non-nil if the configuration is incomplete or the client cannot be created.
func NewStorage(cfg *config.StorageConfig) (ObjectStorage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	kind := Kind(cfg.Type)
	if kind == "" {
		kind = detectKind(cfg.Endpoint)
	}

	return NewS3Storage(&S3Config{
		Kind:      kind,
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		PublicURL: cfg.PublicURL,
	})
}

func detectKind(endpoint string) Kind {
	endpoint = strings.ToLower(endpoint)

	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return KindR2
	case strings.Contains(endpoint, "amazonaws.com"):
		return KindS3
	default:
		return KindS3Compatible
	}
}
