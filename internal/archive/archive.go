// Package archive stores purged delivery log batches as objects.
package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a requested object does not exist.
var ErrNotFound = errors.New("archive: object not found")

// Store writes and reads archive objects by slash-separated key.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Config selects and configures an archive backend.
type Config struct {
	Type       string // "local" or "s3"
	Path       string // base directory for local archives
	S3Bucket   string
	S3Prefix   string
	S3Endpoint string
	S3Region   string
}

// New creates a Store based on cfg. An empty or unknown Type falls back to
// local storage with a warning.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (Store, error) {
	switch cfg.Type {
	case "local":
		return NewLocal(cfg.Path)
	case "s3":
		return NewS3FromConfig(ctx, cfg)
	default:
		logger.Warn().
			Str("type", cfg.Type).
			Msg("unsupported or empty archive type, defaulting to local")
		return NewLocal(cfg.Path)
	}
}

// cleanKey rejects keys that would escape the archive root.
func cleanKey(key string) (string, error) {
	cleaned := path.Clean(key)
	if key == "" || cleaned == "." || path.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("archive: invalid key %q", key)
	}
	return cleaned, nil
}
