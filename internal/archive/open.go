package archive

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Backend names accepted by Open.
const (
	BackendRedis  = "redis"
	BackendMinIO  = "minio"
	BackendMemory = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Backend    string
	Collection string
	Redis      RedisConfig
	MinIO      MinIOConfig
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg Config, logger *zap.SugaredLogger) (Archive, error) {
	switch cfg.Backend {
	case BackendRedis, "":
		rc := cfg.Redis
		if rc.Collection == "" {
			rc.Collection = cfg.Collection
		}
		return NewRedis(rc, logger), nil
	case BackendMinIO:
		mc := cfg.MinIO
		if mc.Collection == "" {
			mc.Collection = cfg.Collection
		}
		return NewMinIO(ctx, mc, logger)
	case BackendMemory:
		return NewMemory(logger), nil
	default:
		return nil, fmt.Errorf("unknown archive backend %q (want redis, minio or memory)", cfg.Backend)
	}
}
