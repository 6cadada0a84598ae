package archive

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"
)

// These tests need live services and are skipped unless their address is set.

func TestRedisIntegration(t *testing.T) {
	addr := os.Getenv("INSPECT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("INSPECT_TEST_REDIS_ADDR not set")
	}

	collection := fmt.Sprintf("inspections_test_%d", time.Now().UnixNano())
	client := redis.NewClient(&redis.Options{Addr: addr})
	r := NewRedisFromClient(client, collection, zaptest.NewLogger(t).Sugar())
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, collection+":*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		r.Close()
	})

	exercise(t, r)
}

func TestMinIOIntegration(t *testing.T) {
	endpoint := os.Getenv("INSPECT_TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("INSPECT_TEST_MINIO_ENDPOINT not set")
	}

	ctx := context.Background()
	m, err := NewMinIO(ctx, MinIOConfig{
		Endpoint:   endpoint,
		AccessKey:  envOr("INSPECT_TEST_MINIO_ACCESS_KEY", "minioadmin"),
		SecretKey:  envOr("INSPECT_TEST_MINIO_SECRET_KEY", "minioadmin"),
		Bucket:     "inspect-test",
		Collection: fmt.Sprintf("inspections_test_%d", time.Now().UnixNano()),
	}, zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatalf("NewMinIO() failed: %v", err)
	}
	t.Cleanup(func() {
		for _, id := range []int64{1, 2, 3, 4} {
			m.DeleteOne(ctx, id)
		}
	})

	exercise(t, m)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
