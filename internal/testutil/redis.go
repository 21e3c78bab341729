package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RedisTest returns a client for a flushed redis database. REDIS_URL selects
// an existing server; otherwise a redis container is started for this test.
// The test is skipped when neither is available.
func RedisTest(t *testing.T) *redis.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		ctr, err := testcontainers.Run(ctx, "redis:7-alpine",
			testcontainers.WithExposedPorts("6379/tcp"),
			testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")),
		)
		if err != nil {
			t.Skipf("redistest: REDIS_URL not set and redis container unavailable: %v", err)
		}
		terminate(t, ctr)

		endpoint, err := ctr.Endpoint(ctx, "")
		if err != nil {
			t.Fatalf("redistest: container endpoint: %v", err)
		}
		url = "redis://" + endpoint
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("redistest: parse url: %v", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Fatalf("redistest: ping: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("redistest: flush: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}
