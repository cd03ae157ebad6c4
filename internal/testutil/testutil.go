//go:build integration

package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// testRedisDB is the Redis database integration tests run against. It is
// flushed between tests; never point it at a production instance.
const testRedisDB = 9

// RedisAddr returns the address of the test Redis instance.
func RedisAddr() string {
	if addr := os.Getenv("FWMANAGE_TEST_REDIS_ADDR"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

// SkipIfNoRedis skips the test when the test Redis is not reachable.
func SkipIfNoRedis(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: RedisAddr(), DB: testRedisDB})
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("test Redis not reachable at %s: %v", RedisAddr(), err)
	}
}

// RedisClient returns a client for the test database, closed via
// t.Cleanup.
func RedisClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: RedisAddr(), DB: testRedisDB})
	t.Cleanup(func() { client.Close() })
	return client
}

// FlushTestDB empties the test database.
func FlushTestDB(t *testing.T) {
	t.Helper()
	client := RedisClient(t)
	if err := client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flushing test DB: %v", err)
	}
}

// Context returns a context with a test-scoped timeout, canceled via
// t.Cleanup.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}
