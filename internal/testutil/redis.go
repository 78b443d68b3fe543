// Package testutil holds helpers shared by adapter tests.
package testutil

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RedisAddrEnv names an existing Redis server to test against.
const RedisAddrEnv = "STEPFLOW_TEST_REDIS_ADDR"

var (
	redisOnce sync.Once
	redisAddr string
	redisErr  error
)

// GetRedisAddress returns the address of a Redis server for integration
// tests. It prefers RedisAddrEnv and otherwise starts a container, skipping
// the test when neither is available.
func GetRedisAddress(t *testing.T) string {
	t.Helper()

	if addr := os.Getenv(RedisAddrEnv); addr != "" {
		return addr
	}
	if testing.Short() {
		t.Skip("redis integration test skipped in short mode")
	}

	redisOnce.Do(startRedisContainer)
	if redisErr != nil {
		t.Skipf("redis unavailable: %v", redisErr)
	}
	return redisAddr
}

// The container lives for the rest of the test binary; testcontainers' reaper
// removes it afterwards.
func startRedisContainer() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	redisC, err := testcontainers.Run(
		ctx, "redis:7",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("6379/tcp"),
			wait.ForLog("Ready to accept connections"),
		),
	)
	if err != nil {
		redisErr = err
		return
	}

	endpoint, err := redisC.Endpoint(ctx, "")
	if err != nil {
		_ = redisC.Terminate(context.Background())
		redisErr = err
		return
	}
	redisAddr = endpoint
}
