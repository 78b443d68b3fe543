package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/stepflow/internal/testutil"
)

func newTestStore(t *testing.T, ttl time.Duration) *ReportStore {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: testutil.GetRedisAddress(t)})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())

	prefix := fmt.Sprintf("stepflow:test:%d:", time.Now().UnixNano())
	t.Cleanup(func() {
		iter := client.Scan(ctx, 0, prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			_ = client.Del(ctx, iter.Val()).Err()
		}
	})
	return NewReportStore(client, ttl, nil).WithPrefix(prefix)
}

func TestReportStore(t *testing.T) {
	testutil.RunResultStoreTests(t, newTestStore(t, time.Minute))
}

func TestReportStore_TTL(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, time.Minute)
	require.NoError(t, s.Save(ctx, testutil.NewReport("b-ttl", time.Now())))

	ttl, err := s.client.TTL(ctx, s.key("b-ttl")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}
