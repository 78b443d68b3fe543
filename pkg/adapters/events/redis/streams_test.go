package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/stepflow/internal/testutil"
	"github.com/aescanero/stepflow/pkg/domain"
)

func newTestClient(t *testing.T) (*redis.Client, string) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: testutil.GetRedisAddress(t)})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	prefix := fmt.Sprintf("stepflow:test:%d:", time.Now().UnixNano())
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			_ = client.Del(ctx, iter.Val()).Err()
		}
	})
	return client, prefix
}

type collector struct {
	mu  sync.Mutex
	ids []string
}

func (c *collector) handle(ctx context.Context, e domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, e.ID)
	return nil
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func TestStreamsEventBus_Broadcast(t *testing.T) {
	client, prefix := newTestClient(t)
	bus := NewStreamsEventBus(client, "", "", nil).WithPrefix(prefix)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Publish(ctx, "batch.events", domain.Event{ID: "before"}))

	a, b := &collector{}, &collector{}
	require.NoError(t, bus.Subscribe(ctx, "batch.events", a.handle))
	require.NoError(t, bus.Subscribe(ctx, "batch.events", b.handle))

	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(ctx, "batch.events", domain.Event{
			ID:      fmt.Sprintf("e%d", i),
			Type:    domain.EventStepFinished,
			BatchID: "b-1",
		}))
	}

	want := []string{"e0", "e1", "e2"}
	assert.Eventually(t, func() bool { return len(a.snapshot()) == 3 && len(b.snapshot()) == 3 },
		5*time.Second, 20*time.Millisecond)
	assert.Equal(t, want, a.snapshot())
	assert.Equal(t, want, b.snapshot())
}

func TestStreamsEventBus_ConsumerGroup(t *testing.T) {
	client, prefix := newTestClient(t)
	first := NewStreamsEventBus(client, "workers", "w1", nil).WithPrefix(prefix)
	second := NewStreamsEventBus(client, "workers", "w2", nil).WithPrefix(prefix)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b := &collector{}, &collector{}
	require.NoError(t, first.Subscribe(ctx, "step.events", a.handle))
	require.NoError(t, second.Subscribe(ctx, "step.events", b.handle))

	for i := 0; i < 10; i++ {
		require.NoError(t, first.Publish(ctx, "step.events", domain.Event{ID: fmt.Sprintf("e%d", i)}))
	}

	assert.Eventually(t, func() bool { return len(a.snapshot())+len(b.snapshot()) == 10 },
		5*time.Second, 20*time.Millisecond)
	assert.ElementsMatch(t,
		[]string{"e0", "e1", "e2", "e3", "e4", "e5", "e6", "e7", "e8", "e9"},
		append(a.snapshot(), b.snapshot()...))
}
