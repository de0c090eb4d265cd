package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Requires Redis on localhost:6379; skipped otherwise.
const testRedisAddr = "localhost:6379"

func setupRelays(t *testing.T) (*RedisRelay, *RedisRelay) {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}

	prefix := "chat-test:" + uuid.NewString() + ":"
	one := newRedisRelay(client, NewRegistry(), prefix)
	two := newRedisRelay(client, NewRegistry(), prefix)

	runCtx, cancel := context.WithCancel(ctx)
	for _, r := range []*RedisRelay{one, two} {
		go func(r *RedisRelay) { _ = r.Run(runCtx) }(r)
		select {
		case <-r.Ready():
		case <-time.After(2 * time.Second):
			t.Fatal("relay did not subscribe")
		}
	}

	t.Cleanup(func() {
		cancel()
		keys, _ := client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		client.Close()
	})
	return one, two
}

func TestRedisRelay_CrossInstanceDelivery(t *testing.T) {
	one, two := setupRelays(t)
	ctx := context.Background()

	a, b, c := newFakeSub("a", 1), newFakeSub("b", 2), newFakeSub("c", 3)
	one.Join(ctx, 5, a)
	one.Join(ctx, 5, c)
	two.Join(ctx, 5, b)

	one.Publish(ctx, 5, []byte("hi"), "a")

	assert.Equal(t, []string{"hi"}, c.received(), "local subscribers are served synchronously")
	assert.Eventually(t, func() bool { return len(b.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"hi"}, b.received())

	// The origin instance ignores its own envelope.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, a.received())
	assert.Equal(t, []string{"hi"}, c.received())
}

func TestRedisRelay_Presence(t *testing.T) {
	one, two := setupRelays(t)
	ctx := context.Background()

	a1, a2, b := newFakeSub("a1", 1), newFakeSub("a2", 1), newFakeSub("b", 2)
	one.Join(ctx, 9, a1)
	two.Join(ctx, 9, a2)
	two.Join(ctx, 9, b)
	two.Join(ctx, 9, b)

	online, err := one.Online(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, online)

	one.Leave(ctx, 9, a1)
	online, err = two.Online(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, online, "user 1 still has a connection on the other instance")

	two.Leave(ctx, 9, a2)
	two.Leave(ctx, 9, b)
	two.Leave(ctx, 9, b)
	online, err = one.Online(ctx, 9)
	require.NoError(t, err)
	assert.Empty(t, online)
}
