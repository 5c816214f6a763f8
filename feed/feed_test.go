package feed

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHub_FanOut(t *testing.T) {
	// GIVEN: two subscribers
	hub := NewHub()
	a, cancelA := hub.Subscribe(4)
	defer cancelA()
	b, cancelB := hub.Subscribe(4)
	defer cancelB()

	// WHEN: one event is published
	ev := Event{Kind: KindQuantityChanged, ItemID: "item-1", Quantity: "7", At: time.Now()}
	require.NoError(t, hub.Publish(context.Background(), ev))

	// THEN: both receive it
	assert.Equal(t, ev, <-a)
	assert.Equal(t, ev, <-b)
}

func TestHub_SlowSubscriberDrops(t *testing.T) {
	// GIVEN: a subscriber with room for one event
	hub := NewHub()
	ch, cancel := hub.Subscribe(1)
	defer cancel()

	// WHEN: three events are published without reading
	for i := 0; i < 3; i++ {
		require.NoError(t, hub.Publish(context.Background(), Event{Kind: KindItemUpdated}))
	}

	// THEN: publish never blocked and two deliveries were dropped
	assert.Len(t, ch, 1)
	assert.Equal(t, int64(2), hub.Dropped())
}

func TestHub_CancelClosesChannel(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(1)

	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.NoError(t, hub.Publish(context.Background(), Event{Kind: KindSeeded}))
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), Event{}))
}

// TestRedis_RoundTrip needs a reachable server in REDIS_TEST_ADDR.
func TestRedis_RoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// GIVEN: a listener relaying into a hub
	channel := "spares:test:" + time.Now().Format("150405.000000")
	r := NewRedis(rdb, channel, zap.NewNop())
	hub := NewHub()
	events, unsubscribe := hub.Subscribe(4)
	defer unsubscribe()
	go r.Listen(ctx, hub)

	// WHEN: an event is published (repeat until the subscription is live)
	want := Event{Kind: KindQuantityChanged, ItemID: "item-9", Quantity: "12", Version: 3, At: time.Now().UTC().Truncate(time.Millisecond)}
	var got Event
	require.Eventually(t, func() bool {
		if err := r.Publish(ctx, want); err != nil {
			return false
		}
		select {
		case got = <-events:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	// THEN
	assert.Equal(t, want.ItemID, got.ItemID)
	assert.Equal(t, want.Version, got.Version)
	assert.True(t, want.At.Equal(got.At))
}
