package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trip-planner/internal/tripplanner/config"
	"trip-planner/internal/tripplanner/domain/model"
)

// newTestBackend connects to a local Redis on DB 15 and skips when none is running
func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{
		Addr:         "localhost:6379",
		DB:           15,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skip("Redis not available for testing:", err)
	}

	cfg := config.DefaultConfig().Redis
	cfg.KeyPrefix = "test-" + uuid.NewString()
	cfg.BlockTimeout = 200 * time.Millisecond

	n := 0
	b := New(client, cfg, nil, WithKeyGenerator(func() string {
		n++
		return fmt.Sprintf("k%d", n)
	}))
	t.Cleanup(func() {
		cleanup := goredis.NewClient(&goredis.Options{Addr: "localhost:6379", DB: 15})
		defer cleanup.Close()
		keys, _ := cleanup.Keys(context.Background(), cfg.KeyPrefix+":*").Result()
		if len(keys) > 0 {
			cleanup.Del(context.Background(), keys...)
		}
		_ = b.Close()
	})
	return b
}

type recorder struct {
	mu     sync.Mutex
	events []model.ChildEvent
}

func (r *recorder) handle(e model.ChildEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) waitFor(t *testing.T, n int) []model.ChildEvent {
	t.Helper()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.events) >= n
	}, 3*time.Second, 10*time.Millisecond)
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ChildEvent(nil), r.events...)
}

func TestBackend_SetGetRemove(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	trip := map[string]interface{}{
		"destinationName": "Rome",
		"destinationLat":  41.9,
		"tags":            []interface{}{"a", "b"},
		"nested":          map[string]interface{}{"deep": true},
	}
	require.NoError(t, b.Set(ctx, "/trips/u1/t1", trip))

	got, err := b.Get(ctx, "/trips/u1/t1")
	require.NoError(t, err)
	assert.Equal(t, trip, got)

	got, err = b.Get(ctx, "/trips/u1/t1/destinationName")
	require.NoError(t, err)
	assert.Equal(t, "Rome", got)

	got, err = b.Get(ctx, "/trips")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"u1": map[string]interface{}{"t1": trip}}, got)

	require.NoError(t, b.Remove(ctx, "/trips/u1/t1"))
	got, err = b.Get(ctx, "/trips")
	require.NoError(t, err)
	assert.Nil(t, got, "empty parents are pruned")
}

func TestBackend_PushAndUpdate(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	key, err := b.Push(ctx, "/trips/u1", map[string]interface{}{"comment": "a"})
	require.NoError(t, err)
	assert.Equal(t, "k1", key)

	require.NoError(t, b.Update(ctx, "/trips/u1/k1", map[string]interface{}{
		"comment":        "b",
		"destination/id": "x",
	}))
	got, err := b.Get(ctx, "/trips/u1/k1")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"comment":     "b",
		"destination": map[string]interface{}{"id": "x"},
	}, got)

	assert.Error(t, b.Update(ctx, "/trips/u1/k1", map[string]interface{}{"a.b": 1}))
}

func TestBackend_LeafReplacedByObject(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "/a", "leaf"))
	require.NoError(t, b.Set(ctx, "/a/b", 1))
	got, err := b.Get(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"b": 1.0}, got)

	require.NoError(t, b.Set(ctx, "/a", "leaf"))
	require.NoError(t, b.Remove(ctx, "/a/b/c"))
	got, err = b.Get(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, "leaf", got)
}

func TestBackend_SubscribeSnapshotThenLive(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	require.NoError(t, b.Set(ctx, "/trips/u1/b", map[string]interface{}{"comment": "b"}))
	require.NoError(t, b.Set(ctx, "/trips/u1/a", map[string]interface{}{"comment": "a"}))

	var rec recorder
	sub, err := b.Subscribe(ctx, "/trips/u1", rec.handle)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	events := rec.waitFor(t, 2)
	assert.Equal(t, "a", events[0].Key)
	assert.Equal(t, "b", events[1].Key)

	require.NoError(t, b.Set(ctx, "/trips/u1/a/comment", "changed"))
	require.NoError(t, b.Remove(ctx, "/trips/u1/b"))
	_, err = b.Push(ctx, "/trips/u1", map[string]interface{}{"comment": "c"})
	require.NoError(t, err)

	events = rec.waitFor(t, 5)
	assert.Equal(t, model.ChildChanged, events[2].Type)
	assert.Equal(t, map[string]interface{}{"comment": "changed"}, events[2].Value)
	assert.Equal(t, model.ChildRemoved, events[3].Type)
	assert.Equal(t, "b", events[3].Key)
	assert.Equal(t, model.ChildAdded, events[4].Type)
	assert.Equal(t, "k1", events[4].Key)
}

func TestBackend_SubscriberRecoversTrimmedStream(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	// the handler stalls on its first live event while the stream is trimmed
	gate := make(chan struct{})
	var once sync.Once
	var rec recorder
	sub, err := b.Subscribe(ctx, "/trips/u1", func(e model.ChildEvent) {
		rec.handle(e)
		once.Do(func() { <-gate })
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, b.Set(ctx, "/trips/u1/a", map[string]interface{}{"comment": "a"}))
	rec.waitFor(t, 1)

	for _, key := range []string{"b", "c", "d", "e"} {
		require.NoError(t, b.Set(ctx, "/trips/u1/"+key, map[string]interface{}{"comment": key}))
	}
	require.NoError(t, b.client.XTrimMaxLen(ctx, b.keys.stream("/trips/u1"), 1).Err())
	close(gate)

	events := rec.waitFor(t, 5)
	var keys []string
	for _, e := range events {
		assert.Equal(t, model.ChildAdded, e.Type)
		keys = append(keys, e.Key)
	}
	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, keys)

	// tailing continues from the reloaded position
	require.NoError(t, b.Remove(ctx, "/trips/u1/a"))
	events = rec.waitFor(t, 6)
	assert.Equal(t, model.ChildRemoved, events[5].Type)
	assert.Equal(t, "a", events[5].Key)
}

func TestBackend_UnsubscribeUnwatches(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "/trips/u1", func(model.ChildEvent) {})
	require.NoError(t, err)
	watched, err := b.client.HGet(ctx, b.keys.watched(), "/trips/u1").Int()
	require.NoError(t, err)
	assert.Equal(t, 1, watched)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	exists, err := b.client.HExists(ctx, b.keys.watched(), "/trips/u1").Result()
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBackend_Closed(t *testing.T) {
	b := newTestBackend(t)
	require.NoError(t, b.Close())
	ctx := context.Background()
	_, err := b.Get(ctx, "/trips")
	assert.Error(t, err)
	assert.Error(t, b.Set(ctx, "/trips/u1", "x"))
	_, err = b.Subscribe(ctx, "/trips", func(model.ChildEvent) {})
	assert.Error(t, err)
}
