package statsstore

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stiffinWanjohi/medrelay/internal/config"
	"github.com/stiffinWanjohi/medrelay/internal/domain"
)

func setupTestStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewStore(client, opts...), mr
}

func sampleSnapshot() Snapshot {
	return Snapshot{
		Timestamp: time.UnixMilli(1_700_000_000_000).UTC(),
		Routed: map[domain.MessageType]uint64{
			domain.MessageTypeV2:   12,
			domain.MessageTypeFHIR: 3,
		},
		Failed:         map[domain.MessageType]uint64{domain.MessageTypeV3: 2},
		Processor:      domain.NewProcessorMetrics(17, 2, 170*time.Millisecond),
		Pipeline:       domain.NewPipelineMetrics(15, 2, 34*time.Millisecond),
		Active:         4,
		StreamPosition: 2048,
	}
}

func TestStore_PublishAndLatest(t *testing.T) {
	store, mr := setupTestStore(t, WithKeyPrefix("test"))
	ctx := context.Background()

	want := sampleSnapshot()
	require.NoError(t, store.Publish(ctx, want))

	got, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.Equal(t, "12", mr.HGet("test:stats", "routed:v2"))
	assert.Equal(t, "2", mr.HGet("test:stats", "failed:v3"))
	assert.Equal(t, defaultTTL, mr.TTL("test:stats"))
}

func TestStore_PublishReplacesPreviousValues(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Publish(ctx, sampleSnapshot()))
	require.NoError(t, store.Publish(ctx, Snapshot{
		Routed: map[domain.MessageType]uint64{domain.MessageTypeV3: 1},
	}))

	got, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[domain.MessageType]uint64{domain.MessageTypeV3: 1}, got.Routed)
	assert.Empty(t, got.Failed)
	assert.False(t, got.Timestamp.IsZero())
	assert.Empty(t, mr.HGet("medrelay:stats", "routed:v2"))
}

func TestStore_LatestEmpty(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.Latest(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestStore_History(t *testing.T) {
	store, _ := setupTestStore(t, WithHistory(3))
	ctx := context.Background()

	for i := range 5 {
		snap := sampleSnapshot()
		snap.StreamPosition = int64(i)
		require.NoError(t, store.Publish(ctx, snap))
	}

	all, err := store.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{4, 3, 2}, []int64{all[0].StreamPosition, all[1].StreamPosition, all[2].StreamPosition})
	assert.Equal(t, uint64(12), all[0].Routed[domain.MessageTypeV2])

	two, err := store.History(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestStore_HistorySkipsCorruptEntries(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Publish(ctx, sampleSnapshot()))
	_, err := mr.Lpush("medrelay:stats:history", "{not json")
	require.NoError(t, err)

	snaps, err := store.History(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestStore_TTL(t *testing.T) {
	store, mr := setupTestStore(t, WithTTL(time.Minute))
	require.NoError(t, store.Publish(context.Background(), sampleSnapshot()))

	assert.Equal(t, time.Minute, mr.TTL("medrelay:stats"))
	assert.Equal(t, time.Minute, mr.TTL("medrelay:stats:history"))

	mr.FastForward(2 * time.Minute)
	_, err := store.Latest(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestStore_PublishError(t *testing.T) {
	store, mr := setupTestStore(t)
	mr.Close()

	err := store.Publish(context.Background(), sampleSnapshot())
	assert.ErrorContains(t, err, "publish snapshot")
}

func TestStore_Run(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int64
	source := func() Snapshot {
		n := calls.Add(1)
		snap := sampleSnapshot()
		snap.StreamPosition = n
		return snap
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		store.Run(ctx, 5*time.Millisecond, source)
	}()

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	<-done

	final := calls.Load()
	latest, err := store.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, final, latest.StreamPosition, "the last snapshot is flushed on shutdown")
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	for _, url := range []string{mr.Addr(), "redis://" + mr.Addr() + "/0"} {
		client, err := Connect(ctx, config.RedisConfig{URL: url, PoolSize: 2})
		require.NoError(t, err, url)
		assert.Equal(t, 2, client.Options().PoolSize)
		_ = client.Close()
	}

	_, err := Connect(ctx, config.RedisConfig{URL: "redis://%zz"})
	assert.ErrorContains(t, err, "parse redis url")
}
