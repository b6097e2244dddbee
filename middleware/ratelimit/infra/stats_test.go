package infra

import (
	"context"
	"testing"
	"time"

	"ghibli-gateway/middleware/ratelimit/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStatsStore_CountsByRouteAndKey(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackKeys(true))
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "10.0.0.1", Allowed: true, Method: "GET", Route: "/ghibli/films"}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "10.0.0.1", Allowed: false, Method: "GET", Route: "/ghibli/films"}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "10.0.0.2", Allowed: true, Method: "GET", Route: "/ghibli/films/{id}"}))

	snap := s.Snapshot()
	assert.Equal(t, Counters{Allowed: 2, Denied: 1}, snap.Total)
	assert.Equal(t, Counters{Allowed: 1, Denied: 1}, snap.ByRoute["GET /ghibli/films"])
	assert.Equal(t, Counters{Allowed: 1}, snap.ByKey["10.0.0.2"])

	total, err := s.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.Total, total)
}

func TestMemoryStatsStore_KeysNotTrackedByDefault(t *testing.T) {
	s := NewMemoryStatsStore()
	require.NoError(t, s.Record(context.Background(), domain.StatsEvent{Key: "k", Allowed: true}))
	assert.Nil(t, s.Snapshot().ByKey)
}

func TestRedisStatsStore_RecordsTotalsAndBuckets(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s := NewRedisStatsStore(rdb,
		WithStatsPrefix(":gw:stats:"),
		WithStatsTTL(time.Hour),
		WithStatsTrackKeys(true),
	)
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "10.0.0.1", Allowed: true, Method: "GET", Route: "/ghibli/films", At: at}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "10.0.0.1", Allowed: false, Method: "GET", Route: "/ghibli/films", At: at}))

	total, err := s.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counters{Allowed: 1, Denied: 1}, total)

	assert.Equal(t, "1", mr.HGet("gw:stats:minute:202601020304", "denied"))
	assert.Equal(t, "1", mr.HGet("gw:stats:route", "GET /ghibli/films:allowed"))
	assert.Equal(t, "1", mr.HGet("gw:stats:key:10.0.0.1", "allowed"))
	assert.Equal(t, time.Hour, mr.TTL("gw:stats:key:10.0.0.1"))
	assert.Equal(t, time.Duration(0), mr.TTL("gw:stats:total"))
}

func TestRedisStatsStore_NilIsNoop(t *testing.T) {
	var s *RedisStatsStore
	assert.NoError(t, s.Record(context.Background(), domain.StatsEvent{Allowed: true}))
}
