package cache

import (
	"context"
	"testing"
	"time"

	"skin-api/internal/database"
	"skin-api/internal/vision"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T) (*AnalysisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewAnalysisCache(client, zap.NewNop().Sugar()), mr
}

func TestSetAndGet(t *testing.T) {
	c, mr := newTestCache(t)
	rec := &database.AnalysisRecord{
		RequestID: "req_1",
		ImageURL:  "https://bucket.example/uploads/a.jpg",
		Findings:  vision.NewFindings(map[string]any{"disease": "acne"}),
		Answer:    "See a dermatologist.",
		Status:    database.StatusCompleted,
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	<-c.SetAsync(rec)

	assert.True(t, mr.Exists("skin:v1:analysis:req_1"))
	assert.Equal(t, 30*time.Minute, mr.TTL("skin:v1:analysis:req_1"))

	got, ok := c.Get(context.Background(), "req_1")
	require.True(t, ok)
	assert.Equal(t, rec.ImageURL, got.ImageURL)
	assert.Equal(t, rec.Answer, got.Answer)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
	d, ok := got.Findings.Get("disease")
	require.True(t, ok)
	assert.Equal(t, "acne", d.Interface())
}

func TestGetMiss(t *testing.T) {
	c, mr := newTestCache(t)
	_, ok := c.Get(context.Background(), "missing")
	assert.False(t, ok)

	require.NoError(t, mr.Set(Key("corrupt"), "{not json"))
	_, ok = c.Get(context.Background(), "corrupt")
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	c, mr := newTestCache(t)
	require.NoError(t, c.Set(context.Background(), &database.AnalysisRecord{RequestID: "req_1"}))
	mr.FastForward(31 * time.Minute)
	_, ok := c.Get(context.Background(), "req_1")
	assert.False(t, ok)
}

func TestRedisDownIsMiss(t *testing.T) {
	c, mr := newTestCache(t)
	mr.Close()
	_, ok := c.Get(context.Background(), "req_1")
	assert.False(t, ok)
	<-c.SetAsync(&database.AnalysisRecord{RequestID: "req_1"})
}
