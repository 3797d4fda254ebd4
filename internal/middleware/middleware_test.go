package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"skin-api/internal/ctx"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTrackMiddleware(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	e := echo.New()
	e.Use(NewTrackMiddleware(zap.New(core).Sugar()))

	var seen *ctx.Context
	e.GET("/thing", func(c echo.Context) error {
		seen = c.(*ctx.Context)
		seen.LogValues.Stage = "vision"
		seen.LogValues.Kind = "service_error"
		return c.String(http.StatusBadGateway, "bad")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/thing", nil))

	require.NotNil(t, seen)
	assert.True(t, strings.HasPrefix(seen.Reqid, "req_"))
	assert.Len(t, seen.Reqid, len("req_")+28)
	assert.Equal(t, seen.Reqid, rec.Header().Get(echo.HeaderXRequestID))

	entries := logs.FilterMessage("end_of_request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.ErrorLevel, entries[0].Level)
	assert.Equal(t, http.StatusBadGateway, seen.LogValues.StatusCode)
}

func TestTrackMiddlewareHandlesReturnedErrors(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	e := echo.New()
	e.Use(NewTrackMiddleware(zap.New(core).Sugar()))
	e.GET("/fail", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "nope")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fail", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	entries := logs.FilterMessage("end_of_request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
}

func TestRecoverMiddleware(t *testing.T) {
	e := echo.New()
	e.Use(NewRecoverMiddleware(zap.NewNop().Sugar()))
	e.GET("/panic", func(c echo.Context) error {
		panic(errors.New("boom"))
	})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestRequireAPIKey(t *testing.T) {
	key := strings.Repeat("k", 32)
	e := echo.New()
	e.GET("/metrics", func(c echo.Context) error { return c.String(200, "ok") }, RequireAPIKey(key))

	tests := []struct {
		auth string
		want int
	}{
		{"", 401},
		{"Basic abc", 401},
		{"Bearer " + strings.Repeat("x", 32), 401},
		{"Bearer short", 401},
		{"Bearer " + key, 200},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		if tt.auth != "" {
			req.Header.Set("Authorization", tt.auth)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, tt.want, rec.Code, tt.auth)
	}
}

func newLimited(t *testing.T, rdb *redis.Client, limit int) *echo.Echo {
	t.Helper()
	e := echo.New()
	log := zap.NewNop().Sugar()
	e.Use(NewTrackMiddleware(log))
	e.POST("/api/analyze", func(c echo.Context) error {
		return c.String(200, "ok")
	}, NewRateLimitMiddleware(rdb, limit, time.Minute, log))
	return e
}

func post(e *echo.Echo, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", nil)
	req.Header.Set(echo.HeaderXRealIP, ip)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	e := newLimited(t, rdb, 2)

	assert.Equal(t, 200, post(e, "10.0.0.1").Code)
	second := post(e, "10.0.0.1")
	assert.Equal(t, 200, second.Code)
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

	third := post(e, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.NotEmpty(t, third.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"status":"error","message":"too many requests, please slow down"}`, third.Body.String())

	assert.Equal(t, 200, post(e, "10.0.0.2").Code)

	keys := mr.Keys()
	require.NotEmpty(t, keys)
	assert.Greater(t, mr.TTL(keys[0]), time.Duration(0))
}

func TestRateLimitFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	mr.Close()
	e := newLimited(t, rdb, 1)
	assert.Equal(t, 200, post(e, "10.0.0.1").Code)
	assert.Equal(t, 200, post(e, "10.0.0.1").Code)
}

func TestRateLimitDisabled(t *testing.T) {
	e := newLimited(t, nil, 1)
	for range 3 {
		assert.Equal(t, 200, post(e, "10.0.0.1").Code)
	}
}

func TestMiddlewareWithoutLogger(t *testing.T) {
	e := echo.New()
	e.Use(NewRecoverMiddleware(nil))
	e.Use(NewTrackMiddleware(nil))
	e.GET("/ok", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/panic", func(c echo.Context) error {
		panic(errors.New("boom"))
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
