package cache

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deadline/lib/logger"
	"deadline/lib/web"
)

func newRedisCache(t *testing.T) (*miniredis.Miniredis, *RedisTagCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewRedisTagCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), logger.Discard())
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestRedisTagCacheSetGet(t *testing.T) {
	_, c := newRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "event:dam", []byte(`{"id":1}`), time.Minute, "event-1", "events"))

	got, err := c.Get(ctx, "event:dam")
	require.NoError(t, err)
	assert.Equal(t, `{"id":1}`, string(got))

	_, err = c.Get(ctx, "event:other")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisTagCacheExpiry(t *testing.T) {
	mr, c := newRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute, "events"))
	mr.FastForward(2 * time.Minute)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisTagCacheInvalidate(t *testing.T) {
	mr, c := newRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "event:1", []byte("a"), 0, "event-1", "events"))
	require.NoError(t, c.Set(ctx, "event:2", []byte("b"), 0, "event-2", "events"))
	require.NoError(t, c.Set(ctx, "list", []byte("c"), 0, "events"))

	require.NoError(t, c.Invalidate(ctx, "event-1"))

	_, err := c.Get(ctx, "event:1")
	assert.ErrorIs(t, err, ErrMiss)
	got, err := c.Get(ctx, "event:2")
	require.NoError(t, err)
	assert.Equal(t, "b", string(got))
	assert.False(t, mr.Exists(tagPrefix+"event-1"))

	require.NoError(t, c.Invalidate(ctx, "events", "never-used"))
	for _, key := range []string{"event:2", "list"} {
		_, err := c.Get(ctx, key)
		assert.ErrorIs(t, err, ErrMiss, key)
	}
}

func TestRevalidator(t *testing.T) {
	var gotTags []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-revalidate-secret") != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body struct {
			Tags []string `json:"tags"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotTags = body.Tags
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	fetcher := &web.Fetcher{Client: server.Client()}

	r := NewRevalidator(server.URL, "s3cret", fetcher, logger.Discard())
	require.NoError(t, r.Invalidate(context.Background(), "event-1", "event-dam", "events"))
	assert.Equal(t, []string{"event-1", "event-dam", "events"}, gotTags)

	bad := NewRevalidator(server.URL, "wrong", fetcher, logger.Discard())
	err := bad.Invalidate(context.Background(), "event-1")
	assert.ErrorIs(t, err, web.ErrStatus)
}

type recordingInvalidator struct {
	calls [][]string
	err   error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, tags ...string) error {
	r.calls = append(r.calls, tags)
	return r.err
}

func TestMultiTriesEveryMember(t *testing.T) {
	boom := errors.New("boom")
	first := &recordingInvalidator{err: boom}
	second := &recordingInvalidator{}

	err := Multi{first, second}.Invalidate(context.Background(), "event-1")

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, [][]string{{"event-1"}}, first.calls)
	assert.Equal(t, [][]string{{"event-1"}}, second.calls)
	assert.NoError(t, Multi{}.Invalidate(context.Background(), "x"))
}
