package resource

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanID(t *testing.T) {
	got, err := CleanID("terrain/../terrain/./island.vxdb")
	require.NoError(t, err)
	assert.Equal(t, "terrain/island.vxdb", got)

	got, err = CleanID("../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, "etc/passwd", got, "выход за корень обрезается")

	_, err = CleanID("  ")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDirResolver(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "terrain"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "terrain", "a.vxdb"), []byte("data"), 0o644))

	r := NewDirResolver(root)
	data, err := ReadAll(context.Background(), r, "terrain/a.vxdb")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)

	_, err = r.Open(context.Background(), "terrain/missing.vxdb")
	assert.ErrorIs(t, err, ErrNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Open(ctx, "terrain/a.vxdb")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBadgerStore(t *testing.T) {
	s, err := OpenBadgerStore("")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put("terrain/island.vxdb", []byte{1, 2, 3}))
	data, err := ReadAll(context.Background(), s, "terrain/island.vxdb")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	ids, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"terrain/island.vxdb"}, ids)

	require.NoError(t, s.Delete("terrain/island.vxdb"))
	_, err = s.Open(context.Background(), "terrain/island.vxdb")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Close())
	assert.Error(t, s.Put("x", nil))
}

func TestRedisCacheFallsBackWhenUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	calls := 0
	next := ResolverFunc(func(ctx context.Context, id string) (io.ReadCloser, error) {
		calls++
		return io.NopCloser(strings.NewReader("payload:" + id)), nil
	})

	c := NewRedisCache(RedisCacheConfig{TTL: time.Minute}, client, next, nil)
	defer c.Close()

	data, err := ReadAll(context.Background(), c, "terrain/a.vxdb")
	require.NoError(t, err)
	assert.Equal(t, "payload:terrain/a.vxdb", string(data))
	assert.Equal(t, 1, calls)

	hits, misses := c.Stats()
	assert.Equal(t, uint64(0), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestInvalidatorHandle(t *testing.T) {
	inv := newInvalidator(nil, InvalidatorConfig{DedupeWindow: time.Minute}, "node-a", nil)
	defer inv.Close()

	var got []string
	inv.handler = func(ctx context.Context, id string) error {
		got = append(got, id)
		return nil
	}

	msg := func(id, node string) []byte {
		return []byte(`{"id":"` + id + `","node_id":"` + node + `","timestamp":"2026-01-02T03:04:05Z"}`)
	}

	inv.handle(context.Background(), msg("hills.vxdb", "node-b"))
	inv.handle(context.Background(), msg("hills.vxdb", "node-b")) // повтор в окне
	inv.handle(context.Background(), msg("own.vxdb", "node-a"))   // своё
	inv.handle(context.Background(), []byte("{not json"))
	inv.handle(context.Background(), msg("caves.vxdb", "node-c"))

	assert.Equal(t, []string{"hills.vxdb", "caves.vxdb"}, got)
	st := inv.Stats()
	assert.Equal(t, uint64(5), st.Received)
	assert.Equal(t, uint64(1), st.Errors)
}

func TestInvalidatorDedupeExpires(t *testing.T) {
	inv := newInvalidator(nil, InvalidatorConfig{DedupeWindow: 10 * time.Millisecond}, "node-a", nil)
	defer inv.Close()

	inv.recordKey("hills.vxdb")
	assert.True(t, inv.isDuplicate("hills.vxdb"))

	time.Sleep(20 * time.Millisecond)
	assert.False(t, inv.isDuplicate("hills.vxdb"))
	inv.cleanupDedupe()
	assert.Empty(t, inv.recent)
}

func TestInvalidatorHandlerError(t *testing.T) {
	inv := newInvalidator(nil, InvalidatorConfig{}, "node-a", nil)
	defer inv.Close()
	inv.handler = func(ctx context.Context, id string) error { return io.ErrUnexpectedEOF }

	inv.handle(context.Background(), []byte(`{"id":"x.vxdb","node_id":"node-b"}`))
	assert.Equal(t, uint64(1), inv.Stats().Errors)
}
