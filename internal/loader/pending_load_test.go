package loader

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/annel0/voxel-terrain/internal/resource"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/volume"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodedStore(t *testing.T) []byte {
	t.Helper()
	g := volume.NewFloatGrid("density", 0, volume.IdentityTransform())
	require.NoError(t, g.Write(vec.Vec3{X: 1, Y: 2, Z: 3}, volume.FloatValue(0.75)))
	data, err := volume.EncodeBytes(volume.NewStore(nil, g))
	require.NoError(t, err)
	return data
}

// gatedResolver отдаёт данные только после закрытия gate
func gatedResolver(data []byte, gate <-chan struct{}) resource.Resolver {
	return resource.ResolverFunc(func(ctx context.Context, id string) (io.ReadCloser, error) {
		if id == "missing" {
			return nil, resource.ErrNotFound
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return io.NopCloser(bytes.NewReader(data)), nil
	})
}

func TestLoadCompletesAndHandsOwnership(t *testing.T) {
	gate := make(chan struct{})
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	p := New(gatedResolver(encodedStore(t), gate), nil, m)

	require.NoError(t, p.StartLoad(context.Background(), "terrain/a.vxdb"))
	assert.Equal(t, Loading, p.State())
	assert.False(t, p.IsComplete())

	_, err := p.Take()
	assert.ErrorIs(t, err, ErrNotComplete)

	close(gate)
	require.NoError(t, p.WaitUntilComplete(context.Background()))
	assert.True(t, p.IsComplete())

	store, err := p.Take()
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.Equal(t, volume.FloatValue(0.75), store.Read(vec.Vec3{X: 1, Y: 2, Z: 3}))
	assert.Equal(t, Idle, p.State())

	_, err = p.Take()
	assert.ErrorIs(t, err, ErrNotComplete, "результат отдаётся один раз")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loads.WithLabelValues("complete")))
}

func TestStartLoadWhileLoadingIsRejected(t *testing.T) {
	gate := make(chan struct{})
	p := New(gatedResolver(encodedStore(t), gate), nil, nil)

	require.NoError(t, p.StartLoad(context.Background(), "terrain/a.vxdb"))
	err := p.StartLoad(context.Background(), "terrain/b.vxdb")
	assert.ErrorIs(t, err, ErrLoadInProgress)
	assert.Equal(t, "terrain/a.vxdb", p.ResourceID())
	assert.Equal(t, Loading, p.State())

	close(gate)
	require.NoError(t, p.WaitUntilComplete(context.Background()))
	store, err := p.Take()
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestLoadFailureIsReported(t *testing.T) {
	p := New(gatedResolver(nil, nil), nil, nil)

	require.NoError(t, p.StartLoad(context.Background(), "missing"))
	err := p.WaitUntilComplete(context.Background())
	assert.ErrorIs(t, err, resource.ErrNotFound)
	assert.Equal(t, Failed, p.State())

	_, err = p.Take()
	assert.ErrorIs(t, err, resource.ErrNotFound)
	assert.Equal(t, Idle, p.State())
}

func TestDiscardIgnoresLateResult(t *testing.T) {
	gate := make(chan struct{})
	p := New(gatedResolver(encodedStore(t), gate), nil, nil)

	require.NoError(t, p.StartLoad(context.Background(), "terrain/a.vxdb"))

	go func() {
		time.Sleep(10 * time.Millisecond)
		p.Discard()
		close(gate)
	}()

	// Ожидание начинается в состоянии Loading и прерывается отказом
	err := p.WaitUntilComplete(context.Background())
	assert.ErrorIs(t, err, ErrDiscarded)

	assert.Eventually(t, func() bool { return p.State() == Idle }, time.Second, 5*time.Millisecond)
	_, err = p.Take()
	assert.ErrorIs(t, err, ErrNotComplete)
}

func TestResetRejectedWhileLoading(t *testing.T) {
	gate := make(chan struct{})
	p := New(gatedResolver(encodedStore(t), gate), nil, nil)
	require.NoError(t, p.StartLoad(context.Background(), "terrain/a.vxdb"))
	assert.ErrorIs(t, p.Reset(), ErrLoadInProgress)

	close(gate)
	require.NoError(t, p.WaitUntilComplete(context.Background()))
	require.NoError(t, p.Reset())
	assert.Equal(t, Idle, p.State())
}
