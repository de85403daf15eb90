package eventbus

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/annel0/voxel-terrain/internal/protocol"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusDeliversInOrder(t *testing.T) {
	bus := NewMemoryBus(64)
	defer bus.Close()

	var (
		mu  sync.Mutex
		got []string
	)
	_, err := bus.Subscribe(context.Background(), Filter{Types: []string{EventTypeVolumeUpdate}}, func(ctx context.Context, ev *Envelope) {
		mu.Lock()
		got = append(got, ev.ID)
		mu.Unlock()
	})
	require.NoError(t, err)

	var want []string
	for i := 0; i < 20; i++ {
		id := uuid.NewString()
		want = append(want, id)
		require.NoError(t, bus.Publish(context.Background(), &Envelope{ID: id, EventType: EventTypeVolumeUpdate}))
	}
	require.NoError(t, bus.Publish(context.Background(), &Envelope{ID: "other", EventType: EventTypeTerrainReset}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(want)
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, want, got)
	mu.Unlock()
	assert.Equal(t, uint64(21), bus.Metrics().Published)
}

func TestMemoryBusFiltersBySource(t *testing.T) {
	bus := NewMemoryBus(8)
	defer bus.Close()

	received := make(chan string, 4)
	_, err := bus.Subscribe(context.Background(), Filter{Sources: []string{"a"}}, func(ctx context.Context, ev *Envelope) {
		received <- ev.Source
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), &Envelope{Source: "b"}))
	require.NoError(t, bus.Publish(context.Background(), &Envelope{Source: "a"}))

	select {
	case src := <-received:
		assert.Equal(t, "a", src)
	case <-time.After(time.Second):
		t.Fatal("событие не доставлено")
	}
	assert.Empty(t, received)
}

func TestMemoryBusDropsLowPriorityWhenFull(t *testing.T) {
	bus := NewMemoryBus(1)
	defer bus.Close()

	started := make(chan struct{}, 1)
	gate := make(chan struct{})
	_, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
		}
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, &Envelope{ID: "1"}))
	<-started
	require.NoError(t, bus.Publish(ctx, &Envelope{ID: "2"})) // в очередь
	require.NoError(t, bus.Publish(ctx, &Envelope{ID: "3"})) // очередь полна

	stats := bus.Metrics()
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, 1, stats.InFlight)

	// Высокий приоритет ждёт места, пока не отменён контекст
	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err = bus.Publish(tctx, &Envelope{ID: "4", Priority: HighPriority})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(gate)
}

func TestMemoryBusUnsubscribeAndClose(t *testing.T) {
	bus := NewMemoryBus(4)

	calls := make(chan struct{}, 4)
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		calls <- struct{}{}
	})
	require.NoError(t, err)
	sub.Unsubscribe()

	require.NoError(t, bus.Publish(context.Background(), &Envelope{}))
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, calls)

	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(context.Background(), &Envelope{}), ErrClosed)
	_, err = bus.Subscribe(context.Background(), Filter{}, func(context.Context, *Envelope) {})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, bus.Close())
}

func TestMetricsExporterCollect(t *testing.T) {
	bus := NewMemoryBus(4)
	defer bus.Close()
	reg := prometheus.NewRegistry()
	me := NewMetricsExporter(bus, reg)

	require.NoError(t, bus.Publish(context.Background(), &Envelope{}))
	require.NoError(t, bus.Publish(context.Background(), &Envelope{}))

	prev := me.collect(Stats{})
	assert.Equal(t, 2.0, testutil.ToFloat64(me.published))

	require.NoError(t, bus.Publish(context.Background(), &Envelope{}))
	me.collect(prev)
	assert.Equal(t, 3.0, testutil.ToFloat64(me.published))

	// Stop без Start не блокирует
	me.Stop()
	me.Stop()
}

func newUpdate(t *testing.T, n int) *protocol.VolumeUpdateMessage {
	t.Helper()
	idx := make([]protocol.Parameter, n)
	vals := make([]protocol.Parameter, n)
	for i := range idx {
		idx[i] = protocol.Vec3(mgl64.Vec3{float64(i), 0, 0})
		vals[i] = protocol.Float(1)
	}
	m, err := protocol.NewVolumeUpdate(uuid.New(), idx, vals)
	require.NoError(t, err)
	return m
}

func TestVolumeUpdateEventSmallIsPlain(t *testing.T) {
	m := newUpdate(t, 2)
	ev, err := NewVolumeUpdateEvent(m, DefaultCompressThreshold)
	require.NoError(t, err)
	assert.Empty(t, ev.Metadata[MetaEncoding])
	assert.Equal(t, m.Source().String(), ev.Source)

	got, err := DecodeVolumeUpdate(ev)
	require.NoError(t, err)
	assert.Equal(t, m.ID(), got.ID())
	assert.Equal(t, 2, got.Len())
}

func TestVolumeUpdateEventLargeIsCompressed(t *testing.T) {
	m := newUpdate(t, 500)
	raw := protocol.Marshal(m)
	ev, err := NewVolumeUpdateEvent(m, DefaultCompressThreshold)
	require.NoError(t, err)
	assert.Equal(t, EncodingZstd, ev.Metadata[MetaEncoding])
	assert.Less(t, len(ev.Payload), len(raw))

	got, err := DecodeVolumeUpdate(ev)
	require.NoError(t, err)
	assert.Equal(t, m.Values(), got.Values())
}

func TestDecodeErrors(t *testing.T) {
	_, err := DecodeVolumeUpdate(&Envelope{EventType: EventTypeTerrainReset})
	assert.ErrorIs(t, err, ErrWrongEventType)

	_, err = DecodePayload(&Envelope{Metadata: map[string]string{MetaEncoding: "lz4"}})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "lz4"))
}

func TestDecodeRejectsOversizedPayload(t *testing.T) {
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	bomb := enc.EncodeAll(make([]byte, 2*MaxDecodedPayload), nil)
	require.Less(t, len(bomb), 1<<20)

	ev := &Envelope{
		ID:        "bomb",
		EventType: EventTypeVolumeUpdate,
		Payload:   bomb,
		Metadata:  map[string]string{MetaEncoding: EncodingZstd},
	}
	_, err = DecodePayload(ev)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	_, err = DecodeVolumeUpdate(ev)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	// Нагрузка в пределах лимита распаковывается
	ok := enc.EncodeAll(make([]byte, MaxDecodedPayload/2), nil)
	out, err := DecodePayload(&Envelope{Payload: ok, Metadata: map[string]string{MetaEncoding: EncodingZstd}})
	require.NoError(t, err)
	assert.Len(t, out, MaxDecodedPayload/2)
}

func TestTerrainResetEvent(t *testing.T) {
	src := uuid.New()
	ev := NewTerrainResetEvent(src, 7, "worlds/a.vxdb")
	n, id, err := DecodeTerrainReset(ev)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)
	assert.Equal(t, "worlds/a.vxdb", id)
	assert.Equal(t, src.String(), ev.Source)
}
