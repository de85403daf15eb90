package terrain

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/annel0/voxel-terrain/internal/eventbus"
	"github.com/annel0/voxel-terrain/internal/mesh"
	"github.com/annel0/voxel-terrain/internal/partition"
	"github.com/annel0/voxel-terrain/internal/protocol"
	"github.com/annel0/voxel-terrain/internal/resource"
	"github.com/annel0/voxel-terrain/internal/scheduler"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/volume"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		ViewDistance: 100,
		Mesh:         mesh.Params{IsoLevel: 0.5},
		Partition: partition.Options{
			GridDimensions:    mgl64.Vec3{32, 32, 32},
			BlockDimensions:   mgl64.Vec3{32, 32, 32},
			CellDimensions:    mgl64.Vec3{8, 8, 8},
			StaticResolution:  vec.Vec3{X: 8, Y: 8, Z: 8},
			DynamicResolution: vec.Vec3{X: 8, Y: 8, Z: 8},
		},
		Policy: scheduler.Policy{MaxCellsPerFrame: 100},
	}
}

func emptyStore() *volume.Store {
	return volume.NewStore(nil, volume.NewFloatGrid("density", 0, volume.IdentityTransform()))
}

// cubeStore - куб плотности 1 от 10 до 20 по каждой оси
func cubeStore() *volume.Store {
	s := emptyStore()
	for z := 10; z <= 20; z++ {
		for y := 10; y <= 20; y++ {
			for x := 10; x <= 20; x++ {
				s.Write(vec.Vec3{X: x, Y: y, Z: z}, volume.FloatValue(1))
			}
		}
	}
	return s
}

func storeResolver(t *testing.T, dbs map[string]*volume.Store) resource.Resolver {
	t.Helper()
	raw := make(map[string][]byte)
	for id, s := range dbs {
		data, err := volume.EncodeBytes(s)
		require.NoError(t, err)
		raw[id] = data
	}
	return resource.ResolverFunc(func(ctx context.Context, id string) (io.ReadCloser, error) {
		data, ok := raw[id]
		if !ok {
			return nil, resource.ErrNotFound
		}
		return io.NopCloser(bytes.NewReader(data)), nil
	})
}

type recordingScene struct {
	mu       sync.Mutex
	attached map[*partition.Cell]*mesh.Geometry
	detached int
	resets   int
}

func newRecordingScene() *recordingScene {
	return &recordingScene{attached: make(map[*partition.Cell]*mesh.Geometry)}
}

func (s *recordingScene) AttachCell(c *partition.Cell, g *mesh.Geometry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached[c] = g
}

func (s *recordingScene) DetachBlock(*partition.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detached++
}

func (s *recordingScene) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

type recordingPhysics struct {
	builds   int
	cleanups int
	last     *mesh.Geometry
}

func (p *recordingPhysics) Build(_ int, g *mesh.Geometry, _ mesh.TesselationMode) error {
	p.builds++
	p.last = g
	return nil
}

func (p *recordingPhysics) Cleanup(int) { p.cleanups++ }

func update(t *testing.T, source uuid.UUID, indices, values []protocol.Parameter) *protocol.VolumeUpdateMessage {
	t.Helper()
	m, err := protocol.NewVolumeUpdate(source, indices, values)
	require.NoError(t, err)
	return m
}

func tick(viewer mgl64.Vec3) TickInfo {
	return TickInfo{Delta: 100 * time.Millisecond, Viewer: viewer}
}

func TestAdjacentEditsProduceOneMark(t *testing.T) {
	tr := New(testOptions(), Deps{})
	defer tr.Close()
	tr.SetStore(emptyStore())

	msg := update(t, uuid.New(),
		[]protocol.Parameter{protocol.Vec3(mgl64.Vec3{0, 0, 0}), protocol.Vec3(mgl64.Vec3{0, 0, 1})},
		[]protocol.Parameter{protocol.Float(1), protocol.Float(1)},
	)
	require.True(t, tr.Receive(msg))
	require.NoError(t, tr.Tick(context.Background(), tick(mgl64.Vec3{})))

	assert.Equal(t, uint64(1), tr.Tracker().Marks())
	assert.Equal(t, volume.FloatValue(1), tr.Store().Read(vec.Vec3{}))
	assert.Equal(t, volume.FloatValue(1), tr.Store().Read(vec.Vec3{Z: 1}))
}

func TestMalformedIndexIsSkipped(t *testing.T) {
	tr := New(testOptions(), Deps{})
	defer tr.Close()
	tr.SetStore(emptyStore())

	msg := update(t, uuid.New(),
		[]protocol.Parameter{protocol.Float(3), protocol.Vec3(mgl64.Vec3{1, 1, 1}), protocol.Null()},
		[]protocol.Parameter{protocol.Float(1), protocol.Float(2), protocol.Float(3)},
	)
	applied := tr.ApplyUpdate(context.Background(), msg, false)

	assert.Equal(t, 1, applied)
	assert.Equal(t, uint64(2), tr.counters.malformed)
	assert.Equal(t, volume.FloatValue(2), tr.Store().Read(vec.Vec3{X: 1, Y: 1, Z: 1}))
	assert.Equal(t, 1, tr.Store().Primary().ActiveCount())
}

func TestValueConversions(t *testing.T) {
	tr := New(testOptions(), Deps{})
	defer tr.Close()
	tr.SetStore(emptyStore())
	g := tr.Store().Primary()
	ctx := context.Background()

	g.Write(vec.Vec3{X: 3}, volume.FloatValue(9))
	msg := update(t, uuid.New(),
		[]protocol.Parameter{
			protocol.Vec3(mgl64.Vec3{1, 0, 0}),
			protocol.Vec3(mgl64.Vec3{2.4, 0, 0}),
			protocol.Vec3(mgl64.Vec3{3, 0, 0}),
		},
		[]protocol.Parameter{protocol.Half(0x3c00), protocol.Bool(true), protocol.Null()},
	)
	assert.Equal(t, 3, tr.ApplyUpdate(ctx, msg, false))

	assert.Equal(t, volume.FloatValue(1), g.Read(vec.Vec3{X: 1}), "half расширяется до float")
	assert.True(t, g.IsActive(vec.Vec3{X: 2}), "индекс округляется")
	assert.Equal(t, volume.FloatValue(0), g.Read(vec.Vec3{X: 2}), "чужой тип даёт фон")
	assert.False(t, g.IsActive(vec.Vec3{X: 3}), "null выключает воксель")
}

func TestVisualOnlyDoesNotWrite(t *testing.T) {
	tr := New(testOptions(), Deps{})
	defer tr.Close()
	tr.SetStore(emptyStore())

	msg := update(t, uuid.New(),
		[]protocol.Parameter{protocol.Vec3(mgl64.Vec3{4, 4, 4})},
		[]protocol.Parameter{protocol.Float(1)},
	)
	assert.Equal(t, 1, tr.ApplyUpdate(context.Background(), msg, true))
	assert.Equal(t, 0, tr.Store().Primary().ActiveCount())
	assert.True(t, tr.Tracker().FlushRegion())
}

func TestAcceptRule(t *testing.T) {
	local := New(testOptions(), Deps{})
	defer local.Close()
	other := uuid.New()

	assert.False(t, local.Accepts(local.ID()), "собственные сообщения не применяются")
	assert.True(t, local.Accepts(other))

	opts := testOptions()
	opts.LocalUpdatePolicy = IgnoreAll
	ignoring := New(opts, Deps{})
	defer ignoring.Close()
	assert.False(t, ignoring.Accepts(other))

	opts.Remote = true
	remote := New(opts, Deps{})
	defer remote.Close()
	assert.True(t, remote.Accepts(other), "удалённый актор принимает правки владельца")

	msg := update(t, ignoring.ID(), nil, nil)
	assert.False(t, ignoring.Receive(msg))
	assert.Equal(t, uint64(1), ignoring.Stats().Rejected)
}

func TestTickRegeneratesResidentCells(t *testing.T) {
	scene := newRecordingScene()
	tr := New(testOptions(), Deps{Scene: scene})
	defer tr.Close()
	tr.SetStore(cubeStore())

	require.NoError(t, tr.EnterWorld(context.Background(), mgl64.Vec3{16, 16, 16}))
	require.Equal(t, 1, tr.Tracker().DirtyCount(), "подкачанный блок помечает статическую ячейку")

	require.NoError(t, tr.Tick(context.Background(), tick(mgl64.Vec3{16, 16, 16})))
	assert.Equal(t, 0, tr.Tracker().DirtyCount())

	b, ok := tr.Partitioner().BlockAt(mgl64.Vec3{16, 16, 16})
	require.True(t, ok)
	g := scene.attached[b.Static]
	require.NotNil(t, g)
	assert.False(t, g.Empty())

	st := tr.Stats()
	assert.Equal(t, uint64(1), st.Regenerated)
	assert.Equal(t, 1, st.ResidentBlocks)
}

// slabStore - плита плотности 1 до z=2 по всей области
func slabStore() *volume.Store {
	s := emptyStore()
	for z := 0; z <= 2; z++ {
		for y := 0; y <= 32; y++ {
			for x := 0; x <= 32; x++ {
				s.Write(vec.Vec3{X: x, Y: y, Z: z}, volume.FloatValue(1))
			}
		}
	}
	return s
}

func TestEditNearBorderRegeneratesNeighbour(t *testing.T) {
	opts := testOptions()
	// Шаг выборки 4: решётка ячейки [0,8] доходит до x=12
	opts.Partition.DynamicResolution = vec.Splat(2)
	scene := newRecordingScene()
	tr := New(opts, Deps{Scene: scene})
	defer tr.Close()
	tr.SetStore(slabStore())

	ctx := context.Background()
	viewer := mgl64.Vec3{16, 16, 16}
	require.NoError(t, tr.EnterWorld(ctx, viewer))

	_, err := tr.Edit(ctx, []protocol.Parameter{protocol.Vec3(mgl64.Vec3{2, 2, 1})}, []protocol.Parameter{protocol.Float(1)})
	require.NoError(t, err)
	require.NoError(t, tr.Tick(ctx, tick(viewer)))
	require.Equal(t, 0, tr.Tracker().DirtyCount())

	near, ok := tr.Partitioner().CellAt(mgl64.Vec3{4, 4, 4})
	require.True(t, ok)
	before := scene.attached[near]
	require.NotNil(t, before)

	// Правка целиком внутри соседней ячейки [8,16]
	var indices, values []protocol.Parameter
	for z := 3; z <= 5; z++ {
		for y := 0; y <= 7; y++ {
			for x := 12; x <= 13; x++ {
				indices = append(indices, protocol.Vec3(mgl64.Vec3{float64(x), float64(y), float64(z)}))
				values = append(values, protocol.Float(1))
			}
		}
	}
	require.True(t, tr.Receive(update(t, uuid.New(), indices, values)))

	tr.PauseUpdate(true)
	require.NoError(t, tr.Tick(ctx, tick(viewer)))
	assert.True(t, tr.Tracker().IsDirty(near), "соседняя ячейка читает изменённые воксели")

	tr.PauseUpdate(false)
	require.NoError(t, tr.Tick(ctx, tick(viewer)))
	require.Equal(t, 0, tr.Tracker().DirtyCount())

	fresh := mesh.Regenerate(tr.Store().Primary(), near.Bounds, near.Res, opts.Mesh)
	assert.NotEqual(t, len(before.Positions), len(fresh.Positions))
	assert.Equal(t, fresh, scene.attached[near])
}

func TestLaggingTickSkipsRegeneration(t *testing.T) {
	tr := New(testOptions(), Deps{})
	defer tr.Close()
	tr.SetStore(cubeStore())
	require.NoError(t, tr.EnterWorld(context.Background(), mgl64.Vec3{}))

	ti := tick(mgl64.Vec3{})
	ti.SimTime = time.Second
	ti.CorrectSimTime = time.Second + 150*time.Millisecond
	require.NoError(t, tr.Tick(context.Background(), ti))

	assert.True(t, tr.lastDecision.Skipped)
	assert.Equal(t, 1, tr.Tracker().DirtyCount())
	assert.Equal(t, uint64(1), tr.Stats().SkippedTicks)
}

func TestPausedTickKeepsCellsDirty(t *testing.T) {
	tr := New(testOptions(), Deps{})
	defer tr.Close()
	tr.SetStore(cubeStore())
	tr.PauseUpdate(true)

	require.NoError(t, tr.Tick(context.Background(), tick(mgl64.Vec3{})))
	assert.Equal(t, 1, tr.Tracker().DirtyCount())
	assert.True(t, tr.Stats().Paused)
}

func TestLoadDatabase(t *testing.T) {
	phys := &recordingPhysics{}
	tr := New(testOptions(), Deps{
		Resolver: storeResolver(t, map[string]*volume.Store{"worlds/cube.vxdb": cubeStore()}),
		Physics:  phys,
	})
	defer tr.Close()
	ctx := context.Background()

	require.NoError(t, tr.LoadDatabase(ctx, "worlds/cube.vxdb", true))
	assert.Equal(t, 11*11*11, tr.Store().Primary().ActiveCount())
	assert.Equal(t, 1, phys.builds)
	assert.False(t, phys.last.Empty())

	// Отсутствующая база: ошибка вызывающему, прежнее хранилище на месте
	err := tr.LoadDatabase(ctx, "worlds/missing.vxdb", true)
	assert.ErrorIs(t, err, resource.ErrNotFound)
	require.NotNil(t, tr.Store())
	assert.Equal(t, 11*11*11, tr.Store().Primary().ActiveCount())

	require.NoError(t, tr.LoadDatabase(ctx, "", false))
	assert.Nil(t, tr.Store())
	assert.Equal(t, 1, phys.cleanups)
}

func TestAsyncLoadCompletesOnTick(t *testing.T) {
	tr := New(testOptions(), Deps{
		Resolver: storeResolver(t, map[string]*volume.Store{"a": cubeStore()}),
	})
	defer tr.Close()
	ctx := context.Background()

	require.NoError(t, tr.LoadDatabase(ctx, "a", false))
	require.Eventually(t, func() bool { return tr.pending.IsComplete() }, time.Second, time.Millisecond)

	require.NoError(t, tr.Tick(ctx, tick(mgl64.Vec3{})))
	require.NotNil(t, tr.Store())
	assert.Equal(t, "a", tr.Stats().Database)
}

func TestRemoteActorSkipsPhysics(t *testing.T) {
	phys := &recordingPhysics{}
	opts := testOptions()
	opts.Remote = true
	tr := New(opts, Deps{Physics: phys})
	defer tr.Close()

	tr.SetStore(cubeStore())
	assert.Equal(t, 0, phys.builds)

	opts.CreateRemotePhysics = true
	tr2 := New(opts, Deps{Physics: phys})
	defer tr2.Close()
	tr2.SetStore(cubeStore())
	assert.Equal(t, 1, phys.builds)
}

func TestResetCounts(t *testing.T) {
	res := storeResolver(t, map[string]*volume.Store{"a": cubeStore()})
	ctx := context.Background()

	owner := New(testOptions(), Deps{Resolver: res})
	defer owner.Close()
	require.NoError(t, owner.LoadDatabase(ctx, "a", true))
	require.NoError(t, owner.Reset(ctx))
	require.NoError(t, owner.CompleteLoad(ctx))
	assert.Equal(t, uint64(1), owner.ResetCount())

	opts := testOptions()
	opts.Remote = true
	remote := New(opts, Deps{Resolver: res})
	defer remote.Close()
	require.NoError(t, remote.LoadDatabase(ctx, "a", true))
	require.NoError(t, remote.Reset(ctx))
	require.NoError(t, remote.CompleteLoad(ctx))
	assert.Equal(t, uint64(0), remote.ResetCount(), "удалённый актор не увеличивает счётчик")

	require.NoError(t, remote.SetResetCount(ctx, owner.ResetCount()))
	assert.Equal(t, uint64(1), remote.ResetCount())
	require.NoError(t, remote.CompleteLoad(ctx))
	require.NoError(t, remote.SetResetCount(ctx, 1), "тот же счётчик ничего не делает")

	empty := New(testOptions(), Deps{})
	defer empty.Close()
	assert.ErrorIs(t, empty.Reset(ctx), ErrNoDatabase)
}

func TestEditsTravelOverBus(t *testing.T) {
	bus := eventbus.NewMemoryBus(16)
	defer bus.Close()
	ctx := context.Background()

	owner := New(testOptions(), Deps{})
	defer owner.Close()
	owner.SetStore(emptyStore())
	require.NoError(t, owner.BindBus(ctx, bus))

	opts := testOptions()
	opts.Remote = true
	replica := New(opts, Deps{})
	defer replica.Close()
	replica.SetStore(emptyStore())
	require.NoError(t, replica.BindBus(ctx, bus))

	_, err := owner.Edit(ctx,
		[]protocol.Parameter{protocol.Vec3(mgl64.Vec3{5, 6, 7})},
		[]protocol.Parameter{protocol.Float(0.75)},
	)
	require.NoError(t, err)
	assert.Equal(t, volume.FloatValue(0.75), owner.Store().Read(vec.Vec3{X: 5, Y: 6, Z: 7}))

	require.Eventually(t, func() bool { return replica.counters.received.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, replica.Tick(ctx, tick(mgl64.Vec3{})))
	assert.Equal(t, volume.FloatValue(0.75), replica.Store().Read(vec.Vec3{X: 5, Y: 6, Z: 7}))
	assert.Equal(t, uint64(0), owner.counters.received.Load(), "своя правка не возвращается владельцу")
}

func TestResetTravelsOverBus(t *testing.T) {
	bus := eventbus.NewMemoryBus(16)
	defer bus.Close()
	res := storeResolver(t, map[string]*volume.Store{"a": cubeStore()})
	ctx := context.Background()

	owner := New(testOptions(), Deps{Resolver: res})
	defer owner.Close()
	require.NoError(t, owner.LoadDatabase(ctx, "a", true))
	require.NoError(t, owner.BindBus(ctx, bus))

	opts := testOptions()
	opts.Remote = true
	replica := New(opts, Deps{Resolver: res})
	defer replica.Close()
	require.NoError(t, replica.LoadDatabase(ctx, "a", true))
	require.NoError(t, replica.BindBus(ctx, bus))

	owner.RequestReset()
	require.NoError(t, owner.Tick(ctx, tick(mgl64.Vec3{})))
	assert.Equal(t, uint64(1), owner.ResetCount())

	require.Eventually(t, func() bool {
		replica.inMu.Lock()
		defer replica.inMu.Unlock()
		return replica.remoteResetTo == 1
	}, time.Second, time.Millisecond)
	require.NoError(t, replica.Tick(ctx, tick(mgl64.Vec3{})))
	assert.Equal(t, uint64(1), replica.ResetCount())
}
