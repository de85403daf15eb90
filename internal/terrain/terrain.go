package terrain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/annel0/voxel-terrain/internal/dirty"
	"github.com/annel0/voxel-terrain/internal/eventbus"
	"github.com/annel0/voxel-terrain/internal/loader"
	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/mesh"
	"github.com/annel0/voxel-terrain/internal/partition"
	"github.com/annel0/voxel-terrain/internal/protocol"
	"github.com/annel0/voxel-terrain/internal/resource"
	"github.com/annel0/voxel-terrain/internal/scheduler"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/volume"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// ErrNoDatabase - ресурс базы не задан
var ErrNoDatabase = errors.New("terrain: no database configured")

// ModifyFunc вызывается в каждом тике локального актора до применения
// входящих обновлений. Через него хост вносит свои правки (Edit).
type ModifyFunc func(ctx context.Context, t *Terrain, ti TickInfo)

// Deps - внешние зависимости актора
type Deps struct {
	Participant      uuid.UUID // Локальный участник; нулевой - сгенерировать
	Resolver         resource.Resolver
	Log              logging.Interface
	Scene            SceneNode
	Physics          PhysicsBuilder
	LoaderMetrics    *loader.Metrics
	SchedulerMetrics *scheduler.Metrics
}

// Terrain - единственный владелец хранилища вокселей, разбиения и
// очереди перегенерации. Все методы, кроме Receive, RequestReset и
// Stats, вызываются из потока тика.
type Terrain struct {
	id   uuid.UUID
	opts Options
	log  logging.Interface

	resolver resource.Resolver
	pending  *loader.PendingLoad
	database string // Запрошенная база
	loaded   string // База подключённого хранилища

	store   *volume.Store
	part    *partition.Partitioner
	tracker *dirty.Tracker
	sched   *scheduler.Scheduler
	smetric *scheduler.Metrics

	scene          SceneNode
	physics        PhysicsBuilder
	physicsActive  bool
	entered        bool
	paused         bool
	viewer         mgl64.Vec3
	modifiers      []ModifyFunc
	resetCount     uint64
	lastDecision   scheduler.Decision

	// Входящие сообщения и запросы из других горутин
	inMu          sync.Mutex
	inbox         []*protocol.VolumeUpdateMessage
	resetWanted   bool
	remoteResetTo uint64

	bus     eventbus.EventBus
	busSubs []eventbus.Subscription

	counters counters
	statsMu  sync.RWMutex
	snapshot Stats
}

// New создаёт актор. База не загружается, пока не вызван LoadDatabase.
func New(opts Options, deps Deps) *Terrain {
	log := logging.OrNop(deps.Log)
	id := deps.Participant
	if id == uuid.Nil {
		id = uuid.New()
	}
	scene := deps.Scene
	if scene == nil {
		scene = nopScene{}
	}
	t := &Terrain{
		id:       id,
		opts:     opts,
		log:      log,
		resolver: deps.Resolver,
		pending:  loader.New(deps.Resolver, log, deps.LoaderMetrics),
		scene:    scene,
		physics:  deps.Physics,
		smetric:  deps.SchedulerMetrics,
		sched: scheduler.New(opts.Policy, scheduler.Options{
			Background: opts.Background,
			Workers:    opts.Workers,
		}, log, deps.SchedulerMetrics),
	}
	t.publishStats()
	return t
}

// ID - идентификатор локального участника
func (t *Terrain) ID() uuid.UUID { return t.id }

// Options возвращает параметры актора
func (t *Terrain) Options() Options { return t.opts }

// Store - текущее хранилище (nil, пока база не загружена).
// Ссылка действительна только в пределах тика.
func (t *Terrain) Store() *volume.Store { return t.store }

// Partitioner - текущее разбиение (nil без хранилища)
func (t *Terrain) Partitioner() *partition.Partitioner { return t.part }

// Tracker - трекер грязных ячеек (nil без хранилища)
func (t *Terrain) Tracker() *dirty.Tracker { return t.tracker }

// Database - ресурс загруженной или загружаемой базы
func (t *Terrain) Database() string { return t.database }

// AddModifier регистрирует хук локальных правок
func (t *Terrain) AddModifier(fn ModifyFunc) {
	t.modifiers = append(t.modifiers, fn)
}

// PauseUpdate приостанавливает перегенерацию ячеек; данные продолжают обновляться
func (t *Terrain) PauseUpdate(paused bool) {
	t.paused = paused
}

// LoadDatabase начинает загрузку базы id. При wait дожидается её и
// подключает результат; ошибка отсутствия ресурса возвращается вызывающему.
// Пустой id выгружает текущую базу. Повторная загрузка той же базы ничего не делает.
func (t *Terrain) LoadDatabase(ctx context.Context, id string, wait bool) error {
	return t.loadDatabase(ctx, id, wait, false)
}

func (t *Terrain) loadDatabase(ctx context.Context, id string, wait, force bool) error {
	if id == "" {
		t.log.Debugf("Выгрузка базы %q", t.database)
		t.pending.Discard()
		t.unload()
		t.database, t.loaded = "", ""
		return nil
	}
	if !force && id == t.database && (t.store != nil || t.pending.State() != loader.Idle) {
		return nil
	}

	// Незавершённая загрузка другой базы больше не нужна
	t.pending.Discard()
	if err := t.pending.StartLoad(ctx, id); err != nil {
		return fmt.Errorf("ошибка запуска загрузки %s: %w", id, err)
	}
	t.database = id
	t.log.Infof("Загрузка базы %s", id)

	if !wait {
		return nil
	}
	return t.CompleteLoad(ctx)
}

// CompleteLoad дожидается текущей загрузки и подключает хранилище.
// При ошибке прежнее хранилище остаётся на месте.
func (t *Terrain) CompleteLoad(ctx context.Context) error {
	if t.pending.State() == loader.Idle {
		return nil
	}
	// Ошибку Failed вернёт Take, заодно вернув загрузчик в Idle
	if err := t.pending.WaitUntilComplete(ctx); err != nil && t.pending.State() != loader.Failed {
		return err
	}
	store, err := t.pending.Take()
	if err != nil {
		t.log.Errorf("Не удалось загрузить базу %s: %v", t.database, err)
		t.database = t.loaded
		return err
	}

	t.CleanupPhysics()
	t.install(store)
	t.loaded = t.database
	t.InitializePhysics()
	t.log.Infof("База %s загружена: %v, область %v", t.database, store, store.Extent())
	return nil
}

// install делает хранилище текущим и перестраивает разбиение
func (t *Terrain) install(store *volume.Store) {
	store.SetLogger(t.log)
	t.store = store
	t.scene.Reset()
	t.part, t.tracker = nil, nil

	part, err := partition.BuildHierarchy(store.Extent(), t.opts.Partition)
	if err != nil {
		t.log.Errorf("Ошибка построения разбиения: %v", err)
		return
	}
	t.part = part
	t.tracker = dirty.NewTracker(part, t.markMargin(part), t.log)
}

func (t *Terrain) unload() {
	t.CleanupPhysics()
	if t.part != nil {
		for _, b := range t.part.Blocks() {
			if b.Resident {
				t.scene.DetachBlock(b)
			}
		}
	}
	t.store, t.part, t.tracker = nil, nil, nil
	t.scene.Reset()
}

// markMargin - на сколько правка расширяется при пометке ячеек.
// Сетка выборки выходит за Max ячейки на один шаг, поэтому ячейка
// читает данные соседа на глубину своего шага плюс воксель.
func (t *Terrain) markMargin(part *partition.Partitioner) dirty.Margin {
	o := part.Options()
	step := func(size mgl64.Vec3, res vec.Vec3) float64 {
		n := t.opts.Mesh.SampleCounts(res)
		return math.Max(size[0]/float64(n.X), math.Max(size[1]/float64(n.Y), size[2]/float64(n.Z)))
	}
	var m dirty.Margin
	for lod := 0; lod <= t.opts.NumLODs; lod++ {
		m.Static = math.Max(m.Static, step(o.BlockDimensions, part.StaticResolution(lod)))
	}
	m.Dynamic = step(o.CellDimensions, o.DynamicResolution)
	m.Static += t.voxelSize()
	m.Dynamic += t.voxelSize()
	return m
}

func (t *Terrain) voxelSize() float64 {
	if g := t.store.Primary(); g != nil && g.Transform.VoxelSize > 0 {
		return g.Transform.VoxelSize
	}
	return 1
}

// SetStore подключает готовое хранилище без загрузки (генератор, тесты)
func (t *Terrain) SetStore(store *volume.Store) {
	t.pending.Discard()
	t.CleanupPhysics()
	t.install(store)
	t.loaded = t.database
	t.InitializePhysics()
}

// EnterWorld вызывается при появлении актора в мире: подключает
// готовую загрузку и выполняет первую подкачку блоков вокруг наблюдателя.
func (t *Terrain) EnterWorld(ctx context.Context, viewer mgl64.Vec3) error {
	t.entered = true
	t.viewer = viewer

	if t.pending.IsComplete() {
		if err := t.CompleteLoad(ctx); err != nil {
			return err
		}
	} else {
		t.InitializePhysics()
	}
	t.updateResidency(viewer)
	t.publishStats()
	return nil
}

// Tick выполняет один шаг симуляции террейна
func (t *Terrain) Tick(ctx context.Context, ti TickInfo) error {
	t.counters.ticks++
	t.viewer = ti.Viewer

	// 1. Сброс по запросу и завершение загрузки
	t.handleResetRequests(ctx)
	if t.pending.IsComplete() {
		if err := t.CompleteLoad(ctx); err != nil {
			t.counters.loadErrors++
		}
	}
	if t.store == nil {
		t.publishStats()
		return nil
	}

	// 2. Подкачка блоков
	t.updateResidency(ti.Viewer)

	// 3. Локальные правки
	if !t.opts.Remote {
		for _, fn := range t.modifiers {
			fn(ctx, t, ti)
		}
	}

	// 4. Входящие обновления
	for _, msg := range t.drainInbox() {
		t.ApplyUpdate(ctx, msg, false)
	}
	if t.tracker == nil {
		t.publishStats()
		return nil
	}
	t.tracker.FlushRegion()
	t.smetric.SetDirtyCells(t.tracker.DirtyCount())

	// 5. Перегенерация
	var err error
	if !t.paused {
		err = t.regenerate(ctx, ti)
	}
	t.publishStats()
	return err
}

func (t *Terrain) updateResidency(viewer mgl64.Vec3) {
	if t.part == nil {
		return
	}
	res := t.part.UpdateResidency(viewer, t.opts.ViewDistance, t.opts.NumLODs)
	if res.Empty() {
		return
	}
	for _, b := range res.PagedIn {
		t.tracker.MarkBlock(b)
	}
	for _, b := range res.LODChanged {
		t.tracker.MarkCell(b.Static, b.Bounds)
	}
	for _, b := range res.Evicted {
		t.tracker.Release(b)
		for _, c := range b.Cells() {
			c.Geometry = nil
			c.Stale = false
		}
		t.scene.DetachBlock(b)
	}
	t.log.Debugf("Подкачка: +%d -%d lod %d", len(res.PagedIn), len(res.Evicted), len(res.LODChanged))
}

func (t *Terrain) regenerate(ctx context.Context, ti TickInfo) error {
	d := t.sched.Plan(ti.Lag(), ti.Delta)
	t.lastDecision = d
	if d.Skipped {
		t.counters.skippedTicks++
		t.log.Debugf("Симуляция отстаёт на %v, перегенерация пропущена", ti.Lag())
		return nil
	}
	if d.Forced {
		t.log.Debugf("Принудительная перегенерация %d ячеек", d.Count)
	}

	batch := t.tracker.NextBatch(ti.Viewer, d.Count)
	if len(batch) == 0 {
		return nil
	}
	grid := t.store.Primary()
	params := t.opts.Mesh
	err := t.sched.Run(ctx, batch, func(ctx context.Context, c *partition.Cell) error {
		c.Geometry = mesh.Regenerate(grid, c.Bounds, c.Res, params)
		return nil
	})
	if err != nil {
		// Батч не начат: ячейки вернутся в следующем тике
		for _, c := range batch {
			t.tracker.Abandon(c)
		}
		return fmt.Errorf("ошибка перегенерации: %w", err)
	}

	for _, c := range batch {
		t.tracker.Complete(c)
		t.scene.AttachCell(c, c.Geometry)
	}
	t.counters.regenerated += uint64(len(batch))
	return nil
}

// HasDataInAABB сообщает, есть ли данные грида в мировом боксе
func (t *Terrain) HasDataInAABB(b vec.AABB, gridIndex int) bool {
	return t.store.QueryRegion(gridIndex, b)
}

// CollideWithAABB возвращает воксели грида внутри бокса (nil без грида)
func (t *Terrain) CollideWithAABB(b vec.AABB, gridIndex int) *volume.Grid {
	return t.store.IntersectRegion(gridIndex, b)
}

// Close отписывается от шины и останавливает пул воркеров
func (t *Terrain) Close() {
	t.UnbindBus()
	t.pending.Discard()
	t.sched.Close()
	t.CleanupPhysics()
}

// Viewer - положение наблюдателя на последнем тике
func (t *Terrain) Viewer() mgl64.Vec3 { return t.viewer }

