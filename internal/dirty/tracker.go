package dirty

import (
	"sort"

	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/partition"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/go-gl/mathgl/mgl64"
)

type entry struct {
	version     uint64 // Растёт при каждой пометке
	ticket      uint64 // version на момент выдачи в батч
	outstanding bool
}

// Tracker ведёт множество ячеек, чья геометрия устарела.
// Правки копятся в бегущем боксе и сбрасываются одной пометкой.
// Не потокобезопасен: используется из потока тика.
type Tracker struct {
	part   *partition.Partitioner
	log    logging.Interface
	margin Margin

	flushDistSq float64 // Порог квадрата расстояния между соседними правками
	footprint   float64 // Порог площади XY бегущего бокса

	region  vec.AABB
	lastPos mgl64.Vec3
	hasLast bool

	cells map[*partition.Cell]*entry
	marks uint64
}

// Margin - насколько расширять область правки при поиске ячеек.
// Ячейка читает данные за своей границей на глубину шага выборки,
// поэтому запас у статических и динамических ячеек разный.
type Margin struct {
	Static  float64
	Dynamic float64
}

// NewTracker создаёт трекер
func NewTracker(part *partition.Partitioner, margin Margin, log logging.Interface) *Tracker {
	cs := part.Options().CellDimensions
	half := 0.5 * cs[0] * cs[1]
	return &Tracker{
		part:        part,
		log:         logging.OrNop(log),
		margin:      margin,
		flushDistSq: half,
		footprint:   half,
		region:      vec.EmptyAABB(),
		cells:       make(map[*partition.Cell]*entry),
	}
}

// AddEdit учитывает правку в мировой точке. Если точка ушла от предыдущей
// дальше порога или бокс правок перерос половину площади ячейки,
// накопленная область сбрасывается пометкой.
func (t *Tracker) AddEdit(pos mgl64.Vec3) {
	if t.hasLast && pos.Sub(t.lastPos).LenSqr() > t.flushDistSq {
		t.FlushRegion()
	}
	t.region = t.region.ExpandBy(pos)
	t.lastPos = pos
	t.hasLast = true

	if t.region.FootprintXY() > t.footprint {
		t.FlushRegion()
	}
}

// PendingRegion возвращает ещё не сброшенную область правок
func (t *Tracker) PendingRegion() vec.AABB {
	return t.region
}

// FlushRegion помечает накопленную область и начинает новую.
// Вызывается на границе тика.
func (t *Tracker) FlushRegion() bool {
	t.hasLast = false
	if t.region.IsEmpty() {
		return false
	}
	region := t.region
	t.region = vec.EmptyAABB()
	t.MarkDirty(region)
	return true
}

// MarkDirty помечает все ячейки, задетые боксом. Возвращает число ячеек.
func (t *Tracker) MarkDirty(box vec.AABB) int {
	if box.IsEmpty() {
		return 0
	}
	t.marks++
	n := 0
	for _, c := range t.part.LocateCells(box.Grow(t.margin.Dynamic)) {
		if c.Kind == partition.Static {
			continue
		}
		t.MarkCell(c, box)
		n++
	}
	for _, b := range t.part.LocateBlocks(box.Grow(t.margin.Static)) {
		t.MarkCell(b.Static, box)
		n++
	}
	t.log.Tracef("Пометка %v: %d ячеек", box, n)
	return n
}

// MarkCell помечает одну ячейку
func (t *Tracker) MarkCell(c *partition.Cell, changed vec.AABB) {
	e, ok := t.cells[c]
	if !ok {
		e = &entry{}
		t.cells[c] = e
	}
	e.version++
	c.Stale = true
	c.LastChanged = c.LastChanged.Union(changed)
}

// MarkBlock помечает все ячейки блока (подкачка, смена детализации)
func (t *Tracker) MarkBlock(b *partition.Block) {
	for _, c := range b.Cells() {
		t.MarkCell(c, b.Bounds)
	}
}

// NextBatch выдаёт до max грязных ячеек резидентных блоков, ближайшие
// к наблюдателю первыми, при равенстве - в порядке создания.
// Ячейка не выдаётся повторно, пока не вызван Complete.
func (t *Tracker) NextBatch(viewer mgl64.Vec3, max int) []*partition.Cell {
	if max <= 0 {
		return nil
	}

	type candidate struct {
		cell *partition.Cell
		dist float64
	}
	var pool []candidate
	for c, e := range t.cells {
		if e.outstanding || !c.Block.Resident {
			continue
		}
		pool = append(pool, candidate{cell: c, dist: c.Bounds.DistanceSq(viewer)})
	}
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].dist != pool[j].dist {
			return pool[i].dist < pool[j].dist
		}
		return pool[i].cell.ID < pool[j].cell.ID
	})

	if len(pool) > max {
		pool = pool[:max]
	}
	batch := make([]*partition.Cell, len(pool))
	for i, cand := range pool {
		e := t.cells[cand.cell]
		e.outstanding = true
		e.ticket = e.version
		batch[i] = cand.cell
	}
	return batch
}

// Complete отмечает окончание перегенерации ячейки. Если ячейку
// пометили снова во время перегенерации, она остаётся грязной.
// Возвращает true, если геометрия теперь актуальна.
func (t *Tracker) Complete(c *partition.Cell) bool {
	e, ok := t.cells[c]
	if !ok || !e.outstanding {
		return false
	}
	if e.version != e.ticket {
		e.outstanding = false
		return false
	}
	delete(t.cells, c)
	c.Stale = false
	c.LastChanged = vec.EmptyAABB()
	return true
}

// Abandon возвращает выданную ячейку в очередь без перегенерации
func (t *Tracker) Abandon(c *partition.Cell) {
	if e, ok := t.cells[c]; ok {
		e.outstanding = false
	}
}

// Release забывает ячейки выгруженного блока
func (t *Tracker) Release(b *partition.Block) {
	for _, c := range b.Cells() {
		delete(t.cells, c)
	}
}

// Reset очищает трекер (перезагрузка хранилища)
func (t *Tracker) Reset() {
	t.cells = make(map[*partition.Cell]*entry)
	t.region = vec.EmptyAABB()
	t.hasLast = false
}

// IsDirty сообщает, помечена ли ячейка
func (t *Tracker) IsDirty(c *partition.Cell) bool {
	_, ok := t.cells[c]
	return ok
}

// DirtyCount - число помеченных ячеек, включая выданные в батч
func (t *Tracker) DirtyCount() int {
	return len(t.cells)
}

// OutstandingCount - число ячеек в незавершённых батчах
func (t *Tracker) OutstandingCount() int {
	n := 0
	for _, e := range t.cells {
		if e.outstanding {
			n++
		}
	}
	return n
}

// Marks - сколько раз сбрасывались области правок
func (t *Tracker) Marks() uint64 {
	return t.marks
}
