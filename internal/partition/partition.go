package partition

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/annel0/voxel-terrain/internal/mesh"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/go-gl/mathgl/mgl64"
)

// ErrInvalidLayout - недопустимые размеры блоков или ячеек
var ErrInvalidLayout = errors.New("partition: invalid layout")

// Kind - разрешение ячейки
type Kind uint8

const (
	// Static - ячейка на весь блок с запечённым разрешением
	Static Kind = iota
	// Dynamic - мелкая редактируемая ячейка
	Dynamic
)

func (k Kind) String() string {
	if k == Static {
		return "static"
	}
	return "dynamic"
}

// Options описывает разбиение мира на блоки и ячейки
type Options struct {
	Offset            mgl64.Vec3
	GridDimensions    mgl64.Vec3 // Нулевой вектор - взять границы данных хранилища
	BlockDimensions   mgl64.Vec3
	CellDimensions    mgl64.Vec3
	StaticResolution  vec.Vec3
	DynamicResolution vec.Vec3
}

// Cell - минимальная единица перегенерации
type Cell struct {
	ID     uint64 // Порядок создания, используется для стабильной сортировки
	Block  *Block
	Index  vec.Vec3 // Локальный индекс в блоке; у статической ячейки нулевой
	Kind   Kind
	Bounds vec.AABB
	Res    vec.Vec3

	Geometry    *mesh.Geometry
	LastChanged vec.AABB // Последняя область изменений, приведшая к пометке
	Stale       bool     // Геометрия не соответствует данным
}

func (c *Cell) String() string {
	return fmt.Sprintf("cell#%d(%s %v/%v)", c.ID, c.Kind, c.Block.Index, c.Index)
}

// Block - крупная область, подгружаемая по дальности видимости
type Block struct {
	Index    vec.Vec3
	Bounds   vec.AABB
	LOD      int
	Resident bool
	Static   *Cell

	dynamic map[vec.Vec3]*Cell
}

// DynamicCells возвращает созданные динамические ячейки в порядке создания
func (b *Block) DynamicCells() []*Cell {
	cells := make([]*Cell, 0, len(b.dynamic))
	for _, c := range b.dynamic {
		cells = append(cells, c)
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].ID < cells[j].ID })
	return cells
}

// Cells возвращает статическую и все динамические ячейки блока
func (b *Block) Cells() []*Cell {
	return append([]*Cell{b.Static}, b.DynamicCells()...)
}

// Residency - результат пересчёта подкачки
type Residency struct {
	PagedIn    []*Block
	Evicted    []*Block
	LODChanged []*Block
}

// Empty сообщает, что подкачка ничего не изменила
func (r Residency) Empty() bool {
	return len(r.PagedIn) == 0 && len(r.Evicted) == 0 && len(r.LODChanged) == 0
}

// Partitioner хранит иерархию блоков и ячеек одного хранилища.
// Блоки и динамические ячейки создаются лениво.
// Не потокобезопасен: используется из потока тика.
type Partitioner struct {
	opts      Options
	domain    vec.AABB
	numBlocks vec.Vec3
	perBlock  vec.Vec3

	blocks map[vec.Vec3]*Block
	nextID uint64

	lastViewerBlock vec.Vec3
	lastDistance    float64
	lastLODs        int
	residencyValid  bool
}

// BuildHierarchy строит разбиение. extent - занятая область хранилища,
// используется если GridDimensions не заданы.
func BuildHierarchy(extent vec.AABB, opts Options) (*Partitioner, error) {
	for i := 0; i < 3; i++ {
		if !(opts.BlockDimensions[i] > 0) || !(opts.CellDimensions[i] > 0) {
			return nil, fmt.Errorf("%w: размеры блока %v и ячейки %v", ErrInvalidLayout, opts.BlockDimensions, opts.CellDimensions)
		}
		if opts.CellDimensions[i] > opts.BlockDimensions[i] {
			return nil, fmt.Errorf("%w: ячейка %v больше блока %v", ErrInvalidLayout, opts.CellDimensions, opts.BlockDimensions)
		}
	}
	if opts.StaticResolution.X < 1 || opts.StaticResolution.Y < 1 || opts.StaticResolution.Z < 1 ||
		opts.DynamicResolution.X < 1 || opts.DynamicResolution.Y < 1 || opts.DynamicResolution.Z < 1 {
		return nil, fmt.Errorf("%w: разрешения %v / %v", ErrInvalidLayout, opts.StaticResolution, opts.DynamicResolution)
	}

	domain := extent
	if opts.GridDimensions[0] > 0 && opts.GridDimensions[1] > 0 && opts.GridDimensions[2] > 0 {
		domain = vec.NewAABB(opts.Offset, opts.Offset.Add(opts.GridDimensions))
	}

	p := &Partitioner{
		opts:   opts,
		domain: domain,
		blocks: make(map[vec.Vec3]*Block),
	}
	if !domain.IsEmpty() {
		size := domain.Size()
		p.numBlocks = vec.Vec3{
			X: axisCount(size[0], opts.BlockDimensions[0]),
			Y: axisCount(size[1], opts.BlockDimensions[1]),
			Z: axisCount(size[2], opts.BlockDimensions[2]),
		}
	}
	p.perBlock = vec.Vec3{
		X: axisCount(opts.BlockDimensions[0], opts.CellDimensions[0]),
		Y: axisCount(opts.BlockDimensions[1], opts.CellDimensions[1]),
		Z: axisCount(opts.BlockDimensions[2], opts.CellDimensions[2]),
	}
	return p, nil
}

func axisCount(size, step float64) int {
	n := int(math.Ceil(size/step - 1e-9))
	if n < 1 {
		n = 1
	}
	return n
}

// axisIndex - индекс отрезка длины step, содержащего t; точка на границе
// принадлежит отрезку с меньшим индексом
func axisIndex(t, origin, step float64, n int) int {
	i := int(math.Ceil((t-origin)/step)) - 1
	if i < 0 {
		i = 0
	}
	if i > n-1 {
		i = n - 1
	}
	return i
}

// Domain возвращает мировую область разбиения
func (p *Partitioner) Domain() vec.AABB { return p.domain }

// Options возвращает параметры разбиения
func (p *Partitioner) Options() Options { return p.opts }

// NumBlocks - число блоков по осям
func (p *Partitioner) NumBlocks() vec.Vec3 { return p.numBlocks }

// CellsPerBlock - число динамических ячеек в блоке по осям
func (p *Partitioner) CellsPerBlock() vec.Vec3 { return p.perBlock }

func (p *Partitioner) blockIndex(pt mgl64.Vec3) vec.Vec3 {
	bs, o := p.opts.BlockDimensions, p.domain.Min
	return vec.Vec3{
		X: axisIndex(pt[0], o[0], bs[0], p.numBlocks.X),
		Y: axisIndex(pt[1], o[1], bs[1], p.numBlocks.Y),
		Z: axisIndex(pt[2], o[2], bs[2], p.numBlocks.Z),
	}
}

func (p *Partitioner) cellIndex(b *Block, pt mgl64.Vec3) vec.Vec3 {
	cs, o := p.opts.CellDimensions, b.Bounds.Min
	return vec.Vec3{
		X: axisIndex(pt[0], o[0], cs[0], p.perBlock.X),
		Y: axisIndex(pt[1], o[1], cs[1], p.perBlock.Y),
		Z: axisIndex(pt[2], o[2], cs[2], p.perBlock.Z),
	}
}

func (p *Partitioner) newID() uint64 {
	p.nextID++
	return p.nextID
}

// block возвращает блок по индексу, создавая его при необходимости
func (p *Partitioner) block(idx vec.Vec3) *Block {
	if b, ok := p.blocks[idx]; ok {
		return b
	}
	b := &Block{
		Index:   idx,
		Bounds:  p.blockBounds(idx),
		dynamic: make(map[vec.Vec3]*Cell),
	}
	b.Static = &Cell{
		ID:          p.newID(),
		Block:       b,
		Kind:        Static,
		Bounds:      b.Bounds,
		Res:         p.StaticResolution(0),
		LastChanged: vec.EmptyAABB(),
	}
	p.blocks[idx] = b
	return b
}

// dynamicCell возвращает динамическую ячейку блока, создавая её при необходимости
func (p *Partitioner) dynamicCell(b *Block, idx vec.Vec3) *Cell {
	if c, ok := b.dynamic[idx]; ok {
		return c
	}
	cs := p.opts.CellDimensions
	min := b.Bounds.Min.Add(mgl64.Vec3{float64(idx.X) * cs[0], float64(idx.Y) * cs[1], float64(idx.Z) * cs[2]})
	max := min.Add(cs)
	for i := 0; i < 3; i++ {
		max[i] = math.Min(max[i], b.Bounds.Max[i])
	}
	c := &Cell{
		ID:          p.newID(),
		Block:       b,
		Index:       idx,
		Kind:        Dynamic,
		Bounds:      vec.AABB{Min: min, Max: max},
		Res:         p.opts.DynamicResolution,
		LastChanged: vec.EmptyAABB(),
	}
	b.dynamic[idx] = c
	return c
}

// StaticResolution - разрешение статической ячейки на уровне детализации lod
func (p *Partitioner) StaticResolution(lod int) vec.Vec3 {
	r := p.opts.StaticResolution
	shrink := func(v int) int {
		v >>= uint(lod)
		if v < 1 {
			return 1
		}
		return v
	}
	return vec.Vec3{X: shrink(r.X), Y: shrink(r.Y), Z: shrink(r.Z)}
}

// BlockAt возвращает блок, содержащий точку
func (p *Partitioner) BlockAt(pt mgl64.Vec3) (*Block, bool) {
	if p.domain.IsEmpty() || !p.domain.Contains(pt) {
		return nil, false
	}
	return p.block(p.blockIndex(pt)), true
}

// CellAt возвращает динамическую ячейку, содержащую точку
func (p *Partitioner) CellAt(pt mgl64.Vec3) (*Cell, bool) {
	b, ok := p.BlockAt(pt)
	if !ok {
		return nil, false
	}
	return p.dynamicCell(b, p.cellIndex(b, pt)), true
}

// Block возвращает уже созданный блок
func (p *Partitioner) Block(idx vec.Vec3) (*Block, bool) {
	b, ok := p.blocks[idx]
	return b, ok
}

// Blocks возвращает созданные блоки в порядке индексов
func (p *Partitioner) Blocks() []*Block {
	out := make([]*Block, 0, len(p.blocks))
	for _, b := range p.blocks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return lessVec(out[i].Index, out[j].Index) })
	return out
}

func lessVec(a, b vec.Vec3) bool {
	if a.Z != b.Z {
		return a.Z < b.Z
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.X < b.X
}

// LocateCells возвращает все ячейки (статические и динамические),
// пересекающие box. Недостающие блоки и ячейки создаются.
func (p *Partitioner) LocateCells(box vec.AABB) []*Cell {
	var cells []*Cell
	for _, b := range p.LocateBlocks(box) {
		cells = append(cells, b.Static)

		inner := box.Intersection(p.domain).Intersection(b.Bounds)
		if inner.IsEmpty() {
			continue
		}
		clo, chi := p.cellIndex(b, inner.Min), p.cellIndex(b, inner.Max)
		for cz := clo.Z; cz <= chi.Z; cz++ {
			for cy := clo.Y; cy <= chi.Y; cy++ {
				for cx := clo.X; cx <= chi.X; cx++ {
					cells = append(cells, p.dynamicCell(b, vec.Vec3{X: cx, Y: cy, Z: cz}))
				}
			}
		}
	}
	return cells
}

// LocateBlocks возвращает блоки, пересекающие бокс, без создания
// динамических ячеек.
func (p *Partitioner) LocateBlocks(box vec.AABB) []*Block {
	if p.domain.IsEmpty() || box.IsEmpty() || !box.Intersects(p.domain) {
		return nil
	}
	clip := box.Intersection(p.domain)
	lo, hi := p.blockIndex(clip.Min), p.blockIndex(clip.Max)

	var blocks []*Block
	for z := lo.Z; z <= hi.Z; z++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for x := lo.X; x <= hi.X; x++ {
				blocks = append(blocks, p.block(vec.Vec3{X: x, Y: y, Z: z}))
			}
		}
	}
	return blocks
}

// lodFor - уровень детализации по расстоянию до блока
func lodFor(distSq, viewDistance float64, numLODs int) int {
	if numLODs <= 0 || viewDistance <= 0 {
		return 0
	}
	band := viewDistance / float64(numLODs+1)
	lod := int(math.Sqrt(distSq) / band)
	if lod > numLODs {
		lod = numLODs
	}
	return lod
}

// UpdateResidency подгружает блоки в пределах дальности видимости,
// выгружает ушедшие за неё и пересчитывает уровни детализации.
// Если наблюдатель не сменил блок и параметры те же, ничего не делает.
func (p *Partitioner) UpdateResidency(viewer mgl64.Vec3, viewDistance float64, numLODs int) Residency {
	var res Residency
	if p.domain.IsEmpty() {
		return res
	}

	vb := p.blockIndexUnclamped(viewer)
	if p.residencyValid && vb == p.lastViewerBlock && viewDistance == p.lastDistance && numLODs == p.lastLODs {
		return res
	}
	p.residencyValid = true
	p.lastViewerBlock, p.lastDistance, p.lastLODs = vb, viewDistance, numLODs

	vdSq := viewDistance * viewDistance
	reach := vec.NewAABB(viewer, viewer).Grow(viewDistance)

	seen := make(map[vec.Vec3]bool)
	if reach.Intersects(p.domain) {
		clip := reach.Intersection(p.domain)
		lo, hi := p.blockIndex(clip.Min), p.blockIndex(clip.Max)
		for z := lo.Z; z <= hi.Z; z++ {
			for y := lo.Y; y <= hi.Y; y++ {
				for x := lo.X; x <= hi.X; x++ {
					idx := vec.Vec3{X: x, Y: y, Z: z}
					bounds := p.blockBounds(idx)
					d := bounds.DistanceSq(viewer)
					if d > vdSq {
						continue
					}
					seen[idx] = true
					b := p.block(idx)
					lod := lodFor(d, viewDistance, numLODs)
					switch {
					case !b.Resident:
						b.Resident = true
						b.LOD = lod
						b.Static.Res = p.StaticResolution(lod)
						res.PagedIn = append(res.PagedIn, b)
					case b.LOD != lod:
						b.LOD = lod
						b.Static.Res = p.StaticResolution(lod)
						res.LODChanged = append(res.LODChanged, b)
					}
				}
			}
		}
	}

	for idx, b := range p.blocks {
		if b.Resident && !seen[idx] {
			b.Resident = false
			res.Evicted = append(res.Evicted, b)
		}
	}

	sortBlocks(res.PagedIn)
	sortBlocks(res.Evicted)
	sortBlocks(res.LODChanged)
	return res
}

// InvalidateResidency заставляет следующий UpdateResidency выполнить полный пересчёт
func (p *Partitioner) InvalidateResidency() {
	p.residencyValid = false
}

func (p *Partitioner) blockIndexUnclamped(pt mgl64.Vec3) vec.Vec3 {
	bs, o := p.opts.BlockDimensions, p.domain.Min
	return vec.Vec3{
		X: int(math.Ceil((pt[0]-o[0])/bs[0])) - 1,
		Y: int(math.Ceil((pt[1]-o[1])/bs[1])) - 1,
		Z: int(math.Ceil((pt[2]-o[2])/bs[2])) - 1,
	}
}

func (p *Partitioner) blockBounds(idx vec.Vec3) vec.AABB {
	if b, ok := p.blocks[idx]; ok {
		return b.Bounds
	}
	bs := p.opts.BlockDimensions
	min := p.domain.Min.Add(mgl64.Vec3{float64(idx.X) * bs[0], float64(idx.Y) * bs[1], float64(idx.Z) * bs[2]})
	max := min.Add(bs)
	for i := 0; i < 3; i++ {
		max[i] = math.Min(max[i], p.domain.Max[i])
	}
	return vec.AABB{Min: min, Max: max}
}

func sortBlocks(bs []*Block) {
	sort.Slice(bs, func(i, j int) bool { return lessVec(bs[i].Index, bs[j].Index) })
}
