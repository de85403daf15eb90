package volume

import (
	"math/bits"
	"sort"

	"github.com/annel0/voxel-terrain/internal/vec"
)

const (
	leafLog2  = 3
	leafDim   = 1 << leafLog2 // 8 вокселей по оси
	leafSize  = leafDim * leafDim * leafDim
	leafWords = leafSize / 64
	leafMask  = leafDim - 1
)

// voxelType - типы значений, которые умеет хранить разреженное дерево
type voxelType interface {
	bool | float32
}

// leaf - плотный блок 8x8x8 с маской активных вокселей
type leaf[T voxelType] struct {
	origin vec.Vec3
	mask   [leafWords]uint64
	values [leafSize]T
}

func leafOrigin(c vec.Vec3) vec.Vec3 {
	return vec.Vec3{X: c.X &^ leafMask, Y: c.Y &^ leafMask, Z: c.Z &^ leafMask}
}

func leafOffset(c vec.Vec3) int {
	return ((c.X&leafMask)<<(2*leafLog2) | (c.Y&leafMask)<<leafLog2 | (c.Z & leafMask))
}

func offsetToLocal(off int) vec.Vec3 {
	return vec.Vec3{X: off >> (2 * leafLog2), Y: (off >> leafLog2) & leafMask, Z: off & leafMask}
}

func (l *leaf[T]) isOn(off int) bool {
	return l.mask[off>>6]&(1<<(uint(off)&63)) != 0
}

// setOn включает воксель, возвращает true, если он был выключен
func (l *leaf[T]) setOn(off int, v T) bool {
	was := l.isOn(off)
	l.mask[off>>6] |= 1 << (uint(off) & 63)
	l.values[off] = v
	return !was
}

// setOff выключает воксель, возвращает true, если он был включён
func (l *leaf[T]) setOff(off int, bg T) bool {
	was := l.isOn(off)
	l.mask[off>>6] &^= 1 << (uint(off) & 63)
	l.values[off] = bg
	return was
}

func (l *leaf[T]) activeCount() int {
	n := 0
	for _, w := range l.mask {
		n += bits.OnesCount64(w)
	}
	return n
}

// forEachOn обходит активные воксели листа в порядке смещений
func (l *leaf[T]) forEachOn(fn func(c vec.Vec3, v T)) {
	for w, word := range l.mask {
		for word != 0 {
			bit := bits.TrailingZeros64(word)
			off := w*64 + bit
			fn(l.origin.Add(offsetToLocal(off)), l.values[off])
			word &^= 1 << uint(bit)
		}
	}
}

// tree - разреженное хранилище: карта листьев по их началу.
// Отсутствующий лист означает фоновое значение.
type tree[T voxelType] struct {
	background T
	leaves     map[vec.Vec3]*leaf[T]
	active     int
}

func newTree[T voxelType](background T) *tree[T] {
	return &tree[T]{background: background, leaves: make(map[vec.Vec3]*leaf[T])}
}

func (t *tree[T]) get(c vec.Vec3) (T, bool) {
	l, ok := t.leaves[leafOrigin(c)]
	if !ok {
		return t.background, false
	}
	off := leafOffset(c)
	if !l.isOn(off) {
		return t.background, false
	}
	return l.values[off], true
}

func (t *tree[T]) setOn(c vec.Vec3, v T) {
	origin := leafOrigin(c)
	l, ok := t.leaves[origin]
	if !ok {
		l = &leaf[T]{origin: origin}
		for i := range l.values {
			l.values[i] = t.background
		}
		t.leaves[origin] = l
	}
	if l.setOn(leafOffset(c), v) {
		t.active++
	}
}

func (t *tree[T]) setOff(c vec.Vec3) {
	origin := leafOrigin(c)
	l, ok := t.leaves[origin]
	if !ok {
		return
	}
	if l.setOff(leafOffset(c), t.background) {
		t.active--
	}
	if l.activeCount() == 0 {
		delete(t.leaves, origin)
	}
}

func (t *tree[T]) activeCount() int {
	return t.active
}

// sortedLeaves возвращает листья в детерминированном порядке
func (t *tree[T]) sortedLeaves() []*leaf[T] {
	out := make([]*leaf[T], 0, len(t.leaves))
	for _, l := range t.leaves {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].origin, out[j].origin
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
	return out
}

// forEachOnIn обходит активные воксели внутри индексного бокса.
// Листья идут в порядке sortedLeaves. Если бокс покрывает меньше
// слотов, чем листьев в дереве, листья ищутся по началу в карте.
func (t *tree[T]) forEachOnIn(box vec.Box, fn func(c vec.Vec3, v T) bool) {
	if box.IsEmpty() || len(t.leaves) == 0 {
		return
	}
	lo, hi := leafOrigin(box.Min), leafOrigin(box.Max)
	slots := 1.0
	for _, d := range [3]int{hi.X - lo.X, hi.Y - lo.Y, hi.Z - lo.Z} {
		slots *= float64(d/leafDim + 1)
	}

	visit := func(l *leaf[T]) bool {
		stop := false
		l.forEachOn(func(c vec.Vec3, v T) {
			if stop || !box.Contains(c) {
				return
			}
			if !fn(c, v) {
				stop = true
			}
		})
		return !stop
	}

	if slots <= float64(len(t.leaves)) {
		for x := lo.X; x <= hi.X; x += leafDim {
			for y := lo.Y; y <= hi.Y; y += leafDim {
				for z := lo.Z; z <= hi.Z; z += leafDim {
					l, ok := t.leaves[vec.Vec3{X: x, Y: y, Z: z}]
					if ok && !visit(l) {
						return
					}
				}
			}
		}
		return
	}

	for _, l := range t.sortedLeaves() {
		leafBox := vec.Box{Min: l.origin, Max: l.origin.Add(vec.Splat(leafDim - 1))}
		if box.Intersect(leafBox).IsEmpty() {
			continue
		}
		if !visit(l) {
			return
		}
	}
}

func (t *tree[T]) activeBox() vec.Box {
	box := vec.EmptyBox()
	for _, l := range t.leaves {
		l.forEachOn(func(c vec.Vec3, _ T) {
			box = box.Expand(c)
		})
	}
	return box
}
