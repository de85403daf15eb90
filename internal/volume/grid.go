package volume

import (
	"errors"
	"fmt"
	"math"

	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/go-gl/mathgl/mgl64"
)

var (
	// ErrTypeMismatch - значение не совпадает с типом грида; записан фон.
	ErrTypeMismatch = errors.New("volume: value type does not match grid")
	// ErrInvalidGridIndex - запрошен несуществующий грид.
	ErrInvalidGridIndex = errors.New("volume: invalid grid index")
)

// ValueKind - тип значений грида
type ValueKind uint8

const (
	KindInvalid ValueKind = iota
	KindBool
	KindFloat
)

func (k ValueKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindFloat:
		return "float"
	default:
		return "invalid"
	}
}

// Value - значение вокселя: либо bool, либо float32.
type Value struct {
	Kind  ValueKind
	Bool  bool
	Float float32
}

// BoolValue создаёт логическое значение
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// FloatValue создаёт скалярное значение
func FloatValue(f float32) Value { return Value{Kind: KindFloat, Float: f} }

// Scalar приводит значение к float64 (bool -> 0/1)
func (v Value) Scalar() float64 {
	switch v.Kind {
	case KindBool:
		if v.Bool {
			return 1
		}
		return 0
	case KindFloat:
		return float64(v.Float)
	}
	return 0
}

func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return fmt.Sprintf("bool(%t)", v.Bool)
	case KindFloat:
		return fmt.Sprintf("float(%g)", v.Float)
	}
	return "invalid"
}

// Grid - один разреженный объёмный набор данных с мировым преобразованием.
// Ровно одно из деревьев не nil, в зависимости от Kind.
type Grid struct {
	Name      string
	Transform Transform

	kind   ValueKind
	bools  *tree[bool]
	floats *tree[float32]
}

// NewBoolGrid создаёт логический грид
func NewBoolGrid(name string, background bool, xf Transform) *Grid {
	return &Grid{Name: name, Transform: xf, kind: KindBool, bools: newTree(background)}
}

// NewFloatGrid создаёт скалярный грид
func NewFloatGrid(name string, background float32, xf Transform) *Grid {
	return &Grid{Name: name, Transform: xf, kind: KindFloat, floats: newTree(background)}
}

// Kind возвращает тип значений
func (g *Grid) Kind() ValueKind { return g.kind }

// Background возвращает фоновое значение
func (g *Grid) Background() Value {
	if g.kind == KindBool {
		return BoolValue(g.bools.background)
	}
	return FloatValue(g.floats.background)
}

// Read возвращает значение; для неактивных координат - фон.
func (g *Grid) Read(c vec.Vec3) Value {
	if g.kind == KindBool {
		v, _ := g.bools.get(c)
		return BoolValue(v)
	}
	v, _ := g.floats.get(c)
	return FloatValue(v)
}

// IsActive сообщает, записано ли значение в координату
func (g *Grid) IsActive(c vec.Vec3) bool {
	if g.kind == KindBool {
		_, on := g.bools.get(c)
		return on
	}
	_, on := g.floats.get(c)
	return on
}

// Write активирует координату со значением. При несовпадении типа
// записывается фон и возвращается ErrTypeMismatch.
func (g *Grid) Write(c vec.Vec3, v Value) error {
	if v.Kind != g.kind {
		g.writeBackground(c)
		return fmt.Errorf("%w: grid %q is %s, got %s at %v", ErrTypeMismatch, g.Name, g.kind, v.Kind, c)
	}
	if g.kind == KindBool {
		g.bools.setOn(c, v.Bool)
	} else {
		g.floats.setOn(c, v.Float)
	}
	return nil
}

// SetOff деактивирует координату, возвращая её к фону
func (g *Grid) SetOff(c vec.Vec3) {
	if g.kind == KindBool {
		g.bools.setOff(c)
	} else {
		g.floats.setOff(c)
	}
}

func (g *Grid) writeBackground(c vec.Vec3) {
	if g.kind == KindBool {
		g.bools.setOn(c, g.bools.background)
	} else {
		g.floats.setOn(c, g.floats.background)
	}
}

// ActiveCount - число активных вокселей
func (g *Grid) ActiveCount() int {
	if g.kind == KindBool {
		return g.bools.activeCount()
	}
	return g.floats.activeCount()
}

// ActiveBox - индексный бокс активных вокселей
func (g *Grid) ActiveBox() vec.Box {
	if g.kind == KindBool {
		return g.bools.activeBox()
	}
	return g.floats.activeBox()
}

// WorldBounds - мировой бокс занятой области (по границам вокселей)
func (g *Grid) WorldBounds() vec.AABB {
	box := g.ActiveBox()
	if box.IsEmpty() {
		return vec.EmptyAABB()
	}
	half := g.Transform.size() / 2
	return g.Transform.IndexBoxToWorld(box).Grow(half)
}

// ForEachActive обходит активные воксели в детерминированном порядке
func (g *Grid) ForEachActive(fn func(c vec.Vec3, v Value)) {
	all := vec.Box{Min: vec.Splat(math.MinInt32), Max: vec.Splat(math.MaxInt32)}
	g.forEachActiveIn(all, func(c vec.Vec3, v Value) bool {
		fn(c, v)
		return true
	})
}

func (g *Grid) forEachActiveIn(box vec.Box, fn func(c vec.Vec3, v Value) bool) {
	if g.kind == KindBool {
		g.bools.forEachOnIn(box, func(c vec.Vec3, v bool) bool { return fn(c, BoolValue(v)) })
		return
	}
	g.floats.forEachOnIn(box, func(c vec.Vec3, v float32) bool { return fn(c, FloatValue(v)) })
}

// HasDataIn проверяет, есть ли активные воксели в мировом боксе
func (g *Grid) HasDataIn(b vec.AABB) bool {
	found := false
	g.forEachActiveIn(g.Transform.WorldBoxToIndex(b), func(vec.Vec3, Value) bool {
		found = true
		return false
	})
	return found
}

// Intersect возвращает новый грид только с активными вокселями внутри бокса
func (g *Grid) Intersect(b vec.AABB) *Grid {
	var out *Grid
	if g.kind == KindBool {
		out = NewBoolGrid(g.Name, g.bools.background, g.Transform)
	} else {
		out = NewFloatGrid(g.Name, g.floats.background, g.Transform)
	}
	g.forEachActiveIn(g.Transform.WorldBoxToIndex(b), func(c vec.Vec3, v Value) bool {
		_ = out.Write(c, v)
		return true
	})
	return out
}

// Sample возвращает значение в мировой точке. Для float - трилинейная
// интерполяция по соседним вокселям, для bool - 1 внутри и 0 снаружи
// по ближайшему вокселю.
func (g *Grid) Sample(w mgl64.Vec3) float64 {
	idx := g.Transform.WorldToIndex(w)
	if g.kind == KindBool {
		return g.Read(vec.RoundVec(idx)).Scalar()
	}

	base := vec.FloorVec(idx)
	fx := idx[0] - float64(base.X)
	fy := idx[1] - float64(base.Y)
	fz := idx[2] - float64(base.Z)

	var acc float64
	for dx := 0; dx <= 1; dx++ {
		wx := 1 - fx
		if dx == 1 {
			wx = fx
		}
		if wx == 0 {
			continue
		}
		for dy := 0; dy <= 1; dy++ {
			wy := 1 - fy
			if dy == 1 {
				wy = fy
			}
			if wy == 0 {
				continue
			}
			for dz := 0; dz <= 1; dz++ {
				wz := 1 - fz
				if dz == 1 {
					wz = fz
				}
				if wz == 0 {
					continue
				}
				v, _ := g.floats.get(base.Add(vec.Vec3{X: dx, Y: dy, Z: dz}))
				acc += wx * wy * wz * float64(v)
			}
		}
	}
	return acc
}
