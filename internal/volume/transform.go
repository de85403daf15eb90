package volume

import (
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/go-gl/mathgl/mgl64"
)

// Transform связывает индексное и мировое пространство:
// world = index*VoxelSize + Offset.
type Transform struct {
	Offset    mgl64.Vec3
	VoxelSize float64
}

// IdentityTransform - воксель размером 1 без смещения
func IdentityTransform() Transform {
	return Transform{VoxelSize: 1}
}

func (t Transform) size() float64 {
	if t.VoxelSize <= 0 {
		return 1
	}
	return t.VoxelSize
}

// IndexToWorld переводит (дробную) индексную позицию в мир
func (t Transform) IndexToWorld(idx mgl64.Vec3) mgl64.Vec3 {
	return idx.Mul(t.size()).Add(t.Offset)
}

// CoordToWorld переводит целочисленную координату в мир
func (t Transform) CoordToWorld(c vec.Vec3) mgl64.Vec3 {
	return t.IndexToWorld(c.ToFloat())
}

// WorldToIndex переводит мировую позицию в дробную индексную
func (t Transform) WorldToIndex(w mgl64.Vec3) mgl64.Vec3 {
	return w.Sub(t.Offset).Mul(1 / t.size())
}

// WorldToCoord - мировая позиция в ближайшую целочисленную координату
func (t Transform) WorldToCoord(w mgl64.Vec3) vec.Vec3 {
	return vec.RoundVec(t.WorldToIndex(w))
}

// WorldBoxToIndex возвращает индексный бокс всех координат,
// центры которых попадают в мировой бокс.
func (t Transform) WorldBoxToIndex(b vec.AABB) vec.Box {
	if b.IsEmpty() {
		return vec.EmptyBox()
	}
	lo := t.WorldToIndex(b.Min)
	hi := t.WorldToIndex(b.Max)
	box := vec.Box{
		Min: vec.Vec3{X: ceilInt(lo[0]), Y: ceilInt(lo[1]), Z: ceilInt(lo[2])},
		Max: vec.FloorVec(hi),
	}
	return box
}

// IndexBoxToWorld возвращает мировой бокс центров вокселей
func (t Transform) IndexBoxToWorld(b vec.Box) vec.AABB {
	if b.IsEmpty() {
		return vec.EmptyAABB()
	}
	return vec.NewAABB(t.CoordToWorld(b.Min), t.CoordToWorld(b.Max))
}

func ceilInt(f float64) int {
	i := int(f)
	if float64(i) < f {
		i++
	}
	return i
}
