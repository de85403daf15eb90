package vec

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// AABB - ограничивающий бокс в мировом пространстве.
// Пустой бокс имеет Min > Max.
type AABB struct {
	Min mgl64.Vec3
	Max mgl64.Vec3
}

// EmptyAABB возвращает пустой бокс, готовый к ExpandBy
func EmptyAABB() AABB {
	inf := math.Inf(1)
	return AABB{
		Min: mgl64.Vec3{inf, inf, inf},
		Max: mgl64.Vec3{-inf, -inf, -inf},
	}
}

// NewAABB строит бокс по двум углам в любом порядке
func NewAABB(a, b mgl64.Vec3) AABB {
	return AABB{
		Min: mgl64.Vec3{math.Min(a[0], b[0]), math.Min(a[1], b[1]), math.Min(a[2], b[2])},
		Max: mgl64.Vec3{math.Max(a[0], b[0]), math.Max(a[1], b[1]), math.Max(a[2], b[2])},
	}
}

// IsEmpty true, если бокс ещё ни разу не расширялся
func (b AABB) IsEmpty() bool {
	return b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] || b.Min[2] > b.Max[2]
}

// ExpandBy расширяет бокс точкой
func (b AABB) ExpandBy(p mgl64.Vec3) AABB {
	for i := 0; i < 3; i++ {
		b.Min[i] = math.Min(b.Min[i], p[i])
		b.Max[i] = math.Max(b.Max[i], p[i])
	}
	return b
}

// Union объединяет два бокса
func (b AABB) Union(o AABB) AABB {
	if o.IsEmpty() {
		return b
	}
	if b.IsEmpty() {
		return o
	}
	return b.ExpandBy(o.Min).ExpandBy(o.Max)
}

// Intersects проверяет пересечение замкнутых боксов
func (b AABB) Intersects(o AABB) bool {
	if b.IsEmpty() || o.IsEmpty() {
		return false
	}
	for i := 0; i < 3; i++ {
		if b.Max[i] < o.Min[i] || o.Max[i] < b.Min[i] {
			return false
		}
	}
	return true
}

// Intersection возвращает пересечение или пустой бокс
func (b AABB) Intersection(o AABB) AABB {
	if !b.Intersects(o) {
		return EmptyAABB()
	}
	var r AABB
	for i := 0; i < 3; i++ {
		r.Min[i] = math.Max(b.Min[i], o.Min[i])
		r.Max[i] = math.Min(b.Max[i], o.Max[i])
	}
	return r
}

// Contains проверяет принадлежность точки
func (b AABB) Contains(p mgl64.Vec3) bool {
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i] || p[i] > b.Max[i] {
			return false
		}
	}
	return true
}

// Center возвращает центр бокса
func (b AABB) Center() mgl64.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Size возвращает размеры бокса (нулевые для пустого)
func (b AABB) Size() mgl64.Vec3 {
	if b.IsEmpty() {
		return mgl64.Vec3{}
	}
	return b.Max.Sub(b.Min)
}

// FootprintXY площадь проекции на плоскость XY
func (b AABB) FootprintXY() float64 {
	s := b.Size()
	return s[0] * s[1]
}

// DistanceSq квадрат расстояния от точки до бокса (0 внутри)
func (b AABB) DistanceSq(p mgl64.Vec3) float64 {
	var d float64
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i] {
			v := b.Min[i] - p[i]
			d += v * v
		} else if p[i] > b.Max[i] {
			v := p[i] - b.Max[i]
			d += v * v
		}
	}
	return d
}

// Grow расширяет бокс на delta во все стороны
func (b AABB) Grow(delta float64) AABB {
	if b.IsEmpty() {
		return b
	}
	d := mgl64.Vec3{delta, delta, delta}
	return AABB{Min: b.Min.Sub(d), Max: b.Max.Add(d)}
}
