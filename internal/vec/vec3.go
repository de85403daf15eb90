package vec

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Vec3 представляет трехмерный вектор с целочисленными координатами
// (индексное пространство грида).
type Vec3 struct {
	X int
	Y int
	Z int
}

// Splat возвращает вектор с одинаковыми компонентами
func Splat(v int) Vec3 {
	return Vec3{X: v, Y: v, Z: v}
}

// String для логов
func (v Vec3) String() string {
	return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z)
}

// Equals проверяет равенство векторов
func (v Vec3) Equals(other Vec3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Sub вычитает вектор
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Min покомпонентный минимум
func (v Vec3) Min(other Vec3) Vec3 {
	return Vec3{X: min(v.X, other.X), Y: min(v.Y, other.Y), Z: min(v.Z, other.Z)}
}

// Max покомпонентный максимум
func (v Vec3) Max(other Vec3) Vec3 {
	return Vec3{X: max(v.X, other.X), Y: max(v.Y, other.Y), Z: max(v.Z, other.Z)}
}

// DistanceSqTo возвращает квадрат расстояния до другого вектора
func (v Vec3) DistanceSqTo(other Vec3) int {
	dx := v.X - other.X
	dy := v.Y - other.Y
	dz := v.Z - other.Z
	return dx*dx + dy*dy + dz*dz
}

// FloorDiv делит покомпонентно с округлением вниз (корректно для отрицательных)
func (v Vec3) FloorDiv(d int) Vec3 {
	return Vec3{X: floorDiv(v.X, d), Y: floorDiv(v.Y, d), Z: floorDiv(v.Z, d)}
}

// Volume возвращает X*Y*Z
func (v Vec3) Volume() int {
	return v.X * v.Y * v.Z
}

// ToFloat переводит в мировой вектор
func (v Vec3) ToFloat() mgl64.Vec3 {
	return mgl64.Vec3{float64(v.X), float64(v.Y), float64(v.Z)}
}

// RoundVec округляет мировой вектор до ближайших целых
func RoundVec(p mgl64.Vec3) Vec3 {
	return Vec3{X: int(math.Round(p[0])), Y: int(math.Round(p[1])), Z: int(math.Round(p[2]))}
}

// FloorVec округляет мировой вектор вниз
func FloorVec(p mgl64.Vec3) Vec3 {
	return Vec3{X: int(math.Floor(p[0])), Y: int(math.Floor(p[1])), Z: int(math.Floor(p[2]))}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Box - включительный прямоугольник в индексном пространстве.
type Box struct {
	Min Vec3
	Max Vec3
}

// EmptyBox возвращает пустой бокс, готовый к расширению
func EmptyBox() Box {
	return Box{
		Min: Splat(math.MaxInt32),
		Max: Splat(math.MinInt32),
	}
}

// IsEmpty true, если бокс не содержит ни одной точки
func (b Box) IsEmpty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

// Expand расширяет бокс точкой
func (b Box) Expand(p Vec3) Box {
	return Box{Min: b.Min.Min(p), Max: b.Max.Max(p)}
}

// Union объединяет боксы
func (b Box) Union(o Box) Box {
	if o.IsEmpty() {
		return b
	}
	if b.IsEmpty() {
		return o
	}
	return Box{Min: b.Min.Min(o.Min), Max: b.Max.Max(o.Max)}
}

// Contains проверяет принадлежность точки
func (b Box) Contains(p Vec3) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Intersect возвращает пересечение (может быть пустым)
func (b Box) Intersect(o Box) Box {
	return Box{Min: b.Min.Max(o.Min), Max: b.Max.Min(o.Max)}
}

// Dim возвращает число точек по каждой оси
func (b Box) Dim() Vec3 {
	if b.IsEmpty() {
		return Vec3{}
	}
	return b.Max.Sub(b.Min).Add(Splat(1))
}
