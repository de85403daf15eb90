package mesh

import (
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
)

// Primitive - способ интерпретации индексов
type Primitive uint8

const (
	Triangles Primitive = iota
	Quads
)

// Geometry - сгенерированная сетка ячейки
type Geometry struct {
	Primitive Primitive
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	Indices   []uint32
	Bounds    vec.AABB
}

// NewEmpty возвращает пустую геометрию
func NewEmpty() *Geometry {
	return &Geometry{Bounds: vec.EmptyAABB()}
}

// Empty true, если в геометрии нет примитивов
func (g *Geometry) Empty() bool {
	return g == nil || len(g.Indices) == 0
}

// VertexCount возвращает число вершин
func (g *Geometry) VertexCount() int {
	if g == nil {
		return 0
	}
	return len(g.Positions)
}

// PrimitiveCount возвращает число треугольников или квадов
func (g *Geometry) PrimitiveCount() int {
	if g == nil {
		return 0
	}
	if g.Primitive == Quads {
		return len(g.Indices) / 4
	}
	return len(g.Indices) / 3
}

func (g *Geometry) addVertex(p mgl64.Vec3, n mgl64.Vec3) uint32 {
	idx := uint32(len(g.Positions))
	g.Positions = append(g.Positions, mgl32.Vec3{float32(p[0]), float32(p[1]), float32(p[2])})
	g.Normals = append(g.Normals, mgl32.Vec3{float32(n[0]), float32(n[1]), float32(n[2])})
	g.Bounds = g.Bounds.ExpandBy(p)
	return idx
}
