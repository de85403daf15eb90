package mesh

import (
	"fmt"
	"math"
	"strings"

	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/volume"
	"github.com/go-gl/mathgl/mgl64"
)

// TesselationMode - как воксели превращаются в геометрию для физики
type TesselationMode uint8

const (
	// Box2TriPerSide - открытая грань вокселя даёт два треугольника
	Box2TriPerSide TesselationMode = iota
	// Box1QuadPerSide - открытая грань вокселя даёт один квад
	Box1QuadPerSide
	// IsoSurface - та же изоповерхность, что и для отрисовки
	IsoSurface
)

var tesselationNames = map[TesselationMode]string{
	Box2TriPerSide:  "box_2_tri_per_side",
	Box1QuadPerSide: "box_1_quad_per_side",
	IsoSurface:      "iso_surface",
}

func (m TesselationMode) String() string {
	if s, ok := tesselationNames[m]; ok {
		return s
	}
	return fmt.Sprintf("tesselation(%d)", uint8(m))
}

// ParseTesselationMode разбирает имя режима из конфигурации
func ParseTesselationMode(s string) (TesselationMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Box2TriPerSide, nil
	}
	for m, name := range tesselationNames {
		if name == s {
			return m, nil
		}
	}
	return Box2TriPerSide, fmt.Errorf("неизвестный режим тесселяции %q", s)
}

var faceDirs = [6]vec.Vec3{
	{X: -1}, {X: 1}, {Y: -1}, {Y: 1}, {Z: -1}, {Z: 1},
}

// BuildPhysicsGeometry строит геометрию для физики по вокселям региона.
// Пустой регион (все значения ниже isoLevel) даёт пустую геометрию.
func BuildPhysicsGeometry(grid *volume.Grid, region vec.AABB, mode TesselationMode, isoLevel float64) *Geometry {
	if grid == nil || region.IsEmpty() {
		return NewEmpty()
	}

	if mode == IsoSurface {
		size := region.Size()
		vs := grid.Transform.VoxelSize
		res := vec.Vec3{
			X: int(math.Max(1, math.Ceil(size[0]/vs))),
			Y: int(math.Max(1, math.Ceil(size[1]/vs))),
			Z: int(math.Max(1, math.Ceil(size[2]/vs))),
		}
		return Regenerate(grid, region, res, Params{IsoLevel: isoLevel})
	}

	geom := NewEmpty()
	if mode == Box1QuadPerSide {
		geom.Primitive = Quads
	}

	solid := func(c vec.Vec3) bool { return grid.Read(c).Scalar() >= isoLevel }
	half := grid.Transform.VoxelSize / 2

	grid.Intersect(region).ForEachActive(func(c vec.Vec3, v volume.Value) {
		if v.Scalar() < isoLevel {
			return
		}
		center := grid.Transform.CoordToWorld(c)
		for _, d := range faceDirs {
			if solid(c.Add(d)) {
				continue
			}
			addFace(geom, center, d, half)
		}
	})

	if geom.Empty() {
		return NewEmpty()
	}
	return geom
}

// addFace добавляет грань вокселя с центром center, смотрящую в сторону d
func addFace(g *Geometry, center mgl64.Vec3, d vec.Vec3, half float64) {
	n := d.ToFloat()
	axis := 0
	switch {
	case d.Y != 0:
		axis = 1
	case d.Z != 0:
		axis = 2
	}
	u, v := (axis+1)%3, (axis+2)%3

	var du, dv mgl64.Vec3
	du[u] = half
	dv[v] = half
	fc := center.Add(n.Mul(half))

	corners := [4]mgl64.Vec3{
		fc.Sub(du).Sub(dv),
		fc.Add(du).Sub(dv),
		fc.Add(du).Add(dv),
		fc.Sub(du).Add(dv),
	}
	// Для отрицательного направления обход разворачивается
	if d.X+d.Y+d.Z < 0 {
		corners[1], corners[3] = corners[3], corners[1]
	}

	var idx [4]uint32
	for i, p := range corners {
		idx[i] = g.addVertex(p, n)
	}
	if g.Primitive == Quads {
		g.Indices = append(g.Indices, idx[0], idx[1], idx[2], idx[3])
		return
	}
	g.Indices = append(g.Indices, idx[0], idx[1], idx[2], idx[0], idx[2], idx[3])
}
