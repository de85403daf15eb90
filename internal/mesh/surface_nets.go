package mesh

import (
	"math"

	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/volume"
	"github.com/go-gl/mathgl/mgl64"
)

// Params - параметры извлечения изоповерхности
type Params struct {
	IsoLevel    float64
	Simplify    bool
	SampleRatio float64 // Доля отсчётов по каждой оси при Simplify, (0,1]
}

// SampleCounts возвращает число шагов решётки по осям
func (p Params) SampleCounts(res vec.Vec3) vec.Vec3 {
	if !p.Simplify || p.SampleRatio <= 0 || p.SampleRatio >= 1 {
		return res
	}
	scale := func(v int) int {
		n := int(math.Round(float64(v) * p.SampleRatio))
		if n < 2 {
			n = 2
		}
		return n
	}
	return vec.Vec3{X: scale(res.X), Y: scale(res.Y), Z: scale(res.Z)}
}

// Углы куба в порядке x + 2y + 4z
var cornerOffsets = [8][3]int{
	{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {1, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {0, 1, 1}, {1, 1, 1},
}

var cubeEdges = [12][2]int{
	{0, 1}, {2, 3}, {4, 5}, {6, 7},
	{0, 2}, {1, 3}, {4, 6}, {5, 7},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

// Regenerate строит изоповерхность грида внутри bounds методом surface nets.
// res - число шагов решётки по осям; решётка выходит на один шаг за
// верхнюю границу, чтобы соседние ячейки сшивались.
// Пустая или однородная область даёт пустую геометрию.
func Regenerate(grid *volume.Grid, bounds vec.AABB, res vec.Vec3, p Params) *Geometry {
	geom := NewEmpty()
	if grid == nil || bounds.IsEmpty() {
		return geom
	}

	steps := p.SampleCounts(res)
	size := bounds.Size()
	if steps.X < 1 || steps.Y < 1 || steps.Z < 1 || size[0] <= 0 || size[1] <= 0 || size[2] <= 0 {
		return geom
	}
	step := mgl64.Vec3{size[0] / float64(steps.X), size[1] / float64(steps.Y), size[2] / float64(steps.Z)}

	reach := math.Max(step[0], math.Max(step[1], step[2])) + grid.Transform.VoxelSize
	if !grid.HasDataIn(bounds.Grow(reach)) {
		return geom
	}

	n := [3]int{steps.X + 2, steps.Y + 2, steps.Z + 2}
	at := func(x, y, z int) int { return x + n[0]*(y+n[1]*z) }
	pos := func(x, y, z float64) mgl64.Vec3 {
		return mgl64.Vec3{
			bounds.Min[0] + x*step[0],
			bounds.Min[1] + y*step[1],
			bounds.Min[2] + z*step[2],
		}
	}

	// Знаковое поле: отрицательное внутри тела
	field := make([]float64, n[0]*n[1]*n[2])
	for z := 0; z < n[2]; z++ {
		for y := 0; y < n[1]; y++ {
			for x := 0; x < n[0]; x++ {
				field[at(x, y, z)] = p.IsoLevel - grid.Sample(pos(float64(x), float64(y), float64(z)))
			}
		}
	}

	c := [3]int{n[0] - 1, n[1] - 1, n[2] - 1}
	cubeAt := func(x, y, z int) int { return x + c[0]*(y+c[1]*z) }
	cubeVerts := make([]int64, c[0]*c[1]*c[2])

	h := 0.5 * math.Min(step[0], math.Min(step[1], step[2]))
	for z := 0; z < c[2]; z++ {
		for y := 0; y < c[1]; y++ {
			for x := 0; x < c[0]; x++ {
				ci := cubeAt(x, y, z)
				cubeVerts[ci] = -1

				var corners [8]float64
				mask := 0
				for i, o := range cornerOffsets {
					corners[i] = field[at(x+o[0], y+o[1], z+o[2])]
					if corners[i] < 0 {
						mask |= 1 << uint(i)
					}
				}
				if mask == 0 || mask == 0xff {
					continue
				}

				// Вершина - среднее точек пересечения рёбер
				var sum mgl64.Vec3
				crossings := 0
				for _, e := range cubeEdges {
					a, b := corners[e[0]], corners[e[1]]
					if (a < 0) == (b < 0) {
						continue
					}
					t := a / (a - b)
					oa, ob := cornerOffsets[e[0]], cornerOffsets[e[1]]
					sum = sum.Add(mgl64.Vec3{
						float64(oa[0]) + t*float64(ob[0]-oa[0]),
						float64(oa[1]) + t*float64(ob[1]-oa[1]),
						float64(oa[2]) + t*float64(ob[2]-oa[2]),
					})
					crossings++
				}
				local := sum.Mul(1 / float64(crossings))
				world := pos(float64(x)+local[0], float64(y)+local[1], float64(z)+local[2])
				cubeVerts[ci] = int64(geom.addVertex(world, gradientNormal(grid, world, h)))
			}
		}
	}

	// Квад на каждое ребро решётки со сменой знака
	for z := 0; z < n[2]; z++ {
		for y := 0; y < n[1]; y++ {
			for x := 0; x < n[0]; x++ {
				pt := [3]int{x, y, z}
				for axis := 0; axis < 3; axis++ {
					u, v := (axis+1)%3, (axis+2)%3
					if pt[axis] >= c[axis] || pt[u] < 1 || pt[u] >= c[u] || pt[v] < 1 || pt[v] >= c[v] {
						continue
					}
					next := pt
					next[axis]++
					a := field[at(pt[0], pt[1], pt[2])]
					b := field[at(next[0], next[1], next[2])]
					if (a < 0) == (b < 0) {
						continue
					}

					cube := func(du, dv int) int64 {
						q := pt
						q[u] -= du
						q[v] -= dv
						return cubeVerts[cubeAt(q[0], q[1], q[2])]
					}
					v0, v1, v2, v3 := cube(1, 1), cube(0, 1), cube(0, 0), cube(1, 0)
					if v0 < 0 || v1 < 0 || v2 < 0 || v3 < 0 {
						continue
					}
					if a < 0 {
						geom.Indices = append(geom.Indices,
							uint32(v0), uint32(v1), uint32(v2),
							uint32(v0), uint32(v2), uint32(v3))
					} else {
						geom.Indices = append(geom.Indices,
							uint32(v0), uint32(v2), uint32(v1),
							uint32(v0), uint32(v3), uint32(v2))
					}
				}
			}
		}
	}

	if len(geom.Indices) == 0 {
		return NewEmpty()
	}
	return geom
}

// gradientNormal - нормаль по центральным разностям, направлена наружу
func gradientNormal(grid *volume.Grid, p mgl64.Vec3, h float64) mgl64.Vec3 {
	d := func(axis int) float64 {
		var e mgl64.Vec3
		e[axis] = h
		return grid.Sample(p.Sub(e)) - grid.Sample(p.Add(e))
	}
	n := mgl64.Vec3{d(0), d(1), d(2)}
	if l := n.Len(); l > 0 {
		return n.Mul(1 / l)
	}
	return mgl64.Vec3{0, 0, 1}
}
