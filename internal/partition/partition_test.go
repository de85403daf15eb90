package partition

import (
	"testing"

	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		GridDimensions:    mgl64.Vec3{64, 64, 64},
		BlockDimensions:   mgl64.Vec3{32, 32, 32},
		CellDimensions:    mgl64.Vec3{8, 8, 8},
		StaticResolution:  vec.Splat(16),
		DynamicResolution: vec.Splat(8),
	}
}

func newTestPartitioner(t *testing.T) *Partitioner {
	t.Helper()
	p, err := BuildHierarchy(vec.EmptyAABB(), testOptions())
	require.NoError(t, err)
	return p
}

func TestBuildHierarchyLayout(t *testing.T) {
	p := newTestPartitioner(t)
	assert.Equal(t, vec.Splat(2), p.NumBlocks())
	assert.Equal(t, vec.Splat(4), p.CellsPerBlock())
	assert.Empty(t, p.Blocks(), "блоки создаются лениво")

	opts := testOptions()
	opts.CellDimensions = mgl64.Vec3{64, 8, 8}
	_, err := BuildHierarchy(vec.EmptyAABB(), opts)
	assert.ErrorIs(t, err, ErrInvalidLayout)

	opts = testOptions()
	opts.DynamicResolution = vec.Vec3{}
	_, err = BuildHierarchy(vec.EmptyAABB(), opts)
	assert.ErrorIs(t, err, ErrInvalidLayout)
}

func TestDomainFromExtent(t *testing.T) {
	opts := testOptions()
	opts.GridDimensions = mgl64.Vec3{}
	extent := vec.NewAABB(mgl64.Vec3{-10, -10, -10}, mgl64.Vec3{50, 10, 10})

	p, err := BuildHierarchy(extent, opts)
	require.NoError(t, err)
	assert.Equal(t, extent, p.Domain())
	assert.Equal(t, vec.Vec3{X: 2, Y: 1, Z: 1}, p.NumBlocks())

	empty, err := BuildHierarchy(vec.EmptyAABB(), opts)
	require.NoError(t, err)
	_, ok := empty.BlockAt(mgl64.Vec3{})
	assert.False(t, ok)
	assert.Nil(t, empty.LocateCells(vec.NewAABB(mgl64.Vec3{}, mgl64.Vec3{1, 1, 1})))
}

func TestBoundaryBelongsToLowerIndex(t *testing.T) {
	p := newTestPartitioner(t)

	b, ok := p.BlockAt(mgl64.Vec3{32, 0, 0})
	require.True(t, ok)
	assert.Equal(t, vec.Vec3{}, b.Index)

	b, ok = p.BlockAt(mgl64.Vec3{32.01, 0, 0})
	require.True(t, ok)
	assert.Equal(t, vec.Vec3{X: 1}, b.Index)

	b, ok = p.BlockAt(mgl64.Vec3{0, 0, 0})
	require.True(t, ok)
	assert.Equal(t, vec.Vec3{}, b.Index)

	c, ok := p.CellAt(mgl64.Vec3{8, 8, 8})
	require.True(t, ok)
	assert.Equal(t, vec.Vec3{}, c.Index)
	assert.Equal(t, Dynamic, c.Kind)

	c, ok = p.CellAt(mgl64.Vec3{8.5, 0, 0})
	require.True(t, ok)
	assert.Equal(t, vec.Vec3{X: 1}, c.Index)

	_, ok = p.BlockAt(mgl64.Vec3{64.5, 0, 0})
	assert.False(t, ok)
}

func TestLocateCellsAcrossBlocks(t *testing.T) {
	p := newTestPartitioner(t)
	cells := p.LocateCells(vec.NewAABB(mgl64.Vec3{30, 0, 0}, mgl64.Vec3{34, 1, 1}))
	require.Len(t, cells, 4)

	assert.Equal(t, Static, cells[0].Kind)
	assert.Equal(t, vec.Vec3{}, cells[0].Block.Index)
	assert.Equal(t, vec.Vec3{X: 3}, cells[1].Index)
	assert.Equal(t, Static, cells[2].Kind)
	assert.Equal(t, vec.Vec3{X: 1}, cells[2].Block.Index)
	assert.Equal(t, vec.Vec3{}, cells[3].Index)

	for i := 1; i < len(cells); i++ {
		assert.Less(t, cells[i-1].ID, cells[i].ID, "ID отражают порядок создания")
	}

	again := p.LocateCells(vec.NewAABB(mgl64.Vec3{30, 0, 0}, mgl64.Vec3{34, 1, 1}))
	assert.Equal(t, cells, again, "повторный запрос возвращает те же ячейки")

	assert.Nil(t, p.LocateCells(vec.NewAABB(mgl64.Vec3{100, 100, 100}, mgl64.Vec3{101, 101, 101})))
}

func TestCellBoundsClippedToBlock(t *testing.T) {
	opts := testOptions()
	opts.GridDimensions = mgl64.Vec3{40, 40, 40}
	p, err := BuildHierarchy(vec.EmptyAABB(), opts)
	require.NoError(t, err)

	b, ok := p.BlockAt(mgl64.Vec3{39, 39, 39})
	require.True(t, ok)
	assert.Equal(t, mgl64.Vec3{40, 40, 40}, b.Bounds.Max)

	c, ok := p.CellAt(mgl64.Vec3{39, 39, 39})
	require.True(t, ok)
	assert.Equal(t, mgl64.Vec3{32, 32, 32}, c.Bounds.Min)
	assert.Equal(t, mgl64.Vec3{40, 40, 40}, c.Bounds.Max)
}

func TestUpdateResidencyPagesByViewDistance(t *testing.T) {
	p := newTestPartitioner(t)

	r := p.UpdateResidency(mgl64.Vec3{0, 0, 0}, 40, 0)
	require.Len(t, r.PagedIn, 4)
	assert.Empty(t, r.Evicted)
	assert.Equal(t, vec.Vec3{}, r.PagedIn[0].Index)
	for _, b := range r.PagedIn {
		assert.True(t, b.Resident)
	}

	assert.True(t, p.UpdateResidency(mgl64.Vec3{1, 1, 1}, 40, 0).Empty(), "тот же блок наблюдателя")

	r = p.UpdateResidency(mgl64.Vec3{63, 63, 63}, 40, 0)
	assert.Len(t, r.PagedIn, 4)
	assert.Len(t, r.Evicted, 4)
	for _, b := range r.Evicted {
		assert.False(t, b.Resident)
	}
	last := r.PagedIn[len(r.PagedIn)-1]
	assert.Equal(t, vec.Splat(1), last.Index)
}

func TestUpdateResidencyAssignsLOD(t *testing.T) {
	p := newTestPartitioner(t)

	r := p.UpdateResidency(mgl64.Vec3{0, 0, 0}, 40, 1)
	require.Len(t, r.PagedIn, 4)
	near, _ := p.Block(vec.Vec3{})
	far, _ := p.Block(vec.Vec3{X: 1})
	assert.Equal(t, 0, near.LOD)
	assert.Equal(t, 1, far.LOD)
	assert.Equal(t, vec.Splat(16), near.Static.Res)
	assert.Equal(t, vec.Splat(8), far.Static.Res)

	p.InvalidateResidency()
	r = p.UpdateResidency(mgl64.Vec3{31, 0, 0}, 40, 1)
	assert.Contains(t, r.LODChanged, far)
}
