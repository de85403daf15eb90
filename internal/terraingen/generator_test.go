package terraingen

import (
	"bytes"
	"math"
	"testing"

	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallOptions() Options {
	o := DefaultOptions()
	o.SizeX, o.SizeY = 16, 16
	o.BaseHeight = 24
	o.Amplitude = 4
	o.Depth = 8
	return o
}

func TestHeightIsDeterministic(t *testing.T) {
	a, err := New(smallOptions(), nil)
	require.NoError(t, err)
	b, err := New(smallOptions(), nil)
	require.NoError(t, err)

	for x := 0; x < 16; x += 3 {
		for y := 0; y < 16; y += 5 {
			assert.Equal(t, a.Height(x, y), b.Height(x, y))
		}
	}
}

func TestGenerateColumns(t *testing.T) {
	opts := smallOptions()
	g, err := New(opts, nil)
	require.NoError(t, err)

	store := g.Generate()
	require.Equal(t, 1, store.Len())
	grid := store.Primary()
	require.NotNil(t, grid)
	assert.Equal(t, volume.KindFloat, grid.Kind())
	assert.Positive(t, grid.ActiveCount())

	minZ := int(math.Floor(opts.BaseHeight-opts.Amplitude)) - opts.Depth
	for _, xy := range [][2]int{{0, 0}, {7, 3}, {15, 15}} {
		h := g.Height(xy[0], xy[1])
		top := int(math.Floor(h))

		bottom := grid.Read(vec.Vec3{X: xy[0], Y: xy[1], Z: minZ})
		assert.Equal(t, volume.FloatValue(1), bottom)

		surface := grid.Read(vec.Vec3{X: xy[0], Y: xy[1], Z: top}).Float
		assert.GreaterOrEqual(t, surface, float32(0))
		assert.LessOrEqual(t, surface, float32(1))

		assert.False(t, grid.IsActive(vec.Vec3{X: xy[0], Y: xy[1], Z: top + 1}))
		assert.False(t, grid.IsActive(vec.Vec3{X: xy[0], Y: xy[1], Z: minZ - 1}))
	}
}

func TestGenerateOccupancy(t *testing.T) {
	opts := smallOptions()
	opts.Occupancy = true
	g, err := New(opts, nil)
	require.NoError(t, err)

	store := g.Generate()
	require.Equal(t, 2, store.Len())
	occ, ok := store.Get(1)
	require.True(t, ok)
	assert.Equal(t, volume.KindBool, occ.Kind())

	density := store.Primary()
	occ.ForEachActive(func(c vec.Vec3, v volume.Value) {
		assert.True(t, v.Bool)
		assert.GreaterOrEqual(t, density.Read(c).Float, float32(0.5))
	})
}

func TestCavesRemoveVoxels(t *testing.T) {
	solid := smallOptions()
	holed := smallOptions()
	holed.Caves = true
	holed.CaveCutoff = 0.5

	a, err := New(solid, nil)
	require.NoError(t, err)
	b, err := New(holed, nil)
	require.NoError(t, err)

	assert.LessOrEqual(t, b.Generate().Primary().ActiveCount(), a.Generate().Primary().ActiveCount())
}

func TestEncodeDecodes(t *testing.T) {
	g, err := New(smallOptions(), nil)
	require.NoError(t, err)

	data, err := g.Encode()
	require.NoError(t, err)

	store, err := volume.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, g.Generate().Primary().ActiveCount(), store.Primary().ActiveCount())
}

func TestInvalidOptions(t *testing.T) {
	cases := map[string]func(*Options){
		"size":      func(o *Options) { o.SizeX = 0 },
		"depth":     func(o *Options) { o.Depth = -1 },
		"amplitude": func(o *Options) { o.Amplitude = -1 },
		"frequency": func(o *Options) { o.Frequency = 0 },
		"cutoff":    func(o *Options) { o.Caves = true; o.CaveCutoff = 1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			o := smallOptions()
			mutate(&o)
			_, err := New(o, nil)
			assert.ErrorIs(t, err, ErrInvalidOptions)
		})
	}
}
