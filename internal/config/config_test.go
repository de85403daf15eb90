package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadWithoutPathReturnsDefault(t *testing.T) {
	t.Setenv("VOXEL_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "terrain.yaml")
	yml := `
terrain:
  database: worlds/hills.vxdb
  max_cells_per_frame: 20
  min_cells_per_frame: 4
  cell_dimensions: [8, 8, 8]
  local_update_policy: ignore_all
bus:
  kind: jetstream
  url: nats://127.0.0.1:4222
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("VOXEL_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "worlds/hills.vxdb", cfg.Terrain.Database)
	assert.Equal(t, 20, cfg.Terrain.MaxCellsPerFrame)
	assert.Equal(t, Vec3{8, 8, 8}, cfg.Terrain.CellDimensions)
	assert.Equal(t, Vec3{64, 64, 64}, cfg.Terrain.BlockDimensions, "не заданное в файле остаётся по умолчанию")
	assert.Equal(t, PolicyIgnoreAll, cfg.Terrain.LocalUpdatePolicy)
	assert.Equal(t, BusJetStream, cfg.Bus.Kind)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"sample ratio": func(c *Config) { c.Terrain.SampleRatio = 1.5 },
		"lods":         func(c *Config) { c.Terrain.NumLODs = 4 },
		"cell > block": func(c *Config) { c.Terrain.CellDimensions = Vec3{128, 16, 16} },
		"resolution":   func(c *Config) { c.Terrain.DynamicResolution = IVec3{0, 16, 16} },
		"policy":       func(c *Config) { c.Terrain.LocalUpdatePolicy = "maybe" },
		"bus":          func(c *Config) { c.Bus.Kind = "kafka" },
		"tick":         func(c *Config) { c.Simulation.TickMillis = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(c)
			assert.ErrorIs(t, c.Validate(), ErrInvalid)
		})
	}
}

func TestMinAboveMaxIsAllowed(t *testing.T) {
	c := Default()
	c.Terrain.MinCellsPerFrame = 50
	assert.NoError(t, c.Validate())
}

func TestRESTPortFallback(t *testing.T) {
	s := ServerConfig{}
	t.Setenv("VOXEL_REST_PORT", "")
	assert.Equal(t, 8088, s.GetRESTPort())

	t.Setenv("VOXEL_REST_PORT", "9000")
	assert.Equal(t, 9000, s.GetRESTPort())

	s.RESTPort = 7000
	assert.Equal(t, 7000, s.GetRESTPort())
}
