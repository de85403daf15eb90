package terrain

import (
	"github.com/annel0/voxel-terrain/internal/mesh"
)

// InitializePhysics передаёт физике геометрию грида 0. Удалённый актор
// строит физику только при CreateRemotePhysics.
func (t *Terrain) InitializePhysics() {
	if t.physics == nil || t.physicsActive {
		return
	}
	if t.opts.Remote && !t.opts.CreateRemotePhysics {
		return
	}
	grid := t.store.Primary()
	if grid == nil {
		return
	}

	geom := mesh.BuildPhysicsGeometry(grid, grid.WorldBounds(), t.opts.TesselationMode, t.opts.Mesh.IsoLevel)
	if err := t.physics.Build(0, geom, t.opts.TesselationMode); err != nil {
		t.log.Errorf("Ошибка построения физики грида %q: %v", grid.Name, err)
		return
	}
	t.physicsActive = true
	t.log.Debugf("Физика грида %q: %d примитивов (%s)", grid.Name, geom.PrimitiveCount(), t.opts.TesselationMode)
}

// CleanupPhysics освобождает физическое тело
func (t *Terrain) CleanupPhysics() {
	if t.physics == nil || !t.physicsActive {
		return
	}
	t.physics.Cleanup(0)
	t.physicsActive = false
}
