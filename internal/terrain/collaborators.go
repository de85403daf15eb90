package terrain

import (
	"github.com/annel0/voxel-terrain/internal/mesh"
	"github.com/annel0/voxel-terrain/internal/partition"
)

// SceneNode принимает геометрию ячеек для отображения.
// Как совмещать статическую и динамические ячейки блока, решает реализация.
type SceneNode interface {
	AttachCell(c *partition.Cell, g *mesh.Geometry)
	DetachBlock(b *partition.Block)
	Reset()
}

// PhysicsBuilder строит физическое тело из геометрии грида.
// Сам актор столкновения не считает.
type PhysicsBuilder interface {
	Build(gridIndex int, g *mesh.Geometry, mode mesh.TesselationMode) error
	Cleanup(gridIndex int)
}

type nopScene struct{}

func (nopScene) AttachCell(*partition.Cell, *mesh.Geometry) {}
func (nopScene) DetachBlock(*partition.Block)               {}
func (nopScene) Reset()                                     {}
