package terrain

import (
	"fmt"
	"time"

	"github.com/annel0/voxel-terrain/internal/config"
	"github.com/annel0/voxel-terrain/internal/mesh"
	"github.com/annel0/voxel-terrain/internal/partition"
	"github.com/annel0/voxel-terrain/internal/scheduler"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/go-gl/mathgl/mgl64"
)

// UpdatePolicy - принимает ли локальный актор обновления от других участников
type UpdatePolicy uint8

const (
	AcceptAll UpdatePolicy = iota
	IgnoreAll
)

func (p UpdatePolicy) String() string {
	if p == IgnoreAll {
		return config.PolicyIgnoreAll
	}
	return config.PolicyAcceptAll
}

// Options - параметры актора террейна
type Options struct {
	Database string

	ViewDistance float64
	NumLODs      int
	Mesh         mesh.Params

	Partition  partition.Options
	Policy     scheduler.Policy
	Background bool
	Workers    int

	TesselationMode     mesh.TesselationMode
	CreateRemotePhysics bool
	Remote              bool
	LocalUpdatePolicy   UpdatePolicy

	CompressThreshold int // Порог сжатия событий шины
}

// OptionsFromConfig переводит секцию terrain конфигурации в Options
func OptionsFromConfig(tc config.TerrainConfig, bc config.BusConfig) (Options, error) {
	mode, err := mesh.ParseTesselationMode(tc.PhysicsTesselationMode)
	if err != nil {
		return Options{}, fmt.Errorf("ошибка разбора physics_tesselation_mode: %w", err)
	}
	force := tc.ForceAfterSkippedTicks
	policy := AcceptAll
	if tc.LocalUpdatePolicy == config.PolicyIgnoreAll {
		policy = IgnoreAll
	}

	return Options{
		Database:     tc.Database,
		ViewDistance: tc.ViewDistance,
		NumLODs:      tc.NumLODs,
		Mesh: mesh.Params{
			IsoLevel:    tc.IsoLevel,
			Simplify:    tc.Simplify,
			SampleRatio: tc.SampleRatio,
		},
		Partition: partition.Options{
			Offset:            mgl64.Vec3(tc.Offset),
			GridDimensions:    mgl64.Vec3(tc.GridDimensions),
			BlockDimensions:   mgl64.Vec3(tc.BlockDimensions),
			CellDimensions:    mgl64.Vec3(tc.CellDimensions),
			StaticResolution:  ivec(tc.StaticResolution),
			DynamicResolution: ivec(tc.DynamicResolution),
		},
		Policy: scheduler.Policy{
			MaxCellsPerFrame:       tc.MaxCellsPerFrame,
			MinCellsPerFrame:       tc.MinCellsPerFrame,
			ForceAfterSkippedTicks: &force,
		},
		Background:          tc.UpdateOnBackgroundThread,
		Workers:             tc.BackgroundWorkers,
		TesselationMode:     mode,
		CreateRemotePhysics: tc.CreateRemotePhysics,
		Remote:              tc.Remote,
		LocalUpdatePolicy:   policy,
		CompressThreshold:   bc.CompressThreshold,
	}, nil
}

func ivec(v config.IVec3) vec.Vec3 {
	return vec.Vec3{X: v[0], Y: v[1], Z: v[2]}
}

// TickInfo - данные одного шага симуляции
type TickInfo struct {
	Delta          time.Duration // Номинальная длительность тика
	SimTime        time.Duration // Время симуляции этого тика
	CorrectSimTime time.Duration // Время, на котором симуляция должна быть
	Viewer         mgl64.Vec3
}

// Lag - отставание симуляции, не меньше нуля
func (ti TickInfo) Lag() time.Duration {
	if d := ti.CorrectSimTime - ti.SimTime; d > 0 {
		return d
	}
	return 0
}
