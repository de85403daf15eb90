// Package terraingen генерирует базы террейна из шума Перлина.
package terraingen

import (
	"errors"
	"fmt"
	"math"

	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/volume"
	"github.com/aquilax/go-perlin"
	"github.com/go-gl/mathgl/mgl64"
)

// ErrInvalidOptions возвращается при некорректных параметрах генерации
var ErrInvalidOptions = errors.New("некорректные параметры генерации")

// Options параметры генератора. Ось Z направлена вверх.
type Options struct {
	Seed       int64
	SizeX      int     // Ширина карты в вокселях
	SizeY      int     // Глубина карты в вокселях
	Depth      int     // Толщина каменной подложки ниже BaseHeight
	BaseHeight float64 // Средняя высота поверхности
	Amplitude  float64 // Размах холмов
	Frequency  float64 // Частота шума на воксель
	Caves      bool
	CaveScale  float64 // Частота 3D шума пещер
	CaveCutoff float64 // Порог шума, выше которого воксель пустой, (0,1)
	VoxelSize  float64
	Offset     mgl64.Vec3
	Name       string // Имя грида
	Occupancy  bool   // Добавить логический грид занятости вторым
}

// DefaultOptions - холмистая карта 128x128
func DefaultOptions() Options {
	return Options{
		Seed:       1,
		SizeX:      128,
		SizeY:      128,
		Depth:      8,
		BaseHeight: 24,
		Amplitude:  12,
		Frequency:  1.0 / 48,
		CaveScale:  1.0 / 16,
		CaveCutoff: 0.72,
		VoxelSize:  1,
		Name:       "density",
	}
}

func (o Options) validate() error {
	var errs []error
	if o.SizeX <= 0 || o.SizeY <= 0 {
		errs = append(errs, fmt.Errorf("размер карты %dx%d", o.SizeX, o.SizeY))
	}
	if o.Depth < 0 {
		errs = append(errs, fmt.Errorf("depth %d < 0", o.Depth))
	}
	if o.Amplitude < 0 {
		errs = append(errs, fmt.Errorf("amplitude %g < 0", o.Amplitude))
	}
	if o.Frequency <= 0 {
		errs = append(errs, fmt.Errorf("frequency %g <= 0", o.Frequency))
	}
	if o.Caves && (o.CaveCutoff <= 0 || o.CaveCutoff >= 1) {
		errs = append(errs, fmt.Errorf("cave_cutoff %g вне (0,1)", o.CaveCutoff))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, errors.Join(errs...))
	}
	return nil
}

// Generator строит плотностной грид по карте высот
type Generator struct {
	opts  Options
	noise *perlin.Perlin
	log   logging.Interface
}

// New создаёт генератор
func New(opts Options, log logging.Interface) (*Generator, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.VoxelSize <= 0 {
		opts.VoxelSize = 1
	}
	if opts.Name == "" {
		opts.Name = "density"
	}
	alpha := 2.0  // Сглаживание шума
	beta := 2.0   // Частота шума
	n := int32(3) // Количество октав
	return &Generator{
		opts:  opts,
		noise: perlin.NewPerlin(alpha, beta, n, opts.Seed),
		log:   logging.OrNop(log),
	}, nil
}

// Height возвращает высоту поверхности в колонке (x, y), в вокселях
func (g *Generator) Height(x, y int) float64 {
	n := g.noise.Noise2D(float64(x)*g.opts.Frequency, float64(y)*g.opts.Frequency)
	// Noise2D примерно в [-1,1]
	return g.opts.BaseHeight + n*g.opts.Amplitude
}

// cave сообщает, вырезана ли пещера в вокселе
func (g *Generator) cave(x, y, z int) bool {
	s := g.opts.CaveScale
	n := (g.noise.Noise3D(float64(x)*s, float64(y)*s, float64(z)*s) + 1) / 2
	return n > g.opts.CaveCutoff
}

// Generate строит хранилище. Плотность 1 под поверхностью, дробная
// в приповерхностном вокселе, фон 0 над ней.
func (g *Generator) Generate() *volume.Store {
	xf := volume.Transform{VoxelSize: g.opts.VoxelSize, Offset: g.opts.Offset}
	density := volume.NewFloatGrid(g.opts.Name, 0, xf)

	var occupancy *volume.Grid
	if g.opts.Occupancy {
		occupancy = volume.NewBoolGrid(g.opts.Name+"_occupancy", false, xf)
	}

	minZ := int(math.Floor(g.opts.BaseHeight-g.opts.Amplitude)) - g.opts.Depth
	for x := 0; x < g.opts.SizeX; x++ {
		for y := 0; y < g.opts.SizeY; y++ {
			h := g.Height(x, y)
			top := int(math.Floor(h))
			for z := minZ; z <= top; z++ {
				if g.opts.Caves && z > minZ && z < top-1 && g.cave(x, y, z) {
					continue
				}
				c := vec.Vec3{X: x, Y: y, Z: z}
				d := float32(1)
				if z == top {
					d = float32(clamp01(0.5 + h - float64(top)))
				}
				_ = density.Write(c, volume.FloatValue(d))
				if occupancy != nil && d >= 0.5 {
					_ = occupancy.Write(c, volume.BoolValue(true))
				}
			}
		}
	}

	store := volume.NewStore(g.log, density)
	if occupancy != nil {
		store.Add(occupancy)
	}
	g.log.Infof("Сгенерирован террейн %dx%d seed=%d: %d активных вокселей",
		g.opts.SizeX, g.opts.SizeY, g.opts.Seed, density.ActiveCount())
	return store
}

// Encode генерирует и сериализует базу в формат .vxdb
func (g *Generator) Encode() ([]byte, error) {
	data, err := volume.EncodeBytes(g.Generate())
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации террейна: %w", err)
	}
	return data, nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
