package sampler

import (
	"context"
	"fmt"

	"github.com/aquilax/go-perlin"

	"github.com/annel0/navgraph/internal/navgraph"
	"github.com/annel0/navgraph/internal/vec"
)

// TerrainConfig - параметры рельефа
type TerrainConfig struct {
	Seed int64 `yaml:"seed" json:"seed"`
	// Scale - сколько мировых единиц приходится на один период шума
	Scale     float64 `yaml:"scale" json:"scale"`
	Amplitude float64 `yaml:"amplitude" json:"amplitude"`
	// WaterLevel - клетки ниже этой высоты непроходимы
	WaterLevel float64 `yaml:"water_level" json:"water_level"`
	// SteepPenalty - штраф на единицу наклона (|grad h|)
	SteepPenalty float64 `yaml:"steep_penalty" json:"steep_penalty"`
}

// DefaultTerrainConfig возвращает пологие холмы без воды
func DefaultTerrainConfig() TerrainConfig {
	return TerrainConfig{Seed: 1, Scale: 32, Amplitude: 4, WaterLevel: -1}
}

// Terrain - рельеф по шуму Перлина
type Terrain struct {
	cfg   TerrainConfig
	noise *perlin.Perlin
}

// NewTerrain создаёт рельеф с указанным сидом
func NewTerrain(cfg TerrainConfig) (*Terrain, error) {
	if !(cfg.Scale > 0) {
		return nil, fmt.Errorf("terrain: scale must be positive, got %v", cfg.Scale)
	}
	alpha := 2.0  // Сглаживание шума
	beta := 2.0   // Частота шума
	n := int32(3) // Количество октав
	return &Terrain{cfg: cfg, noise: perlin.NewPerlin(alpha, beta, n, cfg.Seed)}, nil
}

// HeightAt возвращает мировую высоту рельефа в точке (x, z) в диапазоне [0, Amplitude]
func (t *Terrain) HeightAt(x, z float64) float64 {
	// Шум в диапазоне от -1 до 1, переводим в 0..1
	v := (t.noise.Noise2D(x/t.cfg.Scale, z/t.cfg.Scale) + 1) / 2
	return v * t.cfg.Amplitude
}

// NormalAt оценивает нормаль центральными разностями с шагом h
func (t *Terrain) NormalAt(x, z, h float64) vec.Vec3Float {
	dx := (t.HeightAt(x+h, z) - t.HeightAt(x-h, z)) / (2 * h)
	dz := (t.HeightAt(x, z+h) - t.HeightAt(x, z-h)) / (2 * h)
	return vec.Vec3Float{X: -dx, Y: 1, Z: -dz}.Normalized()
}

// Sample реализует navgraph.Sampler
func (t *Terrain) Sample(ctx context.Context, rect navgraph.IntRect, tr navgraph.GridTransform) ([]navgraph.Sample, error) {
	out := make([]navgraph.Sample, 0, rect.Area())
	// Шаг разностей - половина клетки в мировых единицах
	step := tr.TransformVector(vec.Vec3Float{X: 0.5}).Length()
	for z := rect.ZMin; z <= rect.ZMax; z++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := rect.XMin; x <= rect.XMax; x++ {
			c := tr.NodeCenter(x, z, 0)
			h := t.HeightAt(c.X, c.Z)
			normal := t.NormalAt(c.X, c.Z, step)

			world := vec.Vec3Float{X: c.X, Y: h, Z: c.Z}
			s := navgraph.Sample{
				Height:   tr.InverseTransform(world).Y,
				Normal:   normal,
				Walkable: h >= t.cfg.WaterLevel,
			}
			if t.cfg.SteepPenalty > 0 && normal.Y > 0 {
				grad := vec.Vec3Float{X: normal.X, Z: normal.Z}.Length() / normal.Y
				s.Penalty = uint32(grad * t.cfg.SteepPenalty)
			}
			out = append(out, s)
		}
	}
	return out, nil
}
