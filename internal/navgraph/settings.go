package navgraph

import (
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/cespare/xxhash/v2"
	"google.golang.org/protobuf/encoding/protowire"
)

// CollisionSettings - параметры проверки препятствий вокруг клетки.
// Диаметр задаётся в клетках и влияет на расширение области пересчёта.
type CollisionSettings struct {
	Enabled  bool    `yaml:"enabled" json:"enabled"`
	Diameter float64 `yaml:"diameter" json:"diameter"`
}

// Settings - правила построения графа поверх раскладки
type Settings struct {
	Neighbours       NeighbourMode `yaml:"neighbours" json:"neighbours"`
	CutCorners       bool          `yaml:"cut_corners" json:"cut_corners"`
	UniformEdgeCosts bool          `yaml:"uniform_edge_costs" json:"uniform_edge_costs"`

	// MaxStepHeight <= 0 отключает проверку перепада высот
	MaxStepHeight    float64 `yaml:"max_step_height" json:"max_step_height"`
	MaxStepUsesSlope bool    `yaml:"max_step_uses_slope" json:"max_step_uses_slope"`
	// MaxSlope - максимальный угол нормали к "верху" сетки в градусах; 90 отключает проверку
	MaxSlope float64 `yaml:"max_slope" json:"max_slope"`

	ErosionIterations int    `yaml:"erosion_iterations" json:"erosion_iterations"`
	ErosionUseTags    bool   `yaml:"erosion_use_tags" json:"erosion_use_tags"`
	ErosionFirstTag   uint8  `yaml:"erosion_first_tag" json:"erosion_first_tag"`
	TagPrecedenceMask uint32 `yaml:"erosion_tag_precedence_mask" json:"erosion_tag_precedence_mask"`

	Collision      CollisionSettings `yaml:"collision" json:"collision"`
	InitialPenalty uint32            `yaml:"initial_penalty" json:"initial_penalty"`

	// UpdateWorkers - сколько запросов одной волны готовятся параллельно
	UpdateWorkers int `yaml:"update_workers" json:"update_workers"`
	// SampleChunkSize - сторона квадрата, которым режется полное сканирование
	SampleChunkSize int `yaml:"sample_chunk_size" json:"sample_chunk_size"`
	// SampleTimeout ограничивает один вызов семплера (0 - без ограничения)
	SampleTimeout time.Duration `yaml:"sample_timeout" json:"sample_timeout"`
}

// MaxTag - наибольшее значение тега клетки
const MaxTag = 31

// DefaultSettings возвращает настройки по умолчанию (8 соседей, срезание углов)
func DefaultSettings() Settings {
	return Settings{
		Neighbours:        NeighboursEight,
		CutCorners:        true,
		MaxStepHeight:     0.4,
		MaxStepUsesSlope:  true,
		MaxSlope:          90,
		ErosionFirstTag:   1,
		TagPrecedenceMask: 0xFFFFFFFF,
		UpdateWorkers:     runtime.NumCPU(),
		SampleChunkSize:   64,
	}
}

// Validate проверяет настройки и заполняет нулевые служебные поля
func (s *Settings) Validate() error {
	if !s.Neighbours.Valid() {
		return fmt.Errorf("%w: neighbours must be 4, 6 or 8, got %d", ErrInvalidSettings, s.Neighbours)
	}
	if s.ErosionIterations < 0 {
		return fmt.Errorf("%w: erosion iterations %d", ErrInvalidSettings, s.ErosionIterations)
	}
	if s.ErosionUseTags && s.ErosionIterations > 0 {
		if int(s.ErosionFirstTag)+s.ErosionIterations-1 > MaxTag {
			return fmt.Errorf("%w: erosion tags %d..%d exceed %d", ErrInvalidSettings,
				s.ErosionFirstTag, int(s.ErosionFirstTag)+s.ErosionIterations-1, MaxTag)
		}
		if s.ErosionFirstTag == 0 {
			return fmt.Errorf("%w: erosion first tag must not be the base tag 0", ErrInvalidSettings)
		}
	}
	if s.MaxSlope < 0 || s.MaxSlope > 90 {
		return fmt.Errorf("%w: max slope %v", ErrInvalidSettings, s.MaxSlope)
	}
	if s.Collision.Diameter < 0 {
		return fmt.Errorf("%w: collision diameter %v", ErrInvalidSettings, s.Collision.Diameter)
	}
	if s.UpdateWorkers <= 0 {
		s.UpdateWorkers = runtime.NumCPU()
	}
	if s.SampleChunkSize <= 0 {
		s.SampleChunkSize = 64
	}
	return nil
}

// Fingerprint - хэш настроек, от которых зависят соединения и эрозия клеток.
// Проходимость и штрафы задаются при семплировании и в него не входят.
func (s Settings) Fingerprint() uint64 {
	flag := func(v bool) uint64 {
		if v {
			return 1
		}
		return 0
	}
	b := make([]byte, 0, 64)
	b = protowire.AppendVarint(b, uint64(s.Neighbours))
	b = protowire.AppendVarint(b, flag(s.CutCorners))
	b = protowire.AppendVarint(b, flag(s.UniformEdgeCosts))
	b = protowire.AppendFixed64(b, math.Float64bits(max(s.MaxStepHeight, 0)))
	b = protowire.AppendVarint(b, flag(s.MaxStepUsesSlope))
	b = protowire.AppendVarint(b, uint64(s.ErosionIterations))
	if s.ErosionIterations > 0 && s.ErosionUseTags {
		b = protowire.AppendVarint(b, uint64(s.ErosionFirstTag))
		b = protowire.AppendVarint(b, uint64(s.TagPrecedenceMask))
	}
	return xxhash.Sum64(b)
}

// erosionMargin - на сколько клеток эрозия может "дотянуться" до соседей
func (s Settings) erosionMargin() int {
	return s.ErosionIterations + 1
}

// collisionMargin - расширение грязного прямоугольника из-за проверки коллизий
func (s Settings) collisionMargin() int {
	if !s.Collision.Enabled {
		return 0
	}
	return int(math.Ceil(s.Collision.Diameter/2 + 0.5))
}

func (s Settings) isErosionTag(tag uint8) bool {
	return s.ErosionUseTags && s.ErosionIterations > 0 &&
		tag >= s.ErosionFirstTag && int(tag) < int(s.ErosionFirstTag)+s.ErosionIterations
}
