package navgraph

import "math"

// Направления соседей в пространстве графа.
//
//	7  0  4        Z
//	 \ | /         ^
//	3 -+- 1        |
//	 / | \         +---> X
//	6  2  5
//
// 0..3 - по осям, 4..7 - диагонали. Диагональ d лежит между осями d-4 и (d-3)&3.
const (
	DirNorth = iota
	DirEast
	DirSouth
	DirWest
	DirNorthEast
	DirSouthEast
	DirSouthWest
	DirNorthWest
)

// NoDirection - попадание в стартовой клетке, направления нет
const NoDirection = -1

var (
	neighbourXOffsets = [8]int{0, 1, 0, -1, 1, 1, -1, -1}
	neighbourZOffsets = [8]int{1, 0, -1, 0, 1, -1, -1, 1}
)

// hexagonDirections - подмножество направлений для гексагональной сетки
var hexagonDirections = [6]int{0, 1, 5, 2, 3, 7}

// CostPrecision - масштаб целочисленной стоимости ребра (1 мировая единица = 1000)
const CostPrecision = 1000

// DirectionOffset возвращает смещение клетки для направления
func DirectionOffset(dir int) (dx, dz int) {
	return neighbourXOffsets[dir], neighbourZOffsets[dir]
}

// OppositeDirection возвращает противоположное направление
func OppositeDirection(dir int) int {
	if dir < 4 {
		return (dir + 2) & 3
	}
	return ((dir-4+2)&3 + 4)
}

// NeighbourMode - сколько соседей рассматривается: 4, 6 или 8
type NeighbourMode int

const (
	NeighboursFour  NeighbourMode = 4
	NeighboursSix   NeighbourMode = 6
	NeighboursEight NeighbourMode = 8
)

// Valid проверяет, что режим поддерживается
func (m NeighbourMode) Valid() bool {
	return m == NeighboursFour || m == NeighboursSix || m == NeighboursEight
}

// DirectionMask - битовая маска направлений, разрешённых режимом
func (m NeighbourMode) DirectionMask() uint8 {
	switch m {
	case NeighboursFour:
		return 0x0F
	case NeighboursSix:
		var mask uint8
		for _, d := range hexagonDirections {
			mask |= 1 << d
		}
		return mask
	default:
		return 0xFF
	}
}

// erosionDirections - направления режима, по которым проверяется "полнота" клетки при эрозии
func (m NeighbourMode) erosionDirections() []int {
	mask := m.DirectionMask()
	dirs := make([]int, 0, 8)
	for dir := 0; dir < 8; dir++ {
		if mask&(1<<dir) != 0 {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// HexagonWidth - ширина гексагона, соответствующая размеру клетки
func HexagonWidth(nodeSize float64) float64 {
	return nodeSize * math.Sqrt(2.0/3.0)
}

// DirectionCosts строит таблицу стоимостей рёбер по направлениям
func DirectionCosts(mode NeighbourMode, nodeSize float64, uniformEdgeCosts bool) [8]uint32 {
	nodeWidth := nodeSize
	if mode == NeighboursSix {
		nodeWidth = HexagonWidth(nodeSize)
	}

	straight := uint32(math.Round(nodeWidth * CostPrecision))
	diagonal := straight
	if !uniformEdgeCosts {
		diagonal = uint32(math.Round(nodeWidth * math.Sqrt2 * CostPrecision))
	}

	var costs [8]uint32
	for i := 0; i < 4; i++ {
		costs[i] = straight
	}
	for i := 4; i < 8; i++ {
		costs[i] = diagonal
	}
	return costs
}
