package vec

import (
	"fmt"
	"math"
)

// Vec2 представляет целочисленные 2D координаты (клетка графа: X, Y == Z в мире)
type Vec2 struct {
	X, Y int
}

// Add складывает два вектора
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Y: v.Y + other.Y}
}

// Sub вычитает вектор
func (v Vec2) Sub(other Vec2) Vec2 {
	return Vec2{X: v.X - other.X, Y: v.Y - other.Y}
}

// ManhattanTo возвращает манхэттенское расстояние до другой точки
func (v Vec2) ManhattanTo(other Vec2) int {
	return absInt(v.X-other.X) + absInt(v.Y-other.Y)
}

// DistanceTo вычисляет расстояние до другой точки
func (v Vec2) DistanceTo(other Vec2) float64 {
	dx := float64(v.X - other.X)
	dy := float64(v.Y - other.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

func (v Vec2) String() string {
	return fmt.Sprintf("(%d,%d)", v.X, v.Y)
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
