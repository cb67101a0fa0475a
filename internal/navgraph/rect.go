package navgraph

import "fmt"

// IntRect - прямоугольник клеток с включительными границами.
// XMin > XMax (или ZMin > ZMax) означает пустой прямоугольник.
type IntRect struct {
	XMin int `json:"xmin" yaml:"xmin"`
	ZMin int `json:"zmin" yaml:"zmin"`
	XMax int `json:"xmax" yaml:"xmax"`
	ZMax int `json:"zmax" yaml:"zmax"`
}

// NewIntRect создаёт прямоугольник по включительным границам
func NewIntRect(xmin, zmin, xmax, zmax int) IntRect {
	return IntRect{XMin: xmin, ZMin: zmin, XMax: xmax, ZMax: zmax}
}

// EmptyRect - каноничный пустой прямоугольник
var EmptyRect = IntRect{XMin: 0, ZMin: 0, XMax: -1, ZMax: -1}

// IsValid возвращает true, если прямоугольник содержит хотя бы одну клетку
func (r IntRect) IsValid() bool {
	return r.XMin <= r.XMax && r.ZMin <= r.ZMax
}

// Width - число клеток по X
func (r IntRect) Width() int {
	if !r.IsValid() {
		return 0
	}
	return r.XMax - r.XMin + 1
}

// Height - число клеток по Z
func (r IntRect) Height() int {
	if !r.IsValid() {
		return 0
	}
	return r.ZMax - r.ZMin + 1
}

// Area - число клеток
func (r IntRect) Area() int {
	return r.Width() * r.Height()
}

// Contains проверяет, лежит ли клетка внутри
func (r IntRect) Contains(x, z int) bool {
	return x >= r.XMin && x <= r.XMax && z >= r.ZMin && z <= r.ZMax
}

// ContainsRect проверяет вложенность. Пустой прямоугольник содержится в любом.
func (r IntRect) ContainsRect(o IntRect) bool {
	if !o.IsValid() {
		return true
	}
	return r.IsValid() && o.XMin >= r.XMin && o.XMax <= r.XMax && o.ZMin >= r.ZMin && o.ZMax <= r.ZMax
}

// Expand расширяет прямоугольник на n клеток во все стороны (n < 0 сжимает).
// Пустой прямоугольник остаётся пустым.
func (r IntRect) Expand(n int) IntRect {
	if !r.IsValid() {
		return r
	}
	return IntRect{XMin: r.XMin - n, ZMin: r.ZMin - n, XMax: r.XMax + n, ZMax: r.ZMax + n}
}

// Offset сдвигает прямоугольник
func (r IntRect) Offset(dx, dz int) IntRect {
	return IntRect{XMin: r.XMin + dx, ZMin: r.ZMin + dz, XMax: r.XMax + dx, ZMax: r.ZMax + dz}
}

// Intersection возвращает пересечение (возможно пустое)
func Intersection(a, b IntRect) IntRect {
	return IntRect{
		XMin: max(a.XMin, b.XMin),
		ZMin: max(a.ZMin, b.ZMin),
		XMax: min(a.XMax, b.XMax),
		ZMax: min(a.ZMax, b.ZMax),
	}
}

// Union возвращает минимальный прямоугольник, покрывающий оба
func Union(a, b IntRect) IntRect {
	if !a.IsValid() {
		return b
	}
	if !b.IsValid() {
		return a
	}
	return IntRect{
		XMin: min(a.XMin, b.XMin),
		ZMin: min(a.ZMin, b.ZMin),
		XMax: max(a.XMax, b.XMax),
		ZMax: max(a.ZMax, b.ZMax),
	}
}

// Intersects проверяет, есть ли общие клетки
func Intersects(a, b IntRect) bool {
	return Intersection(a, b).IsValid()
}

func (r IntRect) String() string {
	if !r.IsValid() {
		return "[empty]"
	}
	return fmt.Sprintf("[%d,%d..%d,%d]", r.XMin, r.ZMin, r.XMax, r.ZMax)
}
