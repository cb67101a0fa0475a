package navgraph

import (
	"fmt"
	"math"

	"github.com/annel0/navgraph/internal/vec"
)

// GridLayout описывает размеры сетки и её положение в мире.
// Смена раскладки инвалидирует все клетки и требует полного пересчёта.
type GridLayout struct {
	Width    int           `yaml:"width" json:"width"`
	Depth    int           `yaml:"depth" json:"depth"`
	NodeSize float64       `yaml:"node_size" json:"node_size"`
	Center   vec.Vec3Float `yaml:"center" json:"center"`
	// Rotation - углы Эйлера в градусах (X - тангаж, Y - рыскание, Z - крен)
	Rotation vec.Vec3Float `yaml:"rotation" json:"rotation"`
}

// Validate проверяет инварианты раскладки
func (l GridLayout) Validate() error {
	if l.Width < 1 || l.Depth < 1 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidLayout, l.Width, l.Depth)
	}
	if !(l.NodeSize > 0) || math.IsInf(l.NodeSize, 0) {
		return fmt.Errorf("%w: node size %v", ErrInvalidLayout, l.NodeSize)
	}
	return nil
}

// Bounds возвращает прямоугольник всех клеток
func (l GridLayout) Bounds() IntRect {
	return IntRect{XMin: 0, ZMin: 0, XMax: l.Width - 1, ZMax: l.Depth - 1}
}

// CornerAtOrigin возвращает раскладку без поворота, у которой угол клетки (0,0)
// совпадает с началом мировых координат.
func CornerAtOrigin(width, depth int, nodeSize float64) GridLayout {
	return GridLayout{
		Width:    width,
		Depth:    depth,
		NodeSize: nodeSize,
		Center:   vec.Vec3Float{X: float64(width) * nodeSize / 2, Y: 0, Z: float64(depth) * nodeSize / 2},
	}
}

// GridTransform - аффинное отображение пространства графа в мировое и обратно.
// В пространстве графа одна единица по X/Z равна одной клетке, Y - высота в мировых единицах.
type GridTransform struct {
	m   [3][3]float64
	t   vec.Vec3Float
	inv [3][3]float64
	up  vec.Vec3Float
}

// NewGridTransform строит преобразование для раскладки
func NewGridTransform(l GridLayout) GridTransform {
	rot := rotationMatrix(l.Rotation)
	scale := [3]float64{l.NodeSize, 1, l.NodeSize}

	var tr GridTransform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			tr.m[i][j] = rot[i][j] * scale[j]
		}
	}

	// Центр сетки (width/2, 0, depth/2) в пространстве графа попадает в l.Center
	half := tr.apply(vec.Vec3Float{X: float64(l.Width) / 2, Y: 0, Z: float64(l.Depth) / 2})
	tr.t = l.Center.Sub(half)
	tr.inv = invert3(tr.m)
	tr.up = vec.Vec3Float{X: rot[0][1], Y: rot[1][1], Z: rot[2][1]}.Normalized()
	return tr
}

func (tr GridTransform) apply(p vec.Vec3Float) vec.Vec3Float {
	return vec.Vec3Float{
		X: tr.m[0][0]*p.X + tr.m[0][1]*p.Y + tr.m[0][2]*p.Z,
		Y: tr.m[1][0]*p.X + tr.m[1][1]*p.Y + tr.m[1][2]*p.Z,
		Z: tr.m[2][0]*p.X + tr.m[2][1]*p.Y + tr.m[2][2]*p.Z,
	}
}

func (tr GridTransform) applyInverse(p vec.Vec3Float) vec.Vec3Float {
	return vec.Vec3Float{
		X: tr.inv[0][0]*p.X + tr.inv[0][1]*p.Y + tr.inv[0][2]*p.Z,
		Y: tr.inv[1][0]*p.X + tr.inv[1][1]*p.Y + tr.inv[1][2]*p.Z,
		Z: tr.inv[2][0]*p.X + tr.inv[2][1]*p.Y + tr.inv[2][2]*p.Z,
	}
}

// Transform переводит точку из пространства графа в мировое
func (tr GridTransform) Transform(p vec.Vec3Float) vec.Vec3Float {
	return tr.apply(p).Add(tr.t)
}

// InverseTransform переводит мировую точку в пространство графа
func (tr GridTransform) InverseTransform(p vec.Vec3Float) vec.Vec3Float {
	return tr.applyInverse(p.Sub(tr.t))
}

// TransformVector преобразует направление (без переноса)
func (tr GridTransform) TransformVector(v vec.Vec3Float) vec.Vec3Float {
	return tr.apply(v)
}

// InverseTransformVector преобразует мировое направление в пространство графа
func (tr GridTransform) InverseTransformVector(v vec.Vec3Float) vec.Vec3Float {
	return tr.applyInverse(v)
}

// Up - единичный вектор "вверх" сетки в мировых координатах
func (tr GridTransform) Up() vec.Vec3Float {
	return tr.up
}

// NodeCenter возвращает мировую позицию центра клетки на заданной высоте
func (tr GridTransform) NodeCenter(x, z int, height float64) vec.Vec3Float {
	return tr.Transform(vec.Vec3Float{X: float64(x) + 0.5, Y: height, Z: float64(z) + 0.5})
}

// rotationMatrix строит матрицу поворота R = Ry * Rx * Rz
func rotationMatrix(euler vec.Vec3Float) [3][3]float64 {
	toRad := math.Pi / 180
	sx, cx := math.Sincos(euler.X * toRad)
	sy, cy := math.Sincos(euler.Y * toRad)
	sz, cz := math.Sincos(euler.Z * toRad)

	rx := [3][3]float64{{1, 0, 0}, {0, cx, -sx}, {0, sx, cx}}
	ry := [3][3]float64{{cy, 0, sy}, {0, 1, 0}, {-sy, 0, cy}}
	rz := [3][3]float64{{cz, -sz, 0}, {sz, cz, 0}, {0, 0, 1}}

	return mul3(ry, mul3(rx, rz))
}

func mul3(a, b [3][3]float64) [3][3]float64 {
	var r [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = a[i][0]*b[0][j] + a[i][1]*b[1][j] + a[i][2]*b[2][j]
		}
	}
	return r
}

// invert3 - обращение 3x3 через союзную матрицу. Раскладка прошла Validate,
// поэтому определитель (NodeSize^2) ненулевой.
func invert3(m [3][3]float64) [3][3]float64 {
	det := m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
	if det == 0 {
		return [3][3]float64{}
	}
	inv := 1 / det
	return [3][3]float64{
		{
			(m[1][1]*m[2][2] - m[1][2]*m[2][1]) * inv,
			(m[0][2]*m[2][1] - m[0][1]*m[2][2]) * inv,
			(m[0][1]*m[1][2] - m[0][2]*m[1][1]) * inv,
		},
		{
			(m[1][2]*m[2][0] - m[1][0]*m[2][2]) * inv,
			(m[0][0]*m[2][2] - m[0][2]*m[2][0]) * inv,
			(m[0][2]*m[1][0] - m[0][0]*m[1][2]) * inv,
		},
		{
			(m[1][0]*m[2][1] - m[1][1]*m[2][0]) * inv,
			(m[0][1]*m[2][0] - m[0][0]*m[2][1]) * inv,
			(m[0][0]*m[1][1] - m[0][1]*m[1][0]) * inv,
		},
	}
}
