package navgraph

import (
	"math"

	"github.com/annel0/navgraph/internal/vec"
)

// connectivity считает маски соединений клеток буфера
type connectivity struct {
	mode          NeighbourMode
	cutCorners    bool
	maxStepHeight float64
	useSlope      bool
	up            vec.Vec3Float
	// eroded - использовать проходимость после эрозии
	eroded bool
}

func newConnectivity(s Settings, up vec.Vec3Float, eroded bool) connectivity {
	return connectivity{
		mode:          s.Neighbours,
		cutCorners:    s.CutCorners,
		maxStepHeight: s.MaxStepHeight,
		useSlope:      s.MaxStepUsesSlope,
		up:            up,
		eroded:        eroded,
	}
}

func (c connectivity) walkable(n *Node) bool {
	if n == nil {
		return false
	}
	if c.eroded {
		return n.WalkableEroded
	}
	return n.Walkable
}

// validStep проверяет перепад высот между центрами двух клеток.
// Функция симметрична относительно перестановки a и b.
func (c connectivity) validStep(a, b *Node) bool {
	if c.maxStepHeight <= 0 {
		return true
	}
	v := b.Position.Sub(a.Position)
	if math.Abs(v.Dot(c.up)) <= c.maxStepHeight {
		return true
	}
	if !c.useSlope {
		return false
	}
	// На склоне меряем зазор от плоскости поверхности каждой из клеток
	for _, normal := range [2]vec.Vec3Float{a.Normal, b.Normal} {
		d := normal.Dot(c.up)
		if d <= 1e-6 {
			continue
		}
		if math.Abs(v.Dot(normal)/d) <= c.maxStepHeight {
			return true
		}
	}
	return false
}

// link - можно ли пройти по оси из a в b
func (c connectivity) link(a, b *Node) bool {
	return c.walkable(b) && c.validStep(a, b)
}

// calculate пересчитывает маски соединений для клеток rect.
// Соседи вне буфера считаются отсутствующими.
func (c connectivity) calculate(buf *NodeStore, rect IntRect) {
	allowed := c.mode.DirectionMask()
	buf.Each(rect, func(n *Node) {
		n.Connections = c.nodeConnections(buf, n, allowed)
	})
}

func (c connectivity) nodeConnections(buf *NodeStore, n *Node, allowed uint8) uint8 {
	if !c.walkable(n) {
		return 0
	}

	var conns uint8
	for dir := 0; dir < 4; dir++ {
		if allowed&(1<<dir) == 0 {
			continue
		}
		if nb := buf.Neighbour(n, dir); nb != nil && c.link(n, nb) {
			conns |= 1 << dir
		}
	}

	for dir := 4; dir < 8; dir++ {
		if allowed&(1<<dir) == 0 {
			continue
		}
		d := buf.Neighbour(n, dir)
		if d == nil || !c.link(n, d) {
			continue
		}
		if c.mode == NeighboursSix {
			// В гексагональной сетке "диагональ" - обычный сосед, углов нет
			conns |= 1 << dir
			continue
		}

		f1 := buf.Neighbour(n, dir-4)
		f2 := buf.Neighbour(n, (dir-3)&3)
		ok1 := c.flankUsable(n, f1, d)
		ok2 := c.flankUsable(n, f2, d)
		if c.cutCorners {
			if ok1 || ok2 {
				conns |= 1 << dir
			}
		} else if ok1 && ok2 {
			conns |= 1 << dir
		}
	}
	return conns
}

// flankUsable - боковая клетка диагонали проходима и связана с обоими концами
func (c connectivity) flankUsable(a, f, d *Node) bool {
	return f != nil && c.walkable(f) && c.validStep(a, f) && c.validStep(f, d)
}

// slopeWalkable - не превышает ли наклон нормали заданного угла
func slopeWalkable(normal, up vec.Vec3Float, maxSlope float64) bool {
	if maxSlope >= 90 || normal.IsZero() {
		return true
	}
	cos := normal.Normalized().Dot(up)
	return cos >= math.Cos(maxSlope*math.Pi/180)-1e-9
}
