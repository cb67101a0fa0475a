package navgraph

import (
	"math"

	"github.com/annel0/navgraph/internal/logging"
	"github.com/annel0/navgraph/internal/vec"
)

// linecastScale - число единиц фиксированной точки на одну клетку
const linecastScale = 1024

// LinecastOptions - дополнительные параметры трассировки
type LinecastOptions struct {
	// Trace - сохранять пройденные клетки в результате
	Trace bool
	// Filter дополнительно ограничивает клетки, в которые можно войти (nil - все)
	Filter func(n *Node) bool
	// ContinuePastEnd - не останавливаться в конечной клетке, идти до препятствия или края сетки
	ContinuePastEnd bool
}

// LinecastResult - результат трассировки по топологии графа
type LinecastResult struct {
	Blocked bool
	// HitCell - последняя достигнутая клетка (при блокировке - клетка перед препятствием)
	HitCell vec.Vec2
	// HitDirection - направление неудавшегося шага, NoDirection если заблокирован старт
	HitDirection int
	// HitPoint - точка попадания в пространстве графа (X, Z), лежит на общей грани клеток
	HitPoint vec.Vec2Float
	// HitWorld - та же точка в мировых координатах (заполняется мировым Linecast)
	HitWorld vec.Vec3Float
	Trace    []vec.Vec2
}

// linecaster проходит по клеткам вдоль отрезка в фиксированной точке.
// Шаги делаются только по осям через соединения клеток, поэтому результат
// определяется графом, а не геометрией мира.
type linecaster struct {
	store  *NodeStore
	opts   LinecastOptions
	logger *logging.Logger

	p0, p1   [2]int64 // концы отрезка
	dx, dz   int64    // направление p1-p0
	to       vec.Vec2
	prefSide int64 // сторона линии, на которой лежит центр целевой клетки

	cur    *Node
	result LinecastResult
}

func fixedPoint(cell int, offset float64) int64 {
	off := int64(math.Round(offset * linecastScale))
	if off < 0 {
		off = 0
	}
	if off > linecastScale {
		off = linecastScale
	}
	return int64(cell)*linecastScale + off
}

func sign64(v int64) int64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// cross - z-компонента векторного произведения (dx,dz) x (kx,kz)
func (lc *linecaster) cross(kx, kz int64) int64 {
	return lc.dx*kz - lc.dz*kx
}

// linecastCells трассирует отрезок от точки в клетке from до точки в клетке to.
// Смещения внутри клеток задаются в долях клетки [0,1].
func linecastCells(store *NodeStore, from vec.Vec2, fromOff vec.Vec2Float, to vec.Vec2, toOff vec.Vec2Float,
	opts LinecastOptions, logger *logging.Logger) LinecastResult {

	lc := &linecaster{store: store, opts: opts, logger: logger, to: to}
	lc.p0 = [2]int64{fixedPoint(from.X, fromOff.X), fixedPoint(from.Y, fromOff.Y)}
	lc.p1 = [2]int64{fixedPoint(to.X, toOff.X), fixedPoint(to.Y, toOff.Y)}
	lc.dx = lc.p1[0] - lc.p0[0]
	lc.dz = lc.p1[1] - lc.p0[1]

	centre := [2]int64{int64(to.X)*linecastScale + linecastScale/2, int64(to.Y)*linecastScale + linecastScale/2}
	lc.prefSide = sign64(lc.cross(centre[0]-lc.p0[0], centre[1]-lc.p0[1]))

	lc.result.HitDirection = NoDirection
	lc.run(from)
	return lc.result
}

func (lc *linecaster) enterable(n *Node) bool {
	return n != nil && n.WalkableEroded && (lc.opts.Filter == nil || lc.opts.Filter(n))
}

// neighbour возвращает соседа, если из текущей клетки в него можно шагнуть
func (lc *linecaster) neighbour(dir int) *Node {
	return lc.step(lc.cur, dir)
}

func (lc *linecaster) step(from *Node, dir int) *Node {
	if dir == NoDirection || !from.HasConnection(dir) {
		return nil
	}
	nb := lc.store.Neighbour(from, dir)
	if !lc.enterable(nb) {
		return nil
	}
	return nb
}

func (lc *linecaster) visit(n *Node) {
	lc.cur = n
	lc.result.HitCell = vec.Vec2{X: n.X, Y: n.Z}
	if lc.opts.Trace {
		lc.result.Trace = append(lc.result.Trace, lc.result.HitCell)
	}
}

func (lc *linecaster) point(px, pz float64) vec.Vec2Float {
	return vec.Vec2Float{X: px / linecastScale, Y: pz / linecastScale}
}

func (lc *linecaster) block(dir int, at vec.Vec2Float) {
	lc.result.Blocked = true
	lc.result.HitDirection = dir
	lc.result.HitPoint = at
}

// containsEnd - лежит ли конец отрезка в замкнутом квадрате текущей клетки
func (lc *linecaster) containsEnd() bool {
	x0 := int64(lc.cur.X) * linecastScale
	z0 := int64(lc.cur.Z) * linecastScale
	return lc.p1[0] >= x0 && lc.p1[0] <= x0+linecastScale && lc.p1[1] >= z0 && lc.p1[1] <= z0+linecastScale
}

func (lc *linecaster) maxSteps(from vec.Vec2) int {
	b := lc.store.Bounds()
	if lc.opts.ContinuePastEnd {
		return 2*(b.Width()+b.Height()) + 8
	}
	return 2*from.ManhattanTo(lc.to) + 8
}

func (lc *linecaster) run(from vec.Vec2) {
	start := lc.store.At(from.X, from.Y)
	startPoint := lc.point(float64(lc.p0[0]), float64(lc.p0[1]))
	if !lc.enterable(start) {
		lc.result.HitCell = from
		lc.block(NoDirection, startPoint)
		return
	}
	lc.visit(start)
	lc.result.HitPoint = startPoint

	if lc.dx == 0 && lc.dz == 0 && lc.opts.ContinuePastEnd {
		return
	}

	sideStepped := false
	limit := lc.maxSteps(from)
	for step := 0; ; step++ {
		if step > limit {
			if lc.logger != nil {
				lc.logger.Error("linecast: превышен предел шагов %d (%v -> %v), результат считается краем", limit, from, lc.to)
			}
			lc.block(NoDirection, startPoint)
			return
		}

		if !lc.opts.ContinuePastEnd && lc.containsEnd() {
			lc.finish()
			return
		}

		xDir, zDir, corner := lc.exitDirections()
		e := lc.exitError(corner)

		var primary int
		switch {
		case e > 0:
			primary = xDir
		case e < 0:
			primary = zDir
		default:
			// Линия проходит ровно через угол: подходит обход через любого из двух
			// соседей, сначала со стороны центра целевой клетки
			first, second := xDir, zDir
			if lc.prefSide != 0 && lc.sideOf(xDir) != lc.prefSide {
				first, second = zDir, xDir
			}
			if lc.crossCorner(first, second) || lc.crossCorner(second, first) {
				sideStepped = false
				continue
			}
			lc.block(first, lc.point(float64(corner[0]), float64(corner[1])))
			return
		}

		if nb := lc.neighbour(primary); nb != nil {
			lc.visit(nb)
			sideStepped = false
			continue
		}

		// Линия скользит по грани клетки: можно перейти в клетку по другую сторону грани
		if !sideStepped {
			if side := lc.grazingSide(primary); side != NoDirection {
				if nb := lc.neighbour(side); nb != nil {
					lc.visit(nb)
					sideStepped = true
					continue
				}
			}
		}

		lc.block(primary, lc.facePoint(primary, corner))
		return
	}
}

// crossCorner проходит угол двумя осевыми шагами: сначала a, затем b.
// Клетки посещаются, только если проходимы оба шага.
func (lc *linecaster) crossCorner(a, b int) bool {
	side := lc.neighbour(a)
	if side == nil {
		return false
	}
	diag := lc.step(side, b)
	if diag == nil {
		return false
	}
	lc.visit(side)
	lc.visit(diag)
	return true
}

// exitDirections выбирает направления выхода из текущей клетки и её дальний угол.
// Если компонента направления нулевая, сторона выбирается так, чтобы дальняя
// грань не лежала на линии.
func (lc *linecaster) exitDirections() (xDir, zDir int, corner [2]int64) {
	cx := int64(lc.cur.X) * linecastScale
	cz := int64(lc.cur.Z) * linecastScale

	sx := sign64(lc.dx)
	if sx == 0 {
		sx = 1
		if lc.p0[0] == cx+linecastScale {
			sx = -1
		}
	}
	sz := sign64(lc.dz)
	if sz == 0 {
		sz = 1
		if lc.p0[1] == cz+linecastScale {
			sz = -1
		}
	}

	xDir, corner[0] = DirEast, cx+linecastScale
	if sx < 0 {
		xDir, corner[0] = DirWest, cx
	}
	zDir, corner[1] = DirNorth, cz+linecastScale
	if sz < 0 {
		zDir, corner[1] = DirSouth, cz
	}
	return xDir, zDir, corner
}

// exitError > 0 - линия раньше пересекает грань по X, < 0 - по Z, 0 - ровно угол
func (lc *linecaster) exitError(corner [2]int64) int64 {
	sx := int64(1)
	if corner[0] == int64(lc.cur.X)*linecastScale {
		sx = -1
	}
	sz := int64(1)
	if corner[1] == int64(lc.cur.Z)*linecastScale {
		sz = -1
	}
	return sx * sz * lc.cross(corner[0]-lc.p0[0], corner[1]-lc.p0[1])
}

// sideOf - с какой стороны линии лежит центр соседа в направлении dir
func (lc *linecaster) sideOf(dir int) int64 {
	ox, oz := DirectionOffset(dir)
	cx := int64(lc.cur.X+ox)*linecastScale + linecastScale/2
	cz := int64(lc.cur.Z+oz)*linecastScale + linecastScale/2
	return sign64(lc.cross(cx-lc.p0[0], cz-lc.p0[1]))
}

// grazingSide возвращает направление через грань текущей клетки, лежащую на линии
func (lc *linecaster) grazingSide(dir int) int {
	cx := int64(lc.cur.X) * linecastScale
	cz := int64(lc.cur.Z) * linecastScale
	switch dir {
	case DirEast, DirWest:
		if lc.dz != 0 {
			return NoDirection
		}
		if lc.p0[1] == cz {
			return DirSouth
		}
		if lc.p0[1] == cz+linecastScale {
			return DirNorth
		}
	case DirNorth, DirSouth:
		if lc.dx != 0 {
			return NoDirection
		}
		if lc.p0[0] == cx {
			return DirWest
		}
		if lc.p0[0] == cx+linecastScale {
			return DirEast
		}
	}
	return NoDirection
}

// facePoint - пересечение линии с гранью клетки в направлении dir
func (lc *linecaster) facePoint(dir int, corner [2]int64) vec.Vec2Float {
	px, pz := float64(lc.p0[0]), float64(lc.p0[1])
	dx, dz := float64(lc.dx), float64(lc.dz)
	switch dir {
	case DirEast, DirWest:
		fx := float64(corner[0])
		if dx == 0 {
			return lc.point(fx, pz)
		}
		return lc.point(fx, pz+dz*(fx-px)/dx)
	default:
		fz := float64(corner[1])
		if dz == 0 {
			return lc.point(px, fz)
		}
		return lc.point(px+dx*(fz-pz)/dz, fz)
	}
}

// finish завершает трассировку в клетке, содержащей конец отрезка
func (lc *linecaster) finish() {
	endPoint := lc.point(float64(lc.p1[0]), float64(lc.p1[1]))
	if lc.cur.X == lc.to.X && lc.cur.Z == lc.to.Y {
		lc.result.HitPoint = endPoint
		return
	}

	onX := lc.p1[0]%linecastScale == 0
	onZ := lc.p1[1]%linecastScale == 0
	if onX && onZ {
		lc.walkAroundCorner(endPoint)
		return
	}

	// Конец лежит на общей грани двух клеток: один шаг через неё
	dir := directionBetween(vec.Vec2{X: lc.cur.X, Y: lc.cur.Z}, lc.to)
	if dir != NoDirection {
		if nb := lc.neighbour(dir); nb != nil {
			lc.visit(nb)
			lc.result.HitPoint = endPoint
			return
		}
	}
	lc.block(dir, endPoint)
}

// walkAroundCorner обходит угол, в котором лежит конец отрезка: сначала по часовой
// стрелке, затем против, не более трёх шагов в каждую сторону.
func (lc *linecaster) walkAroundCorner(endPoint vec.Vec2Float) {
	qx := int(lc.p1[0] / linecastScale)
	qz := int(lc.p1[1] / linecastScale)
	// Против часовой стрелки: NE, NW, SW, SE
	ring := [4]vec.Vec2{{X: qx, Y: qz}, {X: qx - 1, Y: qz}, {X: qx - 1, Y: qz - 1}, {X: qx, Y: qz - 1}}

	startIdx := -1
	for i, c := range ring {
		if c.X == lc.cur.X && c.Y == lc.cur.Z {
			startIdx = i
		}
	}
	if startIdx < 0 {
		lc.block(NoDirection, endPoint)
		return
	}

	start := lc.cur
	firstDir := NoDirection
	for _, turn := range [2]int{-1, 1} {
		lc.cur = start
		idx := startIdx
		var path []*Node
		for step := 0; step < 3; step++ {
			next := (idx + turn + 4) % 4
			dir := directionBetween(ring[idx], ring[next])
			if firstDir == NoDirection {
				firstDir = dir
			}
			nb := lc.neighbour(dir)
			if nb == nil {
				break
			}
			path = append(path, nb)
			lc.cur = nb
			idx = next
			if ring[idx] == lc.to {
				lc.cur = start
				for _, n := range path {
					lc.visit(n)
				}
				lc.result.HitPoint = endPoint
				return
			}
		}
	}
	lc.cur = start
	lc.block(firstDir, endPoint)
}

// directionBetween - осевое направление между соседними клетками
func directionBetween(a, b vec.Vec2) int {
	dx, dz := b.X-a.X, b.Y-a.Y
	for dir := 0; dir < 4; dir++ {
		if neighbourXOffsets[dir] == dx && neighbourZOffsets[dir] == dz {
			return dir
		}
	}
	return NoDirection
}
