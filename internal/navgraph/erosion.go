package navgraph

// erosion сужает проходимую область буфера на заданное число шагов.
//
// Эрозия распространяется по исходному (до эрозии) графу соединений: клетка
// размывается, если у неё нет соединения по одному из направлений режима соседей
// или соседний по такому соединению узел был размыт на предыдущей итерации.
// Направления, ведущие за пределы сетки, не размывают: край сетки - не препятствие.
// Результат не зависит от порядка обхода клеток.
type erosion struct {
	grid           IntRect
	iterations     int
	mode           NeighbourMode
	useTags        bool
	firstTag       uint8
	precedenceMask uint32
}

func newErosion(s Settings, grid IntRect) erosion {
	return erosion{
		grid:           grid,
		iterations:     s.ErosionIterations,
		mode:           s.Neighbours,
		useTags:        s.ErosionUseTags,
		firstTag:       s.ErosionFirstTag,
		precedenceMask: s.TagPrecedenceMask,
	}
}

// apply выполняет эрозию всего буфера. Соединения уже посчитаны по Walkable.
// Клетки у края буфера внутри сетки размываются "лишний" раз - поэтому
// область чтения шире области записи на iterations+1.
func (e erosion) apply(buf *NodeStore) {
	bounds := buf.Bounds()
	if e.useTags {
		e.applyTags(buf, bounds)
		return
	}

	buf.Each(bounds, func(n *Node) { n.WalkableEroded = n.Walkable })

	dirs := e.mode.erosionDirections()
	marked := make([]*Node, 0, 64)
	for it := 0; it < e.iterations; it++ {
		marked = marked[:0]
		buf.Each(bounds, func(n *Node) {
			if !n.WalkableEroded {
				return
			}
			if e.touchesEdge(buf, n, dirs, func(nb *Node) bool { return !nb.WalkableEroded }) {
				marked = append(marked, n)
			}
		})
		if len(marked) == 0 {
			break
		}
		for _, n := range marked {
			n.WalkableEroded = false
		}
	}
}

// applyTags вместо снятия проходимости помечает клетки тегами firstTag+итерация
func (e erosion) applyTags(buf *NodeStore, bounds IntRect) {
	lastTag := int(e.firstTag) + e.iterations
	isErosionTag := func(tag uint8) bool { return tag >= e.firstTag && int(tag) < lastTag }

	// Теги прошлых запусков эрозии пересчитываются заново
	buf.Each(bounds, func(n *Node) {
		n.WalkableEroded = n.Walkable
		if isErosionTag(n.Tag) {
			n.Tag = 0
		}
	})

	dirs := e.mode.erosionDirections()
	type mark struct {
		n   *Node
		tag uint8
	}
	marked := make([]mark, 0, 64)
	for it := 0; it < e.iterations; it++ {
		tag := e.firstTag + uint8(it)
		marked = marked[:0]
		buf.Each(bounds, func(n *Node) {
			if !n.Walkable || isErosionTag(n.Tag) {
				return
			}
			if e.precedenceMask&(1<<n.Tag) == 0 {
				return
			}
			// Размыт на прошлой итерации - значит тег строго меньше текущего
			erodedBefore := func(nb *Node) bool { return isErosionTag(nb.Tag) && nb.Tag < tag }
			if e.touchesEdge(buf, n, dirs, erodedBefore) {
				marked = append(marked, mark{n: n, tag: tag})
			}
		})
		for _, m := range marked {
			m.n.Tag = m.tag
		}
	}
}

// touchesEdge - нет соединения по одному из направлений или сосед уже размыт.
// Сосед за краем буфера, но внутри сетки, считается размытым.
func (e erosion) touchesEdge(buf *NodeStore, n *Node, dirs []int, eroded func(nb *Node) bool) bool {
	for _, dir := range dirs {
		dx, dz := DirectionOffset(dir)
		if !e.grid.Contains(n.X+dx, n.Z+dz) {
			continue
		}
		if !n.HasConnection(dir) {
			return true
		}
		nb := buf.Neighbour(n, dir)
		if nb == nil || eroded(nb) {
			return true
		}
	}
	return false
}
