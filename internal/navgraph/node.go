package navgraph

import (
	"github.com/annel0/navgraph/internal/vec"
)

// Node - одна клетка навигационного графа
type Node struct {
	X, Z int
	// Position - кэшированная мировая позиция центра клетки
	Position vec.Vec3Float
	// Height - высота в пространстве графа (мировые единицы вдоль "верха" сетки)
	Height float64
	// Normal - нормаль поверхности в мировых координатах
	Normal vec.Vec3Float
	// Walkable - проходимость до эрозии
	Walkable bool
	// WalkableEroded - проходимость после эрозии; именно она используется при обходе
	WalkableEroded bool
	Penalty        uint32
	Tag            uint8
	// Connections - битовая маска соединённых направлений (см. DirNorth..DirNorthWest)
	Connections uint8
}

// HasConnection проверяет соединение в направлении
func (n *Node) HasConnection(dir int) bool {
	return n.Connections&(1<<uint(dir)) != 0
}

// ConnectionCount возвращает число соединений
func (n *Node) ConnectionCount() int {
	c := 0
	for m := n.Connections; m != 0; m &= m - 1 {
		c++
	}
	return c
}

// Coords возвращает координаты клетки
func (n *Node) Coords() vec.Vec2 {
	return vec.Vec2{X: n.X, Y: n.Z}
}

// NodeStore - плоский массив клеток в порядке строк (z, затем x) над прямоугольником bounds.
// Живое хранилище графа покрывает всю сетку, буфер обновления - только область чтения.
type NodeStore struct {
	bounds IntRect
	stride int
	nodes  []Node
}

// NewNodeStore выделяет хранилище под прямоугольник и проставляет координаты клеток
func NewNodeStore(bounds IntRect) *NodeStore {
	s := &NodeStore{
		bounds: bounds,
		stride: bounds.Width(),
		nodes:  make([]Node, bounds.Area()),
	}
	for z := bounds.ZMin; z <= bounds.ZMax; z++ {
		for x := bounds.XMin; x <= bounds.XMax; x++ {
			n := &s.nodes[s.index(x, z)]
			n.X, n.Z = x, z
		}
	}
	return s
}

// Bounds возвращает покрываемый прямоугольник
func (s *NodeStore) Bounds() IntRect {
	return s.bounds
}

// Len - число клеток
func (s *NodeStore) Len() int {
	return len(s.nodes)
}

func (s *NodeStore) index(x, z int) int {
	return (z-s.bounds.ZMin)*s.stride + (x - s.bounds.XMin)
}

// InBounds проверяет, хранится ли клетка
func (s *NodeStore) InBounds(x, z int) bool {
	return s.bounds.Contains(x, z)
}

// At возвращает клетку или nil вне хранилища
func (s *NodeStore) At(x, z int) *Node {
	if !s.bounds.Contains(x, z) {
		return nil
	}
	return &s.nodes[s.index(x, z)]
}

// Neighbour возвращает соседа в направлении dir или nil
func (s *NodeStore) Neighbour(n *Node, dir int) *Node {
	return s.At(n.X+neighbourXOffsets[dir], n.Z+neighbourZOffsets[dir])
}

// CopyFrom копирует клетки прямоугольника rect из src. rect должен лежать в обоих хранилищах.
func (s *NodeStore) CopyFrom(src *NodeStore, rect IntRect) {
	if !rect.IsValid() {
		return
	}
	w := rect.Width()
	for z := rect.ZMin; z <= rect.ZMax; z++ {
		d := s.index(rect.XMin, z)
		o := src.index(rect.XMin, z)
		copy(s.nodes[d:d+w], src.nodes[o:o+w])
	}
}

// Clone возвращает независимую копию хранилища
func (s *NodeStore) Clone() *NodeStore {
	c := &NodeStore{bounds: s.bounds, stride: s.stride, nodes: make([]Node, len(s.nodes))}
	copy(c.nodes, s.nodes)
	return c
}

// Each вызывает fn для каждой клетки rect (пересечённого с bounds) в порядке строк
func (s *NodeStore) Each(rect IntRect, fn func(n *Node)) {
	r := Intersection(rect, s.bounds)
	for z := r.ZMin; z <= r.ZMax; z++ {
		for x := r.XMin; x <= r.XMax; x++ {
			fn(&s.nodes[s.index(x, z)])
		}
	}
}
