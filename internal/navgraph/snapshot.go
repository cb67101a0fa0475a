package navgraph

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/annel0/navgraph/internal/vec"
)

// SnapshotVersion - текущая версия формата снимка
const SnapshotVersion = 2

// Поля снимка в формате protobuf
const (
	snapFieldVersion    protowire.Number = 1
	snapFieldWidth      protowire.Number = 2
	snapFieldDepth      protowire.Number = 3
	snapFieldNodeSize   protowire.Number = 4
	snapFieldCenter     protowire.Number = 5
	snapFieldRotation   protowire.Number = 6
	snapFieldNeighbours protowire.Number = 7
	snapFieldCosts      protowire.Number = 8
	snapFieldNode       protowire.Number = 9
	snapFieldSettings   protowire.Number = 10

	nodeFieldHeight      protowire.Number = 1
	nodeFieldNormal      protowire.Number = 2
	nodeFieldFlags       protowire.Number = 3
	nodeFieldPenalty     protowire.Number = 4
	nodeFieldTag         protowire.Number = 5
	nodeFieldConnections protowire.Number = 6
)

const (
	flagWalkable uint64 = 1 << iota
	flagWalkableEroded
)

// Snapshot - плотный снимок клеток в порядке строк и таблица стоимостей
type Snapshot struct {
	Version    int
	Layout     GridLayout
	Neighbours NeighbourMode
	// Costs пуст у снимков без соединений; тогда связность выводится заново
	Costs []uint32
	// Settings - Settings.Fingerprint графа, с которого снят снимок (0 в версии 1)
	Settings uint64
	Nodes    []Node
}

// Snapshot копирует текущее состояние графа
func (g *GridGraph) Snapshot() (*Snapshot, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.scanned {
		return nil, ErrNotScanned
	}
	s := &Snapshot{
		Version:    SnapshotVersion,
		Layout:     g.layout,
		Neighbours: g.settings.Neighbours,
		Costs:      append([]uint32(nil), g.costs[:]...),
		Settings:   g.settings.Fingerprint(),
		Nodes:      make([]Node, 0, g.live.Len()),
	}
	g.live.Each(g.live.Bounds(), func(n *Node) { s.Nodes = append(s.Nodes, *n) })
	return s, nil
}

// Marshal кодирует снимок
func (s *Snapshot) Marshal() []byte {
	b := make([]byte, 0, 64+len(s.Nodes)*48)
	b = protowire.AppendTag(b, snapFieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Version))
	b = protowire.AppendTag(b, snapFieldWidth, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Layout.Width))
	b = protowire.AppendTag(b, snapFieldDepth, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Layout.Depth))
	b = protowire.AppendTag(b, snapFieldNodeSize, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(s.Layout.NodeSize))
	b = protowire.AppendTag(b, snapFieldCenter, protowire.BytesType)
	b = protowire.AppendBytes(b, appendVec3(nil, s.Layout.Center))
	b = protowire.AppendTag(b, snapFieldRotation, protowire.BytesType)
	b = protowire.AppendBytes(b, appendVec3(nil, s.Layout.Rotation))
	b = protowire.AppendTag(b, snapFieldNeighbours, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Neighbours))
	if s.Settings != 0 {
		b = protowire.AppendTag(b, snapFieldSettings, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, s.Settings)
	}

	if len(s.Costs) > 0 {
		var packed []byte
		for _, c := range s.Costs {
			packed = protowire.AppendVarint(packed, uint64(c))
		}
		b = protowire.AppendTag(b, snapFieldCosts, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}

	var nb []byte
	for i := range s.Nodes {
		nb = appendNode(nb[:0], &s.Nodes[i], len(s.Costs) > 0)
		b = protowire.AppendTag(b, snapFieldNode, protowire.BytesType)
		b = protowire.AppendBytes(b, nb)
	}
	return b
}

func appendVec3(b []byte, v vec.Vec3Float) []byte {
	b = protowire.AppendFixed64(b, math.Float64bits(v.X))
	b = protowire.AppendFixed64(b, math.Float64bits(v.Y))
	return protowire.AppendFixed64(b, math.Float64bits(v.Z))
}

func appendNode(b []byte, n *Node, withConnections bool) []byte {
	b = protowire.AppendTag(b, nodeFieldHeight, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(n.Height))
	b = protowire.AppendTag(b, nodeFieldNormal, protowire.BytesType)
	b = protowire.AppendBytes(b, appendVec3(nil, n.Normal))

	var flags uint64
	if n.Walkable {
		flags |= flagWalkable
	}
	if n.WalkableEroded {
		flags |= flagWalkableEroded
	}
	b = protowire.AppendTag(b, nodeFieldFlags, protowire.VarintType)
	b = protowire.AppendVarint(b, flags)
	b = protowire.AppendTag(b, nodeFieldPenalty, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(n.Penalty))
	b = protowire.AppendTag(b, nodeFieldTag, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(n.Tag))
	if withConnections {
		b = protowire.AppendTag(b, nodeFieldConnections, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(n.Connections))
	}
	return b
}

// UnmarshalSnapshot разбирает снимок. Координаты клеток восстанавливаются по порядку.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	s := &Snapshot{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, corrupt("tag", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == snapFieldNode && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, corrupt("node", protowire.ParseError(n))
			}
			node, err := parseNode(v)
			if err != nil {
				return nil, err
			}
			s.Nodes = append(s.Nodes, node)
			data = data[n:]
		case num == snapFieldCosts && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, corrupt("costs", protowire.ParseError(n))
			}
			for len(v) > 0 {
				c, m := protowire.ConsumeVarint(v)
				if m < 0 {
					return nil, corrupt("cost", protowire.ParseError(m))
				}
				s.Costs = append(s.Costs, uint32(c))
				v = v[m:]
			}
			data = data[n:]
		case (num == snapFieldCenter || num == snapFieldRotation) && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, corrupt("vector", protowire.ParseError(n))
			}
			vv, err := parseVec3(v)
			if err != nil {
				return nil, err
			}
			if num == snapFieldCenter {
				s.Layout.Center = vv
			} else {
				s.Layout.Rotation = vv
			}
			data = data[n:]
		case num == snapFieldNodeSize && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return nil, corrupt("node size", protowire.ParseError(n))
			}
			s.Layout.NodeSize = math.Float64frombits(v)
			data = data[n:]
		case num == snapFieldSettings && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return nil, corrupt("settings", protowire.ParseError(n))
			}
			s.Settings = v
			data = data[n:]
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, corrupt("varint", protowire.ParseError(n))
			}
			switch num {
			case snapFieldVersion:
				s.Version = int(v)
			case snapFieldWidth:
				s.Layout.Width = int(v)
			case snapFieldDepth:
				s.Layout.Depth = int(v)
			case snapFieldNeighbours:
				s.Neighbours = NeighbourMode(v)
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, corrupt("field", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	if s.Version == 0 || s.Version > SnapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, s.Version)
	}
	if err := s.Layout.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if len(s.Nodes) != s.Layout.Width*s.Layout.Depth {
		return nil, fmt.Errorf("%w: %d nodes for %dx%d grid", ErrCorruptSnapshot, len(s.Nodes), s.Layout.Width, s.Layout.Depth)
	}
	if len(s.Costs) != 0 && len(s.Costs) != 8 {
		return nil, fmt.Errorf("%w: %d direction costs", ErrCorruptSnapshot, len(s.Costs))
	}
	for i := range s.Nodes {
		s.Nodes[i].X = i % s.Layout.Width
		s.Nodes[i].Z = i / s.Layout.Width
	}
	return s, nil
}

func corrupt(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrCorruptSnapshot, what, err)
}

func parseVec3(b []byte) (vec.Vec3Float, error) {
	var parts [3]float64
	for i := range parts {
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return vec.Vec3Float{}, corrupt("vector component", protowire.ParseError(n))
		}
		parts[i] = math.Float64frombits(v)
		b = b[n:]
	}
	return vec.Vec3Float{X: parts[0], Y: parts[1], Z: parts[2]}, nil
}

func parseNode(b []byte) (Node, error) {
	var node Node
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return node, corrupt("node tag", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == nodeFieldHeight && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return node, corrupt("height", protowire.ParseError(n))
			}
			node.Height = math.Float64frombits(v)
			b = b[n:]
		case num == nodeFieldNormal && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return node, corrupt("normal", protowire.ParseError(n))
			}
			normal, err := parseVec3(v)
			if err != nil {
				return node, err
			}
			node.Normal = normal
			b = b[n:]
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return node, corrupt("node varint", protowire.ParseError(n))
			}
			switch num {
			case nodeFieldFlags:
				node.Walkable = v&flagWalkable != 0
				node.WalkableEroded = v&flagWalkableEroded != 0
			case nodeFieldPenalty:
				node.Penalty = uint32(v)
			case nodeFieldTag:
				node.Tag = uint8(v) & MaxTag
			case nodeFieldConnections:
				node.Connections = uint8(v)
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return node, corrupt("node field", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return node, nil
}

// LoadSnapshot заменяет граф снимком. Позиции клеток выводятся из раскладки;
// соединения и эрозия выводятся заново, если снимок не содержит соединений,
// таблица стоимостей не совпадает или снимок снят с другими настройками связности
// и эрозии (см. Settings.Fingerprint).
func (g *GridGraph) LoadSnapshot(s *Snapshot) (rederived bool, err error) {
	if err := s.Layout.Validate(); err != nil {
		return false, err
	}
	if len(s.Nodes) != s.Layout.Width*s.Layout.Depth {
		return false, fmt.Errorf("%w: %d nodes for %dx%d grid", ErrCorruptSnapshot, len(s.Nodes), s.Layout.Width, s.Layout.Depth)
	}
	if err := g.beginStructural(); err != nil {
		return false, err
	}
	defer g.workMu.Unlock()

	tr := NewGridTransform(s.Layout)
	bounds := s.Layout.Bounds()
	store := NewNodeStore(bounds)
	i := 0
	store.Each(bounds, func(n *Node) {
		src := s.Nodes[i]
		src.X, src.Z = n.X, n.Z
		*n = src
		i++
	})

	p := newPipeline(g.settings, s.Layout, g.sampler)
	p.refreshPositions(store)

	costs := DirectionCosts(g.settings.Neighbours, s.Layout.NodeSize, g.settings.UniformEdgeCosts)
	rederived = len(s.Costs) != 8 || s.Neighbours != g.settings.Neighbours ||
		s.Settings != g.settings.Fingerprint()
	for d := 0; !rederived && d < 8; d++ {
		rederived = s.Costs[d] != costs[d]
	}
	if rederived {
		p.compute(store, bounds)
	}

	g.mu.Lock()
	g.swapLayout(s.Layout, tr, store)
	gen := g.generation
	g.mu.Unlock()

	if rederived {
		g.logger.Info("Соединения снимка выведены заново (режим %d, стоимости %v, настройки %x)", s.Neighbours, s.Costs, s.Settings)
	}
	g.afterRebuild("snapshot", s.Layout, gen)
	return rederived, nil
}
