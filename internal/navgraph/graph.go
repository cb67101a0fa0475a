package navgraph

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/navgraph/internal/logging"
	"github.com/annel0/navgraph/internal/vec"
)

// GridGraph - навигационный граф на регулярной сетке.
//
// Живое хранилище клеток защищено mu: читатели (запросы, трассировки, поиск
// пути через SearchLock) берут RLock, фиксация обновлений - короткий Lock.
// Подготовка обновлений идёт без блокировки графа в отдельном буфере.
type GridGraph struct {
	mu         sync.RWMutex
	live       *NodeStore
	layout     GridLayout
	tr         GridTransform
	costs      [8]uint32
	scanned    bool
	generation uint64

	settings Settings
	sampler  Sampler

	// workMu сериализует пакеты обновлений и структурные операции
	workMu      sync.Mutex
	searchLocks atomic.Int32

	queueMu sync.Mutex
	queue   []*UpdateHandle
	wake    chan struct{}
	closed  bool
	started bool
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	listenersMu sync.RWMutex
	listeners   []CommitListener

	logger  *logging.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// Option настраивает GridGraph
type Option func(*GridGraph)

// WithLogger задаёт логгер графа
func WithLogger(l *logging.Logger) Option {
	return func(g *GridGraph) { g.logger = l }
}

// WithMetrics включает Prometheus-метрики
func WithMetrics(m *Metrics) Option {
	return func(g *GridGraph) { g.metrics = m }
}

// WithTracer задаёт трассировщик OpenTelemetry (по умолчанию глобальный)
func WithTracer(t trace.Tracer) Option {
	return func(g *GridGraph) { g.tracer = t }
}

// NewGridGraph создаёт граф. Клетки пусты до первого Scan или LoadSnapshot.
func NewGridGraph(layout GridLayout, settings Settings, sampler Sampler, opts ...Option) (*GridGraph, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if sampler == nil {
		return nil, fmt.Errorf("%w: sampler is required", ErrInvalidSettings)
	}

	g := &GridGraph{
		live:     NewNodeStore(layout.Bounds()),
		layout:   layout,
		tr:       NewGridTransform(layout),
		costs:    DirectionCosts(settings.Neighbours, layout.NodeSize, settings.UniformEdgeCosts),
		settings: settings,
		sampler:  sampler,
		wake:     make(chan struct{}, 1),
	}
	g.baseCtx, g.stop = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = logging.NewWriterLogger("navgraph", os.Stdout, logging.INFO)
	}
	if g.tracer == nil {
		g.tracer = otel.Tracer("github.com/annel0/navgraph/internal/navgraph")
	}
	return g, nil
}

// Kind реализует Graph
func (g *GridGraph) Kind() Kind { return KindGrid }

// Layout возвращает текущую раскладку
func (g *GridGraph) Layout() GridLayout {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.layout
}

// Settings возвращает настройки графа
func (g *GridGraph) Settings() Settings {
	return g.settings
}

// Transform возвращает текущее преобразование граф↔мир
func (g *GridGraph) Transform() GridTransform {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tr
}

// Bounds - прямоугольник всех клеток
func (g *GridGraph) Bounds() IntRect {
	return g.Layout().Bounds()
}

// Scanned - был ли граф построен
func (g *GridGraph) Scanned() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.scanned
}

// Generation увеличивается при каждой смене раскладки
func (g *GridGraph) Generation() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.generation
}

// DirectionCost - стоимость ребра в направлении dir (в единицах CostPrecision)
func (g *GridGraph) DirectionCost(dir int) uint32 {
	if dir < 0 || dir > 7 {
		return 0
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.costs[dir]
}

// DirectionCosts - вся таблица стоимостей
func (g *GridGraph) DirectionCosts() [8]uint32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.costs
}

// GetNode возвращает копию клетки; false - вне сетки
func (g *GridGraph) GetNode(x, z int) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return getNode(g.live, x, z)
}

// GetNodesInRegion возвращает копии клеток прямоугольника, обрезанного сеткой
func (g *GridGraph) GetNodesInRegion(rect IntRect) []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return nodesInRegion(g.live, rect)
}

// NearestNode возвращает клетку, в проекцию которой попадает мировая точка
// (точка вне сетки прижимается к краю).
func (g *GridGraph) NearestNode(pos vec.Vec3Float) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, _ := worldToCell(g.tr, g.layout, pos)
	return getNode(g.live, c.X, c.Y)
}

// NearestWalkable ищет ближайшую проходимую клетку кольцами вокруг точки,
// не дальше maxRadius клеток.
func (g *GridGraph) NearestWalkable(pos vec.Vec3Float, maxRadius int) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return nearestWalkable(g.live, g.tr, g.layout, pos, maxRadius)
}

// WorldRectToGraph переводит мировой AABB в прямоугольник клеток, обрезанный сеткой
func (g *GridGraph) WorldRectToGraph(lo, hi vec.Vec3Float) IntRect {
	g.mu.RLock()
	defer g.mu.RUnlock()

	xmin, zmin := math.Inf(1), math.Inf(1)
	xmax, zmax := math.Inf(-1), math.Inf(-1)
	for i := 0; i < 8; i++ {
		corner := lo
		if i&1 != 0 {
			corner.X = hi.X
		}
		if i&2 != 0 {
			corner.Y = hi.Y
		}
		if i&4 != 0 {
			corner.Z = hi.Z
		}
		p := g.tr.InverseTransform(corner)
		xmin, xmax = math.Min(xmin, p.X), math.Max(xmax, p.X)
		zmin, zmax = math.Min(zmin, p.Z), math.Max(zmax, p.Z)
	}
	r := IntRect{
		XMin: int(math.Floor(xmin)),
		ZMin: int(math.Floor(zmin)),
		XMax: int(math.Floor(xmax)),
		ZMax: int(math.Floor(zmax)),
	}
	return Intersection(r, g.layout.Bounds())
}

// Linecast трассирует отрезок между мировыми точками по графу.
// Точки вне сетки прижимаются к её краю.
func (g *GridGraph) Linecast(from, to vec.Vec3Float, opts LinecastOptions) LinecastResult {
	g.mu.RLock()
	defer g.mu.RUnlock()
	res := worldLinecast(g.live, g.tr, g.layout, from, to, opts, g.logger)
	g.metrics.observeLinecast(res.Blocked)
	return res
}

// LinecastCells трассирует отрезок между точками внутри клеток (смещения в долях клетки)
func (g *GridGraph) LinecastCells(from vec.Vec2, fromOffset vec.Vec2Float, to vec.Vec2, toOffset vec.Vec2Float, opts LinecastOptions) LinecastResult {
	g.mu.RLock()
	defer g.mu.RUnlock()
	res := linecastCells(g.live, from, fromOffset, to, toOffset, opts, g.logger)
	g.metrics.observeLinecast(res.Blocked)
	return res
}

// GraphStats - сводка по графу
type GraphStats struct {
	Width          int    `json:"width"`
	Depth          int    `json:"depth"`
	Nodes          int    `json:"nodes"`
	Walkable       int    `json:"walkable"`
	WalkableEroded int    `json:"walkable_eroded"`
	Connections    int    `json:"connections"`
	Generation     uint64 `json:"generation"`
	Scanned        bool   `json:"scanned"`
	PendingUpdates int    `json:"pending_updates"`
	SearchLocks    int    `json:"search_locks"`
}

// Stats считает сводку по живому хранилищу
func (g *GridGraph) Stats() GraphStats {
	g.queueMu.Lock()
	pending := len(g.queue)
	g.queueMu.Unlock()

	g.mu.RLock()
	defer g.mu.RUnlock()
	st := GraphStats{
		Width:          g.layout.Width,
		Depth:          g.layout.Depth,
		Nodes:          g.live.Len(),
		Generation:     g.generation,
		Scanned:        g.scanned,
		PendingUpdates: pending,
		SearchLocks:    int(g.searchLocks.Load()),
	}
	g.live.Each(g.live.Bounds(), func(n *Node) {
		if n.Walkable {
			st.Walkable++
		}
		if n.WalkableEroded {
			st.WalkableEroded++
		}
		st.Connections += n.ConnectionCount()
	})
	return st
}

// AddCommitListener подписывает на события фиксации
func (g *GridGraph) AddCommitListener(l CommitListener) {
	g.listenersMu.Lock()
	defer g.listenersMu.Unlock()
	g.listeners = append(g.listeners, l)
}

func (g *GridGraph) notify(ev CommitEvent) {
	g.listenersMu.RLock()
	listeners := append([]CommitListener(nil), g.listeners...)
	g.listenersMu.RUnlock()
	for _, l := range listeners {
		l(ev)
	}
}

func getNode(store *NodeStore, x, z int) (Node, bool) {
	n := store.At(x, z)
	if n == nil {
		return Node{}, false
	}
	return *n, true
}

func nodesInRegion(store *NodeStore, rect IntRect) []Node {
	r := Intersection(rect, store.Bounds())
	out := make([]Node, 0, r.Area())
	store.Each(r, func(n *Node) { out = append(out, *n) })
	return out
}

// worldToCell переводит мировую точку в клетку и смещение в ней, прижимая к сетке
func worldToCell(tr GridTransform, l GridLayout, pos vec.Vec3Float) (vec.Vec2, vec.Vec2Float) {
	p := tr.InverseTransform(pos)
	x := math.Min(math.Max(p.X, 0), float64(l.Width))
	z := math.Min(math.Max(p.Z, 0), float64(l.Depth))
	cx := min(int(math.Floor(x)), l.Width-1)
	cz := min(int(math.Floor(z)), l.Depth-1)
	return vec.Vec2{X: cx, Y: cz}, vec.Vec2Float{X: x - float64(cx), Y: z - float64(cz)}
}

func nearestWalkable(store *NodeStore, tr GridTransform, l GridLayout, pos vec.Vec3Float, maxRadius int) (Node, bool) {
	c, _ := worldToCell(tr, l, pos)
	for r := 0; r <= maxRadius; r++ {
		var best *Node
		bestDist := math.Inf(1)
		ring := IntRect{XMin: c.X - r, ZMin: c.Y - r, XMax: c.X + r, ZMax: c.Y + r}
		store.Each(ring, func(n *Node) {
			if max(absInt(n.X-c.X), absInt(n.Z-c.Y)) != r || !n.WalkableEroded {
				return
			}
			if d := n.Position.DistanceTo(pos); d < bestDist {
				best, bestDist = n, d
			}
		})
		if best != nil {
			return *best, true
		}
		if ring.ContainsRect(store.Bounds()) {
			break
		}
	}
	return Node{}, false
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func worldLinecast(store *NodeStore, tr GridTransform, l GridLayout, from, to vec.Vec3Float, opts LinecastOptions, logger *logging.Logger) LinecastResult {
	fc, fo := worldToCell(tr, l, from)
	tc, tOff := worldToCell(tr, l, to)
	res := linecastCells(store, fc, fo, tc, tOff, opts, logger)

	height := 0.0
	if n := store.At(res.HitCell.X, res.HitCell.Y); n != nil {
		height = n.Height
	}
	res.HitWorld = tr.Transform(vec.Vec3Float{X: res.HitPoint.X, Y: height, Z: res.HitPoint.Y})
	return res
}
