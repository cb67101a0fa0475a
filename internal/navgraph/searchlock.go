package navgraph

import (
	"sync"

	"github.com/annel0/navgraph/internal/vec"
)

// SearchLock - разделяемая блокировка графа на время поиска пути.
// Пока она удерживается, обработка очереди обновлений приостанавливается, а
// структурные операции (Scan, Move, SetLayout, LoadSnapshot) завершаются с
// ErrNotSafeToUpdate. Методы блокировки читают граф без повторного захвата mu:
// вызывать методы GridGraph из-под SearchLock нельзя.
type SearchLock struct {
	g    *GridGraph
	once sync.Once
}

// LockForSearch захватывает граф для чтения
func (g *GridGraph) LockForSearch() *SearchLock {
	g.mu.RLock()
	g.searchLocks.Add(1)
	return &SearchLock{g: g}
}

// Release освобождает блокировку; повторный вызов ничего не делает
func (l *SearchLock) Release() {
	l.once.Do(func() {
		left := l.g.searchLocks.Add(-1)
		l.g.mu.RUnlock()
		if left == 0 {
			l.g.signal()
		}
	})
}

// GetNode - как GridGraph.GetNode
func (l *SearchLock) GetNode(x, z int) (Node, bool) {
	return getNode(l.g.live, x, z)
}

// Node возвращает указатель на живую клетку; действителен до Release
func (l *SearchLock) Node(x, z int) *Node {
	return l.g.live.At(x, z)
}

// Neighbour возвращает соединённого соседа клетки или nil
func (l *SearchLock) Neighbour(n *Node, dir int) *Node {
	if !n.HasConnection(dir) {
		return nil
	}
	return l.g.live.Neighbour(n, dir)
}

// DirectionCost - стоимость ребра
func (l *SearchLock) DirectionCost(dir int) uint32 {
	return l.g.costs[dir]
}

// GetNodesInRegion - как GridGraph.GetNodesInRegion
func (l *SearchLock) GetNodesInRegion(rect IntRect) []Node {
	return nodesInRegion(l.g.live, rect)
}

// NearestWalkable - как GridGraph.NearestWalkable
func (l *SearchLock) NearestWalkable(pos vec.Vec3Float, maxRadius int) (Node, bool) {
	return nearestWalkable(l.g.live, l.g.tr, l.g.layout, pos, maxRadius)
}

// Linecast - как GridGraph.Linecast
func (l *SearchLock) Linecast(from, to vec.Vec3Float, opts LinecastOptions) LinecastResult {
	res := worldLinecast(l.g.live, l.g.tr, l.g.layout, from, to, opts, l.g.logger)
	l.g.metrics.observeLinecast(res.Blocked)
	return res
}
