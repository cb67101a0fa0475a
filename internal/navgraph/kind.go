package navgraph

import (
	"context"

	"github.com/annel0/navgraph/internal/vec"
)

// Kind - вид навигационного графа
type Kind int

const (
	KindGrid Kind = iota
	KindNavmesh
	KindRecast
)

func (k Kind) String() string {
	switch k {
	case KindGrid:
		return "grid"
	case KindNavmesh:
		return "navmesh"
	case KindRecast:
		return "recast"
	}
	return "unknown"
}

// Graph - общие возможности навигационных графов, которыми пользуется поиск пути.
// Сеточный граф реализует все; графы на сетке треугольников строятся отдельно.
type Graph interface {
	Kind() Kind
	NearestNode(pos vec.Vec3Float) (Node, bool)
	GetNodesInRegion(rect IntRect) []Node
	Linecast(from, to vec.Vec3Float, opts LinecastOptions) LinecastResult
	ScheduleUpdate(req UpdateRequest) (*UpdateHandle, error)
	Scan(ctx context.Context) error
}

var _ Graph = (*GridGraph)(nil)

// CommitEvent описывает изменение живого хранилища
type CommitEvent struct {
	ID         string
	Kind       string
	Mode       UpdateMode
	WriteMask  IntRect
	Generation uint64
}

// Structural - фиксация перестроила весь граф (сканирование, раскладка, сдвиг, снимок)
func (ev CommitEvent) Structural() bool {
	switch ev.Kind {
	case "scan", "layout", "move", "snapshot":
		return true
	}
	return false
}

// CommitListener вызывается после фиксации, вне блокировок графа
type CommitListener func(ev CommitEvent)
