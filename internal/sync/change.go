package sync

import (
	"time"

	"github.com/annel0/navgraph/internal/navgraph"
)

// RegionChange - зафиксированное изменение области графа.
// Получатель пересчитывает Rect у себя или запрашивает снимок.
type RegionChange struct {
	ID         string           `json:"id"`
	Kind       string           `json:"kind"`
	Mode       string           `json:"mode"`
	Rect       navgraph.IntRect `json:"rect"`
	Generation uint64           `json:"generation"`
	Priority   int              `json:"priority"` // приоритизация для слияния при перегрузке
	Timestamp  time.Time        `json:"timestamp"`
}

// RebuiltEvent - граф перестроен целиком, полезная нагрузка TypeGraphRebuilt
type RebuiltEvent struct {
	Kind       string              `json:"kind"`
	Layout     navgraph.GridLayout `json:"layout"`
	Generation uint64              `json:"generation"`
	// Snapshot - имя снимка в общем хранилище, если лидер его сохранил
	Snapshot  string    `json:"snapshot,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// changeFromCommit переводит событие фиксации графа в изменение ленты
func changeFromCommit(ev navgraph.CommitEvent) RegionChange {
	priority := 3
	if ev.Kind == "walkability" || ev.Mode == navgraph.FromScratch {
		priority = 6
	}
	return RegionChange{
		ID:         ev.ID,
		Kind:       ev.Kind,
		Mode:       ev.Mode.String(),
		Rect:       ev.WriteMask,
		Generation: ev.Generation,
		Priority:   priority,
		Timestamp:  time.Now().UTC(),
	}
}
