package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/annel0/navgraph/internal/logging"
	"github.com/annel0/navgraph/internal/navgraph"
	"github.com/annel0/navgraph/internal/storage"
)

// GraphApplier повторяет изменения лидера на локальной реплике графа.
// Области пересчитываются локальным семплером; перестройка берёт снимок
// из общего хранилища, если лидер его сохранил, иначе сканирует заново.
type GraphApplier struct {
	graph  *navgraph.GridGraph
	store  storage.SnapshotStore
	logger *logging.Logger
}

// NewGraphApplier создаёт применитель; store может быть nil
func NewGraphApplier(g *navgraph.GridGraph, store storage.SnapshotStore, logger *logging.Logger) *GraphApplier {
	if logger == nil {
		logger = logging.GetSyncLogger()
	}
	return &GraphApplier{graph: g, store: store, logger: logger}
}

// ApplyRegions ставит в очередь пересчёт каждой области.
// Ожидать завершения не нужно: порядок сохраняет очередь графа.
func (a *GraphApplier) ApplyRegions(_ context.Context, source string, changes []RegionChange) error {
	bounds := a.graph.Bounds()
	var errs []error
	for _, ch := range changes {
		rect := navgraph.Intersection(ch.Rect, bounds)
		if !rect.IsValid() {
			continue
		}
		mode, err := navgraph.ParseUpdateMode(ch.Mode)
		if err != nil || mode == navgraph.NoRecalculation {
			// Модификаторы лидера не передаются, поэтому область пересчитывается по семплеру
			mode = navgraph.FromScratch
		}
		if _, err := a.graph.ScheduleUpdate(navgraph.UpdateRequest{Rect: rect, Mode: mode, Kind: "replica"}); err != nil {
			errs = append(errs, fmt.Errorf("change %s from %s: %w", ch.ID, source, err))
		}
	}
	return errors.Join(errs...)
}

// Rebuild перестраивает граф по событию лидера
func (a *GraphApplier) Rebuild(ctx context.Context, source string, ev RebuiltEvent) error {
	if ev.Snapshot != "" && a.store != nil {
		snap, err := a.store.Load(ctx, ev.Snapshot)
		if err == nil {
			_, err = a.graph.LoadSnapshot(snap)
		}
		if err == nil {
			return nil
		}
		a.logger.Warn("⚠️ Снимок %s от %s недоступен (%v), сканируем заново", ev.Snapshot, source, err)
	}
	if ev.Layout != a.graph.Layout() {
		return a.graph.SetLayout(ctx, ev.Layout)
	}
	return a.graph.Scan(ctx)
}
