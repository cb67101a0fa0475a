package navgraph

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// beginStructural захватывает право на структурное изменение графа
func (g *GridGraph) beginStructural() error {
	if g.searchLocks.Load() > 0 {
		return ErrNotSafeToUpdate
	}
	g.queueMu.Lock()
	closed := g.closed
	g.queueMu.Unlock()
	if closed {
		return ErrGraphClosed
	}
	g.workMu.Lock()
	return nil
}

// Scan полностью перестраивает граф по данным семплера
func (g *GridGraph) Scan(ctx context.Context) error {
	if err := g.beginStructural(); err != nil {
		return err
	}
	defer g.workMu.Unlock()

	g.mu.RLock()
	layout := g.layout
	g.mu.RUnlock()

	store, err := g.rebuild(ctx, layout)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.live = store
	g.scanned = true
	gen := g.generation
	g.mu.Unlock()

	g.afterRebuild("scan", layout, gen)
	return nil
}

// SetLayout меняет размеры или положение сетки и перестраивает граф целиком.
// Запросы, поставленные до смены, завершатся с ErrStaleUpdate.
func (g *GridGraph) SetLayout(ctx context.Context, layout GridLayout) error {
	if err := layout.Validate(); err != nil {
		return err
	}
	if err := g.beginStructural(); err != nil {
		return err
	}
	defer g.workMu.Unlock()

	store, err := g.rebuild(ctx, layout)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.swapLayout(layout, NewGridTransform(layout), store)
	gen := g.generation
	g.mu.Unlock()

	g.afterRebuild("layout", layout, gen)
	return nil
}

// Move сдвигает окно сетки на (dx, dz) клеток в пространстве графа.
// Оставшиеся на месте клетки переиспользуются, новые полосы по краям
// семплируются и пересчитываются, а затем всё фиксируется одной подменой.
func (g *GridGraph) Move(ctx context.Context, dx, dz int) error {
	if err := g.beginStructural(); err != nil {
		return err
	}
	defer g.workMu.Unlock()

	g.mu.RLock()
	layout, tr, scanned := g.layout, g.tr, g.scanned
	g.mu.RUnlock()
	if !scanned {
		return ErrNotScanned
	}
	if dx == 0 && dz == 0 {
		return nil
	}

	next := layout
	next.Center = movedCenter(layout, tr, dx, dz)
	nextTr := NewGridTransform(next)

	ctx, span := g.tracer.Start(ctx, "navgraph.move")
	span.SetAttributes(attribute.Int("move.dx", dx), attribute.Int("move.dz", dz))
	defer span.End()

	var store *NodeStore
	var err error
	if absInt(dx) >= layout.Width || absInt(dz) >= layout.Depth {
		store, err = g.rebuild(ctx, next)
	} else {
		store, err = g.shift(ctx, next, dx, dz)
	}
	if err != nil {
		span.RecordError(err)
		return err
	}

	g.mu.Lock()
	g.swapLayout(next, nextTr, store)
	gen := g.generation
	g.mu.Unlock()

	g.logger.Debug("Сетка сдвинута на (%d,%d), новый центр %s", dx, dz, next.Center)
	g.afterRebuild("move", next, gen)
	return nil
}

// swapLayout вызывается под g.mu.Lock
func (g *GridGraph) swapLayout(layout GridLayout, tr GridTransform, store *NodeStore) {
	g.layout = layout
	g.tr = tr
	g.costs = DirectionCosts(g.settings.Neighbours, layout.NodeSize, g.settings.UniformEdgeCosts)
	g.live = store
	g.scanned = true
	g.generation++
}

// rebuild строит новое хранилище всей сетки без чтения живых данных
func (g *GridGraph) rebuild(ctx context.Context, layout GridLayout) (*NodeStore, error) {
	ctx, span := g.tracer.Start(ctx, "navgraph.scan")
	defer span.End()
	span.SetAttributes(attribute.Int("grid.width", layout.Width), attribute.Int("grid.depth", layout.Depth))

	bounds := layout.Bounds()
	plan := PlanRegion(bounds, FromScratch, bounds, g.settings)
	p := newPipeline(g.settings, layout, g.sampler)
	store, err := p.prepare(ctx, plan, nil, nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("scan %dx%d: %w", layout.Width, layout.Depth, err)
	}
	return store, nil
}

// shift переносит живые клетки в сдвинутую сетку и пересчитывает новые полосы
func (g *GridGraph) shift(ctx context.Context, layout GridLayout, dx, dz int) (*NodeStore, error) {
	g.mu.RLock()
	shifted := shiftedStore(g.live, dx, dz)
	g.mu.RUnlock()

	p := newPipeline(g.settings, layout, g.sampler)
	p.refreshPositions(shifted)

	bounds := layout.Bounds()
	borders := moveBorders(bounds, dx, dz)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.settings.UpdateWorkers)
	for _, r := range borders {
		r := r
		eg.Go(func() error { return p.sampleInto(egCtx, shifted, r) })
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	// Все полосы считаются по одному снимку и только потом накладываются.
	// Новые края сетки тоже пересчитываются: у их клеток пропали соседи.
	rects := append(borders, trailingEdges(bounds, dx, dz)...)
	plans := make([]RegionPlan, len(rects))
	bufs := make([]*NodeStore, len(rects))
	var compute errgroup.Group
	compute.SetLimit(g.settings.UpdateWorkers)
	for i, r := range rects {
		i, r := i, r
		plans[i] = PlanRegion(r, Minimal, bounds, g.settings)
		compute.Go(func() error {
			buf := NewNodeStore(plans[i].Read)
			buf.CopyFrom(shifted, plans[i].Read)
			p.compute(buf, plans[i].WriteMask)
			bufs[i] = buf
			return nil
		})
	}
	_ = compute.Wait()

	for i := range rects {
		shifted.CopyFrom(bufs[i], plans[i].WriteMask)
	}
	return shifted, nil
}

func (g *GridGraph) afterRebuild(kind string, layout GridLayout, gen uint64) {
	st := g.Stats()
	g.metrics.setWalkable(st.WalkableEroded)
	g.logger.Info("Граф перестроен (%s): %dx%d, проходимых клеток %d из %d", kind, layout.Width, layout.Depth, st.WalkableEroded, st.Nodes)
	g.notify(CommitEvent{Kind: kind, Mode: FromScratch, WriteMask: layout.Bounds(), Generation: gen})
}
