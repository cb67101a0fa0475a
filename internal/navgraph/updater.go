package navgraph

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Start запускает обработчик очереди обновлений
func (g *GridGraph) Start() {
	g.queueMu.Lock()
	defer g.queueMu.Unlock()
	if g.started || g.closed {
		return
	}
	g.started = true
	g.wg.Add(1)
	go g.run()
	g.logger.Info("🧭 Обработчик обновлений графа запущен (%dx%d, воркеров: %d)",
		g.layout.Width, g.layout.Depth, g.settings.UpdateWorkers)
}

// Stop останавливает обработчик. Незавершённые запросы получают ErrGraphClosed.
func (g *GridGraph) Stop() {
	g.queueMu.Lock()
	if g.closed {
		g.queueMu.Unlock()
		return
	}
	g.closed = true
	g.queueMu.Unlock()

	g.stop()
	g.wg.Wait()

	g.queueMu.Lock()
	pending := g.queue
	g.queue = nil
	g.queueMu.Unlock()
	for _, h := range pending {
		h.finish(UpdateFailed, ErrGraphClosed)
		g.metrics.observeUpdate(UpdateFailed)
	}
	g.metrics.setQueueDepth(0)
	g.logger.Info("🛑 Обработчик обновлений графа остановлен, отброшено запросов: %d", len(pending))
}

// ScheduleUpdate ставит пересчёт прямоугольника в очередь.
// Прямоугольник должен целиком лежать в сетке: пользовательские прямоугольники не обрезаются.
func (g *GridGraph) ScheduleUpdate(req UpdateRequest) (*UpdateHandle, error) {
	bounds := g.Bounds()
	if !req.Rect.IsValid() || !bounds.ContainsRect(req.Rect) {
		return nil, fmt.Errorf("%w: %s not inside %s", ErrRectOutOfBounds, req.Rect, bounds)
	}
	return g.schedule(req)
}

// SetWalkability записывает проходимость клеток rect (в порядке строк) и ставит
// в очередь минимальный пересчёт rect, расширенного на одну клетку.
func (g *GridGraph) SetWalkability(cells []bool, rect IntRect) (*UpdateHandle, error) {
	bounds := g.Bounds()
	if !rect.IsValid() || !bounds.ContainsRect(rect) {
		return nil, fmt.Errorf("%w: %s not inside %s", ErrRectOutOfBounds, rect, bounds)
	}
	if len(cells) != rect.Area() {
		return nil, fmt.Errorf("%w: got %d cells for %s (%d)", ErrCellsMismatch, len(cells), rect, rect.Area())
	}
	mask := cellMaskModifier{rect: rect, cells: append([]bool(nil), cells...)}
	return g.schedule(UpdateRequest{
		Rect:     Intersection(rect.Expand(1), bounds),
		Mode:     Minimal,
		Modifier: mask,
		Kind:     "walkability",
	})
}

func (g *GridGraph) schedule(req UpdateRequest) (*UpdateHandle, error) {
	if req.Mode == NoRecalculation && req.Modifier != nil && req.Modifier.AffectsWalkability() {
		// Смена проходимости без пересчёта связности нарушила бы симметрию соединений
		req.Mode = Minimal
	}
	if req.Kind == "" {
		req.Kind = "update"
	}

	g.mu.RLock()
	scanned := g.scanned
	gen := g.generation
	plan := PlanRegion(req.Rect, req.Mode, g.layout.Bounds(), g.settings)
	g.mu.RUnlock()
	if !scanned {
		return nil, ErrNotScanned
	}

	g.queueMu.Lock()
	defer g.queueMu.Unlock()
	if g.closed {
		return nil, ErrGraphClosed
	}
	h := newUpdateHandle(g.baseCtx, req, plan, gen)
	g.queue = append(g.queue, h)
	g.metrics.setQueueDepth(len(g.queue))
	g.signal()
	return h, nil
}

func (g *GridGraph) signal() {
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

func (g *GridGraph) run() {
	defer g.wg.Done()
	for {
		select {
		case <-g.baseCtx.Done():
			return
		case <-g.wake:
		}

		for {
			// Пока поиск держит граф, копим запросы и обрабатываем их одним пакетом
			if g.searchLocks.Load() > 0 {
				g.metrics.searchPause()
				break
			}
			g.queueMu.Lock()
			batch := g.queue
			g.queue = nil
			g.queueMu.Unlock()
			g.metrics.setQueueDepth(0)
			if len(batch) == 0 {
				break
			}
			g.processBatch(batch)
			if g.baseCtx.Err() != nil {
				return
			}
		}
	}
}

// processBatch готовит и фиксирует пакет запросов волнами
func (g *GridGraph) processBatch(batch []*UpdateHandle) {
	g.workMu.Lock()
	defer g.workMu.Unlock()

	g.mu.RLock()
	gen := g.generation
	p := newPipeline(g.settings, g.layout, g.sampler)
	g.mu.RUnlock()

	active := make([]*UpdateHandle, 0, len(batch))
	for _, h := range batch {
		switch {
		case h.cancelled():
			g.complete(h, UpdateCancelled, context.Canceled)
		case h.generation != gen:
			g.complete(h, UpdateFailed, ErrStaleUpdate)
		case h.Plan.Empty():
			g.complete(h, UpdateSkipped, nil)
		default:
			active = append(active, h)
		}
	}

	waves := splitWaves(active)
	if len(waves) > 1 {
		g.logger.Debug("Пакет из %d обновлений разбит на %d волн", len(active), len(waves))
	}
	for _, wave := range waves {
		g.runWave(p, wave)
	}
}

// splitWaves раскладывает запросы по волнам так, чтобы результат совпадал с
// последовательной обработкой: запрос попадает в волну после каждого более
// раннего запроса, чью область записи он читает, и не раньше каждого более
// раннего запроса, который читает его область записи.
func splitWaves(hs []*UpdateHandle) [][]*UpdateHandle {
	waveOf := make([]int, len(hs))
	var waves [][]*UpdateHandle
	for i, b := range hs {
		w := 0
		for j := 0; j < i; j++ {
			a := hs[j]
			if Intersects(b.Plan.Read, a.Plan.WriteMask) {
				w = max(w, waveOf[j]+1)
			}
			if Intersects(a.Plan.Read, b.Plan.WriteMask) {
				w = max(w, waveOf[j])
			}
		}
		waveOf[i] = w
		for len(waves) <= w {
			waves = append(waves, nil)
		}
		waves[w] = append(waves[w], b)
	}
	return waves
}

// runWave параллельно готовит независимые запросы и фиксирует удачные под одной блокировкой
func (g *GridGraph) runWave(p *pipeline, wave []*UpdateHandle) {
	bufs := make([]*NodeStore, len(wave))

	var eg errgroup.Group
	eg.SetLimit(g.settings.UpdateWorkers)
	for i, h := range wave {
		i, h := i, h
		if !h.transition(UpdatePending, UpdatePreparing) {
			continue
		}
		eg.Go(func() error {
			ctx, span := g.tracer.Start(h.ctx, "navgraph.prepare")
			span.SetAttributes(
				attribute.String("update.id", h.ID.String()),
				attribute.String("update.mode", h.Plan.Mode.String()),
				attribute.String("update.read", h.Plan.Read.String()),
			)
			defer span.End()

			start := time.Now()
			buf, err := p.prepare(ctx, h.Plan, h.Request.Modifier, g.snapshotInto)
			g.metrics.observePrepare(h.Plan.Mode, time.Since(start))
			if err != nil {
				span.RecordError(err)
				if h.cancelled() {
					g.complete(h, UpdateCancelled, err)
				} else {
					g.logger.Warn("Обновление %s области %s не удалось: %v", h.ID, h.Plan.Recalc, err)
					g.complete(h, UpdateFailed, err)
				}
				return nil
			}
			bufs[i] = buf
			return nil
		})
	}
	_ = eg.Wait()

	_, span := g.tracer.Start(g.baseCtx, "navgraph.commit")
	committed := make([]bool, len(wave))
	g.mu.Lock()
	start := time.Now()
	for i, h := range wave {
		if bufs[i] == nil || !h.beginCommit() {
			continue
		}
		g.live.CopyFrom(bufs[i], h.Plan.WriteMask)
		committed[i] = true
	}
	gen := g.generation
	g.mu.Unlock()
	g.metrics.observeCommit(time.Since(start))
	span.End()

	for i, h := range wave {
		switch {
		case committed[i]:
			g.complete(h, UpdateCompleted, nil)
			g.notify(CommitEvent{
				ID:         h.ID.String(),
				Kind:       h.Request.Kind,
				Mode:       h.Plan.Mode,
				WriteMask:  h.Plan.WriteMask,
				Generation: gen,
			})
		case bufs[i] != nil:
			g.complete(h, UpdateCancelled, context.Canceled)
		}
	}
}

// snapshotInto копирует живые клетки под областью буфера
func (g *GridGraph) snapshotInto(dst *NodeStore) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	dst.CopyFrom(g.live, dst.Bounds())
}

func (g *GridGraph) complete(h *UpdateHandle, status UpdateStatus, err error) {
	h.finish(status, err)
	g.metrics.observeUpdate(status)
}
