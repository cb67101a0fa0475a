package navgraph

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/annel0/navgraph/internal/vec"
)

// pipeline - чистые шаги подготовки обновления: семплирование, связность, эрозия.
// Работает только со своим буфером и не трогает живое хранилище графа.
type pipeline struct {
	settings Settings
	grid     IntRect
	tr       GridTransform
	sampler  Sampler
}

func newPipeline(s Settings, layout GridLayout, sampler Sampler) *pipeline {
	return &pipeline{settings: s, grid: layout.Bounds(), tr: NewGridTransform(layout), sampler: sampler}
}

// prepare строит промежуточный буфер над plan.Read.
// snapshot копирует живые клетки прямоугольника в буфер и вызывается,
// только если обновление не перестраивает всю область чтения.
func (p *pipeline) prepare(ctx context.Context, plan RegionPlan, mod CellModifier, snapshot func(dst *NodeStore)) (*NodeStore, error) {
	buf := NewNodeStore(plan.Read)
	if !plan.FullRebuild() {
		snapshot(buf)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if plan.Mode == FromScratch {
		if err := p.sampleInto(ctx, buf, plan.Recalc); err != nil {
			return nil, err
		}
	}

	if mod != nil {
		buf.Each(Intersection(plan.Dirty, plan.Read), mod.ModifyCell)
	}

	if plan.Mode == NoRecalculation {
		return buf, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.compute(buf, plan.WriteMask)
	return buf, nil
}

// compute считает связность по всему буферу, выполняет эрозию и
// пересчитывает связность клеток writeMask по проходимости после эрозии.
func (p *pipeline) compute(buf *NodeStore, writeMask IntRect) {
	up := p.tr.Up()
	newConnectivity(p.settings, up, false).calculate(buf, buf.Bounds())

	if p.settings.ErosionIterations > 0 {
		newErosion(p.settings, p.grid).apply(buf)
	} else {
		buf.Each(buf.Bounds(), func(n *Node) { n.WalkableEroded = n.Walkable })
	}

	newConnectivity(p.settings, up, true).calculate(buf, writeMask)
}

// sampleInto опрашивает семплер по rect и инициализирует клетки буфера заново.
// Большие прямоугольники режутся на квадраты и опрашиваются параллельно.
func (p *pipeline) sampleInto(ctx context.Context, buf *NodeStore, rect IntRect) error {
	if p.settings.SampleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.settings.SampleTimeout)
		defer cancel()
	}

	chunks := splitRect(rect, p.settings.SampleChunkSize)
	if len(chunks) == 1 {
		return p.sampleChunk(ctx, buf, rect)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.settings.UpdateWorkers)
	for _, chunk := range chunks {
		chunk := chunk
		eg.Go(func() error {
			return p.sampleChunk(egCtx, buf, chunk)
		})
	}
	return eg.Wait()
}

func (p *pipeline) sampleChunk(ctx context.Context, buf *NodeStore, rect IntRect) error {
	samples, err := p.sampler.Sample(ctx, rect, p.tr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSamplerFailed, rect, err)
	}
	if len(samples) != rect.Area() {
		return fmt.Errorf("%w: %s: got %d samples, want %d", ErrSamplerFailed, rect, len(samples), rect.Area())
	}

	i := 0
	buf.Each(rect, func(n *Node) {
		p.initNode(n, samples[i])
		i++
	})
	return nil
}

// initNode сбрасывает клетку к данным семплера
func (p *pipeline) initNode(n *Node, s Sample) {
	up := p.tr.Up()
	normal := s.Normal
	if normal.IsZero() {
		normal = up
	} else {
		normal = normal.Normalized()
	}

	n.Height = s.Height
	n.Normal = normal
	n.Position = p.tr.NodeCenter(n.X, n.Z, s.Height)
	n.Walkable = s.Walkable && slopeWalkable(normal, up, p.settings.MaxSlope)
	n.WalkableEroded = n.Walkable
	n.Penalty = p.settings.InitialPenalty + s.Penalty
	n.Tag = 0
	n.Connections = 0
}

// refreshPositions пересчитывает кэшированные мировые позиции после смены раскладки
func (p *pipeline) refreshPositions(store *NodeStore) {
	store.Each(store.Bounds(), func(n *Node) {
		n.Position = p.tr.NodeCenter(n.X, n.Z, n.Height)
	})
}

// splitRect режет прямоугольник на квадраты со стороной size
func splitRect(rect IntRect, size int) []IntRect {
	if !rect.IsValid() {
		return nil
	}
	if size <= 0 || (rect.Width() <= size && rect.Height() <= size) {
		return []IntRect{rect}
	}
	var out []IntRect
	for z := rect.ZMin; z <= rect.ZMax; z += size {
		for x := rect.XMin; x <= rect.XMax; x += size {
			out = append(out, IntRect{
				XMin: x,
				ZMin: z,
				XMax: min(x+size-1, rect.XMax),
				ZMax: min(z+size-1, rect.ZMax),
			})
		}
	}
	return out
}

// moveBorders - полосы новой сетки, не покрытые старой после сдвига на (dx, dz).
// Левая/правая полосы занимают всю высоту, нижняя/верхняя - промежуток между ними.
func moveBorders(grid IntRect, dx, dz int) []IntRect {
	var out []IntRect
	inner := grid
	if dx > 0 {
		out = append(out, IntRect{XMin: grid.XMax - dx + 1, ZMin: grid.ZMin, XMax: grid.XMax, ZMax: grid.ZMax})
		inner.XMax -= dx
	} else if dx < 0 {
		out = append(out, IntRect{XMin: grid.XMin, ZMin: grid.ZMin, XMax: grid.XMin - dx - 1, ZMax: grid.ZMax})
		inner.XMin -= dx
	}
	if dz > 0 {
		out = append(out, IntRect{XMin: inner.XMin, ZMin: grid.ZMax - dz + 1, XMax: inner.XMax, ZMax: grid.ZMax})
	} else if dz < 0 {
		out = append(out, IntRect{XMin: inner.XMin, ZMin: grid.ZMin, XMax: inner.XMax, ZMax: grid.ZMin - dz - 1})
	}
	return out
}

// trailingEdges - крайние ряды новой сетки, которые до сдвига были внутренними.
// Их связность и эрозию нужно пересчитать, хотя данные клеток остались прежними.
func trailingEdges(grid IntRect, dx, dz int) []IntRect {
	var out []IntRect
	if dx > 0 {
		out = append(out, IntRect{XMin: grid.XMin, ZMin: grid.ZMin, XMax: grid.XMin, ZMax: grid.ZMax})
	} else if dx < 0 {
		out = append(out, IntRect{XMin: grid.XMax, ZMin: grid.ZMin, XMax: grid.XMax, ZMax: grid.ZMax})
	}
	if dz > 0 {
		out = append(out, IntRect{XMin: grid.XMin, ZMin: grid.ZMin, XMax: grid.XMax, ZMax: grid.ZMin})
	} else if dz < 0 {
		out = append(out, IntRect{XMin: grid.XMin, ZMin: grid.ZMax, XMax: grid.XMax, ZMax: grid.ZMax})
	}
	return out
}

// shiftedStore строит хранилище новой сетки, где клетка (x, z) берётся из (x+dx, z+dz) старой
func shiftedStore(old *NodeStore, dx, dz int) *NodeStore {
	bounds := old.Bounds()
	next := NewNodeStore(bounds)
	next.Each(bounds, func(n *Node) {
		src := old.At(n.X+dx, n.Z+dz)
		if src == nil {
			return
		}
		x, z := n.X, n.Z
		*n = *src
		n.X, n.Z = x, z
	})
	return next
}

// movedCenter - центр раскладки после сдвига на (dx, dz) клеток в пространстве графа
func movedCenter(l GridLayout, tr GridTransform, dx, dz int) vec.Vec3Float {
	return l.Center.Add(tr.TransformVector(vec.Vec3Float{X: float64(dx), Z: float64(dz)}))
}
