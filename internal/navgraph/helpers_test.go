package navgraph

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/annel0/navgraph/internal/logging"
)

// maskSampler отдаёт проходимость из текстовой карты: '.' - проходимо, '#' - нет.
// Строка rows[z] описывает клетки с координатой z, символ - координату x.
// Карту можно менять между сканированиями.
type maskSampler struct {
	mu      sync.Mutex
	rows    []string
	heights map[[2]int]float64
	failIn  IntRect
	calls   int
}

func newMaskSampler(rows ...string) *maskSampler {
	return &maskSampler{rows: rows, heights: map[[2]int]float64{}, failIn: EmptyRect}
}

func (s *maskSampler) setRows(rows ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = rows
}

func (s *maskSampler) setHeight(x, z int, h float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heights[[2]int{x, z}] = h
}

func (s *maskSampler) failWithin(r IntRect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failIn = r
}

func (s *maskSampler) Sample(ctx context.Context, rect IntRect, tr GridTransform) ([]Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if Intersects(rect, s.failIn) {
		return nil, errors.New("physics query timed out")
	}
	out := make([]Sample, 0, rect.Area())
	for z := rect.ZMin; z <= rect.ZMax; z++ {
		for x := rect.XMin; x <= rect.XMax; x++ {
			out = append(out, Sample{
				Height:   s.heights[[2]int{x, z}],
				Walkable: s.rows[z][x] == '.',
			})
		}
	}
	return out, nil
}

func testLogger() *logging.Logger {
	return logging.NewWriterLogger("navgraph-test", io.Discard, logging.ERROR)
}

// newTestGraph строит граф по карте с клетками размером 1 и углом в начале координат
func newTestGraph(t *testing.T, settings Settings, sampler *maskSampler) *GridGraph {
	t.Helper()
	layout := CornerAtOrigin(len(sampler.rows[0]), len(sampler.rows), 1)
	g, err := NewGridGraph(layout, settings, sampler, WithLogger(testLogger()))
	require.NoError(t, err)
	require.NoError(t, g.Scan(context.Background()))
	g.Start()
	t.Cleanup(g.Stop)
	return g
}

func plainSettings() Settings {
	s := DefaultSettings()
	s.ErosionIterations = 0
	s.UpdateWorkers = 4
	return s
}

func allNodes(g *GridGraph) []Node {
	return g.GetNodesInRegion(g.Bounds())
}

func waitHandle(t *testing.T, h *UpdateHandle) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-h.Done():
		return h.Err()
	case <-ctx.Done():
		t.Fatalf("обновление %s не завершилось, статус %s", h.ID, h.Status())
		return nil
	}
}

// requireSymmetric проверяет, что каждое соединение есть и в обратную сторону
func requireSymmetric(t *testing.T, g *GridGraph) {
	t.Helper()
	costs := g.DirectionCosts()
	for _, n := range allNodes(g) {
		for dir := 0; dir < 8; dir++ {
			if !n.HasConnection(dir) {
				continue
			}
			dx, dz := DirectionOffset(dir)
			nb, ok := g.GetNode(n.X+dx, n.Z+dz)
			require.True(t, ok, "соединение %d из (%d,%d) ведёт за сетку", dir, n.X, n.Z)
			back := OppositeDirection(dir)
			require.True(t, nb.HasConnection(back), "нет обратного соединения (%d,%d)->%d", n.X, n.Z, dir)
			require.Equal(t, costs[dir], costs[back])
		}
	}
}
