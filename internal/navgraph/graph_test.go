package navgraph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/navgraph/internal/vec"
)

var obstacleRows = []string{
	"..........",
	"..##......",
	"..##...#..",
	".......#..",
	"....#.....",
	"..........",
	"...#####..",
	"..........",
}

func TestNewGridGraphValidation(t *testing.T) {
	sampler := newMaskSampler(obstacleRows...)
	_, err := NewGridGraph(CornerAtOrigin(0, 4, 1), plainSettings(), sampler)
	assert.ErrorIs(t, err, ErrInvalidLayout)

	s := plainSettings()
	s.Neighbours = 5
	_, err = NewGridGraph(CornerAtOrigin(4, 4, 1), s, sampler)
	assert.ErrorIs(t, err, ErrInvalidSettings)

	_, err = NewGridGraph(CornerAtOrigin(4, 4, 1), plainSettings(), nil)
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestScanBuildsGraph(t *testing.T) {
	g := newTestGraph(t, plainSettings(), newMaskSampler(obstacleRows...))

	n, ok := g.GetNode(2, 1)
	require.True(t, ok)
	assert.False(t, n.Walkable)
	assert.Zero(t, n.Connections)

	n, ok = g.GetNode(0, 0)
	require.True(t, ok)
	assert.True(t, n.WalkableEroded)
	assertVecNear(t, vec.Vec3Float{X: 0.5, Z: 0.5}, n.Position)

	_, ok = g.GetNode(10, 0)
	assert.False(t, ok)

	nodes := g.GetNodesInRegion(NewIntRect(-5, -5, 1, 1))
	assert.Len(t, nodes, 4, "запрос на чтение обрезается сеткой")

	st := g.Stats()
	assert.Equal(t, 80, st.Nodes)
	assert.Equal(t, 80-12, st.Walkable)
	requireSymmetric(t, g)
}

func TestUpdateBeforeScan(t *testing.T) {
	g, err := NewGridGraph(CornerAtOrigin(4, 4, 1), plainSettings(), newMaskSampler(openRows(4, 4)...))
	require.NoError(t, err)
	_, err = g.ScheduleUpdate(UpdateRequest{Rect: NewIntRect(0, 0, 1, 1)})
	assert.ErrorIs(t, err, ErrNotScanned)
}

func TestScheduleUpdateRejectsOutOfBounds(t *testing.T) {
	g := newTestGraph(t, plainSettings(), newMaskSampler(obstacleRows...))

	_, err := g.ScheduleUpdate(UpdateRequest{Rect: NewIntRect(8, 6, 10, 7)})
	assert.ErrorIs(t, err, ErrRectOutOfBounds)
	_, err = g.ScheduleUpdate(UpdateRequest{Rect: EmptyRect})
	assert.ErrorIs(t, err, ErrRectOutOfBounds)
}

func TestFromScratchUpdatePicksUpWorldChange(t *testing.T) {
	sampler := newMaskSampler(obstacleRows...)
	g := newTestGraph(t, plainSettings(), sampler)

	rows := append([]string(nil), obstacleRows...)
	rows[4] = "....#..##."
	sampler.setRows(rows...)

	h, err := g.ScheduleUpdate(UpdateRequest{Rect: NewIntRect(7, 4, 8, 4)})
	require.NoError(t, err)
	require.NoError(t, waitHandle(t, h))
	assert.Equal(t, UpdateCompleted, h.Status())

	n, _ := g.GetNode(7, 4)
	assert.False(t, n.Walkable)
	n, _ = g.GetNode(6, 4)
	assert.False(t, n.HasConnection(DirEast))
	requireSymmetric(t, g)
}

// Полный пересчёт и пересчёт по кускам дают одинаковый граф
func TestChunkedUpdatesMatchFullScan(t *testing.T) {
	for _, mode := range []NeighbourMode{NeighboursFour, NeighboursSix, NeighboursEight} {
		s := plainSettings()
		s.Neighbours = mode
		s.ErosionIterations = 2
		s.CutCorners = false

		full := newTestGraph(t, s, newMaskSampler(obstacleRows...))

		chunkedSettings := s
		chunkedSettings.SampleChunkSize = 3
		chunkedScan := newTestGraph(t, chunkedSettings, newMaskSampler(obstacleRows...))
		assert.Equal(t, allNodes(full), allNodes(chunkedScan), "mode=%d: чанки при сканировании", mode)

		sampler := newMaskSampler(openRows(10, 8)...)
		incremental := newTestGraph(t, s, sampler)
		sampler.setRows(obstacleRows...)
		for _, r := range splitRect(incremental.Bounds(), 3) {
			h, err := incremental.ScheduleUpdate(UpdateRequest{Rect: r})
			require.NoError(t, err)
			require.NoError(t, waitHandle(t, h))
		}
		assert.Equal(t, allNodes(full), allNodes(incremental), "mode=%d: пересчёт по областям", mode)
	}
}

// Препятствия у самого края сетки: пересчёт по кускам совпадает с полным,
// а клетки на краю сетки вдали от препятствий не размываются
func TestChunkedUpdatesMatchFullScanAtGridBorder(t *testing.T) {
	rows := []string{
		"#.........",
		"..........",
		"......#...",
		"..........",
		".........#",
		"...#......",
		"..........",
		"#.........",
	}
	for _, mode := range []NeighbourMode{NeighboursFour, NeighboursSix, NeighboursEight} {
		s := plainSettings()
		s.Neighbours = mode
		s.ErosionIterations = 2

		full := newTestGraph(t, s, newMaskSampler(rows...))
		for _, c := range [][2]int{{9, 0}, {9, 7}, {7, 7}} {
			n, ok := full.GetNode(c[0], c[1])
			require.True(t, ok)
			assert.True(t, n.WalkableEroded, "mode=%d: край сетки (%d,%d)", mode, c[0], c[1])
		}

		sampler := newMaskSampler(openRows(10, 8)...)
		incremental := newTestGraph(t, s, sampler)
		sampler.setRows(rows...)
		for _, r := range splitRect(incremental.Bounds(), 3) {
			h, err := incremental.ScheduleUpdate(UpdateRequest{Rect: r})
			require.NoError(t, err)
			require.NoError(t, waitHandle(t, h))
		}
		assert.Equal(t, allNodes(full), allNodes(incremental), "mode=%d", mode)
	}
}

// Эрозия тегами по кускам 2x2 даёт тот же граф, что и полное сканирование
func TestTagErosionChunkedMatchesFullScan(t *testing.T) {
	for _, mode := range []NeighbourMode{NeighboursFour, NeighboursSix, NeighboursEight} {
		s := plainSettings()
		s.Neighbours = mode
		s.ErosionIterations = 3
		s.ErosionUseTags = true
		s.ErosionFirstTag = 2

		full := newTestGraph(t, s, newMaskSampler(obstacleRows...))

		sampler := newMaskSampler(openRows(10, 8)...)
		incremental := newTestGraph(t, s, sampler)
		sampler.setRows(obstacleRows...)
		for _, r := range splitRect(incremental.Bounds(), 2) {
			h, err := incremental.ScheduleUpdate(UpdateRequest{Rect: r})
			require.NoError(t, err)
			require.NoError(t, waitHandle(t, h))
		}
		assert.Equal(t, allNodes(full), allNodes(incremental), "mode=%d", mode)

		tagged := 0
		for _, n := range allNodes(full) {
			if n.Tag >= 2 && n.Tag < 5 {
				tagged++
			}
		}
		assert.NotZero(t, tagged, "mode=%d: эрозия не поставила ни одного тега", mode)
	}
}

func TestRepeatedUpdateIsIdempotent(t *testing.T) {
	s := plainSettings()
	s.ErosionIterations = 1
	s.InitialPenalty = 5
	g := newTestGraph(t, s, newMaskSampler(obstacleRows...))

	rect := NewIntRect(1, 1, 5, 4)
	h, err := g.ScheduleUpdate(UpdateRequest{Rect: rect, Modifier: PenaltyModifier{Delta: 7}})
	require.NoError(t, err)
	require.NoError(t, waitHandle(t, h))
	first := allNodes(g)

	h, err = g.ScheduleUpdate(UpdateRequest{Rect: rect, Modifier: PenaltyModifier{Delta: 7}})
	require.NoError(t, err)
	require.NoError(t, waitHandle(t, h))
	assert.Equal(t, first, allNodes(g))

	n, _ := g.GetNode(1, 1)
	assert.Equal(t, uint32(12), n.Penalty)
}

func TestSetWalkability(t *testing.T) {
	g := newTestGraph(t, plainSettings(), newMaskSampler(openRows(6, 6)...))

	_, err := g.SetWalkability([]bool{false}, NewIntRect(5, 5, 6, 6))
	assert.ErrorIs(t, err, ErrRectOutOfBounds)
	_, err = g.SetWalkability([]bool{false, true}, NewIntRect(1, 1, 2, 2))
	assert.ErrorIs(t, err, ErrCellsMismatch)

	h, err := g.SetWalkability([]bool{false, true, true, false}, NewIntRect(2, 2, 3, 3))
	require.NoError(t, err)
	require.NoError(t, waitHandle(t, h))

	n, _ := g.GetNode(2, 2)
	assert.False(t, n.Walkable)
	n, _ = g.GetNode(3, 3)
	assert.False(t, n.Walkable)
	n, _ = g.GetNode(3, 2)
	assert.True(t, n.Walkable)
	n, _ = g.GetNode(1, 2)
	assert.False(t, n.HasConnection(DirEast), "сосед за пределами rect пересчитан")
	requireSymmetric(t, g)
}

func TestNoRecalculationOnlyAppliesModifier(t *testing.T) {
	g := newTestGraph(t, plainSettings(), newMaskSampler(obstacleRows...))
	before := allNodes(g)

	h, err := g.ScheduleUpdate(UpdateRequest{Rect: NewIntRect(0, 0, 1, 1), Mode: NoRecalculation, Modifier: TagModifier{Tag: 3}})
	require.NoError(t, err)
	require.NoError(t, waitHandle(t, h))

	after := allNodes(g)
	for i := range after {
		if after[i].X <= 1 && after[i].Z <= 1 {
			assert.Equal(t, uint8(3), after[i].Tag)
			after[i].Tag = before[i].Tag
		}
	}
	assert.Equal(t, before, after)

	// Смена проходимости без пересчёта повышается до минимального режима
	h, err = g.ScheduleUpdate(UpdateRequest{Rect: NewIntRect(5, 5, 5, 5), Mode: NoRecalculation, Modifier: WalkabilityModifier{Walkable: false}})
	require.NoError(t, err)
	require.NoError(t, waitHandle(t, h))
	assert.Equal(t, Minimal, h.Plan.Mode)
	requireSymmetric(t, g)
}

func TestSamplerFailureLeavesGraphUntouched(t *testing.T) {
	sampler := newMaskSampler(obstacleRows...)
	g := newTestGraph(t, plainSettings(), sampler)
	before := allNodes(g)

	rows := append([]string(nil), obstacleRows...)
	rows[0] = "#########."
	rows[7] = "#########."
	sampler.setRows(rows...)
	sampler.failWithin(NewIntRect(0, 0, 3, 1))

	// Пока поиск держит граф, оба запроса копятся в одном пакете
	lock := g.LockForSearch()
	failing, err := g.ScheduleUpdate(UpdateRequest{Rect: NewIntRect(0, 0, 2, 0)})
	require.NoError(t, err)
	ok, err := g.ScheduleUpdate(UpdateRequest{Rect: NewIntRect(0, 7, 2, 7)})
	require.NoError(t, err)
	lock.Release()

	assert.ErrorIs(t, waitHandle(t, failing), ErrSamplerFailed)
	assert.Equal(t, UpdateFailed, failing.Status())
	require.NoError(t, waitHandle(t, ok))

	after := allNodes(g)
	for i := range after {
		if after[i].Z == 0 {
			assert.Equal(t, before[i], after[i], "клетка (%d,0) изменилась после неудачного обновления", after[i].X)
		}
	}
	n, _ := g.GetNode(1, 7)
	assert.False(t, n.Walkable, "независимое обновление зафиксировано")
}

func TestSearchLockPausesUpdatesAndBlocksStructuralChanges(t *testing.T) {
	sampler := newMaskSampler(obstacleRows...)
	g := newTestGraph(t, plainSettings(), sampler)

	lock := g.LockForSearch()
	h, err := g.ScheduleUpdate(UpdateRequest{Rect: NewIntRect(0, 0, 1, 1), Modifier: TagModifier{Tag: 2}})
	require.NoError(t, err)

	assert.ErrorIs(t, g.Scan(context.Background()), ErrNotSafeToUpdate)
	assert.ErrorIs(t, g.Move(context.Background(), 1, 0), ErrNotSafeToUpdate)
	assert.ErrorIs(t, g.SetLayout(context.Background(), CornerAtOrigin(4, 4, 1)), ErrNotSafeToUpdate)

	// Чтение через блокировку поиска не ждёт обработчика
	n, ok := lock.GetNode(0, 0)
	require.True(t, ok)
	assert.Equal(t, uint8(0), n.Tag)
	assert.NotNil(t, lock.Neighbour(lock.Node(0, 0), DirNorth))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, UpdatePending, h.Status(), "обновление не должно начинаться, пока поиск держит граф")

	lock.Release()
	lock.Release()
	require.NoError(t, waitHandle(t, h))
	n, _ = g.GetNode(0, 0)
	assert.Equal(t, uint8(2), n.Tag)
}

func TestCancelPendingUpdate(t *testing.T) {
	g := newTestGraph(t, plainSettings(), newMaskSampler(obstacleRows...))
	before := allNodes(g)

	lock := g.LockForSearch()
	h, err := g.ScheduleUpdate(UpdateRequest{Rect: NewIntRect(0, 0, 3, 3), Modifier: WalkabilityModifier{Walkable: false}})
	require.NoError(t, err)
	assert.True(t, h.Cancel())
	lock.Release()

	assert.ErrorIs(t, waitHandle(t, h), context.Canceled)
	assert.Equal(t, UpdateCancelled, h.Status())
	assert.False(t, h.Cancel(), "завершённый запрос отменить нельзя")
	assert.Equal(t, before, allNodes(g))
}

func TestOverlappingUpdatesApplyInOrder(t *testing.T) {
	g := newTestGraph(t, plainSettings(), newMaskSampler(openRows(10, 10)...))

	lock := g.LockForSearch()
	first, err := g.ScheduleUpdate(UpdateRequest{Rect: NewIntRect(2, 2, 5, 5), Mode: Minimal, Modifier: PenaltyModifier{Delta: 10}})
	require.NoError(t, err)
	second, err := g.ScheduleUpdate(UpdateRequest{Rect: NewIntRect(4, 4, 7, 7), Mode: Minimal, Modifier: PenaltyModifier{Delta: 1}})
	require.NoError(t, err)
	third, err := g.ScheduleUpdate(UpdateRequest{Rect: NewIntRect(5, 5, 5, 5), Mode: Minimal, Modifier: WalkabilityModifier{}})
	require.NoError(t, err)
	lock.Release()

	for _, h := range []*UpdateHandle{first, second, third} {
		require.NoError(t, waitHandle(t, h))
	}

	n, _ := g.GetNode(4, 4)
	assert.Equal(t, uint32(11), n.Penalty, "оба модификатора применены")
	n, _ = g.GetNode(5, 5)
	assert.False(t, n.Walkable)
	assert.Equal(t, uint32(11), n.Penalty)
	n, _ = g.GetNode(7, 7)
	assert.Equal(t, uint32(1), n.Penalty)
	requireSymmetric(t, g)
}

func TestStaleUpdateAfterLayoutChange(t *testing.T) {
	g, err := NewGridGraph(CornerAtOrigin(8, 8, 1), plainSettings(), newMaskSampler(openRows(8, 8)...), WithLogger(testLogger()))
	require.NoError(t, err)
	require.NoError(t, g.Scan(context.Background()))

	// Обработчик ещё не запущен: запрос ждёт в очереди, пока меняется раскладка
	h, err := g.ScheduleUpdate(UpdateRequest{Rect: NewIntRect(0, 0, 1, 1)})
	require.NoError(t, err)
	require.NoError(t, g.SetLayout(context.Background(), CornerAtOrigin(6, 6, 1)))

	g.Start()
	t.Cleanup(g.Stop)

	assert.ErrorIs(t, waitHandle(t, h), ErrStaleUpdate)
	assert.Equal(t, uint64(1), g.Generation())
	assert.Len(t, allNodes(g), 36)
}

// После Move те же координаты графа означают другие клетки мира,
// поэтому отложенный запрос устаревает
func TestPendingUpdateStaleAfterMove(t *testing.T) {
	g, err := NewGridGraph(CornerAtOrigin(8, 8, 1), plainSettings(), newMaskSampler(openRows(8, 8)...), WithLogger(testLogger()))
	require.NoError(t, err)
	require.NoError(t, g.Scan(context.Background()))

	beforeMove, err := g.ScheduleUpdate(UpdateRequest{Rect: NewIntRect(0, 0, 1, 1)})
	require.NoError(t, err)
	require.NoError(t, g.Move(context.Background(), 1, 0))

	g.Start()
	t.Cleanup(g.Stop)

	assert.ErrorIs(t, waitHandle(t, beforeMove), ErrStaleUpdate)
	assert.Equal(t, uint64(1), g.Generation())

	afterMove, err := g.ScheduleUpdate(UpdateRequest{Rect: NewIntRect(0, 0, 1, 1)})
	require.NoError(t, err)
	require.NoError(t, waitHandle(t, afterMove))
	assert.Equal(t, UpdateCompleted, afterMove.Status())
}

// Повторное сканирование раскладку не меняет, отложенный запрос остаётся в силе
func TestPendingUpdateSurvivesRescan(t *testing.T) {
	g, err := NewGridGraph(CornerAtOrigin(8, 8, 1), plainSettings(), newMaskSampler(openRows(8, 8)...), WithLogger(testLogger()))
	require.NoError(t, err)
	require.NoError(t, g.Scan(context.Background()))

	h, err := g.ScheduleUpdate(UpdateRequest{Rect: NewIntRect(2, 2, 3, 3)})
	require.NoError(t, err)
	require.NoError(t, g.Scan(context.Background()))
	require.Equal(t, uint64(0), g.Generation())

	g.Start()
	t.Cleanup(g.Stop)

	require.NoError(t, waitHandle(t, h))
	assert.Equal(t, UpdateCompleted, h.Status())
}

func TestMoveMatchesFreshScan(t *testing.T) {
	// Проходимость задана в мировых координатах, поэтому сдвинутая сетка видит тот же мир
	world := SamplerFunc(func(ctx context.Context, rect IntRect, tr GridTransform) ([]Sample, error) {
		out := make([]Sample, 0, rect.Area())
		for z := rect.ZMin; z <= rect.ZMax; z++ {
			for x := rect.XMin; x <= rect.XMax; x++ {
				p := tr.NodeCenter(x, z, 0)
				wx, wz := int(p.X), int(p.Z)
				out = append(out, Sample{Walkable: (wx*7+wz*3)%5 != 0})
			}
		}
		return out, nil
	})

	s := plainSettings()
	s.ErosionIterations = 1
	layout := CornerAtOrigin(12, 10, 1)
	layout.Center = vec.Vec3Float{X: 50, Z: 50}

	for _, shift := range [][2]int{{2, 0}, {-3, 2}, {0, -1}, {15, 3}} {
		moved, err := NewGridGraph(layout, s, world, WithLogger(testLogger()))
		require.NoError(t, err)
		require.NoError(t, moved.Scan(context.Background()))
		require.NoError(t, moved.Move(context.Background(), shift[0], shift[1]))

		want := layout.Center.Add(vec.Vec3Float{X: float64(shift[0]), Z: float64(shift[1])})
		assertVecNear(t, want, moved.Layout().Center)

		fresh, err := NewGridGraph(moved.Layout(), s, world, WithLogger(testLogger()))
		require.NoError(t, err)
		require.NoError(t, fresh.Scan(context.Background()))
		assert.Equal(t, allNodes(fresh), allNodes(moved), "сдвиг %v", shift)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := plainSettings()
	s.ErosionIterations = 1
	g := newTestGraph(t, s, newMaskSampler(obstacleRows...))

	snap, err := g.Snapshot()
	require.NoError(t, err)
	decoded, err := UnmarshalSnapshot(snap.Marshal())
	require.NoError(t, err)

	other, err := NewGridGraph(CornerAtOrigin(2, 2, 1), s, newMaskSampler(openRows(2, 2)...), WithLogger(testLogger()))
	require.NoError(t, err)
	rederived, err := other.LoadSnapshot(decoded)
	require.NoError(t, err)
	assert.False(t, rederived)
	assert.Equal(t, g.Layout(), other.Layout())
	assert.Equal(t, allNodes(g), allNodes(other))
}

func TestSnapshotRederivesConnectionsForOtherSettings(t *testing.T) {
	g := newTestGraph(t, plainSettings(), newMaskSampler(obstacleRows...))
	snap, err := g.Snapshot()
	require.NoError(t, err)

	s := plainSettings()
	s.Neighbours = NeighboursFour
	other, err := NewGridGraph(CornerAtOrigin(1, 1, 1), s, newMaskSampler("."), WithLogger(testLogger()))
	require.NoError(t, err)
	rederived, err := other.LoadSnapshot(snap)
	require.NoError(t, err)
	assert.True(t, rederived)
	for _, n := range allNodes(other) {
		assert.Zero(t, n.Connections&0xF0, "в режиме 4 соседей нет диагоналей")
	}

	// Снимок без соединений тоже восстанавливается
	snap.Costs = nil
	decoded, err := UnmarshalSnapshot(snap.Marshal())
	require.NoError(t, err)
	rederived, err = g.LoadSnapshot(decoded)
	require.NoError(t, err)
	assert.True(t, rederived)
	requireSymmetric(t, g)
}

// Снимок, снятый с другими правилами связности или эрозии, пересчитывается
// и совпадает со свежим сканированием с текущими правилами
func TestSnapshotRederivesForChangedGraphRules(t *testing.T) {
	sampler := newMaskSampler(obstacleRows...)
	sampler.setHeight(5, 5, 0.3)
	sampler.setHeight(6, 5, 0.6)
	g := newTestGraph(t, plainSettings(), sampler)
	snap, err := g.Snapshot()
	require.NoError(t, err)
	decoded, err := UnmarshalSnapshot(snap.Marshal())
	require.NoError(t, err)
	assert.Equal(t, plainSettings().Fingerprint(), decoded.Settings)

	cases := map[string]func(s *Settings){
		"без срезания углов": func(s *Settings) { s.CutCorners = false },
		"перепад высот":      func(s *Settings) { s.MaxStepHeight = 0.2 },
		"эрозия":             func(s *Settings) { s.ErosionIterations = 1 },
		"эрозия тегами": func(s *Settings) {
			s.ErosionIterations = 2
			s.ErosionUseTags = true
		},
	}
	for name, change := range cases {
		t.Run(name, func(t *testing.T) {
			s := plainSettings()
			change(&s)
			require.NotEqual(t, plainSettings().Fingerprint(), s.Fingerprint())

			other, err := NewGridGraph(CornerAtOrigin(1, 1, 1), s, newMaskSampler("."), WithLogger(testLogger()))
			require.NoError(t, err)
			rederived, err := other.LoadSnapshot(decoded)
			require.NoError(t, err)
			assert.True(t, rederived)

			fresh := newTestGraph(t, s, sampler)
			assert.Equal(t, allNodes(fresh), allNodes(other))
		})
	}

	// Настройки, не влияющие на связность, не требуют пересчёта
	s := plainSettings()
	s.UpdateWorkers = 1
	s.SampleChunkSize = 8
	assert.Equal(t, plainSettings().Fingerprint(), s.Fingerprint())
}

func TestUnmarshalCorruptSnapshot(t *testing.T) {
	_, err := UnmarshalSnapshot([]byte{0xff, 0xff, 0xff})
	assert.ErrorIs(t, err, ErrCorruptSnapshot)

	g := newTestGraph(t, plainSettings(), newMaskSampler(openRows(3, 3)...))
	snap, err := g.Snapshot()
	require.NoError(t, err)
	snap.Nodes = snap.Nodes[:4]
	_, err = UnmarshalSnapshot(snap.Marshal())
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestNearestWalkableAndWorldRect(t *testing.T) {
	g := newTestGraph(t, plainSettings(), newMaskSampler(obstacleRows...))

	n, ok := g.NearestWalkable(vec.Vec3Float{X: 2.5, Z: 1.5}, 3)
	require.True(t, ok)
	assert.Equal(t, 1, absInt(n.X-2)+absInt(n.Z-1), "ближайшая проходимая клетка соседняя")

	n, ok = g.NearestNode(vec.Vec3Float{X: -10, Z: 3.2})
	require.True(t, ok)
	assert.Equal(t, vec.Vec2{X: 0, Y: 3}, n.Coords())

	r := g.WorldRectToGraph(vec.Vec3Float{X: 1.2, Y: -1, Z: 2.7}, vec.Vec3Float{X: 3.9, Y: 4, Z: 20})
	assert.Equal(t, NewIntRect(1, 2, 3, 7), r)
}

func TestCommitListenerReceivesEvents(t *testing.T) {
	g := newTestGraph(t, plainSettings(), newMaskSampler(obstacleRows...))
	events := make(chan CommitEvent, 4)
	g.AddCommitListener(func(ev CommitEvent) { events <- ev })

	h, err := g.ScheduleUpdate(UpdateRequest{Rect: NewIntRect(4, 4, 4, 4), Mode: Minimal})
	require.NoError(t, err)
	require.NoError(t, waitHandle(t, h))

	select {
	case ev := <-events:
		assert.Equal(t, h.ID.String(), ev.ID)
		assert.Equal(t, "update", ev.Kind)
		assert.Equal(t, h.Plan.WriteMask, ev.WriteMask)
	case <-time.After(time.Second):
		t.Fatal("событие фиксации не получено")
	}
}

func TestStopFailsPendingUpdates(t *testing.T) {
	sampler := newMaskSampler(obstacleRows...)
	g, err := NewGridGraph(CornerAtOrigin(10, 8, 1), plainSettings(), sampler, WithLogger(testLogger()))
	require.NoError(t, err)
	require.NoError(t, g.Scan(context.Background()))

	// Обработчик не запущен, запрос остаётся в очереди
	h, err := g.ScheduleUpdate(UpdateRequest{Rect: NewIntRect(0, 0, 1, 1)})
	require.NoError(t, err)
	g.Stop()

	assert.ErrorIs(t, waitHandle(t, h), ErrGraphClosed)
	_, err = g.ScheduleUpdate(UpdateRequest{Rect: NewIntRect(0, 0, 1, 1)})
	assert.ErrorIs(t, err, ErrGraphClosed)
	assert.ErrorIs(t, g.Scan(context.Background()), ErrGraphClosed)
}
