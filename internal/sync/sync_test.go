package sync

import (
	"context"
	"encoding/json"
	"io"
	stdsync "sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/navgraph/internal/eventbus"
	"github.com/annel0/navgraph/internal/logging"
	"github.com/annel0/navgraph/internal/navgraph"
	"github.com/annel0/navgraph/internal/sampler"
	"github.com/annel0/navgraph/internal/storage"
)

func quietLogger() *logging.Logger {
	return logging.NewWriterLogger("sync-test", io.Discard, logging.ERROR)
}

func rect(x0, z0, x1, z1 int) navgraph.IntRect { return navgraph.NewIntRect(x0, z0, x1, z1) }

func TestBatchManagerCoalescesOnOverflow(t *testing.T) {
	bus := eventbus.NewMemoryBus(16)
	defer bus.Close()
	bm := NewBatchManager(bus, "leader", 2, time.Hour, nil, quietLogger())
	defer bm.Stop()

	bm.AddChange(RegionChange{Rect: rect(0, 0, 1, 1), Generation: 1, Priority: 3})
	bm.AddChange(RegionChange{Rect: rect(5, 5, 6, 6), Generation: 2, Priority: 6})
	bm.AddChange(RegionChange{Rect: rect(9, 0, 9, 0), Generation: 3, Priority: 3})

	bm.mu.Lock()
	buf := append([]RegionChange(nil), bm.buf...)
	bm.mu.Unlock()
	require.Len(t, buf, 2)
	assert.Equal(t, "coalesced", buf[0].Kind)
	assert.Equal(t, rect(0, 0, 6, 6), buf[0].Rect)
	assert.Equal(t, uint64(2), buf[0].Generation)
	assert.Equal(t, 6, buf[0].Priority)
	assert.Equal(t, rect(9, 0, 9, 0), buf[1].Rect)
}

func TestBatchManagerCapacityOne(t *testing.T) {
	bus := eventbus.NewMemoryBus(16)
	defer bus.Close()
	bm := NewBatchManager(bus, "leader", 1, time.Hour, nil, quietLogger())
	defer bm.Stop()

	bm.AddChange(RegionChange{Rect: rect(0, 0, 0, 0), Generation: 1})
	bm.AddChange(RegionChange{Rect: rect(3, 3, 3, 3), Generation: 2})
	require.Equal(t, 1, bm.Pending())
	assert.Equal(t, rect(0, 0, 3, 3), bm.buf[0].Rect)
}

func TestCompressors(t *testing.T) {
	z, err := NewZstdCompressor()
	require.NoError(t, err)
	changes := []RegionChange{
		{ID: "a", Kind: "update", Mode: "minimal", Rect: rect(1, 2, 3, 4), Generation: 7, Priority: 3, Timestamp: time.Unix(100, 0).UTC()},
		{ID: "b", Kind: "walkability", Mode: "from_scratch", Rect: rect(0, 0, 0, 0), Generation: 8, Priority: 6, Timestamp: time.Unix(200, 0).UTC()},
	}
	for name, c := range map[string]DeltaCompressor{"passthrough": NewPassthroughCompressor(), "zstd": z} {
		t.Run(name, func(t *testing.T) {
			payload, err := c.Compress(changes)
			require.NoError(t, err)
			got, err := c.Decompress(payload)
			require.NoError(t, err)
			assert.Equal(t, changes, got)

			_, err = c.Decompress([]byte("garbage"))
			assert.Error(t, err)
		})
	}
}

type recordingApplier struct {
	mu       stdsync.Mutex
	regions  []RegionChange
	rebuilds []RebuiltEvent
}

func (r *recordingApplier) ApplyRegions(_ context.Context, _ string, changes []RegionChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regions = append(r.regions, changes...)
	return nil
}

func (r *recordingApplier) Rebuild(_ context.Context, _ string, ev RebuiltEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rebuilds = append(r.rebuilds, ev)
	return nil
}

func (r *recordingApplier) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.regions), len(r.rebuilds)
}

func TestConsumerDropsChangesOlderThanRebuild(t *testing.T) {
	bus := eventbus.NewMemoryBus(16)
	defer bus.Close()
	app := &recordingApplier{}
	c, err := NewConsumer(bus, "replica", nil, app, quietLogger())
	require.NoError(t, err)
	defer c.Stop()

	ctx := context.Background()
	rebuilt, _ := json.Marshal(RebuiltEvent{Kind: "scan", Generation: 5})
	require.NoError(t, bus.Publish(ctx, eventbus.NewEnvelope("leader", eventbus.TypeGraphRebuilt, 9, rebuilt)))
	require.Eventually(t, func() bool { _, n := app.counts(); return n == 1 }, 2*time.Second, 5*time.Millisecond)

	payload, err := NewPassthroughCompressor().Compress([]RegionChange{
		{ID: "old", Rect: rect(0, 0, 1, 1), Generation: 4},
		{ID: "new", Rect: rect(2, 2, 3, 3), Generation: 5},
	})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, eventbus.NewEnvelope("leader", eventbus.TypeRegionUpdated, 5, payload)))
	// Свои события не применяются
	require.NoError(t, bus.Publish(ctx, eventbus.NewEnvelope("replica", eventbus.TypeRegionUpdated, 5, payload)))

	require.Eventually(t, func() bool { n, _ := app.counts(); return n == 1 }, 2*time.Second, 5*time.Millisecond)
	app.mu.Lock()
	assert.Equal(t, "new", app.regions[0].ID)
	app.mu.Unlock()

	applied, dropped := c.Counters()
	assert.Equal(t, uint64(1), applied)
	assert.Equal(t, uint64(1), dropped)
}

func newGraph(t *testing.T, s navgraph.Sampler, w, d int) *navgraph.GridGraph {
	t.Helper()
	settings := navgraph.DefaultSettings()
	settings.ErosionIterations = 0
	g, err := navgraph.NewGridGraph(navgraph.CornerAtOrigin(w, d, 1), settings, s, navgraph.WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, g.Scan(context.Background()))
	g.Start()
	t.Cleanup(g.Stop)
	return g
}

func TestLeaderFollowerReplication(t *testing.T) {
	bus := eventbus.NewMemoryBus(64)
	defer bus.Close()
	store, err := storage.NewMemorySnapshotStore()
	require.NoError(t, err)
	defer store.Close()

	// Общий мир: реплика видит те же препятствия через свой семплер
	world := sampler.NewObstacles(sampler.Flat{}, 0, quietLogger())
	leader := newGraph(t, world, 16, 16)
	follower := newGraph(t, world, 16, 16)

	hook := func(ev navgraph.CommitEvent) string {
		snap, err := leader.Snapshot()
		if err != nil {
			return ""
		}
		if _, err := store.Save(context.Background(), "leader", snap); err != nil {
			return ""
		}
		return "leader"
	}

	lm, err := NewSyncManager(SyncConfig{Role: RoleLeader, NodeID: "leader", Bus: bus, Graph: leader,
		BatchSize: 8, FlushEvery: 10 * time.Millisecond, UseZstd: true, SnapshotHook: hook, Logger: quietLogger()})
	require.NoError(t, err)
	defer lm.Stop()
	fm, err := NewSyncManager(SyncConfig{Role: RoleFollower, NodeID: "follower", Bus: bus, Graph: follower,
		Store: store, UseZstd: true, Logger: quietLogger()})
	require.NoError(t, err)
	defer fm.Stop()

	dirty, err := world.Add("wall", orb.Polygon{orb.Ring{{4, 4}, {8, 4}, {8, 8}, {4, 8}, {4, 4}}}, 0)
	require.NoError(t, err)
	lo, hi := sampler.WorldBox(dirty)
	h, err := leader.ScheduleUpdate(navgraph.UpdateRequest{Rect: leader.WorldRectToGraph(lo, hi), Mode: navgraph.FromScratch})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))

	require.Eventually(t, func() bool {
		n, _ := follower.GetNode(5, 5)
		return !n.Walkable
	}, 5*time.Second, 10*time.Millisecond, "реплика пересчитала область лидера")

	// Перестройка лидера передаётся через снимок
	require.NoError(t, leader.SetLayout(context.Background(), navgraph.CornerAtOrigin(20, 12, 1)))
	require.Eventually(t, func() bool {
		return follower.Layout() == leader.Layout()
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, leader.GetNodesInRegion(leader.Bounds()), follower.GetNodesInRegion(follower.Bounds()))
}

func TestSyncManagerRoles(t *testing.T) {
	sm, err := NewSyncManager(SyncConfig{Logger: quietLogger()})
	require.NoError(t, err)
	assert.Equal(t, RoleOff, sm.Role())
	sm.Stop()

	_, err = NewSyncManager(SyncConfig{Role: "observer", Logger: quietLogger()})
	assert.Error(t, err)
}
