package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/navgraph/internal/eventbus"
	"github.com/annel0/navgraph/internal/logging"
	"github.com/annel0/navgraph/internal/navgraph"
	"github.com/annel0/navgraph/internal/sampler"
	"github.com/annel0/navgraph/internal/storage"
)

type testEnv struct {
	srv       *RestServer
	graph     *navgraph.GridGraph
	obstacles *sampler.Obstacles
	bus       eventbus.EventBus
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func quietLogger() *logging.Logger {
	return logging.NewWriterLogger("api-test", io.Discard, logging.ERROR)
}

func newTestEnv(t *testing.T, withStore bool) *testEnv {
	t.Helper()
	obstacles := sampler.NewObstacles(sampler.Flat{}, 0, quietLogger())
	g, err := navgraph.NewGridGraph(navgraph.CornerAtOrigin(16, 16, 1), navgraph.DefaultSettings(), obstacles,
		navgraph.WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, g.Scan(context.Background()))
	g.Start()
	t.Cleanup(g.Stop)

	bus := eventbus.NewMemoryBus(64)
	t.Cleanup(func() { _ = bus.Close() })

	var store storage.SnapshotStore
	if withStore {
		mem, err := storage.NewMemorySnapshotStore()
		require.NoError(t, err)
		store = mem
		t.Cleanup(func() { _ = mem.Close() })
	}

	reg := prometheus.NewRegistry()
	srv, err := NewRestServer(Config{
		Graph:      g,
		Obstacles:  obstacles,
		Store:      store,
		Bus:        bus,
		NodeID:     "api-test",
		Registerer: reg,
		Gatherer:   reg,
		Logger:     quietLogger(),
	})
	require.NoError(t, err)
	return &testEnv{srv: srv, graph: g, obstacles: obstacles, bus: bus}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

// waitUpdate опрашивает /api/updates/:id до финального состояния
func (e *testEnv) waitUpdate(t *testing.T, id string) UpdateDTO {
	t.Helper()
	var last UpdateDTO
	require.Eventually(t, func() bool {
		code, env := e.do(t, http.MethodGet, "/api/updates/"+id, nil)
		require.Equal(t, http.StatusOK, code)
		require.NoError(t, json.Unmarshal(env.Data, &last))
		return last.Status != "pending" && last.Status != "preparing" && last.Status != "committing"
	}, 5*time.Second, 10*time.Millisecond)
	return last
}

func TestHealthAndGraphInfo(t *testing.T) {
	e := newTestEnv(t, false)

	code, _ := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)

	code, env := e.do(t, http.MethodGet, "/api/graph", nil)
	require.Equal(t, http.StatusOK, code)
	var info struct {
		Kind    string              `json:"kind"`
		Layout  navgraph.GridLayout `json:"layout"`
		Scanned bool                `json:"scanned"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, "grid", info.Kind)
	assert.Equal(t, 16, info.Layout.Width)
	assert.True(t, info.Scanned)
}

func TestNodesEndpoints(t *testing.T) {
	e := newTestEnv(t, false)

	code, env := e.do(t, http.MethodGet, "/api/nodes?xmin=2&zmin=3&xmax=4&zmax=3", nil)
	require.Equal(t, http.StatusOK, code)
	var out struct {
		Rect  navgraph.IntRect `json:"rect"`
		Nodes []NodeDTO        `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	require.Len(t, out.Nodes, 3)
	assert.Equal(t, 2, out.Nodes[0].X)
	assert.Equal(t, 3, out.Nodes[0].Z)
	assert.True(t, out.Nodes[0].WalkableEroded)

	code, _ = e.do(t, http.MethodGet, "/api/nodes?xmin=abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(t, http.MethodGet, "/api/nodes?xmin=40&xmax=50", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = e.do(t, http.MethodGet, "/api/nodes/5/6", nil)
	require.Equal(t, http.StatusOK, code)
	var n NodeDTO
	require.NoError(t, json.Unmarshal(env.Data, &n))
	assert.Equal(t, 5, n.X)
	assert.Equal(t, 6, n.Z)
	assert.InDelta(t, 5.5, n.Position.X, 1e-9)

	code, _ = e.do(t, http.MethodGet, "/api/nodes/99/0", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = e.do(t, http.MethodGet, "/api/nearest?x=7.2&z=3.9", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &n))
	assert.Equal(t, 7, n.X)
	assert.Equal(t, 3, n.Z)
}

func TestScheduleUpdateAndStatus(t *testing.T) {
	e := newTestEnv(t, false)
	walkable := false

	code, env := e.do(t, http.MethodPost, "/api/updates", UpdateRequestDTO{
		Rect:     navgraph.NewIntRect(3, 3, 4, 4),
		Mode:     "minimal",
		Walkable: &walkable,
	})
	require.Equal(t, http.StatusAccepted, code, env.Message)
	var upd UpdateDTO
	require.NoError(t, json.Unmarshal(env.Data, &upd))
	assert.Equal(t, "minimal", upd.Mode)
	assert.Equal(t, "api", upd.Kind)

	final := e.waitUpdate(t, upd.ID)
	assert.Equal(t, "completed", final.Status)

	n, ok := e.graph.GetNode(3, 4)
	require.True(t, ok)
	assert.False(t, n.Walkable)

	// Прямоугольник вне сетки не обрезается
	code, _ = e.do(t, http.MethodPost, "/api/updates", UpdateRequestDTO{Rect: navgraph.NewIntRect(10, 10, 20, 20)})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(t, http.MethodPost, "/api/updates", UpdateRequestDTO{Rect: navgraph.NewIntRect(0, 0, 1, 1), Mode: "sideways"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(t, http.MethodGet, "/api/updates/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(t, http.MethodGet, "/api/updates/6f1f8c5e-8a5d-4d36-9f1a-2f4f8f1d0c11", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSetWalkabilityEndpoint(t *testing.T) {
	e := newTestEnv(t, false)

	code, env := e.do(t, http.MethodPost, "/api/walkability", WalkabilityRequest{
		Rect:  navgraph.NewIntRect(1, 1, 2, 1),
		Cells: []bool{false, true},
	})
	require.Equal(t, http.StatusAccepted, code, env.Message)
	var upd UpdateDTO
	require.NoError(t, json.Unmarshal(env.Data, &upd))
	assert.Equal(t, "completed", e.waitUpdate(t, upd.ID).Status)

	n, _ := e.graph.GetNode(1, 1)
	assert.False(t, n.Walkable)
	n, _ = e.graph.GetNode(2, 1)
	assert.True(t, n.Walkable)

	code, _ = e.do(t, http.MethodPost, "/api/walkability", WalkabilityRequest{
		Rect:  navgraph.NewIntRect(1, 1, 2, 1),
		Cells: []bool{false},
	})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestLinecastEndpoint(t *testing.T) {
	e := newTestEnv(t, false)

	code, env := e.do(t, http.MethodPost, "/api/linecast", LinecastRequest{
		From:  Point3{X: 0.5, Z: 0.5},
		To:    Point3{X: 10.5, Z: 6.5},
		Trace: true,
	})
	require.Equal(t, http.StatusOK, code)
	var res LinecastResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.False(t, res.Blocked)
	assert.Equal(t, CellDTO{X: 10, Z: 6}, res.HitCell)
	require.NotEmpty(t, res.Trace)
	assert.Equal(t, CellDTO{X: 0, Z: 0}, res.Trace[0])

	// Стена поперёк пути
	walls := make([]bool, 16)
	h, err := e.graph.SetWalkability(walls, navgraph.NewIntRect(5, 0, 5, 15))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))

	code, env = e.do(t, http.MethodPost, "/api/linecast", LinecastRequest{From: Point3{X: 0.5, Z: 0.5}, To: Point3{X: 10.5, Z: 0.5}})
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Blocked)
	assert.Equal(t, CellDTO{X: 4, Z: 0}, res.HitCell)
	assert.InDelta(t, 5.0, res.HitWorld.X, 1e-6)

	code, _ = e.do(t, http.MethodPost, "/api/linecast", "{not json")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestLinecastExcludeTags(t *testing.T) {
	e := newTestEnv(t, false)
	tag := uint8(3)
	h, err := e.graph.ScheduleUpdate(navgraph.UpdateRequest{
		Rect:     navgraph.NewIntRect(6, 0, 6, 15),
		Mode:     navgraph.NoRecalculation,
		Modifier: navgraph.TagModifier{Tag: tag},
	})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))

	req := LinecastRequest{From: Point3{X: 0.5, Z: 2.5}, To: Point3{X: 12.5, Z: 2.5}}
	_, env := e.do(t, http.MethodPost, "/api/linecast", req)
	var res LinecastResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.False(t, res.Blocked)

	req.ExcludeTags = []uint8{tag}
	_, env = e.do(t, http.MethodPost, "/api/linecast", req)
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Blocked)
	assert.Equal(t, CellDTO{X: 5, Z: 2}, res.HitCell)
}

func TestObstacleLifecycle(t *testing.T) {
	e := newTestEnv(t, false)

	var events atomic.Int32
	sub, err := e.bus.Subscribe(context.Background(), eventbus.Filter{Types: []string{eventbus.TypeObstacleChanged}},
		func(_ context.Context, _ *eventbus.Envelope) { events.Add(1) })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	// Незамкнутое кольцо замыкается сервером
	code, env := e.do(t, http.MethodPost, "/api/obstacles", map[string]interface{}{
		"id":      "crate",
		"polygon": [][][2]float64{{{2, 2}, {5, 2}, {5, 5}, {2, 5}}},
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var added struct {
		ID     string    `json:"id"`
		Update UpdateDTO `json:"update"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &added))
	assert.Equal(t, "crate", added.ID)
	assert.Equal(t, "from_scratch", added.Update.Mode)
	assert.Equal(t, "completed", e.waitUpdate(t, added.Update.ID).Status)

	n, _ := e.graph.GetNode(3, 3)
	assert.False(t, n.Walkable)
	n, _ = e.graph.GetNode(5, 3)
	assert.True(t, n.Walkable)

	code, env = e.do(t, http.MethodGet, "/api/obstacles", nil)
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, 1, list.Total)

	code, env = e.do(t, http.MethodDelete, "/api/obstacles/crate", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &added))
	assert.Equal(t, "completed", e.waitUpdate(t, added.Update.ID).Status)
	n, _ = e.graph.GetNode(3, 3)
	assert.True(t, n.Walkable)

	code, _ = e.do(t, http.MethodDelete, "/api/obstacles/crate", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = e.do(t, http.MethodPost, "/api/obstacles", map[string]interface{}{"polygon": [][][2]float64{{{0, 0}, {1, 1}}}})
	assert.Equal(t, http.StatusBadRequest, code)

	assert.Eventually(t, func() bool { return events.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestObstacleGeoJSON(t *testing.T) {
	e := newTestEnv(t, false)
	fc := `{"type":"FeatureCollection","features":[
		{"type":"Feature","id":"pond","properties":{},"geometry":{"type":"Polygon","coordinates":[[[8,8],[10,8],[10,10],[8,10],[8,8]]]}},
		{"type":"Feature","properties":{"id":"mud","penalty":50},"geometry":{"type":"Polygon","coordinates":[[[0,12],[2,12],[2,14],[0,14],[0,12]]]}}
	]}`
	code, env := e.do(t, http.MethodPost, "/api/obstacles/geojson", fc)
	require.Equal(t, http.StatusCreated, code, env.Message)
	var out struct {
		Added  int       `json:"added"`
		Update UpdateDTO `json:"update"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, 2, out.Added)
	assert.Equal(t, "completed", e.waitUpdate(t, out.Update.ID).Status)

	n, _ := e.graph.GetNode(9, 9)
	assert.False(t, n.Walkable)
	n, _ = e.graph.GetNode(1, 13)
	assert.True(t, n.Walkable)
	assert.Equal(t, uint32(50), n.Penalty)

	code, _ = e.do(t, http.MethodPost, "/api/obstacles/geojson", "not geojson")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSnapshotEndpoints(t *testing.T) {
	e := newTestEnv(t, true)

	code, env := e.do(t, http.MethodPost, "/api/snapshots", SnapshotRequest{Name: "base"})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var info storage.SnapshotInfo
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, "base", info.Name)
	assert.Equal(t, 16, info.Width)

	// Пустое тело сохраняет под именем по умолчанию
	code, _ = e.do(t, http.MethodPost, "/api/snapshots", nil)
	require.Equal(t, http.StatusCreated, code)

	code, env = e.do(t, http.MethodGet, "/api/snapshots", nil)
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, 2, list.Total)

	// Портим граф и возвращаем его из снимка
	h, err := e.graph.SetWalkability([]bool{false}, navgraph.NewIntRect(0, 0, 0, 0))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))

	code, env = e.do(t, http.MethodPost, "/api/snapshots/base/load", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	n, _ := e.graph.GetNode(0, 0)
	assert.True(t, n.Walkable)

	code, _ = e.do(t, http.MethodPost, "/api/snapshots/missing/load", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = e.do(t, http.MethodDelete, "/api/snapshots/base", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = e.do(t, http.MethodPost, "/api/snapshots/base/load", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSnapshotsWithoutStore(t *testing.T) {
	e := newTestEnv(t, false)
	code, _ := e.do(t, http.MethodGet, "/api/snapshots", nil)
	assert.Equal(t, http.StatusNotImplemented, code)
}

func TestStatsAndMetrics(t *testing.T) {
	e := newTestEnv(t, false)

	code, env := e.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, code)
	var stats struct {
		Graph    navgraph.GraphStats `json:"graph"`
		Eventbus eventbus.Stats      `json:"eventbus"`
		Server   ProcessStats        `json:"server"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 256, stats.Graph.Nodes)
	assert.Equal(t, 256, stats.Graph.Walkable)
	assert.Positive(t, stats.Server.Goroutines)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "navgraph_api_http_request_duration_seconds")
}
