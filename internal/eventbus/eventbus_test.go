package eventbus

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/navgraph/internal/logging"
)

type collector struct {
	mu  sync.Mutex
	got []*Envelope
}

func (c *collector) handle(_ context.Context, ev *Envelope) {
	c.mu.Lock()
	c.got = append(c.got, ev)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func (c *collector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.got))
	for i, ev := range c.got {
		out[i] = ev.CorrelationID
	}
	return out
}

func TestMemoryBusPreservesOrderPerSubscriber(t *testing.T) {
	bus := NewMemoryBus(128)
	defer bus.Close()

	var c collector
	_, err := bus.Subscribe(context.Background(), Filter{}, c.handle)
	require.NoError(t, err)

	var want []string
	for i := 0; i < 50; i++ {
		ev := NewEnvelope("navgraph", TypeRegionUpdated, 5, nil)
		ev.CorrelationID = fmt.Sprint(i)
		want = append(want, ev.CorrelationID)
		require.NoError(t, bus.Publish(context.Background(), ev))
	}
	require.Eventually(t, func() bool { return c.len() == 50 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, want, c.ids())
	assert.Equal(t, uint64(50), bus.Metrics().Published)
}

func TestMemoryBusFilter(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()

	var rebuilt, all collector
	_, err := bus.Subscribe(context.Background(), Filter{Types: []string{TypeGraphRebuilt}}, rebuilt.handle)
	require.NoError(t, err)
	_, err = bus.Subscribe(context.Background(), Filter{Sources: []string{"navgraph"}}, all.handle)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), NewEnvelope("navgraph", TypeRegionUpdated, 5, nil)))
	require.NoError(t, bus.Publish(context.Background(), NewEnvelope("navgraph", TypeGraphRebuilt, 5, nil)))
	require.NoError(t, bus.Publish(context.Background(), NewEnvelope("other", TypeGraphRebuilt, 5, nil)))

	require.Eventually(t, func() bool { return all.len() == 2 && rebuilt.len() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()

	var c collector
	sub, err := bus.Subscribe(context.Background(), Filter{}, c.handle)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), NewEnvelope("navgraph", TypeRegionUpdated, 5, nil)))
	require.Eventually(t, func() bool { return c.len() == 1 }, 2*time.Second, 5*time.Millisecond)

	sub.Unsubscribe()
	require.NoError(t, bus.Publish(context.Background(), NewEnvelope("navgraph", TypeRegionUpdated, 5, nil)))
	require.Eventually(t, func() bool { return bus.Metrics().InFlight == 0 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, c.len())
}

func TestMemoryBusClosed(t *testing.T) {
	bus := NewMemoryBus(4)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
	err := bus.Publish(context.Background(), NewEnvelope("navgraph", TypeRegionUpdated, 9, nil))
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestNewEnvelope(t *testing.T) {
	a := NewEnvelope("navgraph", TypeObstacleChanged, 3, []byte("x"))
	b := NewEnvelope("navgraph", TypeObstacleChanged, 3, []byte("x"))
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 1, a.Version)
	assert.Equal(t, time.UTC, a.Timestamp.Location())
}

func TestMetricsExporter(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()
	reg := prometheus.NewRegistry()
	me := NewMetricsExporter(bus, reg, 10*time.Millisecond)
	me.Start()

	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(context.Background(), NewEnvelope("navgraph", TypeRegionUpdated, 5, nil)))
	}
	require.Eventually(t, func() bool { return testutil.ToFloat64(me.published) == 3 }, 2*time.Second, 10*time.Millisecond)
	me.Stop()
	me.Stop()
}

func TestLoggingListener(t *testing.T) {
	bus := NewMemoryBus(4)
	defer bus.Close()
	sub, err := StartLoggingListener(bus, logging.NewWriterLogger("eventbus-test", io.Discard, logging.DEBUG))
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), NewEnvelope("navgraph", TypeGraphRebuilt, 5, nil)))
	require.Eventually(t, func() bool { return bus.Metrics().Consumed == 1 }, 2*time.Second, 5*time.Millisecond)
	sub.Unsubscribe()
}
