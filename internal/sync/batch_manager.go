package sync

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/navgraph/internal/eventbus"
	"github.com/annel0/navgraph/internal/logging"
	"github.com/annel0/navgraph/internal/navgraph"
)

// BatchManager накапливает изменения и отправляет их пакетами через EventBus.
// Каждый экземпляр сервиса имеет собственный менеджер.
type BatchManager struct {
	mu       sync.Mutex
	buf      []RegionChange
	capacity int

	flushEvery time.Duration
	bus        eventbus.EventBus
	source     string // имя текущего узла
	compressor DeltaCompressor
	logger     *logging.Logger

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewBatchManager создаёт менеджер с указанным лимитом буфера и интервалом отправки.
func NewBatchManager(bus eventbus.EventBus, source string, capacity int, flushEvery time.Duration, compressor DeltaCompressor, logger *logging.Logger) *BatchManager {
	if compressor == nil {
		compressor = NewPassthroughCompressor()
	}
	if capacity < 1 {
		capacity = 1
	}
	if flushEvery <= 0 {
		flushEvery = 200 * time.Millisecond
	}
	if logger == nil {
		logger = logging.GetSyncLogger()
	}
	bm := &BatchManager{
		capacity:   capacity,
		flushEvery: flushEvery,
		bus:        bus,
		source:     source,
		compressor: compressor,
		logger:     logger,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go bm.loop()
	return bm
}

// AddChange добавляет изменение в буфер. При переполнении буфер сворачивается
// в одно изменение, покрывающее объединение всех областей: получатель
// пересчитает больше, но не пропустит ни одной клетки.
func (bm *BatchManager) AddChange(ch RegionChange) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if len(bm.buf) >= bm.capacity {
		merged := coalesce(bm.buf)
		bm.buf = append(bm.buf[:0], merged)
		if len(bm.buf) >= bm.capacity {
			bm.buf[0] = coalesce([]RegionChange{merged, ch})
			return
		}
	}
	bm.buf = append(bm.buf, ch)
}

// Pending возвращает число изменений в буфере
func (bm *BatchManager) Pending() int {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return len(bm.buf)
}

// coalesce сливает изменения в одно: объединение областей, старшее поколение и приоритет
func coalesce(changes []RegionChange) RegionChange {
	out := RegionChange{Kind: "coalesced", Mode: navgraph.FromScratch.String(), Rect: navgraph.EmptyRect}
	for _, c := range changes {
		out.Rect = navgraph.Union(out.Rect, c.Rect)
		out.Generation = max(out.Generation, c.Generation)
		out.Priority = max(out.Priority, c.Priority)
		if c.Timestamp.After(out.Timestamp) {
			out.Timestamp = c.Timestamp
		}
	}
	return out
}

func (bm *BatchManager) loop() {
	ticker := time.NewTicker(bm.flushEvery)
	defer ticker.Stop()
	defer close(bm.done)

	for {
		select {
		case <-ticker.C:
			bm.Flush()
		case <-bm.quit:
			return
		}
	}
}

// Flush отсылает накопленные изменения единым сообщением.
func (bm *BatchManager) Flush() {
	bm.mu.Lock()
	if len(bm.buf) == 0 {
		bm.mu.Unlock()
		return
	}
	changes := make([]RegionChange, len(bm.buf))
	copy(changes, bm.buf)
	bm.buf = bm.buf[:0]
	bm.mu.Unlock()

	payload, err := bm.compressor.Compress(changes)
	if err != nil {
		bm.logger.Warn("BatchManager compress error: %v", err)
		return
	}

	priority := 0
	for _, c := range changes {
		priority = max(priority, c.Priority)
	}
	env := eventbus.NewEnvelope(bm.source, eventbus.TypeRegionUpdated, priority, payload)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := bm.bus.Publish(ctx, env); err != nil {
		bm.logger.Warn("BatchManager publish error: %v", err)
		return
	}
	bm.logger.Debug("BatchManager: отправлено %d изменений (%d байт)", len(changes), len(payload))
}

// Stop завершает работу менеджера и отправляет оставшиеся изменения.
func (bm *BatchManager) Stop() {
	bm.stopOnce.Do(func() {
		close(bm.quit)
		<-bm.done
		bm.Flush()
	})
}
