package sync

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/annel0/navgraph/internal/eventbus"
	"github.com/annel0/navgraph/internal/logging"
)

// Applier применяет изменения другого экземпляра к локальному графу
type Applier interface {
	ApplyRegions(ctx context.Context, source string, changes []RegionChange) error
	Rebuild(ctx context.Context, source string, ev RebuiltEvent) error
}

// Consumer слушает RegionUpdated/GraphRebuilt от других узлов и передаёт их Applier.
// Изменения старше последней перестройки источника отбрасываются.
type Consumer struct {
	self       string
	subs       []eventbus.Subscription
	compressor DeltaCompressor
	applier    Applier
	logger     *logging.Logger

	mu        sync.Mutex
	rebuiltAt map[string]uint64
	applied   uint64
	dropped   uint64
}

// NewConsumer подписывается на ленту изменений. События от self игнорируются.
func NewConsumer(bus eventbus.EventBus, self string, compressor DeltaCompressor, applier Applier, logger *logging.Logger) (*Consumer, error) {
	if compressor == nil {
		compressor = NewPassthroughCompressor()
	}
	if logger == nil {
		logger = logging.GetSyncLogger()
	}
	c := &Consumer{self: self, compressor: compressor, applier: applier, logger: logger, rebuiltAt: make(map[string]uint64)}

	for typ, h := range map[string]eventbus.Handler{
		eventbus.TypeRegionUpdated: c.handleBatch,
		eventbus.TypeGraphRebuilt:  c.handleRebuild,
	} {
		sub, err := bus.Subscribe(context.Background(), eventbus.Filter{Types: []string{typ}}, h)
		if err != nil {
			c.Stop()
			return nil, err
		}
		c.subs = append(c.subs, sub)
	}
	return c, nil
}

func (c *Consumer) handleBatch(ctx context.Context, ev *eventbus.Envelope) {
	if ev.Source == c.self {
		return
	}
	changes, err := c.compressor.Decompress(ev.Payload)
	if err != nil {
		c.logger.Warn("Consumer decompress error: %v", err)
		return
	}

	c.mu.Lock()
	since := c.rebuiltAt[ev.Source]
	fresh := changes[:0]
	for _, ch := range changes {
		if ch.Generation < since {
			c.dropped++
			continue
		}
		fresh = append(fresh, ch)
	}
	c.mu.Unlock()

	c.logger.Debug("Consumer: пакет %d байт от %s, изменений %d из %d", len(ev.Payload), ev.Source, len(fresh), len(changes))
	if len(fresh) == 0 {
		return
	}
	if err := c.applier.ApplyRegions(ctx, ev.Source, fresh); err != nil {
		c.logger.Warn("Consumer: ошибка применения пакета от %s: %v", ev.Source, err)
		return
	}
	c.mu.Lock()
	c.applied += uint64(len(fresh))
	c.mu.Unlock()
}

func (c *Consumer) handleRebuild(ctx context.Context, ev *eventbus.Envelope) {
	if ev.Source == c.self {
		return
	}
	var rebuilt RebuiltEvent
	if err := json.Unmarshal(ev.Payload, &rebuilt); err != nil {
		c.logger.Warn("Consumer: decode rebuild: %v", err)
		return
	}
	c.mu.Lock()
	if rebuilt.Generation < c.rebuiltAt[ev.Source] {
		c.dropped++
		c.mu.Unlock()
		return
	}
	c.rebuiltAt[ev.Source] = rebuilt.Generation
	c.mu.Unlock()

	c.logger.Info("🔄 Consumer: %s перестроил граф (%s, поколение %d)", ev.Source, rebuilt.Kind, rebuilt.Generation)
	if err := c.applier.Rebuild(ctx, ev.Source, rebuilt); err != nil {
		c.logger.Warn("Consumer: ошибка перестройки по событию %s: %v", ev.Source, err)
	}
}

// Counters возвращает число применённых и отброшенных изменений
func (c *Consumer) Counters() (applied, dropped uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applied, c.dropped
}

// Stop отписывается от шины
func (c *Consumer) Stop() {
	for _, s := range c.subs {
		s.Unsubscribe()
	}
}
