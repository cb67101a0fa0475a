package sync

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/annel0/navgraph/internal/eventbus"
	"github.com/annel0/navgraph/internal/logging"
	"github.com/annel0/navgraph/internal/navgraph"
)

// CommitSource - граф, на фиксации которого подписывается Producer
type CommitSource interface {
	AddCommitListener(l navgraph.CommitListener)
	Layout() navgraph.GridLayout
}

// SnapshotHook сохраняет снимок после перестройки и возвращает его имя ("" - не сохранён)
type SnapshotHook func(ev navgraph.CommitEvent) string

// Producer подписывается на фиксации графа: обновления областей уходят
// в BatchManager, перестройки публикуются сразу.
type Producer struct {
	src     CommitSource
	bm      *BatchManager
	bus     eventbus.EventBus
	source  string
	hook    SnapshotHook
	logger  *logging.Logger
	stopped atomic.Bool
}

// NewProducer регистрирует слушателя фиксаций. hook может быть nil.
func NewProducer(src CommitSource, bm *BatchManager, bus eventbus.EventBus, source string, hook SnapshotHook, logger *logging.Logger) *Producer {
	if logger == nil {
		logger = logging.GetSyncLogger()
	}
	p := &Producer{src: src, bm: bm, bus: bus, source: source, hook: hook, logger: logger}
	src.AddCommitListener(p.handle)
	return p
}

func (p *Producer) handle(ev navgraph.CommitEvent) {
	if p.stopped.Load() {
		return
	}
	if !ev.Structural() {
		p.bm.AddChange(changeFromCommit(ev))
		return
	}

	// Накопленные изменения относятся к старому поколению - отправляем их раньше перестройки
	p.bm.Flush()
	rebuilt := RebuiltEvent{
		Kind:       ev.Kind,
		Layout:     p.src.Layout(),
		Generation: ev.Generation,
		Timestamp:  time.Now().UTC(),
	}
	if p.hook != nil {
		rebuilt.Snapshot = p.hook(ev)
	}
	payload, err := json.Marshal(rebuilt)
	if err != nil {
		p.logger.Warn("Producer: encode rebuild: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.bus.Publish(ctx, eventbus.NewEnvelope(p.source, eventbus.TypeGraphRebuilt, 9, payload)); err != nil {
		p.logger.Warn("Producer: publish rebuild: %v", err)
	}
}

// Stop перестаёт передавать события (слушатель графа остаётся, но игнорирует их)
func (p *Producer) Stop() { p.stopped.Store(true) }
