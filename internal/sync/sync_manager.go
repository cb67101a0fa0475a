package sync

import (
	"fmt"
	"time"

	"github.com/annel0/navgraph/internal/eventbus"
	"github.com/annel0/navgraph/internal/logging"
	"github.com/annel0/navgraph/internal/navgraph"
	"github.com/annel0/navgraph/internal/storage"
)

// Role - роль узла в ленте изменений
type Role string

const (
	RoleOff      Role = "off"
	RoleLeader   Role = "leader"   // публикует свои фиксации
	RoleFollower Role = "follower" // повторяет фиксации лидера
)

// SyncManager координирует работу всех компонентов синхронизации:
// BatchManager и Producer у лидера, Consumer у реплики.
type SyncManager struct {
	role     Role
	bm       *BatchManager
	producer *Producer
	consumer *Consumer
	logger   *logging.Logger
}

// SyncConfig - параметры ленты изменений
type SyncConfig struct {
	Role       Role
	NodeID     string
	Bus        eventbus.EventBus
	Graph      *navgraph.GridGraph
	Store      storage.SnapshotStore // общий для лидера и реплик, может быть nil
	BatchSize  int
	FlushEvery time.Duration
	UseZstd    bool
	// SnapshotHook вызывается лидером после перестройки
	SnapshotHook SnapshotHook
	Logger       *logging.Logger
}

// NewSyncManager запускает компоненты для указанной роли
func NewSyncManager(cfg SyncConfig) (*SyncManager, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetSyncLogger()
	}
	sm := &SyncManager{role: cfg.Role, logger: logger}
	if cfg.Role == RoleOff || cfg.Role == "" {
		sm.role = RoleOff
		logger.Info("🔄 SyncManager: лента изменений отключена")
		return sm, nil
	}

	var compressor DeltaCompressor
	if cfg.UseZstd {
		c, err := NewZstdCompressor()
		if err != nil {
			return nil, err
		}
		compressor = c
		logger.Info("🔄 SyncManager: используется zstd-компрессия")
	} else {
		compressor = NewPassthroughCompressor()
		logger.Info("🔄 SyncManager: компрессия отключена")
	}

	switch cfg.Role {
	case RoleLeader:
		sm.bm = NewBatchManager(cfg.Bus, cfg.NodeID, cfg.BatchSize, cfg.FlushEvery, compressor, logger)
		sm.producer = NewProducer(cfg.Graph, sm.bm, cfg.Bus, cfg.NodeID, cfg.SnapshotHook, logger)
	case RoleFollower:
		consumer, err := NewConsumer(cfg.Bus, cfg.NodeID, compressor, NewGraphApplier(cfg.Graph, cfg.Store, logger), logger)
		if err != nil {
			return nil, err
		}
		sm.consumer = consumer
	default:
		return nil, fmt.Errorf("sync: unknown role %q", cfg.Role)
	}

	logger.Info("✅ SyncManager инициализирован: node=%s, role=%s, batch=%d, flush=%v",
		cfg.NodeID, cfg.Role, cfg.BatchSize, cfg.FlushEvery)
	return sm, nil
}

// Role возвращает роль узла
func (sm *SyncManager) Role() Role { return sm.role }

// Stop останавливает компоненты и отправляет оставшиеся изменения
func (sm *SyncManager) Stop() {
	if sm.producer != nil {
		sm.producer.Stop()
	}
	if sm.bm != nil {
		sm.bm.Stop()
	}
	if sm.consumer != nil {
		sm.consumer.Stop()
	}
	sm.logger.Info("🔄 SyncManager остановлен")
}
