package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/annel0/navgraph/internal/navgraph"
)

// MemorySnapshotStore хранит снимки в памяти процесса.
// Используется как fallback, когда постоянное хранилище выключено,
// или для CI/локальной разработки.
// ВНИМАНИЕ: Данные теряются при перезапуске сервера!
type MemorySnapshotStore struct {
	mu    sync.RWMutex
	codec *snapshotCodec
	data  map[string][]byte
	info  map[string]SnapshotInfo
}

// NewMemorySnapshotStore создаёт хранилище снимков в памяти
func NewMemorySnapshotStore() (*MemorySnapshotStore, error) {
	codec, err := newSnapshotCodec()
	if err != nil {
		return nil, err
	}
	return &MemorySnapshotStore{
		codec: codec,
		data:  make(map[string][]byte),
		info:  make(map[string]SnapshotInfo),
	}, nil
}

// Save сохраняет снимок
func (m *MemorySnapshotStore) Save(ctx context.Context, name string, snap *navgraph.Snapshot) (SnapshotInfo, error) {
	if err := validName(name); err != nil {
		return SnapshotInfo{}, err
	}
	if err := ctx.Err(); err != nil {
		return SnapshotInfo{}, err
	}
	data, info := m.codec.encode(name, snap)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[name] = data
	m.info[name] = info
	return info, nil
}

// Load читает снимок
func (m *MemorySnapshotStore) Load(ctx context.Context, name string) (*navgraph.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.data[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
	}
	return m.codec.decode(data)
}

// Delete удаляет снимок
func (m *MemorySnapshotStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, name)
	delete(m.info, name)
	return nil
}

// List возвращает метаданные снимков, отсортированные по имени
func (m *MemorySnapshotStore) List(_ context.Context) ([]SnapshotInfo, error) {
	m.mu.RLock()
	out := make([]SnapshotInfo, 0, len(m.info))
	for _, info := range m.info {
		out = append(out, info)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Close освобождает кодек
func (m *MemorySnapshotStore) Close() error {
	m.codec.close()
	return nil
}
