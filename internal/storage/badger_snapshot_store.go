package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"github.com/annel0/navgraph/internal/logging"
	"github.com/annel0/navgraph/internal/navgraph"
)

const (
	badgerDataPrefix = "snapshot:"
	badgerInfoPrefix = "snapinfo:"
)

// BadgerSnapshotStore хранит снимки в локальной BadgerDB
type BadgerSnapshotStore struct {
	db      *badger.DB
	codec   *snapshotCodec
	logger  *logging.Logger
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerSnapshotStore открывает хранилище в каталоге dataPath/navgraph
func NewBadgerSnapshotStore(dataPath string, logger *logging.Logger) (*BadgerSnapshotStore, error) {
	opts := badger.DefaultOptions(filepath.Join(dataPath, "navgraph"))
	return openBadger(opts, logger)
}

// NewInMemoryBadgerStore открывает хранилище без диска (тесты, одноразовые стенды)
func NewInMemoryBadgerStore(logger *logging.Logger) (*BadgerSnapshotStore, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true), logger)
}

func openBadger(opts badger.Options, logger *logging.Logger) (*BadgerSnapshotStore, error) {
	opts.Logger = nil // Отключаем логирование BadgerDB
	if logger == nil {
		logger = logging.GetComponentLogger(logging.ComponentStorage)
	}

	codec, err := newSnapshotCodec()
	if err != nil {
		return nil, err
	}
	db, err := badger.Open(opts)
	if err != nil {
		codec.close()
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	return &BadgerSnapshotStore{db: db, codec: codec, logger: logger, isReady: true}, nil
}

func (s *BadgerSnapshotStore) ready() error {
	if !s.isReady {
		return errors.New("хранилище не готово")
	}
	return nil
}

// Save сохраняет снимок и его метаданные одной транзакцией
func (s *BadgerSnapshotStore) Save(_ context.Context, name string, snap *navgraph.Snapshot) (SnapshotInfo, error) {
	if err := validName(name); err != nil {
		return SnapshotInfo{}, err
	}
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if err := s.ready(); err != nil {
		return SnapshotInfo{}, err
	}

	data, info := s.codec.encode(name, snap)
	meta, err := json.Marshal(info)
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("ошибка сериализации метаданных: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(badgerDataPrefix+name), data); err != nil {
			return err
		}
		return txn.Set([]byte(badgerInfoPrefix+name), meta)
	})
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	s.logger.Debug("Снимок %s сохранён: %d → %d байт", name, info.Bytes, info.Compressed)
	return info, nil
}

// Load читает снимок по имени
func (s *BadgerSnapshotStore) Load(_ context.Context, name string) (*navgraph.Snapshot, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if err := s.ready(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerDataPrefix + name))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	return s.codec.decode(data)
}

// Delete удаляет снимок; отсутствие снимка не ошибка
func (s *BadgerSnapshotStore) Delete(_ context.Context, name string) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(badgerDataPrefix + name)); err != nil {
			return err
		}
		return txn.Delete([]byte(badgerInfoPrefix + name))
	})
}

// List возвращает метаданные всех снимков, отсортированные по имени
func (s *BadgerSnapshotStore) List(_ context.Context) ([]SnapshotInfo, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if err := s.ready(); err != nil {
		return nil, err
	}

	var out []SnapshotInfo
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(badgerInfoPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var info SnapshotInfo
				if err := json.Unmarshal(val, &info); err != nil {
					return err
				}
				out = append(out, info)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Close закрывает хранилище
func (s *BadgerSnapshotStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.isReady {
		return nil
	}
	s.isReady = false
	s.codec.close()
	return s.db.Close()
}
