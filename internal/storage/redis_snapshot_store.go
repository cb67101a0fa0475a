package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/navgraph/internal/logging"
	"github.com/annel0/navgraph/internal/navgraph"
)

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr      string        `yaml:"addr"`       // Адрес Redis сервера
	Password  string        `yaml:"password"`   // Пароль (пустой если не требуется)
	DB        int           `yaml:"db"`         // Номер базы данных
	KeyPrefix string        `yaml:"key_prefix"` // Префикс для ключей
	TTL       time.Duration `yaml:"ttl"`        // Время жизни снимков (0 - без ограничения)
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "navgraph:",
	}
}

// RedisSnapshotStore делит снимки между репликами сервиса через Redis
type RedisSnapshotStore struct {
	client    redis.UniversalClient
	codec     *snapshotCodec
	keyPrefix string
	ttl       time.Duration
	logger    *logging.Logger
}

// NewRedisSnapshotStore подключается к Redis и проверяет соединение
func NewRedisSnapshotStore(ctx context.Context, config *RedisConfig, logger *logging.Logger) (*RedisSnapshotStore, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	store, err := NewRedisSnapshotStoreWithClient(client, config.KeyPrefix, config.TTL, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	store.logger.Info("🔴 Connected to Redis at %s", config.Addr)
	return store, nil
}

// NewRedisSnapshotStoreWithClient использует готовый клиент (кластер, sentinel)
func NewRedisSnapshotStoreWithClient(client redis.UniversalClient, keyPrefix string, ttl time.Duration, logger *logging.Logger) (*RedisSnapshotStore, error) {
	if logger == nil {
		logger = logging.GetComponentLogger(logging.ComponentStorage)
	}
	codec, err := newSnapshotCodec()
	if err != nil {
		return nil, err
	}
	return &RedisSnapshotStore{client: client, codec: codec, keyPrefix: keyPrefix, ttl: ttl, logger: logger}, nil
}

func (s *RedisSnapshotStore) dataKey(name string) string { return s.keyPrefix + "snapshot:" + name }
func (s *RedisSnapshotStore) infoKey(name string) string { return s.keyPrefix + "snapinfo:" + name }

// Save записывает снимок и метаданные одной транзакцией MULTI/EXEC
func (s *RedisSnapshotStore) Save(ctx context.Context, name string, snap *navgraph.Snapshot) (SnapshotInfo, error) {
	if err := validName(name); err != nil {
		return SnapshotInfo{}, err
	}
	data, info := s.codec.encode(name, snap)
	meta, err := json.Marshal(info)
	if err != nil {
		return SnapshotInfo{}, err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.dataKey(name), data, s.ttl)
		pipe.Set(ctx, s.infoKey(name), meta, s.ttl)
		return nil
	})
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("redis save %s: %w", name, err)
	}
	s.logger.Debug("Снимок %s записан в Redis (%d байт)", name, info.Compressed)
	return info, nil
}

// Load читает снимок по имени
func (s *RedisSnapshotStore) Load(ctx context.Context, name string) (*navgraph.Snapshot, error) {
	data, err := s.client.Get(ctx, s.dataKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("redis load %s: %w", name, err)
	}
	return s.codec.decode(data)
}

// Delete удаляет снимок
func (s *RedisSnapshotStore) Delete(ctx context.Context, name string) error {
	return s.client.Del(ctx, s.dataKey(name), s.infoKey(name)).Err()
}

// List обходит ключи метаданных через SCAN
func (s *RedisSnapshotStore) List(ctx context.Context) ([]SnapshotInfo, error) {
	var out []SnapshotInfo
	iter := s.client.Scan(ctx, 0, s.infoKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // истёк между SCAN и GET
		}
		if err != nil {
			return nil, err
		}
		var info SnapshotInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			s.logger.Warn("⚠️ Повреждённые метаданные %s: %v", iter.Val(), err)
			continue
		}
		out = append(out, info)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Close закрывает соединение с Redis
func (s *RedisSnapshotStore) Close() error {
	s.codec.close()
	return s.client.Close()
}
