package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/annel0/navgraph/internal/config"
	"github.com/annel0/navgraph/internal/eventbus"
	"github.com/annel0/navgraph/internal/logging"
	"github.com/annel0/navgraph/internal/navgraph"
	"github.com/annel0/navgraph/internal/sampler"
	"github.com/annel0/navgraph/internal/storage"
	navsync "github.com/annel0/navgraph/internal/sync"
)

// buildSampler собирает базовый семплер и накладывает на него индекс препятствий
func buildSampler(cfg *config.Config, logger *logging.Logger) (navgraph.Sampler, *sampler.Obstacles, error) {
	var base navgraph.Sampler
	switch cfg.Sampler.Kind {
	case "flat":
		base = sampler.Flat{Height: cfg.Sampler.FlatHeight}
	case "terrain":
		t, err := sampler.NewTerrain(cfg.Sampler.Terrain)
		if err != nil {
			return nil, nil, fmt.Errorf("terrain sampler: %w", err)
		}
		base = t
	default:
		return nil, nil, fmt.Errorf("unknown sampler kind %q", cfg.Sampler.Kind)
	}

	obstacles := sampler.NewObstacles(base, cfg.Sampler.AgentRadius, logger)
	if cfg.Sampler.ObstaclesFile != "" {
		data, err := os.ReadFile(cfg.Sampler.ObstaclesFile)
		if err != nil {
			return nil, nil, fmt.Errorf("read obstacles: %w", err)
		}
		// Граф ещё не просканирован, поэтому границы пересчёта не нужны
		if _, err := obstacles.LoadGeoJSON(data); err != nil {
			return nil, nil, err
		}
	}
	return obstacles, obstacles, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (storage.SnapshotStore, error) {
	switch cfg.Storage.Backend {
	case "badger":
		return storage.NewBadgerSnapshotStore(cfg.Storage.DataPath, logger)
	case "redis":
		return storage.NewRedisSnapshotStore(ctx, &cfg.Storage.Redis, logger)
	default:
		return storage.NewMemorySnapshotStore()
	}
}

func openBus(cfg *config.Config) (eventbus.EventBus, error) {
	if cfg.EventBus.Kind == "jetstream" {
		bus, err := eventbus.NewJetStreamBus(cfg.EventBus.URL, cfg.EventBus.Stream, time.Duration(cfg.EventBus.Retention)*time.Hour)
		if err != nil {
			return nil, err
		}
		logging.Info("📨 Шина событий: NATS JetStream %s (stream %s)", cfg.EventBus.URL, cfg.EventBus.Stream)
		return bus, nil
	}
	logging.Info("📨 Шина событий: in-memory (буфер %d)", cfg.EventBus.Capacity)
	return eventbus.NewMemoryBus(cfg.EventBus.Capacity), nil
}

// initialGraph загружает сохранённый снимок либо сканирует граф заново
func initialGraph(ctx context.Context, cfg *config.Config, g *navgraph.GridGraph, store storage.SnapshotStore) error {
	if cfg.Storage.LoadOnStart {
		snap, err := store.Load(ctx, cfg.Storage.SnapshotName)
		switch {
		case err == nil:
			rederived, err := g.LoadSnapshot(snap)
			if err == nil {
				logging.Info("📂 Граф загружен из снимка %s (соединения выведены заново: %v)", cfg.Storage.SnapshotName, rederived)
				return nil
			}
			logging.Warn("⚠️ Снимок %s не подходит, сканируем заново: %v", cfg.Storage.SnapshotName, err)
		case errors.Is(err, storage.ErrSnapshotNotFound):
			logging.Info("Снимок %s не найден, сканируем заново", cfg.Storage.SnapshotName)
		default:
			logging.Warn("⚠️ Ошибка чтения снимка %s: %v", cfg.Storage.SnapshotName, err)
		}
	}

	start := time.Now()
	if err := g.Scan(ctx); err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}
	st := g.Stats()
	logging.Info("🗺️ Граф просканирован за %v: %d клеток, %d проходимых", time.Since(start).Round(time.Millisecond), st.Nodes, st.WalkableEroded)
	return nil
}

// snapshotHook сохраняет снимок после каждой перестройки на лидере,
// чтобы реплики могли забрать его из общего хранилища
func snapshotHook(g *navgraph.GridGraph, store storage.SnapshotStore, name string, logger *logging.Logger) navsync.SnapshotHook {
	return func(ev navgraph.CommitEvent) string {
		snap, err := g.Snapshot()
		if err != nil {
			logger.Warn("Снимок после %s не снят: %v", ev.Kind, err)
			return ""
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := store.Save(ctx, name, snap); err != nil {
			logger.Warn("Снимок после %s не сохранён: %v", ev.Kind, err)
			return ""
		}
		return name
	}
}

func saveSnapshot(ctx context.Context, g *navgraph.GridGraph, store storage.SnapshotStore, name string) {
	snap, err := g.Snapshot()
	if err != nil {
		logging.Warn("⚠️ Снимок при выходе не снят: %v", err)
		return
	}
	info, err := store.Save(ctx, name, snap)
	if err != nil {
		logging.Error("❌ Снимок при выходе не сохранён: %v", err)
		return
	}
	logging.Info("💾 Снимок %s сохранён (%d → %d байт)", info.Name, info.Bytes, info.Compressed)
}
