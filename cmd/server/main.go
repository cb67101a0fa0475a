package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/annel0/navgraph/internal/api"
	"github.com/annel0/navgraph/internal/config"
	"github.com/annel0/navgraph/internal/eventbus"
	"github.com/annel0/navgraph/internal/logging"
	"github.com/annel0/navgraph/internal/navgraph"
	"github.com/annel0/navgraph/internal/observability"
	navsync "github.com/annel0/navgraph/internal/sync"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (default: $NAVGRAPH_CONFIG or built-in defaults)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	logging.SetLogDir(cfg.Logging.Dir)
	if err := logging.InitDefaultLogger(logging.ComponentServer); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer closeLogs()
	level := logging.ParseLevel(cfg.Logging.Level)
	logging.SetDefaultLevel(level)
	logging.GetLoggerManager().SetLevel(level)

	logging.Info("🧭 Запуск navgraph: сетка %dx%d, клетка %.2f, семплер %s, хранилище %s, шина %s, роль %s",
		cfg.Graph.Layout.Width, cfg.Graph.Layout.Depth, cfg.Graph.Layout.NodeSize,
		cfg.Sampler.Kind, cfg.Storage.Backend, cfg.EventBus.Kind, cfg.Sync.Role)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, level); err != nil {
		logging.Error("❌ %v", err)
		closeLogs()
		os.Exit(1)
	}
	logging.Info("👋 Сервер успешно остановлен")
}

// closeLogs закрывает файлы логов всех компонентов, затем основной
func closeLogs() {
	if err := logging.GetLoggerManager().CloseAll(); err != nil {
		logging.Warn("Ошибка закрытия логов: %v", err)
	}
	logging.CloseDefaultLogger()
}

func run(ctx context.Context, cfg *config.Config, level logging.LogLevel) error {
	// === ТЕЛЕМЕТРИЯ ===
	if cfg.Telemetry.Enabled {
		shutdown, err := observability.InitTelemetry(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint, logging.GetServerLogger())
		if err != nil {
			logging.Warn("⚠️ OpenTelemetry не инициализирован: %v", err)
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logging.Warn("Ошибка остановки OpenTelemetry: %v", err)
				}
			}()
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// === СЕМПЛЕР И ГРАФ ===
	graphLogger := logging.GetNavGraphLogger()

	smp, obstacles, err := buildSampler(cfg, logging.GetComponentLogger(logging.ComponentSampler))
	if err != nil {
		return err
	}
	g, err := navgraph.NewGridGraph(cfg.Graph.Layout, cfg.Graph.Settings, smp,
		navgraph.WithLogger(graphLogger),
		navgraph.WithMetrics(navgraph.NewMetrics(reg)))
	if err != nil {
		return fmt.Errorf("create graph: %w", err)
	}

	// === ХРАНИЛИЩЕ СНИМКОВ ===
	store, err := openStore(ctx, cfg, logging.GetComponentLogger(logging.ComponentStorage))
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Warn("Ошибка закрытия хранилища: %v", err)
		}
	}()

	if err := initialGraph(ctx, cfg, g, store); err != nil {
		return err
	}
	g.Start()
	defer g.Stop()

	// === ШИНА СОБЫТИЙ ===
	bus, err := openBus(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Warn("Ошибка закрытия шины: %v", err)
		}
	}()
	exporter := eventbus.NewMetricsExporter(bus, reg, 10*time.Second)
	exporter.Start()
	defer exporter.Stop()
	if level <= logging.DEBUG {
		if sub, err := eventbus.StartLoggingListener(bus, logging.GetComponentLogger(logging.ComponentEvents)); err == nil {
			defer sub.Unsubscribe()
		}
	}

	// === СИНХРОНИЗАЦИЯ ===
	syncLogger := logging.GetSyncLogger()
	sm, err := navsync.NewSyncManager(navsync.SyncConfig{
		Role:         navsync.Role(cfg.Sync.Role),
		NodeID:       cfg.Sync.NodeID,
		Bus:          bus,
		Graph:        g,
		Store:        store,
		BatchSize:    cfg.Sync.BatchSize,
		FlushEvery:   time.Duration(cfg.Sync.FlushEveryMs) * time.Millisecond,
		UseZstd:      cfg.Sync.UseZstd,
		SnapshotHook: snapshotHook(g, store, cfg.Storage.SnapshotName, syncLogger),
		Logger:       syncLogger,
	})
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	defer sm.Stop()

	// === REST API ===
	restPort := fmt.Sprintf(":%d", cfg.Server.GetRESTPort())
	apiLogger := logging.GetComponentLogger(logging.ComponentAPI)
	rest, err := api.NewRestServer(api.Config{
		Port:         restPort,
		Graph:        g,
		Obstacles:    obstacles,
		Store:        store,
		Bus:          bus,
		NodeID:       cfg.Sync.NodeID,
		SnapshotName: cfg.Storage.SnapshotName,
		Registerer:   reg,
		Gatherer:     reg,
		Logger:       apiLogger,
	})
	if err != nil {
		return err
	}
	restErr := make(chan error, 1)
	go func() { restErr <- rest.Start() }()

	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🌐 REST API: http://localhost%s", restPort)
	logging.Info("   ❤️  Health check: http://localhost%s/health", restPort)
	logging.Info("   📈 Метрики: http://localhost%s/metrics", restPort)

	select {
	case <-ctx.Done():
		logging.Info("📡 Получен сигнал, завершение работы...")
	case err := <-restErr:
		if err != nil {
			return fmt.Errorf("rest api: %w", err)
		}
	}

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rest.Stop(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}

	if cfg.Storage.SaveOnExit && navsync.Role(cfg.Sync.Role) != navsync.RoleFollower {
		saveSnapshot(shutdownCtx, g, store, cfg.Storage.SnapshotName)
	}
	return nil
}
