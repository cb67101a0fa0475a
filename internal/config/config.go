package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/annel0/navgraph/internal/navgraph"
	"github.com/annel0/navgraph/internal/sampler"
	"github.com/annel0/navgraph/internal/storage"
)

// Config корневая структура конфигурации сервиса
type Config struct {
	Graph     GraphConfig     `yaml:"graph"`
	Sampler   SamplerConfig   `yaml:"sampler"`
	Storage   StorageConfig   `yaml:"storage"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Sync      SyncConfig      `yaml:"sync"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// GraphConfig - раскладка сетки и правила построения графа
type GraphConfig struct {
	Layout   navgraph.GridLayout `yaml:"layout"`
	Settings navgraph.Settings   `yaml:"settings"`
}

// SamplerConfig выбирает источник высот и препятствий
type SamplerConfig struct {
	Kind       string                `yaml:"kind"` // flat | terrain
	FlatHeight float64               `yaml:"flat_height"`
	Terrain    sampler.TerrainConfig `yaml:"terrain"`
	// ObstaclesFile - GeoJSON с препятствиями, загружается при старте
	ObstaclesFile string `yaml:"obstacles_file"`
	// AgentRadius - радиус агента в мировых единицах. Задаёт и отступ вокруг
	// препятствий, и диаметр проверки коллизий графа (см. linkAgentRadius).
	AgentRadius float64 `yaml:"agent_radius"`
}

// StorageConfig - где хранить снимки графа
type StorageConfig struct {
	Backend      string              `yaml:"backend"` // memory | badger | redis
	DataPath     string              `yaml:"data_path"`
	Redis        storage.RedisConfig `yaml:"redis"`
	SnapshotName string              `yaml:"snapshot_name"`
	LoadOnStart  bool                `yaml:"load_on_start"`
	SaveOnExit   bool                `yaml:"save_on_exit"`
}

type EventBusConfig struct {
	Kind      string `yaml:"kind"` // memory | jetstream
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
	Capacity  int    `yaml:"capacity"`
}

type SyncConfig struct {
	Role         string `yaml:"role"` // off | leader | follower
	NodeID       string `yaml:"node_id"`
	BatchSize    int    `yaml:"batch_size"`
	FlushEveryMs int    `yaml:"flush_every_ms"`
	UseZstd      bool   `yaml:"use_zstd_compression"`
}

type ServerConfig struct {
	RESTPort int `yaml:"rest_port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// Defaults возвращает конфигурацию для локального запуска без внешних сервисов
func Defaults() *Config {
	return &Config{
		Graph: GraphConfig{
			Layout:   navgraph.CornerAtOrigin(128, 128, 1),
			Settings: navgraph.DefaultSettings(),
		},
		Sampler: SamplerConfig{
			Kind:    "terrain",
			Terrain: sampler.DefaultTerrainConfig(),
		},
		Storage: StorageConfig{
			Backend:      "memory",
			DataPath:     "data",
			Redis:        *storage.DefaultRedisConfig(),
			SnapshotName: "main",
		},
		EventBus: EventBusConfig{
			Kind:      "memory",
			Stream:    "NAVGRAPH",
			Retention: 24,
			Capacity:  1024,
		},
		Sync: SyncConfig{
			Role:         "off",
			NodeID:       "navgraph-1",
			BatchSize:    64,
			FlushEveryMs: 200,
			UseZstd:      true,
		},
		Logging: LoggingConfig{Level: "INFO", Dir: "logs"},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4318",
			ServiceName: "navgraph",
		},
	}
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "NAVGRAPH_REST_PORT", 8088)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	// Если порт задан в конфиге и больше 0, используем его
	if configPort > 0 {
		return configPort
	}

	// Пробуем прочитать из environment variable
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	// Используем дефолтное значение
	return defaultPort
}

// linkAgentRadius согласует радиус агента семплера и диаметр коллизий графа.
// Заданный agent_radius главнее: диаметр в клетках выводится из него. Если задан
// только диаметр коллизий, радиус выводится обратно.
func (c *Config) linkAgentRadius() {
	collision := &c.Graph.Settings.Collision
	nodeSize := c.Graph.Layout.NodeSize
	if nodeSize <= 0 {
		return
	}
	switch {
	case c.Sampler.AgentRadius > 0:
		collision.Enabled = true
		collision.Diameter = 2 * c.Sampler.AgentRadius / nodeSize
	case collision.Enabled && collision.Diameter > 0:
		c.Sampler.AgentRadius = collision.Diameter * nodeSize / 2
	}
}

// Validate проверяет раскладку, настройки графа и выбор реализаций
func (c *Config) Validate() error {
	if err := c.Graph.Layout.Validate(); err != nil {
		return err
	}
	if c.Sampler.AgentRadius < 0 {
		return fmt.Errorf("config: negative agent radius %g", c.Sampler.AgentRadius)
	}
	if err := c.Graph.Settings.Validate(); err != nil {
		return err
	}
	switch c.Sampler.Kind {
	case "flat", "terrain":
	default:
		return fmt.Errorf("config: unknown sampler kind %q", c.Sampler.Kind)
	}
	switch c.Storage.Backend {
	case "memory", "badger", "redis":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	switch c.EventBus.Kind {
	case "memory", "jetstream":
	default:
		return fmt.Errorf("config: unknown eventbus kind %q", c.EventBus.Kind)
	}
	switch c.Sync.Role {
	case "off", "leader", "follower":
	default:
		return fmt.Errorf("config: unknown sync role %q", c.Sync.Role)
	}
	return nil
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", пытается прочитать из ENV NAVGRAPH_CONFIG, иначе возвращает Defaults().
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		path = os.Getenv("NAVGRAPH_CONFIG")
		if path == "" {
			return cfg, nil // конфиг не задан - используем дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.linkAgentRadius()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
