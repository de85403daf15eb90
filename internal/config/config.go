package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid - конфигурация не прошла проверку
var ErrInvalid = errors.New("config: invalid configuration")

// Политики приёма локальных обновлений
const (
	PolicyAcceptAll = "accept_all"
	PolicyIgnoreAll = "ignore_all"
)

// Типы шины событий
const (
	BusMemory    = "memory"
	BusJetStream = "jetstream"
)

// Типы хранилища ресурсов
const (
	ResourcesDir    = "dir"
	ResourcesBadger = "badger"
)

// Config корневая структура конфигурации сервера террейна.
type Config struct {
	Terrain    TerrainConfig    `yaml:"terrain"`
	Resources  ResourcesConfig  `yaml:"resources"`
	Bus        BusConfig        `yaml:"bus"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Simulation SimulationConfig `yaml:"simulation"`
}

// Vec3 - мировой вектор в YAML: [x, y, z]
type Vec3 [3]float64

// IVec3 - целочисленный вектор в YAML: [x, y, z]
type IVec3 [3]int

// TerrainConfig - параметры актора террейна
type TerrainConfig struct {
	Database string `yaml:"database"`

	ViewDistance float64 `yaml:"view_distance"`
	IsoLevel     float64 `yaml:"iso_level"`
	Simplify     bool    `yaml:"simplify"`
	SampleRatio  float64 `yaml:"sample_ratio"`

	Offset            Vec3  `yaml:"offset"`
	GridDimensions    Vec3  `yaml:"grid_dimensions"`
	BlockDimensions   Vec3  `yaml:"block_dimensions"`
	CellDimensions    Vec3  `yaml:"cell_dimensions"`
	StaticResolution  IVec3 `yaml:"static_resolution"`
	DynamicResolution IVec3 `yaml:"dynamic_resolution"`

	MaxCellsPerFrame         int  `yaml:"max_cells_per_frame"`
	MinCellsPerFrame         int  `yaml:"min_cells_per_frame"`
	UpdateOnBackgroundThread bool `yaml:"update_on_background_thread"`
	BackgroundWorkers        int  `yaml:"background_workers"`
	ForceAfterSkippedTicks   int  `yaml:"force_update_after_skipped_ticks"`
	NumLODs                  int  `yaml:"num_lods"`

	PhysicsTesselationMode string `yaml:"physics_tesselation_mode"`
	CreateRemotePhysics    bool   `yaml:"create_remote_physics"`
	Remote                 bool   `yaml:"remote"`
	LocalUpdatePolicy      string `yaml:"local_update_policy"`
}

// ResourcesConfig - откуда брать базы вокселей
type ResourcesConfig struct {
	Kind            string `yaml:"kind"` // dir | badger
	Root            string `yaml:"root"` // каталог для dir, путь БД для badger ("" - в памяти)
	RedisAddr       string `yaml:"redis_addr"`
	RedisDB         int    `yaml:"redis_db"`
	CacheTTL        int    `yaml:"cache_ttl_seconds"`
	InvalidationURL string `yaml:"invalidation_url"` // NATS для рассылки инвалидаций; пусто - выключено
}

// BusConfig - шина событий
type BusConfig struct {
	Kind              string `yaml:"kind"` // memory | jetstream
	URL               string `yaml:"url"`
	Stream            string `yaml:"stream"`
	Retention         int    `yaml:"retention_hours"`
	QueueSize         int    `yaml:"queue_size"`
	CompressThreshold int    `yaml:"compress_threshold"`
}

// ServerConfig - порты служебных эндпоинтов
type ServerConfig struct {
	RESTPort      int    `yaml:"rest_port"`
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
	EnableTracing bool   `yaml:"enable_tracing"`
}

// LoggingConfig - уровни и каталог логов
type LoggingConfig struct {
	Dir          string `yaml:"dir"`
	ConsoleLevel string `yaml:"console_level"`
	FileLevel    string `yaml:"file_level"`
}

// SimulationConfig - шаг симуляции
type SimulationConfig struct {
	TickMillis int  `yaml:"tick_ms"`
	Viewer     Vec3 `yaml:"viewer"`
}

// Tick возвращает номинальную длительность тика
func (s SimulationConfig) Tick() time.Duration {
	return time.Duration(s.TickMillis) * time.Millisecond
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Terrain: TerrainConfig{
			ViewDistance:           500,
			IsoLevel:               0.5,
			SampleRatio:            0.5,
			BlockDimensions:        Vec3{64, 64, 64},
			CellDimensions:         Vec3{16, 16, 16},
			StaticResolution:       IVec3{32, 32, 32},
			DynamicResolution:      IVec3{16, 16, 16},
			MaxCellsPerFrame:       10,
			MinCellsPerFrame:       0,
			ForceAfterSkippedTicks: 2,
			NumLODs:                2,
			PhysicsTesselationMode: "box_2_tri_per_side",
			LocalUpdatePolicy:      PolicyAcceptAll,
		},
		Resources: ResourcesConfig{
			Kind:     ResourcesDir,
			Root:     "data",
			CacheTTL: 300,
		},
		Bus: BusConfig{
			Kind:              BusMemory,
			Stream:            "TERRAIN",
			Retention:         24,
			QueueSize:         1024,
			CompressThreshold: 1024,
		},
		Logging: LoggingConfig{
			Dir:          "logs",
			ConsoleLevel: "INFO",
			FileLevel:    "DEBUG",
		},
		Simulation: SimulationConfig{
			TickMillis: 33,
		},
	}
}

// GetRESTPort возвращает порт служебного API с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "VOXEL_REST_PORT", 8088)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}
	return defaultPort
}

// Load читает YAML файл поверх значений по умолчанию.
// Если path == "", пробует ENV VOXEL_CONFIG; без файла возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("VOXEL_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения конфигурации %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет согласованность параметров.
// min_cells_per_frame >= max_cells_per_frame допустимо: это режим без ограничения.
func (c *Config) Validate() error {
	t := c.Terrain
	var errs []error
	if t.SampleRatio <= 0 || t.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("sample_ratio %g вне (0,1]", t.SampleRatio))
	}
	if t.NumLODs < 0 || t.NumLODs > 3 {
		errs = append(errs, fmt.Errorf("num_lods %d вне 0..3", t.NumLODs))
	}
	if t.ViewDistance < 0 {
		errs = append(errs, fmt.Errorf("view_distance %g < 0", t.ViewDistance))
	}
	for i := 0; i < 3; i++ {
		if t.BlockDimensions[i] <= 0 || t.CellDimensions[i] <= 0 {
			errs = append(errs, fmt.Errorf("размеры блока и ячейки должны быть положительными"))
			break
		}
		if t.CellDimensions[i] > t.BlockDimensions[i] {
			errs = append(errs, fmt.Errorf("ячейка %v больше блока %v", t.CellDimensions, t.BlockDimensions))
			break
		}
		if t.GridDimensions[i] < 0 {
			errs = append(errs, fmt.Errorf("grid_dimensions %v < 0", t.GridDimensions))
			break
		}
	}
	for i := 0; i < 3; i++ {
		if t.StaticResolution[i] < 1 || t.DynamicResolution[i] < 1 {
			errs = append(errs, fmt.Errorf("разрешения должны быть >= 1"))
			break
		}
	}
	if t.MaxCellsPerFrame < 0 || t.MinCellsPerFrame < 0 {
		errs = append(errs, fmt.Errorf("число ячеек за кадр не может быть отрицательным"))
	}
	if t.ForceAfterSkippedTicks < 0 {
		errs = append(errs, fmt.Errorf("force_update_after_skipped_ticks %d < 0", t.ForceAfterSkippedTicks))
	}
	switch t.LocalUpdatePolicy {
	case "", PolicyAcceptAll, PolicyIgnoreAll:
	default:
		errs = append(errs, fmt.Errorf("неизвестная local_update_policy %q", t.LocalUpdatePolicy))
	}
	switch c.Bus.Kind {
	case "", BusMemory, BusJetStream:
	default:
		errs = append(errs, fmt.Errorf("неизвестный тип шины %q", c.Bus.Kind))
	}
	switch c.Resources.Kind {
	case "", ResourcesDir, ResourcesBadger:
	default:
		errs = append(errs, fmt.Errorf("неизвестный тип ресурсов %q", c.Resources.Kind))
	}
	if c.Simulation.TickMillis <= 0 {
		errs = append(errs, fmt.Errorf("tick_ms %d <= 0", c.Simulation.TickMillis))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
