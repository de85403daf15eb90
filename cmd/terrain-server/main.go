package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/voxel-terrain/internal/api"
	"github.com/annel0/voxel-terrain/internal/config"
	"github.com/annel0/voxel-terrain/internal/eventbus"
	"github.com/annel0/voxel-terrain/internal/loader"
	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/observability"
	"github.com/annel0/voxel-terrain/internal/resource"
	"github.com/annel0/voxel-terrain/internal/scheduler"
	"github.com/annel0/voxel-terrain/internal/terrain"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// maxCatchUpTicks - после такого отставания время симуляции подтягивается к реальному
const maxCatchUpTicks = 30

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию $VOXEL_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	lm, err := newLogManager(cfg.Logging)
	if err != nil {
		log.Fatalf("Ошибка инициализации логирования: %v", err)
	}
	defer lm.CloseAll()
	srvLog := lm.MustGet("server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lm); err != nil {
		srvLog.Errorf("Сервер завершился с ошибкой: %v", err)
		lm.CloseAll()
		os.Exit(1)
	}
	srvLog.Infof("Сервер успешно остановлен")
}

func newLogManager(lc config.LoggingConfig) (*logging.Manager, error) {
	opts := logging.DefaultOptions()
	opts.Dir = lc.Dir
	var err error
	if opts.ConsoleLevel, err = logging.ParseLevel(lc.ConsoleLevel); err != nil {
		return nil, err
	}
	if opts.FileLevel, err = logging.ParseLevel(lc.FileLevel); err != nil {
		return nil, err
	}
	return logging.NewManager(opts), nil
}

func run(ctx context.Context, cfg *config.Config, lm *logging.Manager) error {
	srvLog := lm.MustGet("server")
	srvLog.Infof("Запуск сервера террейна (база %q, шина %s, ресурсы %s)",
		cfg.Terrain.Database, cfg.Bus.Kind, cfg.Resources.Kind)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// === ТЕЛЕМЕТРИЯ ===
	if cfg.Server.EnableTracing {
		shutdown, err := observability.InitTelemetry(ctx, observability.Options{
			ServiceName: "voxel-terrain",
			Endpoint:    cfg.Server.OTLPEndpoint,
			Insecure:    true,
		}, lm.MustGet("telemetry"))
		if err != nil {
			srvLog.Warnf("Трассировка отключена: %v", err)
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					srvLog.Warnf("Ошибка остановки трассировки: %v", err)
				}
			}()
		}
	}

	// === РЕСУРСЫ ===
	resolver, cache, closer, err := buildResolver(cfg.Resources, lm.MustGet("resource"))
	if err != nil {
		return err
	}
	defer closer.Close()

	// === ШИНА СОБЫТИЙ ===
	bus, err := buildBus(cfg.Bus, lm.MustGet("eventbus"))
	if err != nil {
		return err
	}
	defer bus.Close()

	exporter := eventbus.NewMetricsExporter(bus, reg)
	exporter.Start()
	defer exporter.Stop()

	if _, err := eventbus.StartLoggingListener(ctx, bus, lm.MustGet("events")); err != nil {
		srvLog.Warnf("Логирование событий шины недоступно: %v", err)
	}

	// === ТЕРРЕЙН ===
	opts, err := terrain.OptionsFromConfig(cfg.Terrain, cfg.Bus)
	if err != nil {
		return fmt.Errorf("ошибка параметров террейна: %w", err)
	}
	t := terrain.New(opts, terrain.Deps{
		Resolver:         resolver,
		Log:              lm.MustGet("terrain"),
		LoaderMetrics:    loader.NewMetrics(reg),
		SchedulerMetrics: scheduler.NewMetrics(reg),
	})
	defer t.Close()

	if err := t.BindBus(ctx, bus); err != nil {
		return err
	}
	if opts.Database != "" {
		if err := t.LoadDatabase(ctx, opts.Database, true); err != nil {
			return fmt.Errorf("ошибка загрузки базы %q: %w", opts.Database, err)
		}
	}
	if cfg.Resources.InvalidationURL != "" {
		inv, err := watchInvalidations(ctx, cfg.Resources.InvalidationURL, t, cache, opts.Database, lm.MustGet("resource"))
		if err != nil {
			srvLog.Warnf("Инвалидации ресурсов недоступны: %v", err)
		} else {
			defer inv.Close()
		}
	}

	viewer := mgl64.Vec3(cfg.Simulation.Viewer)
	if err := t.EnterWorld(ctx, viewer); err != nil {
		return err
	}

	// === СЛУЖЕБНЫЙ API ===
	srv, err := api.NewServer(api.Config{
		Addr:     fmt.Sprintf(":%d", cfg.Server.GetRESTPort()),
		Service:  "terrain_admin",
		Terrain:  t,
		Registry: reg,
		Log:      lm.MustGet("api"),
	})
	if err != nil {
		return err
	}
	go func() {
		if err := srv.Start(); err != nil {
			srvLog.Errorf("%v", err)
		}
	}()
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srvLog.Warnf("Ошибка остановки API: %v", err)
		}
	}()

	srvLog.Infof("Все сервисы запущены, участник %s, тик %s", t.ID(), cfg.Simulation.Tick())
	runLoop(ctx, t, cfg.Simulation.Tick(), viewer, srvLog)
	srvLog.Infof("Получен сигнал завершения, остановка...")
	return nil
}

// runLoop крутит симуляцию с фиксированным шагом. Отставание от реального
// времени передаётся террейну, который сам решает, пропустить ли перестройку.
func runLoop(ctx context.Context, t *terrain.Terrain, tick time.Duration, viewer mgl64.Vec3, log logging.Interface) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	start := time.Now()
	var simTime time.Duration
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		simTime += tick
		correct := time.Since(start)
		if correct-simTime > maxCatchUpTicks*tick {
			log.Warnf("Симуляция отстала на %s, время подтянуто", correct-simTime)
			simTime = correct
		}

		if err := t.Tick(ctx, terrain.TickInfo{
			Delta:          tick,
			SimTime:        simTime,
			CorrectSimTime: correct,
			Viewer:         viewer,
		}); err != nil {
			log.Errorf("Ошибка тика: %v", err)
		}
	}
}

func buildResolver(rc config.ResourcesConfig, log logging.Interface) (resource.Resolver, *resource.RedisCache, io.Closer, error) {
	var (
		base   resource.Resolver
		closer io.Closer = nopCloser{}
	)
	switch rc.Kind {
	case config.ResourcesBadger:
		bs, err := resource.OpenBadgerStore(rc.Root)
		if err != nil {
			return nil, nil, nil, err
		}
		base, closer = bs, bs
	default:
		base = resource.NewDirResolver(rc.Root)
	}

	if rc.RedisAddr == "" {
		return base, nil, closer, nil
	}
	cache := resource.NewRedisCache(resource.RedisCacheConfig{
		Addr: rc.RedisAddr,
		DB:   rc.RedisDB,
		TTL:  time.Duration(rc.CacheTTL) * time.Second,
	}, nil, base, log)
	log.Infof("Кеш ресурсов Redis %s поверх %s", rc.RedisAddr, rc.Kind)
	return cache, cache, multiCloser{cache, closer}, nil
}

// watchInvalidations сбрасывает кеш изменённых баз и перезагружает
// террейн, если изменилась его собственная база.
func watchInvalidations(ctx context.Context, url string, t *terrain.Terrain, cache *resource.RedisCache, database string, log logging.Interface) (*resource.Invalidator, error) {
	inv, err := resource.NewInvalidator(resource.InvalidatorConfig{URL: url}, t.ID().String(), log)
	if err != nil {
		return nil, err
	}
	own, _ := resource.CleanID(database)
	err = inv.Subscribe(ctx, func(ctx context.Context, id string) error {
		if cache != nil {
			if err := cache.Invalidate(ctx, id); err != nil {
				return err
			}
		}
		if own != "" && id == own {
			log.Infof("База %s изменена, запрошен сброс террейна", id)
			t.RequestReset()
		}
		return nil
	})
	if err != nil {
		inv.Close()
		return nil, err
	}
	return inv, nil
}

func buildBus(bc config.BusConfig, log logging.Interface) (eventbus.EventBus, error) {
	if bc.Kind == config.BusJetStream {
		bus, err := eventbus.NewJetStreamBus(eventbus.JetStreamOptions{
			URL:       bc.URL,
			Stream:    bc.Stream,
			Retention: time.Duration(bc.Retention) * time.Hour,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("ошибка подключения к JetStream: %w", err)
		}
		return bus, nil
	}
	return eventbus.NewMemoryBus(bc.QueueSize), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for _, c := range m {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
