package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/middleware"
	"github.com/annel0/voxel-terrain/internal/terrain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// TerrainController - то, что служебному API нужно от актора террейна
type TerrainController interface {
	Stats() terrain.Stats
	RequestReset()
}

// Config содержит конфигурацию служебного сервера
type Config struct {
	Addr     string // адрес прослушивания, например ":8088"
	Service  string // имя сервиса для otelgin и метрик
	Terrain  TerrainController
	Registry *prometheus.Registry // nil - дефолтный регистр
	Log      logging.Interface
}

// GenericResponse общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Server - служебный HTTP API террейна
type Server struct {
	router  *gin.Engine
	http    *http.Server
	terrain TerrainController
	proc    *processMetrics
	log     logging.Interface
}

// NewServer создаёт сервер и настраивает маршруты
func NewServer(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = ":8088"
	}
	if cfg.Service == "" {
		cfg.Service = "terrain_admin"
	}
	log := logging.OrNop(cfg.Log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Service))
	router.Use(middleware.NewRequestLogger(log).Handler())

	var (
		reg      prometheus.Registerer
		gatherer prometheus.Gatherer
	)
	if cfg.Registry != nil {
		reg, gatherer = cfg.Registry, cfg.Registry
	}
	promMw, err := middleware.NewPrometheusMiddleware(cfg.Service, reg)
	if err != nil {
		return nil, fmt.Errorf("ошибка регистрации HTTP-метрик: %w", err)
	}
	router.Use(promMw.Handler())
	middleware.RegisterMetricsEndpoint(router, gatherer)

	s := &Server{
		router:  router,
		terrain: cfg.Terrain,
		proc:    newProcessMetrics(),
		log:     log,
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	t := s.router.Group("/terrain")
	{
		t.GET("/stats", s.handleStats)
		t.POST("/reset", s.handleReset)
	}
}

// Handler возвращает http.Handler сервера (используется в тестах)
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"time":    time.Now().Unix(),
		"process": s.proc.snapshot(),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	if s.terrain == nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{Success: false, Message: "террейн не запущен"})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "ok", Data: s.terrain.Stats()})
}

func (s *Server) handleReset(c *gin.Context) {
	if s.terrain == nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{Success: false, Message: "террейн не запущен"})
		return
	}
	s.terrain.RequestReset()
	s.log.Infof("Запрошен сброс террейна через API (trace=%s)", c.GetString(middleware.TraceIDKey))
	c.JSON(http.StatusAccepted, GenericResponse{Success: true, Message: "сброс запланирован на следующий тик"})
}

// Start запускает сервер и блокируется до Shutdown
func (s *Server) Start() error {
	s.log.Infof("Служебный API слушает %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ошибка HTTP сервера: %w", err)
	}
	return nil
}

// Shutdown останавливает сервер, дожидаясь активных запросов
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
