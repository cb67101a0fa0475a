package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/navgraph/internal/eventbus"
	"github.com/annel0/navgraph/internal/logging"
	"github.com/annel0/navgraph/internal/middleware"
	"github.com/annel0/navgraph/internal/navgraph"
	"github.com/annel0/navgraph/internal/sampler"
	"github.com/annel0/navgraph/internal/storage"
)

// RestServer представляет REST API навигационного графа
type RestServer struct {
	router    *gin.Engine
	httpSrv   *http.Server
	graph     *navgraph.GridGraph
	obstacles *sampler.Obstacles
	store     storage.SnapshotStore
	bus       eventbus.EventBus
	nodeID    string
	snapName  string
	port      string
	metrics   *ServerMetrics
	updates   *handleRegistry
	logger    *logging.Logger
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port  string              // адрес прослушивания, например ":8088"
	Graph *navgraph.GridGraph // обязательный
	// Obstacles - семплер препятствий графа (nil - маршруты /api/obstacles отвечают 501)
	Obstacles *sampler.Obstacles
	Store     storage.SnapshotStore // nil - маршруты /api/snapshots отвечают 501
	Bus       eventbus.EventBus     // nil - события не публикуются
	NodeID    string
	// SnapshotName - имя снимка по умолчанию
	SnapshotName string
	Registerer   prometheus.Registerer
	Gatherer     prometheus.Gatherer
	Logger       *logging.Logger
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) (*RestServer, error) {
	if config.Graph == nil {
		return nil, errors.New("api: graph is required")
	}
	if config.Port == "" {
		config.Port = ":8088"
	}
	if config.SnapshotName == "" {
		config.SnapshotName = "default"
	}
	if config.Logger == nil {
		config.Logger = logging.GetComponentLogger(logging.ComponentAPI)
	}

	// Устанавливаем режим релиза для gin
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	loggerMw := middleware.NewRequestLogger(config.Logger)
	router.Use(loggerMw.Handler())

	router.Use(otelgin.Middleware("navgraph_api"))

	promMw := middleware.NewPrometheusMiddleware("navgraph_api", config.Registerer, config.Gatherer)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	server := &RestServer{
		router:    router,
		graph:     config.Graph,
		obstacles: config.Obstacles,
		store:     config.Store,
		bus:       config.Bus,
		nodeID:    config.NodeID,
		snapName:  config.SnapshotName,
		port:      config.Port,
		metrics:   NewServerMetrics(),
		updates:   newHandleRegistry(defaultHandleHistory),
		logger:    config.Logger,
	}

	// Настраиваем маршруты
	server.setupRoutes()

	return server, nil
}

// Handler возвращает http.Handler сервера (для тестов и встраивания)
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	// Middleware для CORS
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	api := rs.router.Group("/api")
	{
		graph := api.Group("/graph")
		graph.GET("", rs.handleGraphInfo)
		graph.POST("/scan", rs.handleScan)
		graph.PUT("/layout", rs.handleSetLayout)
		graph.POST("/move", rs.handleMove)

		api.GET("/nodes", rs.handleNodes)
		api.GET("/nodes/:x/:z", rs.handleNode)
		api.GET("/nearest", rs.handleNearest)
		api.POST("/linecast", rs.handleLinecast)

		api.POST("/updates", rs.handleScheduleUpdate)
		api.GET("/updates/:id", rs.handleUpdateStatus)
		api.DELETE("/updates/:id", rs.handleCancelUpdate)
		api.POST("/walkability", rs.handleSetWalkability)

		obstacles := api.Group("/obstacles")
		obstacles.GET("", rs.handleListObstacles)
		obstacles.POST("", rs.handleAddObstacle)
		obstacles.POST("/geojson", rs.handleLoadGeoJSON)
		obstacles.DELETE("/:id", rs.handleRemoveObstacle)

		snapshots := api.Group("/snapshots")
		snapshots.GET("", rs.handleListSnapshots)
		snapshots.POST("", rs.handleSaveSnapshot)
		snapshots.POST("/:name/load", rs.handleLoadSnapshot)
		snapshots.DELETE("/:name", rs.handleDeleteSnapshot)

		api.GET("/stats", rs.handleStats)
	}

	// Health check
	rs.router.GET("/health", rs.handleHealth)
}

func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"scanned": rs.graph.Scanned(),
		"time":    time.Now().Unix(),
	})
}

// handleStats возвращает статистику графа, шины и процесса
func (rs *RestServer) handleStats(c *gin.Context) {
	stats := map[string]interface{}{
		"graph": rs.graph.Stats(),
	}
	if rs.bus != nil {
		stats["eventbus"] = rs.bus.Metrics()
	}
	if rs.obstacles != nil {
		stats["obstacles"] = rs.obstacles.Len()
	}
	stats["server"] = rs.metrics.Snapshot()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика получена",
		Data:    stats,
	})
}

// Start запускает REST сервер и блокируется до Stop
func (rs *RestServer) Start() error {
	rs.httpSrv = &http.Server{
		Addr:              rs.port,
		Handler:           rs.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	rs.logger.Info("🌐 REST API слушает %s", rs.port)
	if err := rs.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop корректно останавливает REST сервер
func (rs *RestServer) Stop(ctx context.Context) error {
	if rs.httpSrv == nil {
		return nil
	}
	return rs.httpSrv.Shutdown(ctx)
}

// respondError переводит ошибки графа и хранилищ в HTTP-статусы
func (rs *RestServer) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, navgraph.ErrRectOutOfBounds),
		errors.Is(err, navgraph.ErrCellsMismatch),
		errors.Is(err, navgraph.ErrInvalidLayout),
		errors.Is(err, navgraph.ErrCorruptSnapshot),
		errors.Is(err, sampler.ErrUnsupportedShape),
		errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrSnapshotNotFound),
		errors.Is(err, sampler.ErrUnknownObstacle),
		errors.Is(err, errNotFound):
		status = http.StatusNotFound
	case errors.Is(err, navgraph.ErrNotSafeToUpdate),
		errors.Is(err, navgraph.ErrNotScanned):
		status = http.StatusConflict
	case errors.Is(err, navgraph.ErrGraphClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, errNotConfigured):
		status = http.StatusNotImplemented
	}
	if status >= 500 {
		rs.logger.Error("Ошибка запроса %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, GenericResponse{Success: false, Message: err.Error()})
}

var (
	errBadRequest    = errors.New("bad request")
	errNotFound      = errors.New("not found")
	errNotConfigured = errors.New("not configured on this node")
)

// publish отправляет событие в шину; ошибка только логируется
func (rs *RestServer) publish(ctx context.Context, eventType string, priority int, payload []byte) {
	if rs.bus == nil {
		return
	}
	if err := rs.bus.Publish(ctx, eventbus.NewEnvelope(rs.nodeID, eventType, priority, payload)); err != nil {
		rs.logger.Warn("Не удалось опубликовать %s: %v", eventType, err)
	}
}
