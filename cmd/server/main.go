package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/parkgazer/internal/api/handlers"
	"github.com/langchou/parkgazer/internal/config"
	"github.com/langchou/parkgazer/internal/events"
	"github.com/langchou/parkgazer/internal/models"
	"github.com/langchou/parkgazer/internal/repository"
	"github.com/langchou/parkgazer/internal/repository/memory"
	"github.com/langchou/parkgazer/internal/service"
	"github.com/langchou/parkgazer/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting Parkgazer",
		zap.String("port", cfg.ServerPort),
		zap.String("storage", cfg.Storage))

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 存储层
	stores, storage, closeStorage := openStorage(ctx, cfg, logger)
	defer closeStorage()

	// 事件总线
	bus := openBus(cfg, logger)
	defer bus.Close()

	// 创建服务
	slots := service.NewSlotStore(stores.Slots, logger, cfg.ClaimMaxAttempts, cfg.ClaimBackoff)
	pricing := service.NewPricingEngine(slots, cfg.GracePeriod)
	sessions := service.NewSessionService(stores, slots, pricing, bus, logger)
	reservations := service.NewReservationService(stores, slots, sessions, bus, logger, cfg.ReservationHold)
	sweeper := service.NewSweeper(reservations, cfg.SweepInterval, logger)
	dashboard := service.NewDashboard(stores.Lots, slots, bus, logger, cfg.HighOccupancyThreshold)
	lots := service.NewLotService(stores, slots, dashboard, logger)

	// 车位状态变化驱动看板刷新
	if err := bus.Subscribe(models.FactSlotStatusChanged, dashboard.OnSlotStatusChanged); err != nil {
		logger.Fatal("Failed to subscribe dashboard", zap.Error(err))
	}

	// 创建 WebSocket Hub，新连接先收到看板快照
	wsHub := ws.NewHub(logger)
	wsHub.SetInitDataProvider(func(lotID int64) interface{} {
		snapshots := dashboard.Snapshots()
		if lotID == 0 {
			return snapshots
		}
		for _, s := range snapshots {
			if s.LotID == lotID {
				return []models.DashboardState{s}
			}
		}
		return []models.DashboardState{}
	})
	go wsHub.Run(ctx)

	// 全部事实推送到 WebSocket
	if err := events.Forward(bus, wsHub); err != nil {
		logger.Fatal("Failed to forward events", zap.Error(err))
	}

	// 预热看板
	if err := dashboard.RefreshAll(ctx); err != nil {
		logger.Warn("Failed to warm up dashboard", zap.Error(err))
	}

	// 启动预约过期清扫
	go sweeper.Run(ctx)

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(
		logger,
		lots,
		sessions,
		reservations,
		dashboard,
		sweeper,
		storage,
		wsHub,
	)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// 注册路由
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 停止清扫与推送
	cancel()

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// openStorage 按配置装配存储层
func openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (service.Stores, handlers.Pinger, func()) {
	if cfg.Storage == config.StorageMemory {
		logger.Warn("Using in-memory storage, data will be lost on restart")
		store := memory.New()
		return service.Stores{
			Tx:           store,
			Lots:         store.Lots(),
			Slots:        store.Slots(),
			Vehicles:     store.Vehicles(),
			Sessions:     store.Sessions(),
			Reservations: store.Reservations(),
		}, store, func() {}
	}

	// 连接数据库
	db, err := repository.New(ctx, cfg.DatabaseURL, cfg.DBLockTimeout)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}

	// 执行数据库迁移
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database migrated successfully")

	return service.Stores{
		Tx:           db,
		Lots:         repository.NewLotRepository(db),
		Slots:        repository.NewSlotRepository(db),
		Vehicles:     repository.NewVehicleRepository(db),
		Sessions:     repository.NewSessionRepository(db),
		Reservations: repository.NewReservationRepository(db),
	}, db, db.Close
}

// openBus 配置了 NATS 时跨实例分发事实，否则使用进程内总线
func openBus(cfg *config.Config, logger *zap.Logger) events.Bus {
	if cfg.NATSURL == "" {
		return events.NewLocalBus(logger)
	}
	bus, err := events.NewNATSBus(cfg.NATSURL, cfg.NATSSubjectPrefix, logger)
	if err != nil {
		logger.Fatal("Failed to connect NATS", zap.Error(err))
	}
	return bus
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
