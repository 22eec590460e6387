package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/langchou/parkgazer/internal/service"
	"github.com/langchou/parkgazer/pkg/ws"
)

// Pinger 存储健康检查
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler HTTP 处理器
type Handler struct {
	logger       *zap.Logger
	lots         *service.LotService
	sessions     *service.SessionService
	reservations *service.ReservationService
	dashboard    *service.Dashboard
	sweeper      *service.Sweeper
	storage      Pinger
	wsHub        *ws.Hub
	upgrader     websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	lots *service.LotService,
	sessions *service.SessionService,
	reservations *service.ReservationService,
	dashboard *service.Dashboard,
	sweeper *service.Sweeper,
	storage Pinger,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:       logger,
		lots:         lots,
		sessions:     sessions,
		reservations: reservations,
		dashboard:    dashboard,
		sweeper:      sweeper,
		storage:      storage,
		wsHub:        wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		// 停车场
		api.POST("/lots", h.CreateLot)
		api.GET("/lots", h.ListLots)
		api.GET("/lots/:id", h.GetLot)
		api.DELETE("/lots/:id", h.RetireLot)
		api.GET("/lots/:id/slots", h.ListSlots)
		api.GET("/lots/:id/stats", h.GetLotStats)
		api.GET("/lots/:id/dashboard", h.GetDashboard)

		// 入场/出场
		api.POST("/sessions/entry", h.EnterVehicle)
		api.POST("/sessions/exit", h.ExitVehicle)
		api.GET("/vehicles/:number/session", h.GetActiveSession)

		// 预约
		api.POST("/reservations", h.CreateReservation)
		api.GET("/reservations/:id", h.GetReservation)
		api.POST("/reservations/:id/cancel", h.CancelReservation)
		api.POST("/reservations/:id/arrival", h.ProcessArrival)

		// 管理
		api.POST("/admin/sweep", h.RunSweep)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查与指标
	r.GET("/health", h.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// HandleWebSocket WebSocket 处理，?lot_id= 只订阅单个停车场
func (h *Handler) HandleWebSocket(c *gin.Context) {
	var lotID int64
	if raw := c.Query("lot_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid lot ID"})
			return
		}
		lotID = id
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn, lotID)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	status, code := "ok", http.StatusOK
	if err := h.storage.Ping(c.Request.Context()); err != nil {
		h.logger.Error("Storage health check failed", zap.Error(err))
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":     status,
		"ws_clients": h.wsHub.ClientCount(),
	})
}

// writeError 按错误类别映射状态码
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrBadRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// paramID 解析路径中的 id
func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return id, true
}
