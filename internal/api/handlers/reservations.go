package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CreateReservation 创建预约
// POST /api/reservations
func (h *Handler) CreateReservation(c *gin.Context) {
	var req entryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.reservations.Create(c.Request.Context(), req.VehicleNumber, req.VehicleType, req.LotID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": res})
}

// GetReservation 获取预约
func (h *Handler) GetReservation(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	res, err := h.reservations.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": res})
}

// CancelReservation 取消预约
// POST /api/reservations/:id/cancel
func (h *Handler) CancelReservation(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	res, err := h.reservations.Cancel(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": res})
}

// ProcessArrival 预约车辆到场
// POST /api/reservations/:id/arrival
func (h *Handler) ProcessArrival(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	session, err := h.reservations.ProcessArrival(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": session})
}

// RunSweep 立即执行一次预约过期清扫
// POST /api/admin/sweep
func (h *Handler) RunSweep(c *gin.Context) {
	expired, err := h.sweeper.SweepOnce(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.logger.Info("Manual sweep finished", zap.Int("expired", expired))
	c.JSON(http.StatusOK, gin.H{"expired": expired})
}
