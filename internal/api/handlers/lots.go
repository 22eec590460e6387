package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/langchou/parkgazer/internal/models"
)

type createLotRequest struct {
	Name             string  `json:"name" binding:"required"`
	TotalSlots       int     `json:"total_slots" binding:"required,gt=0"`
	BasePricePerHour float64 `json:"base_price_per_hour" binding:"gte=0"`
}

// CreateLot 创建停车场
// POST /api/lots
func (h *Handler) CreateLot(c *gin.Context) {
	var req createLotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lot, err := h.lots.Create(c.Request.Context(), req.Name, req.TotalSlots, req.BasePricePerHour)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": lot})
}

// ListLots 获取停车场列表
// GET /api/lots?include_retired=true
func (h *Handler) ListLots(c *gin.Context) {
	includeRetired, _ := strconv.ParseBool(c.DefaultQuery("include_retired", "false"))
	lots, err := h.lots.List(c.Request.Context(), includeRetired)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if lots == nil {
		lots = []*models.Lot{}
	}
	c.JSON(http.StatusOK, gin.H{"data": lots})
}

// GetLot 获取停车场详情
func (h *Handler) GetLot(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	lot, err := h.lots.Get(c.Request.Context(), id, false)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": lot})
}

// RetireLot 下线停车场
// DELETE /api/lots/:id
func (h *Handler) RetireLot(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.lots.Retire(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListSlots 获取车位列表，?status= 按状态过滤
func (h *Handler) ListSlots(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	status := models.SlotStatus(c.Query("status"))
	switch status {
	case "", models.SlotAvailable, models.SlotOccupied, models.SlotReserved:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid slot status"})
		return
	}

	slots, err := h.lots.ListSlots(c.Request.Context(), id, status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if slots == nil {
		slots = []*models.Slot{}
	}
	c.JSON(http.StatusOK, gin.H{"data": slots})
}

// GetLotStats 停车场统计
func (h *Handler) GetLotStats(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	stats, err := h.lots.Stats(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

// GetDashboard 看板快照
func (h *Handler) GetDashboard(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	snapshot, err := h.dashboard.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"lot_id":               snapshot.LotID,
		"occupied_slots":       snapshot.Occupied,
		"available_slots":      snapshot.Available,
		"reserved_slots":       snapshot.Reserved,
		"total_slots":          snapshot.TotalSlots,
		"occupancy_percentage": snapshot.OccupancyPercentage(),
		"updated_at":           snapshot.UpdatedAt,
	}})
}
