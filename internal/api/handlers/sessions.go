package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/langchou/parkgazer/internal/models"
)

type entryRequest struct {
	VehicleNumber string             `json:"vehicle_number" binding:"required"`
	VehicleType   models.VehicleType `json:"vehicle_type" binding:"required"`
	LotID         int64              `json:"lot_id" binding:"required"`
}

type exitRequest struct {
	VehicleNumber string `json:"vehicle_number" binding:"required"`
}

// EnterVehicle 车辆入场
// POST /api/sessions/entry
func (h *Handler) EnterVehicle(c *gin.Context) {
	var req entryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.sessions.Enter(c.Request.Context(), req.VehicleNumber, req.VehicleType, req.LotID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": session})
}

// ExitVehicle 车辆出场并结算
// POST /api/sessions/exit
func (h *Handler) ExitVehicle(c *gin.Context) {
	var req exitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, charge, err := h.sessions.Exit(c.Request.Context(), req.VehicleNumber)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": session, "charge": charge})
}

// GetActiveSession 车辆当前会话
// GET /api/vehicles/:number/session
func (h *Handler) GetActiveSession(c *gin.Context) {
	session, err := h.sessions.GetActiveSession(c.Request.Context(), c.Param("number"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": session})
}
