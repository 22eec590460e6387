package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/parkgazer/internal/events"
	"github.com/langchou/parkgazer/internal/models"
	"github.com/langchou/parkgazer/internal/repository/memory"
	"github.com/langchou/parkgazer/internal/service"
	"github.com/langchou/parkgazer/pkg/ws"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	logger := zap.NewNop()
	store := memory.New()
	stores := service.Stores{
		Tx:           store,
		Lots:         store.Lots(),
		Slots:        store.Slots(),
		Vehicles:     store.Vehicles(),
		Sessions:     store.Sessions(),
		Reservations: store.Reservations(),
	}
	bus := events.NewLocalBus(logger)

	slots := service.NewSlotStore(stores.Slots, logger, 3, time.Millisecond)
	pricing := service.NewPricingEngine(slots, 30*time.Minute)
	sessions := service.NewSessionService(stores, slots, pricing, bus, logger)
	reservations := service.NewReservationService(stores, slots, sessions, bus, logger, 15*time.Minute)
	sweeper := service.NewSweeper(reservations, time.Minute, logger)
	dashboard := service.NewDashboard(stores.Lots, slots, bus, logger, 80)
	lots := service.NewLotService(stores, slots, dashboard, logger)
	require.NoError(t, bus.Subscribe(models.FactSlotStatusChanged, dashboard.OnSlotStatusChanged))

	h := NewHandler(logger, lots, sessions, reservations, dashboard, sweeper, store, ws.NewHub(logger))
	r := gin.New()
	h.RegisterRoutes(r)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// decodeData 解析 {"data": ...} 响应
func decodeData(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NoError(t, json.Unmarshal(resp.Data, out))
}

func createLot(t *testing.T, r *gin.Engine, name string, slots int) models.Lot {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/api/lots", gin.H{
		"name":                name,
		"total_slots":         slots,
		"base_price_per_hour": 5.0,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var lot models.Lot
	decodeData(t, w, &lot)
	return lot
}

func TestLotEndpoints(t *testing.T) {
	r := newTestRouter(t)
	lot := createLot(t, r, "Central", 3)
	assert.Equal(t, 3, lot.TotalSlots)

	w := doJSON(t, r, http.MethodPost, "/api/lots", gin.H{"name": "Central", "total_slots": 2})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/lots", gin.H{"name": "Empty", "total_slots": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/lots/%d/slots?status=AVAILABLE", lot.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var slots []models.Slot
	decodeData(t, w, &slots)
	assert.Len(t, slots, 3)

	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/lots/%d/slots?status=BROKEN", lot.ID), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/lots/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/lots/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/api/lots/%d", lot.ID), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/lots", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var lots []models.Lot
	decodeData(t, w, &lots)
	assert.Empty(t, lots)

	w = doJSON(t, r, http.MethodGet, "/api/lots?include_retired=true", nil)
	decodeData(t, w, &lots)
	assert.Len(t, lots, 1)
}

func TestEntryExitFlow(t *testing.T) {
	r := newTestRouter(t)
	lot := createLot(t, r, "North", 2)

	entry := gin.H{"vehicle_number": "KA01AB1234", "vehicle_type": "CAR", "lot_id": lot.ID}
	w := doJSON(t, r, http.MethodPost, "/api/sessions/entry", entry)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var session models.Session
	decodeData(t, w, &session)
	assert.Equal(t, models.SessionActive, session.Status)
	assert.Equal(t, "KA01AB1234", session.VehicleNumber)

	// 已在场的车辆不能再次入场
	w = doJSON(t, r, http.MethodPost, "/api/sessions/entry", entry)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/vehicles/KA01AB1234/session", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/lots/%d/dashboard", lot.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var dash struct {
		Occupied  int `json:"occupied_slots"`
		Available int `json:"available_slots"`
		Occupancy int `json:"occupancy_percentage"`
	}
	decodeData(t, w, &dash)
	assert.Equal(t, 1, dash.Occupied)
	assert.Equal(t, 1, dash.Available)
	assert.Equal(t, 50, dash.Occupancy)

	w = doJSON(t, r, http.MethodPost, "/api/sessions/exit", gin.H{"vehicle_number": "KA01AB1234"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var exit struct {
		Data   models.Session `json:"data"`
		Charge models.Charge  `json:"charge"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &exit))
	assert.Equal(t, models.SessionCompleted, exit.Data.Status)
	// 宽限期内免费
	assert.Zero(t, exit.Charge.Amount)

	w = doJSON(t, r, http.MethodPost, "/api/sessions/exit", gin.H{"vehicle_number": "KA01AB1234"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/lots/%d/stats", lot.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.LotStats
	decodeData(t, w, &stats)
	assert.Equal(t, 0, stats.OccupiedSlots)
	assert.Equal(t, 2, stats.TotalSlots)
}

func TestEntryValidation(t *testing.T) {
	r := newTestRouter(t)
	lot := createLot(t, r, "South", 1)

	w := doJSON(t, r, http.MethodPost, "/api/sessions/entry", gin.H{"vehicle_number": "X1", "lot_id": lot.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/sessions/entry", gin.H{"vehicle_number": "X1", "vehicle_type": "TRUCK", "lot_id": lot.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/sessions/entry", gin.H{"vehicle_number": "X1", "vehicle_type": "CAR", "lot_id": 42})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/sessions/entry", gin.H{"vehicle_number": "X1", "vehicle_type": "CAR", "lot_id": lot.ID})
	require.Equal(t, http.StatusCreated, w.Code)

	// 车位已满
	w = doJSON(t, r, http.MethodPost, "/api/sessions/entry", gin.H{"vehicle_number": "X2", "vehicle_type": "BIKE", "lot_id": lot.ID})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestReservationEndpoints(t *testing.T) {
	r := newTestRouter(t)
	lot := createLot(t, r, "East", 2)

	body := gin.H{"vehicle_number": "MH12ZZ0001", "vehicle_type": "CAR", "lot_id": lot.ID}
	w := doJSON(t, r, http.MethodPost, "/api/reservations", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res models.Reservation
	decodeData(t, w, &res)
	assert.Equal(t, models.ReservationActive, res.Status)

	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/reservations/%d", res.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/reservations/%d/cancel", res.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, &res)
	assert.Equal(t, models.ReservationCancelled, res.Status)

	// 终态预约不能再到场
	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/reservations/%d/arrival", res.ID), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/reservations", body)
	require.Equal(t, http.StatusCreated, w.Code)
	decodeData(t, w, &res)

	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/reservations/%d/arrival", res.ID), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var session models.Session
	decodeData(t, w, &session)
	assert.Equal(t, res.SlotID, session.SlotID)
	assert.Equal(t, models.SessionActive, session.Status)

	w = doJSON(t, r, http.MethodGet, "/api/reservations/12345", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminSweepAndHealth(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/admin/sweep", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"expired":0}`, w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","ws_clients":0}`, w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
