package models

import "time"

// FactType 核心对外发布的事实类型
type FactType string

const (
	FactVehicleEntered     FactType = "vehicle.entered"
	FactVehicleExited      FactType = "vehicle.exited"
	FactSlotStatusChanged  FactType = "slot.status_changed"
	FactReservationChanged FactType = "reservation.changed"
	FactOccupancyUpdate    FactType = "occupancy.update"
	FactHighOccupancyAlert FactType = "occupancy.alert"
)

// AllFactTypes 全部事实类型，转发器按此订阅
var AllFactTypes = []FactType{
	FactVehicleEntered,
	FactVehicleExited,
	FactSlotStatusChanged,
	FactReservationChanged,
	FactOccupancyUpdate,
	FactHighOccupancyAlert,
}

// Fact 事实载荷，LotID 用于按停车场路由
type Fact interface {
	Type() FactType
	Lot() int64
}

// Envelope 传输层的统一信封
type Envelope struct {
	ID         string    `json:"id"`
	Type       FactType  `json:"type"`
	LotID      int64     `json:"lot_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

// VehicleEntered 车辆入场
type VehicleEntered struct {
	SessionID     int64     `json:"session_id"`
	VehicleNumber string    `json:"vehicle_number"`
	LotID         int64     `json:"lot_id"`
	SlotID        int64     `json:"slot_id"`
	SlotNumber    string    `json:"slot_number"`
	LotName       string    `json:"lot_name"`
	EntryTime     time.Time `json:"entry_time"`
}

func (VehicleEntered) Type() FactType { return FactVehicleEntered }
func (f VehicleEntered) Lot() int64   { return f.LotID }

// VehicleExited 车辆出场
type VehicleExited struct {
	SessionID     int64     `json:"session_id"`
	VehicleNumber string    `json:"vehicle_number"`
	LotID         int64     `json:"lot_id"`
	LotName       string    `json:"lot_name"`
	SlotID        int64     `json:"slot_id"`
	EntryTime     time.Time `json:"entry_time"`
	ExitTime      time.Time `json:"exit_time"`
	TotalAmount   float64   `json:"total_amount"`
}

func (VehicleExited) Type() FactType { return FactVehicleExited }
func (f VehicleExited) Lot() int64   { return f.LotID }

// SlotStatusChanged 车位状态变更（任何 claim/release）
type SlotStatusChanged struct {
	LotID     int64      `json:"lot_id"`
	SlotID    int64      `json:"slot_id"`
	NewStatus SlotStatus `json:"new_status"`
}

func (SlotStatusChanged) Type() FactType { return FactSlotStatusChanged }
func (f SlotStatusChanged) Lot() int64   { return f.LotID }

// ReservationChanged 预约状态变更
type ReservationChanged struct {
	ReservationID   int64             `json:"reservation_id"`
	VehicleNumber   string            `json:"vehicle_number"`
	SlotID          int64             `json:"slot_id"`
	LotID           int64             `json:"lot_id"`
	LotName         string            `json:"lot_name"`
	ReservationTime time.Time         `json:"reservation_time"`
	ExpirationTime  time.Time         `json:"expiration_time"`
	Status          ReservationStatus `json:"status"`
}

func (ReservationChanged) Type() FactType { return FactReservationChanged }
func (f ReservationChanged) Lot() int64   { return f.LotID }

// OccupancyUpdate 看板刷新
type OccupancyUpdate struct {
	LotID               int64 `json:"lot_id"`
	OccupiedSlots       int   `json:"occupied_slots"`
	AvailableSlots      int   `json:"available_slots"`
	ReservedSlots       int   `json:"reserved_slots"`
	OccupancyPercentage int   `json:"occupancy_percentage"`
}

func (OccupancyUpdate) Type() FactType { return FactOccupancyUpdate }
func (f OccupancyUpdate) Lot() int64   { return f.LotID }

// HighOccupancyAlert 高占用告警
type HighOccupancyAlert struct {
	LotID               int64  `json:"lot_id"`
	Message             string `json:"message"`
	OccupancyPercentage int    `json:"occupancy_percentage"`
}

func (HighOccupancyAlert) Type() FactType { return FactHighOccupancyAlert }
func (f HighOccupancyAlert) Lot() int64   { return f.LotID }
