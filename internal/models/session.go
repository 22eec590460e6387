package models

import "time"

// SessionStatus 停车会话状态
type SessionStatus string

const (
	SessionActive    SessionStatus = "ACTIVE"
	SessionCompleted SessionStatus = "COMPLETED"
)

// Session 一次连续占用车位的记录（入场到出场）
type Session struct {
	ID            int64         `json:"id" db:"id"`
	VehicleID     int64         `json:"vehicle_id" db:"vehicle_id"`
	VehicleNumber string        `json:"vehicle_number" db:"vehicle_number"`
	LotID         int64         `json:"lot_id" db:"lot_id"`
	SlotID        int64         `json:"slot_id" db:"slot_id"`
	SlotNumber    string        `json:"slot_number" db:"slot_number"`
	EntryTime     time.Time     `json:"entry_time" db:"entry_time"`
	ExitTime      *time.Time    `json:"exit_time,omitempty" db:"exit_time"`
	TotalAmount   *float64      `json:"total_amount,omitempty" db:"total_amount"`
	Status        SessionStatus `json:"status" db:"status"`
}

// Charge 计费结果
type Charge struct {
	Amount           float64 `json:"amount"`
	BillableHours    int     `json:"billable_hours"`
	OccupancyPercent float64 `json:"occupancy_percent"`
	Multiplier       float64 `json:"multiplier"`
}
