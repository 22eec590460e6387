package models

import "time"

// ReservationStatus 预约状态，ACTIVE 是唯一的非终态
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationCompleted ReservationStatus = "COMPLETED"
	ReservationCancelled ReservationStatus = "CANCELLED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// Reservation 到场前对车位的限时保留
type Reservation struct {
	ID              int64             `json:"id" db:"id"`
	VehicleID       int64             `json:"vehicle_id" db:"vehicle_id"`
	VehicleNumber   string            `json:"vehicle_number" db:"vehicle_number"`
	LotID           int64             `json:"lot_id" db:"lot_id"`
	SlotID          int64             `json:"slot_id" db:"slot_id"`
	ReservationTime time.Time         `json:"reservation_time" db:"reservation_time"`
	ExpirationTime  time.Time         `json:"expiration_time" db:"expiration_time"`
	Status          ReservationStatus `json:"status" db:"status"`
	Version         int64             `json:"version" db:"version"`
}

// Overdue 在 now 时刻是否已到期（到期时刻本身算到期）
func (r *Reservation) Overdue(now time.Time) bool {
	return r.Status == ReservationActive && !r.ExpirationTime.After(now)
}
