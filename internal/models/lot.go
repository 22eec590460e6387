package models

import "time"

// Lot 停车场，车位在创建时一次性生成，之后不再增减
type Lot struct {
	ID               int64     `json:"id" db:"id"`
	Name             string    `json:"name" db:"name"`
	TotalSlots       int       `json:"total_slots" db:"total_slots"`
	BasePricePerHour float64   `json:"base_price_per_hour" db:"base_price_per_hour"`
	Lifecycle        Lifecycle `json:"lifecycle" db:"lifecycle"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// SlotStatus 车位状态
type SlotStatus string

const (
	SlotAvailable SlotStatus = "AVAILABLE"
	SlotOccupied  SlotStatus = "OCCUPIED"
	SlotReserved  SlotStatus = "RESERVED"
)

// Slot 车位
// 状态只能通过 claim/release 协议（按 Version 做 CAS）变更
type Slot struct {
	ID        int64      `json:"id" db:"id"`
	LotID     int64      `json:"lot_id" db:"lot_id"`
	Number    string     `json:"slot_number" db:"number"`
	Status    SlotStatus `json:"status" db:"status"`
	Version   int64      `json:"version" db:"version"`
	Lifecycle Lifecycle  `json:"lifecycle" db:"lifecycle"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// LotStats 停车场统计
type LotStats struct {
	LotID               int64   `json:"lot_id"`
	OccupiedSlots       int     `json:"occupied_slots"`
	TotalSlots          int     `json:"total_slots"`
	OccupancyPercentage float64 `json:"occupancy_percentage"`
	RevenueToday        float64 `json:"revenue_today"`
	TotalRevenue        float64 `json:"total_revenue"`
}
