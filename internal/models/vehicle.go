package models

import "time"

// VehicleType 车辆类型
type VehicleType string

const (
	VehicleTypeCar  VehicleType = "CAR"
	VehicleTypeBike VehicleType = "BIKE"
)

// Valid 是否为已知车辆类型
func (t VehicleType) Valid() bool {
	return t == VehicleTypeCar || t == VehicleTypeBike
}

// Lifecycle 实体生命周期（替代隐式的软删除标记）
type Lifecycle string

const (
	LifecycleActive  Lifecycle = "ACTIVE"
	LifecycleRetired Lifecycle = "RETIRED"
)

// Vehicle 车辆，以车牌号为唯一标识，首次入场或预约时创建
type Vehicle struct {
	ID        int64       `json:"id" db:"id"`
	Number    string      `json:"vehicle_number" db:"number"`
	Type      VehicleType `json:"vehicle_type" db:"type"`
	Lifecycle Lifecycle   `json:"lifecycle" db:"lifecycle"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}
