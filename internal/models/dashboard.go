package models

import (
	"math"
	"time"
)

// DashboardState 单个停车场的占用快照
// 只是派生缓存，随时可以从车位表重建
type DashboardState struct {
	LotID      int64     `json:"lot_id"`
	Occupied   int       `json:"occupied"`
	Available  int       `json:"available"`
	Reserved   int       `json:"reserved"`
	TotalSlots int       `json:"total_slots"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// OccupancyPercentage 占用率 = round((已占用+已预约) / (已占用+空闲+已预约) * 100)
// 分母不含下线车位，分母为 0 时返回 0
func (d *DashboardState) OccupancyPercentage() int {
	denom := d.Occupied + d.Available + d.Reserved
	if denom == 0 {
		return 0
	}
	return int(math.Round(float64(d.Occupied+d.Reserved) / float64(denom) * 100))
}
