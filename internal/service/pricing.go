package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/langchou/parkgazer/internal/models"
)

// 占用率分档
const (
	lowOccupancyLimit  = 50.0
	highOccupancyLimit = 80.0

	multiplierNormal = 1.0
	multiplierBusy   = 1.25
	multiplierPeak   = 1.5
)

// PricingEngine 计费引擎
type PricingEngine struct {
	slots *SlotStore
	grace time.Duration
}

// NewPricingEngine 创建计费引擎
func NewPricingEngine(slots *SlotStore, grace time.Duration) *PricingEngine {
	return &PricingEngine{slots: slots, grace: grace}
}

// ComputeCharge 计算 entry 到 now 的费用，占用率在计费时实时统计
// 免费时段内不查询占用率
func (p *PricingEngine) ComputeCharge(ctx context.Context, entry, now time.Time, lot *models.Lot) (models.Charge, error) {
	if now.Before(entry) {
		return models.Charge{}, fmt.Errorf("%w: entry %s, now %s", ErrClockSkew, entry.Format(time.RFC3339), now.Format(time.RFC3339))
	}

	duration := now.Sub(entry)
	if withinGrace(duration, p.grace) {
		return CalculateCharge(duration, 0, lot.BasePricePerHour, p.grace), nil
	}

	occupied, err := p.slots.CountByStatus(ctx, lot.ID, models.SlotOccupied)
	if err != nil {
		return models.Charge{}, fmt.Errorf("count occupied slots: %w", err)
	}
	return CalculateCharge(duration, occupancyPercent(occupied, lot.TotalSlots), lot.BasePricePerHour, p.grace), nil
}

// CalculateCharge 纯计费规则
// 时长按整分钟计；免费时段后按小时向上取整；倍率按占用率分档
func CalculateCharge(duration time.Duration, occupancy, basePricePerHour float64, grace time.Duration) models.Charge {
	if withinGrace(duration, grace) {
		return models.Charge{Multiplier: multiplierNormal}
	}

	billable := int(duration/time.Minute) - int(grace/time.Minute)
	hours := (billable + 59) / 60
	multiplier := Multiplier(occupancy)

	return models.Charge{
		Amount:           round2(float64(hours) * basePricePerHour * multiplier),
		BillableHours:    hours,
		OccupancyPercent: occupancy,
		Multiplier:       multiplier,
	}
}

// withinGrace 按整分钟比较，不足一分钟的零头不计
func withinGrace(duration, grace time.Duration) bool {
	return int(duration/time.Minute) <= int(grace/time.Minute)
}

// Multiplier 占用率对应的倍率
func Multiplier(occupancy float64) float64 {
	switch {
	case occupancy <= lowOccupancyLimit:
		return multiplierNormal
	case occupancy <= highOccupancyLimit:
		return multiplierBusy
	default:
		return multiplierPeak
	}
}

func occupancyPercent(occupied, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(occupied) / float64(total) * 100
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
