// Package metrics Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// claim 结果标签
const (
	OutcomeClaimed  = "claimed"
	OutcomeLotFull  = "lot_full"
	OutcomeTryAgain = "try_again"
)

var (
	SlotClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parkgazer_slot_claims_total",
		Help: "Slot claim attempts by outcome",
	}, []string{"target", "outcome"})

	SlotCASConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parkgazer_slot_cas_conflicts_total",
		Help: "Slot compare-and-swap attempts lost to a concurrent writer",
	})

	ReservationsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parkgazer_reservations_expired_total",
		Help: "Reservations expired by the sweeper",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "parkgazer_sweep_duration_seconds",
		Help:    "Duration of one reservation expiration sweep",
		Buckets: prometheus.DefBuckets,
	})

	LotOccupancy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "parkgazer_lot_occupancy_percent",
		Help: "Dashboard occupancy percentage per lot",
	}, []string{"lot_id"})

	HighOccupancyAlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parkgazer_high_occupancy_alerts_total",
		Help: "High occupancy alerts emitted per lot",
	}, []string{"lot_id"})
)
