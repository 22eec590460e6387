package service

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/parkgazer/internal/models"
)

func TestDashboardTracksSlotChanges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	lot := env.createLot(t, "Central", 4, 5)

	_, err := env.sessions.Enter(ctx, "KA-01", models.VehicleTypeCar, lot.ID)
	require.NoError(t, err)
	_, err = env.reservations.Create(ctx, "KA-02", models.VehicleTypeCar, lot.ID)
	require.NoError(t, err)

	snap, err := env.dashboard.Get(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Occupied)
	assert.Equal(t, 1, snap.Reserved)
	assert.Equal(t, 2, snap.Available)
	assert.Equal(t, 4, snap.TotalSlots)
	assert.Equal(t, 50, snap.OccupancyPercentage())

	updates := env.facts.ofType(models.FactOccupancyUpdate)
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1].Data.(models.OccupancyUpdate)
	assert.Equal(t, 50, last.OccupancyPercentage)
	assert.Equal(t, 2, last.AvailableSlots)
}

func TestDashboardNeverDrifts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	lot := env.createLot(t, "Central", 6, 5)
	rng := rand.New(rand.NewSource(42))

	reservations := map[string]int64{}
	for i := 0; i < 200; i++ {
		number := fmt.Sprintf("V-%d", rng.Intn(10))
		switch rng.Intn(5) {
		case 0:
			_, _ = env.sessions.Enter(ctx, number, models.VehicleTypeCar, lot.ID)
		case 1:
			_, _, _ = env.sessions.Exit(ctx, number)
		case 2:
			if res, err := env.reservations.Create(ctx, number, models.VehicleTypeBike, lot.ID); err == nil {
				reservations[number] = res.ID
			}
		case 3:
			if id, ok := reservations[number]; ok {
				_, _ = env.reservations.Cancel(ctx, id)
			}
		case 4:
			if id, ok := reservations[number]; ok {
				_, _ = env.reservations.ProcessArrival(ctx, id)
			}
		}
		env.clock.Advance(time.Duration(rng.Intn(10)) * time.Minute)
		if i%25 == 0 {
			_, err := env.sweeper.SweepOnce(ctx)
			require.NoError(t, err)
		}

		counts := env.counts(t, lot.ID)
		require.Equal(t, 6, counts[models.SlotOccupied]+counts[models.SlotAvailable]+counts[models.SlotReserved])

		snap, err := env.dashboard.Get(ctx, lot.ID)
		require.NoError(t, err)
		require.Equal(t, counts[models.SlotOccupied], snap.Occupied, "step %d", i)
		require.Equal(t, counts[models.SlotAvailable], snap.Available, "step %d", i)
		require.Equal(t, counts[models.SlotReserved], snap.Reserved, "step %d", i)
	}

	// 重算是幂等的
	first, err := env.dashboard.Refresh(ctx, lot.ID)
	require.NoError(t, err)
	second, err := env.dashboard.Refresh(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Occupied, second.Occupied)
	assert.Equal(t, first.Available, second.Available)
	assert.Equal(t, first.Reserved, second.Reserved)
}

func TestHighOccupancyAlertRefiresOnEveryRefresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	lot := env.createLot(t, "Central", 5, 5)

	for i := 0; i < 3; i++ {
		_, err := env.sessions.Enter(ctx, fmt.Sprintf("KA-%d", i), models.VehicleTypeCar, lot.ID)
		require.NoError(t, err)
	}
	assert.Empty(t, env.facts.ofType(models.FactHighOccupancyAlert), "60% is below the threshold")

	_, err := env.reservations.Create(ctx, "KA-9", models.VehicleTypeCar, lot.ID)
	require.NoError(t, err)
	alerts := env.facts.ofType(models.FactHighOccupancyAlert)
	require.Len(t, alerts, 1)
	alert := alerts[0].Data.(models.HighOccupancyAlert)
	assert.Equal(t, 80, alert.OccupancyPercentage)
	assert.Equal(t, lot.ID, alert.LotID)
	assert.Contains(t, alert.Message, "Central")

	_, err = env.dashboard.Refresh(ctx, lot.ID)
	require.NoError(t, err)
	_, err = env.dashboard.Refresh(ctx, lot.ID)
	require.NoError(t, err)
	assert.Len(t, env.facts.ofType(models.FactHighOccupancyAlert), 3)
}

func TestDashboardRefreshAllAndSnapshots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.createLot(t, "A", 2, 5)
	b := env.createLot(t, "B", 3, 5)

	// 新进程的看板为空，启动时整体重建
	fresh := NewDashboard(env.stores.Lots, env.slots, nil, env.dashboard.logger, 80)
	assert.Empty(t, fresh.Snapshots())
	require.NoError(t, fresh.RefreshAll(ctx))

	snaps := fresh.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, a.ID, snaps[0].LotID)
	assert.Equal(t, 2, snaps[0].Available)
	assert.Equal(t, b.ID, snaps[1].LotID)
	assert.Equal(t, 3, snaps[1].TotalSlots)

	_, err := fresh.Get(ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)
}
