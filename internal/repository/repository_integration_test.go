package repository

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/langchou/parkgazer/internal/models"
)

// setupDB 优先使用 TEST_DATABASE_URL（CI），否则启动 PostgreSQL 容器
func setupDB(t *testing.T) *DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)

		ctr, err := postgres.Run(ctx, "postgres:16-alpine",
			postgres.WithDatabase("parkgazer_test"),
			postgres.WithUsername("parkgazer"),
			postgres.WithPassword("parkgazer_test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		testcontainers.CleanupContainer(t, ctr)
		require.NoError(t, err)

		url, err = ctr.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	db, err := New(ctx, url, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.Migrate(ctx))
	_, err = db.Pool.Exec(ctx, `TRUNCATE reservations, sessions, vehicles, slots, lots RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return db
}

func TestPostgresRepositories(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	lots := NewLotRepository(db)
	slots := NewSlotRepository(db)
	vehicles := NewVehicleRepository(db)
	sessions := NewSessionRepository(db)
	reservations := NewReservationRepository(db)

	lot := &models.Lot{Name: "Central", TotalSlots: 3, BasePricePerHour: 5}
	require.NoError(t, db.InTx(ctx, func(ctx context.Context) error {
		return lots.Create(ctx, lot)
	}))

	t.Run("slots are generated in id order", func(t *testing.T) {
		list, err := slots.ListByLot(ctx, lot.ID, models.SlotAvailable, false)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "1", list[0].Number)
		assert.Less(t, list[0].ID, list[1].ID)
	})

	t.Run("duplicate active lot name", func(t *testing.T) {
		err := db.InTx(ctx, func(ctx context.Context) error {
			return lots.Create(ctx, &models.Lot{Name: "Central", TotalSlots: 1})
		})
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("concurrent cas has a single winner", func(t *testing.T) {
		list, err := slots.ListByLot(ctx, lot.ID, "", false)
		require.NoError(t, err)
		target := list[0]

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins, conflicts := 0, 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := slots.CompareAndSwapStatus(ctx, target.ID, target.Version, models.SlotOccupied)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, ErrVersionConflict):
					conflicts++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
		assert.Equal(t, 7, conflicts)

		counts, err := slots.CountsByLot(ctx, lot.ID, false)
		require.NoError(t, err)
		assert.Equal(t, 1, counts[models.SlotOccupied])
		assert.Equal(t, 2, counts[models.SlotAvailable])
	})

	t.Run("rollback undoes slot claim", func(t *testing.T) {
		list, _ := slots.ListByLot(ctx, lot.ID, models.SlotAvailable, false)
		target := list[0]
		boom := errors.New("boom")

		err := db.InTx(ctx, func(ctx context.Context) error {
			if _, err := slots.CompareAndSwapStatus(ctx, target.ID, target.Version, models.SlotReserved); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := slots.GetByID(ctx, target.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SlotAvailable, got.Status)
	})

	t.Run("session and reservation guards", func(t *testing.T) {
		v, err := vehicles.GetOrCreate(ctx, "KA-01-AB-1234", models.VehicleTypeCar)
		require.NoError(t, err)
		again, err := vehicles.GetOrCreate(ctx, "KA-01-AB-1234", models.VehicleTypeCar)
		require.NoError(t, err)
		assert.Equal(t, v.ID, again.ID)

		entry := time.Now().Add(-2 * time.Hour).UTC()
		sess := &models.Session{VehicleID: v.ID, LotID: lot.ID, SlotID: 1, EntryTime: entry}
		require.NoError(t, sessions.Create(ctx, sess))
		assert.ErrorIs(t, sessions.Create(ctx, &models.Session{VehicleID: v.ID, LotID: lot.ID, SlotID: 2, EntryTime: entry}), ErrDuplicate)

		active, err := sessions.GetActiveByVehicle(ctx, v.ID)
		require.NoError(t, err)
		assert.Equal(t, "KA-01-AB-1234", active.VehicleNumber)
		assert.Equal(t, "1", active.SlotNumber)

		exit := time.Now().UTC()
		amount := 15.0
		active.ExitTime = &exit
		active.TotalAmount = &amount
		active.Status = models.SessionCompleted
		require.NoError(t, sessions.Complete(ctx, active))
		assert.ErrorIs(t, sessions.Complete(ctx, active), ErrVersionConflict)

		total, err := sessions.SumRevenue(ctx, lot.ID, time.Time{})
		require.NoError(t, err)
		assert.InDelta(t, 15.0, total, 1e-9)

		res := &models.Reservation{VehicleID: v.ID, LotID: lot.ID, SlotID: 3, ReservationTime: exit, ExpirationTime: exit.Add(15 * time.Minute)}
		require.NoError(t, reservations.Create(ctx, res))
		assert.ErrorIs(t, reservations.Create(ctx, &models.Reservation{VehicleID: v.ID, LotID: lot.ID, SlotID: 2, ReservationTime: exit, ExpirationTime: exit}), ErrDuplicate)

		updated, err := reservations.UpdateStatus(ctx, res.ID, 0, models.ReservationCancelled)
		require.NoError(t, err)
		assert.Equal(t, int64(1), updated.Version)
		_, err = reservations.UpdateStatus(ctx, res.ID, 0, models.ReservationExpired)
		assert.ErrorIs(t, err, ErrVersionConflict)
	})

	t.Run("vehicle row lock wait is bounded", func(t *testing.T) {
		_, err := vehicles.GetOrCreate(ctx, "LOCKED-1", models.VehicleTypeCar)
		require.NoError(t, err)

		holder, err := db.Pool.Begin(ctx)
		require.NoError(t, err)
		defer holder.Rollback(ctx)
		_, err = holder.Exec(ctx, `SELECT id FROM vehicles WHERE number = $1 FOR UPDATE`, "LOCKED-1")
		require.NoError(t, err)

		short := &DB{Pool: db.Pool, lockTimeout: 100 * time.Millisecond}
		start := time.Now()
		err = short.InTx(ctx, func(ctx context.Context) error {
			_, err := NewVehicleRepository(short).GetOrCreate(ctx, "LOCKED-1", models.VehicleTypeCar)
			return err
		})
		assert.ErrorIs(t, err, ErrVersionConflict)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("retire", func(t *testing.T) {
		require.NoError(t, lots.Retire(ctx, lot.ID))
		_, err := lots.GetByID(ctx, lot.ID, false)
		assert.ErrorIs(t, err, ErrNotFound)

		list, err := slots.ListByLot(ctx, lot.ID, "", true)
		require.NoError(t, err)
		for _, s := range list {
			assert.Equal(t, models.LifecycleRetired, s.Lifecycle)
		}
	})
}
