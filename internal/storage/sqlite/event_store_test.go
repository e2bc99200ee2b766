package sqlite

import (
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ncvguard/internal/collision"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := OpenDB(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenDB_MigratesSchema(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)

	version, dirty, err := MigrateVersion(db)
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)
	assert.False(t, dirty)

	for _, table := range []string{"ncv_replan_events", "ncv_host_plans"} {
		var n int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n))
		assert.Equal(t, 1, n, table)
	}

	// Re-running is a no-op.
	require.NoError(t, MigrateUp(db))
}

func TestEventStore_RoundTrip(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	store := NewEventStore(db, "run-a")
	other := NewEventStore(db, "run-b")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordReplan(collision.ReplanEvent{
		Reason: collision.ReasonTimer, TriggeredAt: base.Add(5 * time.Second), TrackedObjects: 2,
	}))
	require.NoError(t, store.RecordReplan(collision.ReplanEvent{
		Reason: collision.ReasonFirstDetection, TriggeredAt: base, TrackedObjects: 1,
	}))
	require.NoError(t, other.RecordReplan(collision.ReplanEvent{Reason: collision.ReasonTimer, TriggeredAt: base}))

	require.NoError(t, store.RecordHostPlan(collision.HostPlanEvent{
		PublishedAt: base, Points: 21, StartTime: 100, StartDowntrack: 40, EndTime: 104,
	}))

	replans, err := store.ListReplans("run-a")
	require.NoError(t, err)
	require.Len(t, replans, 2)
	assert.Equal(t, collision.ReasonFirstDetection, replans[0].Reason)
	assert.Equal(t, base, replans[0].TriggeredAt)
	assert.Equal(t, 1, replans[0].TrackedObjects)
	assert.Equal(t, collision.ReasonTimer, replans[1].Reason)
	assert.NotEqual(t, replans[0].EventID, replans[1].EventID)

	plans, err := store.ListHostPlans("run-a")
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, HostPlanRecord{
		PlanID: plans[0].PlanID, RunID: "run-a", PublishedAt: base,
		Points: 21, StartTime: 100, StartDowntrack: 40, EndTime: 104,
	}, plans[0])

	plans, err = other.ListHostPlans("run-b")
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func TestNewEventStore_GeneratesRunID(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	a, b := NewEventStore(db, ""), NewEventStore(db, "")
	assert.NotEmpty(t, a.RunID())
	assert.NotEqual(t, a.RunID(), b.RunID())
}

func TestEventStore_ConcurrentWrites(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	store := NewEventStore(db, "run")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			at := base.Add(time.Duration(i) * time.Second)
			assert.NoError(t, store.RecordReplan(collision.ReplanEvent{Reason: collision.ReasonTimer, TriggeredAt: at}))
			assert.NoError(t, store.RecordHostPlan(collision.HostPlanEvent{PublishedAt: at, Points: i}))
		}(i)
	}
	wg.Wait()

	replans, err := store.ListReplans("run")
	require.NoError(t, err)
	assert.Len(t, replans, 8)
	plans, err := store.ListHostPlans("run")
	require.NoError(t, err)
	assert.Len(t, plans, 8)
}

func TestIsSQLiteBusy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "database is locked", err: errors.New("database is locked (5) (SQLITE_BUSY)"), want: true},
		{name: "SQLITE_BUSY", err: errors.New("SQLITE_BUSY"), want: true},
		{name: "other error", err: errors.New("some other error"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isSQLiteBusy(tt.err))
		})
	}
}

func TestRetryOnBusy(t *testing.T) {
	t.Parallel()

	t.Run("success after busy", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			if calls < 3 {
				return errors.New("database is locked")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("non-busy error returns immediately", func(t *testing.T) {
		calls := 0
		boom := errors.New("constraint failed")
		err := retryOnBusy(func() error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			return errors.New("SQLITE_BUSY")
		})
		require.Error(t, err)
		assert.Equal(t, busyRetries, calls)
	})
}
