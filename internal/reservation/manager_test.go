package reservation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 8, 55, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("res-%d", n.Add(1))
	}
}

func slot(timeOfDay string) SlotKey {
	return SlotKey{ClinicID: "clinicA", DoctorID: "docX", Date: "2024-06-01", Time: timeOfDay}
}

func newTestManager(t *testing.T, store Store) (*Manager, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	return NewManager(store, WithClock(clock.Now), WithIDGenerator(sequentialIDs())), clock
}

func TestManager_SecondReserveConflictsWithOriginal(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, NewMemoryStore())

	first, err := mgr.Reserve(ctx, slot("09:00"), ReservedByInteractive, "desk-1")
	require.NoError(t, err)
	assert.Equal(t, first.ReservedAt.Add(DefaultTTL), first.ExpiresAt)

	_, err = mgr.Reserve(ctx, slot("09:00"), ReservedByAutomated, "bot")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSlotReserved)

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, first.ID, conflict.Existing.ID)
	assert.Equal(t, ReservedByInteractive, conflict.Existing.ReservedBy)
}

func TestManager_SameOwnerStillConflicts(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, NewMemoryStore())

	_, err := mgr.Reserve(ctx, slot("09:30"), ReservedByInteractive, "desk-1")
	require.NoError(t, err)

	_, err = mgr.Reserve(ctx, slot("09:30"), ReservedByInteractive, "desk-1")
	assert.ErrorIs(t, err, ErrSlotReserved)
}

func TestManager_ExpiryFreesSlot(t *testing.T) {
	ctx := context.Background()
	mgr, clock := newTestManager(t, NewMemoryStore())

	first, err := mgr.Reserve(ctx, slot("10:00"), ReservedByInteractive, "")
	require.NoError(t, err)

	clock.Advance(DefaultTTL - time.Second)
	reserved, err := mgr.IsReserved(ctx, slot("10:00"))
	require.NoError(t, err)
	assert.True(t, reserved)

	clock.Advance(time.Second)
	reserved, err = mgr.IsReserved(ctx, slot("10:00"))
	require.NoError(t, err)
	assert.False(t, reserved, "reservation must not be observable at expires_at")

	reserved, err = mgr.IsReserved(ctx, slot("10:00"))
	require.NoError(t, err)
	assert.False(t, reserved)

	second, err := mgr.Reserve(ctx, slot("10:00"), ReservedByAutomated, "")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestManager_ConfirmAndCancelAreIdempotent(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, NewMemoryStore())

	r, err := mgr.Reserve(ctx, slot("11:00"), ReservedByInteractive, "")
	require.NoError(t, err)

	require.NoError(t, mgr.Confirm(ctx, r.ID))
	require.NoError(t, mgr.Confirm(ctx, r.ID))
	require.NoError(t, mgr.Cancel(ctx, r.ID))
	require.NoError(t, mgr.Cancel(ctx, "never-issued"))
	require.NoError(t, mgr.Confirm(ctx, ""))

	reserved, err := mgr.IsReserved(ctx, slot("11:00"))
	require.NoError(t, err)
	assert.False(t, reserved)
}

func TestManager_StaleConfirmDoesNotFreeNewHolder(t *testing.T) {
	ctx := context.Background()
	mgr, clock := newTestManager(t, NewMemoryStore())

	old, err := mgr.Reserve(ctx, slot("11:30"), ReservedByInteractive, "")
	require.NoError(t, err)
	clock.Advance(DefaultTTL)

	fresh, err := mgr.Reserve(ctx, slot("11:30"), ReservedByAutomated, "")
	require.NoError(t, err)

	require.NoError(t, mgr.Confirm(ctx, old.ID))

	got, err := mgr.Get(ctx, slot("11:30"))
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, got.ID)
}

func TestManager_Validation(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, NewMemoryStore())

	tests := []struct {
		name string
		key  SlotKey
		by   ReservedBy
		want error
	}{
		{"missing clinic", SlotKey{DoctorID: "d", Date: "2024-06-01", Time: "09:00"}, ReservedByInteractive, ErrInvalidSlotKey},
		{"missing doctor", SlotKey{ClinicID: "c", Date: "2024-06-01", Time: "09:00"}, ReservedByInteractive, ErrInvalidSlotKey},
		{"bad date", SlotKey{ClinicID: "c", DoctorID: "d", Date: "01/06/2024", Time: "09:00"}, ReservedByInteractive, ErrInvalidSlotKey},
		{"bad time", SlotKey{ClinicID: "c", DoctorID: "d", Date: "2024-06-01", Time: "9am"}, ReservedByInteractive, ErrInvalidSlotKey},
		{"unknown source", slot("09:00"), ReservedBy("fax"), ErrInvalidReservedBy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mgr.Reserve(ctx, tt.key, tt.by, "")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestManager_SweepExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	mgr, clock := newTestManager(t, store)

	for _, tm := range []string{"08:00", "08:30", "09:00"} {
		_, err := mgr.Reserve(ctx, slot(tm), ReservedByInteractive, "")
		require.NoError(t, err)
	}
	clock.Advance(2 * time.Minute)
	_, err := mgr.Reserve(ctx, slot("09:30"), ReservedByInteractive, "")
	require.NoError(t, err)

	clock.Advance(DefaultTTL - time.Minute)
	removed, err := mgr.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Equal(t, 1, store.Len())

	removed, err = mgr.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestManager_ConcurrentReserveExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, NewMemoryStore())

	sources := []ReservedBy{ReservedByInteractive, ReservedByAutomated}
	results := make([]*Reservation, len(sources))
	errs := make([]error, len(sources))

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, by := range sources {
		wg.Add(1)
		go func(i int, by ReservedBy) {
			defer wg.Done()
			<-start
			results[i], errs[i] = mgr.Reserve(ctx, slot("09:00"), by, "")
		}(i, by)
	}
	close(start)
	wg.Wait()

	var winner *Reservation
	var conflict *ConflictError
	for i := range sources {
		if errs[i] == nil {
			require.Nil(t, winner, "two reservations succeeded")
			winner = results[i]
			continue
		}
		require.True(t, errors.As(errs[i], &conflict))
	}
	require.NotNil(t, winner)
	require.NotNil(t, conflict)
	assert.Equal(t, winner.ID, conflict.Existing.ID)
}

func TestManager_ManyContendersOneWinner(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, NewMemoryStore())

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.Reserve(ctx, slot("14:00"), ReservedByInteractive, "")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrSlotReserved):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(49), conflicts.Load())
}

type failingStore struct {
	MemoryStore
}

func (failingStore) Insert(context.Context, Reservation, time.Time) (*Reservation, error) {
	return nil, errors.New("connection refused")
}

func TestManager_StoreFailureIsNotConflict(t *testing.T) {
	mgr := NewManager(&failingStore{})

	_, err := mgr.Reserve(context.Background(), slot("09:00"), ReservedByInteractive, "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSlotReserved)
	assert.Contains(t, err.Error(), "connection refused")
}
