package parcels

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/zapshift/internal/pagination"
)

func newParcel(id, email string, createdAt time.Time) *Parcel {
	return &Parcel{
		ID:            id,
		Name:          "Parcel " + id,
		SenderEmail:   email,
		Cost:          50,
		PaymentStatus: StatusUnpaid,
		CreatedAt:     createdAt,
	}
}

func TestMemoryStore_CreateGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	p := newParcel("P1", "a@example.com", time.Now())
	require.NoError(t, store.Create(ctx, p))

	got, err := store.Get(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "Parcel P1", got.Name)

	// Returned copies are detached from the store.
	got.Name = "changed"
	again, _ := store.Get(ctx, "P1")
	assert.Equal(t, "Parcel P1", again.Name)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrParcelNotFound)
}

func TestMemoryStore_UpdateStatusIfUnpaid(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newParcel("P1", "a@example.com", time.Now())))

	paidAt := time.Now()
	applied, err := store.UpdateStatusIfUnpaid(ctx, "P1", StatusTransition{
		Status: StatusPaid, TrackingID: "ZAP-1-AAA", SessionID: "cs_1", PaidAt: paidAt,
	})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = store.UpdateStatusIfUnpaid(ctx, "P1", StatusTransition{
		Status: StatusPaid, TrackingID: "ZAP-2-BBB", SessionID: "cs_2", PaidAt: paidAt,
	})
	require.NoError(t, err)
	assert.False(t, applied)

	got, _ := store.Get(ctx, "P1")
	assert.Equal(t, StatusPaid, got.PaymentStatus)
	assert.Equal(t, "ZAP-1-AAA", got.TrackingID)
	assert.Equal(t, "cs_1", got.PaymentSessionID)
	require.NotNil(t, got.PaidAt)

	applied, err = store.UpdateStatusIfUnpaid(ctx, "missing", StatusTransition{Status: StatusPaid})
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestMemoryStore_UpdateStatusIfUnpaid_Concurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newParcel("P1", "a@example.com", time.Now())))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.UpdateStatusIfUnpaid(ctx, "P1", StatusTransition{
				Status: StatusPaid, TrackingID: "ZAP-X", PaidAt: time.Now(),
			})
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestMemoryStore_ListFilterAndOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Create(ctx, newParcel("old", "a@example.com", base)))
	require.NoError(t, store.Create(ctx, newParcel("new", "A@example.com", base.Add(2*time.Hour))))
	require.NoError(t, store.Create(ctx, newParcel("mid", "a@example.com", base.Add(time.Hour))))
	require.NoError(t, store.Create(ctx, newParcel("other", "b@example.com", base.Add(3*time.Hour))))

	list, err := store.List(ctx, Filter{SenderEmail: "a@example.com"})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, "mid", list[1].ID)
	assert.Equal(t, "old", list[2].ID)

	list, err = store.List(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "other", list[0].ID)

	_, _ = store.UpdateStatusIfUnpaid(ctx, "mid", StatusTransition{Status: StatusPaid, PaidAt: base.Add(5 * time.Hour)})
	list, err = store.List(ctx, Filter{PaymentStatus: StatusPaid})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "mid", list[0].ID)

	list, err = store.List(ctx, Filter{PaidBefore: base.Add(4 * time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = store.List(ctx, Filter{PaidAfter: base.Add(4 * time.Hour), PaidBefore: base.Add(6 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "mid", list[0].ID)
}

func TestMemoryStore_DeleteOnlyUnpaid(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newParcel("P1", "a@example.com", time.Now())))
	require.NoError(t, store.Create(ctx, newParcel("P2", "a@example.com", time.Now())))
	_, _ = store.UpdateStatusIfUnpaid(ctx, "P2", StatusTransition{Status: StatusPaid, PaidAt: time.Now()})

	deleted, err := store.Delete(ctx, "P1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.Delete(ctx, "P1")
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = store.Delete(ctx, "P2")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestMemoryStore_ListAfterCursor(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, newParcel("A", "a@example.com", ts)))
	require.NoError(t, store.Create(ctx, newParcel("B", "a@example.com", ts)))
	require.NoError(t, store.Create(ctx, newParcel("C", "a@example.com", ts.Add(-time.Minute))))

	all, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"B", "A", "C"}, []string{all[0].ID, all[1].ID, all[2].ID})

	rest, err := store.List(ctx, Filter{After: &pagination.Cursor{CreatedAt: ts, ID: "B"}})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "A", rest[0].ID)
	assert.Equal(t, "C", rest[1].ID)
}
