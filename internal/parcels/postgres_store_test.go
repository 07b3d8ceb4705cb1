//go:build integration

package parcels

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/zapshift/internal/testutil"
)

func TestPostgresStore_Lifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	p := newParcel("11111111-1111-1111-1111-111111111111", "a@example.com", base)
	p.ParcelType = TypeDocument
	require.NoError(t, store.Create(ctx, p))
	require.NoError(t, store.Create(ctx, newParcel("22222222-2222-2222-2222-222222222222", "A@example.com", base.Add(time.Minute))))

	got, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, TypeDocument, got.ParcelType)
	assert.Equal(t, StatusUnpaid, got.PaymentStatus)
	assert.Nil(t, got.PaidAt)

	list, err := store.List(ctx, Filter{SenderEmail: "a@example.com"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "22222222-2222-2222-2222-222222222222", list[0].ID)

	applied, err := store.UpdateStatusIfUnpaid(ctx, p.ID, StatusTransition{
		Status: StatusPaid, TrackingID: "ZAP-K1-AAA", SessionID: "cs_1", PaidAt: base,
	})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = store.UpdateStatusIfUnpaid(ctx, p.ID, StatusTransition{
		Status: StatusPaid, TrackingID: "ZAP-K2-BBB", SessionID: "cs_2", PaidAt: base,
	})
	require.NoError(t, err)
	assert.False(t, applied)

	got, err = store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "ZAP-K1-AAA", got.TrackingID)

	deleted, err := store.Delete(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = store.Get(ctx, "33333333-3333-3333-3333-333333333333")
	assert.ErrorIs(t, err, ErrParcelNotFound)
}

func TestPostgresStore_TrackingIDUnique(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newParcel("11111111-1111-1111-1111-111111111111", "a@example.com", time.Now())))
	require.NoError(t, store.Create(ctx, newParcel("22222222-2222-2222-2222-222222222222", "a@example.com", time.Now())))

	_, err := store.UpdateStatusIfUnpaid(ctx, "11111111-1111-1111-1111-111111111111",
		StatusTransition{Status: StatusPaid, TrackingID: "ZAP-SAME-AAA", PaidAt: time.Now()})
	require.NoError(t, err)

	_, err = store.UpdateStatusIfUnpaid(ctx, "22222222-2222-2222-2222-222222222222",
		StatusTransition{Status: StatusPaid, TrackingID: "ZAP-SAME-AAA", PaidAt: time.Now()})
	assert.ErrorIs(t, err, ErrTrackingIDTaken)
}

func TestPostgresStore_ConcurrentTransition(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	id := "11111111-1111-1111-1111-111111111111"
	require.NoError(t, store.Create(ctx, newParcel(id, "a@example.com", time.Now())))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := store.UpdateStatusIfUnpaid(ctx, id, StatusTransition{
				Status: StatusPaid, TrackingID: "ZAP-C-" + string(rune('A'+i)) + "AA", PaidAt: time.Now(),
			})
			if err == nil && ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
