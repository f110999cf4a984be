package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/philipwilson/trees/internal/transfer"
)

func envelope(id string) transfer.Envelope {
	return transfer.Envelope{
		Record: transfer.TransferRecord{
			ID:                 id,
			Latitude:           45.51,
			Longitude:          -122.68,
			HorizontalAccuracy: 6,
			Species:            " Cherry ",
			Note:               "south fence",
			CreatedAt:          created,
		},
		SentAt: created.Add(time.Minute),
	}
}

func TestReceiveTransferStoresRecord(t *testing.T) {
	t.Parallel()
	r, store, _ := newTestReconciler(t)
	id := uuid.NewString()

	result, err := r.ReceiveTransfer(context.Background(), envelope(id))
	require.NoError(t, err)
	assert.Equal(t, id, result.RecordID)
	assert.False(t, result.Duplicate)
	assert.False(t, result.Remapped)

	rec, err := store.GetRecord(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Cherry", rec.Species)
	require.Len(t, rec.Notes, 1)
	assert.Equal(t, "south fence", rec.Notes[0].Text)
	assert.WithinDuration(t, created, rec.CreatedAt, time.Second)
}

func TestReceiveTransferRedeliveryIsDuplicate(t *testing.T) {
	t.Parallel()
	r, store, _ := newTestReconciler(t)
	id := uuid.NewString()

	_, err := r.ReceiveTransfer(context.Background(), envelope(id))
	require.NoError(t, err)

	again, err := r.ReceiveTransfer(context.Background(), envelope(id))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, id, again.RecordID)

	// A fresh reconciler has no cache and falls back to the store.
	fresh := New(store, nil, nil)
	third, err := fresh.ReceiveTransfer(context.Background(), envelope(id))
	require.NoError(t, err)
	assert.True(t, third.Duplicate)

	assert.Len(t, allRecords(t, store), 1)
}

func TestReceiveTransferRemapsMalformedID(t *testing.T) {
	t.Parallel()
	r, store, _ := newTestReconciler(t)

	result, err := r.ReceiveTransfer(context.Background(), envelope("watch-17"))
	require.NoError(t, err)
	assert.True(t, result.Remapped)
	assert.Equal(t, "watch-17", result.OriginalID)
	_, err = uuid.Parse(result.RecordID)
	require.NoError(t, err)

	again, err := r.ReceiveTransfer(context.Background(), envelope("watch-17"))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, result.RecordID, again.RecordID)

	minted, err := r.ReceiveTransfer(context.Background(), envelope(""))
	require.NoError(t, err)
	assert.True(t, minted.Remapped)

	assert.Len(t, allRecords(t, store), 2)
}

func TestReceiveTransferRejectsInvalidPosition(t *testing.T) {
	t.Parallel()
	r, store, _ := newTestReconciler(t)

	env := envelope(uuid.NewString())
	env.Record.Latitude = 123
	_, err := r.ReceiveTransfer(context.Background(), env)
	require.ErrorIs(t, err, transfer.ErrMalformedRecord)
	assert.Empty(t, allRecords(t, store))
}

func TestReceiveTransferThroughDispatch(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestReconciler(t, WithDedupWindow(time.Minute))

	result, err := transfer.Dispatch(context.Background(), r, envelope(uuid.NewString()), r.log, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, result.RecordID)
}
