package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-dex/rpm/internal/types"
)

func TestBatchLifecycle(t *testing.T) {
	s := New()

	batch := types.Batch{ID: "batch-1", Nonce: 42, Issuer: "issuer"}
	s.PutBatch(batch)
	require.Equal(t, 1, s.BatchCount())

	got, err := s.GetBatch("batch-1")
	require.NoError(t, err)
	assert.Equal(t, batch, got)

	s.DeleteBatch("batch-1")
	assert.Equal(t, 0, s.BatchCount())

	_, err = s.GetBatch("batch-1")
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestPendingDuplicateRejected(t *testing.T) {
	s := New()

	req := types.PendingRequest{RequestID: "req-1", BatchID: "batch-1", Nonce: 1}
	require.NoError(t, s.PutPending(req))

	err := s.PutPending(req)
	assert.ErrorIs(t, err, ErrDuplicateRequest)
}

func TestPendingLookupThenDelete(t *testing.T) {
	s := New()

	req := types.PendingRequest{RequestID: "req-1", BatchID: "batch-1", Nonce: 7}
	require.NoError(t, s.PutPending(req))

	got, err := s.GetPending("req-1")
	require.NoError(t, err)
	assert.Equal(t, req, got)

	s.DeletePending("req-1")
	_, err = s.GetPending("req-1")
	assert.ErrorIs(t, err, ErrUnknownRequest)
}

func TestPendingRequestsSortedByDispatchTime(t *testing.T) {
	s := New()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.PutPending(types.PendingRequest{RequestID: "newest", DispatchedAt: base.Add(2 * time.Minute)}))
	require.NoError(t, s.PutPending(types.PendingRequest{RequestID: "oldest", DispatchedAt: base}))
	require.NoError(t, s.PutPending(types.PendingRequest{RequestID: "middle", DispatchedAt: base.Add(time.Minute)}))

	ordered := s.PendingRequests()
	require.Len(t, ordered, 3)
	assert.Equal(t, "oldest", ordered[0].RequestID)
	assert.Equal(t, "middle", ordered[1].RequestID)
	assert.Equal(t, "newest", ordered[2].RequestID)
}
