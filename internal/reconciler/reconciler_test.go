package reconciler

import (
	"encoding/json"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-dex/rpm/internal/config"
	"github.com/meridian-dex/rpm/internal/digest"
	"github.com/meridian-dex/rpm/internal/ledger"
	"github.com/meridian-dex/rpm/internal/store"
	"github.com/meridian-dex/rpm/internal/types"
)

const testKeyID = "verification-key-1"

type notifierSpy struct {
	batches []types.BatchID
	err     error
}

func (n *notifierSpy) BatchReconciled(batchID types.BatchID) error {
	n.batches = append(n.batches, batchID)
	return n.err
}

type reconcilerFixture struct {
	reconciler *Reconciler
	store      *store.Store
	ledger     *ledger.Ledger
	notifier   *notifierSpy
	now        time.Time
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()

	st := store.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	l, err := ledger.NewLedger(ledger.Config{
		Params: config.DefaultPipelineParameters,
		Now:    func() time.Time { return now },
	})
	require.NoError(t, err)

	notifier := &notifierSpy{}
	r, err := NewReconciler(Config{
		Store:             st,
		Ledger:            l,
		VerificationKeyID: testKeyID,
		Notifier:          notifier,
		Now:               func() time.Time { return now },
	})
	require.NoError(t, err)

	return &reconcilerFixture{reconciler: r, store: st, ledger: l, notifier: notifier, now: now}
}

// seedRequest registers a batch and its pending request, returning the request id.
func (f *reconcilerFixture) seedRequest(t *testing.T, batchID types.BatchID, nonce uint64) string {
	t.Helper()

	f.store.PutBatch(types.Batch{ID: batchID, Nonce: nonce, Issuer: "meridian1issuer"})
	requestID := digest.RequestID(batchID, nonce, "meridian-1", f.now)
	require.NoError(t, f.store.PutPending(types.PendingRequest{
		RequestID:    requestID,
		BatchID:      batchID,
		Nonce:        nonce,
		Issuer:       "meridian1issuer",
		DispatchedAt: f.now,
	}))
	return requestID
}

func validPayload(batchID types.BatchID, nonce uint64, users []types.UserID, scores []string) types.ReputationPayload {
	payload := types.ReputationPayload{
		Users:            users,
		BatchID:          batchID,
		Nonce:            nonce,
		UpdatesProcessed: len(users),
	}
	for i, user := range users {
		payload.Scores = append(payload.Scores, sdkmath.LegacyMustNewDecFromStr(scores[i]))
		payload.IdentityHashes = append(payload.IdentityHashes, digest.Identity(user))
	}
	return payload
}

func sealResult(t *testing.T, keyID string, payload types.ReputationPayload) types.AttestedResult {
	t.Helper()

	encoded, err := json.Marshal(payload)
	require.NoError(t, err)
	return types.AttestedResult{
		VerificationKeyID: keyID,
		Commitment:        digest.Commitment(encoded),
		Payload:           encoded,
	}
}

func TestReconcileAppliesDeltas(t *testing.T) {
	f := newReconcilerFixture(t)
	requestID := f.seedRequest(t, "batch-1", 7)

	result := sealResult(t, testKeyID, validPayload("batch-1", 7,
		[]types.UserID{"meridian1alice", "meridian1bob"},
		[]string{"30", "-5"},
	))

	require.NoError(t, f.reconciler.Reconcile(requestID, result))

	assert.Equal(t, sdkmath.LegacyMustNewDecFromStr("30"), f.ledger.GetPoints("meridian1alice"))
	assert.True(t, f.ledger.GetPoints("meridian1bob").IsZero())

	// Settled state is cleaned up and the owner notified.
	_, err := f.store.GetPending(requestID)
	assert.ErrorIs(t, err, ErrUnknownRequest)
	assert.Equal(t, 0, f.store.BatchCount())
	assert.Equal(t, []types.BatchID{"batch-1"}, f.notifier.batches)
}

func TestReconcileReplayRejected(t *testing.T) {
	f := newReconcilerFixture(t)
	requestID := f.seedRequest(t, "batch-1", 7)

	result := sealResult(t, testKeyID, validPayload("batch-1", 7,
		[]types.UserID{"meridian1alice"}, []string{"10"}))

	require.NoError(t, f.reconciler.Reconcile(requestID, result))

	// The pending request is gone, so the same result cannot apply twice.
	err := f.reconciler.Reconcile(requestID, result)
	assert.ErrorIs(t, err, ErrUnknownRequest)
	assert.Equal(t, sdkmath.LegacyMustNewDecFromStr("10"), f.ledger.GetPoints("meridian1alice"))
}

func TestReconcileUnknownRequest(t *testing.T) {
	f := newReconcilerFixture(t)

	result := sealResult(t, testKeyID, validPayload("batch-1", 1,
		[]types.UserID{"meridian1alice"}, []string{"10"}))

	err := f.reconciler.Reconcile("never-dispatched", result)
	assert.ErrorIs(t, err, ErrUnknownRequest)
}

func TestReconcileKeyMismatch(t *testing.T) {
	f := newReconcilerFixture(t)
	requestID := f.seedRequest(t, "batch-1", 7)

	result := sealResult(t, "rogue-key", validPayload("batch-1", 7,
		[]types.UserID{"meridian1alice"}, []string{"10"}))

	err := f.reconciler.Reconcile(requestID, result)
	assert.ErrorIs(t, err, ErrKeyMismatch)
	assertUntouched(t, f, requestID)
}

func TestReconcileCommitmentMismatch(t *testing.T) {
	f := newReconcilerFixture(t)
	requestID := f.seedRequest(t, "batch-1", 7)

	result := sealResult(t, testKeyID, validPayload("batch-1", 7,
		[]types.UserID{"meridian1alice"}, []string{"10"}))
	// Tamper with the payload after sealing.
	result.Payload[len(result.Payload)-2] = '9'

	err := f.reconciler.Reconcile(requestID, result)
	assert.ErrorIs(t, err, ErrCommitmentMismatch)
	assertUntouched(t, f, requestID)
}

func TestReconcileMalformedPayload(t *testing.T) {
	f := newReconcilerFixture(t)
	requestID := f.seedRequest(t, "batch-1", 7)

	garbage := []byte("not json at all")
	result := types.AttestedResult{
		VerificationKeyID: testKeyID,
		Commitment:        digest.Commitment(garbage),
		Payload:           garbage,
	}

	err := f.reconciler.Reconcile(requestID, result)
	assert.ErrorIs(t, err, ErrMalformedPayload)
	assertUntouched(t, f, requestID)
}

func TestReconcileBatchMismatch(t *testing.T) {
	f := newReconcilerFixture(t)
	requestID := f.seedRequest(t, "batch-1", 7)

	// A validly sealed result for a different batch must not reconcile here.
	result := sealResult(t, testKeyID, validPayload("batch-2", 7,
		[]types.UserID{"meridian1alice"}, []string{"10"}))

	err := f.reconciler.Reconcile(requestID, result)
	assert.ErrorIs(t, err, ErrBatchMismatch)
	assertUntouched(t, f, requestID)
}

func TestReconcileNonceMismatch(t *testing.T) {
	f := newReconcilerFixture(t)
	requestID := f.seedRequest(t, "batch-1", 7)

	result := sealResult(t, testKeyID, validPayload("batch-1", 8,
		[]types.UserID{"meridian1alice"}, []string{"10"}))

	err := f.reconciler.Reconcile(requestID, result)
	assert.ErrorIs(t, err, ErrNonceMismatch)
	assertUntouched(t, f, requestID)
}

func TestReconcileShapeMismatch(t *testing.T) {
	f := newReconcilerFixture(t)
	requestID := f.seedRequest(t, "batch-1", 7)

	payload := validPayload("batch-1", 7,
		[]types.UserID{"meridian1alice", "meridian1bob"}, []string{"10", "20"})
	payload.Scores = payload.Scores[:1]

	err := f.reconciler.Reconcile(requestID, sealResult(t, testKeyID, payload))
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assertUntouched(t, f, requestID)

	payload = validPayload("batch-1", 7,
		[]types.UserID{"meridian1alice"}, []string{"10"})
	payload.UpdatesProcessed = 5

	err = f.reconciler.Reconcile(requestID, sealResult(t, testKeyID, payload))
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assertUntouched(t, f, requestID)
}

func TestReconcileOutOfOrderArrival(t *testing.T) {
	f := newReconcilerFixture(t)
	req1 := f.seedRequest(t, "batch-1", 1)
	req2 := f.seedRequest(t, "batch-2", 2)

	result1 := sealResult(t, testKeyID, validPayload("batch-1", 1,
		[]types.UserID{"meridian1alice"}, []string{"10"}))
	result2 := sealResult(t, testKeyID, validPayload("batch-2", 2,
		[]types.UserID{"meridian1alice"}, []string{"20"}))

	// Results arrive in reverse dispatch order; both settle independently.
	require.NoError(t, f.reconciler.Reconcile(req2, result2))
	require.NoError(t, f.reconciler.Reconcile(req1, result1))

	assert.Equal(t, sdkmath.LegacyMustNewDecFromStr("30"), f.ledger.GetPoints("meridian1alice"))
	assert.Equal(t, 0, f.store.BatchCount())
}

func TestReconcileNotifierFailureTolerated(t *testing.T) {
	f := newReconcilerFixture(t)
	f.notifier.err = assert.AnError
	requestID := f.seedRequest(t, "batch-1", 7)

	result := sealResult(t, testKeyID, validPayload("batch-1", 7,
		[]types.UserID{"meridian1alice"}, []string{"10"}))

	// The ledger mutation is durable even when the owner callback fails.
	require.NoError(t, f.reconciler.Reconcile(requestID, result))
	assert.Equal(t, sdkmath.LegacyMustNewDecFromStr("10"), f.ledger.GetPoints("meridian1alice"))
}

// assertUntouched verifies a failed reconcile left zero state mutation behind.
func assertUntouched(t *testing.T, f *reconcilerFixture, requestID string) {
	t.Helper()

	_, err := f.store.GetPending(requestID)
	assert.NoError(t, err, "pending request must survive a failed reconcile")
	assert.Equal(t, 1, f.store.BatchCount())
	assert.True(t, f.ledger.GetPoints("meridian1alice").IsZero())
	assert.Empty(t, f.notifier.batches)
}
