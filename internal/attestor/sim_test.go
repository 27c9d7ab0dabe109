package attestor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-dex/rpm/internal/digest"
	"github.com/meridian-dex/rpm/internal/store"
	"github.com/meridian-dex/rpm/internal/types"
)

func newSimFixture(t *testing.T, balance string) (*Simulator, *store.Store) {
	t.Helper()

	st := store.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sim, err := NewSimulator(SimulatorConfig{
		VerificationKeyID: "sim-key",
		InitialBalance:    sdkmath.LegacyMustNewDecFromStr(balance),
		Batches:           st,
		Now:               func() time.Time { return now },
	})
	require.NoError(t, err)
	return sim, st
}

func seedBatch(st *store.Store, id types.BatchID, nonce uint64) types.Batch {
	batch := types.Batch{
		ID:     id,
		Nonce:  nonce,
		Issuer: "meridian1issuer",
		Users:  []types.UserID{"meridian1alice", "meridian1bob", "meridian1alice"},
		Records: []types.ActivityRecord{
			{User: "meridian1alice", Metrics: types.MetricsInfo{ActivityScore: sdkmath.LegacyMustNewDecFromStr("10")}},
			{User: "meridian1bob", Metrics: types.MetricsInfo{ActivityScore: sdkmath.LegacyMustNewDecFromStr("7")}},
			{User: "meridian1alice", Metrics: types.MetricsInfo{ActivityScore: sdkmath.LegacyMustNewDecFromStr("5")}},
		},
	}
	st.PutBatch(batch)
	return batch
}

func dispatchRequest(batchID types.BatchID, nonce uint64) DispatchRequest {
	return DispatchRequest{
		BatchID:      batchID,
		Nonce:        nonce,
		ChainContext: "meridian-1",
		Issuer:       "meridian1issuer",
		Fee:          sdkmath.LegacyOneDec(),
	}
}

func TestSimulatorDispatchHoldsResult(t *testing.T) {
	sim, st := newSimFixture(t, "10")
	seedBatch(st, "batch-1", 3)

	requestID, err := sim.Dispatch(context.Background(), dispatchRequest("batch-1", 3))
	require.NoError(t, err)
	assert.NotEmpty(t, requestID)

	// The result is computed but not delivered yet.
	assert.Equal(t, 1, sim.HeldResults())

	balance, err := sim.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sdkmath.LegacyMustNewDecFromStr("9"), balance)
}

func TestSimulatorPayloadAggregatesPerUser(t *testing.T) {
	sim, st := newSimFixture(t, "10")
	seedBatch(st, "batch-1", 3)

	requestID, err := sim.Dispatch(context.Background(), dispatchRequest("batch-1", 3))
	require.NoError(t, err)

	var captured types.AttestedResult
	delivered := sim.Deliver(func(id string, result types.AttestedResult) error {
		assert.Equal(t, requestID, id)
		captured = result
		return nil
	})
	require.Equal(t, 1, delivered)
	assert.Equal(t, 0, sim.HeldResults())

	assert.Equal(t, "sim-key", captured.VerificationKeyID)
	assert.Equal(t, digest.Commitment(captured.Payload), captured.Commitment)

	var payload types.ReputationPayload
	require.NoError(t, json.Unmarshal(captured.Payload, &payload))

	// First-seen user order, scores summed per user.
	require.Equal(t, []types.UserID{"meridian1alice", "meridian1bob"}, payload.Users)
	assert.Equal(t, sdkmath.LegacyMustNewDecFromStr("15"), payload.Scores[0])
	assert.Equal(t, sdkmath.LegacyMustNewDecFromStr("7"), payload.Scores[1])
	assert.Equal(t, digest.Identity("meridian1alice"), payload.IdentityHashes[0])
	assert.Equal(t, types.BatchID("batch-1"), payload.BatchID)
	assert.Equal(t, uint64(3), payload.Nonce)
	assert.Equal(t, 2, payload.UpdatesProcessed)
}

func TestSimulatorInsufficientBalance(t *testing.T) {
	sim, st := newSimFixture(t, "0.5")
	seedBatch(st, "batch-1", 3)

	_, err := sim.Dispatch(context.Background(), dispatchRequest("batch-1", 3))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, 0, sim.HeldResults())

	// Topping up unblocks the dispatch.
	sim.Fund(sdkmath.LegacyOneDec())
	_, err = sim.Dispatch(context.Background(), dispatchRequest("batch-1", 3))
	assert.NoError(t, err)
}

func TestSimulatorUnknownBatch(t *testing.T) {
	sim, _ := newSimFixture(t, "10")

	_, err := sim.Dispatch(context.Background(), dispatchRequest("batch-missing", 1))
	assert.ErrorIs(t, err, ErrDispatchFailed)

	// The fee is not deducted for a failed dispatch.
	balance, err := sim.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sdkmath.LegacyMustNewDecFromStr("10"), balance)
}

func TestSimulatorDeliverRetriesFailures(t *testing.T) {
	sim, st := newSimFixture(t, "10")
	seedBatch(st, "batch-1", 1)

	_, err := sim.Dispatch(context.Background(), dispatchRequest("batch-1", 1))
	require.NoError(t, err)

	// A failing sink keeps the result held.
	delivered := sim.Deliver(func(string, types.AttestedResult) error {
		return assert.AnError
	})
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 1, sim.HeldResults())

	// The next delivery attempt succeeds.
	delivered = sim.Deliver(func(string, types.AttestedResult) error {
		return nil
	})
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 0, sim.HeldResults())
}
