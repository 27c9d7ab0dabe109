package processor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-dex/rpm/internal/attestor"
	"github.com/meridian-dex/rpm/internal/config"
	"github.com/meridian-dex/rpm/internal/queue"
	"github.com/meridian-dex/rpm/internal/store"
	"github.com/meridian-dex/rpm/internal/types"
)

type stubSequence struct {
	height uint64
	err    error
}

func (s *stubSequence) Height() (uint64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.height++
	return s.height, nil
}

type failingClient struct {
	err error
}

func (c *failingClient) Dispatch(ctx context.Context, req attestor.DispatchRequest) (string, error) {
	return "", c.err
}

func (c *failingClient) Balance(ctx context.Context) (sdkmath.LegacyDec, error) {
	return sdkmath.LegacyZeroDec(), nil
}

func (c *failingClient) Close() error { return nil }

type processorFixture struct {
	processor *Processor
	queue     *queue.UpdateQueue
	store     *store.Store
	sim       *attestor.Simulator
	sequence  *stubSequence
	now       *time.Time
}

func newProcessorFixture(t *testing.T, client attestor.Client) *processorFixture {
	t.Helper()

	q := queue.NewUpdateQueue()
	st := store.New()
	seq := &stubSequence{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	f := &processorFixture{queue: q, store: st, sequence: seq, now: &now}

	if client == nil {
		sim, err := attestor.NewSimulator(attestor.SimulatorConfig{
			VerificationKeyID: "test-key",
			InitialBalance:    sdkmath.LegacyMustNewDecFromStr("1000"),
			Batches:           st,
			Now:               func() time.Time { return *f.now },
		})
		require.NoError(t, err)
		f.sim = sim
		client = sim
	}

	p, err := NewProcessor(Config{
		Queue:       q,
		Store:       st,
		Client:      client,
		Sequence:    seq,
		Issuer:      "meridian1issuer",
		ChainID:     "meridian-1",
		CallbackURL: "http://localhost:8080/api/attestations",
		Params:      config.DefaultPipelineParameters,
		Now:         func() time.Time { return *f.now },
	})
	require.NoError(t, err)
	f.processor = p
	return f
}

func (f *processorFixture) enqueue(n int) {
	for i := 0; i < n; i++ {
		f.queue.Enqueue(types.ActivityRecord{
			User:   types.UserID(fmt.Sprintf("meridian1user%d", i)),
			PoolID: 1,
			Trade: types.TradeInfo{
				TradeAmount:     sdkmath.NewInt(int64(1000 + i)),
				SpecifiedAmount: sdkmath.NewInt(int64(1000 + i)),
			},
			Tokens: types.TokenPairInfo{Token0: "uatom", Token1: "uusdc"},
			Metrics: types.MetricsInfo{
				LiquidityUtilization: sdkmath.LegacyMustNewDecFromStr("0.01"),
				ActivityScore:        sdkmath.LegacyMustNewDecFromStr("10"),
			},
			RecordedAt: *f.now,
		})
	}
}

func TestFlushEmptyQueueIsNoOp(t *testing.T) {
	f := newProcessorFixture(t, nil)

	outcome, err := f.processor.Flush(context.Background())
	require.NoError(t, err)
	assert.True(t, outcome.NoOp)
	assert.Equal(t, uint64(0), f.processor.Counter())
	assert.Equal(t, 0, f.store.BatchCount())
}

func TestFlushDrainsUpToBatchSize(t *testing.T) {
	f := newProcessorFixture(t, nil)
	f.enqueue(25) // default batch size is 20

	outcome, err := f.processor.Flush(context.Background())
	require.NoError(t, err)

	assert.False(t, outcome.NoOp)
	assert.Equal(t, 20, outcome.Drained)
	assert.Equal(t, 5, f.queue.Len())
	assert.Equal(t, uint64(1), f.processor.Counter())

	batch, err := f.store.GetBatch(outcome.BatchID)
	require.NoError(t, err)
	assert.Len(t, batch.Records, 20)
	assert.Len(t, batch.Users, 20)
	assert.Equal(t, types.UserID("meridian1user0"), batch.Users[0])
	assert.Equal(t, "meridian1issuer", batch.Issuer)
	assert.False(t, batch.Digest.TradeHash.IsZero())

	pending, err := f.store.GetPending(outcome.RequestID)
	require.NoError(t, err)
	assert.Equal(t, outcome.BatchID, pending.BatchID)
	assert.Equal(t, outcome.Nonce, pending.Nonce)
}

func TestFlushNonceDerivation(t *testing.T) {
	f := newProcessorFixture(t, nil)
	f.enqueue(1)

	// First flush: lastFlush is zero, so the nonce is the height alone.
	outcome, err := f.processor.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), outcome.Nonce)

	f.enqueue(1)
	outcome, err = f.processor.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(f.now.Unix())+2, outcome.Nonce)
}

func TestFlushBatchIDsUniquePerFlush(t *testing.T) {
	f := newProcessorFixture(t, nil)

	f.enqueue(1)
	first, err := f.processor.Flush(context.Background())
	require.NoError(t, err)

	f.enqueue(1)
	second, err := f.processor.Flush(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.BatchID, second.BatchID)
	assert.Equal(t, uint64(2), f.processor.Counter())
}

func TestFlushRollsBackOnDispatchFailure(t *testing.T) {
	dispatchErr := errors.New("attestation service unreachable")
	f := newProcessorFixture(t, &failingClient{err: dispatchErr})
	f.enqueue(3)

	_, err := f.processor.Flush(context.Background())
	require.ErrorIs(t, err, dispatchErr)

	// The drain rolled back and nothing is tracked.
	assert.Equal(t, 3, f.queue.Len())
	assert.Equal(t, 0, f.store.BatchCount())
	assert.True(t, f.processor.LastFlush().IsZero())

	// The records survive for the next attempt, in order.
	drained := f.queue.Drain(3)
	require.Len(t, drained, 3)
	assert.Equal(t, types.UserID("meridian1user0"), drained[0].User)
}

func TestFlushRollsBackOnInsufficientBalance(t *testing.T) {
	f := newProcessorFixture(t, &failingClient{err: attestor.ErrInsufficientBalance})
	f.enqueue(2)

	_, err := f.processor.Flush(context.Background())
	assert.ErrorIs(t, err, attestor.ErrInsufficientBalance)
	assert.Equal(t, 2, f.queue.Len())
	assert.Equal(t, 0, f.store.BatchCount())
}

func TestFlushRollsBackOnSequenceFailure(t *testing.T) {
	f := newProcessorFixture(t, nil)
	f.enqueue(2)
	f.sequence.err = errors.New("counter unavailable")

	_, err := f.processor.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, f.queue.Len())
}

func TestRestoreCounterContinuesSequence(t *testing.T) {
	f := newProcessorFixture(t, nil)
	f.processor.RestoreCounter(41)

	f.enqueue(1)
	_, err := f.processor.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), f.processor.Counter())
}

type reentrantClient struct {
	processor *Processor
	inner     error
}

func (c *reentrantClient) Dispatch(ctx context.Context, req attestor.DispatchRequest) (string, error) {
	_, c.inner = c.processor.Flush(ctx)
	return "req-reentrant", nil
}

func (c *reentrantClient) Balance(ctx context.Context) (sdkmath.LegacyDec, error) {
	return sdkmath.LegacyZeroDec(), nil
}

func (c *reentrantClient) Close() error { return nil }

func TestFlushRejectsReentrancy(t *testing.T) {
	client := &reentrantClient{}
	f := newProcessorFixture(t, client)
	client.processor = f.processor
	f.enqueue(1)

	outcome, err := f.processor.Flush(context.Background())
	require.NoError(t, err)
	assert.False(t, outcome.NoOp)

	// The nested flush attempted from inside the dispatch was rejected.
	assert.ErrorIs(t, client.inner, ErrFlushInProgress)
}

func TestFlushUpdatesLastFlush(t *testing.T) {
	f := newProcessorFixture(t, nil)
	f.enqueue(1)

	require.True(t, f.processor.LastFlush().IsZero())

	_, err := f.processor.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, *f.now, f.processor.LastFlush())
}
