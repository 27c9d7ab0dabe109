/*

This file contains the batch processor: the single writer that drains queued
records into an immutable batch, derives the batch id and the front-running
nonce, and dispatches the attestation request. The drain and the dispatch appear
atomic to every concurrent caller: a re-entrant flush is rejected by the guard,
and a failed dispatch rolls the drain back before anything is visible.

*/

package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridian-dex/rpm/internal/attestor"
	"github.com/meridian-dex/rpm/internal/digest"
	"github.com/meridian-dex/rpm/internal/logger"
	"github.com/meridian-dex/rpm/internal/queue"
	"github.com/meridian-dex/rpm/internal/store"
	"github.com/meridian-dex/rpm/internal/types"
)

// ErrFlushInProgress is returned when a flush is attempted while another flush is
// still mutating the queue. There is exactly one in-flight flush per issuer.
var ErrFlushInProgress = errors.New("another flush is in progress")

// SequenceSource supplies the block/sequence-height component of the dispatch
// nonce, so the nonce cannot be predicted from wall-clock time alone.
type SequenceSource interface {
	Height() (uint64, error)
}

// Processor drains the queue into attested batches.
type Processor struct {
	flushMu sync.Mutex // reentrancy guard, taken with TryLock

	mu           sync.Mutex // guards counter and lastFlush
	batchCounter uint64
	lastFlush    time.Time

	logger      zerolog.Logger
	queue       *queue.UpdateQueue
	store       *store.Store
	client      attestor.Client
	sequence    SequenceSource
	issuer      string
	chainID     string
	callbackURL string
	params      types.PipelineParameters
	now         func() time.Time
}

// Config holds the configuration for creating a new Processor instance
type Config struct {
	Queue       *queue.UpdateQueue
	Store       *store.Store
	Client      attestor.Client
	Sequence    SequenceSource
	Issuer      string
	ChainID     string
	CallbackURL string
	Params      types.PipelineParameters

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// NewProcessor creates a new Processor instance with dependency injection
func NewProcessor(cfg Config) (*Processor, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("update queue cannot be nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("attestor client cannot be nil")
	}
	if cfg.Sequence == nil {
		return nil, fmt.Errorf("sequence source cannot be nil")
	}
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("issuer address cannot be empty")
	}
	if cfg.Params.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.Params.BatchSize)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Processor{
		logger:      logger.GetForComponent("batch_processor"),
		queue:       cfg.Queue,
		store:       cfg.Store,
		client:      cfg.Client,
		sequence:    cfg.Sequence,
		issuer:      cfg.Issuer,
		chainID:     cfg.ChainID,
		callbackURL: cfg.CallbackURL,
		params:      cfg.Params,
		now:         now,
	}, nil
}

// Flush drains up to batchSize records, snapshots them into a batch, and
// dispatches the attestation request.
//
// An empty queue is a no-op outcome, not an error, so automation callers can tell
// "nothing to do" from "failure". A dispatch failure rolls the drain back and
// surfaces the error; an insufficient fee balance is distinguishable via
// attestor.ErrInsufficientBalance.
func (p *Processor) Flush(ctx context.Context) (types.FlushOutcome, error) {
	if !p.flushMu.TryLock() {
		return types.FlushOutcome{}, ErrFlushInProgress
	}
	defer p.flushMu.Unlock()

	updatesToProcess := p.queue.Len()
	if updatesToProcess > p.params.BatchSize {
		updatesToProcess = p.params.BatchSize
	}
	if updatesToProcess == 0 {
		p.logger.Info().Msg("Flush is a no-op: queue empty")
		return types.FlushOutcome{NoOp: true}, nil
	}

	records := p.queue.Drain(updatesToProcess)

	p.mu.Lock()
	p.batchCounter++
	counter := p.batchCounter
	lastFlush := p.lastFlush
	p.mu.Unlock()

	batchID := digest.BatchID(p.issuer, counter)

	height, err := p.sequence.Height()
	if err != nil {
		p.queue.UndoDrain(len(records))
		return types.FlushOutcome{}, fmt.Errorf("failed to read sequence height: %w", err)
	}
	nonce := nonceFrom(lastFlush, height)

	users := make([]types.UserID, len(records))
	for i, record := range records {
		users[i] = record.User
	}

	batch := types.Batch{
		ID:        batchID,
		Nonce:     nonce,
		Issuer:    p.issuer,
		Users:     users,
		Records:   records,
		Digest:    digest.Categories(records),
		CreatedAt: p.now(),
	}
	p.store.PutBatch(batch)

	requestID, err := p.client.Dispatch(ctx, attestor.DispatchRequest{
		BatchID:      batchID,
		Nonce:        nonce,
		ChainContext: p.chainID,
		Issuer:       p.issuer,
		CallbackURL:  p.callbackURL,
		Fee:          p.params.DispatchFee,
	})
	if err != nil {
		// Atomicity: the drain commits only if the dispatch does.
		p.store.DeleteBatch(batchID)
		p.queue.UndoDrain(len(records))

		if errors.Is(err, attestor.ErrInsufficientBalance) {
			p.logger.Error().
				Str("batchID", string(batchID)).
				Msg("Flush aborted: balance below dispatch fee, drain rolled back")
			return types.FlushOutcome{}, err
		}
		p.logger.Error().
			Err(err).
			Str("batchID", string(batchID)).
			Msg("Flush aborted: dispatch failed, drain rolled back")
		return types.FlushOutcome{}, fmt.Errorf("dispatch for batch %s failed: %w", batchID, err)
	}

	if err := p.store.PutPending(types.PendingRequest{
		RequestID:    requestID,
		BatchID:      batchID,
		Nonce:        nonce,
		Issuer:       p.issuer,
		DispatchedAt: p.now(),
	}); err != nil {
		// The request is already on the wire; this can only be a request-id
		// collision, which the id derivation makes negligible.
		p.logger.Error().
			Err(err).
			Str("requestID", requestID).
			Msg("Failed to track dispatched request")
		return types.FlushOutcome{}, fmt.Errorf("failed to track request %s: %w", requestID, err)
	}

	p.mu.Lock()
	p.lastFlush = p.now()
	p.mu.Unlock()

	// Storage reclamation only after the drain is committed, so a rollback never
	// races a compaction.
	p.queue.Compact(p.params.BatchSize)

	// BatchCreated event: hashes only, never raw record values.
	p.logger.Info().
		Str("batchID", string(batchID)).
		Uint64("nonce", nonce).
		Str("requestID", requestID).
		Int("records", len(records)).
		Interface("users", users).
		Str("tradeHash", batch.Digest.TradeHash.Hex()).
		Str("tickHash", batch.Digest.TickHash.Hex()).
		Str("tokenHash", batch.Digest.TokenHash.Hex()).
		Str("metricsHash", batch.Digest.MetricsHash.Hex()).
		Msg("BatchCreated")

	return types.FlushOutcome{
		BatchID:   batchID,
		RequestID: requestID,
		Nonce:     nonce,
		Drained:   len(records),
	}, nil
}

// nonceFrom ties the nonce to both the last flush time and the sequence height.
// Known limitation: both inputs are observable, so the nonce is unpredictable
// only to parties not watching the chain.
func nonceFrom(lastFlush time.Time, height uint64) uint64 {
	ts := uint64(0)
	if !lastFlush.IsZero() {
		ts = uint64(lastFlush.Unix())
	}
	return ts + height
}

// Counter returns the monotonic batch counter.
func (p *Processor) Counter() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.batchCounter
}

// RestoreCounter seeds the batch counter from persisted state at startup.
func (p *Processor) RestoreCounter(v uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batchCounter = v
}

// LastFlush returns the time of the last committed flush.
func (p *Processor) LastFlush() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastFlush
}
