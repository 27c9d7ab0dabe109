/*

This file contains the reputation pipeline engine: the wiring root that owns the
queue, the ledger, the in-memory store and every pipeline stage, and drives the
automated flush loop. The engine is also the registration authority: recording
and automated flushing are both inert until Register is called, and a
deregistered engine reports the condition loudly through the scheduler.

*/

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meridian-dex/rpm/internal/attestor"
	"github.com/meridian-dex/rpm/internal/ledger"
	"github.com/meridian-dex/rpm/internal/logger"
	"github.com/meridian-dex/rpm/internal/processor"
	"github.com/meridian-dex/rpm/internal/queue"
	"github.com/meridian-dex/rpm/internal/reconciler"
	"github.com/meridian-dex/rpm/internal/recorder"
	"github.com/meridian-dex/rpm/internal/scheduler"
	"github.com/meridian-dex/rpm/internal/state"
	"github.com/meridian-dex/rpm/internal/store"
	"github.com/meridian-dex/rpm/internal/types"
)

const (
	// Export constants for use in main.go
	DEFAULT_PARAMS_CONFIG_NAME    = "default_reputation_pipeline"
	DEFAULT_PARAMS_CONFIG_VERSION = 1
)

// resultDeliverer is the optional surface of attestor clients that hold computed
// results until asked to deliver them, like the simulator.
type resultDeliverer interface {
	Deliver(sink attestor.ResultSink) int
}

// Engine owns the full reputation update pipeline.
type Engine struct {
	logger zerolog.Logger

	queue      *queue.UpdateQueue
	store      *store.Store
	ledger     *ledger.Ledger
	recorder   *recorder.Recorder
	scheduler  *scheduler.Scheduler
	processor  *processor.Processor
	reconciler *reconciler.Reconciler
	client     attestor.Client

	params  types.PipelineParameters
	issuer  string
	persist bool

	mu         sync.Mutex
	registered bool

	// Runtime state
	cycleCount int
}

// Config holds the configuration for creating a new Engine instance
type Config struct {
	Queue  *queue.UpdateQueue
	Store  *store.Store
	Ledger *ledger.Ledger
	Client attestor.Client
	Params types.PipelineParameters

	Issuer            string
	ChainID           string
	VerificationKeyID string
	CallbackURL       string

	// Sequence overrides the sequence-height source; nil selects the database
	// counter when Persist is set and an in-memory counter otherwise.
	Sequence processor.SequenceSource

	// Persist enables write-through persistence to PostgreSQL. Requires
	// state.InitDB to have run.
	Persist bool
}

// NewEngine creates a new Engine instance with dependency injection
func NewEngine(cfg Config) (*Engine, error) {
	if err := validateEngineConfig(cfg); err != nil {
		return nil, fmt.Errorf("engine configuration validation failed: %w", err)
	}

	e := &Engine{
		logger:  logger.GetForComponent("pipeline_engine"),
		queue:   cfg.Queue,
		store:   cfg.Store,
		ledger:  cfg.Ledger,
		client:  cfg.Client,
		params:  cfg.Params,
		issuer:  cfg.Issuer,
		persist: cfg.Persist,
	}

	seq := cfg.Sequence
	if seq == nil {
		if cfg.Persist {
			seq = dbSequence{}
		} else {
			seq = &memorySequence{}
		}
	}

	var err error
	e.recorder, err = recorder.NewRecorder(recorder.Config{
		Queue:        cfg.Queue,
		Params:       cfg.Params,
		Registration: e,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create activity recorder: %w", err)
	}

	e.scheduler, err = scheduler.NewScheduler(scheduler.Config{
		Queue:        cfg.Queue,
		Registration: e,
		Interval:     cfg.Params.AutomationInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create batch scheduler: %w", err)
	}

	e.processor, err = processor.NewProcessor(processor.Config{
		Queue:       cfg.Queue,
		Store:       cfg.Store,
		Client:      cfg.Client,
		Sequence:    seq,
		Issuer:      cfg.Issuer,
		ChainID:     cfg.ChainID,
		CallbackURL: cfg.CallbackURL,
		Params:      cfg.Params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create batch processor: %w", err)
	}

	e.reconciler, err = reconciler.NewReconciler(reconciler.Config{
		Store:             cfg.Store,
		Ledger:            cfg.Ledger,
		VerificationKeyID: cfg.VerificationKeyID,
		Notifier:          e,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create attestation reconciler: %w", err)
	}

	e.logger.Info().
		Str("issuer", e.issuer).
		Bool("persist", e.persist).
		Msg("Engine instance created successfully with dependency injection")

	return e, nil
}

// validateEngineConfig validates the Engine configuration
func validateEngineConfig(cfg Config) error {
	if cfg.Queue == nil {
		return fmt.Errorf("update queue cannot be nil")
	}
	if cfg.Store == nil {
		return fmt.Errorf("store cannot be nil")
	}
	if cfg.Ledger == nil {
		return fmt.Errorf("ledger cannot be nil")
	}
	if cfg.Client == nil {
		return fmt.Errorf("attestor client cannot be nil")
	}
	if cfg.Issuer == "" {
		return fmt.Errorf("issuer address cannot be empty")
	}
	if cfg.VerificationKeyID == "" {
		return fmt.Errorf("verification key id cannot be empty")
	}
	return nil
}

// Register activates the pipeline. Recording and automated flushing stay
// rejected until this is called.
func (e *Engine) Register() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.registered {
		e.registered = true
		e.logger.Info().Msg("Pipeline registered, recording enabled")
	}
}

// Deregister deactivates the pipeline.
func (e *Engine) Deregister() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.registered {
		e.registered = false
		e.logger.Warn().Msg("Pipeline deregistered, recording disabled")
	}
}

// Registered reports whether the pipeline is active.
func (e *Engine) Registered() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registered
}

// Recorder exposes the activity recorder for the pool callback surface.
func (e *Engine) Recorder() *recorder.Recorder {
	return e.recorder
}

// Params returns the active pipeline parameters.
func (e *Engine) Params() types.PipelineParameters {
	return e.params
}

// CheckReady reports whether an automated flush is due. Pure read.
func (e *Engine) CheckReady() (bool, error) {
	return e.scheduler.CheckReady()
}

// SchedulerState returns the scheduler's externally visible state.
func (e *Engine) SchedulerState() scheduler.State {
	return e.scheduler.State()
}

// Execute flushes one batch and records the automation timestamp. A no-op flush
// still counts as an executed automation cycle.
func (e *Engine) Execute() (types.FlushOutcome, error) {
	outcome, err := e.processor.Flush(context.Background())
	if err != nil {
		return outcome, err
	}

	e.scheduler.MarkExecuted()

	if !outcome.NoOp {
		e.persistDispatch(outcome)
	}
	return outcome, nil
}

// persistDispatch writes the dispatched batch, its pending request and the batch
// counter through to the database.
func (e *Engine) persistDispatch(outcome types.FlushOutcome) {
	if !e.persist {
		return
	}

	batch, err := e.store.GetBatch(outcome.BatchID)
	if err != nil {
		e.logger.Error().Err(err).Str("batchID", string(outcome.BatchID)).Msg("Failed to load dispatched batch for persistence")
		return
	}
	if err := state.SaveBatch(batch); err != nil {
		e.logger.Error().Err(err).Str("batchID", string(outcome.BatchID)).Msg("Failed to persist batch")
	}

	pending, err := e.store.GetPending(outcome.RequestID)
	if err != nil {
		e.logger.Error().Err(err).Str("requestID", outcome.RequestID).Msg("Failed to load pending request for persistence")
		return
	}
	if err := state.SavePendingRequest(pending); err != nil {
		e.logger.Error().Err(err).Str("requestID", outcome.RequestID).Msg("Failed to persist pending request")
	}

	if err := state.SaveBatchCounter(e.processor.Counter()); err != nil {
		e.logger.Error().Err(err).Msg("Failed to persist batch counter")
	}
}

// Reconcile verifies an attested result and applies its reputation deltas, then
// writes the touched accounts through to the database. This is the entry point
// for both the HTTP callback and the simulator's delivery sink.
func (e *Engine) Reconcile(requestID string, result types.AttestedResult) error {
	if err := e.reconciler.Reconcile(requestID, result); err != nil {
		return err
	}

	if e.persist {
		e.persistReconcile(requestID, result)
	}
	return nil
}

// persistReconcile writes the post-reconcile ledger state through to the
// database and removes the settled batch and request rows. The payload has
// already been verified; a decode failure here cannot happen for a result that
// just reconciled.
func (e *Engine) persistReconcile(requestID string, result types.AttestedResult) {
	var payload types.ReputationPayload
	if err := json.Unmarshal(result.Payload, &payload); err != nil {
		e.logger.Error().Err(err).Str("requestID", requestID).Msg("Failed to decode reconciled payload for persistence")
		return
	}

	for _, user := range payload.Users {
		if account, ok := e.ledger.Snapshot(user); ok {
			if err := state.SaveUserReputation(account); err != nil {
				e.logger.Error().Err(err).Str("user", string(user)).Msg("Failed to persist reputation account")
			}
		}
	}
	if err := state.SaveMintedTotal(e.ledger.MintedTotal()); err != nil {
		e.logger.Error().Err(err).Msg("Failed to persist minted total")
	}

	if err := state.DeletePendingRequest(requestID); err != nil {
		e.logger.Error().Err(err).Str("requestID", requestID).Msg("Failed to delete persisted pending request")
	}
	if err := state.DeleteBatch(payload.BatchID); err != nil {
		e.logger.Error().Err(err).Str("batchID", string(payload.BatchID)).Msg("Failed to delete persisted batch")
	}
}

// BatchReconciled is the post-reconcile owner notification. Best effort; the
// reconciler tolerates and logs a failure here.
func (e *Engine) BatchReconciled(batchID types.BatchID) error {
	e.logger.Info().Str("batchID", string(batchID)).Msg("Batch owner notified of reconciled batch")
	return nil
}

// Recover restores in-memory state from the database after a restart: the batch
// counter, every reputation account, the minted total, and all unreconciled
// batches and pending requests.
func (e *Engine) Recover() error {
	if !e.persist {
		return nil
	}

	counter, err := state.GetBatchCounter()
	if err != nil {
		return fmt.Errorf("failed to recover batch counter: %w", err)
	}
	e.processor.RestoreCounter(counter)

	accounts, err := state.GetAllUserReputation()
	if err != nil {
		return fmt.Errorf("failed to recover reputation accounts: %w", err)
	}
	for _, account := range accounts {
		e.ledger.RestoreAccount(account)
	}

	mintedTotal, err := state.GetMintedTotal()
	if err != nil {
		return fmt.Errorf("failed to recover minted total: %w", err)
	}
	e.ledger.RestoreMintedTotal(mintedTotal)

	batches, err := state.GetAllBatches()
	if err != nil {
		return fmt.Errorf("failed to recover batches: %w", err)
	}
	for _, batch := range batches {
		e.store.PutBatch(batch)
	}

	pending, err := state.GetAllPendingRequests()
	if err != nil {
		return fmt.Errorf("failed to recover pending requests: %w", err)
	}
	for _, req := range pending {
		if err := e.store.PutPending(req); err != nil {
			return fmt.Errorf("failed to restore pending request %s: %w", req.RequestID, err)
		}
	}

	e.logger.Info().
		Uint64("batchCounter", counter).
		Int("accounts", len(accounts)).
		Int("batches", len(batches)).
		Int("pendingRequests", len(pending)).
		Msg("Recovered pipeline state from database")
	return nil
}

// SweepPending force-clears pending requests older than the given age, together
// with their stored batches. The dropped records are gone; the queue drained into
// those batches is not restored. Returns the swept request ids.
func (e *Engine) SweepPending(olderThan time.Duration) []string {
	cutoff := time.Now().Add(-olderThan)

	var swept []string
	for _, req := range e.store.PendingRequests() {
		if req.DispatchedAt.After(cutoff) {
			continue
		}

		e.store.DeletePending(req.RequestID)
		e.store.DeleteBatch(req.BatchID)
		if e.persist {
			if err := state.DeletePendingRequest(req.RequestID); err != nil {
				e.logger.Error().Err(err).Str("requestID", req.RequestID).Msg("Failed to delete persisted pending request during sweep")
			}
			if err := state.DeleteBatch(req.BatchID); err != nil {
				e.logger.Error().Err(err).Str("batchID", string(req.BatchID)).Msg("Failed to delete persisted batch during sweep")
			}
		}

		e.logger.Warn().
			Str("requestID", req.RequestID).
			Str("batchID", string(req.BatchID)).
			Time("dispatchedAt", req.DispatchedAt).
			Msg("Force-cleared stale pending request")
		swept = append(swept, req.RequestID)
	}
	return swept
}

// RunLoop starts the automation loop with the specified poll interval.
func (e *Engine) RunLoop(ctx context.Context, interval time.Duration) {
	e.logger.Info().
		Dur("interval", interval).
		Msg("Starting pipeline automation loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run first cycle immediately
	e.cycleCount++
	e.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Automation loop stopped due to context cancellation")
			return
		case <-ticker.C:
			e.cycleCount++
			e.RunCycle(ctx)
		}
	}
}

// RunCycle executes one automation cycle: poll readiness, flush when due, and
// deliver any held attestation results.
func (e *Engine) RunCycle(ctx context.Context) {
	cycleStartTime := time.Now()

	// Generate unique cycle ID for tracing logs across the entire cycle
	cycleID := uuid.New().String()
	cycleLogger := e.logger.With().Str("cycle_id", cycleID).Int("cycle", e.cycleCount).Logger()

	cycleLogger.Info().Msg("--- Starting automation cycle ---")

	// --- Step 1: Readiness check ---
	ready, err := e.scheduler.CheckReady()
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Cycle aborted: readiness check failed.")
		return
	}
	if !ready {
		cycleLogger.Info().
			Int("queueLength", e.queue.Len()).
			Time("lastAutomatedUpdate", e.scheduler.LastAutomatedUpdate()).
			Msg("Step 1: Not ready to flush. Nothing to do.")
		e.deliverHeldResults(cycleLogger)
		return
	}
	cycleLogger.Info().Int("queueLength", e.queue.Len()).Msg("Step 1: Flush is due.")

	// --- Step 2: Flush ---
	outcome, err := e.Execute()
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Cycle aborted: flush failed.")
		return
	}
	if outcome.NoOp {
		cycleLogger.Info().Msg("Step 2: Flush was a no-op.")
	} else {
		cycleLogger.Info().
			Str("batchID", string(outcome.BatchID)).
			Str("requestID", outcome.RequestID).
			Uint64("nonce", outcome.Nonce).
			Int("drained", outcome.Drained).
			Msg("Step 2: Batch dispatched.")
	}

	// --- Step 3: Deliver held results ---
	e.deliverHeldResults(cycleLogger)

	cycleLogger.Info().
		Dur("duration", time.Since(cycleStartTime)).
		Int("pendingRequests", len(e.store.PendingRequests())).
		Msg("--- Automation cycle completed ---")
}

// deliverHeldResults drains any results a holding attestor client has computed,
// feeding each through the reconciler. Live clients deliver over HTTP instead
// and do not implement the deliverer surface.
func (e *Engine) deliverHeldResults(cycleLogger zerolog.Logger) {
	deliverer, ok := e.client.(resultDeliverer)
	if !ok {
		return
	}

	delivered := deliverer.Deliver(e.Reconcile)
	if delivered > 0 {
		cycleLogger.Info().Int("delivered", delivered).Msg("Step 3: Held attestation results reconciled.")
	}
}

// dbSequence sources the nonce height from the persistent sequence counter.
type dbSequence struct{}

func (dbSequence) Height() (uint64, error) {
	return state.IncrementSequenceHeight()
}

// memorySequence is the non-persistent fallback height source.
type memorySequence struct {
	mu sync.Mutex
	h  uint64
}

func (m *memorySequence) Height() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.h++
	return m.h, nil
}
