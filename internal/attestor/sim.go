/*

This file contains the attestation simulator: a local stand-in for the external
attestation service that computes per-user score aggregates from the dispatched
batch and produces structurally valid attested results. Used in sim mode and by
the integration tests; it never leaves the process.

*/

package attestor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/meridian-dex/rpm/internal/digest"
	"github.com/meridian-dex/rpm/internal/logger"
	"github.com/meridian-dex/rpm/internal/types"
)

// BatchSource is how the simulator pulls full batch contents out-of-band, the same
// way the live service uses the batch-data API.
type BatchSource interface {
	GetBatch(id types.BatchID) (types.Batch, error)
}

// ResultSink receives a computed attested result. In sim mode this is the engine's
// reconcile entry point.
type ResultSink func(requestID string, result types.AttestedResult) error

// Simulator implements Client against local computation. Dispatch computes the
// result immediately but holds it until Deliver runs, preserving the asynchronous
// dispatch/reconcile split of the real service.
type Simulator struct {
	logger  zerolog.Logger
	mu      sync.Mutex
	keyID   string
	balance sdkmath.LegacyDec
	batches BatchSource
	results map[string]types.AttestedResult
	order   []string
	now     func() time.Time
}

// SimulatorConfig holds the configuration for creating a Simulator.
type SimulatorConfig struct {
	VerificationKeyID string
	InitialBalance    sdkmath.LegacyDec
	Batches           BatchSource

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// NewSimulator creates a simulator with a prepaid balance.
func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.VerificationKeyID == "" {
		return nil, fmt.Errorf("verification key id cannot be empty")
	}
	if cfg.Batches == nil {
		return nil, fmt.Errorf("batch source cannot be nil")
	}
	if cfg.InitialBalance.IsNil() || cfg.InitialBalance.IsNegative() {
		return nil, fmt.Errorf("initial balance must be a non-negative decimal")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Simulator{
		logger:  logger.GetForComponent("attestor_sim"),
		keyID:   cfg.VerificationKeyID,
		balance: cfg.InitialBalance,
		batches: cfg.Batches,
		results: make(map[string]types.AttestedResult),
		now:     now,
	}, nil
}

// Dispatch deducts the fee, computes the attested result for the batch and holds
// it until Deliver.
func (s *Simulator) Dispatch(ctx context.Context, req DispatchRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.balance.LT(req.Fee) {
		return "", ErrInsufficientBalance
	}

	batch, err := s.batches.GetBatch(req.BatchID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}

	result, err := s.compute(batch)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}

	s.balance = s.balance.Sub(req.Fee)
	requestID := digest.RequestID(req.BatchID, req.Nonce, req.ChainContext, s.now())
	s.results[requestID] = result
	s.order = append(s.order, requestID)

	s.logger.Info().
		Str("batchID", string(req.BatchID)).
		Str("requestID", requestID).
		Str("balance", s.balance.String()).
		Msg("Simulated dispatch accepted")

	return requestID, nil
}

// compute aggregates the activity scores per user, in first-seen order, into a
// signed reputation payload bound to the batch.
func (s *Simulator) compute(batch types.Batch) (types.AttestedResult, error) {
	totals := make(map[types.UserID]sdkmath.LegacyDec)
	order := make([]types.UserID, 0, len(batch.Records))
	for _, record := range batch.Records {
		if _, seen := totals[record.User]; !seen {
			order = append(order, record.User)
			totals[record.User] = sdkmath.LegacyZeroDec()
		}
		totals[record.User] = totals[record.User].Add(record.Metrics.ActivityScore)
	}

	payload := types.ReputationPayload{
		Users:            order,
		Scores:           make([]sdkmath.LegacyDec, 0, len(order)),
		IdentityHashes:   make([]types.Digest, 0, len(order)),
		BatchID:          batch.ID,
		Nonce:            batch.Nonce,
		UpdatesProcessed: len(order),
	}
	for _, user := range order {
		payload.Scores = append(payload.Scores, totals[user])
		payload.IdentityHashes = append(payload.IdentityHashes, digest.Identity(user))
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return types.AttestedResult{}, fmt.Errorf("failed to encode payload: %w", err)
	}

	return types.AttestedResult{
		VerificationKeyID: s.keyID,
		Commitment:        digest.Commitment(encoded),
		Payload:           encoded,
	}, nil
}

// Deliver hands every held result to the sink, oldest first, dropping each one
// once the sink accepts it. Sink errors keep the result held for the next call.
func (s *Simulator) Deliver(sink ResultSink) int {
	s.mu.Lock()
	pending := make([]string, len(s.order))
	copy(pending, s.order)
	s.mu.Unlock()

	delivered := 0
	for _, requestID := range pending {
		s.mu.Lock()
		result, ok := s.results[requestID]
		s.mu.Unlock()
		if !ok {
			continue
		}

		if err := sink(requestID, result); err != nil {
			s.logger.Warn().
				Err(err).
				Str("requestID", requestID).
				Msg("Result delivery failed, will be retried")
			continue
		}

		s.mu.Lock()
		delete(s.results, requestID)
		for i, id := range s.order {
			if id == requestID {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		delivered++
	}
	return delivered
}

// HeldResults returns the number of computed but undelivered results.
func (s *Simulator) HeldResults() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// Balance returns the remaining prepaid balance.
func (s *Simulator) Balance(ctx context.Context) (sdkmath.LegacyDec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

// Fund tops the prepaid balance up.
func (s *Simulator) Fund(amount sdkmath.LegacyDec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = s.balance.Add(amount)
}

// Close implements Client.
func (s *Simulator) Close() error {
	return nil
}
