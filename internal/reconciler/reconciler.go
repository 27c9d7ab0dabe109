/*

This file contains the attestation reconciler: the trust boundary where an
asynchronous attested result re-enters the pipeline. Everything is verified
before anything is applied; any verification failure aborts with zero state
mutation, and a request id can only ever reconcile once.

*/

package reconciler

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridian-dex/rpm/internal/digest"
	"github.com/meridian-dex/rpm/internal/ledger"
	"github.com/meridian-dex/rpm/internal/logger"
	"github.com/meridian-dex/rpm/internal/store"
	"github.com/meridian-dex/rpm/internal/types"
)

var (
	// ErrUnknownRequest: no outstanding request under this id. Replayed, already
	// reconciled, or forged callbacks all land here.
	ErrUnknownRequest = store.ErrUnknownRequest

	// ErrKeyMismatch: the verification-key id embedded in the result does not
	// match the locally configured one.
	ErrKeyMismatch = errors.New("verification key id mismatch")

	// ErrCommitmentMismatch: the declared commitment does not equal the
	// recomputed hash of the embedded payload.
	ErrCommitmentMismatch = errors.New("commitment hash mismatch")

	// ErrMalformedPayload: the inner payload did not decode.
	ErrMalformedPayload = errors.New("malformed attestation payload")

	// ErrBatchMismatch: the result claims a different batch id than the one the
	// request was dispatched for.
	ErrBatchMismatch = errors.New("processed batch id mismatch")

	// ErrNonceMismatch: the result claims a different nonce than the dispatched one.
	ErrNonceMismatch = errors.New("processed nonce mismatch")

	// ErrShapeMismatch: the parallel arrays of the payload disagree in length.
	ErrShapeMismatch = errors.New("payload shape mismatch")
)

// OwnerNotifier is the best-effort cleanup callback toward the originating batch
// owner after a successful reconcile. Failure here is logged and tolerated; the
// ledger mutation is the durable source of truth.
type OwnerNotifier interface {
	BatchReconciled(batchID types.BatchID) error
}

// Reconciler verifies attested results and applies their reputation deltas.
type Reconciler struct {
	logger   zerolog.Logger
	store    *store.Store
	ledger   *ledger.Ledger
	keyID    string
	notifier OwnerNotifier
	now      func() time.Time
}

// Config holds the configuration for creating a new Reconciler instance
type Config struct {
	Store  *store.Store
	Ledger *ledger.Ledger

	// VerificationKeyID is the only key id accepted in results.
	VerificationKeyID string

	// Notifier is optional; nil disables the cleanup callback.
	Notifier OwnerNotifier

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// NewReconciler creates a new Reconciler instance with dependency injection
func NewReconciler(cfg Config) (*Reconciler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if cfg.VerificationKeyID == "" {
		return nil, fmt.Errorf("verification key id cannot be empty")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Reconciler{
		logger:   logger.GetForComponent("attestation_reconciler"),
		store:    cfg.Store,
		ledger:   cfg.Ledger,
		keyID:    cfg.VerificationKeyID,
		notifier: cfg.Notifier,
		now:      now,
	}, nil
}

// Reconcile verifies an attested result against its pending request and applies
// the per-user deltas. Verify-then-apply, never interleaved: by the time the
// first ledger mutation happens every check has already passed, so a failure can
// never leave a partially applied batch. On any verification failure the
// PendingRequest and BatchData entries survive untouched.
func (r *Reconciler) Reconcile(requestID string, result types.AttestedResult) error {
	pending, err := r.store.GetPending(requestID)
	if err != nil {
		r.logger.Warn().
			Str("requestID", requestID).
			Msg("Reconcile rejected: unknown request")
		return fmt.Errorf("request %s: %w", requestID, ErrUnknownRequest)
	}

	if result.VerificationKeyID != r.keyID {
		r.logger.Error().
			Str("requestID", requestID).
			Str("gotKeyID", result.VerificationKeyID).
			Msg("Reconcile rejected: verification key id mismatch")
		return ErrKeyMismatch
	}

	recomputed := digest.Commitment(result.Payload)
	if recomputed != result.Commitment {
		r.logger.Error().
			Str("requestID", requestID).
			Str("declared", result.Commitment.Hex()).
			Str("recomputed", recomputed.Hex()).
			Msg("Reconcile rejected: commitment mismatch")
		return ErrCommitmentMismatch
	}

	var payload types.ReputationPayload
	if err := json.Unmarshal(result.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	// Bind the result to the specific dispatched batch; a valid-looking result
	// for a different batch must not reconcile against this request.
	if payload.BatchID != pending.BatchID {
		r.logger.Error().
			Str("requestID", requestID).
			Str("expected", string(pending.BatchID)).
			Str("got", string(payload.BatchID)).
			Msg("Reconcile rejected: batch id mismatch")
		return ErrBatchMismatch
	}
	if payload.Nonce != pending.Nonce {
		r.logger.Error().
			Str("requestID", requestID).
			Uint64("expected", pending.Nonce).
			Uint64("got", payload.Nonce).
			Msg("Reconcile rejected: nonce mismatch")
		return ErrNonceMismatch
	}

	if len(payload.Users) != len(payload.Scores) ||
		len(payload.Users) != len(payload.IdentityHashes) ||
		len(payload.Users) != payload.UpdatesProcessed {
		r.logger.Error().
			Str("requestID", requestID).
			Int("users", len(payload.Users)).
			Int("scores", len(payload.Scores)).
			Int("identityHashes", len(payload.IdentityHashes)).
			Int("updatesProcessed", payload.UpdatesProcessed).
			Msg("Reconcile rejected: shape mismatch")
		return ErrShapeMismatch
	}

	// All checks passed; apply.
	appliedAt := r.now()
	for i, user := range payload.Users {
		r.ledger.ApplyDelta(user, payload.Scores[i], payload.IdentityHashes[i], appliedAt)
	}

	r.store.DeletePending(requestID)
	r.store.DeleteBatch(pending.BatchID)

	if r.notifier != nil {
		if err := r.notifier.BatchReconciled(pending.BatchID); err != nil {
			// Advisory cleanup only; never rolls the ledger back.
			r.logger.Warn().
				Err(err).
				Str("batchID", string(pending.BatchID)).
				Msg("Owner notification failed, ignoring")
		}
	}

	r.logger.Info().
		Str("requestID", requestID).
		Str("batchID", string(pending.BatchID)).
		Uint64("nonce", pending.Nonce).
		Int("updatesProcessed", payload.UpdatesProcessed).
		Msg("Attestation reconciled")

	return nil
}
