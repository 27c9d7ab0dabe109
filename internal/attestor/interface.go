package attestor

import (
	"context"
	"errors"

	sdkmath "cosmossdk.io/math"

	"github.com/meridian-dex/rpm/internal/types"
)

// ErrInsufficientBalance is returned by Dispatch when the prepaid fee balance held
// with the attestation service cannot cover the required dispatch fee. The batch
// processor rolls the paired queue drain back on this error.
var ErrInsufficientBalance = errors.New("insufficient balance for dispatch fee")

// ErrDispatchFailed is returned when the attestation service rejected or never
// acknowledged a dispatch. Distinct from a balance failure; never swallowed.
var ErrDispatchFailed = errors.New("attestation dispatch failed")

// DispatchRequest is the payload of one attestation request. It carries only
// identifiers; the service pulls full batch contents out-of-band through the
// batch-data API after seeing the dispatch.
type DispatchRequest struct {
	BatchID      types.BatchID  `json:"batch_id"`
	Nonce        uint64         `json:"nonce"`
	ChainContext string         `json:"chain_context"`
	Issuer       string         `json:"issuer"`
	CallbackURL  string         `json:"callback_url"`
	Fee          sdkmath.LegacyDec `json:"fee"`
}

// Client defines the interface for the external attestation service.
// This interface abstracts away the transport so the engine can run against the
// live HTTP service or the local simulator.
type Client interface {
	// Dispatch submits an attestation request and returns the request id the
	// asynchronous result will be keyed by. The fee balance is checked eagerly;
	// an underfunded dispatch fails with ErrInsufficientBalance before any work
	// is queued on the service side.
	Dispatch(ctx context.Context, req DispatchRequest) (string, error)

	// Balance returns the prepaid fee balance held with the service.
	Balance(ctx context.Context) (sdkmath.LegacyDec, error)

	// Close cleans up any resources used by the client.
	Close() error
}
