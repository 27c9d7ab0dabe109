package types

import "errors"

// ErrBadDigestLength is returned when a hex digest does not decode to 32 bytes.
var ErrBadDigestLength = errors.New("digest must be exactly 32 bytes")

// RejectReason explains why a recording attempt was rejected. Rejection is
// throttling by design, not an error, so callers branch on the result value
// instead of an error return.
type RejectReason string

const (
	RejectNone          RejectReason = ""
	RejectNotRegistered RejectReason = "attestor_not_registered"
	RejectCooldown      RejectReason = "cooldown_active"
	RejectNoUser        RejectReason = "no_attributable_user"
	RejectBadPoolState  RejectReason = "invalid_pool_state"
)

// RecordResult is the outcome of one recordActivity call.
type RecordResult struct {
	Accepted bool         `json:"accepted"`
	Reason   RejectReason `json:"reason,omitempty"`

	// Record is the queued record when Accepted, nil otherwise.
	Record *ActivityRecord `json:"record,omitempty"`
}

// Rejected builds a rejection result.
func Rejected(reason RejectReason) RecordResult {
	return RecordResult{Accepted: false, Reason: reason}
}

// FlushOutcome is the outcome of one flush attempt. A no-op (empty queue) is a
// distinct signal from a failure so automation callers can tell "nothing to do"
// from "something broke".
type FlushOutcome struct {
	NoOp      bool    `json:"no_op"`
	BatchID   BatchID `json:"batch_id,omitempty"`
	RequestID string  `json:"request_id,omitempty"`
	Nonce     uint64  `json:"nonce,omitempty"`
	Drained   int     `json:"drained"`
}
