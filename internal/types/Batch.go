/*

This file contains the batch and pending-request types produced by the batch
processor. A batch is an immutable snapshot of drained queue records; it is retained
in the batch-data side table until the matching attestation result reconciles, then
deleted.

*/

package types

import (
	"encoding/hex"
	"encoding/json"
	"time"
)

// Digest is a 32-byte blake3 hash used for batch ids, commitments, identity hashes
// and the per-category batch digests.
type Digest [32]byte

// Hex returns the lowercase hex encoding of the digest.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether the digest is the zero value.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// MarshalJSON encodes the digest as a hex string.
func (d Digest) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Hex() + `"`), nil
}

// UnmarshalJSON decodes a hex string digest.
func (d *Digest) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := DigestFromHex(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DigestFromHex parses a lowercase hex digest string.
func DigestFromHex(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, err
	}
	if len(b) != len(d) {
		return d, ErrBadDigestLength
	}
	copy(d[:], b)
	return d, nil
}

// BatchID identifies one dispatched batch. Derived from the issuer identity and a
// monotonic counter, so each flush gets a fresh id even if it carries the same
// records.
type BatchID string

// BatchDigest is the four per-category hashes emitted with a BatchCreated event.
// Each hash covers the concatenation of that category's fields for every record in
// the batch, in drain order.
type BatchDigest struct {
	TradeHash   Digest `json:"trade_hash"`
	TickHash    Digest `json:"tick_hash"`
	TokenHash   Digest `json:"token_hash"`
	MetricsHash Digest `json:"metrics_hash"`
}

// Batch is an immutable snapshot of drained records dispatched for attestation.
type Batch struct {
	ID        BatchID          `json:"id"`
	Nonce     uint64           `json:"nonce"`
	Issuer    string           `json:"issuer"`
	Users     []UserID         `json:"users"`
	Records   []ActivityRecord `json:"records"`
	Digest    BatchDigest      `json:"digest"`
	CreatedAt time.Time        `json:"created_at"`
}

// PendingRequest tracks one in-flight attestation request. Exactly one outstanding
// batch per request id; deleted once reconciled, which is what makes replay of the
// same request id fail.
type PendingRequest struct {
	RequestID    string    `json:"request_id"`
	BatchID      BatchID   `json:"batch_id"`
	Nonce        uint64    `json:"nonce"`
	Issuer       string    `json:"issuer"`
	DispatchedAt time.Time `json:"dispatched_at"`
}
