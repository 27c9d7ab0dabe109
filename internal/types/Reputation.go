package types

import (
	"time"

	"cosmossdk.io/math"
)

// UserReputation is the authoritative reputation state for one user. Mutated only
// by the attestation reconciler after a verified result, and by lazy decay.
type UserReputation struct {
	User UserID `json:"user"`

	// PROPoints is the non-transferable reputation score. Decays geometrically
	// with inactivity and never goes below zero.
	PROPoints math.LegacyDec `json:"pro_points"`

	// ROPoints is the spendable derived score, minted proportionally to positive
	// PROPoints deltas and capped by the global issuance ceiling. ROPoints do not
	// decay.
	ROPoints math.LegacyDec `json:"ro_points"`

	LastUpdate   time.Time `json:"last_update"`
	IdentityHash Digest    `json:"identity_hash"`
}

// AttestedResult is the opaque payload the attestation service returns. The inner
// payload decodes to a ReputationPayload; the commitment must equal the recomputed
// hash of the inner payload and the key id must match the locally configured one.
type AttestedResult struct {
	VerificationKeyID string `json:"verification_key_id"`
	Commitment        Digest `json:"commitment"`
	Payload           []byte `json:"payload"`
}

// ReputationPayload is the decoded attestation result: parallel arrays of per-user
// score deltas bound to the batch they were computed from.
type ReputationPayload struct {
	Users            []UserID         `json:"users"`
	Scores           []math.LegacyDec `json:"scores"` // Signed deltas applied to PROPoints.
	IdentityHashes   []Digest         `json:"identity_hashes"`
	BatchID          BatchID          `json:"batch_id"`
	Nonce            uint64           `json:"nonce"`
	UpdatesProcessed int              `json:"updates_processed"`
}
