/*

This file contains the deterministic hashing used across the pipeline: batch and
request identifiers, identity hashes, commitments, and the four per-category batch
digests. Everything is blake3 over an explicit byte layout, so equal inputs always
produce byte-identical digests regardless of host or process.

*/

package digest

import (
	"encoding/binary"
	"strconv"
	"time"

	"github.com/zeebo/blake3"

	"github.com/meridian-dex/rpm/internal/types"
)

// Sum hashes the concatenation of parts with blake3.
func Sum(parts ...[]byte) types.Digest {
	h := blake3.New()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	var d types.Digest
	h.Sum(d[:0])
	return d
}

// Identity hashes a user identity.
func Identity(user types.UserID) types.Digest {
	return Sum([]byte("identity/v1"), []byte(user))
}

// Commitment hashes an attestation inner payload. The reconciler recomputes this
// and compares it against the declared commitment before decoding anything.
func Commitment(payload []byte) types.Digest {
	return Sum([]byte("commitment/v1"), payload)
}

// BatchID derives a batch identifier from the issuer identity and the monotonic
// batch counter. The counter makes every flush unique even when the drained
// records are identical.
func BatchID(issuer string, counter uint64) types.BatchID {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)
	return types.BatchID(Sum([]byte("batch/v1"), []byte(issuer), buf[:]).Hex())
}

// RequestID derives a request identifier from the dispatch contents and the
// dispatch time. Collisions are negligible; the pending-request table still
// treats a duplicate as a hard error.
func RequestID(batchID types.BatchID, nonce uint64, chainID string, at time.Time) string {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], nonce)
	binary.BigEndian.PutUint64(buf[8:], uint64(at.UnixNano()))
	return Sum([]byte("request/v1"), []byte(batchID), []byte(chainID), buf[:]).Hex()
}

// Categories computes the four per-category digests over the records of a batch,
// in drain order. Pure function of its input: the batch-determinism property of
// the dispatch event rests on it.
func Categories(records []types.ActivityRecord) types.BatchDigest {
	trade := blake3.New()
	tick := blake3.New()
	token := blake3.New()
	metrics := blake3.New()

	var i32 [4]byte
	for _, r := range records {
		_, _ = trade.Write([]byte(r.Trade.TradeAmount.String()))
		_, _ = trade.Write([]byte{byte(r.Trade.Direction)})
		_, _ = trade.Write([]byte(r.Trade.SpecifiedAmount.String()))

		binary.BigEndian.PutUint32(i32[:], uint32(r.Ticks.CurrentTick))
		_, _ = tick.Write(i32[:])
		binary.BigEndian.PutUint32(i32[:], uint32(r.Ticks.TickLower))
		_, _ = tick.Write(i32[:])
		binary.BigEndian.PutUint32(i32[:], uint32(r.Ticks.TickUpper))
		_, _ = tick.Write(i32[:])

		_, _ = token.Write([]byte(strconv.Itoa(len(r.Tokens.Token0))))
		_, _ = token.Write([]byte(r.Tokens.Token0))
		_, _ = token.Write([]byte(strconv.Itoa(len(r.Tokens.Token1))))
		_, _ = token.Write([]byte(r.Tokens.Token1))

		_, _ = metrics.Write([]byte(r.Metrics.LiquidityUtilization.String()))
		_, _ = metrics.Write([]byte(r.Metrics.ActivityScore.String()))
	}

	var out types.BatchDigest
	trade.Sum(out.TradeHash[:0])
	tick.Sum(out.TickHash[:0])
	token.Sum(out.TokenHash[:0])
	metrics.Sum(out.MetricsHash[:0])
	return out
}
