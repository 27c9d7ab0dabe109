/*

This file contains the default parameters for the reputation pipeline.

These parameters govern how aggressively activity is recorded, how often batches
are flushed, and how fast reputation decays. Each value has been chosen to keep the
queue bounded under sustained swap traffic while keeping scores responsive.

*/

package config

import (
	"time"

	"cosmossdk.io/math"

	"github.com/meridian-dex/rpm/internal/types"
)

// DefaultPipelineParameters provides a baseline parameter set for the pipeline.
// These values are used if no active parameters are found in the database during
// initialization.
var DefaultPipelineParameters = types.PipelineParameters{
	// --- Recording ---
	CooldownPeriod: 5 * time.Minute,
	// Rationale: one record per user per direction per five minutes bounds queue
	// growth to a known ceiling even if a single actor spams swaps. Shorter
	// windows let wash traders multiply their queue footprint.

	// --- Activity scoring ---
	SizeCoefficient:        1.0,
	UtilizationCoefficient: 2.0,
	RangeCoefficient:       0.5,
	MaxActivityScore:       100.0,
	// Rationale: utilization dominates because moving a large share of active
	// liquidity is the signal the fee market cares about; raw size is log-scaled
	// so whales cannot buy reputation linearly. The cap bounds any single record's
	// influence on a batch.

	// --- Batching ---
	BatchSize: 20,
	// Rationale: the attestation service prices per record; 20 keeps the per-batch
	// proving cost predictable while draining a busy queue within a few intervals.

	AutomationInterval: 10 * time.Minute,
	// Rationale: matches the automation layer's polling cadence. Flushing more
	// often produces tiny batches and wastes the fixed dispatch fee.

	// --- Decay ---
	DecayPeriod:     7 * 24 * time.Hour,
	DecayPercentage: math.LegacyNewDecWithPrec(5, 2), // 5% per period
	// Rationale: a week of inactivity costs 5% of PROPoints, compounded per
	// elapsed week. Strong enough that a stale reputation fades within months,
	// gentle enough that a vacation does not erase a user's standing.

	MaxDecayPeriods: 520,
	// Rationale: iteration cap for the lazy decay loop. 520 weekly periods is ten
	// years; beyond that the compounded score is indistinguishable from zero, so
	// the ledger zeroes it outright instead of looping further.

	// --- Issuance ---
	MintRatio:             math.LegacyNewDecWithPrec(25, 2), // 0.25 ROPoints per PROPoint gained
	GlobalIssuanceCeiling: math.LegacyNewDec(10_000_000),
	// Rationale: ROPoints are spendable and therefore supply-capped. The ceiling
	// is enforced at mint time; once exhausted, positive deltas still raise
	// PROPoints but mint nothing.

	// --- Dispatch ---
	DispatchFee: math.LegacyNewDec(1),
	// Rationale: the attestation service charges one fee unit per request,
	// checked eagerly so an underfunded flush fails before the queue is touched.

	// --- Fee discount read path ---
	BaseFeeBps:          30,
	MaxFeeDiscountBps:   15,
	PointsPerDiscountBp: math.LegacyNewDec(100),
	// Rationale: at 100 PROPoints per basis point a power user tops out at half
	// the 30bps base fee. The discount must never reach 100% of the base fee or
	// reputation farming becomes free flow.
}
