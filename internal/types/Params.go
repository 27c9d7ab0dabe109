/*

This file contains the tunable parameters for the reputation pipeline. Different
versions of these parameters can be stored and activated in the database; the
defaults live in internal/config/Parameters.go.

*/

package types

import (
	"time"

	"cosmossdk.io/math"
)

// PipelineParameters holds all tunable knobs of the reputation update pipeline:
// recording throttles, batching policy, decay behaviour and the dispatch fee.
type PipelineParameters struct {
	// --- Recording ---
	CooldownPeriod time.Duration `json:"cooldown_period"` // Minimum gap between two recorded activities for the same (user, direction).

	// --- Activity scoring ---
	SizeCoefficient        float64 `json:"size_coefficient"`        // Weight of the log-scaled trade size component.
	UtilizationCoefficient float64 `json:"utilization_coefficient"` // Weight of the liquidity-utilization component.
	RangeCoefficient       float64 `json:"range_coefficient"`       // Weight of the tick-range concentration component.
	MaxActivityScore       float64 `json:"max_activity_score"`      // Hard cap on a single record's activity score.

	// --- Batching ---
	BatchSize          int           `json:"batch_size"`          // Maximum records drained into one batch.
	AutomationInterval time.Duration `json:"automation_interval"` // Minimum gap between two automated flushes.

	// --- Decay ---
	DecayPeriod     time.Duration  `json:"decay_period"`      // One full decay period; PROPoints lose DecayPercentage per elapsed period.
	DecayPercentage math.LegacyDec `json:"decay_percentage"`  // Fraction lost per period, 0.0 to 1.0.
	MaxDecayPeriods int            `json:"max_decay_periods"` // Iteration cap for lazy decay; beyond this the score is zeroed.

	// --- Issuance ---
	MintRatio              math.LegacyDec `json:"mint_ratio"`               // ROPoints minted per unit of positive PROPoints delta.
	GlobalIssuanceCeiling  math.LegacyDec `json:"global_issuance_ceiling"`  // Hard cap on total ROPoints ever minted.

	// --- Dispatch ---
	DispatchFee math.LegacyDec `json:"dispatch_fee"` // Fee the attestation service charges per request.

	// --- Fee discount read path ---
	BaseFeeBps          int            `json:"base_fee_bps"`           // Pool base fee in basis points.
	MaxFeeDiscountBps   int            `json:"max_fee_discount_bps"`   // Ceiling on the discount a user can earn.
	PointsPerDiscountBp math.LegacyDec `json:"points_per_discount_bp"` // PROPoints required per basis point of discount.
}
