/*

This file contains the activity record types queued by the recorder. A record is an
immutable snapshot of one qualifying pool interaction; it is owned by the update
queue until drained into a batch and is never mutated after creation.

*/

package types

import (
	"time"

	"cosmossdk.io/math"
)

// UserID is the pool-engine address of the account a record is attributed to.
type UserID string

// PoolID identifies a pool context on the external liquidity-pool engine.
type PoolID uint64

// Direction is the swap direction flag of a recorded interaction.
type Direction uint8

const (
	// DirectionZeroForOne is a swap selling token0 for token1.
	DirectionZeroForOne Direction = 0
	// DirectionOneForZero is a swap selling token1 for token0.
	DirectionOneForZero Direction = 1
)

func (d Direction) String() string {
	if d == DirectionZeroForOne {
		return "zero_for_one"
	}
	return "one_for_zero"
}

// TradeInfo carries the signed trade amounts of a recorded interaction.
type TradeInfo struct {
	TradeAmount     math.Int  `json:"trade_amount"`     // Signed balance delta seen by the pool.
	Direction       Direction `json:"direction"`        // Swap direction flag.
	SpecifiedAmount math.Int  `json:"specified_amount"` // Amount the user specified (exact-in or exact-out).
}

// TickInfo carries the price-tick context of a recorded interaction.
type TickInfo struct {
	CurrentTick int32 `json:"current_tick"` // Pool tick at the time of the interaction.
	TickLower   int32 `json:"tick_lower"`   // Lower bound of the affected tick range.
	TickUpper   int32 `json:"tick_upper"`   // Upper bound of the affected tick range.
}

// TokenPairInfo carries the token pair identifiers of the pool the interaction hit.
type TokenPairInfo struct {
	Token0 string `json:"token0"`
	Token1 string `json:"token1"`
}

// MetricsInfo carries the metrics derived at recording time from live pool state.
type MetricsInfo struct {
	LiquidityUtilization math.LegacyDec `json:"liquidity_utilization"` // Trade size relative to active liquidity, 0.0 to 1.0.
	ActivityScore        math.LegacyDec `json:"activity_score"`        // Scored weight of this interaction (see internal/scoring).
}

// ActivityRecord is one queued activity event. Immutable once created.
type ActivityRecord struct {
	User       UserID        `json:"user"`
	PoolID     PoolID        `json:"pool_id"`
	Trade      TradeInfo     `json:"trade"`
	Ticks      TickInfo      `json:"ticks"`
	Tokens     TokenPairInfo `json:"tokens"`
	Metrics    MetricsInfo   `json:"metrics"`
	RecordedAt time.Time     `json:"recorded_at"`
}
