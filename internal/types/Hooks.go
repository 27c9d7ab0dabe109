package types

import (
	"cosmossdk.io/math"
)

// HookKind names the pool-engine operation a hook callback wraps.
type HookKind string

const (
	HookPoolCreate      HookKind = "pool_create"
	HookLiquidityAdd    HookKind = "liquidity_add"
	HookLiquidityRemove HookKind = "liquidity_remove"
	HookSwap            HookKind = "swap"
)

// PoolState is the live pool context supplied with every hook callback. The
// recorder derives utilization and score metrics from it.
type PoolState struct {
	PoolID          PoolID   `json:"pool_id"`
	Token0          string   `json:"token0"`
	Token1          string   `json:"token1"`
	CurrentTick     int32    `json:"current_tick"`
	ActiveLiquidity math.Int `json:"active_liquidity"`
	SwapFeeBps      int      `json:"swap_fee_bps"`
}

// HookPayload is the decoded per-call payload of a hook callback. The pool engine
// may pass it empty, in which case there is no attributable user and recording is
// skipped.
type HookPayload struct {
	User      UserID `json:"user,omitempty"`
	TickLower int32  `json:"tick_lower"`
	TickUpper int32  `json:"tick_upper"`
}

// HookContext is everything a hook callback learns about one pool operation.
type HookContext struct {
	Kind            HookKind    `json:"kind"`
	Pool            PoolState   `json:"pool"`
	Payload         HookPayload `json:"payload"`
	TradeAmount     math.Int    `json:"trade_amount"`     // Signed balance delta, zero for pool-create hooks.
	SpecifiedAmount math.Int    `json:"specified_amount"` // User-specified amount, zero when not applicable.
	Direction       Direction   `json:"direction"`
	FeeBps          int         `json:"fee_bps"` // Fee proposed for this operation; extensions may adjust it.
}
