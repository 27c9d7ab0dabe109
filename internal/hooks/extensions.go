/*

This file contains the swap-extension capability: a strategy interface with
variant extension points, invoked in declared order. An extension can veto a swap
or adjust its fee, nothing else; concrete filters cover the common shapes
(tick-region gating, arbitrary predicates, and chaining).

*/

package hooks

import (
	"github.com/meridian-dex/rpm/internal/types"
)

// Decision is what one extension decides about a swap.
type Decision struct {
	Veto         bool
	Reason       string
	AdjustFeeBps int // 0 leaves the fee unchanged
}

// Outcome is the aggregate of the whole extension chain for one swap.
type Outcome struct {
	Vetoed   bool
	VetoedBy string
	Reason   string
	FeeBps   int
}

// Extension is one pluggable swap strategy. Implementations must be cheap and
// side-effect free on the core pipeline; the hooks contain their panics.
type Extension interface {
	Name() string
	BeforeSwap(ctx *types.HookContext) Decision
	AfterSwap(ctx *types.HookContext)
}

// RegionFilter vetoes swaps whose pool tick lies outside [MinTick, MaxTick].
type RegionFilter struct {
	Label   string
	MinTick int32
	MaxTick int32
}

func (f RegionFilter) Name() string { return f.Label }

func (f RegionFilter) BeforeSwap(ctx *types.HookContext) Decision {
	if ctx.Pool.CurrentTick < f.MinTick || ctx.Pool.CurrentTick > f.MaxTick {
		return Decision{Veto: true, Reason: "tick outside permitted region"}
	}
	return Decision{}
}

func (f RegionFilter) AfterSwap(ctx *types.HookContext) {}

// ConditionalFilter delegates the decision to an arbitrary predicate.
type ConditionalFilter struct {
	Label     string
	Condition func(ctx *types.HookContext) Decision
}

func (f ConditionalFilter) Name() string { return f.Label }

func (f ConditionalFilter) BeforeSwap(ctx *types.HookContext) Decision {
	if f.Condition == nil {
		return Decision{}
	}
	return f.Condition(ctx)
}

func (f ConditionalFilter) AfterSwap(ctx *types.HookContext) {}

// ChainedFilter composes inner extensions and runs them in declared order,
// stopping at the first veto.
type ChainedFilter struct {
	Label string
	Inner []Extension
}

func (f ChainedFilter) Name() string { return f.Label }

func (f ChainedFilter) BeforeSwap(ctx *types.HookContext) Decision {
	for _, ext := range f.Inner {
		decision := ext.BeforeSwap(ctx)
		if decision.AdjustFeeBps > 0 {
			ctx.FeeBps = decision.AdjustFeeBps
		}
		if decision.Veto {
			return decision
		}
	}
	return Decision{}
}

func (f ChainedFilter) AfterSwap(ctx *types.HookContext) {
	for _, ext := range f.Inner {
		ext.AfterSwap(ctx)
	}
}
