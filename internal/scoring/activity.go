/*

This file contains the derived-metric calculations performed at recording time:
the liquidity-utilization ratio and the activity score of a single interaction.

*/

package scoring

import (
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"

	"github.com/meridian-dex/rpm/internal/logger"
	"github.com/meridian-dex/rpm/internal/types"
	"github.com/meridian-dex/rpm/internal/utils"
)

var ErrInvalidPoolState = errors.New("invalid pool state")
var ErrInvalidScoringParameters = errors.New("invalid scoring parameters")
var scoreLogger = logger.GetForComponent("activity_scorer")

// CalculateMetrics computes the liquidity-utilization ratio and activity score for
// one interaction from live pool state. Pure, given the same inputs the resulting
// metrics are identical.
//
// Inputs:
//   - ctx: the hook context of the interaction, including pool state.
//   - params: pipeline parameters carrying the scoring coefficients.
//
// Output:
//   - A MetricsInfo with both derived values populated.
//   - An error if the pool state or parameters cannot support the calculation.
func CalculateMetrics(ctx types.HookContext, params types.PipelineParameters) (types.MetricsInfo, error) {
	if err := ValidatePoolState(ctx.Pool); err != nil {
		scoreLogger.Error().
			Uint64("poolID", uint64(ctx.Pool.PoolID)).
			Err(err).
			Msg("Pool state validation failed")
		return types.MetricsInfo{}, errors.Join(ErrInvalidPoolState, err)
	}
	if err := ValidateParameters(params); err != nil {
		return types.MetricsInfo{}, errors.Join(ErrInvalidScoringParameters, err)
	}

	utilization, err := CalculateLiquidityUtilization(ctx.TradeAmount, ctx.Pool.ActiveLiquidity)
	if err != nil {
		return types.MetricsInfo{}, errors.Join(errors.New("liquidity utilization calculation failed"), err)
	}

	score, err := CalculateActivityScore(utilization, ctx, params)
	if err != nil {
		return types.MetricsInfo{}, errors.Join(errors.New("activity score calculation failed"), err)
	}

	return types.MetricsInfo{
		LiquidityUtilization: utilization,
		ActivityScore:        score,
	}, nil
}

// CalculateLiquidityUtilization returns |tradeAmount| / (activeLiquidity + |tradeAmount|),
// a 0..1 measure of how much of the pool's active liquidity this trade moved.
func CalculateLiquidityUtilization(tradeAmount, activeLiquidity sdkmath.Int) (sdkmath.LegacyDec, error) {
	if tradeAmount.IsNil() || activeLiquidity.IsNil() {
		return sdkmath.LegacyZeroDec(), utils.ErrAmountNil
	}
	if activeLiquidity.IsNegative() {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("active liquidity cannot be negative: %s", activeLiquidity)
	}

	absTrade := utils.AbsInt(tradeAmount)
	denominator := activeLiquidity.Add(absTrade)
	if denominator.IsZero() {
		return sdkmath.LegacyZeroDec(), nil
	}

	return sdkmath.LegacyNewDecFromInt(absTrade).QuoInt(denominator), nil
}

// CalculateActivityScore combines the log-scaled trade size, the utilization ratio
// and the tick-range concentration into a single bounded score.
func CalculateActivityScore(utilization sdkmath.LegacyDec, ctx types.HookContext, params types.PipelineParameters) (sdkmath.LegacyDec, error) {
	utilizationFloat, err := utils.DecToFloat64(utilization)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}

	absTrade := utils.AbsInt(ctx.TradeAmount)
	sizeComponent := 0.0
	if absTrade.IsPositive() {
		tradeFloat, err := utils.DecToFloat64(sdkmath.LegacyNewDecFromInt(absTrade))
		if err != nil {
			return sdkmath.LegacyZeroDec(), err
		}
		sizeComponent = params.SizeCoefficient * math.Log10(1+tradeFloat)
	}

	utilizationComponent := params.UtilizationCoefficient * utilizationFloat * 100.0

	// Tighter ranges concentrate liquidity where it trades; reward them more.
	rangeComponent := 0.0
	width := int64(ctx.Payload.TickUpper) - int64(ctx.Payload.TickLower)
	if width > 0 {
		rangeComponent = params.RangeCoefficient * (10.0 / math.Log10(10+float64(width)))
	}

	total := sizeComponent + utilizationComponent + rangeComponent
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: score is %f", utils.ErrNotFinite, total)
	}
	if total < 0 {
		total = 0
	}
	if total > params.MaxActivityScore {
		total = params.MaxActivityScore
	}

	scoreLogger.Debug().
		Str("user", string(ctx.Payload.User)).
		Float64("sizeComponent", sizeComponent).
		Float64("utilizationComponent", utilizationComponent).
		Float64("rangeComponent", rangeComponent).
		Float64("total", total).
		Msg("Activity score calculated")

	return utils.Float64ToDec(total)
}

// ValidatePoolState rejects pool state the scorer cannot work with.
func ValidatePoolState(pool types.PoolState) error {
	if pool.ActiveLiquidity.IsNil() {
		return errors.New("active liquidity is nil")
	}
	if pool.ActiveLiquidity.IsNegative() {
		return fmt.Errorf("active liquidity is negative: %s", pool.ActiveLiquidity)
	}
	if pool.Token0 == "" || pool.Token1 == "" {
		return errors.New("token pair identifiers are required")
	}
	return nil
}

// ValidateParameters rejects scoring coefficients that would corrupt scores.
func ValidateParameters(params types.PipelineParameters) error {
	if params.SizeCoefficient < 0 || params.UtilizationCoefficient < 0 || params.RangeCoefficient < 0 {
		return errors.New("scoring coefficients cannot be negative")
	}
	if params.MaxActivityScore <= 0 {
		return fmt.Errorf("max activity score must be positive, got %f", params.MaxActivityScore)
	}
	return nil
}
