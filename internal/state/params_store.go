// ./internal/state/params_store.go
package state

import (
	"database/sql"
	"fmt"
	"time"

	"cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/meridian-dex/rpm/internal/types"
)

// SavePipelineParameters saves a new version of pipeline parameters.
func SavePipelineParameters(params types.PipelineParameters, configName string, version int, makeActive bool) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-panic after rollback
		} else if err != nil {
			tx.Rollback() // Rollback if error occurred
		}
	}()

	if makeActive {
		stmtDeactivate := `UPDATE pipeline_parameters SET is_active = FALSE WHERE config_name = $1 AND is_active = TRUE;`
		_, err = tx.Exec(stmtDeactivate, configName)
		if err != nil {
			return 0, fmt.Errorf("failed to deactivate existing active parameters for %s: %w", configName, err)
		}
	}

	stmt := `
        INSERT INTO pipeline_parameters (
            version, config_name, is_active, activated_at, created_at,
            cooldown_seconds,
            size_coefficient, utilization_coefficient, range_coefficient, max_activity_score,
            batch_size, automation_interval_seconds,
            decay_period_seconds, decay_percentage, max_decay_periods,
            mint_ratio, global_issuance_ceiling,
            dispatch_fee,
            base_fee_bps, max_fee_discount_bps, points_per_discount_bp
        ) VALUES (
            $1, $2, $3, $4, $5,
            $6,
            $7, $8, $9, $10,
            $11, $12,
            $13, $14, $15,
            $16, $17,
            $18,
            $19, $20, $21
        ) RETURNING params_id;`

	var paramsID int64
	currentTime := time.Now()
	err = tx.QueryRow(
		stmt,
		version, configName, makeActive, currentTime, currentTime,
		int64(params.CooldownPeriod/time.Second),
		params.SizeCoefficient, params.UtilizationCoefficient, params.RangeCoefficient, params.MaxActivityScore,
		params.BatchSize, int64(params.AutomationInterval/time.Second),
		int64(params.DecayPeriod/time.Second), params.DecayPercentage.String(), params.MaxDecayPeriods,
		params.MintRatio.String(), params.GlobalIssuanceCeiling.String(),
		params.DispatchFee.String(),
		params.BaseFeeBps, params.MaxFeeDiscountBps, params.PointsPerDiscountBp.String(),
	).Scan(&paramsID)

	if err != nil {
		return 0, fmt.Errorf("failed to insert pipeline parameters: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Int("version", version).
		Str("config", configName).
		Int64("params_id", paramsID).
		Bool("active", makeActive).
		Msg("Saved pipeline parameters")
	return paramsID, nil
}

// LoadActivePipelineParameters loads the currently active pipeline parameters.
func LoadActivePipelineParameters(configName string) (*types.PipelineParameters, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
        SELECT
            cooldown_seconds,
            size_coefficient, utilization_coefficient, range_coefficient, max_activity_score,
            batch_size, automation_interval_seconds,
            decay_period_seconds, decay_percentage, max_decay_periods,
            mint_ratio, global_issuance_ceiling,
            dispatch_fee,
            base_fee_bps, max_fee_discount_bps, points_per_discount_bp
        FROM pipeline_parameters
        WHERE config_name = $1 AND is_active = TRUE
        ORDER BY activated_at DESC
        LIMIT 1;`

	var (
		cooldownSec, intervalSec, decaySec            int64
		decayPctStr, mintRatioStr, ceilingStr         string
		dispatchFeeStr, pointsPerBpStr                string
		p                                             types.PipelineParameters
	)
	row := DB.QueryRow(query, configName)
	err := row.Scan(
		&cooldownSec,
		&p.SizeCoefficient, &p.UtilizationCoefficient, &p.RangeCoefficient, &p.MaxActivityScore,
		&p.BatchSize, &intervalSec,
		&decaySec, &decayPctStr, &p.MaxDecayPeriods,
		&mintRatioStr, &ceilingStr,
		&dispatchFeeStr,
		&p.BaseFeeBps, &p.MaxFeeDiscountBps, &pointsPerBpStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no active pipeline parameters found for config '%s'", configName)
		}
		return nil, fmt.Errorf("failed to scan active pipeline parameters for config '%s': %w", configName, err)
	}

	p.CooldownPeriod = time.Duration(cooldownSec) * time.Second
	p.AutomationInterval = time.Duration(intervalSec) * time.Second
	p.DecayPeriod = time.Duration(decaySec) * time.Second

	if p.DecayPercentage, err = math.LegacyNewDecFromStr(decayPctStr); err != nil {
		return nil, fmt.Errorf("invalid decay_percentage in database: %w", err)
	}
	if p.MintRatio, err = math.LegacyNewDecFromStr(mintRatioStr); err != nil {
		return nil, fmt.Errorf("invalid mint_ratio in database: %w", err)
	}
	if p.GlobalIssuanceCeiling, err = math.LegacyNewDecFromStr(ceilingStr); err != nil {
		return nil, fmt.Errorf("invalid global_issuance_ceiling in database: %w", err)
	}
	if p.DispatchFee, err = math.LegacyNewDecFromStr(dispatchFeeStr); err != nil {
		return nil, fmt.Errorf("invalid dispatch_fee in database: %w", err)
	}
	if p.PointsPerDiscountBp, err = math.LegacyNewDecFromStr(pointsPerBpStr); err != nil {
		return nil, fmt.Errorf("invalid points_per_discount_bp in database: %w", err)
	}

	log.Info().Str("config", configName).Msg("Loaded active pipeline parameters")
	return &p, nil
}

// EnsureActivePipelineParameters loads the active parameters, seeding the
// defaults as version 1 when the table has no active row yet.
func EnsureActivePipelineParameters(configName string, defaults types.PipelineParameters) (*types.PipelineParameters, error) {
	params, err := LoadActivePipelineParameters(configName)
	if err == nil {
		return params, nil
	}

	log.Warn().Str("config", configName).Msg("No active pipeline parameters found, seeding defaults")
	if _, saveErr := SavePipelineParameters(defaults, configName, 1, true); saveErr != nil {
		return nil, fmt.Errorf("failed to seed default pipeline parameters: %w", saveErr)
	}
	return LoadActivePipelineParameters(configName)
}
