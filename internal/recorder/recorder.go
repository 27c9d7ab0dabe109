/*

This file contains the activity recorder: the entry point that turns a qualifying
pool interaction into a queued activity record. Recording is throttled per
(user, direction) by the cooldown tracker, and rejection is a result value rather
than an error because throttling is a feature of the pipeline, not a failure.

*/

package recorder

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridian-dex/rpm/internal/digest"
	"github.com/meridian-dex/rpm/internal/logger"
	"github.com/meridian-dex/rpm/internal/queue"
	"github.com/meridian-dex/rpm/internal/scoring"
	"github.com/meridian-dex/rpm/internal/types"
)

// Registration reports whether the attestation subsystem is registered for this
// pool context. Recording is rejected until it is.
type Registration interface {
	Registered() bool
}

// Recorder captures one activity record per qualifying interaction.
type Recorder struct {
	logger       zerolog.Logger
	queue        *queue.UpdateQueue
	cooldowns    *CooldownTracker
	params       types.PipelineParameters
	registration Registration
	now          func() time.Time
}

// Config holds the configuration for creating a new Recorder instance
type Config struct {
	Queue        *queue.UpdateQueue
	Params       types.PipelineParameters
	Registration Registration

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// NewRecorder creates a new Recorder instance with dependency injection
func NewRecorder(cfg Config) (*Recorder, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("update queue cannot be nil")
	}
	if cfg.Registration == nil {
		return nil, fmt.Errorf("registration checker cannot be nil")
	}
	if cfg.Params.CooldownPeriod < 0 {
		return nil, fmt.Errorf("cooldown period cannot be negative")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Recorder{
		logger:       logger.GetForComponent("activity_recorder"),
		queue:        cfg.Queue,
		cooldowns:    NewCooldownTracker(),
		params:       cfg.Params,
		registration: cfg.Registration,
		now:          now,
	}, nil
}

// RecordActivity builds and enqueues an activity record for one interaction.
//
// Rejection paths, all silent by design: attestation subsystem not registered,
// no attributable user in the payload, cooldown still active, or pool state the
// scorer cannot work with. On acceptance the queue tail advances and the cooldown
// timestamp for (user, direction) is refreshed.
func (r *Recorder) RecordActivity(ctx types.HookContext) types.RecordResult {
	if !r.registration.Registered() {
		r.logger.Debug().Msg("Recording rejected: attestor not registered")
		return types.Rejected(types.RejectNotRegistered)
	}

	user := ctx.Payload.User
	if user == "" {
		return types.Rejected(types.RejectNoUser)
	}

	now := r.now()
	if !r.cooldowns.Ready(user, ctx.Direction, now, r.params.CooldownPeriod) {
		r.logger.Debug().
			Str("user", string(user)).
			Str("direction", ctx.Direction.String()).
			Msg("Recording rejected: cooldown active")
		return types.Rejected(types.RejectCooldown)
	}

	metrics, err := scoring.CalculateMetrics(ctx, r.params)
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("user", string(user)).
			Uint64("poolID", uint64(ctx.Pool.PoolID)).
			Msg("Recording rejected: metric derivation failed")
		return types.Rejected(types.RejectBadPoolState)
	}

	record := types.ActivityRecord{
		User:   user,
		PoolID: ctx.Pool.PoolID,
		Trade: types.TradeInfo{
			TradeAmount:     ctx.TradeAmount,
			Direction:       ctx.Direction,
			SpecifiedAmount: ctx.SpecifiedAmount,
		},
		Ticks: types.TickInfo{
			CurrentTick: ctx.Pool.CurrentTick,
			TickLower:   ctx.Payload.TickLower,
			TickUpper:   ctx.Payload.TickUpper,
		},
		Tokens: types.TokenPairInfo{
			Token0: ctx.Pool.Token0,
			Token1: ctx.Pool.Token1,
		},
		Metrics:    metrics,
		RecordedAt: now,
	}

	r.queue.Enqueue(record)
	r.cooldowns.Touch(user, ctx.Direction, now)

	// Observability event carries hashes only, never the raw record values.
	recordDigest := digest.Categories([]types.ActivityRecord{record})
	r.logger.Info().
		Str("identityHash", digest.Identity(user).Hex()).
		Str("tradeHash", recordDigest.TradeHash.Hex()).
		Str("tickHash", recordDigest.TickHash.Hex()).
		Str("tokenHash", recordDigest.TokenHash.Hex()).
		Str("metricsHash", recordDigest.MetricsHash.Hex()).
		Int("queueLength", r.queue.Len()).
		Msg("Activity recorded")

	return types.RecordResult{Accepted: true, Record: &record}
}

// Cooldowns exposes the tracker for diagnostics.
func (r *Recorder) Cooldowns() *CooldownTracker {
	return r.cooldowns
}
