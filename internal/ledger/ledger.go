/*

This file contains the reputation ledger: the authoritative mapping from user
identity to accumulated score. PROPoints decay geometrically with inactivity,
applied lazily whenever the account is touched; reads are mutate-on-read so the
same decay period is never applied twice across repeated reads.

*/

package ledger

import (
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/meridian-dex/rpm/internal/logger"
	"github.com/meridian-dex/rpm/internal/types"
)

// Ledger holds per-user reputation state.
type Ledger struct {
	mu          sync.Mutex
	logger      zerolog.Logger
	accounts    map[types.UserID]*types.UserReputation
	params      types.PipelineParameters
	mintedTotal sdkmath.LegacyDec
	now         func() time.Time
}

// Config holds the configuration for creating a new Ledger instance
type Config struct {
	Params types.PipelineParameters

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// NewLedger creates a new Ledger instance
func NewLedger(cfg Config) (*Ledger, error) {
	if cfg.Params.DecayPeriod <= 0 {
		return nil, fmt.Errorf("decay period must be positive, got %s", cfg.Params.DecayPeriod)
	}
	if cfg.Params.DecayPercentage.IsNil() || cfg.Params.DecayPercentage.IsNegative() || cfg.Params.DecayPercentage.GT(sdkmath.LegacyOneDec()) {
		return nil, fmt.Errorf("decay percentage must be within [0, 1]")
	}
	if cfg.Params.MaxDecayPeriods <= 0 {
		return nil, fmt.Errorf("max decay periods must be positive, got %d", cfg.Params.MaxDecayPeriods)
	}
	if cfg.Params.GlobalIssuanceCeiling.IsNil() || cfg.Params.GlobalIssuanceCeiling.IsNegative() {
		return nil, fmt.Errorf("global issuance ceiling must be a non-negative decimal")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Ledger{
		logger:      logger.GetForComponent("reputation_ledger"),
		accounts:    make(map[types.UserID]*types.UserReputation),
		params:      cfg.Params,
		mintedTotal: sdkmath.LegacyZeroDec(),
		now:         now,
	}, nil
}

// GetPoints returns the user's current PROPoints. Mutate-on-read: any decay
// periods that have fully elapsed are applied and persisted in the account before
// the value is returned, so repeated reads within one period never re-apply decay.
func (l *Ledger) GetPoints(user types.UserID) sdkmath.LegacyDec {
	l.mu.Lock()
	defer l.mu.Unlock()

	account, ok := l.accounts[user]
	if !ok {
		return sdkmath.LegacyZeroDec()
	}
	l.decayLocked(account, l.now())
	return account.PROPoints
}

// ApplyDelta applies one attested signed score to the user's account: lazy decay
// first, then the delta. Positive deltas raise PROPoints and mint proportional
// ROPoints up to the global issuance ceiling; negative deltas lower PROPoints,
// floored at zero. IdentityHash and LastUpdate are refreshed unconditionally.
func (l *Ledger) ApplyDelta(user types.UserID, score sdkmath.LegacyDec, identityHash types.Digest, at time.Time) types.UserReputation {
	l.mu.Lock()
	defer l.mu.Unlock()

	account, ok := l.accounts[user]
	if !ok {
		account = &types.UserReputation{
			User:      user,
			PROPoints: sdkmath.LegacyZeroDec(),
			ROPoints:  sdkmath.LegacyZeroDec(),
		}
		l.accounts[user] = account
	}

	l.decayLocked(account, at)

	if score.IsPositive() {
		account.PROPoints = account.PROPoints.Add(score)

		minted := score.Mul(l.params.MintRatio)
		headroom := l.params.GlobalIssuanceCeiling.Sub(l.mintedTotal)
		if minted.GT(headroom) {
			minted = headroom
		}
		if minted.IsPositive() {
			account.ROPoints = account.ROPoints.Add(minted)
			l.mintedTotal = l.mintedTotal.Add(minted)
		}
	} else if score.IsNegative() {
		account.PROPoints = account.PROPoints.Add(score)
		if account.PROPoints.IsNegative() {
			account.PROPoints = sdkmath.LegacyZeroDec()
		}
	}

	account.IdentityHash = identityHash
	account.LastUpdate = at

	l.logger.Debug().
		Str("user", string(user)).
		Str("delta", score.String()).
		Str("proPoints", account.PROPoints.String()).
		Str("roPoints", account.ROPoints.String()).
		Msg("Reputation delta applied")

	return *account
}

// decayLocked applies every fully elapsed decay period since the account's last
// update, multiplying PROPoints by (1 - decayPercentage) once per period. The
// iteration count is capped: past MaxDecayPeriods the compounded score is
// indistinguishable from zero and is zeroed outright. LastUpdate advances by
// exactly the consumed periods so the fractional remainder keeps accruing.
func (l *Ledger) decayLocked(account *types.UserReputation, at time.Time) {
	if account.LastUpdate.IsZero() || !at.After(account.LastUpdate) {
		return
	}

	elapsed := at.Sub(account.LastUpdate)
	periods := int(elapsed / l.params.DecayPeriod)
	if periods == 0 {
		return
	}

	if periods > l.params.MaxDecayPeriods {
		account.PROPoints = sdkmath.LegacyZeroDec()
		account.LastUpdate = at
		return
	}

	retain := sdkmath.LegacyOneDec().Sub(l.params.DecayPercentage)
	for i := 0; i < periods; i++ {
		account.PROPoints = account.PROPoints.Mul(retain)
	}
	account.LastUpdate = account.LastUpdate.Add(time.Duration(periods) * l.params.DecayPeriod)
}

// Snapshot returns a copy of the account without applying decay. Diagnostic and
// persistence hook.
func (l *Ledger) Snapshot(user types.UserID) (types.UserReputation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	account, ok := l.accounts[user]
	if !ok {
		return types.UserReputation{}, false
	}
	return *account, true
}

// Accounts returns a copy of every account, for write-through persistence.
func (l *Ledger) Accounts() []types.UserReputation {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]types.UserReputation, 0, len(l.accounts))
	for _, account := range l.accounts {
		out = append(out, *account)
	}
	return out
}

// RestoreAccount seeds an account from persisted state at startup.
func (l *Ledger) RestoreAccount(account types.UserReputation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	copied := account
	l.accounts[account.User] = &copied
}

// RestoreMintedTotal seeds the issuance counter from persisted state at startup.
func (l *Ledger) RestoreMintedTotal(total sdkmath.LegacyDec) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mintedTotal = total
}

// MintedTotal returns the total ROPoints ever minted.
func (l *Ledger) MintedTotal() sdkmath.LegacyDec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mintedTotal
}
