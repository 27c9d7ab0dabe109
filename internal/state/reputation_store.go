// ./internal/state/reputation_store.go
package state

import (
	"database/sql"
	"fmt"
	"time"

	"cosmossdk.io/math"

	"github.com/meridian-dex/rpm/internal/types"
)

// SaveUserReputation upserts one reputation account.
func SaveUserReputation(rep types.UserReputation) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO user_reputation (user_id, pro_points, ro_points, last_update, identity_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			pro_points = EXCLUDED.pro_points,
			ro_points = EXCLUDED.ro_points,
			last_update = EXCLUDED.last_update,
			identity_hash = EXCLUDED.identity_hash`

	_, err := DB.Exec(query,
		string(rep.User),
		rep.PROPoints.String(),
		rep.ROPoints.String(),
		rep.LastUpdate.UTC(),
		rep.IdentityHash.Hex(),
	)
	if err != nil {
		return fmt.Errorf("failed to save reputation for user %s: %w", rep.User, err)
	}
	return nil
}

// GetUserReputation loads one account. Returns sql.ErrNoRows when absent.
func GetUserReputation(user types.UserID) (types.UserReputation, error) {
	if DB == nil {
		return types.UserReputation{}, fmt.Errorf("database not initialized")
	}

	var (
		userID, proStr, roStr, hashStr string
		lastUpdate                     time.Time
	)
	query := `SELECT user_id, pro_points, ro_points, last_update, identity_hash FROM user_reputation WHERE user_id = $1`
	err := DB.QueryRow(query, string(user)).Scan(&userID, &proStr, &roStr, &lastUpdate, &hashStr)
	if err != nil {
		if err == sql.ErrNoRows {
			return types.UserReputation{}, err
		}
		return types.UserReputation{}, fmt.Errorf("failed to load reputation for user %s: %w", user, err)
	}

	return scanReputation(userID, proStr, roStr, hashStr, lastUpdate)
}

// GetAllUserReputation loads every account, for startup recovery.
func GetAllUserReputation() ([]types.UserReputation, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := DB.Query(`SELECT user_id, pro_points, ro_points, last_update, identity_hash FROM user_reputation ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reputation accounts: %w", err)
	}
	defer rows.Close()

	var accounts []types.UserReputation
	for rows.Next() {
		var (
			userID, proStr, roStr, hashStr string
			lastUpdate                     time.Time
		)
		if err := rows.Scan(&userID, &proStr, &roStr, &lastUpdate, &hashStr); err != nil {
			return nil, fmt.Errorf("failed to scan reputation row: %w", err)
		}
		rep, err := scanReputation(userID, proStr, roStr, hashStr, lastUpdate)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reputation rows: %w", err)
	}
	return accounts, nil
}

func scanReputation(userID, proStr, roStr, hashStr string, lastUpdate time.Time) (types.UserReputation, error) {
	pro, err := math.LegacyNewDecFromStr(proStr)
	if err != nil {
		return types.UserReputation{}, fmt.Errorf("invalid pro_points for user %s: %w", userID, err)
	}
	ro, err := math.LegacyNewDecFromStr(roStr)
	if err != nil {
		return types.UserReputation{}, fmt.Errorf("invalid ro_points for user %s: %w", userID, err)
	}
	hash, err := types.DigestFromHex(hashStr)
	if err != nil {
		return types.UserReputation{}, fmt.Errorf("invalid identity_hash for user %s: %w", userID, err)
	}
	return types.UserReputation{
		User:         types.UserID(userID),
		PROPoints:    pro,
		ROPoints:     ro,
		LastUpdate:   lastUpdate,
		IdentityHash: hash,
	}, nil
}

// SaveMintedTotal persists the running issuance total.
func SaveMintedTotal(total math.LegacyDec) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	_, err := DB.Exec(`
		UPDATE issuance_counter
		SET minted_total = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = 1`, total.String())
	if err != nil {
		return fmt.Errorf("failed to save minted total: %w", err)
	}
	return nil
}

// GetMintedTotal returns the persisted issuance total.
func GetMintedTotal() (math.LegacyDec, error) {
	if DB == nil {
		return math.LegacyDec{}, fmt.Errorf("database not initialized")
	}

	var totalStr string
	err := DB.QueryRow(`SELECT minted_total FROM issuance_counter WHERE id = 1`).Scan(&totalStr)
	if err != nil {
		if err == sql.ErrNoRows {
			return math.LegacyZeroDec(), nil
		}
		return math.LegacyDec{}, fmt.Errorf("failed to get minted total: %w", err)
	}

	total, err := math.LegacyNewDecFromStr(totalStr)
	if err != nil {
		return math.LegacyDec{}, fmt.Errorf("invalid minted total in database: %w", err)
	}
	return total, nil
}
