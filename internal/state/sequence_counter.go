// ./internal/state/sequence_counter.go
package state

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

// IncrementSequenceHeight atomically increments and returns the sequence height.
// The height stands in for a block height and feeds nonce derivation.
func IncrementSequenceHeight() (uint64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var height int64
	query := `
		UPDATE sequence_counter
		SET current_height = current_height + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
		RETURNING current_height`

	err := DB.QueryRow(query).Scan(&height)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, fmt.Errorf("sequence counter row not found, database may not be initialized")
		}
		return 0, fmt.Errorf("failed to increment sequence height: %w", err)
	}

	return uint64(height), nil
}

// GetSequenceHeight returns the current sequence height without incrementing it.
func GetSequenceHeight() (uint64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var height int64
	err := DB.QueryRow(`SELECT current_height FROM sequence_counter WHERE id = 1`).Scan(&height)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, fmt.Errorf("sequence counter row not found, database may not be initialized")
		}
		return 0, fmt.Errorf("failed to get sequence height: %w", err)
	}

	return uint64(height), nil
}

// SaveBatchCounter persists the processor's batch counter so batch IDs stay
// unique across restarts.
func SaveBatchCounter(counter uint64) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	_, err := DB.Exec(`
		UPDATE sequence_counter
		SET batch_counter = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = 1`, int64(counter))
	if err != nil {
		return fmt.Errorf("failed to save batch counter: %w", err)
	}
	return nil
}

// GetBatchCounter returns the last persisted batch counter.
func GetBatchCounter() (uint64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var counter int64
	err := DB.QueryRow(`SELECT batch_counter FROM sequence_counter WHERE id = 1`).Scan(&counter)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, fmt.Errorf("sequence counter row not found, database may not be initialized")
		}
		return 0, fmt.Errorf("failed to get batch counter: %w", err)
	}

	return uint64(counter), nil
}

// ResetSequenceCounter resets both the height and batch counter to zero.
// Intended for test environments only.
func ResetSequenceCounter() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	_, err := DB.Exec(`
		UPDATE sequence_counter
		SET current_height = 0, batch_counter = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("failed to reset sequence counter: %w", err)
	}

	log.Info().Msg("Sequence counter reset to 0")
	return nil
}
