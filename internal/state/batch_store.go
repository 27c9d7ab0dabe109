// ./internal/state/batch_store.go
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meridian-dex/rpm/internal/types"
)

// SaveBatch persists a dispatched batch, contents as JSONB.
func SaveBatch(batch types.Batch) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	contents, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch %s: %w", batch.ID, err)
	}

	query := `
		INSERT INTO batch_data (batch_id, nonce, issuer, created_at, contents)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (batch_id) DO NOTHING`

	_, err = DB.Exec(query, string(batch.ID), int64(batch.Nonce), batch.Issuer, batch.CreatedAt.UTC(), contents)
	if err != nil {
		return fmt.Errorf("failed to save batch %s: %w", batch.ID, err)
	}
	return nil
}

// GetBatch loads one batch. Returns sql.ErrNoRows when absent.
func GetBatch(batchID types.BatchID) (types.Batch, error) {
	if DB == nil {
		return types.Batch{}, fmt.Errorf("database not initialized")
	}

	var contents []byte
	err := DB.QueryRow(`SELECT contents FROM batch_data WHERE batch_id = $1`, string(batchID)).Scan(&contents)
	if err != nil {
		if err == sql.ErrNoRows {
			return types.Batch{}, err
		}
		return types.Batch{}, fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}

	var batch types.Batch
	if err := json.Unmarshal(contents, &batch); err != nil {
		return types.Batch{}, fmt.Errorf("failed to unmarshal batch %s: %w", batchID, err)
	}
	return batch, nil
}

// DeleteBatch removes a settled batch. Pending requests referencing it
// cascade-delete.
func DeleteBatch(batchID types.BatchID) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	_, err := DB.Exec(`DELETE FROM batch_data WHERE batch_id = $1`, string(batchID))
	if err != nil {
		return fmt.Errorf("failed to delete batch %s: %w", batchID, err)
	}
	return nil
}

// GetAllBatches loads every stored batch, for startup recovery.
func GetAllBatches() ([]types.Batch, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := DB.Query(`SELECT contents FROM batch_data ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var batches []types.Batch
	for rows.Next() {
		var contents []byte
		if err := rows.Scan(&contents); err != nil {
			return nil, fmt.Errorf("failed to scan batch row: %w", err)
		}
		var batch types.Batch
		if err := json.Unmarshal(contents, &batch); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stored batch: %w", err)
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating batch rows: %w", err)
	}
	return batches, nil
}

// SavePendingRequest persists one in-flight attestation request.
func SavePendingRequest(req types.PendingRequest) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO pending_requests (request_id, batch_id, nonce, issuer, dispatched_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (request_id) DO NOTHING`

	_, err := DB.Exec(query, req.RequestID, string(req.BatchID), int64(req.Nonce), req.Issuer, req.DispatchedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save pending request %s: %w", req.RequestID, err)
	}
	return nil
}

// DeletePendingRequest removes a settled or swept request.
func DeletePendingRequest(requestID string) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	_, err := DB.Exec(`DELETE FROM pending_requests WHERE request_id = $1`, requestID)
	if err != nil {
		return fmt.Errorf("failed to delete pending request %s: %w", requestID, err)
	}
	return nil
}

// GetAllPendingRequests loads every in-flight request, oldest first.
func GetAllPendingRequests() ([]types.PendingRequest, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := DB.Query(`SELECT request_id, batch_id, nonce, issuer, dispatched_at FROM pending_requests ORDER BY dispatched_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending requests: %w", err)
	}
	defer rows.Close()

	var reqs []types.PendingRequest
	for rows.Next() {
		var (
			requestID, batchID, issuer string
			nonce                      int64
			dispatchedAt               time.Time
		)
		if err := rows.Scan(&requestID, &batchID, &nonce, &issuer, &dispatchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending request row: %w", err)
		}
		reqs = append(reqs, types.PendingRequest{
			RequestID:    requestID,
			BatchID:      types.BatchID(batchID),
			Nonce:        uint64(nonce),
			Issuer:       issuer,
			DispatchedAt: dispatchedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending request rows: %w", err)
	}
	return reqs, nil
}
