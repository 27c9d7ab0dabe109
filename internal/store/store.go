/*

This file contains the in-process side tables for dispatched batches and in-flight
attestation requests. It is an explicit repository passed to the components that
need it, not ambient global state: the processor writes, the reconciler consumes,
and the web layer reads for the out-of-band batch pull.

*/

package store

import (
	"errors"
	"sort"
	"sync"

	"github.com/meridian-dex/rpm/internal/types"
)

var (
	// ErrBatchNotFound is returned when a batch id has no stored batch data.
	ErrBatchNotFound = errors.New("batch not found")
	// ErrUnknownRequest is returned when a request id has no pending request.
	// Replayed or forged callbacks hit this.
	ErrUnknownRequest = errors.New("unknown request")
	// ErrDuplicateRequest is returned when a request id is already outstanding.
	ErrDuplicateRequest = errors.New("request id already outstanding")
)

// Store holds batch data awaiting out-of-band retrieval and the pending-request
// table binding request ids to dispatched batches.
type Store struct {
	mu      sync.RWMutex
	batches map[types.BatchID]types.Batch
	pending map[string]types.PendingRequest
}

// New creates an empty store.
func New() *Store {
	return &Store{
		batches: make(map[types.BatchID]types.Batch),
		pending: make(map[string]types.PendingRequest),
	}
}

// PutBatch stores the full contents of a dispatched batch, keyed by batch id, for
// later out-of-band retrieval by the attestation service.
func (s *Store) PutBatch(batch types.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[batch.ID] = batch
}

// GetBatch returns the stored batch for an id.
func (s *Store) GetBatch(id types.BatchID) (types.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, ok := s.batches[id]
	if !ok {
		return types.Batch{}, ErrBatchNotFound
	}
	return batch, nil
}

// DeleteBatch drops the stored batch for an id. Missing ids are ignored; deletion
// is storage reclamation, not bookkeeping.
func (s *Store) DeleteBatch(id types.BatchID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.batches, id)
}

// BatchCount returns the number of retained batches. Diagnostic hook.
func (s *Store) BatchCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.batches)
}

// PutPending registers an in-flight request. A request id may map to exactly one
// outstanding batch, so a duplicate id is a hard error.
func (s *Store) PutPending(req types.PendingRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pending[req.RequestID]; exists {
		return ErrDuplicateRequest
	}
	s.pending[req.RequestID] = req
	return nil
}

// GetPending returns the pending request for a request id.
func (s *Store) GetPending(requestID string) (types.PendingRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.pending[requestID]
	if !ok {
		return types.PendingRequest{}, ErrUnknownRequest
	}
	return req, nil
}

// DeletePending removes a pending request. The lookup-then-delete pattern in the
// reconciler makes a second reconcile of the same request id fail the unknown-
// request check.
func (s *Store) DeletePending(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, requestID)
}

// PendingRequests returns all outstanding requests ordered by dispatch time.
func (s *Store) PendingRequests() []types.PendingRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.PendingRequest, 0, len(s.pending))
	for _, req := range s.pending {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DispatchedAt.Before(out[j].DispatchedAt)
	})
	return out
}
