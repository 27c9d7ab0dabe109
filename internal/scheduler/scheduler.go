/*

This file contains the batch scheduler: the small state machine the external
automation trigger polls to decide whether a flush is due. The check is a pure
read; the timestamp reset happens only on the explicit execute path, and happens
regardless of whether any records existed so an empty queue cannot cause a tight
re-polling loop.

*/

package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridian-dex/rpm/internal/logger"
	"github.com/meridian-dex/rpm/internal/queue"
	"github.com/meridian-dex/rpm/internal/recorder"
	"github.com/meridian-dex/rpm/internal/types"
)

// ErrNotRegistered is returned by CheckReady when the attestation subsystem is not
// registered. It is deliberately loud, distinct from the silent "queue empty"
// false, so automation does not retry forever without diagnosis.
var ErrNotRegistered = errors.New("attestation subsystem not registered")

// State is the scheduler's externally visible state.
type State string

const (
	StateIdle         State = "idle"
	StateReadyToFlush State = "ready_to_flush"
)

// Trigger is the poll/execute surface consumed by the external automation caller.
type Trigger interface {
	// CheckReady is a pure read: no state changes, ever.
	CheckReady() (bool, error)
	// Execute performs the flush, or a no-op when there is nothing to do.
	Execute() (types.FlushOutcome, error)
}

// Scheduler decides when enough time has elapsed and enough queued work exists to
// flush a batch.
type Scheduler struct {
	mu                  sync.Mutex
	logger              zerolog.Logger
	queue               *queue.UpdateQueue
	registration        recorder.Registration
	interval            time.Duration
	lastAutomatedUpdate time.Time
	now                 func() time.Time
}

// Config holds the configuration for creating a new Scheduler instance
type Config struct {
	Queue        *queue.UpdateQueue
	Registration recorder.Registration
	Interval     time.Duration

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// NewScheduler creates a new Scheduler instance with dependency injection
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("update queue cannot be nil")
	}
	if cfg.Registration == nil {
		return nil, fmt.Errorf("registration checker cannot be nil")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("automation interval must be positive, got %s", cfg.Interval)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Scheduler{
		logger:       logger.GetForComponent("batch_scheduler"),
		queue:        cfg.Queue,
		registration: cfg.Registration,
		interval:     cfg.Interval,
		now:          now,
	}, nil
}

// CheckReady reports whether a flush is due. Pure read-only: registration active,
// interval elapsed since the last automated update, and at least one queued
// record. Not-registered is an error; an empty queue or unelapsed interval is a
// plain false.
func (s *Scheduler) CheckReady() (bool, error) {
	if !s.registration.Registered() {
		return false, ErrNotRegistered
	}

	s.mu.Lock()
	last := s.lastAutomatedUpdate
	s.mu.Unlock()

	if s.now().Before(last.Add(s.interval)) {
		return false, nil
	}
	if s.queue.Len() == 0 {
		return false, nil
	}
	return true, nil
}

// State maps the current readiness onto the Idle/ReadyToFlush state machine.
func (s *Scheduler) State() State {
	ready, err := s.CheckReady()
	if err != nil || !ready {
		return StateIdle
	}
	return StateReadyToFlush
}

// MarkExecuted resets the automation timestamp. Called on every explicit execute,
// including ones that turned out to be no-ops.
func (s *Scheduler) MarkExecuted() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastAutomatedUpdate = s.now()
	s.logger.Debug().
		Time("lastAutomatedUpdate", s.lastAutomatedUpdate).
		Msg("Automation timestamp reset")
}

// LastAutomatedUpdate returns the time of the last explicit execute.
func (s *Scheduler) LastAutomatedUpdate() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAutomatedUpdate
}
