package recorder

import (
	"sync"
	"time"

	"github.com/meridian-dex/rpm/internal/types"
)

type cooldownKey struct {
	user      types.UserID
	direction types.Direction
}

// CooldownTracker rate-limits how often a single (user, direction) pair can queue
// a record. It keeps the last accepted timestamp per pair; a pair is ready again
// once the cooldown period has fully elapsed.
type CooldownTracker struct {
	mu   sync.Mutex
	last map[cooldownKey]time.Time
}

// NewCooldownTracker creates an empty tracker.
func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{last: make(map[cooldownKey]time.Time)}
}

// Ready reports whether the pair is outside its cooldown window at the given time.
func (c *CooldownTracker) Ready(user types.UserID, direction types.Direction, now time.Time, period time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, seen := c.last[cooldownKey{user, direction}]
	if !seen {
		return true
	}
	return !now.Before(last.Add(period))
}

// Touch records an accepted activity for the pair.
func (c *CooldownTracker) Touch(user types.UserID, direction types.Direction, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[cooldownKey{user, direction}] = now
}

// Last returns the last accepted timestamp for the pair, zero if never seen.
func (c *CooldownTracker) Last(user types.UserID, direction types.Direction) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last[cooldownKey{user, direction}]
}
