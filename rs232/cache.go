package rs232

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Reading is the last value observed for a command code, with the time
// the confirming frame was received.
type Reading struct {
	Value []byte
	At    time.Time
}

// StateCache holds the last-known device value per command code.
//
// It is mutated only by confirmed frames (matched replies and unsolicited
// status pushes), never by request submission. Updates apply last-write-wins
// by timestamp through an atomic replace; the driver's single-outstanding-
// request discipline makes further locking unnecessary.
type StateCache struct {
	entries *xsync.MapOf[string, Reading]

	// Subscriptions are registered before the connection opens and
	// read-mostly afterward.
	subMu sync.RWMutex
	subs  map[string][]func(code string, r Reading)
}

// NewStateCache creates an empty StateCache.
func NewStateCache() *StateCache {
	return &StateCache{
		entries: xsync.NewMapOf[string, Reading](),
		subs:    make(map[string][]func(string, Reading)),
	}
}

// Get returns the last observed reading for the given command code.
// ok is false when the code has never been observed.
func (c *StateCache) Get(code string) (Reading, bool) {
	return c.entries.Load(code)
}

// Update records a confirmed value for the given command code.
//
// Stale updates (older than the stored reading) are dropped, so two
// updates arriving in either order leave the cache holding the newer one.
// It returns true when the update was applied.
func (c *StateCache) Update(code string, value []byte, at time.Time) bool {
	owned := make([]byte, len(value))
	copy(owned, value)

	applied := false
	c.entries.Compute(code, func(old Reading, loaded bool) (Reading, bool) {
		if loaded && old.At.After(at) {
			return old, false
		}

		applied = true

		return Reading{Value: owned, At: at}, false
	})

	if applied {
		c.notify(code, Reading{Value: owned, At: at})
	}

	return applied
}

// Subscribe registers fn to be called after each applied update for the
// given command code.
//
// Callbacks run synchronously in the updater's goroutine (the protocol
// loop); they must be fast and must not mutate the cache reentrantly.
// Subscribe should be called before the connection is opened.
func (c *StateCache) Subscribe(code string, fn func(code string, r Reading)) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.subs[code] = append(c.subs[code], fn)
}

// Snapshot returns a copy of all readings currently held.
func (c *StateCache) Snapshot() map[string]Reading {
	out := make(map[string]Reading)
	c.entries.Range(func(code string, r Reading) bool {
		out[code] = r

		return true
	})

	return out
}

func (c *StateCache) notify(code string, r Reading) {
	c.subMu.RLock()
	fns := c.subs[code]
	c.subMu.RUnlock()

	for _, fn := range fns {
		fn(code, r)
	}
}
