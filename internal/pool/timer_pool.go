// Package pool provides pooled timers for the timeout-heavy protocol paths.
package pool

import (
	"sync"
	"time"
)

var timerPool sync.Pool

// GetTimer returns a timer for the given duration d from the pool.
//
// Return the timer to the pool with PutTimer when done.
func GetTimer(d time.Duration) *time.Timer {
	if v := timerPool.Get(); v != nil {
		t, _ := v.(*time.Timer) // only *time.Timer is ever put into the pool
		if t.Reset(d) {
			// Timer was active, drain the channel to prevent a stale fire.
			select {
			case <-t.C:
			default:
			}
		}
		return t
	}
	return time.NewTimer(d)
}

// PutTimer returns a timer to the pool.
//
// t must not be accessed after returning it to the pool.
func PutTimer(t *time.Timer) {
	if !t.Stop() {
		// Drain t.C if it wasn't consumed by the caller.
		select {
		case <-t.C:
		default:
		}
	}
	timerPool.Put(t)
}
