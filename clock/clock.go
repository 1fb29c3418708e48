// Package clock provides the relative-time domain the engine runs in.
//
// The engine measures time in seconds since process start (a 32-bit
// "relative time", matching spec.md section 3's exptime/last_access
// domain) rather than wall-clock time, so that exptime and last_access
// values stay small and comparisons stay monotonic across the life of the
// process. A real host supplies this as server_api's current_time()/
// realtime(); here it is a narrow collaborator interface so tests can
// inject a fake clock.
package clock

import "time"

// Clock is the host-provided time service the engine facade samples once
// at the entry of every operation (spec.md section 5, "Shared-resource
// policy").
type Clock interface {
	// Now returns seconds elapsed since the clock's epoch.
	Now() uint32
	// Realtime converts a client-supplied expiration value into the
	// clock's relative-time domain. Values already small enough to be
	// relative offsets (<= 30 days in seconds) are treated as "N seconds
	// from now"; larger values are treated as absolute Unix timestamps.
	Realtime(exptime int64) uint32
}

const thirtyDays = 60 * 60 * 24 * 30

// System is a Clock backed by time.Now(), epoched at the moment it is
// constructed, matching memcached's "seconds since process start".
type System struct {
	epoch time.Time
}

// NewSystem returns a Clock epoched at the current wall-clock time.
func NewSystem() *System {
	return &System{epoch: time.Now()}
}

func (c *System) Now() uint32 {
	return uint32(time.Since(c.epoch) / time.Second)
}

func (c *System) Realtime(exptime int64) uint32 {
	if exptime == 0 {
		return 0
	}
	if exptime < 0 {
		// Already expired; caller should treat this as "expire immediately".
		return c.Now() - 1
	}
	if exptime <= thirtyDays {
		return c.Now() + uint32(exptime)
	}
	now := time.Now()
	if exptime <= now.Unix() {
		// Already in the past relative to wall-clock time.
		return c.Now() - 1
	}
	delta := exptime - now.Unix()
	return c.Now() + uint32(delta)
}
