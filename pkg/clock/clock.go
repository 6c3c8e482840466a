// Package clock provides the wall-clock millisecond source the shift-light
// engine and dongle connection depend on.
//
// The render-tick alignment in pkg/rpmled explicitly needs wall-clock time,
// not a monotonic counter that resets at boot, so that blink phases line up
// the same way across restarts. See pkg/shiftlight for the consumer.
package clock

import "time"

// Clock yields the current time. Real deployments use Wall; tests use a
// Manual clock so blink-phase assertions don't race the system clock.
type Clock interface {
	NowMS() int64
}

// Wall is a Clock backed by time.Now(), returning Unix epoch milliseconds.
type Wall struct{}

// NowMS returns the current Unix time in milliseconds.
func (Wall) NowMS() int64 {
	return time.Now().UnixMilli()
}

// Manual is a Clock whose value is set explicitly, for deterministic tests
// of blink timing and render-interval alignment.
type Manual struct {
	ms int64
}

// NewManual returns a Manual clock starting at the given Unix millisecond.
func NewManual(startMS int64) *Manual {
	return &Manual{ms: startMS}
}

// NowMS returns the clock's current value.
func (m *Manual) NowMS() int64 {
	return m.ms
}

// Set moves the clock to an absolute Unix millisecond value.
func (m *Manual) Set(ms int64) {
	m.ms = ms
}

// Advance moves the clock forward by the given number of milliseconds.
func (m *Manual) Advance(ms int64) {
	m.ms += ms
}
