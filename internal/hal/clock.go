package hal

import (
	"time"
)

// CounterPeriod is the time it takes a 32 bit counter at the given frequency
// to wrap around once.
func CounterPeriod(frequency uint64) time.Duration {
	if frequency == 0 {
		return 0
	}

	return time.Duration((uint64(1) << 32) * uint64(time.Second) / frequency)
}

// MonotonicCounter emulates a free running hardware cycle counter using the
// host's monotonic clock. The value wraps at 2^32 exactly as a 32 bit
// hardware counter would.
type MonotonicCounter struct {
	epoch     time.Time
	frequency uint64
}

func NewMonotonicCounter(frequency uint64) *MonotonicCounter {
	return &MonotonicCounter{
		epoch:     time.Now(),
		frequency: frequency,
	}
}

func (c *MonotonicCounter) Ticks() uint32 {
	elapsed := uint64(time.Since(c.epoch))

	// split the multiplication so that elapsed*frequency does not overflow
	// for long running processes.
	seconds := elapsed / uint64(time.Second)
	remainder := elapsed % uint64(time.Second)

	return uint32(seconds*c.frequency + remainder*c.frequency/uint64(time.Second))
}

func (c *MonotonicCounter) Frequency() uint64 {
	return c.frequency
}

type SystemClock struct {
	epoch time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{epoch: time.Now()}
}

func (c *SystemClock) Millis() int64 {
	return time.Since(c.epoch).Milliseconds()
}
