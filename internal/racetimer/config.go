package racetimer

import (
	"time"

	"github.com/pkg/errors"

	"justapengu.in/derby/internal/hal"
)

const NumLanes = 4

const (
	DefaultTrackLengthFeet  = 31
	DefaultTickFrequency    = 72000000
	DefaultDisqualifiedTime = 20 * 1000

	defaultPollInterval     = 1
	defaultIdlePollInterval = 50
)

// maxTimeoutFraction is the largest share of one counter period the
// disqualification time may take. Elapsed ticks are computed by unsigned
// subtraction, which is only correct while a race is shorter than one period.
const maxTimeoutFraction = 0.5

type Config struct {
	TrackLengthFeet float64 `json:"track_length_feet" yaml:"track_length_feet"`
	TickFrequency   uint64  `json:"tick_frequency_hz" yaml:"tick_frequency_hz"`

	// DisqualifiedTime is in milliseconds.
	DisqualifiedTime int64 `json:"disqualified_time_ms" yaml:"disqualified_time_ms"`

	PollInterval     int `json:"poll_interval_ms" yaml:"poll_interval_ms"`
	IdlePollInterval int `json:"idle_poll_interval_ms" yaml:"idle_poll_interval_ms"`

	StartEdge  hal.Edge `json:"start_edge" yaml:"start_edge"`
	FinishEdge hal.Edge `json:"finish_edge" yaml:"finish_edge"`
}

func DefaultConfig() Config {
	return Config{
		TrackLengthFeet:  DefaultTrackLengthFeet,
		TickFrequency:    DefaultTickFrequency,
		DisqualifiedTime: DefaultDisqualifiedTime,
		PollInterval:     defaultPollInterval,
		IdlePollInterval: defaultIdlePollInterval,
		StartEdge:        hal.FallingEdge,
		FinishEdge:       hal.FallingEdge,
	}
}

func (c Config) Validate() error {
	if c.TrackLengthFeet <= 0 {
		return errors.Errorf("track length must be positive, got %v", c.TrackLengthFeet)
	}

	if c.TickFrequency == 0 {
		return errors.New("tick frequency must be set")
	}

	if c.DisqualifiedTime <= 0 {
		return errors.Errorf("disqualified time must be positive, got %dms", c.DisqualifiedTime)
	}

	period := hal.CounterPeriod(c.TickFrequency)

	if float64(c.DisqualifiedDuration()) > float64(period)*maxTimeoutFraction {
		return errors.Errorf("disqualified time %s is too close to the counter period %s at %dHz", c.DisqualifiedDuration(), period, c.TickFrequency)
	}

	if c.PollInterval < 1 || c.IdlePollInterval < 1 {
		return errors.New("poll intervals must be at least 1ms")
	}

	if c.StartEdge == 0 || c.FinishEdge == 0 {
		return errors.New("start and finish edges must be set")
	}

	return nil
}

func (c Config) DisqualifiedDuration() time.Duration {
	return time.Duration(c.DisqualifiedTime) * time.Millisecond
}

func (c Config) pollInterval() time.Duration {
	return time.Duration(c.PollInterval) * time.Millisecond
}

func (c Config) idlePollInterval() time.Duration {
	return time.Duration(c.IdlePollInterval) * time.Millisecond
}
