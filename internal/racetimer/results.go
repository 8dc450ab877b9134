package racetimer

import (
	"fmt"
	"time"
)

const (
	secondsPerHour = 60 * 60
	feetPerMile    = 5280
)

type CompletionReason uint8

const (
	AllFinished CompletionReason = iota
	TimedOut
)

func (r CompletionReason) String() string {
	switch r {
	case AllFinished:
		return "all_finished"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// ElapsedTicks is the number of ticks between start and finish. The
// subtraction wraps, so a counter which overflowed once between the two reads
// still gives the correct duration.
func ElapsedTicks(start, finish uint32) uint32 {
	return finish - start
}

func TicksToSeconds(ticks uint32, frequency uint64) float64 {
	return float64(ticks) / float64(frequency)
}

// SpeedMPH converts a time over the track to miles per hour.
func SpeedMPH(trackLengthFeet, elapsedSeconds float64) float64 {
	return trackLengthFeet * secondsPerHour / feetPerMile / elapsedSeconds
}

type LaneResult struct {
	Lane         int    `json:"lane"`
	FinishTick   uint32 `json:"finish_tick"`
	ElapsedTicks uint32 `json:"elapsed_ticks"`
	Finished     bool   `json:"finished"`

	// ElapsedSeconds and SpeedMPH are only set when Finished is true.
	ElapsedSeconds float64 `json:"elapsed_seconds,omitempty"`
	SpeedMPH       float64 `json:"speed_mph,omitempty"`
}

func newLaneResult(lane int, startTick, finishTick uint32, config Config) LaneResult {
	result := LaneResult{
		Lane:         lane,
		FinishTick:   finishTick,
		ElapsedTicks: ElapsedTicks(startTick, finishTick),
	}

	// a lane which never fired still holds the start tick.
	if result.ElapsedTicks == 0 {
		return result
	}

	result.Finished = true
	result.ElapsedSeconds = TicksToSeconds(result.ElapsedTicks, config.TickFrequency)
	result.SpeedMPH = SpeedMPH(config.TrackLengthFeet, result.ElapsedSeconds)

	return result
}

func (l LaneResult) Elapsed() time.Duration {
	return time.Duration(l.ElapsedSeconds * float64(time.Second))
}

func (l LaneResult) String() string {
	if !l.Finished {
		return fmt.Sprintf("Lane %d: DNF", l.Lane)
	}

	return fmt.Sprintf("Lane %d: %.8fs (%.6f mph)", l.Lane, l.ElapsedSeconds, l.SpeedMPH)
}

type RaceStart struct {
	RaceID    string `json:"race_id"`
	StartTick uint32 `json:"start_tick"`
}

type RaceResults struct {
	RaceID    string               `json:"race_id"`
	StartTick uint32               `json:"start_tick"`
	Lanes     [NumLanes]LaneResult `json:"lanes"`
	Reason    CompletionReason     `json:"reason"`
	Duration  time.Duration        `json:"duration"`
}

func (r RaceResults) NumFinished() int {
	finished := 0

	for _, lane := range r.Lanes {
		if lane.Finished {
			finished++
		}
	}

	return finished
}

// Places ranks the finished lanes by elapsed time, 1 being the fastest. Lanes
// which did not finish get 0. Tied lanes share a place.
func (r RaceResults) Places() [NumLanes]int {
	var places [NumLanes]int

	for i, lane := range r.Lanes {
		if !lane.Finished {
			continue
		}

		places[i] = 1

		for _, other := range r.Lanes {
			if other.Finished && other.ElapsedTicks < lane.ElapsedTicks {
				places[i]++
			}
		}
	}

	return places
}

// Winner reports the lane with the lowest elapsed time. ok is false when no
// lane finished.
func (r RaceResults) Winner() (lane LaneResult, ok bool) {
	for _, l := range r.Lanes {
		if !l.Finished {
			continue
		}

		if !ok || l.ElapsedTicks < lane.ElapsedTicks {
			lane = l
			ok = true
		}
	}

	return lane, ok
}
