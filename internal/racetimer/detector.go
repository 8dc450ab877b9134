package racetimer

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"justapengu.in/derby/internal/hal"
)

var ErrDetectorArmed = errors.New("racetimer: detector is armed")

// armedBit marks a detector as armed. The low 32 bits of the state word hold
// the finish tick, so disarming and capturing happen in a single CAS.
const armedBit = uint64(1) << 32

// FinishDetector latches the counter value at the first edge seen on a lane's
// finish line after it has been armed.
type FinishDetector struct {
	lane    int
	line    hal.Line
	counter hal.TickCounter

	state    atomic.Uint64
	spurious atomic.Uint32
}

func NewFinishDetector(lane int, line hal.Line, counter hal.TickCounter) *FinishDetector {
	return &FinishDetector{
		lane:    lane,
		line:    line,
		counter: counter,
	}
}

func (d *FinishDetector) Lane() int {
	return d.lane
}

// Arm clears any edge latched on the line while it was disabled, then starts
// watching for the finish.
func (d *FinishDetector) Arm() {
	d.line.ClearPending()

	for {
		state := d.state.Load()

		if d.state.CompareAndSwap(state, state|armedBit) {
			break
		}
	}

	d.line.Enable()
}

// OnEdge is called from the line's event context. The first edge after Arm
// records the current tick and disarms; every other edge is ignored. It
// reports whether the edge was captured.
func (d *FinishDetector) OnEdge() bool {
	state := d.state.Load()

	if state&armedBit == 0 {
		d.spurious.Add(1)
		return false
	}

	// the tick is read after the armed state, so a successful swap proves it
	// was taken while armed. A failed swap means the detector was disarmed or
	// re-armed under us.
	tick := d.counter.Ticks()

	if !d.state.CompareAndSwap(state, uint64(tick)) {
		d.spurious.Add(1)
		return false
	}

	d.line.Disable()

	return true
}

// Disarm stops watching the line without recording a finish.
func (d *FinishDetector) Disarm() {
	for {
		state := d.state.Load()

		if state&armedBit == 0 {
			break
		}

		if d.state.CompareAndSwap(state, state&^armedBit) {
			break
		}
	}

	d.line.Disable()
}

// Reset stores startValue as the finish tick, meaning "no finish recorded".
func (d *FinishDetector) Reset(startValue uint32) error {
	state := d.state.Load()

	if state&armedBit != 0 {
		return ErrDetectorArmed
	}

	if !d.state.CompareAndSwap(state, uint64(startValue)) {
		return ErrDetectorArmed
	}

	return nil
}

func (d *FinishDetector) Armed() bool {
	return d.state.Load()&armedBit != 0
}

func (d *FinishDetector) FinishTick() uint32 {
	return uint32(d.state.Load())
}

// SpuriousEdges is the number of edges ignored since the detector was created.
func (d *FinishDetector) SpuriousEdges() uint32 {
	return d.spurious.Load()
}
