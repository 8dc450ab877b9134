package racetimer

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"justapengu.in/derby/internal/hal"
)

type Phase int32

const (
	PhaseIdle Phase = iota
	// PhaseArming is held only while the start handler captures the start
	// values and arms the detectors.
	PhaseArming
	PhaseRunning
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseArming:
		return "arming"
	case PhaseRunning:
		return "running"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// RaceController runs the race lifecycle. OnStartTrigger and the detectors'
// edge handlers run in event context; Poll runs on the main loop. Each field
// has a single writer: startTick, startWallTime and raceID are written by the
// start handler and published by the store of PhaseRunning, and nothing else
// writes them until Poll has returned the phase to idle.
type RaceController struct {
	config    Config
	counter   hal.TickCounter
	clock     hal.MillisClock
	start     hal.Line
	detectors [NumLanes]*FinishDetector
	reporter  Reporter
	logger    Logger
	metrics   *Metrics

	phase         atomic.Int32
	announce      atomic.Bool
	startTick     uint32
	startWallTime int64
	raceID        string
	nextRaceID    string

	spuriousStarts     atomic.Uint32
	seenSpuriousStarts uint32
	seenSpuriousEdges  [NumLanes]uint32

	resetFailures     atomic.Uint32
	seenResetFailures uint32

	lastResults atomic.Pointer[RaceResults]
}

func NewRaceController(config Config, board *hal.Board, reporter Reporter, logger Logger, metrics *Metrics) (*RaceController, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "racetimer: invalid config")
	}

	if board == nil || board.Counter == nil || board.Clock == nil || board.Start == nil {
		return nil, errors.New("racetimer: board is missing a counter, clock or start line")
	}

	if len(board.Lanes) != NumLanes {
		return nil, errors.Errorf("racetimer: board has %d lanes, need %d", len(board.Lanes), NumLanes)
	}

	if board.Counter.Frequency() != config.TickFrequency {
		return nil, errors.Errorf("racetimer: board counter runs at %dHz, config says %dHz", board.Counter.Frequency(), config.TickFrequency)
	}

	if reporter == nil {
		reporter = nilReporter{}
	}

	if metrics == nil {
		var err error

		metrics, err = NewMetrics(nil)

		if err != nil {
			return nil, err
		}
	}

	c := &RaceController{
		config:     config,
		counter:    board.Counter,
		clock:      board.Clock,
		start:      board.Start,
		reporter:   reporter,
		logger:     logger,
		metrics:    metrics,
		nextRaceID: uuid.New().String(),
	}

	for i, line := range board.Lanes {
		if line == nil {
			return nil, errors.Errorf("racetimer: lane %d has no input line", i+1)
		}

		c.detectors[i] = NewFinishDetector(i+1, line, board.Counter)
	}

	return c, nil
}

// Attach registers the start and finish handlers on their lines. Lines stay
// disabled until Enable.
func (c *RaceController) Attach() error {
	if err := c.start.Attach(c.config.StartEdge, c.OnStartTrigger); err != nil {
		return errors.Wrap(err, "racetimer: could not attach start handler")
	}

	for _, detector := range c.detectors {
		detector := detector

		if err := detector.line.Attach(c.config.FinishEdge, func() { detector.OnEdge() }); err != nil {
			return errors.Wrapf(err, "racetimer: could not attach finish handler for lane %d", detector.Lane())
		}
	}

	return nil
}

// Enable starts listening for the start trigger.
func (c *RaceController) Enable() {
	c.start.ClearPending()
	c.start.Enable()
}

// OnStartTrigger is the start line's handler. It must not block.
func (c *RaceController) OnStartTrigger() {
	if !c.phase.CompareAndSwap(int32(PhaseIdle), int32(PhaseArming)) {
		c.spuriousStarts.Add(1)
		return
	}

	c.start.Disable()

	c.startTick = c.counter.Ticks()
	c.startWallTime = c.clock.Millis()
	c.raceID = c.nextRaceID

	for _, detector := range c.detectors {
		// detectors are disarmed while idle. One which is not would keep a
		// stale finish, so it is disarmed and reset again and the failure is
		// reported from Poll.
		if err := detector.Reset(c.startTick); err != nil {
			c.resetFailures.Add(1)
			detector.Disarm()

			if err := detector.Reset(c.startTick); err != nil {
				c.resetFailures.Add(1)
			}
		}

		detector.Arm()
	}

	c.announce.Store(true)
	c.phase.Store(int32(PhaseRunning))
}

func (c *RaceController) Phase() Phase {
	return Phase(c.phase.Load())
}

// LastResults returns the most recently completed race, or nil.
func (c *RaceController) LastResults() *RaceResults {
	return c.lastResults.Load()
}

// Poll checks whether the current race has completed. It returns the results
// exactly once per race, on the call which completes it, and nil otherwise.
func (c *RaceController) Poll() *RaceResults {
	c.recordSpurious()

	if c.announce.CompareAndSwap(true, false) {
		c.announceStart()
	}

	if c.Phase() != PhaseRunning {
		return nil
	}

	reason, complete := c.completion()

	if !complete {
		return nil
	}

	c.phase.Store(int32(PhaseFinished))

	for _, detector := range c.detectors {
		detector.Disarm()
	}

	results := c.results(reason)

	c.lastResults.Store(results)
	c.metrics.raceCompleted(results)

	c.logger.Infof("Race %s finished (%s), %d of %d lanes finished", results.RaceID, results.Reason, results.NumFinished(), NumLanes)

	if err := c.reporter.OnRaceFinished(*results); err != nil {
		c.logger.WithError(err).Error("On race finished reporter returned an error")
	}

	c.nextRaceID = uuid.New().String()

	c.phase.Store(int32(PhaseIdle))
	c.Enable()

	return results
}

func (c *RaceController) completion() (CompletionReason, bool) {
	allFinished := true

	for _, detector := range c.detectors {
		if detector.FinishTick() == c.startTick {
			allFinished = false
			break
		}
	}

	if allFinished {
		return AllFinished, true
	}

	if c.clock.Millis()-c.startWallTime > c.config.DisqualifiedTime {
		return TimedOut, true
	}

	return 0, false
}

func (c *RaceController) results(reason CompletionReason) *RaceResults {
	results := &RaceResults{
		RaceID:    c.raceID,
		StartTick: c.startTick,
		Reason:    reason,
		Duration:  time.Duration(c.clock.Millis()-c.startWallTime) * time.Millisecond,
	}

	for i, detector := range c.detectors {
		results.Lanes[i] = newLaneResult(detector.Lane(), c.startTick, detector.FinishTick(), c.config)
	}

	return results
}

func (c *RaceController) announceStart() {
	c.metrics.racesStarted.Inc()

	c.logger.Infof("Race %s started at tick %d", c.raceID, c.startTick)

	err := c.reporter.OnRaceStarted(RaceStart{
		RaceID:    c.raceID,
		StartTick: c.startTick,
	})

	if err != nil {
		c.logger.WithError(err).Error("On race started reporter returned an error")
	}
}

// recordSpurious moves ignored edge and reset failure counts from the handlers
// into metrics and logs. Handlers only bump atomics.
func (c *RaceController) recordSpurious() {
	if starts := c.spuriousStarts.Load(); starts != c.seenSpuriousStarts {
		delta := starts - c.seenSpuriousStarts
		c.seenSpuriousStarts = starts
		c.metrics.spuriousStarts.Add(float64(delta))
		c.logger.Debugf("Ignored %d start trigger(s) while a race was in progress", delta)
	}

	if failures := c.resetFailures.Load(); failures != c.seenResetFailures {
		delta := failures - c.seenResetFailures
		c.seenResetFailures = failures
		c.logger.WithError(ErrDetectorArmed).Errorf("Could not reset %d lane detector(s) at race start", delta)
	}

	for i, detector := range c.detectors {
		if edges := detector.SpuriousEdges(); edges != c.seenSpuriousEdges[i] {
			delta := edges - c.seenSpuriousEdges[i]
			c.seenSpuriousEdges[i] = edges
			c.metrics.spuriousEdges[i].Add(float64(delta))
			c.logger.Debugf("Ignored %d edge(s) on lane %d while it was disarmed", delta, detector.Lane())
		}
	}
}
