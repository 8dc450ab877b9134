package racetimer

import (
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"justapengu.in/derby/internal/hal/sim"
)

func TestRaceAllLanesFinish(t *testing.T) {
	ct := newControllerTest(t, DefaultConfig())

	ct.startRace(0)

	if phase := ct.controller.Phase(); phase != PhaseRunning {
		t.Fatalf("Expected phase running after start, got %s", phase)
	}

	if results := ct.controller.Poll(); results != nil {
		t.Fatal("Race completed before any lane finished")
	}

	ct.finishLane(1, 72000000)
	ct.finishLane(2, 72360000)
	ct.finishLane(3, 73440000)

	if results := ct.controller.Poll(); results != nil {
		t.Fatal("Race completed with a lane still running")
	}

	ct.finishLane(4, 75600000)

	results := ct.controller.Poll()

	if results == nil {
		t.Fatal("Race did not complete after all lanes finished")
	}

	if results.Reason != AllFinished {
		t.Errorf("Expected reason %s, got %s", AllFinished, results.Reason)
	}

	expected := []struct {
		seconds float64
		mph     float64
	}{
		{seconds: 1.0, mph: 21.136364},
		{seconds: 1.005, mph: 21.031208},
		{seconds: 1.02, mph: 20.721925},
		{seconds: 1.05, mph: 20.129870},
	}

	for i, lane := range results.Lanes {
		if lane.Lane != i+1 {
			t.Errorf("Expected lane %d in position %d, got %d", i+1, i, lane.Lane)
		}

		if !lane.Finished {
			t.Errorf("Lane %d should have finished", lane.Lane)
			continue
		}

		if math.Abs(lane.ElapsedSeconds-expected[i].seconds) > 1e-9 {
			t.Errorf("Lane %d: expected %.8fs, got %.8fs", lane.Lane, expected[i].seconds, lane.ElapsedSeconds)
		}

		if math.Abs(lane.SpeedMPH-expected[i].mph) > 1e-4 {
			t.Errorf("Lane %d: expected %.6f mph, got %.6f mph", lane.Lane, expected[i].mph, lane.SpeedMPH)
		}
	}

	if phase := ct.controller.Phase(); phase != PhaseIdle {
		t.Errorf("Expected phase idle after completion, got %s", phase)
	}

	if !ct.board.Start.Enabled() {
		t.Error("Start line should be re-enabled after the race")
	}

	if ct.controller.LastResults() != results {
		t.Error("LastResults should return the completed race")
	}

	if winner, ok := results.Winner(); !ok || winner.Lane != 1 {
		t.Errorf("Expected lane 1 to win, got %d (ok: %t)", winner.Lane, ok)
	}

	starts, finishes := ct.reporter.counts()

	if starts != 1 || finishes != 1 {
		t.Errorf("Expected one start and one finish report, got %d and %d", starts, finishes)
	}

	if ct.reporter.starts[0].RaceID != results.RaceID {
		t.Error("Start and finish reports should share a race ID")
	}
}

func TestRaceTimeoutDisqualifiesLane(t *testing.T) {
	ct := newControllerTest(t, DefaultConfig())

	const startTick = 5000000

	ct.board.Clock.Set(1000)
	ct.startRace(startTick)

	ct.finishLane(1, startTick+72000000)
	ct.finishLane(2, startTick+73000000)
	ct.finishLane(4, startTick+80000000)

	ct.board.Clock.Advance(DefaultDisqualifiedTime)

	if results := ct.controller.Poll(); results != nil {
		t.Fatal("Race should not time out until the disqualification time has been exceeded")
	}

	ct.board.Clock.Advance(1)

	results := ct.controller.Poll()

	if results == nil {
		t.Fatal("Race did not time out")
	}

	if results.Reason != TimedOut {
		t.Errorf("Expected reason %s, got %s", TimedOut, results.Reason)
	}

	for _, lane := range results.Lanes {
		switch lane.Lane {
		case 3:
			if lane.Finished {
				t.Error("Lane 3 never fired and should be DNF")
			}

			if lane.SpeedMPH != 0 || lane.ElapsedSeconds != 0 {
				t.Errorf("DNF lane should have no time or speed, got %vs %vmph", lane.ElapsedSeconds, lane.SpeedMPH)
			}

			if lane.FinishTick != startTick {
				t.Errorf("DNF lane should hold the start tick, got %d", lane.FinishTick)
			}
		default:
			if !lane.Finished {
				t.Errorf("Lane %d should have finished", lane.Lane)
			}
		}
	}

	if results.NumFinished() != 3 {
		t.Errorf("Expected 3 finished lanes, got %d", results.NumFinished())
	}

	if got := testutil.ToFloat64(ct.metrics.laneDNFs[2]); got != 1 {
		t.Errorf("Expected one DNF recorded for lane 3, got %v", got)
	}

	if got := testutil.ToFloat64(ct.metrics.racesCompleted.WithLabelValues(TimedOut.String())); got != 1 {
		t.Errorf("Expected one timed out race, got %v", got)
	}
}

func TestRaceCounterWraparound(t *testing.T) {
	ct := newControllerTest(t, DefaultConfig())

	startTick := uint32(math.MaxUint32 - 1000)

	ct.startRace(startTick)

	for lane := 1; lane <= NumLanes; lane++ {
		ct.board.Counter.Set(startTick)
		ct.board.Counter.Advance(uint32(72000000 + lane*1000))
		ct.board.Lanes[lane-1].Trigger()
	}

	results := ct.controller.Poll()

	if results == nil {
		t.Fatal("Race did not complete")
	}

	for _, lane := range results.Lanes {
		if lane.FinishTick >= startTick {
			t.Fatalf("Test setup should wrap the counter, finish tick %d", lane.FinishTick)
		}

		expected := uint32(72000000 + lane.Lane*1000)

		if lane.ElapsedTicks != expected {
			t.Errorf("Lane %d: expected %d elapsed ticks, got %d", lane.Lane, expected, lane.ElapsedTicks)
		}

		if lane.ElapsedSeconds < 1 || lane.ElapsedSeconds > 1.001 {
			t.Errorf("Lane %d: expected about 1s, got %v", lane.Lane, lane.ElapsedSeconds)
		}
	}
}

func TestSecondEdgeDoesNotChangeFinish(t *testing.T) {
	ct := newControllerTest(t, DefaultConfig())

	ct.startRace(100)
	ct.finishLane(2, 72000100)
	ct.finishLane(2, 99000000)

	// call the handler directly too, as a line may deliver an edge which raced
	// with its own disable.
	ct.board.Counter.Set(123456789)
	ct.controller.detectors[1].OnEdge()

	if tick := ct.controller.detectors[1].FinishTick(); tick != 72000100 {
		t.Errorf("Expected the first finish tick to stick, got %d", tick)
	}

	ct.controller.Poll()

	if got := testutil.ToFloat64(ct.metrics.spuriousEdges[1]); got != 1 {
		t.Errorf("Expected one spurious edge on lane 2, got %v", got)
	}
}

func TestStartWhileRunningIsIgnored(t *testing.T) {
	ct := newControllerTest(t, DefaultConfig())

	ct.startRace(1000)
	ct.controller.Poll()

	ct.finishLane(1, 72001000)

	// the start line is disabled, so the edge is only latched.
	ct.startRace(50000000)

	// a handler invocation which slipped through is rejected by the phase.
	ct.controller.OnStartTrigger()

	if ct.controller.startTick != 1000 {
		t.Fatalf("Start tick changed during the race: %d", ct.controller.startTick)
	}

	if tick := ct.controller.detectors[0].FinishTick(); tick != 72001000 {
		t.Errorf("Lane 1 finish changed during a spurious start: %d", tick)
	}

	ct.finishLane(2, 72002000)
	ct.finishLane(3, 72003000)
	ct.finishLane(4, 72004000)

	results := ct.controller.Poll()

	if results == nil {
		t.Fatal("Race did not complete")
	}

	if results.Lanes[0].ElapsedTicks != 72000000 {
		t.Errorf("Expected lane 1 to be timed from the first start, got %d ticks", results.Lanes[0].ElapsedTicks)
	}

	if phase := ct.controller.Phase(); phase != PhaseIdle {
		t.Errorf("Latched start edge should have been cleared, phase is %s", phase)
	}

	if got := testutil.ToFloat64(ct.metrics.spuriousStarts); got != 1 {
		t.Errorf("Expected one spurious start, got %v", got)
	}

	starts, _ := ct.reporter.counts()

	if starts != 1 {
		t.Errorf("Expected one start report, got %d", starts)
	}
}

func TestRaceCompletesExactlyOnce(t *testing.T) {
	ct := newControllerTest(t, DefaultConfig())

	ct.board.Clock.Set(0)
	ct.startRace(0)

	for lane := 1; lane <= NumLanes; lane++ {
		ct.finishLane(lane, uint32(lane)*72000000)
	}

	// all lanes are finished and the timeout has elapsed: still one completion.
	ct.board.Clock.Advance(DefaultDisqualifiedTime * 2)

	completions := 0

	for i := 0; i < 10; i++ {
		if results := ct.controller.Poll(); results != nil {
			completions++

			if results.Reason != AllFinished {
				t.Errorf("Expected reason %s when every lane finished, got %s", AllFinished, results.Reason)
			}
		}
	}

	if completions != 1 {
		t.Errorf("Expected exactly one completion, got %d", completions)
	}

	_, finishes := ct.reporter.counts()

	if finishes != 1 {
		t.Errorf("Expected exactly one finish report, got %d", finishes)
	}

	if got := testutil.ToFloat64(ct.metrics.racesStarted); got != 1 {
		t.Errorf("Expected one race started, got %v", got)
	}
}

func TestLateEdgeDoesNotLeakIntoNextRace(t *testing.T) {
	ct := newControllerTest(t, DefaultConfig())

	ct.startRace(0)
	ct.finishLane(1, 72000000)
	ct.finishLane(2, 72000000)
	ct.finishLane(4, 72000000)

	ct.board.Clock.Advance(DefaultDisqualifiedTime + 1)

	if results := ct.controller.Poll(); results == nil || results.Reason != TimedOut {
		t.Fatal("Expected the first race to time out")
	}

	if ct.controller.detectors[2].Armed() {
		t.Fatal("Lane 3 should be disarmed once the race is over")
	}

	// lane 3's car arrives after the timeout.
	ct.finishLane(3, 900000000)

	ct.startRace(1000000000)
	ct.controller.Poll()

	for _, detector := range ct.controller.detectors {
		if !detector.Armed() {
			t.Errorf("Lane %d should be armed at the start of the second race", detector.Lane())
		}

		if detector.FinishTick() != 1000000000 {
			t.Errorf("Lane %d holds a stale finish tick %d", detector.Lane(), detector.FinishTick())
		}
	}

	ct.finishLane(3, 1072000000)

	if ct.controller.detectors[2].FinishTick() != 1072000000 {
		t.Error("Lane 3 should record its finish in the second race")
	}
}

func TestBackToBackRaces(t *testing.T) {
	ct := newControllerTest(t, DefaultConfig())

	var raceIDs []string

	for race := 0; race < 3; race++ {
		start := uint32(race) * 100000000

		ct.startRace(start)

		for lane := 1; lane <= NumLanes; lane++ {
			ct.finishLane(lane, start+uint32(lane)*36000000)
		}

		results := ct.controller.Poll()

		if results == nil {
			t.Fatalf("Race %d did not complete", race)
		}

		if results.StartTick != start {
			t.Errorf("Race %d: expected start tick %d, got %d", race, start, results.StartTick)
		}

		raceIDs = append(raceIDs, results.RaceID)
	}

	if raceIDs[0] == raceIDs[1] || raceIDs[1] == raceIDs[2] {
		t.Errorf("Each race should have its own ID: %v", raceIDs)
	}

	starts, finishes := ct.reporter.counts()

	if starts != 3 || finishes != 3 {
		t.Errorf("Expected three starts and finishes, got %d and %d", starts, finishes)
	}
}

func TestPollWhileIdle(t *testing.T) {
	ct := newControllerTest(t, DefaultConfig())

	ct.board.Clock.Advance(DefaultDisqualifiedTime * 10)

	if results := ct.controller.Poll(); results != nil {
		t.Error("Poll should do nothing while idle")
	}

	if ct.controller.LastResults() != nil {
		t.Error("No results should exist before the first race")
	}

	starts, finishes := ct.reporter.counts()

	if starts != 0 || finishes != 0 {
		t.Errorf("Expected no reports while idle, got %d starts and %d finishes", starts, finishes)
	}
}

func TestNewRaceControllerValidation(t *testing.T) {
	board := newControllerTest(t, DefaultConfig()).board

	t.Run("counter frequency mismatch", func(t *testing.T) {
		config := DefaultConfig()
		config.TickFrequency = 48000000

		if _, err := NewRaceController(config, board.HAL(), nil, testLogger(), nil); err == nil {
			t.Error("Expected an error when the board and config disagree on frequency")
		}
	})

	t.Run("timeout longer than counter period", func(t *testing.T) {
		config := DefaultConfig()
		config.DisqualifiedTime = 60 * 1000

		if _, err := NewRaceController(config, board.HAL(), nil, testLogger(), nil); err == nil {
			t.Error("Expected an error for a timeout which exceeds the counter period")
		}
	})

	t.Run("wrong number of lanes", func(t *testing.T) {
		full := board.HAL()
		short := *full
		short.Lanes = full.Lanes[:2]

		if _, err := NewRaceController(DefaultConfig(), &short, nil, testLogger(), nil); err == nil {
			t.Error("Expected an error for a two lane board")
		}
	})
}

func TestStartResetsDetectorLeftArmed(t *testing.T) {
	board := sim.NewBoard(NumLanes, DefaultTickFrequency)
	logger, hook := test.NewNullLogger()

	controller, err := NewRaceController(DefaultConfig(), board.HAL(), nil, logger, nil)

	if err != nil {
		t.Fatal(err)
	}

	if err := controller.Attach(); err != nil {
		t.Fatal(err)
	}

	controller.Enable()

	// lane 2 armed outside of a race, holding a stale value.
	if err := controller.detectors[1].Reset(42); err != nil {
		t.Fatal(err)
	}

	controller.detectors[1].Arm()

	board.Counter.Set(5000)
	board.Start.Trigger()

	if controller.resetFailures.Load() != 1 {
		t.Errorf("Expected one reset failure, got %d", controller.resetFailures.Load())
	}

	if tick := controller.detectors[1].FinishTick(); tick != 5000 {
		t.Errorf("Expected lane 2 to be reset to the start tick, got %d", tick)
	}

	if !controller.detectors[1].Armed() {
		t.Error("Lane 2 should be armed for the race")
	}

	countErrors := func() int {
		errorEntries := 0

		for _, entry := range hook.AllEntries() {
			if entry.Level == logrus.ErrorLevel {
				errorEntries++
			}
		}

		return errorEntries
	}

	controller.Poll()

	if got := countErrors(); got != 1 {
		t.Errorf("Expected the reset failure to be logged once, got %d error entries", got)
	}

	controller.Poll()

	if got := countErrors(); got != 1 {
		t.Errorf("Reset failure should not be logged again on the next poll, got %d error entries", got)
	}
}
