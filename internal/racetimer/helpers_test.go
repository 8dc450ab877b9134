package racetimer

import (
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"justapengu.in/derby/internal/hal/sim"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return logger
}

type recordingReporter struct {
	mutex    sync.Mutex
	inits    int
	starts   []RaceStart
	finishes []RaceResults

	finished chan RaceResults
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{finished: make(chan RaceResults, 16)}
}

func (r *recordingReporter) Init(_ Logger) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.inits++

	return nil
}

func (r *recordingReporter) OnRaceStarted(start RaceStart) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.starts = append(r.starts, start)

	return nil
}

func (r *recordingReporter) OnRaceFinished(results RaceResults) error {
	r.mutex.Lock()
	r.finishes = append(r.finishes, results)
	r.mutex.Unlock()

	r.finished <- results

	return nil
}

func (r *recordingReporter) counts() (starts, finishes int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return len(r.starts), len(r.finishes)
}

type controllerTest struct {
	controller *RaceController
	board      *sim.Board
	reporter   *recordingReporter
	metrics    *Metrics
}

func newControllerTest(t *testing.T, config Config) *controllerTest {
	t.Helper()

	board := sim.NewBoard(NumLanes, config.TickFrequency)
	reporter := newRecordingReporter()

	metrics, err := NewMetrics(nil)

	if err != nil {
		t.Fatal(err)
	}

	controller, err := NewRaceController(config, board.HAL(), reporter, testLogger(), metrics)

	if err != nil {
		t.Fatal(err)
	}

	if err := controller.Attach(); err != nil {
		t.Fatal(err)
	}

	controller.Enable()

	return &controllerTest{
		controller: controller,
		board:      board,
		reporter:   reporter,
		metrics:    metrics,
	}
}

// finishLane moves the counter to tick and fires the lane's finish line.
func (ct *controllerTest) finishLane(lane int, tick uint32) {
	ct.board.Counter.Set(tick)
	ct.board.Lanes[lane-1].Trigger()
}

func (ct *controllerTest) startRace(tick uint32) {
	ct.board.Counter.Set(tick)
	ct.board.Start.Trigger()
}
