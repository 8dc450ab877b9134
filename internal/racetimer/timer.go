package racetimer

import (
	"context"
	"sync"
	"time"

	"github.com/hako/durafmt"
	"github.com/sirupsen/logrus"

	"justapengu.in/derby/internal/hal"
)

type Logger = logrus.FieldLogger

// Timer drives a RaceController from a cooperative poll loop.
type Timer struct {
	config     Config
	board      *hal.Board
	controller *RaceController
	reporter   Reporter
	logger     Logger

	cfn context.CancelFunc
	ctx context.Context

	stopOnce sync.Once
	stopped  chan error
	loopDone chan struct{}
}

func NewTimer(ctx context.Context, config Config, board *hal.Board, logger Logger, reporter Reporter, metrics *Metrics) (*Timer, error) {
	if reporter == nil {
		reporter = nilReporter{}
	}

	controller, err := NewRaceController(config, board, reporter, logger, metrics)

	if err != nil {
		return nil, err
	}

	ctx, cfn := context.WithCancel(ctx)

	return &Timer{
		config:     config,
		board:      board,
		controller: controller,
		reporter:   reporter,
		logger:     logger,
		ctx:        ctx,
		cfn:        cfn,
		stopped:    make(chan error, 1),
		loopDone:   make(chan struct{}),
	}, nil
}

func (t *Timer) Controller() *RaceController {
	return t.controller
}

func (t *Timer) Start() error {
	t.logger.Infof("Initialising %d lane timer: track length %.1fft, counter %dHz (wraps every %s), lanes disqualified after %s",
		NumLanes,
		t.config.TrackLengthFeet,
		t.config.TickFrequency,
		durafmt.Parse(hal.CounterPeriod(t.config.TickFrequency)).LimitFirstN(2),
		durafmt.Parse(t.config.DisqualifiedDuration()),
	)

	if err := t.reporter.Init(t.logger); err != nil {
		return err
	}

	if err := t.controller.Attach(); err != nil {
		return err
	}

	t.controller.Enable()

	go t.loop()

	return nil
}

// Stop cancels the poll loop. Only the first call has any effect.
func (t *Timer) Stop() (err error) {
	t.stopOnce.Do(func() {
		defer func() {
			t.stopped <- err
		}()

		t.logger.Infof("Shutting down race timer")

		t.cfn()
	})

	return err
}

// Run starts the timer and blocks until Stop is called and the poll loop has
// exited.
func (t *Timer) Run() error {
	if err := t.Start(); err != nil {
		return err
	}

	err := <-t.stopped

	<-t.loopDone

	return err
}

func (t *Timer) loop() {
	defer close(t.loopDone)

	activeSleepTime := t.config.pollInterval()
	idleSleepTime := t.config.idlePollInterval()

	sleepTime := idleSleepTime

	for {
		select {
		case <-t.ctx.Done():
			t.logger.Debugf("Stopping race timer loop")
			return
		default:
			t.controller.Poll()

			if t.controller.Phase() == PhaseRunning {
				if sleepTime != activeSleepTime {
					t.logger.Debugf("Race running. Switching to active poll interval")
					sleepTime = activeSleepTime
				}
			} else if sleepTime != idleSleepTime {
				t.logger.Debugf("Race over. Switching to idle poll interval")
				sleepTime = idleSleepTime
			}

			time.Sleep(sleepTime)
		}
	}
}
