package racetimer

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Reporter receives race lifecycle events from the poll loop.
type Reporter interface {
	Init(logger Logger) error

	OnRaceStarted(start RaceStart) error
	OnRaceFinished(results RaceResults) error
}

type multiReporter struct {
	reporters []Reporter
}

func MultiReporter(reporters ...Reporter) Reporter {
	return &multiReporter{reporters: reporters}
}

func (mr *multiReporter) Init(logger Logger) error {
	g, _ := errgroup.WithContext(context.Background())

	for _, reporter := range mr.reporters {
		reporter := reporter
		g.Go(func() error {
			return reporter.Init(logger)
		})
	}

	return g.Wait()
}

func (mr *multiReporter) OnRaceStarted(start RaceStart) error {
	g, _ := errgroup.WithContext(context.Background())

	for _, reporter := range mr.reporters {
		reporter := reporter
		g.Go(func() error {
			return reporter.OnRaceStarted(start)
		})
	}

	return g.Wait()
}

func (mr *multiReporter) OnRaceFinished(results RaceResults) error {
	g, _ := errgroup.WithContext(context.Background())

	for _, reporter := range mr.reporters {
		reporter := reporter
		g.Go(func() error {
			return reporter.OnRaceFinished(results)
		})
	}

	return g.Wait()
}

type nilReporter struct{}

func (n nilReporter) Init(_ Logger) error {
	return nil
}

func (n nilReporter) OnRaceStarted(_ RaceStart) error {
	return nil
}

func (n nilReporter) OnRaceFinished(_ RaceResults) error {
	return nil
}
