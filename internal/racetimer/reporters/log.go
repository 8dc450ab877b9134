package reporters

import (
	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
	"github.com/sirupsen/logrus"

	"justapengu.in/derby/internal/racetimer"
)

// Log writes one structured log entry per race event.
type Log struct {
	logger racetimer.Logger
}

func NewLog() *Log {
	return &Log{}
}

func (l *Log) Init(logger racetimer.Logger) error {
	l.logger = logger

	return nil
}

func (l *Log) OnRaceStarted(start racetimer.RaceStart) error {
	l.logger.WithFields(logrus.Fields{
		"race_id":    start.RaceID,
		"start_tick": start.StartTick,
	}).Info("Race started")

	return nil
}

func (l *Log) OnRaceFinished(results racetimer.RaceResults) error {
	fields := logrus.Fields{
		"race_id":  results.RaceID,
		"reason":   results.Reason.String(),
		"duration": durafmt.Parse(results.Duration).String(),
		"finished": results.NumFinished(),
	}

	if winner, ok := results.Winner(); ok {
		fields["winner"] = winner.Lane
	}

	l.logger.WithFields(fields).Info("Race finished")

	places := results.Places()

	for i, lane := range results.Lanes {
		entry := l.logger.WithFields(logrus.Fields{
			"race_id":       results.RaceID,
			"lane":          lane.Lane,
			"elapsed_ticks": lane.ElapsedTicks,
		})

		if lane.Finished {
			entry.WithFields(logrus.Fields{
				"elapsed_seconds": lane.ElapsedSeconds,
				"speed_mph":       lane.SpeedMPH,
				"place":           humanize.Ordinal(places[i]),
			}).Info("Lane finished")
		} else {
			entry.Warn("Lane did not finish")
		}
	}

	if debugEnabled(l.logger) {
		l.logger.Debugf("Race results: %s", spew.Sdump(results))
	}

	return nil
}

func debugEnabled(logger racetimer.Logger) bool {
	switch l := logger.(type) {
	case *logrus.Logger:
		return l.IsLevelEnabled(logrus.DebugLevel)
	case *logrus.Entry:
		return l.Logger.IsLevelEnabled(logrus.DebugLevel)
	default:
		return false
	}
}
