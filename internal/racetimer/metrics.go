package racetimer

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "derby"

// Metrics are resolved to concrete collectors up front so that edge handlers
// only ever touch atomic counters.
type Metrics struct {
	racesStarted   prometheus.Counter
	racesCompleted *prometheus.CounterVec
	spuriousStarts prometheus.Counter
	laneFinishes   [NumLanes]prometheus.Counter
	laneDNFs       [NumLanes]prometheus.Counter
	spuriousEdges  [NumLanes]prometheus.Counter
	elapsedSeconds [NumLanes]prometheus.Observer
}

// NewMetrics creates the timer's collectors and registers them with reg. A nil
// Registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	racesStarted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "races_started_total",
		Help:      "Number of races started by the start gate.",
	})

	racesCompleted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "races_completed_total",
		Help:      "Number of races completed, by completion reason.",
	}, []string{"reason"})

	spuriousStarts := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "spurious_starts_total",
		Help:      "Start gate edges ignored because a race was already in progress.",
	})

	laneFinishes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "lane_finishes_total",
		Help:      "Number of recorded finishes per lane.",
	}, []string{"lane"})

	laneDNFs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "lane_dnf_total",
		Help:      "Number of races in which a lane did not finish.",
	}, []string{"lane"})

	spuriousEdges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "spurious_edges_total",
		Help:      "Finish line edges ignored because the lane was not armed.",
	}, []string{"lane"})

	elapsedSeconds := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "lane_elapsed_seconds",
		Help:      "Finish times per lane.",
		Buckets:   []float64{1, 1.5, 2, 2.5, 3, 3.5, 4, 5, 7.5, 10, 15, 20},
	}, []string{"lane"})

	if reg != nil {
		for _, collector := range []prometheus.Collector{racesStarted, racesCompleted, spuriousStarts, laneFinishes, laneDNFs, spuriousEdges, elapsedSeconds} {
			if err := reg.Register(collector); err != nil {
				return nil, err
			}
		}
	}

	m := &Metrics{
		racesStarted:   racesStarted,
		racesCompleted: racesCompleted,
		spuriousStarts: spuriousStarts,
	}

	for i := 0; i < NumLanes; i++ {
		lane := strconv.Itoa(i + 1)

		m.laneFinishes[i] = laneFinishes.WithLabelValues(lane)
		m.laneDNFs[i] = laneDNFs.WithLabelValues(lane)
		m.spuriousEdges[i] = spuriousEdges.WithLabelValues(lane)
		m.elapsedSeconds[i] = elapsedSeconds.WithLabelValues(lane)
	}

	for _, reason := range []CompletionReason{AllFinished, TimedOut} {
		racesCompleted.WithLabelValues(reason.String())
	}

	return m, nil
}

func (m *Metrics) raceCompleted(results *RaceResults) {
	m.racesCompleted.WithLabelValues(results.Reason.String()).Inc()

	for i, lane := range results.Lanes {
		if lane.Finished {
			m.laneFinishes[i].Inc()
			m.elapsedSeconds[i].Observe(lane.ElapsedSeconds)
		} else {
			m.laneDNFs[i].Inc()
		}
	}
}
