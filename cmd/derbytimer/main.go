package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"justapengu.in/derby/internal/hal"
	"justapengu.in/derby/internal/hal/periph"
	"justapengu.in/derby/internal/hal/sim"
	"justapengu.in/derby/internal/racetimer"
	"justapengu.in/derby/internal/racetimer/reporters"
)

var (
	configPath string
	simulate   bool
)

func init() {
	flag.StringVar(&configPath, "c", "./config.yml", "config path")
	flag.BoolVar(&simulate, "simulate", false, "run without GPIO. type 's' then enter to start a race, '1'-'4' to finish a lane")
}

func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	// console results go to stdout, so keep logs off it.
	logger.SetOutput(os.Stderr)

	config, found, err := readConfig(configPath)

	if err != nil {
		logger.WithError(err).Fatalf("Could not read config at %s", configPath)
	}

	level, err := logrus.ParseLevel(config.LogLevel)

	if err != nil {
		logger.WithError(err).Fatalf("Unknown log level: %s", config.LogLevel)
	}

	logger.SetLevel(level)

	if !found {
		logger.Warnf("No config found at %s, using defaults", configPath)
	}

	var board *hal.Board

	if simulate {
		board = openKeyboardBoard(config.Timer.TickFrequency, logger)
	} else {
		board, err = periph.Open(config.Pins, config.Timer.TickFrequency)

		if err != nil {
			logger.WithError(err).Fatal("Could not open GPIO pins")
		}
	}

	// run closes the board before returning, so exiting here leaves no pins
	// configured.
	if err := run(config, board, logger); err != nil {
		logger.WithError(err).Fatal("Could not run timer")
	}

	logger.Infof("Timer stopped. Exiting")
}

// run drives the timer on board until it is stopped, then closes the board.
func run(config *FileConfig, board *hal.Board, logger racetimer.Logger) (err error) {
	defer func() {
		if closeErr := board.Close(); closeErr != nil {
			logger.WithError(closeErr).Error("Could not close board")

			if err == nil {
				err = closeErr
			}
		}
	}()

	registry := prometheus.NewRegistry()

	if err := registry.Register(prometheus.NewGoCollector()); err != nil {
		return errors.Wrap(err, "could not register go collector")
	}

	metrics, err := racetimer.NewMetrics(registry)

	if err != nil {
		return errors.Wrap(err, "could not register metrics")
	}

	if config.Metrics.ListenAddress != "" {
		go serveMetrics(config.Metrics.ListenAddress, registry, logger)
	}

	reporter := racetimer.MultiReporter(
		reporters.NewConsole(os.Stdout, config.Console.TruncateSpeed, config.Console.NoColor),
		reporters.NewLog(),
	)

	timer, err := racetimer.NewTimer(context.Background(), config.Timer, board, logger, reporter, metrics)

	if err != nil {
		return errors.Wrap(err, "could not initialise timer")
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	defer signal.Stop(c)

	go func() {
		for range c {
			if err := timer.Stop(); err != nil {
				logger.WithError(err).Error("Could not stop timer")
			}
		}
	}()

	if simulate {
		go readKeyboard(os.Stdin, board, timer, logger)
	}

	return timer.Run()
}

func serveMetrics(addr string, registry *prometheus.Registry, logger racetimer.Logger) {
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		logger.Debugf("Could not find HTTP response for URL: %s", r.URL.String())

		http.NotFound(w, r)
	})

	logger.Infof("Metrics listening on %s/metrics", addr)

	if err := http.ListenAndServe(addr, router); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Error("Metrics server stopped")
	}
}

func openKeyboardBoard(frequency uint64, logger racetimer.Logger) *hal.Board {
	logger.Infof("Simulating GPIO: 's' starts a race, '1'-'%d' finish a lane, 'q' quits", racetimer.NumLanes)

	var lanes []hal.Line

	for i := 0; i < racetimer.NumLanes; i++ {
		lanes = append(lanes, sim.NewLine("lane"+strconv.Itoa(i+1)))
	}

	return hal.NewBoard(
		hal.NewMonotonicCounter(frequency),
		hal.NewSystemClock(),
		sim.NewLine("start"),
		lanes,
		nil,
	)
}

func readKeyboard(r io.Reader, board *hal.Board, timer *racetimer.Timer, logger racetimer.Logger) {
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		for _, key := range strings.TrimSpace(scanner.Text()) {
			switch {
			case key == 's':
				board.Start.(*sim.Line).Trigger()
			case key == 'q':
				_ = timer.Stop()
				return
			case key >= '1' && key < '1'+racetimer.NumLanes:
				board.Lanes[key-'1'].(*sim.Line).Trigger()
			default:
				logger.Warnf("Unknown key: %q", key)
			}
		}
	}
}
