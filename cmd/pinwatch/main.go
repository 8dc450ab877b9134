// Command pinwatch prints the level of each timer input once a second, for
// checking gate wiring before a race.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/periph/conn/gpio"

	"justapengu.in/derby/internal/hal/periph"
)

var (
	startPin string
	lanePins string
	pull     string
	interval time.Duration
)

func init() {
	defaults := periph.DefaultConfig()

	flag.StringVar(&startPin, "start", defaults.Start, "start gate pin")
	flag.StringVar(&lanePins, "lanes", strings.Join(defaults.Lanes, ","), "comma separated finish line pins, lane 1 first")
	flag.StringVar(&pull, "pull", defaults.Pull, "input pull: up, down or float")
	flag.DurationVar(&interval, "interval", time.Second, "time between reads")
	flag.Parse()
}

type namedPin struct {
	label string
	pin   gpio.PinIO
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if err := periph.Init(); err != nil {
		logger.WithError(err).Fatal("Could not initialise GPIO")
	}

	inputPull, err := periph.ParsePull(pull)

	if err != nil {
		logger.WithError(err).Fatal("Invalid pull")
	}

	var pins []namedPin

	start, err := periph.Lookup(startPin, inputPull, gpio.NoEdge)

	if err != nil {
		logger.WithError(err).Fatal("Could not open start pin")
	}

	pins = append(pins, namedPin{label: "Start", pin: start})

	for i, name := range strings.Split(lanePins, ",") {
		pin, err := periph.Lookup(strings.TrimSpace(name), inputPull, gpio.NoEdge)

		if err != nil {
			logger.WithError(err).Fatalf("Could not open lane %d pin", i+1)
		}

		pins = append(pins, namedPin{label: fmt.Sprintf("Lane %d", i+1), pin: pin})
	}

	logger.Infof("Reading %d pins every %s", len(pins), interval)

	for range time.Tick(interval) {
		for _, p := range pins {
			fmt.Fprintf(os.Stdout, "%s (%s): %s\n", p.label, p.pin.Name(), p.pin.Read())
		}

		fmt.Fprintln(os.Stdout, "====================")
	}
}
