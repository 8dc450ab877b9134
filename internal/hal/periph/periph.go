// Package periph wires the timer to Linux GPIO pins using periph.io.
package periph

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"

	"justapengu.in/derby/internal/hal"
)

// watchTimeout bounds each WaitForEdge call so that watchers notice Close.
const watchTimeout = 250 * time.Millisecond

var ErrHandlerAttached = errors.New("periph: line already has a handler")

type Config struct {
	Start string   `json:"start" yaml:"start"`
	Lanes []string `json:"lanes" yaml:"lanes"`
	Pull  string   `json:"pull" yaml:"pull"`
}

// DefaultConfig matches the usual Raspberry Pi wiring: start gate on GPIO2,
// lanes 1 to 4 on GPIO5, 6, 13 and 19, inputs pulled up.
func DefaultConfig() Config {
	return Config{
		Start: "GPIO2",
		Lanes: []string{"GPIO5", "GPIO6", "GPIO13", "GPIO19"},
		Pull:  "up",
	}
}

func ParsePull(s string) (gpio.Pull, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "":
		return gpio.PullUp, nil
	case "down":
		return gpio.PullDown, nil
	case "float", "none":
		return gpio.Float, nil
	default:
		return gpio.PullNoChange, errors.Errorf("periph: unknown pull %q", s)
	}
}

func convertEdge(edge hal.Edge) (gpio.Edge, error) {
	switch edge {
	case hal.RisingEdge:
		return gpio.RisingEdge, nil
	case hal.FallingEdge:
		return gpio.FallingEdge, nil
	case hal.BothEdges:
		return gpio.BothEdges, nil
	default:
		return gpio.NoEdge, errors.Errorf("periph: unsupported edge %s", edge)
	}
}

// Init loads the periph host drivers. It is safe to call more than once.
func Init() error {
	if _, err := host.Init(); err != nil {
		return errors.Wrap(err, "periph: could not initialise host drivers")
	}

	return nil
}

// Lookup finds a pin by name and configures it as an input.
func Lookup(name string, pull gpio.Pull, edge gpio.Edge) (gpio.PinIO, error) {
	pin := gpioreg.ByName(name)

	if pin == nil {
		return nil, errors.Errorf("periph: no GPIO pin named: %s", name)
	}

	if err := pin.In(pull, edge); err != nil {
		return nil, errors.Wrapf(err, "periph: could not configure pin %s as input", name)
	}

	return pin, nil
}

// Line delivers edges from one GPIO pin. A goroutine per line waits for edges
// and either calls the handler or latches the edge as pending.
type Line struct {
	ctx  context.Context
	name string
	pull gpio.Pull
	pin  gpio.PinIO

	handler func()
	enabled atomic.Bool
	pending atomic.Bool
}

func newLine(ctx context.Context, name string, pull gpio.Pull) *Line {
	return &Line{
		ctx:  ctx,
		name: name,
		pull: pull,
	}
}

func (l *Line) Attach(edge hal.Edge, handler func()) error {
	if l.handler != nil {
		return ErrHandlerAttached
	}

	gpioEdge, err := convertEdge(edge)

	if err != nil {
		return err
	}

	pin, err := Lookup(l.name, l.pull, gpioEdge)

	if err != nil {
		return err
	}

	l.pin = pin
	l.handler = handler

	go l.watch()

	return nil
}

func (l *Line) watch() {
	for {
		select {
		case <-l.ctx.Done():
			return
		default:
			if !l.pin.WaitForEdge(watchTimeout) {
				continue
			}

			if l.enabled.Load() {
				l.handler()
			} else {
				l.pending.Store(true)
			}
		}
	}
}

func (l *Line) Enable() {
	l.enabled.Store(true)

	if l.pending.Swap(false) && l.handler != nil {
		l.handler()
	}
}

func (l *Line) Disable() {
	l.enabled.Store(false)
}

func (l *Line) ClearPending() {
	l.pending.Store(false)
}

func (l *Line) halt() error {
	if l.pin == nil {
		return nil
	}

	return l.pin.Halt()
}

// Open resolves the configured pins and returns a board backed by the host's
// monotonic clock. Pins are configured when the timer attaches its handlers.
func Open(config Config, frequency uint64) (*hal.Board, error) {
	if config.Start == "" || len(config.Lanes) == 0 {
		return nil, errors.New("periph: start and lane pins must be configured")
	}

	pull, err := ParsePull(config.Pull)

	if err != nil {
		return nil, err
	}

	if err := Init(); err != nil {
		return nil, err
	}

	if gpioreg.ByName(config.Start) == nil {
		return nil, errors.Errorf("periph: no GPIO pin named: %s", config.Start)
	}

	ctx, cfn := context.WithCancel(context.Background())

	start := newLine(ctx, config.Start, pull)
	lines := []*Line{start}

	var lanes []hal.Line

	for _, name := range config.Lanes {
		if gpioreg.ByName(name) == nil {
			cfn()
			return nil, errors.Errorf("periph: no GPIO pin named: %s", name)
		}

		lane := newLine(ctx, name, pull)
		lines = append(lines, lane)
		lanes = append(lanes, lane)
	}

	closeFn := func() error {
		cfn()

		var firstErr error

		for _, line := range lines {
			if err := line.halt(); err != nil && firstErr == nil {
				firstErr = errors.Wrapf(err, "periph: could not halt pin %s", line.name)
			}
		}

		return firstErr
	}

	return hal.NewBoard(hal.NewMonotonicCounter(frequency), hal.NewSystemClock(), start, lanes, closeFn), nil
}
