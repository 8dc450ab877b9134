// Package sim provides a software board for tests and for running the timer
// without any wiring attached.
package sim

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"justapengu.in/derby/internal/hal"
)

var ErrHandlerAttached = errors.New("sim: line already has a handler")

type Counter struct {
	ticks     atomic.Uint32
	frequency uint64
}

func NewCounter(frequency uint64) *Counter {
	return &Counter{frequency: frequency}
}

func (c *Counter) Ticks() uint32 {
	return c.ticks.Load()
}

func (c *Counter) Frequency() uint64 {
	return c.frequency
}

func (c *Counter) Set(ticks uint32) {
	c.ticks.Store(ticks)
}

// Advance moves the counter forward, wrapping at 2^32.
func (c *Counter) Advance(ticks uint32) {
	c.ticks.Add(ticks)
}

type Clock struct {
	millis atomic.Int64
}

func (c *Clock) Millis() int64 {
	return c.millis.Load()
}

func (c *Clock) Set(millis int64) {
	c.millis.Store(millis)
}

func (c *Clock) Advance(millis int64) {
	c.millis.Add(millis)
}

// Line behaves like a microcontroller external interrupt line: while enabled,
// Trigger calls the handler straight away; while disabled, Trigger sets a
// pending flag which fires on the next Enable unless cleared.
type Line struct {
	name string

	mutex   sync.Mutex
	edge    hal.Edge
	handler func()
	enabled bool
	pending bool
}

func NewLine(name string) *Line {
	return &Line{name: name}
}

func (l *Line) Name() string {
	return l.name
}

func (l *Line) Attach(edge hal.Edge, handler func()) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.handler != nil {
		return ErrHandlerAttached
	}

	l.edge = edge
	l.handler = handler

	return nil
}

func (l *Line) Enable() {
	l.mutex.Lock()
	l.enabled = true
	fire := l.pending && l.handler != nil
	l.pending = false
	handler := l.handler
	l.mutex.Unlock()

	if fire {
		handler()
	}
}

func (l *Line) Disable() {
	l.mutex.Lock()
	l.enabled = false
	l.mutex.Unlock()
}

func (l *Line) ClearPending() {
	l.mutex.Lock()
	l.pending = false
	l.mutex.Unlock()
}

func (l *Line) Enabled() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return l.enabled
}

func (l *Line) Pending() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return l.pending
}

// Trigger simulates the monitored edge arriving on the line.
func (l *Line) Trigger() {
	l.mutex.Lock()

	if !l.enabled || l.handler == nil {
		l.pending = true
		l.mutex.Unlock()
		return
	}

	handler := l.handler
	l.mutex.Unlock()

	// the handler is called without the lock held, as it will usually
	// disable this line.
	handler()
}

// Board is a complete simulated four lane board.
type Board struct {
	Counter *Counter
	Clock   *Clock
	Start   *Line
	Lanes   []*Line

	board *hal.Board
}

func NewBoard(numLanes int, frequency uint64) *Board {
	b := &Board{
		Counter: NewCounter(frequency),
		Clock:   &Clock{},
		Start:   NewLine("start"),
	}

	lanes := make([]hal.Line, numLanes)

	for i := 0; i < numLanes; i++ {
		line := NewLine(fmt.Sprintf("lane%d", i+1))
		b.Lanes = append(b.Lanes, line)
		lanes[i] = line
	}

	b.board = hal.NewBoard(b.Counter, b.Clock, b.Start, lanes, nil)

	return b
}

// HAL returns the board as seen by the timer.
func (b *Board) HAL() *hal.Board {
	return b.board
}
