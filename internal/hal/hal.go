// Package hal describes the hardware the race timer needs: a free running tick
// counter, a coarse millisecond clock and a set of digital input lines which
// deliver edge callbacks.
package hal

import (
	"strings"

	"github.com/pkg/errors"
)

var ErrUnknownEdge = errors.New("hal: unknown edge")

type Edge uint8

const (
	RisingEdge Edge = iota + 1
	FallingEdge
	BothEdges
)

func (e Edge) String() string {
	switch e {
	case RisingEdge:
		return "rising"
	case FallingEdge:
		return "falling"
	case BothEdges:
		return "both"
	default:
		return "unknown"
	}
}

// ParseEdge converts a config value ("rising", "falling", "both") to an Edge.
func ParseEdge(s string) (Edge, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rising":
		return RisingEdge, nil
	case "falling", "":
		return FallingEdge, nil
	case "both":
		return BothEdges, nil
	default:
		return 0, errors.Wrapf(ErrUnknownEdge, "%q", s)
	}
}

func (e *Edge) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string

	if err := unmarshal(&s); err != nil {
		return err
	}

	edge, err := ParseEdge(s)

	if err != nil {
		return err
	}

	*e = edge

	return nil
}

// Line is a single digital input which can deliver edge notifications to one
// registered handler.
//
// Handlers run in an event context: they must return quickly, must not block
// and must not allocate. Delivery starts disabled. An edge seen while
// delivery is disabled is latched as pending and delivered on Enable unless
// ClearPending is called first.
type Line interface {
	Attach(edge Edge, handler func()) error
	Enable()
	Disable()
	ClearPending()
}

// TickCounter is a fixed frequency counter which wraps at 2^32.
type TickCounter interface {
	Ticks() uint32
	Frequency() uint64
}

// MillisClock is a coarse clock used for timeouts only.
type MillisClock interface {
	Millis() int64
}

// Board groups the inputs a four lane timer is wired to.
type Board struct {
	Counter TickCounter
	Clock   MillisClock
	Start   Line
	Lanes   []Line

	closeFn func() error
}

func NewBoard(counter TickCounter, clock MillisClock, start Line, lanes []Line, closeFn func() error) *Board {
	return &Board{
		Counter: counter,
		Clock:   clock,
		Start:   start,
		Lanes:   lanes,
		closeFn: closeFn,
	}
}

func (b *Board) Close() error {
	if b.closeFn == nil {
		return nil
	}

	return b.closeFn()
}
