package reporters

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"justapengu.in/derby/internal/racetimer"
)

const separator = "================================"

// startBannerLines pushes the previous results off a small terminal when a
// new race starts.
const startBannerLines = 15

// Console prints race events in the timer's traditional serial console format.
type Console struct {
	out io.Writer

	// TruncateSpeed prints whole miles per hour, as older timer firmware did.
	TruncateSpeed bool

	mutex    sync.Mutex
	heading  *color.Color
	finished *color.Color
	dnf      *color.Color
}

func NewConsole(out io.Writer, truncateSpeed bool, noColor bool) *Console {
	c := &Console{
		out:           out,
		TruncateSpeed: truncateSpeed,
		heading:       color.New(color.Bold),
		finished:      color.New(color.FgGreen),
		dnf:           color.New(color.FgRed),
	}

	if noColor {
		c.heading.DisableColor()
		c.finished.DisableColor()
		c.dnf.DisableColor()
	}

	return c
}

func (c *Console) Init(_ racetimer.Logger) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.waiting()
}

func (c *Console) OnRaceStarted(_ racetimer.RaceStart) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for i := 0; i < startBannerLines; i++ {
		if _, err := fmt.Fprintln(c.out, separator); err != nil {
			return err
		}
	}

	_, err := c.heading.Fprintln(c.out, "Race started!")

	return err
}

func (c *Console) OnRaceFinished(results racetimer.RaceResults) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, err := c.heading.Fprintln(c.out, "Race Finished!"); err != nil {
		return err
	}

	if _, err := fmt.Fprintln(c.out, "= Lane Times in seconds ="); err != nil {
		return err
	}

	for _, lane := range results.Lanes {
		if _, err := fmt.Fprintf(c.out, "Lane %d: ", lane.Lane); err != nil {
			return err
		}

		var err error

		if lane.Finished {
			_, err = c.finished.Fprintln(c.out, c.formatTime(lane))
		} else {
			_, err = c.dnf.Fprintln(c.out, "DNF")
		}

		if err != nil {
			return err
		}
	}

	return c.waiting()
}

func (c *Console) formatTime(lane racetimer.LaneResult) string {
	if c.TruncateSpeed {
		return fmt.Sprintf("%.8f (%d mph)", lane.ElapsedSeconds, int64(lane.SpeedMPH))
	}

	return fmt.Sprintf("%.8f (%.6f mph)", lane.ElapsedSeconds, lane.SpeedMPH)
}

func (c *Console) waiting() error {
	if _, err := fmt.Fprintln(c.out, separator); err != nil {
		return err
	}

	_, err := fmt.Fprintln(c.out, "Waiting for race to start.")

	return err
}
