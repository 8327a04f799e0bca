// Package timewindow computes the next instant at which a restricted stage may
// proceed, given whitelisted hour ranges and optional weekday restrictions.
package timewindow

import (
	"fmt"
	"sort"
	"time"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
)

// maxDayIncrements bounds the weekday search before the restriction is declared unsatisfiable.
const maxDayIncrements = 7

// TimeOfDay is an hour/minute pair within a single day.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) minutes() int { return t.Hour*60 + t.Minute }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// Validate rejects out-of-range hours or minutes.
func (t TimeOfDay) Validate() error {
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
		return execution.NewInvalidConfiguration(fmt.Sprintf("invalid time of day %02d:%02d", t.Hour, t.Minute), nil)
	}
	return nil
}

// Window is an inclusive [Start, End] range of the day.
type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

func (w Window) String() string { return w.Start.String() + "-" + w.End.String() }

// position returns -1 when t precedes the window, 0 when inside, 1 when after.
func (w Window) position(t TimeOfDay) int {
	switch {
	case t.minutes() < w.Start.minutes():
		return -1
	case t.minutes() <= w.End.minutes():
		return 0
	default:
		return 1
	}
}

// Normalize splits windows that wrap midnight into two non-wrapping windows
// and returns the result sorted by start time.
func Normalize(windows []Window) []Window {
	out := make([]Window, 0, len(windows)+1)
	for _, w := range windows {
		if w.Start.Hour > w.End.Hour {
			out = append(out,
				Window{Start: w.Start, End: TimeOfDay{Hour: 23, Minute: 59}},
				Window{Start: TimeOfDay{}, End: w.End},
			)
			continue
		}
		out = append(out, w)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start.minutes() != out[j].Start.minutes() {
			return out[i].Start.minutes() < out[j].Start.minutes()
		}
		return out[i].End.minutes() < out[j].End.minutes()
	})
	return out
}

// Calculator resolves scheduled times in a fixed location.
type Calculator struct {
	Location *time.Location
}

// NewCalculator returns a calculator for the given location, defaulting to UTC.
func NewCalculator(loc *time.Location) Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return Calculator{Location: loc}
}

// ScheduledTime returns the earliest instant at or after now that falls inside
// one of the windows on an allowed weekday. An empty window list with weekday
// restrictions allows the whole day; no windows and no weekdays means now.
func (c Calculator) ScheduledTime(now time.Time, windows []Window, days []time.Weekday) (time.Time, error) {
	for _, w := range windows {
		if err := w.Start.Validate(); err != nil {
			return time.Time{}, err
		}
		if err := w.End.Validate(); err != nil {
			return time.Time{}, err
		}
	}
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday {
			return time.Time{}, execution.NewInvalidConfiguration(fmt.Sprintf("invalid weekday %d", d), nil)
		}
	}
	if len(windows) == 0 && len(days) == 0 {
		return now, nil
	}
	if len(windows) == 0 {
		windows = []Window{{Start: TimeOfDay{}, End: TimeOfDay{Hour: 23, Minute: 59}}}
	}
	return c.calculate(now.In(c.location()), Normalize(windows), days, false)
}

func (c Calculator) calculate(candidate time.Time, windows []Window, days []time.Weekday, dayIncremented bool) (time.Time, error) {
	if len(days) > 0 {
		increments := 0
		for !containsDay(days, candidate.Weekday()) {
			if increments >= maxDayIncrements {
				return time.Time{}, execution.NewInvalidConfiguration("no allowed weekday found within a week", nil)
			}
			candidate = c.nextMidnight(candidate)
			increments++
		}
	}

	current := TimeOfDay{Hour: candidate.Hour(), Minute: candidate.Minute()}
	for _, w := range windows {
		switch w.position(current) {
		case -1:
			return time.Date(candidate.Year(), candidate.Month(), candidate.Day(), w.Start.Hour, w.Start.Minute, 0, 0, c.location()), nil
		case 0:
			return candidate, nil
		}
	}

	if dayIncremented {
		return time.Time{}, execution.NewInvalidConfiguration("incorrect time windows specified", nil)
	}
	return c.calculate(c.nextMidnight(candidate), windows, days, true)
}

func (c Calculator) nextMidnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, c.location())
}

func (c Calculator) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

func containsDay(days []time.Weekday, day time.Weekday) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

// StageType is the stage type injected ahead of stages that opt into
// execution windows.
const StageType = "restrictExecutionDuringTimeWindow"

// Stage context keys understood by the restriction stage.
const (
	ContextRestrict = "restrictExecutionDuringTimeWindow"
	ContextWindow   = "restrictedExecutionWindow"
)
