package availability

import (
	"errors"
	"fmt"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Grid is the set of bookable start times of every day, interpreted in Location.
type Grid struct {
	Times    []string
	Location *time.Location
}

// NewGrid returns start times from start to end inclusive, every step.
// The reference configuration 08:00..17:00 hourly yields 10 slots.
func NewGrid(start, end string, step time.Duration, loc *time.Location) (Grid, error) {
	if loc == nil {
		loc = time.UTC
	}
	if step <= 0 {
		return Grid{}, errors.New("slot step must be positive")
	}
	s, err := time.Parse(TimeLayout, start)
	if err != nil {
		return Grid{}, fmt.Errorf("slot start %q: %w", start, err)
	}
	e, err := time.Parse(TimeLayout, end)
	if err != nil {
		return Grid{}, fmt.Errorf("slot end %q: %w", end, err)
	}
	if e.Before(s) {
		return Grid{}, fmt.Errorf("slot end %s is before start %s", end, start)
	}
	var times []string
	for t := s; !t.After(e); t = t.Add(step) {
		times = append(times, t.Format(TimeLayout))
	}
	return Grid{Times: times, Location: loc}, nil
}

// Capacity is the number of slots per day.
func (g Grid) Capacity() int { return len(g.Times) }

func (g Grid) Contains(hhmm string) bool {
	for _, t := range g.Times {
		if t == hhmm {
			return true
		}
	}
	return false
}

// At resolves date ("2006-01-02") and hhmm on the grid to an instant.
func (g Grid) At(date, hhmm string) (time.Time, error) {
	if !g.Contains(hhmm) {
		return time.Time{}, fmt.Errorf("time %q is not a bookable slot", hhmm)
	}
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, date+" "+hhmm, g.location())
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

func (g Grid) location() *time.Location {
	if g.Location == nil {
		return time.UTC
	}
	return g.Location
}

type Day struct {
	Date      string `json:"date"`
	Available bool   `json:"available"`
}

type Slot struct {
	Date      string `json:"date"`
	Time      string `json:"time"`
	Available bool   `json:"available"`
}

// occupancy groups occupied instants by local date, keeping only those
// that fall on the grid.
func occupancy(g Grid, occupied []time.Time) map[string]map[string]bool {
	loc := g.location()
	out := map[string]map[string]bool{}
	for _, o := range occupied {
		local := o.In(loc)
		hhmm := local.Format(TimeLayout)
		if local.Second() != 0 || local.Nanosecond() != 0 || !g.Contains(hhmm) {
			continue
		}
		date := local.Format(DateLayout)
		if out[date] == nil {
			out[date] = map[string]bool{}
		}
		out[date][hhmm] = true
	}
	return out
}

// MonthAvailability returns one Day for every calendar day of the month.
// A day is available iff at least one grid slot is free on it.
func MonthAvailability(year int, month time.Month, g Grid, occupied []time.Time) []Day {
	byDate := occupancy(g, occupied)
	first := time.Date(year, month, 1, 0, 0, 0, 0, g.location())
	days := make([]Day, 0, 31)
	for d := first; d.Month() == month; d = d.AddDate(0, 0, 1) {
		date := d.Format(DateLayout)
		days = append(days, Day{Date: date, Available: len(byDate[date]) < g.Capacity()})
	}
	return days
}

// DaySlots lists every grid slot of date with its availability.
func DaySlots(date time.Time, g Grid, occupied []time.Time) []Slot {
	ds := date.In(g.location()).Format(DateLayout)
	taken := occupancy(g, occupied)[ds]
	slots := make([]Slot, 0, len(g.Times))
	for _, t := range g.Times {
		slots = append(slots, Slot{Date: ds, Time: t, Available: !taken[t]})
	}
	return slots
}

// MonthRange returns [first day, first day of next month) in loc.
func MonthRange(year int, month time.Month, loc *time.Location) (time.Time, time.Time) {
	from := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return from, from.AddDate(0, 1, 0)
}
