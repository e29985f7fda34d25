package domain

import (
	"fmt"
	"slices"
	"time"
)

type Encounter struct {
	ReportID     string
	BossName     string
	StartedAt    time.Time
	Duration     time.Duration
	Success      bool
	CompositeDPS float64
	Roster       Roster
}

func (e Encounter) EndedAt() time.Time {
	return e.StartedAt.Add(e.Duration)
}

// A calendar date without a time component. Comparable, so it can be used as a map key.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

func DayOf(t time.Time, loc *time.Location) Day {
	year, month, day := t.In(loc).Date()
	return Day{Year: year, Month: month, Day: day}
}

func (d Day) Before(other Day) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Set of player display names
type Roster map[string]struct{}

func NewRoster(names ...string) Roster {
	roster := make(Roster, len(names))
	for _, name := range names {
		roster[name] = struct{}{}
	}
	return roster
}

func (r Roster) Len() int {
	return len(r)
}

func (r Roster) Contains(name string) bool {
	_, ok := r[name]
	return ok
}

// |r \ other|
func (r Roster) MissingFrom(other Roster) int {
	missing := 0
	for name := range r {
		if !other.Contains(name) {
			missing++
		}
	}
	return missing
}

func (r Roster) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
