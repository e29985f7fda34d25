package domain

import (
	"time"
)

// An encounter joins a group when fewer than this share of its own roster is missing from the group's roster
const ROSTER_DIFFERENCE_THRESHOLD = 0.4

// Encounters from one calendar day played by (mostly) the same squad
type PlayGroup struct {
	ID  int64
	Day Day

	// Roster of the encounter that opened the group. Never extended by later encounters.
	Roster Roster

	ReportIDs []string

	// nil when the group was created in roster-only mode
	Stats *GroupStats
}

// Hash key for the group. Only the day is used, groups with equal keys may still be different sessions.
func (g *PlayGroup) Key() Day {
	return g.Day
}

// Whether an encounter on day with the given roster belongs to this group.
//
// NOTE: Asymmetric. The difference is measured relative to the candidate's roster, so
// matching A against B's group can give a different answer than B against A's group.
//
// Encounters without a known roster only match a group opened by another such encounter on the same day.
func (g *PlayGroup) Matches(day Day, roster Roster) bool {
	if g.Day != day {
		return false
	}

	if roster.Len() == 0 {
		return g.Roster.Len() == 0
	}

	missing := roster.MissingFrom(g.Roster)
	return float64(missing) < ROSTER_DIFFERENCE_THRESHOLD*float64(roster.Len())
}

func (g *PlayGroup) Absorb(encounter Encounter) {
	g.ReportIDs = append(g.ReportIDs, encounter.ReportID)
	if g.Stats != nil {
		g.Stats.AddEncounter(encounter)
	}
}

// Running, append-only aggregates for one PlayGroup. Not safe for concurrent use.
type GroupStats struct {
	// Bounds over all folded encounters. Only meaningful when Encounters > 0.
	FirstEncounterTime time.Time
	LastEncounterTime  time.Time

	Encounters                   int
	SuccessfulEncounters         int
	SuccessfulEncounterTotalTime time.Duration
	FailedEncounterTotalTime     time.Duration

	CumulativeDPS float64
	ValidDPSCount int
}

func (s *GroupStats) AddEncounter(encounter Encounter) {
	start := encounter.StartedAt
	end := encounter.EndedAt()

	// The zero value acts as the +inf/-inf sentinels: the first fold sets both bounds
	if s.Encounters == 0 || start.Before(s.FirstEncounterTime) {
		s.FirstEncounterTime = start
	}
	if s.Encounters == 0 || end.After(s.LastEncounterTime) {
		s.LastEncounterTime = end
	}
	s.Encounters++

	// Missing dps readings are left out of the average instead of counting as 0
	if encounter.CompositeDPS > 0 {
		s.CumulativeDPS += encounter.CompositeDPS
		s.ValidDPSCount++
	}

	if encounter.Success {
		s.SuccessfulEncounterTotalTime += encounter.Duration
		s.SuccessfulEncounters++
	} else {
		s.FailedEncounterTotalTime += encounter.Duration
	}
}

func (s *GroupStats) AverageDPS() float64 {
	if s.ValidDPSCount == 0 {
		return 0
	}
	return s.CumulativeDPS / float64(s.ValidDPSCount)
}
