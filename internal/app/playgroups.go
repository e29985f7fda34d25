package app

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Amund211/raidlog/internal/adapters/reportrepository"
	"github.com/Amund211/raidlog/internal/domain"
)

// Sorts a stream of encounters into play groups. Not safe for concurrent use.
type GroupingEngine struct {
	location  *time.Location
	withStats bool

	lastID int64

	// Candidate groups per day, in creation order
	byDay map[domain.Day][]*domain.PlayGroup
}

type GroupingOption func(*GroupingEngine)

// Calendar days are taken in loc. Defaults to UTC.
func WithLocation(loc *time.Location) GroupingOption {
	return func(e *GroupingEngine) {
		e.location = loc
	}
}

// Roster-only mode: groups get no statistics
func WithoutStats() GroupingOption {
	return func(e *GroupingEngine) {
		e.withStats = false
	}
}

func NewGroupingEngine(opts ...GroupingOption) *GroupingEngine {
	e := &GroupingEngine{
		location:  time.UTC,
		withStats: true,
		byDay:     make(map[domain.Day][]*domain.PlayGroup),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Add the encounter to the first group of its day that it matches, or open a new group for it.
func (e *GroupingEngine) AddEncounter(encounter domain.Encounter) *domain.PlayGroup {
	day := domain.DayOf(encounter.StartedAt, e.location)

	for _, group := range e.byDay[day] {
		if group.Matches(day, encounter.Roster) {
			group.Absorb(encounter)
			return group
		}
	}

	e.lastID++
	group := &domain.PlayGroup{
		ID:     e.lastID,
		Day:    day,
		Roster: encounter.Roster,
	}
	if e.withStats {
		group.Stats = &domain.GroupStats{}
	}
	group.Absorb(encounter)

	e.byDay[group.Key()] = append(e.byDay[group.Key()], group)

	return group
}

// All open groups ordered by id
func (e *GroupingEngine) Groups() []*domain.PlayGroup {
	groups := []*domain.PlayGroup{}
	for _, dayGroups := range e.byDay {
		groups = append(groups, dayGroups...)
	}
	slices.SortFunc(groups, func(a, b *domain.PlayGroup) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return groups
}

// Close all groups from days before day. Returns the number of groups removed.
func (e *GroupingEngine) EvictBefore(day domain.Day) int {
	evicted := 0
	for groupDay, groups := range e.byDay {
		if groupDay.Before(day) {
			evicted += len(groups)
			delete(e.byDay, groupDay)
		}
	}
	return evicted
}

type GetPlayGroups func(ctx context.Context, sourceToken string, start, end time.Time, loc *time.Location) ([]*domain.PlayGroup, error)

func BuildGetPlayGroups(repo reportrepository.ReportRepository) GetPlayGroups {
	return func(ctx context.Context, sourceToken string, start, end time.Time, loc *time.Location) ([]*domain.PlayGroup, error) {
		if loc == nil {
			loc = time.UTC
		}

		encounters, err := repo.GetEncounters(ctx, sourceToken, start, end)
		if err != nil {
			// NOTE: ReportRepository implementations handle their own error reporting
			return nil, fmt.Errorf("could not get encounters: %w", err)
		}

		// Listing order from the repository is by start time, keep it stable if it isn't
		slices.SortStableFunc(encounters, func(a, b domain.Encounter) int {
			return a.StartedAt.Compare(b.StartedAt)
		})

		engine := NewGroupingEngine(WithLocation(loc))
		for _, encounter := range encounters {
			engine.AddEncounter(encounter)
		}

		return engine.Groups(), nil
	}
}
