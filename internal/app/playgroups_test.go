package app

import (
	"context"
	"testing"
	"time"

	"github.com/Amund211/raidlog/internal/domain"
	"github.com/Amund211/raidlog/internal/domaintest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var groupingStart = time.Date(2024, time.March, 1, 19, 0, 0, 0, time.UTC)

func TestGroupingEngine(t *testing.T) {
	t.Parallel()

	squad := domaintest.Players("squad", 10)

	t.Run("mostly the same squad on one day is one group", func(t *testing.T) {
		t.Parallel()

		engine := NewGroupingEngine()

		first := engine.AddEncounter(domaintest.NewEncounterBuilder("vg", groupingStart).WithPlayers(squad...).Build())
		// 3 of 10 replaced: 30% missing
		replaced := append(domaintest.Players("sub", 3), squad[3:]...)
		second := engine.AddEncounter(domaintest.NewEncounterBuilder("gors", groupingStart.Add(time.Hour)).WithPlayers(replaced...).Build())

		require.Same(t, first, second)
		require.Equal(t, int64(1), first.ID)
		require.Equal(t, []string{"vg", "gors"}, first.ReportIDs)
		require.Equal(t, 2, first.Stats.Encounters)
		// Matching keeps using the opening roster
		require.Equal(t, domain.NewRoster(squad...), first.Roster)
	})

	t.Run("half the squad replaced opens a new group", func(t *testing.T) {
		t.Parallel()

		engine := NewGroupingEngine()

		first := engine.AddEncounter(domaintest.NewEncounterBuilder("vg", groupingStart).WithPlayers(squad...).Build())
		replaced := append(domaintest.Players("sub", 5), squad[5:]...)
		second := engine.AddEncounter(domaintest.NewEncounterBuilder("gors", groupingStart.Add(time.Hour)).WithPlayers(replaced...).Build())

		require.NotSame(t, first, second)
		require.Equal(t, int64(2), second.ID)
		require.Equal(t, first.Day, second.Day)
		require.Equal(t, first.Key(), second.Key())
		require.Len(t, engine.Groups(), 2)
	})

	t.Run("same squad on another day opens a new group", func(t *testing.T) {
		t.Parallel()

		engine := NewGroupingEngine()

		first := engine.AddEncounter(domaintest.NewEncounterBuilder("vg", groupingStart).WithPlayers(squad...).Build())
		second := engine.AddEncounter(domaintest.NewEncounterBuilder("vg-2", groupingStart.Add(24*time.Hour)).WithPlayers(squad...).Build())

		require.NotSame(t, first, second)
	})

	t.Run("encounters without a roster share one group per day", func(t *testing.T) {
		t.Parallel()

		engine := NewGroupingEngine()

		first := engine.AddEncounter(domaintest.NewEncounterBuilder("vg", groupingStart).WithPlayers().Build())
		second := engine.AddEncounter(domaintest.NewEncounterBuilder("gors", groupingStart.Add(time.Hour)).WithPlayers().Build())
		known := engine.AddEncounter(domaintest.NewEncounterBuilder("sab", groupingStart.Add(2*time.Hour)).WithPlayers(squad...).Build())
		nextDay := engine.AddEncounter(domaintest.NewEncounterBuilder("vg-2", groupingStart.Add(24*time.Hour)).WithPlayers().Build())

		require.Same(t, first, second)
		require.Equal(t, []string{"vg", "gors"}, first.ReportIDs)
		require.NotSame(t, first, known)
		require.NotSame(t, first, nextDay)
		require.Len(t, engine.Groups(), 3)
	})

	t.Run("first matching group wins", func(t *testing.T) {
		t.Parallel()

		engine := NewGroupingEngine()

		a := engine.AddEncounter(domaintest.NewEncounterBuilder("a", groupingStart).WithPlayers("p1", "p2", "p3", "p4", "p5").Build())
		// 2 of 5 missing is exactly at the threshold
		b := engine.AddEncounter(domaintest.NewEncounterBuilder("b", groupingStart).WithPlayers("p3", "p4", "p5", "p6", "p7").Build())
		require.NotSame(t, a, b)

		// 1 of 5 missing from either group's roster
		mixed := engine.AddEncounter(domaintest.NewEncounterBuilder("c", groupingStart).WithPlayers("p2", "p3", "p4", "p5", "p6").Build())
		require.Same(t, a, mixed)
	})

	t.Run("asymmetric matching", func(t *testing.T) {
		t.Parallel()

		// A small squad fully contained in a bigger one joins it
		engine := NewGroupingEngine()
		big := engine.AddEncounter(domaintest.NewEncounterBuilder("big", groupingStart).WithPlayers(squad...).Build())
		small := engine.AddEncounter(domaintest.NewEncounterBuilder("small", groupingStart.Add(time.Hour)).WithPlayers(squad[:5]...).Build())
		require.Same(t, big, small)

		// The bigger squad does not join the smaller one's group
		engine = NewGroupingEngine()
		small = engine.AddEncounter(domaintest.NewEncounterBuilder("small", groupingStart).WithPlayers(squad[:5]...).Build())
		big = engine.AddEncounter(domaintest.NewEncounterBuilder("big", groupingStart.Add(time.Hour)).WithPlayers(squad...).Build())
		require.NotSame(t, big, small)
	})

	t.Run("statistics", func(t *testing.T) {
		t.Parallel()

		engine := NewGroupingEngine()

		engine.AddEncounter(domaintest.NewEncounterBuilder("kill", groupingStart.Add(time.Hour)).WithDuration(120 * time.Second).WithDPS(1000).Build())
		group := engine.AddEncounter(domaintest.NewEncounterBuilder("wipe", groupingStart).WithDuration(45 * time.Second).WithSuccess(false).WithDPS(0).Build())

		require.Equal(t, groupingStart, group.Stats.FirstEncounterTime)
		require.Equal(t, groupingStart.Add(time.Hour+120*time.Second), group.Stats.LastEncounterTime)
		require.Equal(t, 120*time.Second, group.Stats.SuccessfulEncounterTotalTime)
		require.Equal(t, 45*time.Second, group.Stats.FailedEncounterTotalTime)
		require.Equal(t, 1, group.Stats.SuccessfulEncounters)
		require.InDelta(t, 1000, group.Stats.AverageDPS(), 1e-9)
	})

	t.Run("roster-only mode", func(t *testing.T) {
		t.Parallel()

		engine := NewGroupingEngine(WithoutStats())
		group := engine.AddEncounter(domaintest.NewEncounterBuilder("vg", groupingStart).Build())
		group = engine.AddEncounter(domaintest.NewEncounterBuilder("gors", groupingStart).Build())

		require.Nil(t, group.Stats)
		require.Equal(t, []string{"vg", "gors"}, group.ReportIDs)
	})

	t.Run("days in the configured location", func(t *testing.T) {
		t.Parallel()

		oslo, err := time.LoadLocation("Europe/Oslo")
		require.NoError(t, err)

		// 23:30 and 00:30 UTC are both on March 2nd in Oslo
		late := time.Date(2024, time.March, 1, 23, 30, 0, 0, time.UTC)
		early := late.Add(time.Hour)

		utcEngine := NewGroupingEngine()
		a := utcEngine.AddEncounter(domaintest.NewEncounterBuilder("a", late).Build())
		b := utcEngine.AddEncounter(domaintest.NewEncounterBuilder("b", early).Build())
		require.NotSame(t, a, b)

		osloEngine := NewGroupingEngine(WithLocation(oslo))
		a = osloEngine.AddEncounter(domaintest.NewEncounterBuilder("a", late).Build())
		b = osloEngine.AddEncounter(domaintest.NewEncounterBuilder("b", early).Build())
		require.Same(t, a, b)
		require.Equal(t, domain.Day{Year: 2024, Month: time.March, Day: 2}, a.Day)
	})

	t.Run("groups are ordered by id", func(t *testing.T) {
		t.Parallel()

		engine := NewGroupingEngine()
		for i := range 5 {
			// A new day for every encounter
			engine.AddEncounter(domaintest.NewEncounterBuilder("r", groupingStart.Add(time.Duration(4-i)*24*time.Hour)).Build())
		}

		groups := engine.Groups()
		require.Len(t, groups, 5)
		for i, group := range groups {
			require.Equal(t, int64(i+1), group.ID)
		}
	})

	t.Run("evict", func(t *testing.T) {
		t.Parallel()

		engine := NewGroupingEngine()
		dayOne := engine.AddEncounter(domaintest.NewEncounterBuilder("a", groupingStart).Build())
		engine.AddEncounter(domaintest.NewEncounterBuilder("b", groupingStart).WithPlayers("other").Build())
		dayTwo := engine.AddEncounter(domaintest.NewEncounterBuilder("c", groupingStart.Add(24*time.Hour)).Build())

		require.Equal(t, 0, engine.EvictBefore(dayOne.Day))
		require.Equal(t, 2, engine.EvictBefore(dayTwo.Day))
		require.Equal(t, []*domain.PlayGroup{dayTwo}, engine.Groups())

		// An evicted day starts over with a fresh id
		reopened := engine.AddEncounter(domaintest.NewEncounterBuilder("d", groupingStart).Build())
		require.NotSame(t, dayOne, reopened)
		require.Equal(t, int64(4), reopened.ID)
	})

	t.Run("empty engine", func(t *testing.T) {
		t.Parallel()

		require.Empty(t, NewGroupingEngine().Groups())
	})
}

type mockedEncounterRepository struct {
	memoryReportRepository

	t          *testing.T
	encounters []domain.Encounter
	err        error
}

func (m *mockedEncounterRepository) GetEncounters(ctx context.Context, sourceToken string, start, end time.Time) ([]domain.Encounter, error) {
	m.t.Helper()
	require.Equal(m.t, "token", sourceToken)
	return m.encounters, m.err
}

func TestGetPlayGroups(t *testing.T) {
	t.Parallel()

	squad := domaintest.Players("squad", 10)
	other := domaintest.Players("other", 10)

	t.Run("groups stored encounters", func(t *testing.T) {
		t.Parallel()

		repo := &mockedEncounterRepository{
			t: t,
			// Out of order
			encounters: []domain.Encounter{
				domaintest.NewEncounterBuilder("c", groupingStart.Add(2*time.Hour)).WithPlayers(squad...).Build(),
				domaintest.NewEncounterBuilder("a", groupingStart).WithPlayers(squad...).Build(),
				domaintest.NewEncounterBuilder("b", groupingStart.Add(time.Hour)).WithPlayers(other...).Build(),
			},
		}

		groups, err := BuildGetPlayGroups(repo)(t.Context(), "token", groupingStart, groupingStart.Add(24*time.Hour), nil)
		require.NoError(t, err)
		require.Len(t, groups, 2)
		require.Equal(t, []string{"a", "c"}, groups[0].ReportIDs)
		require.Equal(t, []string{"b"}, groups[1].ReportIDs)
		require.NotNil(t, groups[0].Stats)
	})

	t.Run("no encounters", func(t *testing.T) {
		t.Parallel()

		repo := &mockedEncounterRepository{t: t, encounters: []domain.Encounter{}}
		groups, err := BuildGetPlayGroups(repo)(t.Context(), "token", groupingStart, groupingStart.Add(24*time.Hour), time.UTC)
		require.NoError(t, err)
		require.Empty(t, groups)
	})

	t.Run("repository error", func(t *testing.T) {
		t.Parallel()

		repo := &mockedEncounterRepository{t: t, err: assert.AnError}
		_, err := BuildGetPlayGroups(repo)(t.Context(), "token", groupingStart, groupingStart.Add(24*time.Hour), time.UTC)
		require.ErrorIs(t, err, assert.AnError)
	})
}
