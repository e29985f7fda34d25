package domaintest

import (
	"fmt"
	"time"

	"github.com/Amund211/raidlog/internal/domain"
)

type encounterBuilder struct {
	encounter *domain.Encounter
}

func (eb *encounterBuilder) WithBoss(boss string) *encounterBuilder {
	eb.encounter.BossName = boss
	return eb
}

func (eb *encounterBuilder) WithDuration(duration time.Duration) *encounterBuilder {
	eb.encounter.Duration = duration
	return eb
}

func (eb *encounterBuilder) WithSuccess(success bool) *encounterBuilder {
	eb.encounter.Success = success
	return eb
}

func (eb *encounterBuilder) WithDPS(dps float64) *encounterBuilder {
	eb.encounter.CompositeDPS = dps
	return eb
}

func (eb *encounterBuilder) WithPlayers(players ...string) *encounterBuilder {
	eb.encounter.Roster = domain.NewRoster(players...)
	return eb
}

func (eb *encounterBuilder) Build() domain.Encounter {
	encounter := *eb.encounter
	encounter.Roster = domain.NewRoster(eb.encounter.Roster.Names()...)
	return encounter
}

func NewEncounterBuilder(reportID string, startedAt time.Time) *encounterBuilder {
	return &encounterBuilder{
		encounter: &domain.Encounter{
			ReportID:     reportID,
			BossName:     "Vale Guardian",
			StartedAt:    startedAt,
			Duration:     2 * time.Minute,
			Success:      true,
			CompositeDPS: 100_000,
			Roster:       Squad("player", 10),
		},
	}
}

// n players named <prefix>.1 ... <prefix>.n
func Players(prefix string, n int) []string {
	players := make([]string, n)
	for i := range n {
		players[i] = fmt.Sprintf("%s.%d", prefix, i+1)
	}
	return players
}

func Squad(prefix string, n int) domain.Roster {
	return domain.NewRoster(Players(prefix, n)...)
}
