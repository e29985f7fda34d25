package ports

import (
	"fmt"
	"time"

	"github.com/Amund211/raidlog/internal/domain"
	"github.com/goccy/go-json"
)

type reportDetailResponse struct {
	ReportID     string          `json:"reportId"`
	BossName     string          `json:"bossName"`
	BossID       int             `json:"bossId"`
	IsCM         bool            `json:"isCm"`
	Success      bool            `json:"success"`
	StartedAt    time.Time       `json:"startedAt"`
	DurationMS   int64           `json:"durationMs"`
	CompositeDPS float64         `json:"compositeDps"`
	Players      []string        `json:"players"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

func ReportDetailToResponseData(detail *domain.ReportDetail, includeRaw bool) ([]byte, error) {
	response := reportDetailResponse{
		ReportID:     detail.ReportID,
		BossName:     detail.BossName,
		BossID:       detail.BossID,
		IsCM:         detail.IsCM,
		Success:      detail.Success,
		StartedAt:    detail.StartedAt,
		DurationMS:   detail.Duration.Milliseconds(),
		CompositeDPS: detail.CompositeDPS,
		Players:      detail.Players,
	}
	if response.Players == nil {
		response.Players = []string{}
	}
	if includeRaw && len(detail.Raw) > 0 {
		response.Raw = detail.Raw
	}

	data, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report detail: %w", err)
	}
	return data, nil
}

type groupStatsResponse struct {
	FirstEncounterTime           time.Time `json:"firstEncounterTime"`
	LastEncounterTime            time.Time `json:"lastEncounterTime"`
	Encounters                   int       `json:"encounters"`
	SuccessfulEncounters         int       `json:"successfulEncounters"`
	SuccessfulEncounterTotalTime float64   `json:"successfulEncounterTotalTimeSeconds"`
	FailedEncounterTotalTime     float64   `json:"failedEncounterTotalTimeSeconds"`
	AverageDPS                   float64   `json:"averageDps"`
}

type playGroupResponse struct {
	ID        int64               `json:"id"`
	Day       string              `json:"day"`
	Roster    []string            `json:"roster"`
	ReportIDs []string            `json:"reportIds"`
	Stats     *groupStatsResponse `json:"stats"`
}

func PlayGroupsToResponseData(groups []*domain.PlayGroup) ([]byte, error) {
	response := make([]playGroupResponse, 0, len(groups))
	for _, group := range groups {
		converted := playGroupResponse{
			ID:        group.ID,
			Day:       group.Day.String(),
			Roster:    group.Roster.Names(),
			ReportIDs: group.ReportIDs,
		}
		if converted.ReportIDs == nil {
			converted.ReportIDs = []string{}
		}
		if group.Stats != nil {
			converted.Stats = &groupStatsResponse{
				FirstEncounterTime:           group.Stats.FirstEncounterTime,
				LastEncounterTime:            group.Stats.LastEncounterTime,
				Encounters:                   group.Stats.Encounters,
				SuccessfulEncounters:         group.Stats.SuccessfulEncounters,
				SuccessfulEncounterTotalTime: group.Stats.SuccessfulEncounterTotalTime.Seconds(),
				FailedEncounterTotalTime:     group.Stats.FailedEncounterTotalTime.Seconds(),
				AverageDPS:                   group.Stats.AverageDPS(),
			}
		}
		response = append(response, converted)
	}

	data, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal play groups: %w", err)
	}
	return data, nil
}
