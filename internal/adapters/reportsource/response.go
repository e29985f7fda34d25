package reportsource

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Amund211/raidlog/internal/domain"
	"github.com/goccy/go-json"
)

type uploadsResponse struct {
	Pages     int               `json:"pages"`
	UserToken string            `json:"userToken"`
	Uploads   []json.RawMessage `json:"uploads"`
}

type uploadEntry struct {
	ID            string `json:"id"`
	Permalink     string `json:"permalink"`
	UploadTime    int64  `json:"uploadTime"`
	EncounterTime int64  `json:"encounterTime"`
	Encounter     struct {
		Boss     string  `json:"boss"`
		BossID   int     `json:"bossId"`
		Success  bool    `json:"success"`
		Duration int64   `json:"duration"`
		CompDPS  float64 `json:"compDps"`
		IsCM     bool    `json:"isCm"`
	} `json:"encounter"`
}

func uploadPageFromResponse(data []byte, page int) (domain.UploadPage, error) {
	var response uploadsResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return domain.UploadPage{}, fmt.Errorf("failed to unmarshal uploads response: %w", err)
	}

	uploads := make([]domain.UploadSummary, 0, len(response.Uploads))
	for i, raw := range response.Uploads {
		var entry uploadEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return domain.UploadPage{}, fmt.Errorf("failed to unmarshal upload %d: %w", i, err)
		}
		if entry.ID == "" {
			return domain.UploadPage{}, fmt.Errorf("upload %d is missing an id", i)
		}

		uploads = append(uploads, domain.UploadSummary{
			ReportID:      entry.ID,
			Permalink:     entry.Permalink,
			UploadedAt:    time.Unix(entry.UploadTime, 0).UTC(),
			EncounterTime: time.Unix(entry.EncounterTime, 0).UTC(),
			BossName:      entry.Encounter.Boss,
			Success:       entry.Encounter.Success,
			Duration:      time.Duration(entry.Encounter.Duration) * time.Second,
			CompositeDPS:  entry.Encounter.CompDPS,
			Metadata:      slices.Clone([]byte(raw)),
		})
	}

	return domain.UploadPage{
		Uploads:    uploads,
		Page:       page,
		TotalPages: response.Pages,
		UserToken:  response.UserToken,
	}, nil
}

type eliteInsightsLog struct {
	Error string `json:"error"`

	FightName    string                `json:"fightName"`
	TriggerID    int                   `json:"triggerID"`
	Success      bool                  `json:"success"`
	IsCM         bool                  `json:"isCM"`
	DurationMS   *int64                `json:"durationMS"`
	Duration     string                `json:"duration"`
	TimeStartStd string                `json:"timeStartStd"`
	Players      []eliteInsightsPlayer `json:"players"`
}

type eliteInsightsPlayer struct {
	Account     string `json:"account"`
	Name        string `json:"name"`
	FriendlyNPC bool   `json:"friendlyNPC"`
	NotInSquad  bool   `json:"notInSquad"`
	DPSAll      []struct {
		DPS float64 `json:"dps"`
	} `json:"dpsAll"`
}

func (p eliteInsightsPlayer) inSquad() bool {
	return !p.FriendlyNPC && !p.NotInSquad
}

func (p eliteInsightsPlayer) displayName() string {
	if p.Account != "" {
		return p.Account
	}
	return p.Name
}

var timeStartLayouts = []string{
	"2006-01-02 15:04:05 -07:00",
	"2006-01-02 15:04:05 -07",
	"2006-01-02 15:04:05 -0700",
}

func parseTimeStart(value string) (time.Time, error) {
	for _, layout := range timeStartLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unknown time format: %q", value)
}

// Durations like "05m 12s 345ms" or "1h 02m 03s 004ms"
func parseEliteInsightsDuration(value string) (time.Duration, error) {
	compact := strings.ReplaceAll(value, " ", "")
	if compact == "" {
		return 0, fmt.Errorf("empty duration")
	}
	duration, err := time.ParseDuration(compact)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", value, err)
	}
	return duration, nil
}

func reportDetailFromResponse(reportID string, data []byte) (*domain.ReportDetail, error) {
	var log eliteInsightsLog
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("failed to unmarshal elite insights log: %w", err)
	}

	if log.Error != "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrReportNotFound, log.Error)
	}

	startedAt, err := parseTimeStart(log.TimeStartStd)
	if err != nil {
		return nil, fmt.Errorf("failed to parse start time: %w", err)
	}

	var duration time.Duration
	if log.DurationMS != nil {
		duration = time.Duration(*log.DurationMS) * time.Millisecond
	} else {
		duration, err = parseEliteInsightsDuration(log.Duration)
		if err != nil {
			return nil, err
		}
	}

	compositeDPS := 0.0
	players := make([]string, 0, len(log.Players))
	for _, player := range log.Players {
		if !player.inSquad() {
			continue
		}
		if len(player.DPSAll) > 0 {
			compositeDPS += player.DPSAll[0].DPS
		}
		if name := player.displayName(); name != "" {
			players = append(players, name)
		}
	}
	slices.Sort(players)
	players = slices.Compact(players)

	return &domain.ReportDetail{
		ReportID:     reportID,
		BossName:     log.FightName,
		BossID:       log.TriggerID,
		IsCM:         log.IsCM,
		Success:      log.Success,
		StartedAt:    startedAt,
		Duration:     duration,
		CompositeDPS: compositeDPS,
		Players:      players,
		Raw:          data,
	}, nil
}
