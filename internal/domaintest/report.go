package domaintest

import (
	"fmt"
	"time"

	"github.com/Amund211/raidlog/internal/domain"
)

func NewUpload(reportID string, uploadedAt time.Time) domain.UploadSummary {
	return domain.UploadSummary{
		ReportID:      reportID,
		Permalink:     fmt.Sprintf("https://dps.report/%s", reportID),
		UploadedAt:    uploadedAt,
		EncounterTime: uploadedAt.Add(-time.Minute),
		BossName:      "Vale Guardian",
		Success:       true,
		Duration:      2 * time.Minute,
		CompositeDPS:  100_000,
		Metadata:      []byte(fmt.Sprintf(`{"id":"%s"}`, reportID)),
	}
}

func NewDetail(reportID string, startedAt time.Time) *domain.ReportDetail {
	return &domain.ReportDetail{
		ReportID:     reportID,
		BossName:     "Vale Guardian",
		BossID:       15438,
		Success:      true,
		StartedAt:    startedAt,
		Duration:     2 * time.Minute,
		CompositeDPS: 100_000,
		Players:      Players("player", 10),
		Raw:          []byte(fmt.Sprintf(`{"fightName":"Vale Guardian","id":"%s"}`, reportID)),
	}
}
