package reportrepository

import (
	"context"
	"time"

	"github.com/Amund211/raidlog/internal/domain"
)

type ReportRepository interface {
	// Report id of the token's checkpoint: every upload listed after it has been imported.
	// Empty when no checkpoint has been recorded.
	GetLastImportedID(ctx context.Context, sourceToken string) (string, error)

	// The subset of reportIDs already stored for the token
	GetStoredReportIDs(ctx context.Context, sourceToken string, reportIDs []string) ([]string, error)

	// Insert or update the reports for the token. Does not touch the checkpoint.
	BulkUpsert(ctx context.Context, sourceToken string, reports []domain.ImportedReport) error

	// Move the token's checkpoint to upload. The checkpoint never moves backwards.
	AdvanceCheckpoint(ctx context.Context, sourceToken string, upload domain.UploadSummary) error

	// Encounters for the token that started within [start, end], ordered by start time
	GetEncounters(ctx context.Context, sourceToken string, start, end time.Time) ([]domain.Encounter, error)

	// A stored detail for the report, regardless of which token imported it
	//
	// Raises domain.ErrReportNotFound if no token has imported the report
	GetDetail(ctx context.Context, reportID string) (*domain.ReportDetail, error)
}
