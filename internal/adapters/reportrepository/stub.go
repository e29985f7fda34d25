package reportrepository

import (
	"context"
	"fmt"
	"time"

	"github.com/Amund211/raidlog/internal/domain"
)

type StubReportRepository struct{}

func (p *StubReportRepository) GetLastImportedID(ctx context.Context, sourceToken string) (string, error) {
	return "", nil
}

func (p *StubReportRepository) GetStoredReportIDs(ctx context.Context, sourceToken string, reportIDs []string) ([]string, error) {
	return []string{}, nil
}

func (p *StubReportRepository) BulkUpsert(ctx context.Context, sourceToken string, reports []domain.ImportedReport) error {
	return nil
}

func (p *StubReportRepository) AdvanceCheckpoint(ctx context.Context, sourceToken string, upload domain.UploadSummary) error {
	return nil
}

func (p *StubReportRepository) GetEncounters(ctx context.Context, sourceToken string, start, end time.Time) ([]domain.Encounter, error) {
	return []domain.Encounter{}, nil
}

func (p *StubReportRepository) GetDetail(ctx context.Context, reportID string) (*domain.ReportDetail, error) {
	return nil, fmt.Errorf("%w: stub repository stores nothing", domain.ErrReportNotFound)
}

func NewStubReportRepository() *StubReportRepository {
	return &StubReportRepository{}
}
