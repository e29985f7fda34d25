package reportsource

import (
	"context"

	"github.com/Amund211/raidlog/internal/domain"
)

type ReportSource interface {
	// One page (1-based) of the uploads made with the given user token, newest first
	//
	// Raises domain.ErrTemporarilyUnavailable if the provider is rate limiting us or is having issues. The call may be retried later.
	ListUploads(ctx context.Context, userToken string, page int) (domain.UploadPage, error)

	// Raises domain.ErrReportNotFound if the provider does not know the report
	//
	// Raises domain.ErrInvalidReportID if the id could never be a valid report id
	//
	// Raises domain.ErrTemporarilyUnavailable if the provider is rate limiting us or is having issues. The call may be retried later.
	GetDetail(ctx context.Context, reportID string) (*domain.ReportDetail, error)
}
