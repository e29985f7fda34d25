package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Amund211/raidlog/internal/adapters/cache"
	"github.com/Amund211/raidlog/internal/adapters/reportrepository"
	"github.com/Amund211/raidlog/internal/domain"
	"github.com/Amund211/raidlog/internal/logging"
	"github.com/Amund211/raidlog/internal/strutils"
)

type GetReportDetailWithCache func(ctx context.Context, reportID string) (*domain.ReportDetail, error)

func getReportDetailWithoutCache(
	ctx context.Context,
	repo reportrepository.ReportRepository,
	details DetailSubmitter,
	timeout time.Duration,
	reportID string,
) (*domain.ReportDetail, error) {
	logger := logging.FromContext(ctx)

	detail, err := repo.GetDetail(ctx, reportID)
	if err == nil {
		return detail, nil
	}
	if !errors.Is(err, domain.ErrReportNotFound) {
		// NOTE: ReportRepository implementations handle their own error reporting
		logger.WarnContext(ctx, "Failed to read stored detail, fetching from provider", "reportID", reportID, "error", err.Error())
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	detail, err = details.Submit(reportID).Wait(waitCtx)
	if err != nil {
		// NOTE: The coalescer logs failed fetches
		return nil, fmt.Errorf("could not fetch detail: %w", err)
	}

	return detail, nil
}

// Stored detail if the report has been imported, otherwise fetched on demand through the coalescer.
//
// Concurrent callers for the same id share one lookup. Every caller gets its own copy.
func BuildGetReportDetailWithCache(
	detailCache cache.Cache[*domain.ReportDetail],
	repo reportrepository.ReportRepository,
	details DetailSubmitter,
	timeout time.Duration,
) GetReportDetailWithCache {
	return func(ctx context.Context, reportID string) (*domain.ReportDetail, error) {
		if !strutils.ReportIDIsValid(reportID) {
			return nil, fmt.Errorf("%w: %q", domain.ErrInvalidReportID, reportID)
		}

		detail, _, err := cache.GetOrCreate(ctx, detailCache, reportID, func() (*domain.ReportDetail, error) {
			return getReportDetailWithoutCache(ctx, repo, details, timeout, reportID)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to cache.GetOrCreate report detail: %w", err)
		}

		return detail.Clone(), nil
	}
}
