package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Amund211/raidlog/internal/adapters/reportrepository"
	"github.com/Amund211/raidlog/internal/adapters/reportsource"
	"github.com/Amund211/raidlog/internal/adapters/tokenregistry"
	"github.com/Amund211/raidlog/internal/coalescer"
	"github.com/Amund211/raidlog/internal/domain"
	"github.com/Amund211/raidlog/internal/logging"
	"github.com/Amund211/raidlog/internal/reporting"
	"github.com/Amund211/raidlog/internal/strutils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type DetailSubmitter interface {
	Submit(reportID string) *coalescer.Request
}

// Outcome of one token's import pass
type ImportSummary struct {
	// Redacted
	SourceToken string `json:"sourceToken"`

	PagesScanned      int  `json:"pagesScanned"`
	Imported          int  `json:"imported"`
	AlreadyStored     int  `json:"alreadyStored"`
	Failed            int  `json:"failed"`
	FailedBatches     int  `json:"failedBatches"`
	ReachedCheckpoint bool `json:"reachedCheckpoint"`

	// Report id the checkpoint was moved to in this pass
	Checkpoint string `json:"checkpoint,omitempty"`

	// Set when the pass for this token could not run at all, or could not record its progress
	Error string `json:"error,omitempty"`
}

type importerMetricsCollection struct {
	importedReports metric.Int64Counter
	failedReports   metric.Int64Counter
	failedBatches   metric.Int64Counter
	pagesScanned    metric.Int64Counter
}

func setupImporterMetrics(meter metric.Meter) (importerMetricsCollection, error) {
	importedReports, err := meter.Int64Counter("importer/imported_reports")
	if err != nil {
		return importerMetricsCollection{}, fmt.Errorf("failed to create imported reports metric: %w", err)
	}

	failedReports, err := meter.Int64Counter("importer/failed_reports")
	if err != nil {
		return importerMetricsCollection{}, fmt.Errorf("failed to create failed reports metric: %w", err)
	}

	failedBatches, err := meter.Int64Counter("importer/failed_batches")
	if err != nil {
		return importerMetricsCollection{}, fmt.Errorf("failed to create failed batches metric: %w", err)
	}

	pagesScanned, err := meter.Int64Counter("importer/pages_scanned")
	if err != nil {
		return importerMetricsCollection{}, fmt.Errorf("failed to create pages scanned metric: %w", err)
	}

	return importerMetricsCollection{
		importedReports: importedReports,
		failedReports:   failedReports,
		failedBatches:   failedBatches,
		pagesScanned:    pagesScanned,
	}, nil
}

// Pulls the uploads each registered token has made since the last pass and stores their detail.
type UploadsImporter struct {
	registry tokenregistry.TokenRegistry
	source   reportsource.ReportSource
	repo     reportrepository.ReportRepository
	details  DetailSubmitter

	// Passes are serialized
	mu sync.Mutex

	tracer  trace.Tracer
	metrics importerMetricsCollection
}

func NewUploadsImporter(
	registry tokenregistry.TokenRegistry,
	source reportsource.ReportSource,
	repo reportrepository.ReportRepository,
	details DetailSubmitter,
) (*UploadsImporter, error) {
	metrics, err := setupImporterMetrics(otel.Meter("raidlog/importer"))
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	return &UploadsImporter{
		registry: registry,
		source:   source,
		repo:     repo,
		details:  details,
		tracer:   otel.Tracer("raidlog/importer"),
		metrics:  metrics,
	}, nil
}

// Run one pass over all registered tokens, one token at a time.
//
// Never fails: every problem is logged and reported, and shows up in the summaries.
func (i *UploadsImporter) RunOnce(ctx context.Context) []ImportSummary {
	i.mu.Lock()
	defer i.mu.Unlock()

	ctx = reporting.AddHubToContext(logging.WithComponent(ctx, "importer"), "importer")
	ctx, span := i.tracer.Start(ctx, "Importer.RunOnce")
	defer span.End()

	logger := logging.FromContext(ctx)

	tokens, err := i.registry.ListTokens(ctx)
	if err != nil {
		reporting.Report(ctx, fmt.Errorf("failed to list source tokens: %w", err))
		return []ImportSummary{}
	}

	logger.InfoContext(ctx, "Starting import pass", "tokens", len(tokens))

	summaries := make([]ImportSummary, 0, len(tokens))
	for _, token := range tokens {
		if ctx.Err() != nil {
			logger.WarnContext(ctx, "Import pass cancelled", "remainingTokens", len(tokens)-len(summaries))
			break
		}
		summaries = append(summaries, i.importToken(ctx, token))
	}

	return summaries
}

// Uploads listed before the checkpoint id, and whether the checkpoint was on the page
func uploadsBeforeCheckpoint(uploads []domain.UploadSummary, lastImportedID string) ([]domain.UploadSummary, bool) {
	if lastImportedID == "" {
		return uploads, false
	}

	for index, upload := range uploads {
		if upload.ReportID == lastImportedID {
			return uploads[:index], true
		}
	}
	return uploads, false
}

type uploadOutcome struct {
	upload domain.UploadSummary
	// Stored, or confirmed to no longer exist at the source
	settled bool
}

// The newest upload the checkpoint can move to: every upload from the oldest listed up to it is settled.
//
// outcomes are in listing order, newest first.
func checkpointCandidate(outcomes []uploadOutcome) (domain.UploadSummary, bool) {
	var candidate domain.UploadSummary
	found := false
	for index := len(outcomes) - 1; index >= 0; index-- {
		if !outcomes[index].settled {
			break
		}
		candidate = outcomes[index].upload
		found = true
	}
	return candidate, found
}

func (i *UploadsImporter) importToken(ctx context.Context, token string) ImportSummary {
	redacted := strutils.RedactToken(token)

	ctx, span := i.tracer.Start(ctx, "Importer.importToken", trace.WithAttributes(attribute.String("sourceToken", redacted)))
	defer span.End()

	ctx = logging.AddMetaToContext(ctx, slog.String("sourceToken", redacted))
	ctx = reporting.AddExtrasToContext(ctx, map[string]string{"sourceToken": redacted})
	logger := logging.FromContext(ctx)

	summary := ImportSummary{SourceToken: redacted}

	lastImportedID, err := i.repo.GetLastImportedID(ctx, token)
	if err != nil {
		// NOTE: ReportRepository implementations handle their own error reporting
		// Without the checkpoint we can't tell which uploads are new
		logger.ErrorContext(ctx, "Skipping token, could not read checkpoint", "error", err.Error())
		summary.Error = "could not read checkpoint"
		return summary
	}

	// Every upload newer than the checkpoint seen in this pass, newest first
	outcomes := []uploadOutcome{}
	// The pass saw every upload down to the checkpoint (or the end of the listing)
	complete := false

	for page := 1; ; page++ {
		if ctx.Err() != nil {
			logger.WarnContext(ctx, "Stopping token import, context done", "page", page)
			break
		}

		uploadPage, err := i.source.ListUploads(ctx, token, page)
		if err != nil {
			// A failed listing counts as an empty page
			logger.WarnContext(ctx, "Failed to list uploads", "page", page, "error", err.Error())
			break
		}
		summary.PagesScanned++
		i.metrics.pagesScanned.Add(ctx, 1)

		newUploads, reachedCheckpoint := uploadsBeforeCheckpoint(uploadPage.Uploads, lastImportedID)

		outcomes = append(outcomes, i.importPage(ctx, token, page, newUploads, &summary)...)

		if reachedCheckpoint {
			summary.ReachedCheckpoint = true
			complete = true
			break
		}
		if !uploadPage.HasMorePages() {
			complete = ctx.Err() == nil
			break
		}
	}

	if complete {
		i.advanceCheckpoint(ctx, token, outcomes, &summary)
	} else if len(outcomes) > 0 {
		logger.WarnContext(ctx, "Keeping checkpoint, pass did not reach it", "seen", len(outcomes))
	}

	logger.InfoContext(
		ctx,
		"Imported uploads",
		"pagesScanned", summary.PagesScanned,
		"imported", summary.Imported,
		"alreadyStored", summary.AlreadyStored,
		"failed", summary.Failed,
		"failedBatches", summary.FailedBatches,
		"reachedCheckpoint", summary.ReachedCheckpoint,
		"checkpoint", summary.Checkpoint,
	)

	return summary
}

func (i *UploadsImporter) advanceCheckpoint(ctx context.Context, token string, outcomes []uploadOutcome, summary *ImportSummary) {
	logger := logging.FromContext(ctx)

	candidate, ok := checkpointCandidate(outcomes)
	if !ok {
		if len(outcomes) > 0 {
			logger.WarnContext(ctx, "Keeping checkpoint, oldest new upload is not stored", "reportID", outcomes[len(outcomes)-1].upload.ReportID)
		}
		return
	}

	if candidate.ReportID != outcomes[0].upload.ReportID {
		logger.WarnContext(ctx, "Holding checkpoint back behind unstored uploads", "checkpoint", candidate.ReportID, "newest", outcomes[0].upload.ReportID)
	}

	err := i.repo.AdvanceCheckpoint(ctx, token, candidate)
	if err != nil {
		// NOTE: ReportRepository implementations handle their own error reporting
		// Stored reports are skipped on the next pass, so the work is not lost
		logger.ErrorContext(ctx, "Failed to advance checkpoint", "reportID", candidate.ReportID, "error", err.Error())
		summary.Error = "could not advance checkpoint"
		return
	}
	summary.Checkpoint = candidate.ReportID
}

// Import the new uploads of one page, returning their outcomes in listing order
func (i *UploadsImporter) importPage(ctx context.Context, token string, page int, uploads []domain.UploadSummary, summary *ImportSummary) []uploadOutcome {
	logger := logging.FromContext(ctx)

	outcomes := make([]uploadOutcome, len(uploads))
	if len(uploads) == 0 {
		return outcomes
	}

	reportIDs := make([]string, 0, len(uploads))
	for index, upload := range uploads {
		outcomes[index].upload = upload
		reportIDs = append(reportIDs, upload.ReportID)
	}

	storedIDs, err := i.repo.GetStoredReportIDs(ctx, token, reportIDs)
	if err != nil {
		// NOTE: ReportRepository implementations handle their own error reporting
		// Fetching stored reports again only costs requests
		logger.WarnContext(ctx, "Failed to look up stored reports", "page", page, "error", err.Error())
		storedIDs = []string{}
	}
	stored := make(map[string]bool, len(storedIDs))
	for _, id := range storedIDs {
		stored[id] = true
	}

	// Submit the whole page at once and collect the results in listing order
	requests := make([]*coalescer.Request, len(uploads))
	for index, upload := range uploads {
		if stored[upload.ReportID] {
			outcomes[index].settled = true
			summary.AlreadyStored++
			continue
		}
		requests[index] = i.details.Submit(upload.ReportID)
	}

	batch := make([]domain.ImportedReport, 0, len(uploads))
	batchIndexes := make([]int, 0, len(uploads))
	for index, request := range requests {
		if request == nil {
			continue
		}

		// Requests queued behind the provider's rate limit wait for their turn
		detail, err := request.Wait(ctx)
		if err != nil {
			logger.WarnContext(ctx, "Skipping report, no detail", "reportID", request.ReportID, "error", err.Error())
			summary.Failed++
			i.metrics.failedReports.Add(ctx, 1)

			// Gone for good, retrying would never store it
			if errors.Is(err, domain.ErrReportNotFound) || errors.Is(err, domain.ErrInvalidReportID) {
				outcomes[index].settled = true
			}
			continue
		}

		batch = append(batch, domain.ImportedReport{
			Upload: uploads[index],
			Detail: detail,
		})
		batchIndexes = append(batchIndexes, index)
	}

	if len(batch) == 0 {
		return outcomes
	}

	err = i.repo.BulkUpsert(ctx, token, batch)
	if err != nil {
		// NOTE: ReportRepository implementations handle their own error reporting
		logger.ErrorContext(ctx, "Failed to store batch", "page", page, "count", len(batch), "error", err.Error())
		summary.FailedBatches++
		i.metrics.failedBatches.Add(ctx, 1)
		return outcomes
	}

	for _, index := range batchIndexes {
		outcomes[index].settled = true
	}
	summary.Imported += len(batch)
	i.metrics.importedReports.Add(ctx, int64(len(batch)))

	return outcomes
}
