package reportrepository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Amund211/raidlog/internal/domain"
	"github.com/Amund211/raidlog/internal/logging"
	"github.com/Amund211/raidlog/internal/reporting"
	"github.com/Amund211/raidlog/internal/strutils"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/klauspost/compress/zstd"
	"github.com/lib/pq"
)

type PostgresReportRepository struct {
	db     *sqlx.DB
	schema string

	// Both are safe for concurrent use through EncodeAll/DecodeAll
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewPostgresReportRepository(db *sqlx.DB, schema string) (*PostgresReportRepository, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &PostgresReportRepository{
		db:      db,
		schema:  schema,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

type dbEncounter struct {
	ReportID     string         `db:"report_id"`
	BossName     string         `db:"boss_name"`
	StartedAt    time.Time      `db:"started_at"`
	DurationMS   int64          `db:"duration_ms"`
	Success      bool           `db:"success"`
	CompositeDPS float64        `db:"composite_dps"`
	Players      pq.StringArray `db:"players"`
}

type dbDetail struct {
	dbEncounter
	BossID     int    `db:"boss_id"`
	IsCM       bool   `db:"is_cm"`
	DetailZstd []byte `db:"detail_zstd"`
}

func (p *PostgresReportRepository) beginTx(ctx context.Context) (*sqlx.Tx, error) {
	txx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}

	_, err = txx.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s", pq.QuoteIdentifier(p.schema)))
	if err != nil {
		_ = txx.Rollback()
		return nil, fmt.Errorf("failed to set search path: %w", err)
	}

	return txx, nil
}

func (p *PostgresReportRepository) GetLastImportedID(ctx context.Context, sourceToken string) (string, error) {
	extra := map[string]string{"sourceToken": strutils.RedactToken(sourceToken)}

	txx, err := p.beginTx(ctx)
	if err != nil {
		reporting.Report(ctx, err, extra)
		return "", err
	}
	defer txx.Rollback()

	var lastReportID string
	err = txx.GetContext(ctx, &lastReportID, "SELECT last_report_id FROM import_checkpoints WHERE source_token = $1", sourceToken)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	} else if err != nil {
		err := fmt.Errorf("failed to read checkpoint: %w", err)
		reporting.Report(ctx, err, extra)
		return "", err
	}

	return lastReportID, nil
}

func (p *PostgresReportRepository) GetStoredReportIDs(ctx context.Context, sourceToken string, reportIDs []string) ([]string, error) {
	if len(reportIDs) == 0 {
		return []string{}, nil
	}

	extra := map[string]string{
		"sourceToken": strutils.RedactToken(sourceToken),
		"count":       strconv.Itoa(len(reportIDs)),
	}

	txx, err := p.beginTx(ctx)
	if err != nil {
		reporting.Report(ctx, err, extra)
		return nil, err
	}
	defer txx.Rollback()

	stored := []string{}
	err = txx.SelectContext(
		ctx,
		&stored,
		"SELECT report_id FROM reports WHERE source_token = $1 AND report_id = ANY($2)",
		sourceToken,
		pq.StringArray(reportIDs),
	)
	if err != nil {
		err := fmt.Errorf("failed to select stored report ids: %w", err)
		reporting.Report(ctx, err, extra)
		return nil, err
	}

	return stored, nil
}

func (p *PostgresReportRepository) BulkUpsert(ctx context.Context, sourceToken string, reports []domain.ImportedReport) error {
	if len(reports) == 0 {
		return nil
	}

	extra := map[string]string{
		"sourceToken": strutils.RedactToken(sourceToken),
		"count":       strconv.Itoa(len(reports)),
	}

	for _, report := range reports {
		if report.Detail == nil {
			err := fmt.Errorf("report %s has no detail", report.Upload.ReportID)
			reporting.Report(ctx, err, extra)
			return err
		}
	}

	txx, err := p.beginTx(ctx)
	if err != nil {
		reporting.Report(ctx, err, extra)
		return err
	}
	defer txx.Rollback()

	for _, report := range reports {
		dbID, err := uuid.NewV7()
		if err != nil {
			err := fmt.Errorf("failed to generate db id: %w", err)
			reporting.Report(ctx, err, extra)
			return err
		}

		metadata := report.Upload.Metadata
		if len(metadata) == 0 {
			metadata = []byte(`{}`)
		}

		detail := report.Detail
		_, err = txx.ExecContext(
			ctx,
			`INSERT INTO reports
			(id, source_token, report_id, permalink, uploaded_at,
			boss_name, boss_id, is_cm, success, started_at, duration_ms, composite_dps, players,
			metadata, detail_zstd)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (source_token, report_id) DO UPDATE SET
				permalink = EXCLUDED.permalink,
				uploaded_at = EXCLUDED.uploaded_at,
				boss_name = EXCLUDED.boss_name,
				boss_id = EXCLUDED.boss_id,
				is_cm = EXCLUDED.is_cm,
				success = EXCLUDED.success,
				started_at = EXCLUDED.started_at,
				duration_ms = EXCLUDED.duration_ms,
				composite_dps = EXCLUDED.composite_dps,
				players = EXCLUDED.players,
				metadata = EXCLUDED.metadata,
				detail_zstd = EXCLUDED.detail_zstd`,
			dbID.String(),
			sourceToken,
			report.Upload.ReportID,
			report.Upload.Permalink,
			report.Upload.UploadedAt,
			detail.BossName,
			detail.BossID,
			detail.IsCM,
			detail.Success,
			detail.StartedAt,
			detail.Duration.Milliseconds(),
			detail.CompositeDPS,
			pq.StringArray(detail.Players),
			metadata,
			p.encoder.EncodeAll(detail.Raw, nil),
		)
		if err != nil {
			err := fmt.Errorf("failed to upsert report %s: %w", report.Upload.ReportID, err)
			reporting.Report(ctx, err, extra)
			return err
		}
	}

	err = txx.Commit()
	if err != nil {
		err := fmt.Errorf("failed to commit transaction: %w", err)
		reporting.Report(ctx, err, extra)
		return err
	}

	logging.FromContext(ctx).InfoContext(ctx, "Stored reports", "count", len(reports))

	return nil
}

func (p *PostgresReportRepository) AdvanceCheckpoint(ctx context.Context, sourceToken string, upload domain.UploadSummary) error {
	extra := map[string]string{
		"sourceToken": strutils.RedactToken(sourceToken),
		"reportID":    upload.ReportID,
	}

	txx, err := p.beginTx(ctx)
	if err != nil {
		reporting.Report(ctx, err, extra)
		return err
	}
	defer txx.Rollback()

	_, err = txx.ExecContext(
		ctx,
		`INSERT INTO import_checkpoints
		(source_token, last_report_id, last_uploaded_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (source_token) DO UPDATE SET
			last_report_id = EXCLUDED.last_report_id,
			last_uploaded_at = EXCLUDED.last_uploaded_at,
			updated_at = EXCLUDED.updated_at
		WHERE import_checkpoints.last_uploaded_at < EXCLUDED.last_uploaded_at`,
		sourceToken,
		upload.ReportID,
		upload.UploadedAt,
	)
	if err != nil {
		err := fmt.Errorf("failed to advance checkpoint: %w", err)
		reporting.Report(ctx, err, extra)
		return err
	}

	err = txx.Commit()
	if err != nil {
		err := fmt.Errorf("failed to commit transaction: %w", err)
		reporting.Report(ctx, err, extra)
		return err
	}

	return nil
}

func (e dbEncounter) toDomain() domain.Encounter {
	return domain.Encounter{
		ReportID:     e.ReportID,
		BossName:     e.BossName,
		StartedAt:    e.StartedAt,
		Duration:     time.Duration(e.DurationMS) * time.Millisecond,
		Success:      e.Success,
		CompositeDPS: e.CompositeDPS,
		Roster:       domain.NewRoster(e.Players...),
	}
}

func (p *PostgresReportRepository) GetEncounters(ctx context.Context, sourceToken string, start, end time.Time) ([]domain.Encounter, error) {
	extra := map[string]string{
		"sourceToken": strutils.RedactToken(sourceToken),
		"start":       start.Format(time.RFC3339),
		"end":         end.Format(time.RFC3339),
	}

	if end.Before(start) {
		err := fmt.Errorf("end time must not be before start time")
		reporting.Report(ctx, err, extra)
		return nil, err
	}

	txx, err := p.beginTx(ctx)
	if err != nil {
		reporting.Report(ctx, err, extra)
		return nil, err
	}
	defer txx.Rollback()

	var dbEncounters []dbEncounter
	err = txx.SelectContext(
		ctx,
		&dbEncounters,
		`SELECT report_id, boss_name, started_at, duration_ms, success, composite_dps, players
		FROM reports
		WHERE
			source_token = $1 AND
			started_at >= $2 AND
			started_at <= $3
		ORDER BY started_at ASC, report_id ASC`,
		sourceToken,
		start,
		end,
	)
	if err != nil {
		err := fmt.Errorf("failed to select encounters: %w", err)
		reporting.Report(ctx, err, extra)
		return nil, err
	}

	encounters := make([]domain.Encounter, 0, len(dbEncounters))
	for _, e := range dbEncounters {
		encounters = append(encounters, e.toDomain())
	}

	return encounters, nil
}

func (p *PostgresReportRepository) GetDetail(ctx context.Context, reportID string) (*domain.ReportDetail, error) {
	extra := map[string]string{"reportID": reportID}

	txx, err := p.beginTx(ctx)
	if err != nil {
		reporting.Report(ctx, err, extra)
		return nil, err
	}
	defer txx.Rollback()

	var row dbDetail
	err = txx.GetContext(
		ctx,
		&row,
		`SELECT report_id, boss_name, started_at, duration_ms, success, composite_dps, players,
			boss_id, is_cm, detail_zstd
		FROM reports
		WHERE report_id = $1
		ORDER BY imported_at DESC
		LIMIT 1`,
		reportID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s has not been imported", domain.ErrReportNotFound, reportID)
	} else if err != nil {
		err := fmt.Errorf("failed to select detail: %w", err)
		reporting.Report(ctx, err, extra)
		return nil, err
	}

	raw, err := p.decoder.DecodeAll(row.DetailZstd, nil)
	if err != nil {
		err := fmt.Errorf("failed to decompress detail: %w", err)
		reporting.Report(ctx, err, extra)
		return nil, err
	}

	encounter := row.toDomain()
	return &domain.ReportDetail{
		ReportID:     row.ReportID,
		BossName:     row.BossName,
		BossID:       row.BossID,
		IsCM:         row.IsCM,
		Success:      row.Success,
		StartedAt:    row.StartedAt,
		Duration:     encounter.Duration,
		CompositeDPS: row.CompositeDPS,
		Players:      encounter.Roster.Names(),
		Raw:          raw,
	}, nil
}
