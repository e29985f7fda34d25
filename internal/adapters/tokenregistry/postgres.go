package tokenregistry

import (
	"context"
	"fmt"
	"time"

	"github.com/Amund211/raidlog/internal/reporting"
	"github.com/Amund211/raidlog/internal/strutils"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type Postgres struct {
	db      *sqlx.DB
	schema  string
	tracer  trace.Tracer
	nowFunc func() time.Time
}

func NewPostgres(db *sqlx.DB, schema string, nowFunc func() time.Time) *Postgres {
	tracer := otel.Tracer("raidlog/tokenregistry/postgres")
	return &Postgres{
		db:      db,
		schema:  schema,
		tracer:  tracer,
		nowFunc: nowFunc,
	}
}

func (p *Postgres) ListTokens(ctx context.Context) ([]string, error) {
	ctx, span := p.tracer.Start(ctx, "Postgres.ListTokens")
	defer span.End()

	var tokens []string
	err := p.db.SelectContext(
		ctx,
		&tokens,
		fmt.Sprintf(
			"SELECT token FROM %s.source_tokens WHERE enabled ORDER BY registered_at ASC, token ASC",
			pq.QuoteIdentifier(p.schema),
		),
	)
	if err != nil {
		err := fmt.Errorf("failed to list source tokens: %w", err)
		reporting.Report(ctx, err)
		return nil, err
	}

	return tokens, nil
}

// Register adds the token, or re-enables it if it was disabled. The label is only updated when non-empty.
func (p *Postgres) Register(ctx context.Context, token, label string) error {
	ctx, span := p.tracer.Start(ctx, "Postgres.Register")
	defer span.End()

	if token == "" {
		err := fmt.Errorf("token is empty")
		reporting.Report(ctx, err)
		return err
	}

	_, err := p.db.ExecContext(
		ctx,
		fmt.Sprintf(`INSERT INTO %s.source_tokens
		(token, label, enabled, registered_at)
		VALUES ($1, $2, TRUE, $3)
		ON CONFLICT (token)
		DO UPDATE SET
			enabled = TRUE,
			label = COALESCE(NULLIF(EXCLUDED.label, ''), source_tokens.label)`,
			pq.QuoteIdentifier(p.schema)),
		token,
		label,
		p.nowFunc(),
	)
	if err != nil {
		err := fmt.Errorf("failed to register source token: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"token": strutils.RedactToken(token),
		})
		return err
	}

	return nil
}

func (p *Postgres) Disable(ctx context.Context, token string) error {
	ctx, span := p.tracer.Start(ctx, "Postgres.Disable")
	defer span.End()

	_, err := p.db.ExecContext(
		ctx,
		fmt.Sprintf("UPDATE %s.source_tokens SET enabled = FALSE WHERE token = $1", pq.QuoteIdentifier(p.schema)),
		token,
	)
	if err != nil {
		err := fmt.Errorf("failed to disable source token: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"token": strutils.RedactToken(token),
		})
		return err
	}

	return nil
}
