package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Amund211/raidlog/internal/adapters/database"
	"github.com/Amund211/raidlog/internal/adapters/reportrepository"
	"github.com/Amund211/raidlog/internal/adapters/reportsource"
	"github.com/Amund211/raidlog/internal/adapters/tokenregistry"
	"github.com/Amund211/raidlog/internal/app"
	"github.com/Amund211/raidlog/internal/coalescer"
	"github.com/Amund211/raidlog/internal/config"
	"github.com/Amund211/raidlog/internal/logging"
	"github.com/Amund211/raidlog/internal/reporting"
	"github.com/Amund211/raidlog/internal/strutils"
	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	_ "golang.org/x/crypto/x509roots/fallback"
)

type environment struct {
	conf   config.Config
	logger *slog.Logger
	db     *sqlx.DB
	schema string
}

func setup(ctx context.Context) (context.Context, *environment, func(), error) {
	conf, err := config.ConfigFromEnv()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewRootLogger(os.Stderr, conf.GoogleCloudProject())
	ctx = logging.AddToContext(ctx, logger)

	_, flush, err := reporting.NewSentryMiddlewareOrMock(conf)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize Sentry: %w", err)
	}

	db, err := database.NewCloudsqlPostgresDatabase(conf)
	if err != nil {
		flush()
		return nil, nil, nil, fmt.Errorf("failed to initialize database connection: %w", err)
	}

	schema := database.GetSchemaName(!conf.IsProduction())
	err = database.NewDatabaseMigrator(db, logger.With("component", "migrator")).Migrate(ctx, schema)
	if err != nil {
		db.Close()
		flush()
		return nil, nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	cleanup := func() {
		db.Close()
		flush()
	}

	return ctx, &environment{conf: conf, logger: logger, db: db, schema: schema}, cleanup, nil
}

func runImport(ctx context.Context, env *environment) ([]app.ImportSummary, error) {
	httpClient := &http.Client{
		Timeout:   20 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	source, err := reportsource.NewDPSReport(httpClient, time.Now, time.After, env.conf.ImportRequestsPerMinute())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize report source: %w", err)
	}

	reportRepo, err := reportrepository.NewPostgresReportRepository(env.db, env.schema)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize report repository: %w", err)
	}

	registry := tokenregistry.NewCombined(
		tokenregistry.NewStatic(env.conf.SourceTokens()),
		tokenregistry.NewPostgres(env.db, env.schema, time.Now),
	)

	details, err := coalescer.New(reporting.AddHubToContext(ctx, "coalescer"), source, env.conf.DetailWorkers())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize detail fetch coalescer: %w", err)
	}
	details.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := details.Shutdown(shutdownCtx); err != nil {
			env.logger.Error("Failed to shut down detail fetch coalescer", "error", err.Error())
		}
	}()

	importer, err := app.NewUploadsImporter(registry, source, reportRepo, details)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize importer: %w", err)
	}

	return importer.RunOnce(ctx), nil
}

func printJSON(cmd *cobra.Command, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

func newTokensCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Manage the source tokens stored in the database",
	}

	var label string
	register := &cobra.Command{
		Use:   "register <token>",
		Short: "Register a source token, or re-enable a disabled one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, env, cleanup, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			err = tokenregistry.NewPostgres(env.db, env.schema, time.Now).Register(ctx, args[0], label)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s\n", strutils.RedactToken(args[0]))
			return nil
		},
	}
	register.Flags().StringVarP(&label, "label", "l", "", "human readable label for the token")

	disable := &cobra.Command{
		Use:   "disable <token>",
		Short: "Stop importing for a source token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, env, cleanup, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			err = tokenregistry.NewPostgres(env.db, env.schema, time.Now).Disable(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Disabled %s\n", strutils.RedactToken(args[0]))
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the tokens the next pass imports for, redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, env, cleanup, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			tokens, err := tokenregistry.NewCombined(
				tokenregistry.NewStatic(env.conf.SourceTokens()),
				tokenregistry.NewPostgres(env.db, env.schema, time.Now),
			).ListTokens(ctx)
			if err != nil {
				return err
			}

			redacted := make([]string, 0, len(tokens))
			for _, token := range tokens {
				redacted = append(redacted, strutils.RedactToken(token))
			}
			return printJSON(cmd, redacted)
		},
	}

	cmd.AddCommand(register, disable, list)
	return cmd
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "import-uploads",
		Short: "Run one import pass over all registered source tokens",
		Long: `Runs a single pass of the uploads importer and prints a summary per token.

Meant to be invoked by an external scheduler. Configuration is read from the environment.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, env, cleanup, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			summaries, err := runImport(ctx, env)
			if err != nil {
				return err
			}
			return printJSON(cmd, summaries)
		},
	}

	rootCmd.AddCommand(newTokensCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
