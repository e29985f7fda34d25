package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Amund211/raidlog/internal/adapters/cache"
	"github.com/Amund211/raidlog/internal/adapters/database"
	"github.com/Amund211/raidlog/internal/adapters/reportrepository"
	"github.com/Amund211/raidlog/internal/adapters/reportsource"
	"github.com/Amund211/raidlog/internal/adapters/tokenregistry"
	"github.com/Amund211/raidlog/internal/app"
	"github.com/Amund211/raidlog/internal/coalescer"
	"github.com/Amund211/raidlog/internal/config"
	"github.com/Amund211/raidlog/internal/domain"
	"github.com/Amund211/raidlog/internal/logging"
	"github.com/Amund211/raidlog/internal/ports"
	"github.com/Amund211/raidlog/internal/reporting"
	"github.com/Amund211/raidlog/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	_ "golang.org/x/crypto/x509roots/fallback"
)

func main() {
	instanceID := uuid.New().String()

	config, err := config.ConfigFromEnv()
	if err != nil {
		logging.NewRootLogger(os.Stdout, "").Error("Failed to load config", "error", err.Error())
		os.Exit(1)
	}

	logger := logging.NewRootLogger(os.Stdout, config.GoogleCloudProject()).With("instanceID", instanceID)

	fail := func(msg string, args ...any) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	logger.Info("Loaded config", "config", config.NonSensitiveString())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = logging.AddToContext(ctx, logger)

	if !config.IsDevelopment() {
		shutdownOTel, err := telemetry.SetupOTelSDK(ctx, "raidlog", 1.0/100.0)
		if err != nil {
			fail("Failed to set up OpenTelemetry", "error", err.Error())
		}
		defer func() {
			err := shutdownOTel(context.Background())
			if err != nil {
				logger.Error("Failed to shut down OpenTelemetry", "error", err.Error())
			}
		}()
		logger.Info("Initialized OpenTelemetry")
	}

	sentryMiddleware, flush, err := reporting.NewSentryMiddlewareOrMock(config)
	if err != nil {
		fail("Failed to initialize Sentry", "error", err.Error())
	}
	defer flush()
	logger.Info("Initialized Sentry middleware")

	httpClient := &http.Client{
		Timeout:   20 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	// Separate budgets so a long import never starves on-demand lookups
	importSource, err := reportsource.NewDPSReport(httpClient, time.Now, time.After, config.ImportRequestsPerMinute())
	if err != nil {
		fail("Failed to initialize report source", "error", err.Error())
	}
	onDemandSource, err := reportsource.NewDPSReport(httpClient, time.Now, time.After, config.OnDemandRequestsPerMinute())
	if err != nil {
		fail("Failed to initialize on-demand report source", "error", err.Error())
	}

	logger.Info("Initializing database connection")
	db, err := database.NewCloudsqlPostgresDatabase(config)
	if err != nil {
		fail("Failed to initialize database connection", "error", err.Error())
	}
	logger.Info("Initialized database connection")

	repositorySchemaName := database.GetSchemaName(!config.IsProduction())

	err = database.NewDatabaseMigrator(db, logger.With("component", "migrator")).Migrate(ctx, repositorySchemaName)
	if err != nil {
		fail("Failed to migrate database", "error", err.Error())
	}

	reportRepo, err := reportrepository.NewPostgresReportRepository(db, repositorySchemaName)
	if err != nil {
		fail("Failed to initialize ReportRepository", "error", err.Error())
	}
	logger.Info("Initialized ReportRepository")

	registry := tokenregistry.NewCombined(
		tokenregistry.NewStatic(config.SourceTokens()),
		tokenregistry.NewPostgres(db, repositorySchemaName, time.Now),
	)

	// Background context: the workers outlive individual requests and stop through Shutdown
	workerCtx := reporting.AddHubToContext(logging.AddToContext(context.Background(), logger), "coalescer")

	// Import fetches wait out the rate limit
	importDetails, err := coalescer.New(workerCtx, importSource, config.DetailWorkers())
	if err != nil {
		fail("Failed to initialize import detail fetch coalescer", "error", err.Error())
	}
	importDetails.Start()

	// Callers are waiting on these, so they fail fast
	onDemandDetails, err := coalescer.New(
		workerCtx,
		onDemandSource,
		config.DetailWorkers(),
		coalescer.WithFetchTimeout(config.DetailTimeout()),
	)
	if err != nil {
		fail("Failed to initialize on-demand detail fetch coalescer", "error", err.Error())
	}
	onDemandDetails.Start()
	logger.Info("Started detail fetch coalescers", "workers", config.DetailWorkers())

	importer, err := app.NewUploadsImporter(registry, importSource, reportRepo, importDetails)
	if err != nil {
		fail("Failed to initialize importer", "error", err.Error())
	}

	detailCache, stopDetailCache := cache.NewTTLCache[*domain.ReportDetail](1 * time.Minute)
	defer stopDetailCache()

	getReportDetailWithCache := app.BuildGetReportDetailWithCache(detailCache, reportRepo, onDemandDetails, config.DetailTimeout())
	getPlayGroups := app.BuildGetPlayGroups(reportRepo)

	mux := http.NewServeMux()

	mux.HandleFunc(
		"GET /v1/reports/{id}",
		ports.MakeGetReportDetailHandler(
			getReportDetailWithCache,
			logger.With("port", "reports"),
			sentryMiddleware,
		),
	)

	mux.HandleFunc(
		"POST /v1/playgroups",
		ports.MakeGetPlayGroupsHandler(
			getPlayGroups,
			logger.With("port", "playgroups"),
			sentryMiddleware,
		),
	)

	mux.HandleFunc(
		"POST /v1/import",
		ports.MakeTriggerImportHandler(
			importer,
			logger.With("port", "import"),
			sentryMiddleware,
		),
	)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", config.Port()),
		Handler: mux,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	logger.Info("Init complete")

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			fail("Server error", "error", err.Error())
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = server.Shutdown(shutdownCtx)
	if err != nil {
		logger.Error("Failed to shut down server", "error", err.Error())
	}

	err = onDemandDetails.Shutdown(shutdownCtx)
	if err != nil {
		logger.Error("Failed to shut down on-demand detail fetch coalescer", "error", err.Error())
	}

	err = importDetails.Shutdown(shutdownCtx)
	if err != nil {
		logger.Error("Failed to shut down import detail fetch coalescer", "error", err.Error())
	}

	logger.Info("Server shutdown")
}
