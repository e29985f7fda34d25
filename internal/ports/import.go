package ports

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Amund211/raidlog/internal/app"
	"github.com/Amund211/raidlog/internal/logging"
	"github.com/Amund211/raidlog/internal/ratelimiting"
	"github.com/Amund211/raidlog/internal/reporting"
	"github.com/goccy/go-json"
)

// Upper bound for a triggered pass. The pass keeps its progress if it is cut short.
const IMPORT_PASS_TIMEOUT = 10 * time.Minute

type ImportRunner interface {
	RunOnce(ctx context.Context) []app.ImportSummary
}

func MakeTriggerImportHandler(
	importer ImportRunner,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	// One pass per minute on average across all callers
	globalLimiter, _ := ratelimiting.NewTokenBucketLimiter(1.0/60, 2)
	globalRateLimiter := ratelimiting.NewRequestLimiter(globalLimiter, ratelimiting.GlobalKeyFunc)

	middleware := ComposeMiddlewares(
		buildMetricsMiddleware(),
		logging.NewRequestLoggerMiddleware(rootLogger),
		sentryMiddleware,
		reporting.NewAddMetaMiddleware("import"),
		NewRateLimitMiddleware(globalRateLimiter, makeOnLimitExceeded(globalRateLimiter)),
	)

	handler := func(w http.ResponseWriter, r *http.Request) {
		// The scheduler may hang up, the pass should still finish
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), IMPORT_PASS_TIMEOUT)
		defer cancel()

		summaries := importer.RunOnce(ctx)

		marshalled, err := json.Marshal(struct {
			Tokens []app.ImportSummary `json:"tokens"`
		}{Tokens: summaries})
		if err != nil {
			reporting.Report(ctx, fmt.Errorf("failed to marshal import summaries: %w", err))
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}

		logging.FromContext(ctx).InfoContext(ctx, "Import pass done", "tokens", len(summaries))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(marshalled)
	}

	return middleware(handler)
}
