package ports

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Amund211/raidlog/internal/app"
	"github.com/Amund211/raidlog/internal/domain"
	"github.com/Amund211/raidlog/internal/logging"
	"github.com/Amund211/raidlog/internal/reporting"
)

func MakeGetReportDetailHandler(
	getReportDetail app.GetReportDetailWithCache,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := ComposeMiddlewares(
		buildMetricsMiddleware(),
		logging.NewRequestLoggerMiddleware(rootLogger),
		sentryMiddleware,
		reporting.NewAddMetaMiddleware("reports"),
		newIPRateLimitMiddleware(2, 60),
	)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		reportID := r.PathValue("id")
		ctx = reporting.AddExtrasToContext(ctx, map[string]string{"reportID": reportID})
		ctx = logging.AddMetaToContext(ctx, slog.String("reportID", reportID))

		detail, err := getReportDetail(ctx, reportID)
		if errors.Is(err, domain.ErrInvalidReportID) {
			logging.FromContext(ctx).InfoContext(ctx, "Invalid report id")
			http.Error(w, "Invalid report id", http.StatusBadRequest)
			return
		} else if err != nil {
			// NOTE: Missing and unavailable reports look the same to the caller
			logging.FromContext(ctx).InfoContext(ctx, "Could not get report detail", "error", err.Error())
			http.Error(w, "Report not found", http.StatusNotFound)
			return
		}

		marshalled, err := ReportDetailToResponseData(detail, r.URL.Query().Get("raw") == "true")
		if err != nil {
			reporting.Report(ctx, fmt.Errorf("failed to convert report detail to response: %w", err))
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}

		logging.FromContext(ctx).InfoContext(ctx, "Returning report detail")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(marshalled)
	}

	return middleware(handler)
}
