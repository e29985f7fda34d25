package ports

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Amund211/raidlog/internal/app"
	"github.com/Amund211/raidlog/internal/logging"
	"github.com/Amund211/raidlog/internal/reporting"
	"github.com/Amund211/raidlog/internal/strutils"
	"github.com/goccy/go-json"
)

// Longest interval a single request may group
const MAX_PLAYGROUPS_INTERVAL = 31 * 24 * time.Hour

func MakeGetPlayGroupsHandler(
	getPlayGroups app.GetPlayGroups,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := ComposeMiddlewares(
		buildMetricsMiddleware(),
		logging.NewRequestLoggerMiddleware(rootLogger),
		sentryMiddleware,
		reporting.NewAddMetaMiddleware("playgroups"),
		newIPRateLimitMiddleware(1, 20),
	)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		defer r.Body.Close()
		body, err := io.ReadAll(r.Body)
		if err != nil {
			reporting.Report(ctx, fmt.Errorf("failed to read request body: %w", err))
			http.Error(w, "Failed to read request body", http.StatusBadRequest)
			return
		}
		request := struct {
			Token    string    `json:"token"`
			Start    time.Time `json:"start"`
			End      time.Time `json:"end"`
			Timezone string    `json:"timezone"`
		}{}
		err = json.Unmarshal(body, &request)
		if err != nil {
			logging.FromContext(ctx).InfoContext(ctx, "Failed to parse request body", "error", err.Error())
			http.Error(w, "Failed to parse request body", http.StatusBadRequest)
			return
		}

		if request.Token == "" {
			http.Error(w, "Missing token", http.StatusBadRequest)
			return
		}

		redacted := strutils.RedactToken(request.Token)
		ctx = reporting.AddExtrasToContext(ctx, map[string]string{
			"sourceToken": redacted,
			"start":       request.Start.Format(time.RFC3339),
			"end":         request.End.Format(time.RFC3339),
			"timezone":    request.Timezone,
		})
		ctx = logging.AddMetaToContext(ctx,
			slog.String("sourceToken", redacted),
			slog.String("start", request.Start.Format(time.RFC3339)),
			slog.String("end", request.End.Format(time.RFC3339)),
		)

		if request.Start.After(request.End) {
			http.Error(w, "Start time cannot be after end time", http.StatusBadRequest)
			return
		}
		if request.End.Sub(request.Start) > MAX_PLAYGROUPS_INTERVAL {
			http.Error(w, "Interval too long", http.StatusBadRequest)
			return
		}

		loc := time.UTC
		if request.Timezone != "" {
			loc, err = time.LoadLocation(request.Timezone)
			if err != nil {
				http.Error(w, "Unknown timezone", http.StatusBadRequest)
				return
			}
		}

		groups, err := getPlayGroups(ctx, request.Token, request.Start, request.End, loc)
		if err != nil {
			// NOTE: GetPlayGroups implementations handle their own error reporting
			http.Error(w, "Failed to get play groups", http.StatusInternalServerError)
			return
		}

		marshalled, err := PlayGroupsToResponseData(groups)
		if err != nil {
			reporting.Report(ctx, fmt.Errorf("failed to convert play groups to response: %w", err), map[string]string{
				"length": strconv.Itoa(len(groups)),
			})
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}

		logging.FromContext(ctx).InfoContext(ctx, "Returning play groups", "count", len(groups))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(marshalled)
	}

	return middleware(handler)
}
