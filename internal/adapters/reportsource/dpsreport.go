package reportsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Amund211/raidlog/internal/constants"
	"github.com/Amund211/raidlog/internal/domain"
	"github.com/Amund211/raidlog/internal/logging"
	"github.com/Amund211/raidlog/internal/ratelimiting"
	"github.com/Amund211/raidlog/internal/reporting"
	"github.com/Amund211/raidlog/internal/strutils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const BASE_URL = "https://dps.report"

// Bounds a single HTTP call. Full Elite Insights documents can be several megabytes.
//
// The wait for the rate limit is bounded only by the caller's context.
const maxOperationTime = 15 * time.Second

type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type dpsReportMetricsCollection struct {
	requestCount metric.Int64Counter
}

func setupDPSReportMetrics(meter metric.Meter) (dpsReportMetricsCollection, error) {
	requestCount, err := meter.Int64Counter("reportsource/dpsreport/request_count")
	if err != nil {
		return dpsReportMetricsCollection{}, fmt.Errorf("failed to create request count metric: %w", err)
	}

	return dpsReportMetricsCollection{
		requestCount: requestCount,
	}, nil
}

type dpsReport struct {
	httpClient HttpClient
	limiter    *ratelimiting.WindowLimiter

	metrics dpsReportMetricsCollection
	tracer  trace.Tracer
}

func NewDPSReport(
	httpClient HttpClient,
	nowFunc func() time.Time,
	afterFunc func(time.Duration) <-chan time.Time,
	requestsPerMinute int,
) (*dpsReport, error) {
	const name = "raidlog/reportsource/dpsreport"

	if requestsPerMinute <= 0 {
		return nil, fmt.Errorf("requests per minute must be positive, got %d", requestsPerMinute)
	}

	metrics, err := setupDPSReportMetrics(otel.Meter(name))
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	return &dpsReport{
		httpClient: httpClient,
		limiter:    ratelimiting.NewWindowLimiter(requestsPerMinute, time.Minute, nowFunc, afterFunc),

		metrics: metrics,
		tracer:  otel.Tracer(name),
	}, nil
}

func (d *dpsReport) ListUploads(ctx context.Context, userToken string, page int) (domain.UploadPage, error) {
	ctx, span := d.tracer.Start(ctx, "DPSReport.ListUploads")
	defer span.End()

	query := url.Values{}
	query.Set("userToken", userToken)
	query.Set("page", strconv.Itoa(page))

	data, statusCode, err := d.get(ctx, "getUploads", query)
	if err != nil {
		return domain.UploadPage{}, err
	}

	if err := errorFromStatus(statusCode); err != nil {
		err := fmt.Errorf("failed to list uploads: %w", err)
		if !errors.Is(err, domain.ErrTemporarilyUnavailable) {
			reporting.Report(ctx, err, map[string]string{
				"page":   strconv.Itoa(page),
				"status": strconv.Itoa(statusCode),
				"data":   string(data),
			})
		}
		return domain.UploadPage{}, err
	}

	uploadPage, err := uploadPageFromResponse(data, page)
	if err != nil {
		err := fmt.Errorf("failed to parse uploads response: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"page": strconv.Itoa(page),
			"data": string(data),
		})
		return domain.UploadPage{}, err
	}

	return uploadPage, nil
}

func (d *dpsReport) GetDetail(ctx context.Context, reportID string) (*domain.ReportDetail, error) {
	ctx, span := d.tracer.Start(ctx, "DPSReport.GetDetail")
	defer span.End()

	if !strutils.ReportIDIsValid(reportID) {
		return nil, fmt.Errorf("%w: %.70s", domain.ErrInvalidReportID, reportID)
	}

	query := url.Values{}
	query.Set("id", reportID)

	data, statusCode, err := d.get(ctx, "getJson", query)
	if err != nil {
		return nil, err
	}

	if err := errorFromStatus(statusCode); err != nil {
		err := fmt.Errorf("failed to get detail for %s: %w", reportID, err)
		if !errors.Is(err, domain.ErrTemporarilyUnavailable) && !errors.Is(err, domain.ErrReportNotFound) {
			reporting.Report(ctx, err, map[string]string{
				"reportID": reportID,
				"status":   strconv.Itoa(statusCode),
			})
		}
		return nil, err
	}

	detail, err := reportDetailFromResponse(reportID, data)
	if errors.Is(err, domain.ErrReportNotFound) {
		return nil, err
	} else if err != nil {
		err := fmt.Errorf("failed to parse detail for %s: %w", reportID, err)
		reporting.Report(ctx, err, map[string]string{
			"reportID": reportID,
			"data":     fmt.Sprintf("%.2000s", data),
		})
		return nil, err
	}

	return detail, nil
}

func (d *dpsReport) get(ctx context.Context, endpoint string, query url.Values) ([]byte, int, error) {
	logger := logging.FromContext(ctx)

	reqURL := fmt.Sprintf("%s/%s?%s", BASE_URL, endpoint, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		err := fmt.Errorf("failed to create request: %w", err)
		reporting.Report(ctx, err, map[string]string{"endpoint": endpoint})
		return nil, -1, err
	}

	req.Header.Set("User-Agent", constants.USER_AGENT)

	var statusCode int
	var data []byte
	start := time.Now()
	ran := d.limiter.DoCancelable(ctx, maxOperationTime, func() bool {
		// Don't spend a slot in the window on a request that can't complete
		if ctx.Err() != nil {
			return false
		}

		ctx, span := d.tracer.Start(ctx, "DPSReport.httpget")
		defer span.End()

		httpCtx, cancel := context.WithTimeout(ctx, maxOperationTime)
		defer cancel()

		var resp *http.Response
		resp, err = d.httpClient.Do(req.WithContext(httpCtx))
		if err != nil {
			err = fmt.Errorf("%w: failed to send request: %w", domain.ErrTemporarilyUnavailable, err)
			reporting.Report(ctx, err, map[string]string{"endpoint": endpoint})
			return true
		}
		defer resp.Body.Close()

		statusCode = resp.StatusCode
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			err = fmt.Errorf("%w: failed to read response body: %w", domain.ErrTemporarilyUnavailable, err)
			reporting.Report(ctx, err, map[string]string{"endpoint": endpoint})
			return true
		}
		return true
	})
	if !ran {
		logger.WarnContext(ctx, "Did not call dps.report due to rate limiting", "endpoint", endpoint, "ctx_error", ctx.Err())
		return nil, -1, fmt.Errorf("%w: too many requests to dps.report", domain.ErrTemporarilyUnavailable)
	}
	if err != nil {
		return nil, -1, err
	}

	logger.InfoContext(ctx, "dps.report request completed", "endpoint", endpoint, "status", statusCode, "duration", time.Since(start).String())
	d.metrics.requestCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("status_code", strconv.Itoa(statusCode)),
	))

	return data, statusCode, nil
}

func errorFromStatus(statusCode int) error {
	switch {
	case statusCode == http.StatusOK:
		return nil
	case statusCode == http.StatusNotFound, statusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: status %d", domain.ErrReportNotFound, statusCode)
	case statusCode == http.StatusTooManyRequests, statusCode >= 500:
		return fmt.Errorf("%w: status %d", domain.ErrTemporarilyUnavailable, statusCode)
	default:
		return fmt.Errorf("unexpected status %d", statusCode)
	}
}
