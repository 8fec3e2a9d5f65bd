// Package metrics emits operational metrics for schedule lifecycle calls,
// backfills and run callbacks to CloudWatch.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"batchexports/internal/types"
)

// Metric names.
const (
	MetricLifecycleOperation = "LifecycleOperation"
	MetricLifecycleLatency   = "LifecycleOperationLatency"
	MetricBackfillStarted    = "BackfillStarted"
	MetricBackfillTotalRuns  = "BackfillTotalRuns"
	MetricRunFinished        = "RunFinished"
	MetricRecordsExported    = "RecordsExported"
	MetricScheduleDrift      = "ScheduleDrift"
	MetricAPIRequest         = "APIRequest"
	MetricAPILatency         = "APIRequestLatency"
)

// Dimension names.
const (
	DimOperation = "Operation"
	DimResult    = "Result"
	DimStatus    = "Status"
	DimMethod    = "Method"
	DimRoute     = "Route"
)

// ResultSuccess is the Result dimension of a call that returned no error.
// Failures carry their error code instead.
const ResultSuccess = "success"

// CloudWatchClient abstracts PutMetricData for tests.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Recorder publishes metrics. Failures to publish are logged and never
// returned.
type Recorder struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewRecorder creates a Recorder writing to namespace.
func NewRecorder(client CloudWatchClient, namespace string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{client: client, namespace: namespace, logger: logger}
}

// ResultOf maps err to the Result dimension value.
func ResultOf(err error) string {
	if err == nil {
		return ResultSuccess
	}
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return string(appErr.Code)
	}
	return string(types.ErrCodeInternalUnexpected)
}

// RecordOperation counts one lifecycle operation and its latency.
func (r *Recorder) RecordOperation(ctx context.Context, op string, err error, took time.Duration) {
	result := ResultOf(err)
	r.put(ctx,
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricLifecycleOperation),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{dim(DimOperation, op), dim(DimResult, result)},
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricLifecycleLatency),
			Value:      aws.Float64(float64(took.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: []cwtypes.Dimension{dim(DimOperation, op)},
		},
	)
}

// RecordBackfillStarted counts a started backfill. totalRuns is nil for
// open-ended ranges.
func (r *Recorder) RecordBackfillStarted(ctx context.Context, totalRuns *int) {
	data := []cwtypes.MetricDatum{{
		MetricName: aws.String(MetricBackfillStarted),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
	}}
	if totalRuns != nil {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(MetricBackfillTotalRuns),
			Value:      aws.Float64(float64(*totalRuns)),
			Unit:       cwtypes.StandardUnitCount,
		})
	}
	r.put(ctx, data...)
}

// RecordRunFinished counts a terminal run by status and the records it wrote.
func (r *Recorder) RecordRunFinished(ctx context.Context, status types.RunStatus, records *int64) {
	data := []cwtypes.MetricDatum{{
		MetricName: aws.String(MetricRunFinished),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{dim(DimStatus, string(status))},
	}}
	if records != nil {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(MetricRecordsExported),
			Value:      aws.Float64(float64(*records)),
			Unit:       cwtypes.StandardUnitCount,
		})
	}
	r.put(ctx, data...)
}

// RecordDrift reports how many schedules disagreed with local state in one
// reconciliation pass.
func (r *Recorder) RecordDrift(ctx context.Context, drifted int) {
	r.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricScheduleDrift),
		Value:      aws.Float64(float64(drifted)),
		Unit:       cwtypes.StandardUnitCount,
	})
}

// RecordRequest counts one API request by route pattern and status.
func (r *Recorder) RecordRequest(method, route, status string, duration time.Duration) {
	ctx := context.Background()
	r.put(ctx,
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricAPIRequest),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{dim(DimMethod, method), dim(DimRoute, route), dim(DimStatus, status)},
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricAPILatency),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: []cwtypes.Dimension{dim(DimMethod, method), dim(DimRoute, route)},
		},
	)
}

func (r *Recorder) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	_, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(r.namespace),
		MetricData: data,
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to publish metrics",
			"error", err,
			"metric", aws.ToString(data[0].MetricName),
		)
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// Noop discards every metric. Used when metrics are disabled and in tests.
type Noop struct{}

func (Noop) RecordOperation(context.Context, string, error, time.Duration) {}
func (Noop) RecordBackfillStarted(context.Context, *int)                   {}
func (Noop) RecordRunFinished(context.Context, types.RunStatus, *int64)    {}
func (Noop) RecordDrift(context.Context, int)                              {}
func (Noop) RecordRequest(string, string, string, time.Duration)           {}
