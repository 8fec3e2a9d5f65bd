// Package main is the run recorder Lambda. It consumes engine callbacks from
// SQS and applies them to runs and backfills.
//
// Messages that can never succeed (malformed bodies, invalid statuses, runs
// of a cancelled backfill) are acknowledged and logged. Database and engine
// failures, and a finish that arrives before its start, are reported as
// batch item failures so SQS redelivers only those messages.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"batchexports/internal/config"
	"batchexports/internal/db"
	"batchexports/internal/metrics"
	"batchexports/internal/queue"
	"batchexports/internal/runs"
	"batchexports/internal/types"
)

// CallbackRecorder is the subset of runs.Recorder the handler drives.
type CallbackRecorder interface {
	RecordRunStarted(ctx context.Context, ev types.RunStartedEvent) (*types.Run, error)
	RecordRunFinished(ctx context.Context, ev types.RunFinishedEvent) (*types.Run, error)
	RecordBackfillFinished(ctx context.Context, ev types.BackfillFinishedEvent) (*types.Backfill, error)
}

// Handler processes SQS batches of engine callbacks.
type Handler struct {
	recorder CallbackRecorder
	logger   *slog.Logger
}

// Handle reports partial failures so that successfully applied callbacks are
// not redelivered.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}
	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.ErrorContext(ctx, "failed to apply callback, will retry",
				"message_id", record.MessageId, "error", err)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}
	return response, nil
}

func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	cb, err := queue.DecodeCallback([]byte(record.Body))
	if err != nil {
		h.logger.ErrorContext(ctx, "dropping undecodable callback",
			"message_id", record.MessageId, "error", err)
		return nil
	}
	logger := h.logger.With("message_id", record.MessageId, "kind", string(cb.Kind))

	switch cb.Kind {
	case types.CallbackRunStarted:
		_, err = h.recorder.RecordRunStarted(ctx, *cb.RunStarted)
	case types.CallbackRunFinished:
		_, err = h.recorder.RecordRunFinished(ctx, *cb.RunFinished)
	case types.CallbackBackfillFinished:
		_, err = h.recorder.RecordBackfillFinished(ctx, *cb.BackfillFinished)
	default:
		err = fmt.Errorf("unhandled callback kind %q", cb.Kind)
	}
	if err == nil {
		logger.DebugContext(ctx, "callback applied")
		return nil
	}
	if !retryable(err) {
		logger.WarnContext(ctx, "dropping rejected callback", "error", err)
		return nil
	}
	return err
}

// retryable reports whether redelivery could succeed.
func retryable(err error) bool {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	code := string(appErr.Code)
	return appErr.Code == types.ErrCodeNotFoundRun ||
		strings.HasPrefix(code, "internal_") ||
		strings.HasPrefix(code, "upstream_")
}

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("run recorder initializing (cold start)")

	if err := config.ResolveSecrets(config.NewSSMProvider(os.Getenv("AWS_REGION"))); err != nil {
		logger.Error("failed to resolve secrets", "error", err)
		os.Exit(1)
	}
	pool, err := db.NewPool(ctx, config.DatabaseConfig{
		URL:      config.SecretString(os.Getenv("DATABASE_URL")),
		MaxConns: 2,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	var recMetrics runs.Metrics = metrics.Noop{}
	if ns := os.Getenv("METRIC_NAMESPACE"); ns != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			logger.Error("failed to load AWS SDK config", "error", err)
			os.Exit(1)
		}
		recMetrics = metrics.NewRecorder(cloudwatch.NewFromConfig(awsCfg), ns, logger)
	}

	handler := &Handler{
		recorder: runs.NewRecorder(runs.NewPostgresStore(pool), recMetrics, logger),
		logger:   logger,
	}
	lambda.Start(handler.Handle)
}
