// Package main is the schedule reconciler Lambda. An EventBridge rule invokes
// it periodically; each invocation compares every live export with its
// engine schedule and returns the drift report.
package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"batchexports/internal/config"
	"batchexports/internal/db"
	"batchexports/internal/engine"
	"batchexports/internal/metrics"
	"batchexports/internal/reconcile"
)

// Reconciler runs one reconciliation pass.
type Reconciler interface {
	Run(ctx context.Context) (*reconcile.Report, error)
}

// Handler adapts a Reconciler to the scheduled event trigger.
type Handler struct {
	reconciler Reconciler
	logger     *slog.Logger
}

func (h *Handler) Handle(ctx context.Context, ev events.CloudWatchEvent) (*reconcile.Report, error) {
	h.logger.InfoContext(ctx, "reconciliation triggered", "event_id", ev.ID, "time", ev.Time)
	report, err := h.reconciler.Run(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "reconciliation failed", "error", err)
		return nil, err
	}
	h.logger.InfoContext(ctx, "reconciliation complete",
		"checked", report.Checked,
		"drifted", len(report.Drifts),
		"errors", report.Errors,
	)
	return report, nil
}

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	var driftMetrics reconcile.Metrics = metrics.Noop{}
	if cfg.Observability.EnableMetrics {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			logger.Error("failed to load AWS SDK config", "error", err)
			os.Exit(1)
		}
		driftMetrics = metrics.NewRecorder(cloudwatch.NewFromConfig(awsCfg), cfg.Observability.MetricNamespace, logger)
	}

	eng := engine.NewClient(engine.Config{
		BaseURL:    cfg.Engine.BaseURL,
		Namespace:  cfg.Engine.Namespace,
		APIKey:     cfg.Engine.APIKey,
		RPCTimeout: cfg.Engine.RPCTimeout,
		MaxRetries: cfg.Engine.MaxRetries,
	}, logger)

	repair, _ := strconv.ParseBool(os.Getenv("RECONCILE_REPAIR"))
	handler := &Handler{
		reconciler: reconcile.NewReconciler(db.NewExportRepository(pool), eng, driftMetrics, logger, reconcile.Options{
			Repair: repair,
		}),
		logger: logger,
	}
	lambda.Start(handler.Handle)
}
