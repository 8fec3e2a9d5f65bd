// Package main is the entry point for the batch exports API server.
//
// Startup:
//  1. Load configuration (.env, SSM references, environment).
//  2. Open the Postgres pool and build the encryption codecs.
//  3. Create the workflow engine client, SQS event publisher and
//     CloudWatch recorder.
//  4. Build the lifecycle manager and run recorder, register handlers on the
//     core chassis and serve until SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"batchexports/internal/api/handlers"
	"batchexports/internal/backfill"
	"batchexports/internal/config"
	"batchexports/internal/core"
	"batchexports/internal/crypto"
	"batchexports/internal/db"
	"batchexports/internal/engine"
	"batchexports/internal/lifecycle"
	"batchexports/internal/metrics"
	"batchexports/internal/queue"
	"batchexports/internal/runs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("batch exports API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	codec, err := crypto.NewCodec(cfg.Encryption.SecretKey.Bytes())
	if err != nil {
		return fmt.Errorf("creating encryption codec: %w", err)
	}
	payloads, err := crypto.NewPayloadCodec(codec)
	if err != nil {
		return fmt.Errorf("creating payload codec: %w", err)
	}

	awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}

	var events lifecycle.EventPublisher
	if cfg.AWS.EventQueueURL != "" {
		events = queue.NewEventPublisher(sqs.NewFromConfig(awsCfg), cfg.AWS.EventQueueURL, logger)
	} else {
		logger.Warn("SQS_EXPORT_EVENTS not set, lifecycle events are not published")
	}

	var recorder interface {
		lifecycle.Metrics
		runs.Metrics
		core.MetricsCollector
	} = metrics.Noop{}
	if cfg.Observability.EnableMetrics {
		recorder = metrics.NewRecorder(cloudwatch.NewFromConfig(awsCfg), cfg.Observability.MetricNamespace, logger)
	}

	eng := engine.NewClient(engine.Config{
		BaseURL:    cfg.Engine.BaseURL,
		Namespace:  cfg.Engine.Namespace,
		APIKey:     cfg.Engine.APIKey,
		RPCTimeout: cfg.Engine.RPCTimeout,
		MaxRetries: cfg.Engine.MaxRetries,
	}, logger)

	manager := lifecycle.NewManager(lifecycle.Deps{
		Store:     lifecycle.NewPostgresStore(pool, codec, logger),
		Engine:    eng,
		Resolver:  backfill.NewResolver(db.NewAvailabilityRepository(pool)),
		Payloads:  payloads,
		Events:    events,
		Metrics:   recorder,
		Logger:    logger,
		TaskQueue: cfg.Engine.TaskQueue,
	})
	runRecorder := runs.NewRecorder(runs.NewPostgresStore(pool), recorder, logger)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Metrics = recorder
	srv.Authenticator = core.NewAPIKeyAuthenticator(db.NewAPIKeyRepository(pool), logger)
	srv.Teams = db.NewTeamRepository(pool)
	srv.HealthProbes = []core.HealthProbe{core.PingProbe{Label: "database", Pinger: pool}}

	exportHandler := handlers.NewExportHandler(manager, srv.Validator, logger)
	exportHandler.Nest(handlers.NewBackfillHandler(manager, logger).RegisterRoutes)
	callbackHandler := handlers.NewCallbackHandler(runRecorder, srv.Validator, logger)

	srv.TeamRouteRegistrars = append(srv.TeamRouteRegistrars, exportHandler.RegisterRoutes)
	srv.InternalRouteRegistrars = append(srv.InternalRouteRegistrars, callbackHandler.RegisterRoutes)
	srv.MountRoutes()

	return srv.ListenAndServe(ctx)
}

func loadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.EndpointURL != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.EndpointURL))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// newLogger creates a JSON slog.Logger at the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
