package main

import (
	"context"
	"os"
	"time"

	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/log"
	"github.com/dukex/stepflow/pkg/otelhelper"
	"github.com/dukex/stepflow/pkg/storage"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort         = 9091
	defaultAnalyticsTTL = 5 * time.Minute
)

func main() {
	command := &cli.Command{
		Name:                  "stepflow-api",
		Usage:                 "Design workflows and track their executions",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file path, postgres:// or mongodb://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka broker addresses",
				Value:   []string{"localhost:9092"},
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the analytics cache, disabled when empty",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.DurationFlag{
				Name:    "analytics-cache-ttl",
				Usage:   "How long analytics reports stay cached",
				Value:   defaultAnalyticsTTL,
				Sources: cli.EnvVars("ANALYTICS_CACHE_TTL"),
			},
			&cli.StringFlag{
				Name:    "s3-bucket",
				Usage:   "Bucket for step uploads, uploads are disabled when empty",
				Sources: cli.EnvVars("S3_BUCKET"),
			},
			&cli.StringFlag{
				Name:    "s3-region",
				Usage:   "Bucket region",
				Value:   "us-east-1",
				Sources: cli.EnvVars("S3_REGION"),
			},
			&cli.StringFlag{
				Name:    "s3-endpoint",
				Usage:   "Endpoint of an S3 compatible store",
				Sources: cli.EnvVars("S3_ENDPOINT"),
			},
			&cli.StringFlag{
				Name:    "s3-access-key",
				Usage:   "Static access key, the default AWS chain is used when empty",
				Sources: cli.EnvVars("S3_ACCESS_KEY"),
			},
			&cli.StringFlag{
				Name:    "s3-secret-key",
				Usage:   "Static secret key",
				Sources: cli.EnvVars("S3_SECRET_KEY"),
			},
			&cli.DurationFlag{
				Name:    "upload-url-ttl",
				Usage:   "Lifetime of presigned upload URLs",
				Value:   storage.DefaultUploadExpiry,
				Sources: cli.EnvVars("UPLOAD_URL_TTL"),
			},
			&cli.StringFlag{
				Name:    "templates-path",
				Usage:   "Directory of workflow template YAML files, the bundled catalog is used when empty",
				Sources: cli.EnvVars("TEMPLATES_PATH"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.BoolFlag{
				Name:    "otel",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
		},
		Action: run,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("api")

	logger.InfoContext(ctx, "Initializing Stepflow API")

	if command.Bool("otel") {
		tracerProvider, err := otelhelper.NewTracerProvider(ctx, "stepflow-api")
		if err != nil {
			return err
		}

		defer func() {
			if err := tracerProvider.Shutdown(ctx); err != nil {
				logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
			}
		}()
	}

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.StringSlice("kafka-brokers"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	analyticsCache, closeCache, err := cmd.NewAnalyticsCache(ctx, command.String("redis-url"), command.Duration("analytics-cache-ttl"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := closeCache(); err != nil {
			logger.ErrorContext(ctx, "Failed to close analytics cache", "error", err)
		}
	}()

	presigner, err := cmd.NewPresigner(ctx, storage.S3Config{
		Endpoint:  command.String("s3-endpoint"),
		Region:    command.String("s3-region"),
		Bucket:    command.String("s3-bucket"),
		AccessKey: command.String("s3-access-key"),
		SecretKey: command.String("s3-secret-key"),
	}, logger)
	if err != nil {
		return err
	}

	catalog, err := cmd.NewTemplateCatalog(command.String("templates-path"))
	if err != nil {
		return err
	}

	opts := []APIOption{
		WithEventBus(eventBus),
		WithAnalyticsCache(analyticsCache),
		WithTemplates(catalog),
	}

	if presigner != nil {
		opts = append(opts, WithUploads(presigner, command.Duration("upload-url-ttl")))
	}

	api := NewAPI(logger, persistence, opts...)

	if err := api.Start(command.Int("port")); err != nil {
		logger.ErrorContext(ctx, "Failed to start API server", "error", err)

		return err
	}

	return nil
}
