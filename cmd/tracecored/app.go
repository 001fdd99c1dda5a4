package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"tracecore/internal/blob"
	"tracecore/internal/config"
	"tracecore/internal/core"
	"tracecore/internal/httpapi"
	"tracecore/internal/infra/ratelimit"
	"tracecore/pkg/domain"
)

// app holds the wired service and everything that must be closed with it.
type app struct {
	service *core.Service
	server  *httpapi.Server
	closers []func(context.Context) error
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	return errors.Join(errs...)
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.close(ctx)
		}
	}()

	opts := []core.Option{
		core.WithLogger(core.NewSlogLogger(logger)),
		core.WithAuditRecorder(core.NewSlogAuditRecorder(logger)),
	}

	metricsOpt, metricsHandler, err := buildMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}
	if metricsOpt != nil {
		opts = append(opts, metricsOpt)
	}

	tracer, shutdownTracing, err := buildTracer(ctx, cfg.OTel)
	if err != nil {
		return nil, err
	}
	if tracer != nil {
		opts = append(opts, core.WithTracer(tracer))
		a.closers = append(a.closers, shutdownTracing)
	}

	var archiver *core.BlobArchiver
	if cfg.Blob.Driver != "none" {
		store, err := blob.Open(ctx, blobConfig(cfg.Blob))
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
		archiver = core.NewBlobArchiver(store)
		opts = append(opts, core.WithEventSink(archiver))
		logger.Info("event archive enabled", "driver", string(store.Driver()))
	}

	store, closeStore, err := core.OpenPersistentStore(storageConfig(cfg), opts...)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return closeStore() })
	a.service = core.NewService(store, opts...)
	if archiver != nil {
		// A failed resync is repaired by the next published event.
		if err := archiver.Resync(ctx); err != nil {
			logger.Error("event archive resync failed", "error", err)
		}
	}

	limiter, closeLimiter, err := buildLimiter(cfg)
	if err != nil {
		return nil, err
	}
	if closeLimiter != nil {
		a.closers = append(a.closers, func(context.Context) error { return closeLimiter() })
	}

	serverOpts := []httpapi.Option{httpapi.WithLogger(logger.With("component", "http"))}
	if limiter != nil {
		serverOpts = append(serverOpts, httpapi.WithRateLimiter(limiter, cfg.RateLimit.FailClosed))
	}
	if metricsHandler != nil {
		serverOpts = append(serverOpts, httpapi.WithMetricsHandler(metricsHandler))
	}
	a.server = httpapi.NewServer(a.service, serverOpts...)
	return a, nil
}

func storageConfig(cfg config.Config) core.StorageConfig {
	return core.StorageConfig{
		Driver:      core.StorageDriver(cfg.Storage.Driver),
		Deployer:    domain.ActorID(cfg.Deployer),
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
	}
}

func blobConfig(cfg config.BlobConfig) blob.Config {
	return blob.Config{
		Driver: blob.Driver(cfg.Driver),
		FSRoot: cfg.FSRoot,
		S3: blob.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PathStyle:       cfg.S3.PathStyle,
		},
	}
}

// buildMetrics returns the service option and /metrics handler for the
// configured backend. Both are nil for "none".
func buildMetrics(cfg config.MetricsConfig) (core.Option, http.Handler, error) {
	switch cfg.Backend {
	case "prometheus":
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		rec, err := core.NewPrometheusMetricsRecorder(reg)
		if err != nil {
			return nil, nil, fmt.Errorf("register metrics: %w", err)
		}
		return core.WithMetricsRecorder(rec), promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}), nil
	case "expvar":
		rec := core.NewExpvarMetricsRecorder("")
		return core.WithMetricsRecorder(rec), expvar.Handler(), nil
	case "none", "":
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown metrics backend %q", cfg.Backend)
	}
}

// buildTracer exports spans over OTLP/gRPC when an endpoint is configured.
func buildTracer(ctx context.Context, cfg config.OTelConfig) (core.Tracer, func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return nil, nil, nil
	}
	exporterOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("otlp exporter: %w", err)
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(provider)
	return core.NewOTelTracer(provider.Tracer("tracecore/core")), provider.Shutdown, nil
}

// buildLimiter picks Redis when an address is configured, otherwise an
// in-process limiter. Both are nil when limiting is disabled.
func buildLimiter(cfg config.Config) (ratelimit.Limiter, func() error, error) {
	rl := cfg.RateLimit
	if rl.Requests <= 0 {
		return nil, nil, nil
	}
	if cfg.Redis.Addr == "" {
		return ratelimit.NewMemoryLimiter(ratelimit.MemoryConfig{
			Limit:  rl.Requests,
			Window: rl.Window,
			Burst:  rl.Burst,
		}), nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	limiter, err := ratelimit.NewRedisLimiter(client, ratelimit.RedisConfig{Limit: rl.Requests, Window: rl.Window})
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return limiter, client.Close, nil
}
