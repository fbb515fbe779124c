package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/audioconv/internal/converter"
	"github.com/your-org/audioconv/internal/engine"
	"github.com/your-org/audioconv/internal/ratelimit"
	"github.com/your-org/audioconv/internal/workspace"
	"github.com/your-org/audioconv/pkg/config"
	"github.com/your-org/audioconv/pkg/kafka"
	"github.com/your-org/audioconv/pkg/logger"
	"github.com/your-org/audioconv/pkg/storage/objectstore"
	"github.com/your-org/audioconv/pkg/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logr, err := logger.New(cfg.App.LogLevel, cfg.App.Environment)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		Attributes:  parseResourceAttributes(cfg.Tracing.ResourceAttr),
		ServiceName: cfg.App.Name,
		Version:     cfg.App.Version,
	})
	if err != nil {
		logr.Fatal("init tracing", zap.Error(err))
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	var producer converter.EventProducer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			Compression:  kafka.CompressionFromString(cfg.Kafka.CompressionCodec),
			MaxAttempts:  cfg.Kafka.Retries,
		})
		logr.Info("conversion event stream enabled", zap.String("topic", cfg.Kafka.Topic))
	}

	var archive objectstore.Client
	if cfg.Archive.Enabled {
		archive, err = objectstore.New(objectstore.Config{
			Provider:  cfg.Archive.Provider,
			Endpoint:  cfg.Archive.Endpoint,
			Region:    cfg.Archive.Region,
			Bucket:    cfg.Archive.Bucket,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			logr.Fatal("init archive store", zap.Error(err))
		}
		logr.Info("artifact archiving enabled", zap.String("bucket", cfg.Archive.Bucket))
	}

	workspaces, err := workspace.NewManager(cfg.Convert.WorkDir, logr)
	if err != nil {
		logr.Fatal("init workspace manager", zap.Error(err))
	}

	limiter := ratelimit.New()
	limiter.StartPruning(ctx, cfg.RateLimit.PruneInterval)

	service := converter.NewService(converter.Params{
		Workspaces:     workspaces,
		Transcoder:     engine.NewTranscoder(cfg.Convert.FFmpegBin, cfg.Convert.Timeout, logr),
		Fetcher:        engine.NewFetcher(cfg.Fetch.YtdlpBin, cfg.Fetch.Timeout, logr),
		Producer:       producer,
		Archive:        archive,
		Logger:         logr,
		MaxUploadBytes: cfg.Convert.MaxFileSizeBytes,
		DefaultCookies: cfg.Fetch.CookiesBase64,
		Version:        cfg.App.Version,
		MaxConcurrent:  cfg.Convert.MaxConcurrent,
	})

	handler := converter.NewHTTPHandler(service, limiter, logr, converter.RouteLimits{
		Window:   cfg.RateLimit.Window,
		Convert:  cfg.RateLimit.ConvertLimit,
		Download: cfg.RateLimit.DownloadLimit,
		Info:     cfg.RateLimit.InfoLimit,
	}, cfg.Convert.MaxFileSizeBytes, cfg.Convert.MultipartMemBytes)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logr.Error("http server shutdown failed", zap.Error(err))
		}
		if err := service.Close(); err != nil {
			logr.Error("service shutdown failed", zap.Error(err))
		}
	}()

	logr.Info("converter service starting",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("work_dir", workspaces.Root()))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logr.Fatal("http server failed", zap.Error(err))
	}
}

func parseResourceAttributes(raw string) map[string]string {
	attrs := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" || !strings.Contains(pair, "=") {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		attrs[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return attrs
}
