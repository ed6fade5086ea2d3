// Command restward fetches a URL through a resource service with a
// persistent cache, demonstrating pipeline processing and cache-backed
// restores across runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/restward/restward/cache/leveldb"
	"github.com/restward/restward/cache/memory"
	"github.com/restward/restward/cache/sqlite"
	"github.com/restward/restward/config"
	"github.com/restward/restward/entity"
	"github.com/restward/restward/pipeline"
	"github.com/restward/restward/resource"
	"github.com/restward/restward/telemetry"
	"github.com/restward/restward/transport"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to config file")
		urlFlag    = flag.String("url", "", "URL to fetch (required)")
		trace      = flag.Bool("trace", false, "emit OpenTelemetry spans to stdout")
	)
	flag.Parse()

	if *urlFlag == "" {
		fmt.Fprintln(os.Stderr, "usage: restward -url https://example.com/resource [-config config.yaml]")
		os.Exit(2)
	}

	// Load .env file if it exists
	_ = godotenv.Load()

	path := *configPath
	if !config.Exists(path) {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)

	if *trace {
		shutdown, err := telemetry.InitTracer("restward", logger)
		if err != nil {
			log.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	entityCache, closeCache, err := buildCache(cfg.Cache)
	if err != nil {
		log.Fatalf("Failed to open cache: %v", err)
	}
	defer closeCache()

	expiration, err := cfg.Resource.ExpirationTimeDuration()
	if err != nil {
		log.Fatal(err)
	}
	retry, err := cfg.Resource.RetryTimeDuration()
	if err != nil {
		log.Fatal(err)
	}
	timeout, err := cfg.Resource.TimeoutDuration()
	if err != nil {
		log.Fatal(err)
	}

	pipe := pipeline.New(
		pipeline.WithStandardTransformers(),
		pipeline.WithLogger(logger),
	)
	if entityCache != nil {
		pipe.Stage(pipeline.Parsing).CacheUsing(entityCache)
	}

	svc := resource.New(
		resource.WithPipeline(pipe),
		resource.WithLogger(logger),
		resource.WithExpirationTime(expiration),
		resource.WithRetryTime(retry),
		resource.WithTransport(&transport.HTTPTransport{
			Client: &http.Client{Timeout: timeout},
		}),
	)

	res, err := svc.Resource(*urlFlag)
	if err != nil {
		log.Fatalf("Bad URL: %v", err)
	}

	done := make(chan entity.Result, 1)
	req := res.Load()
	req.OnCompletion(func(result entity.Result) { done <- result })

	select {
	case result := <-done:
		if !result.OK() {
			logger.Error("load failed",
				slog.String("url", *urlFlag),
				slog.String("message", result.Err.Message),
				slog.Int("status", result.Err.Status))
			os.Exit(1)
		}
		logger.Info("load succeeded",
			slog.String("url", *urlFlag),
			slog.String("content_type", result.Entity.ContentType),
			slog.String("etag", result.Entity.ETag))
		fmt.Printf("%v\n", result.Entity.Content)
	case <-time.After(timeout + 5*time.Second):
		logger.Error("load timed out", slog.String("url", *urlFlag))
		os.Exit(1)
	}

	// Give fire-and-forget cache writes a moment to land before exit.
	time.Sleep(100 * time.Millisecond)
}

func buildCache(cfg config.CacheConfig) (pipeline.EntityCache, func(), error) {
	switch cfg.Type {
	case "sqlite":
		c, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil
	case "leveldb":
		c, err := leveldb.New(cfg.LevelDB.Path)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil
	case "memory":
		c, err := memory.New(cfg.Memory.Size)
		if err != nil {
			return nil, nil, err
		}
		return c, func() {}, nil
	case "none", "":
		return nil, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache type %q", cfg.Type)
	}
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
