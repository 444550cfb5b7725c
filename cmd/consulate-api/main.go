package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"consulate/internal/audit"
	"consulate/internal/bootstrap"
	"consulate/internal/config"
	server "consulate/internal/http"
	"consulate/internal/jobs"
	"consulate/internal/metrics"
	"consulate/internal/migrate"
	"consulate/internal/services"
	"consulate/internal/store"
	"consulate/internal/telemetry"
	"consulate/internal/token"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: could not load .env: %v", err)
	}

	defaultPath := os.Getenv("CONSULATE_CONFIG")
	if defaultPath == "" {
		defaultPath = "config/config.yaml"
	}
	configPath := flag.String("config", defaultPath, "path to config file")
	flag.Parse()

	cfg := config.Load(*configPath)
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run migrations on a short-lived connection
	if err := migrate.Run(cfg.Database.DSN); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	db, err := store.Open(rootCtx, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db failed: %v", err)
	}
	defer db.Close()
	st := store.New(db)

	checks := map[string]server.HealthCheck{"db": st.Ping}

	var scripter redis.Scripter
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("invalid redis url: %v", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		scripter = rdb
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	} else {
		logger.Warn("redis not configured, rate limit counters are per process")
	}

	sinks := []audit.Sink{}
	if cfg.Audit.Postgres {
		sinks = append(sinks, &audit.PostgresSink{DB: db})
	}
	if cfg.Audit.Log {
		sinks = append(sinks, &audit.LogSink{Logger: logger.With("component", "audit")})
	}
	if cfg.Audit.Kafka.Enabled {
		ks, err := audit.NewKafkaSink(audit.KafkaConfig{
			Brokers: cfg.Audit.Kafka.Brokers,
			Topic:   cfg.Audit.Kafka.Topic,
			Logger:  logger.With("component", "audit"),
		})
		if err != nil {
			log.Fatalf("kafka audit sink: %v", err)
		}
		defer ks.Close()
		sinks = append(sinks, ks)
	}
	emitter := audit.NewEmitter(logger, sinks...)

	shutdownTracing, err := telemetry.Init(rootCtx, cfg.Telemetry, logger)
	if err != nil {
		log.Fatalf("telemetry init failed: %v", err)
	}

	codec, err := token.NewCodec(cfg.Auth.Token.Secret, cfg.Auth.Token.Issuer,
		time.Duration(cfg.Auth.Token.TTLMinutes)*time.Minute)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	if err := bootstrap.Run(rootCtx, cfg, st); err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}

	m := metrics.New()
	pipeline := server.NewGatePipeline(cfg, server.GateDeps{
		Verifier: codec,
		Tenants:  st,
		Owners:   st,
		Tiers:    server.RateTiers(cfg.RateLimit, scripter, logger),
		Audit:    emitter,
		Metrics:  m,
	}, logger)

	s := server.NewServer(cfg, server.Deps{
		Store:    st,
		Auth:     services.NewAuthService(st, codec),
		Pipeline: pipeline,
		Audit:    emitter,
		Metrics:  m,
		Checks:   checks,
	}, logger)

	if cfg.Audit.Postgres && cfg.Audit.RetentionDays > 0 {
		retention := jobs.NewRetention(st, cfg.Audit.RetentionDays,
			time.Duration(cfg.Audit.CleanupIntervalMinutes)*time.Minute, logger.With("component", "retention"))
		retention.Metrics = m
		go retention.Start(rootCtx)
	}

	go func() {
		logger.Info("starting server", "host", cfg.Server.Host, "port", cfg.Server.Port, "gates", pipeline.Gates())
		if err := s.Listen(); err != nil {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Error("tracer shutdown", "error", err)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(cfg.Level))); err != nil || cfg.Level == "" {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	default:
		fmt.Fprintf(os.Stderr, "unknown log format %q, using text\n", cfg.Format)
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
}
