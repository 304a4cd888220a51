package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/phbpx/leadboard"
	"github.com/phbpx/leadboard/handler"
	"github.com/phbpx/leadboard/memory"
	"github.com/phbpx/leadboard/metrics"
	"github.com/phbpx/leadboard/pkg/database"
	"github.com/phbpx/leadboard/postgres"
	"github.com/phbpx/leadboard/rabbitmq"
	"github.com/phbpx/leadboard/redis"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riandyrn/otelchi"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {

	log, err := newLog("leads-api")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	if err := run("leads-api", log); err != nil {
		log.Errorw("startup", "err", err)
		os.Exit(1)
	}
}

func run(serverName string, log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// A missing .env is fine; the environment and flags still apply.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	cfg := struct {
		Http struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			Host            string        `conf:"default:0.0.0.0:3000"`
			CorsOrigins     []string      `conf:"default:*"`
		}
		Store struct {
			Backend string `conf:"default:memory,help:memory|redis|postgres"`
			Seed    bool   `conf:"default:false"`
		}
		Pipeline struct {
			Stages string `conf:"help:semicolon separated stages; empty means the admissions pipeline"`
		}
		DB struct {
			User         string `conf:"default:leadsvc"`
			Password     string `conf:"default:leadsvc,mask"`
			Host         string `conf:"default:localhost"`
			Name         string `conf:"default:leads"`
			MaxIdleConns int    `conf:"default:0"`
			MaxOpenConns int    `conf:"default:0"`
			DisableTLS   bool   `conf:"default:true"`
		}
		Redis struct {
			Addr       string `conf:"default:localhost:6379"`
			Password   string `conf:"mask"`
			DB         int    `conf:"default:0"`
			Key        string `conf:"default:leadboard:board"`
			MaxRetries int    `conf:"default:16"`
		}
		Events struct {
			URL      string `conf:"mask,help:amqp url; events are off when empty"`
			Exchange string `conf:"default:ex.leads"`
		}
		Jaeger struct {
			ReporterURI string  `conf:"default:http://localhost:14268/api/traces"`
			ServiceName string  `conf:"default:leadsvc-api"`
			Probability float64 `conf:"default:0.5"`
		}
	}{}

	help, err := conf.Parse("LEAD", &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	pipeline := leadboard.DefaultPipeline()
	if cfg.Pipeline.Stages != "" {
		if pipeline, err = leadboard.ParsePipeline(cfg.Pipeline.Stages); err != nil {
			return fmt.Errorf("parsing pipeline: %w", err)
		}
	}

	// =========================================================================
	// Start Tracing Support

	log.Infow("startup", "status", "initializing OT/Jaeger tracing support")

	traceProvider, err := startTracing(
		cfg.Jaeger.ServiceName,
		cfg.Jaeger.ReporterURI,
		cfg.Jaeger.Probability,
	)
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer traceProvider.Shutdown(context.Background())

	// =========================================================================
	// Store Support

	var (
		leadService leadboard.LeadService
		check       handler.StatusChecker
	)

	log.Infow("startup", "status", "initializing store", "backend", cfg.Store.Backend)

	switch cfg.Store.Backend {
	case "memory":
		leadService = memory.NewLeadService(pipeline)

	case "redis":
		client, err := redis.Open(context.Background(), redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer func() {
			log.Infow("shutdown", "status", "stopping redis support", "addr", cfg.Redis.Addr)
			client.Close()
		}()

		leadService = redis.NewLeadService(client, redis.Config{
			Key:        cfg.Redis.Key,
			MaxRetries: cfg.Redis.MaxRetries,
		}, pipeline)
		check = func(ctx context.Context) error { return redis.StatusCheck(ctx, client) }

	case "postgres":
		log.Infow("startup", "status", "initializing database support", "host", cfg.DB.Host)

		db, err := database.Open(database.Config{
			User:         cfg.DB.User,
			Password:     cfg.DB.Password,
			Host:         cfg.DB.Host,
			Name:         cfg.DB.Name,
			MaxIdleConns: cfg.DB.MaxIdleConns,
			MaxOpenConns: cfg.DB.MaxOpenConns,
			DisableTLS:   cfg.DB.DisableTLS,
		})
		if err != nil {
			return fmt.Errorf("connecting to db: %w", err)
		}
		defer func() {
			log.Infow("shutdown", "status", "stopping database support", "host", cfg.DB.Host)
			db.Close()
		}()

		log.Infow("startup", "status", "updating database schema", "database", cfg.DB.Name, "host", cfg.DB.Host)

		if err := postgres.Migrate(context.Background(), db); err != nil {
			return fmt.Errorf("updating database schema: %w", err)
		}

		leadService = postgres.NewLeadService(db, pipeline)
		check = func(ctx context.Context) error { return database.StatusCheck(ctx, db) }

	default:
		return fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	// =========================================================================
	// Event Support

	if cfg.Events.URL != "" {
		log.Infow("startup", "status", "initializing event publishing", "exchange", cfg.Events.Exchange)

		conn, err := rabbitmq.Open(rabbitmq.Config{
			URL:      cfg.Events.URL,
			Exchange: cfg.Events.Exchange,
		})
		if err != nil {
			return err
		}
		defer func() {
			log.Infow("shutdown", "status", "stopping event publishing")
			conn.Close()
		}()

		leadService = rabbitmq.NewLeadService(leadService, conn.Ch, cfg.Events.Exchange, log)
	}

	if cfg.Store.Seed {
		if err := seed(context.Background(), leadService, log); err != nil {
			return fmt.Errorf("seeding leads: %w", err)
		}
	}

	// =========================================================================
	// Create router

	log.Infow("startup", "status", "initializing router")

	otelLog := otelzap.New(log.Desugar(), otelzap.WithStackTrace(true), otelzap.WithTraceIDField(true)).Sugar()
	r := newRouter(serverName, cfg.Http.CorsOrigins, pipeline, leadService, check, otelLog)

	// =========================================================================
	// Start API Server

	log.Infow("startup", "status", "initializing http server", "host", cfg.Http.Host)

	server := &http.Server{
		Addr:         cfg.Http.Host,
		Handler:      r,
		ReadTimeout:  cfg.Http.ReadTimeout,
		WriteTimeout: cfg.Http.WriteTimeout,
		IdleTimeout:  cfg.Http.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.ListenAndServe()
	}()

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Http.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			server.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	return nil
}

func newRouter(serverName string, origins []string, pipeline leadboard.Pipeline, leadService leadboard.LeadService, check handler.StatusChecker, log *otelzap.SugaredLogger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(otelchi.Middleware(serverName, otelchi.WithChiRoutes(r)))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(metrics.Middleware)

	healthHandler := handler.NewHealthHandler(check, log)
	r.Get("/readiness", healthHandler.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	handler.NewLeadHandler(leadService, pipeline, log).Routes(r)

	return r
}

// seed loads the sample leads. Leads already present are left alone so a
// restart against a persistent store does not fail.
func seed(ctx context.Context, leadService leadboard.LeadService, log *zap.SugaredLogger) error {
	samples := []leadboard.NewLead{
		{Name: "Alice Johnson", Email: "alice@example.com", Course: "Computer Science", Phone: "(555) 123-4567"},
		{Name: "Bob Smith", Email: "bob@example.com", Course: "Engineering", Phone: "(555) 234-5678"},
	}

	for _, nl := range samples {
		lead, err := leadService.Create(ctx, nl)
		switch {
		case errors.Is(err, leadboard.ErrDuplicateLead):
			log.Infow("seed", "status", "already present", "name", nl.Name)
		case err != nil:
			return err
		default:
			log.Infow("seed", "status", "created", "id", lead.ID, "name", lead.Name)
		}
	}
	return nil
}

func newLog(serviceName string) (*zap.SugaredLogger, error) {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.DisableStacktrace = true
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	log, err := config.Build()
	if err != nil {
		return nil, err
	}

	return log.Sugar(), nil
}

func startTracing(serviceName, reporterURL string, probability float64) (*tracesdk.TracerProvider, error) {
	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(reporterURL)))
	if err != nil {
		return nil, fmt.Errorf("creating new exporter: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(probability))),
		// Always be sure to batch in production.
		tracesdk.WithBatcher(exp,
			tracesdk.WithMaxExportBatchSize(tracesdk.DefaultMaxExportBatchSize),
			tracesdk.WithBatchTimeout(tracesdk.DefaultScheduleDelay*time.Millisecond),
		),
		// Record information about this application in a Resource.
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			attribute.String("exporter", "jaeger"),
		)),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}
