package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"locations-inside-prison/internal/certificates"
	"locations-inside-prison/internal/certification"
	certhandler "locations-inside-prison/internal/certification/handler"
	certservice "locations-inside-prison/internal/certification/service"
	"locations-inside-prison/internal/events"
	"locations-inside-prison/internal/locations"
	lochandler "locations-inside-prison/internal/locations/handler"
	locservice "locations-inside-prison/internal/locations/service"
	"locations-inside-prison/internal/occupancy"
	"locations-inside-prison/internal/platform/config"
	"locations-inside-prison/internal/platform/httpserver"
	"locations-inside-prison/internal/platform/kafka"
	"locations-inside-prison/internal/platform/logger"
	"locations-inside-prison/internal/platform/metrics"
	"locations-inside-prison/internal/platform/middleware"
	platformredis "locations-inside-prison/internal/platform/redis"
	"locations-inside-prison/internal/prisonconfig"
	"locations-inside-prison/pkg/platform/tx"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type txRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	var (
		locStore  locations.Store
		certStore certificates.Store
		reqStore  certification.Store
		runner    txRunner
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		locStore = locations.NewPostgresStore(db)
		certStore = certificates.NewPostgresStore(db)
		reqStore = certification.NewPostgresStore(db)
		runner = tx.NewRunner(db)
	} else {
		// No database configured: run everything in memory for local use.
		log.Warn("DATABASE_URL not set, using in-memory stores")
		locStore = locations.NewInMemoryStore()
		certStore = certificates.NewInMemoryStore()
		reqStore = certification.NewInMemoryStore()
		runner = tx.Nop{}
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	certificationPrisons := prisonconfig.StaticSource{}
	for _, prisonID := range cfg.CertificationPrisons {
		certificationPrisons[prisonID] = true
	}
	resolver := prisonconfig.NewCachedResolver(certificationPrisons, redisClient, cfg.PrisonConfigTTL, log)

	var occupancyClient occupancy.Client
	if cfg.PrisonerSearchURL != "" {
		occupancyClient = occupancy.NewHTTPClient(cfg.PrisonerSearchURL, cfg.PrisonerSearchTimeout)
	} else {
		log.Warn("PRISONER_SEARCH_URL not set, occupancy checks always pass")
		occupancyClient = occupancy.Stub{}
	}

	var publisher events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer producer.Close()
		if err := producer.EnsureTopic(ctx, cfg.EventTopic, 3); err != nil {
			return fmt.Errorf("ensure event topic: %w", err)
		}
		publisher = events.NewKafkaPublisher(producer, cfg.EventTopic, log, events.WithMetrics(m))
	} else {
		log.Warn("KAFKA_BROKERS not set, domain events are not published")
		publisher = events.NewRecorder()
	}

	builder := certificates.NewBuilder(locStore, certStore)
	locSvc := locservice.NewService(locStore, runner, occupancyClient, resolver, publisher, log,
		locservice.WithMetrics(m))
	certSvc := certservice.NewService(locStore, reqStore, certStore, builder, runner, occupancyClient, publisher, log,
		certservice.WithMetrics(m))

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Actor)
	router.Use(middleware.ContentTypeJSON)
	router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())
	lochandler.New(locSvc, log).Routes(router)
	certhandler.New(certSvc, log).Routes(router)

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
