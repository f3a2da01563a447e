package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/fleetops/driver-ledger/internal/config"
	"github.com/fleetops/driver-ledger/internal/domain/ledger"
	"github.com/fleetops/driver-ledger/internal/domain/overdraft"
	"github.com/fleetops/driver-ledger/internal/domain/period"
	"github.com/fleetops/driver-ledger/internal/middleware"
	"github.com/fleetops/driver-ledger/internal/pkg/database"
	"github.com/fleetops/driver-ledger/internal/pkg/events"
	"github.com/fleetops/driver-ledger/internal/pkg/jwt"
	"github.com/fleetops/driver-ledger/internal/pkg/logger"
	"github.com/fleetops/driver-ledger/internal/pkg/metrics"
	pkgresponse "github.com/fleetops/driver-ledger/internal/pkg/response"
)

const requestTimeout = 30 * time.Second

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		LogFile:     cfg.LogFile,
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise logger")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Str("store", cfg.LedgerStore).
		Msg("Starting driver ledger API")

	var db *sqlx.DB
	if cfg.LedgerStore == config.StorePostgres {
		if cfg.RunMigrations {
			if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
				log.Fatal().Err(err).Msg("Failed to run migrations")
			}
		}
		var err error
		db, err = database.NewPostgres(context.Background(), cfg.PostgresOptions())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer database.ClosePostgres(db)
	}

	rdb, err := database.NewRedis(context.Background(), cfg.RedisOptions())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	a, err := newApp(cfg, db, rdb)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build application")
	}

	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to AMQP")
		}
		defer amqpPub.Close()
		a.ledger.Observe(ledger.NewEventObserver(amqpPub))
	}

	if cfg.SnapshotInterval > 0 {
		worker := overdraft.NewWorker(a.overdraft, cfg.SnapshotInterval).WithReconciler(a.ledger.Balances())
		worker.Start()
		defer worker.Stop()
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      a.routes(cfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: requestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

type app struct {
	db        *sqlx.DB
	jwt       *jwt.Service
	ledger    *ledger.Ledger
	overdraft *overdraft.Service
}

// newApp wires the domain. A nil db selects the in-memory store; a nil Redis
// client disables the trend cache and event stream.
func newApp(cfg *config.Config, db *sqlx.DB, rdb *redis.Client) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	periods := period.NewClassifier(loc)

	var store ledger.Store
	if db != nil {
		store = ledger.NewPostgresStore(db)
	} else {
		store = ledger.NewMemoryStore()
	}

	registry := ledger.NewRegistry(store, periods, cfg.DefaultSpendingLimit)
	engine := ledger.NewBalanceEngine(store, periods)
	l := ledger.NewLedger(store, registry, engine, periods, ledger.Options{AutoProvision: cfg.AutoProvision})

	cache := overdraft.NewTrendCache(rdb, cfg.TrendCacheTTL)
	l.Observe(ledger.MetricsObserver{})
	l.Observe(ledger.NewEventObserver(events.NewPublisher(rdb, cfg.EventsStream)))
	l.Observe(cache)
	registry.Observe(cache)

	analyzer := overdraft.NewAnalyzer(store, periods)
	trends := overdraft.NewTrendAggregator(store, engine, periods, cfg.TrendMaxDays, cfg.TrendWorkers)

	return &app{
		db:        db,
		jwt:       jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL),
		ledger:    l,
		overdraft: overdraft.NewService(analyzer, trends, cache),
	}, nil
}

func (a *app) routes(cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))
	if cfg.MetricsEnabled {
		r.Use(metrics.Instrument)
		r.Handle("/metrics", metrics.Handler())
	}

	r.Get("/health", a.health)

	authMiddleware := middleware.Auth(a.jwt)
	ledgerHandler := ledger.NewHandler(a.ledger)
	overdraftHandler := overdraft.NewHandler(a.overdraft)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Mount("/transactions", ledgerHandler.TransactionRoutes(authMiddleware))
		r.Mount("/accounts", ledgerHandler.AccountRoutes(authMiddleware))
		r.Mount("/overdraft", overdraftHandler.Routes(authMiddleware))
	})

	return r
}

func (a *app) health(w http.ResponseWriter, r *http.Request) {
	if a.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.db.PingContext(ctx); err != nil {
			log.Error().Err(err).Msg("Health check: database unreachable")
			pkgresponse.ServiceUnavailable(w, "Database unreachable")
			return
		}
	}
	pkgresponse.OK(w, map[string]string{
		"status":  "ok",
		"version": "1.0.0",
	})
}
