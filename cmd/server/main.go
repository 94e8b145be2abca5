package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"changeflow/internal/blob"
	crhandler "changeflow/internal/changerequest/handler"
	crmetrics "changeflow/internal/changerequest/metrics"
	crservice "changeflow/internal/changerequest/service"
	crstore "changeflow/internal/changerequest/store"
	"changeflow/internal/identity"
	"changeflow/internal/notification"
	"changeflow/internal/platform/config"
	"changeflow/internal/platform/database"
	"changeflow/internal/platform/httpserver"
	"changeflow/internal/platform/kafka"
	"changeflow/internal/platform/logger"
	"changeflow/internal/platform/metrics"
	"changeflow/internal/platform/redis"
	"changeflow/internal/sequence"
	"changeflow/pkg/platform/audit"
	auditmemory "changeflow/pkg/platform/audit/store/memory"
	auditpostgres "changeflow/pkg/platform/audit/store/postgres"
	"changeflow/pkg/platform/audit/worker"
	"changeflow/pkg/platform/circuit"
	"changeflow/pkg/platform/httputil"
	authmw "changeflow/pkg/platform/middleware/auth"
	"changeflow/pkg/platform/middleware/metadata"
	"changeflow/pkg/platform/middleware/request"
	"changeflow/pkg/platform/middleware/requesttime"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "changeflow: %v\n", err)
		os.Exit(1)
	}
}

// infra holds the optional backends selected by configuration. Nil fields are disabled.
type infra struct {
	db    *sql.DB
	redis *redis.Client
	kafka *kgo.Client
}

func (i *infra) close() {
	if i.kafka != nil {
		i.kafka.Close()
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
	if i.db != nil {
		_ = i.db.Close()
	}
}

func run() error {
	cfg, err := config.Load(".env", ".env.local")
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.close()

	async, relay := buildNotifications(ctx, cfg, deps, log)
	svc, err := buildService(cfg, deps, async, log)
	if err != nil {
		return err
	}

	resolver := identity.NewJWTResolver(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience)
	router := newRouter(log, svc, resolver, deps)
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(gctx, "starting changeflow",
			"addr", cfg.Addr,
			"environment", cfg.Environment,
			"postgres", deps.db != nil,
			"redis", deps.redis != nil,
			"kafka", deps.kafka != nil,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if relay != nil {
		g.Go(func() error {
			if err := relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("outbox relay: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down", "timeout", cfg.ShutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		async.Wait()
		return nil
	})

	return g.Wait()
}

// connect opens every configured backend. A backend left unconfigured stays nil and its
// in-process fallback is used.
func connect(ctx context.Context, cfg config.Server, log *slog.Logger) (*infra, error) {
	deps := &infra{}

	if cfg.DatabaseURL != "" {
		db, err := database.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		deps.db = db
		if err := database.Migrate(ctx, db, log); err != nil {
			deps.close()
			return nil, err
		}
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		deps.close()
		return nil, err
	}
	deps.redis = rc

	kc, err := kafka.NewClient(ctx, cfg.Kafka)
	if err != nil {
		deps.close()
		return nil, err
	}
	deps.kafka = kc
	if kc != nil {
		if err := kafka.EnsureTopics(ctx, kc, cfg.Kafka, log); err != nil {
			deps.close()
			return nil, err
		}
	}
	return deps, nil
}

// buildNotifications selects the notification dispatcher and, with both Postgres and
// Kafka available, the history outbox relay.
func buildNotifications(ctx context.Context, cfg config.Server, deps *infra, log *slog.Logger) (*notification.Async, *worker.Relay) {
	notifyMetrics := notification.NewMetrics()
	logDispatcher := notification.NewLogDispatcher(log)

	var dispatcher notification.Dispatcher = logDispatcher
	var relay *worker.Relay
	if deps.kafka != nil {
		dispatcher = notification.NewKafkaDispatcher(deps.kafka, cfg.Kafka.NotificationTopic,
			notification.WithFallback(logDispatcher),
			notification.WithBreaker(circuit.New("notifications")),
			notification.WithKafkaLogger(log),
			notification.WithKafkaMetrics(notifyMetrics),
		)
		if deps.db != nil {
			relay = worker.NewRelay(deps.db, kafka.NewPublisher(deps.kafka, cfg.Kafka.HistoryTopic),
				worker.WithLogger(log),
				worker.WithBatchSize(cfg.Workflow.OutboxBatch),
				worker.WithPollInterval(cfg.Workflow.OutboxPoll),
			)
		}
	}
	log.InfoContext(ctx, "notifications configured",
		"kafka", deps.kafka != nil,
		"history_relay", relay != nil,
	)

	async := notification.NewAsync(dispatcher,
		notification.WithLogger(log),
		notification.WithMetrics(notifyMetrics),
		notification.WithTimeout(cfg.Workflow.NotifyTimeout),
	)
	return async, relay
}

func buildService(cfg config.Server, deps *infra, async *notification.Async, log *slog.Logger) (*crservice.Service, error) {
	blobs, err := blob.NewFSStore(cfg.BlobRoot)
	if err != nil {
		return nil, err
	}

	var (
		st      crservice.Store
		history audit.Store
		seq     sequence.Allocator
		tx      crservice.StoreTx
	)
	if deps.db != nil {
		st = crstore.NewPostgres(deps.db)
		history = auditpostgres.New(deps.db)
		seq = sequence.NewPostgresAllocator(deps.db)
		tx = newPostgresTx(deps.db, cfg.Workflow.TxTimeout)
	} else {
		st = crstore.NewInMemory()
		history = auditmemory.NewInMemoryStore()
		seq = sequence.NewMemoryAllocator()
		tx = crservice.NewShardedTx(cfg.Workflow.TxTimeout)
	}
	if deps.redis != nil {
		seq = sequence.NewRedisAllocator(deps.redis)
	}

	recorder := audit.NewRecorder(history,
		audit.WithLogger(log),
		audit.WithMetrics(audit.NewMetrics()),
	)
	return crservice.New(st, recorder, seq, blobs, async,
		crservice.WithLogger(log),
		crservice.WithMetrics(crmetrics.New()),
		crservice.WithClosureWindow(cfg.Workflow.ClosureWindow),
		crservice.WithTx(tx),
	), nil
}

func newRouter(log *slog.Logger, svc *crservice.Service, validator authmw.JWTValidator, deps *infra) http.Handler {
	httpMetrics := metrics.New()

	r := chi.NewRouter()
	r.Use(request.Recovery(log))
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(request.Logger(log))
	r.Use(httpMetrics.Instrument)

	r.Get("/health", healthHandler(deps))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(validator, log))
		crhandler.New(svc, log).Register(r)
	})
	return r
}

func healthHandler(deps *infra) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{}
		healthy := true
		if deps.db != nil {
			checks["postgres"] = "ok"
			if err := deps.db.PingContext(ctx); err != nil {
				checks["postgres"] = err.Error()
				healthy = false
			}
		}
		if deps.redis != nil {
			checks["redis"] = "ok"
			if err := deps.redis.Health(ctx); err != nil {
				checks["redis"] = err.Error()
				healthy = false
			}
		}
		if deps.kafka != nil {
			checks["kafka"] = "ok"
			if err := deps.kafka.Ping(ctx); err != nil {
				checks["kafka"] = err.Error()
				healthy = false
			}
		}

		status := http.StatusOK
		body := map[string]any{"status": "ok", "checks": checks}
		if !healthy {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
		httputil.WriteJSON(w, status, body)
	}
}
