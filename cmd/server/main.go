package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/task-dispatch/internal/actor"
	"github.com/example/task-dispatch/internal/config"
	"github.com/example/task-dispatch/internal/dispatcher"
	"github.com/example/task-dispatch/internal/httpapi"
	"github.com/example/task-dispatch/internal/logging"
	"github.com/example/task-dispatch/internal/models"
	"github.com/example/task-dispatch/internal/queue"
	"github.com/example/task-dispatch/internal/snapshot"
	"github.com/example/task-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger("api", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var store storage.Store
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			if err := runMigrations(cfg.PGDSN); err != nil {
				logger.Error("migration failed", "error", err)
				os.Exit(1)
			}
		}
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		store = ps
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	var snapshots actor.Snapshotter
	if cfg.RedisAddr != "" {
		snapshots = snapshot.NewRedisSnapshotter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey, logger)
	}

	riders := actor.NewRiderRegistry(snapshots)
	tasks := actor.NewTaskRegistry()

	var events *queue.Producer
	var assign httpapi.AssignmentEnqueuer
	if len(cfg.KafkaBrokers) > 0 {
		events = queue.NewProducer(cfg.KafkaBrokers, cfg.EventsTopic)
		defer events.Close()
		ap := queue.NewProducer(cfg.KafkaBrokers, cfg.AssignTopic)
		defer ap.Close()
		assign = ap
	} else {
		logger.Warn("KAFKA_BROKERS not set, assignment runs in-process and events are logged only")
	}

	dispatch := &dispatcher.Service{
		Store:        store,
		Riders:       riders,
		Events:       eventSink(events, logger),
		Logger:       logger,
		QueryTimeout: cfg.MatchQueryTimeout,
	}

	srv := httpapi.NewServer(store, riders, tasks, dispatch, assign, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The assignment consumer runs in this process because rider actors
	// (and their websocket observers) live here.
	if len(cfg.KafkaBrokers) > 0 {
		reader := queue.NewReader(cfg.KafkaBrokers, cfg.AssignTopic, cfg.KafkaGroup)
		defer reader.Close()
		consumer := &dispatcher.Consumer{Reader: reader, Service: dispatch, Logger: logger}
		go consumer.Run(ctx)
		logger.Info("assignment consumer started", "topic", cfg.AssignTopic, "group", cfg.KafkaGroup)
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("task-dispatch api listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

// eventSink falls back to logging lifecycle events when no broker is
// configured, so local runs still show assignment outcomes.
func eventSink(p *queue.Producer, logger *slog.Logger) dispatcher.EventPublisher {
	if p != nil {
		return p
	}
	return logEvents{logger: logger}
}

type logEvents struct{ logger *slog.Logger }

func (l logEvents) PublishEvent(_ context.Context, ev models.LifecycleEvent) error {
	l.logger.Info("lifecycle event", "type", ev.Type, "task_id", ev.Data.TaskID, "rider_id", ev.Data.RiderID)
	return nil
}

func runMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_tables.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}
