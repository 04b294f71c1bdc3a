package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/task-dispatch/internal/config"
	"github.com/example/task-dispatch/internal/logging"
	"github.com/example/task-dispatch/internal/queue"
	"github.com/example/task-dispatch/internal/storage"
	"github.com/example/task-dispatch/internal/webhook"
)

func main() {
	cfg, err := config.LoadWorkerConfig()
	logger := logging.NewLogger("webhook", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var store webhook.DeveloperLookup
	if cfg.PGDSN != "" {
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

	deadLetters := queue.NewProducer(cfg.KafkaBrokers, cfg.DeadLetterTopic)
	defer deadLetters.Close()

	worker := &webhook.Worker{
		Store:       store,
		DeadLetters: deadLetters,
		Client:      &http.Client{Timeout: cfg.WebhookTimeout},
		Logger:      logger,
		Attempts:    cfg.WebhookAttempts,
		Backoff:     cfg.WebhookBackoff,
		Secret:      cfg.WebhookSecret,
	}

	// metrics and health sidecar
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(200)
			w.Write([]byte("ok"))
		})
		logger.Info("metrics listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reader := queue.NewReader(cfg.KafkaBrokers, cfg.EventsTopic, cfg.KafkaGroup+"-webhook")
	defer reader.Close()

	logger.Info("webhook worker consuming", "topic", cfg.EventsTopic, "brokers", cfg.KafkaBrokers)
	consumer := &webhook.Consumer{Reader: reader, Worker: worker, Logger: logger}
	consumer.Run(ctx)
}
