// Package service wires the application graph together. Everything hangs off
// one container so main stays a startup script and tests can build the same
// graph against in-memory backends.
package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fsotosa-ops/oasis-api/internal/config"
	"github.com/fsotosa-ops/oasis-api/internal/dispatcher"
	"github.com/fsotosa-ops/oasis-api/internal/dlq"
	"github.com/fsotosa-ops/oasis-api/internal/handlers"
	"github.com/fsotosa-ops/oasis-api/internal/observability"
	"github.com/fsotosa-ops/oasis-api/internal/pipeline"
	"github.com/fsotosa-ops/oasis-api/internal/providers"
	"github.com/fsotosa-ops/oasis-api/internal/rabbitmq"
	"github.com/fsotosa-ops/oasis-api/internal/repository"
)

// Service holds all application dependencies
// This eliminates global state and enables proper dependency injection
type Service struct {
	DB     *gorm.DB
	Logger *zap.Logger
	RMQ    *rabbitmq.Connection

	Events     *repository.EventRepository
	Registry   *providers.Registry
	Metrics    *observability.Metrics
	MetricsReg *prometheus.Registry
	Publisher  *rabbitmq.DeliveryPublisher
	Pipeline   *pipeline.Pipeline
	Dispatcher *dispatcher.Dispatcher
	DLQ        *dlq.Manager
	Worker     *dispatcher.Worker
	Sweeper    *dispatcher.Sweeper

	Webhooks *handlers.WebhooksHandler
	Health   *handlers.HealthHandler
}

// NewService creates a new service instance with all dependencies
func NewService(cfg *config.Config, db *gorm.DB, logger *zap.Logger, rmq *rabbitmq.Connection) *Service {
	metricsReg := prometheus.NewRegistry()
	metricsReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(metricsReg)

	events := repository.NewEventRepository(db)
	registry := providers.NewRegistry(cfg.Providers)
	publisher := rabbitmq.NewDeliveryPublisher(rmq, &cfg.RabbitMQ)

	dlqManager := dlq.NewManager(db, events, logger, cfg.DLQ.MaxRetries)
	client := dispatcher.NewClient(&cfg.Dispatcher)
	disp := dispatcher.New(&cfg.Dispatcher, events, dlqManager, client, metrics, logger)

	pipe := pipeline.New(registry, events, publisher, metrics, logger)

	return &Service{
		DB:         db,
		Logger:     logger,
		RMQ:        rmq,
		Events:     events,
		Registry:   registry,
		Metrics:    metrics,
		MetricsReg: metricsReg,
		Publisher:  publisher,
		Pipeline:   pipe,
		Dispatcher: disp,
		DLQ:        dlqManager,
		Worker:     dispatcher.NewWorker(&cfg.RabbitMQ, rmq, events, disp, logger),
		Sweeper:    dispatcher.NewSweeper(&cfg.Sweep, events, publisher, logger),
		Webhooks:   handlers.NewWebhooksHandler(pipe, registry, events, dlqManager, disp, logger),
		Health:     handlers.NewHealthHandler(db, rmq),
	}
}
