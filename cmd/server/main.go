package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/fsotosa-ops/oasis-api/internal/config"
	"github.com/fsotosa-ops/oasis-api/internal/database"
	"github.com/fsotosa-ops/oasis-api/internal/logger"
	"github.com/fsotosa-ops/oasis-api/internal/rabbitmq"
	"github.com/fsotosa-ops/oasis-api/internal/routes"
	"github.com/fsotosa-ops/oasis-api/internal/service"
)

func main() {
	log, err := logger.New(os.Getenv("LOG_LEVEL"))
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	// Connect to PostgreSQL and bring the schema up to date
	db, err := database.Connect(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, log); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()

	if err := database.RunMigrations(&cfg.Database, log); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Connect to RabbitMQ and declare the delivery topology
	rmq := rabbitmq.NewConnection(&cfg.RabbitMQ, log)
	if err := rmq.Connect(); err != nil {
		log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer rmq.Close()

	if err := rmq.DeclareDeliveryTopology(); err != nil {
		log.Fatal("Failed to declare RabbitMQ topology", zap.Error(err))
	}

	// Build the application graph
	svc := service.NewService(cfg, db, log, rmq)

	// Start the background dispatcher worker
	if err := svc.Worker.Start(); err != nil {
		log.Fatal("Failed to start dispatcher worker", zap.Error(err))
	}

	// Start the recovery sweep for events stranded by crashes or broker loss
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go svc.Sweeper.Run(sweepCtx)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "OASIS Webhook Gateway",
		ServerHeader: "Fiber",
	})

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,Typeform-Signature,Stripe-Signature",
	}))

	// Setup routes
	routes.SetupRoutes(app, svc.Health, svc.Webhooks, svc.MetricsReg)

	// Start server in a goroutine
	go func() {
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		log.Info("Server starting",
			zap.String("address", addr),
		)
		if err := app.Listen(addr); err != nil {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		log.Error("Error during server shutdown", zap.Error(err))
	}

	stopSweep()
	if err := svc.Worker.Stop(); err != nil {
		log.Error("Error stopping dispatcher worker", zap.Error(err))
	}

	log.Info("Server stopped")
}
