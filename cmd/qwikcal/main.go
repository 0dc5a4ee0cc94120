package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/qwikcal/qwikcal/app/controllers"
	"github.com/qwikcal/qwikcal/app/repository"
	"github.com/qwikcal/qwikcal/internal/pkg/billing"
	"github.com/qwikcal/qwikcal/internal/pkg/blobstore"
	"github.com/qwikcal/qwikcal/internal/pkg/cache"
	"github.com/qwikcal/qwikcal/internal/pkg/calendar"
	"github.com/qwikcal/qwikcal/internal/pkg/database"
	"github.com/qwikcal/qwikcal/internal/pkg/entitlements"
	"github.com/qwikcal/qwikcal/internal/pkg/env"
	"github.com/qwikcal/qwikcal/internal/pkg/extraction"
	"github.com/qwikcal/qwikcal/internal/pkg/mail"
	"github.com/qwikcal/qwikcal/internal/pkg/metrics/counter"
	"github.com/qwikcal/qwikcal/internal/pkg/notify"
	"github.com/qwikcal/qwikcal/internal/pkg/pipeline"
	"github.com/qwikcal/qwikcal/internal/pkg/queue"
	"github.com/qwikcal/qwikcal/internal/pkg/router"
)

func main() {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	app, workers := newApplication()

	for _, w := range workers {
		w.Start()
	}

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := app.Listen(addr); err != nil {
			log.Fatalf("Server stopped: %v", err)
		}
	}()

	// Drain in-flight batches before exiting
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Errorf("Server shutdown: %v", err)
	}
	for _, w := range workers {
		w.Stop()
	}
}

// newApplication wires the full pipeline: repositories, blob storage,
// queues, the notification topics with their filtered subscriptions, the
// stage workers and the HTTP surface.
func newApplication() (*fiber.App, []*queue.Worker) {
	repos := repository.NewFactory(database.GetDB()).GetRepositories()

	storeCfg, err := blobstore.LoadConfig()
	if err != nil {
		log.Fatalf("Blob storage configuration: %v", err)
	}
	store, err := blobstore.NewS3Store(storeCfg)
	if err != nil {
		log.Fatalf("Blob storage setup: %v", err)
	}

	builder := calendar.NewBuilder(store)
	gate := entitlements.NewGate(repos.Account)

	redisClient := cache.GetClient()
	extractionQueue := queue.NewQueue(redisClient, "extraction", queue.DefaultMaxReceives)
	eventsQueue := queue.NewQueue(redisClient, "events", queue.DefaultMaxReceives)
	deliveryQueue := queue.NewQueue(redisClient, "delivery", queue.DefaultMaxReceives)
	billingQueue := queue.NewQueue(redisClient, "billing", queue.DefaultMaxReceives)

	notifications := notify.NewTopic("notifications")
	billingTopic := notify.NewFIFOTopic("billing")

	notifications.SubscribeQueue("extraction", pipeline.ExtractionFilter(), extractionQueue)
	notifications.SubscribeQueue("event-mutation", pipeline.MutationFilter(), eventsQueue)
	notifications.SubscribeQueue("delivery", pipeline.DeliveryFilter(), deliveryQueue)
	billingTopic.SubscribeQueue("billing", pipeline.BillingFilter(), billingQueue)

	mailer := mail.NewSMTPMailerFromEnv()
	notifications.Subscribe("subscription-email", pipeline.SubscriptionNoticeFilter(), pipeline.NewSubscriptionNoticeHandler(mailer))

	ingestor := pipeline.NewIngestor(repos.Event, store, builder, gate, notifications)

	extractor := extraction.NewOpenAIClientFromEnv()
	extractionStage := pipeline.NewExtractionStage(repos.Event, store, builder, extractor, notifications, queue.DefaultMaxReceives)
	mutationStage := pipeline.NewEventMutationStage(repos.Event, notifications)

	publicURL := env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000")
	deliveryStage := pipeline.NewDeliveryStage(repos.Event, store, mailer, publicURL)

	billingService := billing.NewService(repos.Account, notifications)
	billingStage := pipeline.NewBillingStage(billingService)

	workers := []*queue.Worker{
		queue.NewWorker(extractionQueue, extractionStage.HandleBatch, 1, 20*time.Second),
		queue.NewWorker(eventsQueue, mutationStage.HandleBatch, 10, 30*time.Second),
		queue.NewWorker(deliveryQueue, deliveryStage.HandleBatch, 1, 20*time.Second),
		// A single billing worker keeps per-group ordering intact
		queue.NewWorker(billingQueue, billingStage.HandleBatch, 10, 30*time.Second),
	}
	for _, w := range workers {
		stage := w.Queue().Name()
		w.OnBatch(func(acked, failed int) {
			if err := counter.AddProcessed(stage, acked); err != nil {
				log.Debugf("Failed to count processed for %s: %v", stage, err)
			}
			if err := counter.AddFailed(stage, failed); err != nil {
				log.Debugf("Failed to count failed for %s: %v", stage, err)
			}
		})
	}

	provider := billing.NewProviderClientFromEnv()
	eventController := controllers.NewEventController(ingestor, repos.Event, store, builder, gate, notifications)
	billingController := controllers.NewBillingController(billingService, provider, billingTopic, env.GetEnv("BILLING_WEBHOOK_SECRET", ""))

	app := fiber.New(fiber.Config{
		BodyLimit: 16 * 1024 * 1024,
	})
	app.Use(recover.New(), logger.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), monitor.New())

	app.Get("/stats", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), func(c *fiber.Ctx) error {
		stats, err := counter.Snapshot()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
		}
		return c.JSON(stats)
	})

	router.InstallRouter(app, router.NewApiRouter(eventController, billingController, repos.Account))

	return app, workers
}
