package main

import (
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/convertrack/backend/database"
	"github.com/convertrack/backend/internal/jobs"
	"github.com/convertrack/backend/internal/models"
	"github.com/convertrack/backend/internal/routes"
	"github.com/convertrack/backend/internal/services"
	"github.com/convertrack/backend/internal/storage"
)

func main() {
	// Load .env file for local development
	if os.Getenv("INSTANCE_CONNECTION_NAME") == "" {
		err := godotenv.Load(".env")
		if err != nil {
			err = godotenv.Load("environments/.env.development")
			if err != nil {
				log.Println("⚠️  No .env file found - checking environment variables")
			}
		}

		// Debug what we loaded
		log.Printf("🔍 META_PIXEL_ID exists: %v", os.Getenv("META_PIXEL_ID") != "")
		log.Printf("🔍 META_ACCESS_TOKEN exists: %v", os.Getenv("META_ACCESS_TOKEN") != "")
		log.Printf("🔍 CLIENT_REF_START: %s", os.Getenv("CLIENT_REF_START"))
	}

	// Initialize storage
	var store storage.Store

	if os.Getenv("USE_MEMORY_STORE") == "true" {
		log.Println("⚠️  Using in-memory storage (not for production!)")
		store = storage.NewMemoryStore()
	} else {
		log.Println("📦 Connecting to PostgreSQL database...")
		database.Connect()

		log.Println("🔄 Running database migrations...")
		err := database.DB.AutoMigrate(
			&models.Session{},
			&models.Counter{},
			&models.Message{},
			&models.Charge{},
			&models.EventRecord{},
		)
		if err != nil {
			log.Fatal("Failed to migrate database:", err)
		}
		log.Println("✅ Database migrations completed!")

		store = storage.NewDatabaseStore(database.DB)
		log.Println("✅ Using PostgreSQL database storage")
	}

	// Sequence allocator: first issued reference is CLIENT_REF_START.
	refStart := int64(23000)
	if raw := os.Getenv("CLIENT_REF_START"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			refStart = n
		} else {
			log.Printf("⚠️  Invalid CLIENT_REF_START %q, using %d", raw, refStart)
		}
	}
	forceRaise := os.Getenv("CLIENT_REF_FORCE") == "1" || os.Getenv("CLIENT_REF_FORCE") == "true"

	allocator := services.NewSequenceAllocator(store, refStart-1)
	if err := allocator.Bootstrap(forceRaise); err != nil {
		log.Printf("⚠️  Counter bootstrap failed: %v", err)
	}

	correlator := services.NewIdentityCorrelator(store, allocator)
	aggregator := services.NewFunnelAggregator(store)

	pipeline := services.NewDeliveryPipeline(store, correlator, services.LogSink{}, services.PipelineConfig{
		PixelID:        os.Getenv("META_PIXEL_ID"),
		AccessToken:    os.Getenv("META_ACCESS_TOKEN"),
		TestEventCode:  os.Getenv("META_TEST_EVENT_CODE"),
		DefaultName:    os.Getenv("DEFAULT_CONTACT_NAME"),
		DefaultMessage: os.Getenv("DEFAULT_CONTACT_MESSAGE"),
	})
	if !pipeline.Enabled() {
		log.Println("⚠️  Meta CAPI credentials not found - event delivery disabled")
	}

	// Chat notifier is optional
	notifier, err := services.NewChatNotifier()
	if err != nil {
		log.Printf("⚠️  Chat notifier not initialized: %v", err)
		notifier = nil
	} else {
		log.Println("✅ Chat notifier initialized")
	}

	// Start scheduled jobs
	summaryJob := jobs.NewFunnelSummaryJob(aggregator)
	summaryJob.Start()

	// Create fiber app
	app := fiber.New(fiber.Config{
		AppName: "ConverTrack Backend v1.0.0",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// Middleware
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	// Health check endpoint with database status
	app.Get("/", func(c *fiber.Ctx) error {
		response := fiber.Map{
			"service":     "ConverTrack Backend API",
			"version":     "1.0.0",
			"status":      "healthy",
			"environment": getEnvironment(),
			"storage":     getStorageType(),
			"capi": fiber.Map{
				"configured": pipeline.Enabled(),
			},
		}

		if os.Getenv("USE_MEMORY_STORE") != "true" && database.DB != nil {
			sqlDB, err := database.DB.DB()
			dbStatus := "connected"
			if err != nil {
				dbStatus = "error: " + err.Error()
			} else if err := sqlDB.Ping(); err != nil {
				dbStatus = "error: " + err.Error()
			}

			var sessionCount, messageCount, chargeCount, eventCount int64
			database.DB.Model(&models.Session{}).Count(&sessionCount)
			database.DB.Model(&models.Message{}).Count(&messageCount)
			database.DB.Model(&models.Charge{}).Count(&chargeCount)
			database.DB.Model(&models.EventRecord{}).Count(&eventCount)

			response["database"] = fiber.Map{
				"status":   dbStatus,
				"sessions": sessionCount,
				"messages": messageCount,
				"charges":  chargeCount,
				"events":   eventCount,
			}
		}

		return c.JSON(response)
	})

	// Health check endpoint for monitoring
	app.Get("/health", func(c *fiber.Ctx) error {
		status := "healthy"
		statusCode := 200

		if os.Getenv("USE_MEMORY_STORE") != "true" && database.DB != nil {
			sqlDB, err := database.DB.DB()
			if err != nil || sqlDB.Ping() != nil {
				status = "unhealthy"
				statusCode = 503
			}
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"services": fiber.Map{
				"database": status == "healthy",
				"capi":     pipeline.Enabled(),
				"notifier": notifier != nil,
			},
		})
	})

	// Setup routes
	routes.SetupRoutes(app, routes.Deps{
		Store:      store,
		Allocator:  allocator,
		Correlator: correlator,
		Pipeline:   pipeline,
		Aggregator: aggregator,
		Notifier:   notifier,
	})

	// Get port from environment or use default
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("\n🛑 Gracefully shutting down...")
		log.Println("⏹️  Stopping funnel summary job...")
		summaryJob.Stop()
		log.Println("⏹️  Shutting down server...")
		_ = app.Shutdown()
	}()

	// Start server
	log.Println("========================================")
	log.Printf("🚀 ConverTrack Backend starting on port %s", port)
	log.Printf("📊 Storage: %s", getStorageType())
	log.Printf("🌍 Environment: %s", getEnvironment())
	log.Printf("🔖 Client references start at %d (force raise: %v)", refStart, forceRaise)
	log.Println("========================================")

	log.Fatal(app.Listen(":" + port))
}

func getEnvironment() string {
	if os.Getenv("INSTANCE_CONNECTION_NAME") != "" {
		return "Production (Cloud Run)"
	}
	return "Development (Local)"
}

func getStorageType() string {
	if os.Getenv("USE_MEMORY_STORE") == "true" {
		return "In-Memory (Testing)"
	}
	return "PostgreSQL Database"
}
