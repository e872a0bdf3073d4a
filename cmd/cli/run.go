package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kontor/internal/config"
	"kontor/internal/handlers"
	"kontor/internal/middleware"
	"kontor/internal/models"
	"kontor/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the kontor server",
	Run:   run,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) {
	cfg := config.Load()

	if err := config.InitLogger(cfg); err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	dsn := fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on",
		cfg.Database.Path, cfg.Database.BusyTimeout.Milliseconds())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		appLogger.Fatalf("Failed to open database: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Event{}, &models.Contact{}, &models.Task{}, &models.FollowUp{}, &models.MailDraft{},
		&models.AutomationRule{}, &models.PendingAction{}, &models.ExecutionLog{},
		&models.EventCursor{}, &models.TenantSettings{},
	); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	eventService := services.NewEventService(db, appLogger)
	settingsService := services.NewSettingsService(db, appLogger, cfg.Automation.PendingTTL)
	webhookClient := services.NewWebhookClient(cfg.Automation.WebhookTimeout, appLogger)
	mailSender := services.NewLocalMailSender(db, appLogger)
	executor := services.NewActionExecutor(db, appLogger, settingsService, webhookClient, mailSender)
	pendingService := services.NewPendingService(db, appLogger, executor)
	automationService := services.NewAutomationService(db, appLogger, eventService, executor, pendingService,
		cfg.Automation.EventBatchSize, cfg.Automation.DefaultMaxPerMinute)

	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	healthHandler := handlers.NewHealthHandler(db)
	r.GET("/health", healthHandler.Health)

	api := r.Group("/api")
	api.Use(middleware.RateLimitMiddleware(cfg))
	api.Use(middleware.TenantMiddleware())
	handlers.RegisterAutomationRoutes(api, handlers.NewAutomationHandler(automationService))
	handlers.RegisterPendingRoutes(api, handlers.NewPendingHandler(pendingService))
	handlers.RegisterEventRoutes(api, handlers.NewEventHandler(eventService))

	loopCtx, stopLoop := context.WithCancel(context.Background())
	go automationService.StartCronLoop(loopCtx, cfg.Automation.CronInterval)

	srv := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), Handler: r}
	go func() {
		appLogger.Infof("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down...")
	stopLoop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Fatalf("Forced shutdown: %v", err)
	}
}
