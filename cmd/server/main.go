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
	"kontor/internal/observability"
	"kontor/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	// Read config.yml from the working directory, env vars override.
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	db, err := openDatabase(cfg)
	if err != nil {
		appLogger.Fatalf("Failed to open database: %v", err)
	}
	if err := migrate(db); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	shutdownTracing, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		appLogger.Warnf("tracing disabled: %v", err)
		shutdownTracing = func(context.Context) error { return nil }
	} else if cfg.Monitoring.Tracing.Enabled {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			appLogger.Warnf("gorm tracing plugin: %v", err)
		}
	}

	// Service wiring. The executor carries all side effects; the pending
	// service replays staged ones after confirmation.
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
	if cfg.Monitoring.Tracing.Enabled {
		r.Use(otelgin.Middleware("kontor"))
	}

	healthHandler := handlers.NewHealthHandler(db)
	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)
	if cfg.Monitoring.Enabled {
		path := cfg.Monitoring.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api")
	api.Use(middleware.RateLimitMiddleware(cfg))
	api.Use(middleware.TenantMiddleware())
	handlers.RegisterAutomationRoutes(api, handlers.NewAutomationHandler(automationService))
	handlers.RegisterPendingRoutes(api, handlers.NewPendingHandler(pendingService))
	handlers.RegisterEventRoutes(api, handlers.NewEventHandler(eventService))

	// Background scheduler: cron rules plus pending-action expiry.
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
	appLogger.Info("Shutting down server...")
	stopLoop()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Fatalf("Server forced to shutdown: %v", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		appLogger.Warnf("tracing shutdown: %v", err)
	}
	appLogger.Info("Server exited")
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on",
		cfg.Database.Path, cfg.Database.BusyTimeout.Milliseconds())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Database.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}
	return db, nil
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Event{}, &models.Contact{}, &models.Task{}, &models.FollowUp{}, &models.MailDraft{},
		&models.AutomationRule{}, &models.PendingAction{}, &models.ExecutionLog{},
		&models.EventCursor{}, &models.TenantSettings{},
	)
}
