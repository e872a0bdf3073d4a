package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"kontor/internal/models"

	"github.com/spf13/viper"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	path := viper.GetString("database.path")
	if path == "" {
		path = "./data/kontor.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	log.Println("Starting database migration...")

	err = db.AutoMigrate(
		&models.Event{},
		&models.Contact{},
		&models.Task{},
		&models.FollowUp{},
		&models.MailDraft{},
		&models.AutomationRule{},
		&models.PendingAction{},
		&models.ExecutionLog{},
		&models.EventCursor{},
		&models.TenantSettings{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Println("Database migration completed successfully!")

	// Covering index for the rate-limit window query.
	db.Exec("CREATE INDEX IF NOT EXISTS idx_execution_rule_created ON execution_logs(tenant_id, rule_id, created_at)")
	// Pending expiry sweep scans by status and deadline.
	db.Exec("CREATE INDEX IF NOT EXISTS idx_pending_status_expires ON pending_actions(status, expires_at)")

	log.Println("Additional indexes created")
}
