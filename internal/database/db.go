package database

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Initialize creates and returns a database connection.
// SQL statements are logged through slog at debug level when a logger is given.
func Initialize(dbPath string, log *slog.Logger) (*gorm.DB, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	gormLogger := logger.Default.LogMode(logger.Silent)
	if log != nil {
		gormLogger = logger.New(
			slog.NewLogLogger(log.With("component", "gorm").Handler(), slog.LevelDebug),
			logger.Config{
				SlowThreshold:             500 * time.Millisecond,
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		)
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_busy_timeout=5000"), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	// SQLite allows a single writer; provider workers share one connection
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate runs all schema migrations
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.MailboxProvider{},
		&models.ModelProvider{},
		&models.ProviderSyncState{},
		&models.Email{},
		&models.Attachment{},
		&models.EmailAnalysis{},
		&models.DraftReply{},
		&models.ActivityLogEntry{},
		&models.Log{},
	)
}
