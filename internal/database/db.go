package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tciasync-desktop/internal/config"
	"tciasync-desktop/internal/models"

	"github.com/charmbracelet/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultSQLiteURL = "sqlite://./tciasync.db"

// Open initializes the database connection and runs auto-migration
func Open(cfg config.DatabaseConfig, level string, appLogger *log.Logger) (*gorm.DB, error) {
	databaseURL := cfg.URL
	if databaseURL == "" {
		databaseURL = defaultSQLiteURL
	}

	dialector, err := dialectorFor(databaseURL, appLogger)
	if err != nil {
		return nil, err
	}

	// Configure GORM logger
	gormLogger := logger.Default.LogMode(logger.Warn)
	if strings.EqualFold(level, "debug") {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)

	if appLogger != nil {
		appLogger.Debug("Database connection pool configured",
			"max_open", cfg.MaxOpenConns, "max_idle", cfg.MaxIdleConns, "max_lifetime", cfg.ConnMaxLifetime.Duration)
	}

	// Health check
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate: %w", err)
	}

	if appLogger != nil {
		appLogger.Info("Database initialized")
	}
	return db, nil
}

func dialectorFor(databaseURL string, appLogger *log.Logger) (gorm.Dialector, error) {
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"):
		dbPath := strings.TrimPrefix(databaseURL, "sqlite://")

		// If using default path, store in user config directory
		if databaseURL == defaultSQLiteURL {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get user config directory: %w", err)
			}

			appDir := filepath.Join(configDir, "tciasync")
			if err := os.MkdirAll(appDir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create app directory: %w", err)
			}

			dbPath = filepath.Join(appDir, "tciasync.db")
			if appLogger != nil {
				appLogger.Info("Using database", "path", dbPath)
			}
		}
		return sqlite.Open(dbPath), nil

	case strings.HasPrefix(databaseURL, "postgresql://"), strings.HasPrefix(databaseURL, "postgres://"):
		return postgres.Open(databaseURL), nil
	}

	return nil, fmt.Errorf("unsupported database URL format: %s", databaseURL)
}

// AutoMigrate runs GORM auto-migration for all models
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.ConnectionProfile{},
		&models.ScheduledJob{},
		&models.ImportJob{},
	)
}

// Close closes the database connection
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
