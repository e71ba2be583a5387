package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/config"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/logging"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

// Init opens the configured store, migrates it and publishes it as DB.
func Init(cfg *config.Config, logger logging.Logger) (*gorm.DB, error) {
	gdb, err := Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := Migrate(gdb); err != nil {
		return nil, err
	}
	DB = gdb
	return gdb, nil
}

// Open connects to postgres or sqlite without touching the schema.
func Open(cfg *config.Config, logger logging.Logger) (*gorm.DB, error) {
	var gormLevel gormlogger.LogLevel
	switch strings.ToLower(logging.GetLevel()) {
	case "debug":
		gormLevel = gormlogger.Info // SQL traces are emitted at debug level
	case "error", "fatal":
		gormLevel = gormlogger.Error
	default:
		gormLevel = gormlogger.Warn
	}

	var dialector gorm.Dialector
	if cfg.IsPostgres() {
		if cfg.DBDsn == "" {
			return nil, errors.New("db: postgres selected but DATABASE_URL/DB_DSN is empty")
		}
		dialector = postgres.Open(cfg.DBDsn)
		logger.Info("db connect", "driver", "postgres")
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, err
		}
		dialector = sqlite.Open(cfg.DBPath + "?_busy_timeout=5000&_journal_mode=WAL")
		logger.Info("db connect", "driver", "sqlite", "path", cfg.DBPath)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{Logger: newGormLogger(logger, gormLevel)})
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if !cfg.IsPostgres() {
		// sqlite allows one writer; serialize through a single connection.
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return gdb, nil
}

// Migrate brings the schema up to date. It is idempotent and runs once at
// process start.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}
	return nil
}

// IsPostgres reports whether gdb talks to PostgreSQL.
func IsPostgres(gdb *gorm.DB) bool {
	return gdb != nil && gdb.Dialector != nil && gdb.Dialector.Name() == "postgres"
}
