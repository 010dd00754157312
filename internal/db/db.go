package db

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"atome-store/internal/config"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects the ledger database: the embedded sqlite file in local
// runtime, postgres in remote runtime.
func Open(cfg config.Config) (*gorm.DB, error) {
	level := logger.Warn
	if cfg.Environment == "production" {
		level = logger.Error
	}
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      level,
			Colorful:      cfg.Environment != "production",
		},
	)

	var (
		database *gorm.DB
		err      error
	)
	if cfg.Runtime == "local" {
		if mkErr := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o700); mkErr != nil {
			return nil, mkErr
		}
		database, err = gorm.Open(sqlite.Open(cfg.SQLitePath), &gorm.Config{Logger: gormLogger})
	} else {
		dsn := fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v sslmode=disable",
			cfg.DBHost,
			cfg.DBUser,
			cfg.DBPassword,
			cfg.DBName,
			cfg.DBPort,
		)
		database, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger})
	}
	if err != nil {
		return nil, err
	}
	log.Println("Success connecting to db")
	return database, nil
}

// Close shuts the underlying connection pool down.
func Close(database *gorm.DB) {
	sqlDB, err := database.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Printf("failed to close db %v", err)
	}
}
