package db

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wuwenbin0122/lumina/internal/utils"
)

// NewGORM opens a gorm.DB connection backed by the configured Postgres instance.
func NewGORM(cfg utils.PostgresConfig) (*gorm.DB, error) {
	url := cfg.BuildDSN()
	if url == "" {
		return nil, fmt.Errorf("postgres connection url is empty")
	}

	gormDB, err := gorm.Open(postgres.Open(url), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm connection: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}

	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(15)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return gormDB, nil
}

// EnsureAccountSchema migrates the user and subscription tables.
func EnsureAccountSchema(gormDB *gorm.DB) error {
	if gormDB == nil {
		return fmt.Errorf("gorm: db not initialised")
	}
	if err := gormDB.AutoMigrate(&userRow{}, &subscriptionRow{}); err != nil {
		return fmt.Errorf("gorm: migrate account tables: %w", err)
	}
	return nil
}
