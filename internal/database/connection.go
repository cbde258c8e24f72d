package database

import (
	"fmt"
	"strings"

	"fs-converter/pkg/types"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens a connection pool to one schema of the configured MySQL server.
// Every job owns the handle it gets back and closes it when it finishes.
func Connect(config *types.Database, database string) (*gorm.DB, error) {
	dsn := buildDSN(config, database)
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Warn),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database %s: %w", database, err)
	}

	if err := TestConnection(db); err != nil {
		CloseConnection(db)
		return nil, fmt.Errorf("failed to reach database %s: %w", database, err)
	}

	// Jobs are sequential and hold one transaction for their whole run.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(1)
	}

	logrus.Debugf("Connected to database: %s", database)
	return db, nil
}

// buildDSN constructs the database connection string
func buildDSN(config *types.Database, database string) string {
	params := "charset=utf8mb4&parseTime=True&loc=Local"
	if extra := strings.TrimPrefix(config.Params, "?"); extra != "" {
		params += "&" + extra
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		config.User,
		config.Password,
		config.Host,
		config.Port,
		database,
		params,
	)
}

// TestConnection tests the database connection
func TestConnection(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}

// CloseConnection closes the database connection
func CloseConnection(db *gorm.DB) error {
	if db == nil {
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}

	return nil
}
