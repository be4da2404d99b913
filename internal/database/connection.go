package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// Config holds database configuration
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DB wraps the sql.DB handle of the dictionary database
type DB struct {
	SQL *sql.DB
	log *logrus.Logger
}

// NewConnection opens and verifies a PostgreSQL connection pool
func NewConnection(ctx context.Context, config Config, logger *logrus.Logger) (*DB, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	sqlDB, err := sql.Open("postgres", config.URL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db, err := newDB(ctx, sqlDB, config, logger)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func newDB(ctx context.Context, sqlDB *sql.DB, config Config, logger *logrus.Logger) (*DB, error) {
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"max_open_conns":    config.MaxOpenConns,
		"max_idle_conns":    config.MaxIdleConns,
		"conn_max_lifetime": config.ConnMaxLifetime,
	}).Info("Database connection pool established")

	return &DB{SQL: sqlDB, log: logger}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	if db.SQL == nil {
		return nil
	}
	err := db.SQL.Close()
	db.log.Info("Database connection pool closed")
	return err
}

// Stats returns connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.SQL.Stats()
}
