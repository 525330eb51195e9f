package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/config"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/logger"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/telemetry"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Database holds the database connection and provides methods for database operations
type Database struct {
	DB *gorm.DB
}

// Options tune how the connection is instrumented
type Options struct {
	Logger        *zap.Logger
	LogLevel      string
	SlowThreshold time.Duration
	Tracing       telemetry.DBTracingConfig
}

func (o Options) gormConfig() *gorm.Config {
	zl := o.Logger
	if zl == nil {
		zl = zap.NewNop()
	}
	level := gormlogger.Warn
	if o.LogLevel != "" {
		level = logger.MapGormLogLevel(o.LogLevel)
	}
	var gormOpts []logger.GormLoggerOption
	if o.SlowThreshold > 0 {
		gormOpts = append(gormOpts, logger.WithSlowThreshold(o.SlowThreshold))
	}
	return &gorm.Config{
		Logger:                 logger.NewGormLogger(zl, level, gormOpts...),
		SkipDefaultTransaction: true,
		TranslateError:         true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	}
}

// NewDatabase opens the Postgres connection described by cfg and verifies it
func NewDatabase(cfg *config.DatabaseConfig, opts Options) (*Database, error) {
	gcfg := opts.gormConfig()
	gcfg.PrepareStmt = true

	d, err := Open(postgres.Open(cfg.DSN()), gcfg, opts)
	if err != nil {
		return nil, err
	}

	sqlDB, err := d.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return d, nil
}

// Open wraps any dialector. A nil gcfg uses the defaults derived from opts.
func Open(dialector gorm.Dialector, gcfg *gorm.Config, opts Options) (*Database, error) {
	if gcfg == nil {
		gcfg = opts.gormConfig()
	}
	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	zl := opts.Logger
	if zl == nil {
		zl = zap.NewNop()
	}
	if err := telemetry.RegisterDBTracing(db, opts.Tracing, zl); err != nil {
		return nil, fmt.Errorf("failed to register database tracing: %w", err)
	}
	return &Database{DB: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Ping checks if the database connection is alive
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Stats returns database connection pool statistics
func (d *Database) Stats() (ConnectionStats, error) {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return ConnectionStats{}, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	stats := sqlDB.Stats()
	return ConnectionStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,
	}, nil
}

// ConnectionStats holds database connection pool statistics
type ConnectionStats struct {
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
}
