// Package store persists mappings, runtime configuration and the audit log
// in SQLite or PostgreSQL through sqlx.
package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know by default
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Config contains database configuration.
type Config struct {
	Driver          string        `yaml:"driver" mapstructure:"driver"`
	DSN             string        `yaml:"dsn" mapstructure:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// DB wraps sqlx.DB with the dialect it talks to.
type DB struct {
	*sqlx.DB
	driver string
	logger *zap.Logger
}

// Open connects to the configured database and applies the schema.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*DB, error) {
	var (
		sqlDB *sqlx.DB
		err   error
	)

	switch cfg.Driver {
	case DriverSQLite, "":
		if cfg.DSN == "" || cfg.DSN == ":memory:" {
			return OpenMemory(logger)
		}
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn := "file:" + cfg.DSN + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
		sqlDB, err = sqlx.ConnectContext(ctx, DriverSQLite, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		// one writer at a time; WAL lets readers proceed
		sqlDB.SetMaxOpenConns(1)
	case DriverPostgres:
		sqlDB, err = sqlx.ConnectContext(ctx, DriverPostgres, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (must be sqlite or postgres)", cfg.Driver)
	}

	d := &DB{DB: sqlDB, driver: sqlDB.DriverName(), logger: logger}
	if err := d.migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Database initialized",
		zap.String("driver", d.driver),
		zap.String("dsn", maskDatabaseURL(cfg.DSN)),
		zap.Int("max_open_conns", sqlDB.Stats().MaxOpenConnections))

	return d, nil
}

// OpenMemory creates a migrated in-memory SQLite database.
func OpenMemory(logger *zap.Logger) (*DB, error) {
	sqlDB, err := sqlx.Open(DriverSQLite, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	// every connection would get its own empty database
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(0)

	d := &DB{DB: sqlDB, driver: DriverSQLite, logger: logger}
	if err := d.migrate(context.Background()); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return d, nil
}

// Driver returns the dialect name.
func (d *DB) Driver() string {
	return d.driver
}

// Ping checks connectivity.
func (d *DB) Ping(ctx context.Context) error {
	return d.PingContext(ctx)
}

func (d *DB) migrate(ctx context.Context) error {
	if _, err := d.ExecContext(ctx, schemaFor(d.driver)); err != nil {
		return err
	}

	salt, err := newSalt()
	if err != nil {
		return err
	}
	_, err = d.ExecContext(ctx, d.Rebind(
		`INSERT INTO store_state (id, synthesis_salt, generation) VALUES (1, ?, 0) ON CONFLICT (id) DO NOTHING`), salt)
	return err
}

func newSalt() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate synthesis salt: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

func nowNanos() int64 {
	return time.Now().UTC().UnixNano()
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

// maskDatabaseURL masks credentials in a database URL for logging.
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	scheme := strings.Index(url, "://")
	userInfo := url[:at]
	if scheme >= 0 {
		userInfo = url[scheme+3 : at]
	}
	user, _, hasPassword := strings.Cut(userInfo, ":")
	if !hasPassword {
		return url
	}
	prefix := ""
	if scheme >= 0 {
		prefix = url[:scheme+3]
	}
	return prefix + user + ":***" + url[at:]
}
