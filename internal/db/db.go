package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	_ "github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Options struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Database is the Durable Store handle. Conn is the pooled pgx connection
// (nil for sqlite), Gorm wraps it for the repositories.
type Database struct {
	Conn *sql.DB
	Gorm *gorm.DB
}

// NewDatabase opens Postgres through the pgx stdlib driver. DSNs starting with
// "file:" or "sqlite:" open an embedded sqlite database instead, which is what
// local runs and tests use.
func NewDatabase(ctx context.Context, opts Options) (*Database, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("database DSN is empty")
	}
	if isSQLite(opts.DSN) {
		return openSQLite(opts.DSN)
	}

	conn, err := sql.Open("pgx", opts.DSN)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	conn.SetMaxOpenConns(opts.MaxOpenConns)
	conn.SetMaxIdleConns(opts.MaxIdleConns)
	conn.SetConnMaxLifetime(opts.ConnMaxLifetime)

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: conn}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wrap connection: %w", err)
	}
	return &Database{Conn: conn, Gorm: gdb}, nil
}

func isSQLite(dsn string) bool {
	return strings.HasPrefix(dsn, "file:") || strings.HasPrefix(dsn, "sqlite:")
}

func openSQLite(dsn string) (*Database, error) {
	gdb, err := gorm.Open(sqlite.Open(strings.TrimPrefix(dsn, "sqlite:")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return &Database{Conn: sqlDB, Gorm: gdb}, nil
}

// AutoMigrate creates or updates the tables for the given models.
func (d *Database) AutoMigrate(models ...any) error {
	if err := d.Gorm.AutoMigrate(models...); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func (d *Database) Ping(ctx context.Context) error {
	return d.Conn.PingContext(ctx)
}

func (d *Database) Close() error {
	return d.Conn.Close()
}
