package main

import (
	"fmt"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// defaultSQLiteDSN waits on locks instead of failing with SQLITE_BUSY.
const defaultSQLiteDSN = "plots.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// setupDatabase opens the configured database. SQLite needs no DSN and
// defaults to a local file.
func setupDatabase(dbType, dsn string, debug bool) (*gorm.DB, error) {
	dialector, err := dialectorFor(dbType, dsn)
	if err != nil {
		return nil, err
	}

	level := logger.Warn
	if debug {
		level = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(level),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dbType, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	if dialector.Name() != "sqlite" {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return db, nil
}

func dialectorFor(dbType, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(dbType) {
	case "sqlite", "":
		if dsn == "" {
			dsn = defaultSQLiteDSN
		}
		return sqlite.Open(dsn), nil
	case "postgres", "postgresql":
		if dsn == "" {
			return nil, fmt.Errorf("database DSN is required for postgres (use --db-dsn or PLOTS_DB_DSN)")
		}
		return postgres.Open(dsn), nil
	case "mysql":
		if dsn == "" {
			return nil, fmt.Errorf("database DSN is required for mysql (use --db-dsn or PLOTS_DB_DSN)")
		}
		cfg, err := mysqlConfig(dsn)
		if err != nil {
			return nil, err
		}
		return mysql.Open(cfg.FormatDSN()), nil
	default:
		return nil, fmt.Errorf("unknown database type %q (expected sqlite, postgres or mysql)", dbType)
	}
}

// mysqlConfig parses a MySQL DSN and forces the options the stores rely on:
// DATETIME columns scanned into time.Time, in UTC.
func mysqlConfig(dsn string) (*mysqldriver.Config, error) {
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	if _, ok := cfg.Params["charset"]; !ok {
		cfg.Params["charset"] = "utf8mb4"
	}
	return cfg, nil
}
