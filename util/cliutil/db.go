package cliutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	slogGorm "github.com/orandin/slog-gorm"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Opens the database named by a URL: `sqlite://path`, `postgres://...` (or `postgresql://`), or a bare `postgres=DSN`.
func SetupDatabase(dburl string, maxConnections int) (*gorm.DB, error) {
	var dial gorm.Dialector

	isSqlite := false
	openConns := maxConnections
	switch {
	case strings.HasPrefix(dburl, "sqlite://"):
		path := dburl[len("sqlite://"):]
		// if this isn't ":memory:", ensure that directory exists (eg, if db file is being initialized)
		if !strings.Contains(path, ":memory:") {
			if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
				return nil, err
			}
		}
		dial = sqlite.Open(path)
		openConns = 1
		isSqlite = true
	case strings.HasPrefix(dburl, "postgresql://"), strings.HasPrefix(dburl, "postgres://"):
		// can pass entire URL, with prefix, to gorm driver
		dial = postgres.Open(dburl)
	case strings.HasPrefix(dburl, "postgres="):
		dial = postgres.Open(dburl[len("postgres="):])
	default:
		return nil, fmt.Errorf("unsupported or unrecognized database URL scheme: %s", strings.SplitN(dburl, ":", 2)[0])
	}

	db, err := gorm.Open(dial, &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 slogGorm.New(),
	})
	if err != nil {
		return nil, err
	}

	sqldb, err := db.DB()
	if err != nil {
		return nil, err
	}
	if openConns > 0 {
		sqldb.SetMaxOpenConns(openConns)
	}
	sqldb.SetMaxIdleConns(10)
	sqldb.SetConnMaxIdleTime(time.Hour)

	if isSqlite {
		if err := db.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
			return nil, err
		}
		if err := db.Exec("PRAGMA synchronous=normal;").Error; err != nil {
			return nil, err
		}
	}
	return db, nil
}
