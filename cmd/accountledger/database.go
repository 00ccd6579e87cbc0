package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarkoPoloResearchLab/accountledger/internal/store/gormstore"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"

	sqliteScheme      = "sqlite://"
	sqliteMemory      = ":memory:"
	defaultSQLiteFile = "accountledger.db"
)

// databaseTarget is a parsed database URL: the gorm dialect and the DSN handed to it.
type databaseTarget struct {
	Driver string
	DSN    string
}

func (target databaseTarget) dialector() gorm.Dialector {
	if target.Driver == driverPostgres {
		return postgres.Open(target.DSN)
	}
	return sqlite.Open(target.DSN)
}

func openDatabase(ctx context.Context, databaseURL string) (*gorm.DB, func() error, error) {
	target, err := parseDatabaseURL(databaseURL)
	if err != nil {
		return nil, nil, err
	}
	db, err := gorm.Open(target.dialector(), &gorm.Config{})
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	if target.Driver == driverSQLite {
		// sqlite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	}
	return db.WithContext(ctx), sqlDB.Close, nil
}

// parseDatabaseURL accepts postgres:// and postgresql:// URLs, sqlite:// URLs and bare sqlite paths.
// SQLite targets always enforce foreign keys.
func parseDatabaseURL(databaseURL string) (databaseTarget, error) {
	trimmed := strings.TrimSpace(databaseURL)
	switch {
	case trimmed == "":
		return databaseTarget{}, fmt.Errorf("database url is required")
	case strings.HasPrefix(trimmed, "postgres://"), strings.HasPrefix(trimmed, "postgresql://"):
		return databaseTarget{Driver: driverPostgres, DSN: trimmed}, nil
	}

	path := trimmed
	if strings.HasPrefix(trimmed, sqliteScheme) {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return databaseTarget{}, fmt.Errorf("parse sqlite url: %w", err)
		}
		path = parsed.Path
		if path == "" {
			path = parsed.Host
		}
		if path == "" || path == "/" {
			path = defaultSQLiteFile
		}
	}
	if err := ensureSQLiteDir(path); err != nil {
		return databaseTarget{}, err
	}
	return databaseTarget{Driver: driverSQLite, DSN: gormstore.SQLiteDSN(path)}, nil
}

func ensureSQLiteDir(path string) error {
	if path == sqliteMemory {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create sqlite directory: %w", err)
	}
	return nil
}
