// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package storage opens the relational database shared by the domain
// stores. SQLite is the default backend; PostgreSQL is available for
// shared deployments. Domain packages own their schemas and write
// queries with "?" placeholders, rebinding for PostgreSQL via DB.Bind.
package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq" // registers the "postgres" driver

	_ "github.com/teradata-labs/hermes/internal/sqlitedriver" // registers the "sqlite3" driver
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Config selects and tunes the database backend.
type Config struct {
	// Driver is "sqlite3" (default) or "postgres".
	Driver string

	// Path is the SQLite database file path. Ignored for postgres.
	Path string

	// DSN is the postgres connection string. Ignored for sqlite.
	DSN string

	// MaxOpenConns caps the pool size (default 25).
	MaxOpenConns int

	// MaxIdleConns caps idle connections (default 5).
	MaxIdleConns int

	// ConnMaxLifetime recycles connections (default 5m).
	ConnMaxLifetime time.Duration
}

// DB wraps *sql.DB with the driver name so stores can rebind placeholders.
type DB struct {
	*sql.DB
	driver string
}

// Driver returns the active driver name.
func (d *DB) Driver() string {
	return d.driver
}

// Bind rewrites "?" placeholders to the dialect of the active driver.
// SQLite queries pass through unchanged; postgres gets $1..$n.
func (d *DB) Bind(query string) string {
	return Rebind(d.driver, query)
}

// Open connects to the configured backend, applies pool settings, and
// verifies connectivity. SQLite databases are opened in WAL mode with a
// shared cache and a 10s busy timeout, matching the platform's
// single-writer access pattern.
func Open(cfg Config) (*DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	var dsn string
	switch driver {
	case DriverSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite backend requires a database path")
		}
		dsn = fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", cfg.Path)
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres backend requires a DSN")
		}
		dsn = cfg.DSN
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	if driver == DriverSQLite {
		if _, err := db.Exec("PRAGMA busy_timeout = 10000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, driver: driver}, nil
}

// Rebind converts "?" placeholders to the given driver's syntax.
// Question marks inside single-quoted literals are left alone.
func Rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inLiteral := false
	for _, r := range query {
		switch {
		case r == '\'':
			inLiteral = !inLiteral
			b.WriteRune(r)
		case r == '?' && !inLiteral:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
