// Package store is the typed persistence layer over an embedded
// relational database (spec.md §4.2). Multi-row writes run in one
// transaction each: CommitFolderBatch, RebuildFolder, PurgeMissing and
// DedupeLegacy. SaveAccount is a single-row upsert.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/berker-z/otto/internal/logging"
	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
)

// Connection pool sizing. SQLite in WAL mode allows exactly one writer
// at a time, so a large pool only adds lock contention, not throughput;
// kept modest like the teacher's internal/database.
const (
	maxOpenConns = 8
	maxIdleConns = 4

	checkpointInterval = 5 * time.Minute
)

// DB wraps the SQL connection and exposes the Store operations as
// methods defined across accounts.go, folders.go, messages.go,
// bodies.go, and batch.go.
type DB struct {
	*sql.DB
	path string
	log  zerolog.Logger
}

// Open opens or creates a SQLite database at path, applying the same
// PRAGMA-in-DSN trick the teacher uses so every pooled connection
// (database/sql opens them lazily) gets identical settings.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)",
		path,
	)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := os.Chmod(path, 0600); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("set database permissions: %w", err)
	}

	db := &DB{DB: sqlDB, path: path, log: logging.WithComponent("store")}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Checkpoint merges the write-ahead log back into the main database
// file, preventing unbounded WAL growth.
func (db *DB) Checkpoint() error {
	_, err := db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
	if err != nil {
		return fmt.Errorf("checkpoint WAL: %w", err)
	}
	return nil
}

// StartCheckpointRoutine runs Checkpoint on a ticker until ctx is done.
func (db *DB) StartCheckpointRoutine(ctx context.Context) {
	ticker := time.NewTicker(checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := db.Checkpoint(); err != nil {
				db.log.Error().Err(err).Msg("periodic WAL checkpoint failed")
			}
		case <-ctx.Done():
			return
		}
	}
}
