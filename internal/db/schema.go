// Package db is the SQLite store behind the evaluation cache, the run
// history and the persisted settings.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var schema_stmts = []string{
	`PRAGMA journal_mode=WAL;`,
	`PRAGMA synchronous=NORMAL;`,
	`CREATE TABLE IF NOT EXISTS evals (
		fen TEXT PRIMARY KEY,
		score REAL NOT NULL,
		raw TEXT NOT NULL DEFAULT '',
		mate INTEGER NOT NULL DEFAULT 0,
		depth INTEGER NOT NULL DEFAULT 0,
		engine TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		CHECK (score >= 0 AND score <= 1)
	);`,
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		finished_at TEXT NOT NULL DEFAULT '',
		period TEXT NOT NULL DEFAULT '',
		color TEXT NOT NULL DEFAULT 'white',
		engine TEXT NOT NULL DEFAULT '',
		time_budget_ms INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'running',
		games INTEGER NOT NULL DEFAULT 0,
		nodes INTEGER NOT NULL DEFAULT 0,
		leaves INTEGER NOT NULL DEFAULT 0,
		evaluated INTEGER NOT NULL DEFAULT 0,
		cache_hits INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		root_score REAL NOT NULL DEFAULT 0,
		line TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		tree_json TEXT NOT NULL DEFAULT ''
		CHECK (status IN ('running', 'done', 'failed'))
		CHECK (color IN ('white', 'black'))
	);`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value
	);`,
	`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);`,
}

type Store struct {
	db *sqlx.DB
}

func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// one connection serializes every cache write
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	for _, stmt := range schema_stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	db.MustExec(`INSERT OR IGNORE INTO settings (key, value) VALUES ('engine_name', '')`)
	db.MustExec(`INSERT OR IGNORE INTO settings (key, value) VALUES ('time_budget_ms', 0)`)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
