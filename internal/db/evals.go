package db

import (
	"context"
	"database/sql"
	"errors"

	"expectree/internal/evalcache"
)

var _ evalcache.Store = (*Store)(nil)

// Get looks up a cached evaluation by canonical position key.
func (s *Store) Get(ctx context.Context, key string) (evalcache.Entry, error) {
	var e evalcache.Entry
	err := s.db.GetContext(ctx, &e, `
		SELECT fen, score, raw, mate, depth, engine
		FROM evals
		WHERE fen = ?
	`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return evalcache.Entry{}, evalcache.ErrNotFound
	}
	return e, err
}

// PutIfAbsent inserts e unless its key is present and returns the stored row.
func (s *Store) PutIfAbsent(ctx context.Context, e evalcache.Entry) (evalcache.Entry, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return evalcache.Entry{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO evals (fen, score, raw, mate, depth, engine)
		VALUES (:fen, :score, :raw, :mate, :depth, :engine)
		ON CONFLICT(fen) DO NOTHING
	`, e); err != nil {
		return evalcache.Entry{}, err
	}
	var got evalcache.Entry
	if err := tx.GetContext(ctx, &got, `
		SELECT fen, score, raw, mate, depth, engine
		FROM evals
		WHERE fen = ?
	`, e.Key); err != nil {
		return evalcache.Entry{}, err
	}
	return got, tx.Commit()
}

// CountEvals returns how many positions are cached.
func (s *Store) CountEvals(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM evals`)
	return n, err
}
