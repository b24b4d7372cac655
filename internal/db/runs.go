package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// InsertRun records the start of a run and returns its generated ID.
func (s *Store) InsertRun(ctx context.Context, r Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = RunRunning
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO runs (id, period, color, engine, time_budget_ms, status)
		VALUES (:id, :period, :color, :engine, :time_budget_ms, :status)
	`, r)
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

// FinishRun stores the outcome of a run.
func (s *Store) FinishRun(ctx context.Context, id string, res RunResult) error {
	if res.Status != RunDone && res.Status != RunFailed {
		return fmt.Errorf("finish run %s: bad status %q", id, res.Status)
	}
	out, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET finished_at = strftime('%Y-%m-%dT%H:%M:%fZ','now'),
			status = ?,
			games = ?,
			nodes = ?,
			leaves = ?,
			evaluated = ?,
			cache_hits = ?,
			failed = ?,
			root_score = ?,
			line = ?,
			error = ?,
			tree_json = ?
		WHERE id = ?
	`, res.Status, res.Games, res.Nodes, res.Leaves, res.Evaluated, res.CacheHits,
		res.Failed, res.RootScore, res.Line, res.Error, string(res.TreeJSON), id)
	if err != nil {
		return err
	}
	n, err := out.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: not found", id)
	}
	return nil
}

const runColumns = `id, started_at, finished_at, period, color, engine, time_budget_ms,
	status, games, nodes, leaves, evaluated, cache_hits, failed, root_score, line, error`

// list most recent runs
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	out := []Run{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC, id
		LIMIT ?
	`, limit)
	return out, err
}

func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	var r Run
	err := s.db.GetContext(ctx, &r, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	return r, err
}

// RunTree returns the JSON tree stored with a finished run.
func (s *Store) RunTree(ctx context.Context, id string) ([]byte, error) {
	var tree string
	if err := s.db.GetContext(ctx, &tree, `SELECT tree_json FROM runs WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return []byte(tree), nil
}
