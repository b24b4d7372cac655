package db

import (
	"context"
	"strconv"
)

const (
	settingEngineName   = "engine_name"
	settingTimeBudgetMS = "time_budget_ms"
)

// GetSettings returns the engine settings recorded by the last run.
func (s *Store) GetSettings(ctx context.Context) (Settings, error) {
	rows := []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}{}
	if err := s.db.SelectContext(ctx, &rows, `SELECT key, CAST(value AS TEXT) AS value FROM settings`); err != nil {
		return Settings{}, err
	}
	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Key] = row.Value
	}
	out := Settings{EngineName: values[settingEngineName]}
	if v, err := strconv.Atoi(values[settingTimeBudgetMS]); err == nil {
		out.TimeBudgetMS = v
	}
	return out, nil
}

// UpdateSettings replaces both settings in one transaction.
func (s *Store) UpdateSettings(ctx context.Context, settings Settings) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, kv := range []struct {
		key   string
		value any
	}{
		{settingEngineName, settings.EngineName},
		{settingTimeBudgetMS, settings.TimeBudgetMS},
	} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO settings (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, kv.key, kv.value); err != nil {
			return err
		}
	}
	return tx.Commit()
}
