// Package configstore keeps the JSON settings file that seeds every run.
package configstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"expectree/internal/config"
)

type Store struct {
	path string
	mu   sync.Mutex
	cfg  config.Config
}

// New loads path over config.Default. A missing file is created with the
// defaults so it can be edited for the next run.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	store := &Store{path: path}
	if err := store.loadOrInit(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) GetConfig(ctx context.Context) (config.Config, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, nil
}

func (s *Store) UpdateConfig(ctx context.Context, cfg config.Config) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	return s.saveLocked()
}

func (s *Store) loadOrInit() error {
	s.cfg = config.Default()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s.saveLocked()
		}
		return fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, &s.cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	// zero values in an older file fall back to the defaults
	def := config.Default()
	if s.cfg.TimeBudgetMS <= 0 {
		s.cfg.TimeBudgetMS = def.TimeBudgetMS
	}
	if s.cfg.GraceMS <= 0 {
		s.cfg.GraceMS = def.GraceMS
	}
	if s.cfg.Engine.Workers <= 0 {
		s.cfg.Engine.Workers = def.Engine.Workers
	}
	if s.cfg.Cache.Backend == "" {
		s.cfg.Cache.Backend = def.Cache.Backend
	}
	if s.cfg.Cache.LRUSize <= 0 {
		s.cfg.Cache.LRUSize = def.Cache.LRUSize
	}
	if s.cfg.Corpus.Path == "" {
		s.cfg.Corpus.Path = def.Corpus.Path
	}
	if s.cfg.TreeSize <= 0 {
		s.cfg.TreeSize = def.TreeSize
	}
	if s.cfg.DataDir == "" {
		s.cfg.DataDir = filepath.Dir(s.path)
	}
	return nil
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
