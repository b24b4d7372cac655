package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/notnil/chess"

	"expectree/internal/corpus"
)

type EngineConfig struct {
	Path    string `json:"path"`
	Args    string `json:"args"`
	Init    string `json:"init"`
	Workers int    `json:"workers"`
}

type CorpusConfig struct {
	Path     string `json:"path"`
	MaxGames int64  `json:"max_games"`
	corpus.Filter
}

type CacheConfig struct {
	Backend string `json:"backend"`
	LRUSize int    `json:"lru_size"`
}

const (
	BackendSQLite  = "sqlite"
	BackendJournal = "journal"
)

type Config struct {
	Period    Period `json:"period"`
	PeriodEnd Period `json:"period_end"`
	Color     string `json:"color"`

	Engine       EngineConfig `json:"engine"`
	TimeBudgetMS int          `json:"time_budget_ms"`
	GraceMS      int          `json:"grace_ms"`
	Retries      int          `json:"retries"`

	Breadth         int     `json:"breadth"`
	MinFrequency    float64 `json:"min_frequency"`
	MinVisits       int64   `json:"min_visits"`
	MaxPlies        int     `json:"max_plies"`
	NewNodesPerGame int     `json:"new_nodes_per_game"`

	Corpus CorpusConfig `json:"corpus"`
	Cache  CacheConfig  `json:"cache"`

	DataDir    string `json:"data_dir"`
	ListenAddr string `json:"listen_addr"`
	TreeSize   int    `json:"tree_size"`
	LogLevel   string `json:"log_level"`
	LogJSON    bool   `json:"log_json"`
}

func Default() Config {
	return Config{
		Color:        "white",
		Engine:       EngineConfig{Workers: 4},
		TimeBudgetMS: 50,
		GraceMS:      2000,
		Retries:      2,
		Breadth:      8,
		MinFrequency: 0.02,
		MinVisits:    100,
		MaxPlies:     16,
		Corpus: CorpusConfig{
			Path:     corpus.DefaultLocation,
			MaxGames: 1_000_000,
			Filter:   corpus.Filter{MaxRating: 10000, MaxTC: 10000},
		},
		Cache:    CacheConfig{Backend: BackendSQLite, LRUSize: 65536},
		DataDir:  "./data",
		TreeSize: 50,
		LogLevel: "info",
	}
}

// ConfigPath is where the JSON settings file lives.
func ConfigPath() string {
	return getenv("EXPECTREE_CONFIG_PATH", filepath.Join(getenv("EXPECTREE_DATA_DIR", "./data"), "config.json"))
}

// ApplyEnv overrides cfg with any EXPECTREE_* variables that are set.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv("EXPECTREE_PERIOD"); v != "" {
		p, err := ParsePeriod(v)
		if err != nil {
			return fmt.Errorf("EXPECTREE_PERIOD: %w", err)
		}
		cfg.Period = p
	}
	if v := os.Getenv("EXPECTREE_PERIOD_END"); v != "" {
		p, err := ParsePeriod(v)
		if err != nil {
			return fmt.Errorf("EXPECTREE_PERIOD_END: %w", err)
		}
		cfg.PeriodEnd = p
	}
	cfg.Color = getenv("EXPECTREE_COLOR", cfg.Color)
	cfg.Engine.Path = getenv("EXPECTREE_ENGINE_PATH", cfg.Engine.Path)
	cfg.DataDir = getenv("EXPECTREE_DATA_DIR", cfg.DataDir)
	cfg.ListenAddr = getenv("EXPECTREE_LISTEN_ADDR", cfg.ListenAddr)
	cfg.LogLevel = getenv("EXPECTREE_LOG_LEVEL", cfg.LogLevel)

	var err error
	if cfg.Engine.Workers, err = getenvInt("EXPECTREE_ENGINE_WORKERS", cfg.Engine.Workers); err != nil {
		return err
	}
	if cfg.TimeBudgetMS, err = getenvInt("EXPECTREE_TIME_BUDGET_MS", cfg.TimeBudgetMS); err != nil {
		return err
	}
	if v := os.Getenv("EXPECTREE_LOG_JSON"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("EXPECTREE_LOG_JSON: %w", err)
		}
		cfg.LogJSON = b
	}
	return nil
}

// Validate rejects configurations a run cannot start with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Engine.Path) == "" {
		errs = append(errs, errors.New("engine path is required"))
	}
	if c.TimeBudgetMS <= 0 {
		errs = append(errs, fmt.Errorf("time budget must be positive, got %dms", c.TimeBudgetMS))
	}
	if _, err := ParseColor(c.Color); err != nil {
		errs = append(errs, err)
	}
	if err := c.Period.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("period: %w", err))
	}
	if !c.PeriodEnd.IsZero() {
		if err := c.PeriodEnd.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("period_end: %w", err))
		} else if c.PeriodEnd.Before(c.Period) {
			errs = append(errs, fmt.Errorf("period_end %s is before period %s", c.PeriodEnd, c.Period))
		}
	}
	if c.Breadth < 0 {
		errs = append(errs, fmt.Errorf("breadth must not be negative, got %d", c.Breadth))
	}
	if c.MinFrequency < 0 || c.MinFrequency >= 1 {
		errs = append(errs, fmt.Errorf("min_frequency must be in [0,1), got %g", c.MinFrequency))
	}
	if c.MinVisits < 0 || c.MaxPlies < 0 || c.NewNodesPerGame < 0 || c.Retries < 0 {
		errs = append(errs, errors.New("min_visits, max_plies, new_nodes_per_game and retries must not be negative"))
	}
	switch c.Cache.Backend {
	case BackendSQLite, BackendJournal:
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}
	return errors.Join(errs...)
}

// Months lists every month of the configured period range.
func (c Config) Months() []Period {
	end := c.PeriodEnd
	if end.IsZero() {
		end = c.Period
	}
	var out []Period
	for p := c.Period; !end.Before(p); p = p.Next() {
		out = append(out, p)
	}
	return out
}

func (c Config) OptimizerColor() chess.Color {
	col, _ := ParseColor(c.Color)
	return col
}

func (c Config) Budget() time.Duration {
	return time.Duration(c.TimeBudgetMS) * time.Millisecond
}

func (c Config) Grace() time.Duration {
	return time.Duration(c.GraceMS) * time.Millisecond
}

func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, "expectree.sqlite")
}

func (c Config) JournalPath() string {
	return filepath.Join(c.DataDir, "evals.journal")
}

// SnapshotPath is where the tree of one month is kept between runs.
func (c Config) SnapshotPath(p Period) string {
	return filepath.Join(c.DataDir, "trees", p.String()+".tree.zst")
}

func ParseColor(s string) (chess.Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return chess.White, nil
	case "black", "b":
		return chess.Black, nil
	}
	return chess.NoColor, fmt.Errorf("color must be white or black, got %q", s)
}

func getenv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getenvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
