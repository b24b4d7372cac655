package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"expectree/internal/config"
	"expectree/internal/configstore"
	"expectree/internal/db"
	"expectree/internal/evalcache"
	"expectree/internal/evaluator"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: evalcheck FEN")
		os.Exit(2)
	}
	fen := strings.Join(os.Args[1:], " ")

	store, err := configstore.New(config.ConfigPath())
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	cfg, err := store.GetConfig(context.Background())
	if err == nil {
		err = config.ApplyEnv(&cfg)
	}
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}

	var (
		cache evalcache.Store
		count func(context.Context) (int64, error)
	)
	if cfg.Cache.Backend == config.BackendJournal {
		var j *evalcache.Journal
		j, _, err = evalcache.OpenJournal(cfg.JournalPath(), zerolog.Nop())
		cache = j
		count = func(context.Context) (int64, error) { return int64(j.Len()), nil }
	} else {
		var s *db.Store
		s, err = db.Open(cfg.DBPath())
		cache = s
		count = s.CountEvals
	}
	if err != nil {
		fmt.Println("open cache:", err)
		os.Exit(1)
	}
	defer cache.Close()

	n, err := count(context.Background())
	if err != nil {
		fmt.Println("count cache:", err)
		os.Exit(1)
	}
	fmt.Printf("cached: %d positions\n", n)

	ev := evaluator.New(cache, nil, evaluator.Config{})
	e, err := ev.Lookup(context.Background(), fen)
	switch {
	case errors.Is(err, evalcache.ErrNotFound):
		fmt.Println("not cached")
	case err != nil:
		fmt.Println("lookup error:", err)
		os.Exit(1)
	default:
		fmt.Printf("key:    %s\nscore:  %.4f (white)\nraw:    %s\ndepth:  %d\nengine: %s\n", e.Key, e.Score, e.Raw, e.Depth, e.Engine)
	}
}
