package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"expectree/internal/app"
	"expectree/internal/config"
	"expectree/internal/configstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "expectree:", err)
		os.Exit(1)
	}
}

func run() error {
	store, err := configstore.New(config.ConfigPath())
	if err != nil {
		return err
	}
	cfg, err := store.GetConfig(context.Background())
	if err != nil {
		return err
	}
	if err := config.ApplyEnv(&cfg); err != nil {
		return err
	}

	flag.Var(&cfg.Period, "period", "first corpus month, YYYY-MM")
	flag.Var(&cfg.PeriodEnd, "period-end", "last corpus month, YYYY-MM (default: period)")
	flag.StringVar(&cfg.Color, "color", cfg.Color, "side to optimize for: white or black")
	flag.StringVar(&cfg.Engine.Path, "engine", cfg.Engine.Path, "UCI engine executable")
	flag.IntVar(&cfg.Engine.Workers, "workers", cfg.Engine.Workers, "engine processes")
	flag.IntVar(&cfg.TimeBudgetMS, "ms", cfg.TimeBudgetMS, "engine time per position in milliseconds")
	flag.Int64Var(&cfg.Corpus.MaxGames, "games", cfg.Corpus.MaxGames, "games read per month")
	flag.StringVar(&cfg.Corpus.Path, "corpus", cfg.Corpus.Path, "PGN path or URL template with {year} and {month}")
	flag.IntVar(&cfg.Breadth, "breadth", cfg.Breadth, "children kept per node (0 = all)")
	flag.Float64Var(&cfg.MinFrequency, "min-frequency", cfg.MinFrequency, "minimum share of parent visits")
	flag.Int64Var(&cfg.MinVisits, "threshold", cfg.MinVisits, "visits needed to expand a node")
	flag.IntVar(&cfg.MaxPlies, "plies", cfg.MaxPlies, "plies read per game")
	flag.IntVar(&cfg.TreeSize, "treesize", cfg.TreeSize, "nodes printed")
	flag.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for the database and snapshots")
	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "serve reports on this address")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	save := flag.Bool("save", false, "write the effective settings to "+store.Path())
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		return err
	}
	if *save {
		if err := store.UpdateConfig(context.Background(), cfg); err != nil {
			return err
		}
	}
	log, err := app.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	defer application.Close()

	var server *http.Server
	if cfg.ListenAddr != "" {
		server = &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           application.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.ListenAddr).Msg("report server listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("report server")
			}
		}()
	}

	_, runErr := application.Run(ctx)

	if server != nil {
		if ctx.Err() == nil {
			log.Info().Msg("run over; serving reports until interrupted")
			<-ctx.Done()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
	return runErr
}
