package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spboyer/kinetic/internal/analyzer"
	"github.com/spboyer/kinetic/internal/cache"
	"github.com/spboyer/kinetic/internal/generate"
	"github.com/spboyer/kinetic/internal/library"
	"github.com/spboyer/kinetic/internal/projectconfig"
	"github.com/spboyer/kinetic/internal/recommend"
	"github.com/spboyer/kinetic/internal/scoring"
	"github.com/spboyer/kinetic/internal/store"
)

// app is an opened library plus the configuration it was built from. Only
// one process may hold a library open; always Close it.
type app struct {
	cfg   *projectconfig.ProjectConfig
	store *store.Store
	lib   *library.Library
}

// loadConfig resolves .kinetic.yaml and applies the --store override.
func (o *rootOptions) loadConfig() (*projectconfig.ProjectConfig, error) {
	cfg, err := projectconfig.Load(o.projectDir)
	if err != nil {
		return nil, err
	}
	if o.storeDir != "" {
		cfg.Store.Dir = o.storeDir
	}
	return cfg, nil
}

// open wires the library from configuration. gen may be nil for commands
// that never generate.
func (o *rootOptions) open(ctx context.Context, gen generate.Generator) (*app, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	logger := slog.Default()
	st, err := store.Open(ctx, cfg.Store.Dir, &store.Options{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("opening library %s: %w", cfg.Store.Dir, err)
	}

	lib := library.New(st,
		analyzer.New(cfg.Analyzer),
		scoring.NewModel(cfg.Scoring),
		recommend.NewEngine(cfg.Recommend),
		library.Options{
			Logger:          logger,
			Cache:           cache.New(cfg.CachePath()),
			Generator:       gen,
			SolvedThreshold: cfg.Library.SolvedThreshold,
			Workers:         cfg.Library.Workers,
		},
	)
	return &app{cfg: cfg, store: st, lib: lib}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
