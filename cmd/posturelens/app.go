package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/darkace1998/PostureLens/internal/aggregate"
	"github.com/darkace1998/PostureLens/internal/assessment"
	"github.com/darkace1998/PostureLens/internal/cache"
	"github.com/darkace1998/PostureLens/internal/collector"
	"github.com/darkace1998/PostureLens/internal/config"
	"github.com/darkace1998/PostureLens/internal/fallback"
	"github.com/darkace1998/PostureLens/internal/logging"
	"github.com/darkace1998/PostureLens/internal/manifest"
	"github.com/darkace1998/PostureLens/internal/model"
	"github.com/darkace1998/PostureLens/internal/normalize"
)

// app holds the components shared by every subcommand.
type app struct {
	cache cache.Cache
	store manifest.Store
	svc   *assessment.Service
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	log := logging.Default()

	c, err := cache.Open(ctx, cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	store, err := manifest.Open(cfg.Storage)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("opening manifest store: %w", err)
	}

	opts := fallback.OptionsFromConfig(cfg.Sources, cfg.Demo)
	opts.Logger = log
	chain := fallback.New(c, collectors(cfg), opts)

	orch := aggregate.New(chain, normalize.New(log), aggregate.Options{
		TenantDeadline: cfg.Sources.TenantDeadline,
		MaxConcurrency: cfg.Sources.MaxConcurrency,
		Logger:         log,
	})
	svc := assessment.New(orch, store, cfg.Tenants, assessment.Options{
		Assessor: cfg.Assessor,
		Logger:   log,
	})

	if cfg.Demo {
		log.Info("Demo mode: serving canned payloads tagged MOCK")
	}
	return &app{cache: c, store: store, svc: svc}, nil
}

// collectors builds one HTTP collector per domain. Demo mode needs none.
func collectors(cfg config.Config) []collector.Collector {
	if cfg.Demo {
		return nil
	}
	client := &http.Client{}
	var out []collector.Collector
	for _, d := range model.Domains() {
		out = append(out, collector.NewHTTP(d, cfg.Sources.BaseURL, client))
	}
	return out
}

func (a *app) Close() {
	log := logging.Default()
	if err := a.store.Close(); err != nil {
		log.Warn("Closing manifest store: %v", err)
	}
	if err := a.cache.Close(); err != nil {
		log.Warn("Closing cache: %v", err)
	}
}
