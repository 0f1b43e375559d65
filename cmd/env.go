package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/dwellscope/listing-cli/internal/fetcher"
	"github.com/dwellscope/listing-cli/internal/pipeline"
	"github.com/dwellscope/listing-cli/internal/quota"
	"github.com/dwellscope/listing-cli/internal/store"
	"github.com/dwellscope/listing-cli/pkg/aimodel"
)

// env bundles the wired components a command needs.
type env struct {
	Store    store.Store
	Ledger   *quota.Ledger
	Pipeline *pipeline.Pipeline
}

func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore connects to Postgres.
func initStore(ctx context.Context) (store.Store, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, eris.New("store.database_url is required (DWELL_STORE_DATABASE_URL)")
	}
	return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
}

// initEnv wires the store, ledger, AI client and fetcher into a
// pipeline.
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	ledger := quota.NewLedger(st, cfg.Quota.DefaultLimits(), quota.FailurePolicy(cfg.Quota.FailurePolicy))

	ai := aimodel.NewClient(aimodel.Options{
		APIKey:            cfg.Anthropic.Key,
		Model:             cfg.Anthropic.Model,
		RequestsPerSecond: cfg.Anthropic.RequestsPerSecond,
	})

	fetch := fetcher.NewHTTPFetcher(fetcher.Options{
		UserAgent:         cfg.Fetcher.UserAgent,
		Timeout:           time.Duration(cfg.Fetcher.TimeoutSecs) * time.Second,
		MaxRetries:        cfg.Fetcher.MaxRetries,
		RequestsPerSecond: cfg.Fetcher.RequestsPerSecond,
	})

	p := pipeline.New(st, ledger, ai, fetch, pipeline.Config{
		Model:            cfg.Anthropic.Model,
		MaxTokens:        cfg.Anthropic.MaxTokens,
		Temperature:      cfg.Anthropic.Temperature,
		StatsMaxSearches: cfg.Anthropic.StatsMaxSearches,
	})

	return &env{Store: st, Ledger: ledger, Pipeline: p}, nil
}
