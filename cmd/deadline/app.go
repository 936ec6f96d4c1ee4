package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"deadline/lib/cache"
	"deadline/lib/config"
	"deadline/lib/llm"
	"deadline/lib/logger"
	"deadline/lib/pipeline"
	"deadline/lib/scraper"
	"deadline/lib/search"
	"deadline/lib/store"
	"deadline/lib/web"
)

// app holds the wired service: one pool, one cache client and both pipelines.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	pool     *pgxpool.Pool
	store    *store.Postgres
	tagCache *cache.RedisTagCache
	details  *pipeline.DetailExtractor
	updates  *pipeline.UpdateDetector
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:   cfg,
		log:   log,
		pool:  pool,
		store: store.NewPostgres(pool, log.WithModule("STORE")),
	}

	fetcher := web.NewFetcher(cfg.HTTPTimeout)
	searcher, err := search.NewClient(cfg.GoogleAPIKey, cfg.GoogleCSEID, fetcher, cfg.SearchPageDelay, log.WithModule("SEARCH"))
	if err != nil {
		a.Close()
		return nil, err
	}
	completer, err := llm.NewOpenAIClient(llm.ClientOptions{
		APIKey:      cfg.OpenAIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.OpenAIModel,
		Temperature: cfg.OpenAITemperature,
		MaxTokens:   cfg.OpenAIMaxTokens,
		Timeout:     cfg.OpenAITimeout,
	}, log.WithModule("LLM"))
	if err != nil {
		a.Close()
		return nil, err
	}

	var invalidators cache.Multi
	if cfg.RedisURL != "" {
		tc, err := cache.NewRedisTagCacheFromURL(cfg.RedisURL, log.WithModule("CACHE"))
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := tc.Ping(ctx); err != nil {
			log.Warning("Redis not reachable at startup, continuing: %v", err)
		}
		a.tagCache = tc
		invalidators = append(invalidators, tc)
	}
	if cfg.RevalidateURL != "" {
		invalidators = append(invalidators, cache.NewRevalidator(cfg.RevalidateURL, cfg.RevalidateSecret, fetcher, log.WithModule("CACHE")))
	}

	deps := pipeline.Deps{
		Store:    a.store,
		Searcher: searcher,
		Scraper:  scraper.New(fetcher, cfg.ScrapeTimeout, log.WithModule("SCRAPER")),
		Analyzer: llm.NewExtractor(completer, log.WithModule("LLM")),
		Logger:   log.WithModule("DETAILS"),
	}
	if len(invalidators) > 0 {
		deps.Cache = invalidators
	}
	a.details = pipeline.NewDetailExtractor(deps, cfg.SearchPageCount)

	deps.Logger = log.WithModule("UPDATES")
	a.updates = pipeline.NewUpdateDetector(deps, pipeline.UpdateOptions{
		PageCount:        cfg.SearchPageCount,
		DateRestrictDays: cfg.SearchDateRestrictDays,
		PerDate:          cfg.UpdatesPerDate,
	})

	log.Info("Wired pipelines: model %s, %d search pages, redis %t, revalidate %t",
		cfg.OpenAIModel, cfg.SearchPageCount, a.tagCache != nil, cfg.RevalidateURL != "")
	return a, nil
}

func (a *app) Close() {
	if a.tagCache != nil {
		if err := a.tagCache.Close(); err != nil {
			a.log.Warning("Closing redis: %v", err)
		}
	}
	a.pool.Close()
}

// connectStore opens only the database, for commands that need nothing else.
func connectStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (*pgxpool.Pool, *store.Postgres, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("%w: DATABASE_URL", config.ErrMissingCredentials)
	}
	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return pool, store.NewPostgres(pool, log.WithModule("STORE")), nil
}
