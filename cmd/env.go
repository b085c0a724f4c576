package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/andina-health/glosas-cli/internal/catalog"
	"github.com/andina-health/glosas-cli/internal/payer"
	"github.com/andina-health/glosas-cli/internal/pipeline"
	"github.com/andina-health/glosas-cli/internal/rules"
	"github.com/andina-health/glosas-cli/internal/store"
	anthropicpkg "github.com/andina-health/glosas-cli/pkg/anthropic"
)

// auditEnv holds the initialized store, catalog and auditor the
// audit/batch/serve commands share.
type auditEnv struct {
	Store    store.Store
	Catalogo *catalog.MemoryCatalog
	Auditor  *pipeline.Auditor
}

// Close releases resources held by the environment.
func (e *auditEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "glosas.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{MaxConns: int32(cfg.Store.MaxConns)})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initCatalog loads the reference tariff schedule: the configured workbook
// when one is set, otherwise the built-in ISS-2004 sample.
func initCatalog() (*catalog.MemoryCatalog, error) {
	cat := catalog.NewMemory()
	if cfg.Audit.TarifarioXLSX != "" {
		n, err := catalog.LoadXLSX(cat, cfg.Audit.TarifarioXLSX, catalog.XLSXOptions{})
		if err != nil {
			return nil, eris.Wrap(err, "load tarifario workbook")
		}
		zap.L().Info("tarifario loaded", zap.String("path", cfg.Audit.TarifarioXLSX), zap.Int("rows", n))
		return cat, nil
	}
	for _, t := range catalog.ISS2004Sample() {
		cat.Add(t)
	}
	zap.L().Info("tarifario loaded from built-in sample", zap.Int("rows", cat.Len()))
	return cat, nil
}

// initAudit sets up the store, catalog and auditor. Callers should defer
// env.Close().
func initAudit(ctx context.Context) (*auditEnv, error) {
	if err := cfg.Validate("audit"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	cat, err := initCatalog()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	opts := []pipeline.Option{pipeline.WithTolerancia(cfg.Audit.ToleranciaTarifa)}
	if cfg.Payer.Enabled {
		opts = append(opts, pipeline.WithPayer(payer.NewClient(cfg.Payer.BaseURL,
			payer.WithRateLimit(cfg.Payer.RatePerSecond),
			payer.WithTimeout(time.Duration(cfg.Payer.TimeoutSecs)*time.Second),
		)))
		zap.L().Info("payer verification enabled", zap.String("base_url", cfg.Payer.BaseURL))
	}

	return &auditEnv{
		Store:    st,
		Catalogo: cat,
		Auditor:  pipeline.New(st, cat, opts...),
	}, nil
}

// initRules sets up the rule repository with the LLM interpreter.
func initRules(ctx context.Context) (*rules.Repository, store.Store, error) {
	if err := cfg.Validate("rules"); err != nil {
		return nil, nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, nil, eris.Wrap(err, "migrate store")
	}

	interp := rules.NewAnthropicInterpreter(
		anthropicpkg.NewClient(cfg.Anthropic.Key),
		cfg.Anthropic.Model,
		time.Duration(cfg.Anthropic.TimeoutSecs)*time.Second,
	)
	return rules.NewRepository(st, interp), st, nil
}
