package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/notaria-labs/registro-cli/internal/db"
	"github.com/notaria-labs/registro-cli/internal/evolve"
	"github.com/notaria-labs/registro-cli/internal/extraction"
	"github.com/notaria-labs/registro-cli/internal/feedback"
	"github.com/notaria-labs/registro-cli/internal/goldenset"
	"github.com/notaria-labs/registro-cli/internal/layout"
	"github.com/notaria-labs/registro-cli/internal/prompt"
	"github.com/notaria-labs/registro-cli/internal/schema"
	"github.com/notaria-labs/registro-cli/pkg/anthropic"
)

// env bundles the wired collaborators shared by the commands.
type env struct {
	pool     *pgxpool.Pool
	prompts  prompt.Store
	feedback feedback.Store
	truths   goldenset.TruthStore
	audit    extraction.AuditStore
	schemas  *schema.Registry
	client   anthropic.Client
	limiter  *rate.Limiter
}

// initEnv connects the database and constructs the stores.
func initEnv(ctx context.Context) (*env, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, eris.New("store.database_url is required (REGISTRO_STORE_DATABASE_URL)")
	}
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic.key is required (REGISTRO_ANTHROPIC_KEY)")
	}

	pool, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "connect to postgres")
	}

	schemas := schema.NewRegistry()
	if cfg.Schemas.Dir != "" {
		if err := schemas.LoadDir(cfg.Schemas.Dir); err != nil {
			pool.Close()
			return nil, err
		}
	}

	rpm := cfg.Anthropic.RequestsPerMinute
	if rpm <= 0 {
		rpm = 50
	}

	return &env{
		pool:     pool,
		prompts:  prompt.NewPostgresStore(pool),
		feedback: feedback.NewPostgresStore(pool),
		truths:   goldenset.NewPostgresTruthStore(pool),
		audit:    extraction.NewPostgresAuditStore(pool),
		schemas:  schemas,
		client:   anthropic.NewClient(cfg.Anthropic.Key),
		limiter:  rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
	}, nil
}

// Close releases the database pool.
func (e *env) Close() {
	e.pool.Close()
}

// extractor builds a single-model extractor sharing the env rate limiter.
func (e *env) extractor(model string) *extraction.ClaudeExtractor {
	return extraction.NewClaudeExtractor(e.client, model, e.limiter, cfg.Extraction.MaxRetries, nil)
}

// pipeline wires the full consensus pipeline. The layout provider is optional:
// without one, runs skip positional verification.
func (e *env) pipeline() (*extraction.Pipeline, error) {
	var lay layout.Provider
	if cfg.Layout.BaseURL != "" {
		var err error
		lay, err = layout.NewProvider(cfg.Layout)
		if err != nil {
			return nil, err
		}
	} else {
		zap.L().Warn("no layout service configured, positional verification disabled")
	}

	extractors := make([]*extraction.ClaudeExtractor, 0, len(cfg.Extraction.Extractors))
	for _, model := range cfg.Extraction.Extractors {
		extractors = append(extractors, e.extractor(model))
	}
	return extraction.NewPipeline(extractors, e.prompts, e.schemas, lay, e.audit, nil)
}

// evolver wires the prompt evolver.
func (e *env) evolver() *evolve.Evolver {
	return evolve.NewEvolver(e.prompts, e.feedback, e.client,
		cfg.Evolution.RewriteModel, cfg.Evolution.ExampleCount)
}

// gate wires the regression gate for one extraction model. The session pair
// locker serializes concurrent gate runs for the same (doc_type, model).
func (e *env) gate(model string) *goldenset.Gate {
	return goldenset.NewGate(e.prompts, e.feedback, e.truths,
		e.extractor(model), e.schemas, db.NewSessionPairLocker(e.pool),
		cfg.Evolution.BacktestSamples)
}
