package cli

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/credence/internal/breaker"
	"github.com/ppiankov/credence/internal/cache"
	"github.com/ppiankov/credence/internal/claims"
	"github.com/ppiankov/credence/internal/credcheck"
	"github.com/ppiankov/credence/internal/embed"
	"github.com/ppiankov/credence/internal/fetch"
	"github.com/ppiankov/credence/internal/gold"
	"github.com/ppiankov/credence/internal/ingest"
	"github.com/ppiankov/credence/internal/llm"
	"github.com/ppiankov/credence/internal/metrics"
	"github.com/ppiankov/credence/internal/model"
	"github.com/ppiankov/credence/internal/pipeline"
	"github.com/ppiankov/credence/internal/rerank"
	"github.com/ppiankov/credence/internal/retrieve"
	"github.com/ppiankov/credence/internal/router"
	"github.com/ppiankov/credence/internal/store"
	"github.com/ppiankov/credence/internal/synth"
	"github.com/ppiankov/credence/internal/worker"
)

// needs says which oracles a command cannot run without
type needs struct {
	llm       bool
	embedding bool
}

// app holds the process-wide collaborators of one command
type app struct {
	cfg      *model.Config
	logger   *zap.Logger
	metrics  *metrics.Collector
	store    *store.SQLite
	cache    cache.Cache
	embedder embed.Embedder
	provider llm.Provider
}

func newApp(cfg *model.Config, logger *zap.Logger, n needs) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewCollector("credence"),
		cache:   cache.New(cfg.Cache),
	}

	s, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}
	a.store = s

	a.embedder, err = embed.New(cfg.Embedding, cfg.HTTP, a.cache, logger)
	if err != nil {
		if n.embedding {
			_ = s.Close()
			return nil, fmt.Errorf("embedding client: %w", err)
		}
		logger.Warn("embedding client unavailable", zap.Error(err))
	}

	provider, err := llm.NewProvider(llm.ConfigFromModel(cfg.LLM))
	if err != nil {
		if n.llm {
			_ = s.Close()
			return nil, fmt.Errorf("language model: %w", err)
		}
		logger.Warn("language model unavailable", zap.Error(err))
	} else {
		a.provider = llm.WithBreaker(provider, breaker.New("llm", cfg.LLM.Breaker, logger))
	}
	return a, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func (a *app) pipeline() *pipeline.Pipeline {
	cfg := a.cfg
	return pipeline.New(pipeline.Components{
		Router:      router.New(a.provider, a.logger, a.metrics),
		Gold:        gold.NewMatcher(a.embedder, a.store, cfg.Gold, a.logger, a.metrics),
		Retriever:   retrieve.New(a.embedder, a.store, cfg.Retrieval, a.logger, a.metrics),
		Reranker:    rerank.New(a.provider, cfg.Rerank, a.logger, a.metrics),
		Synthesizer: synth.New(a.provider, a.claims(), cfg.Synth, a.logger, a.metrics),
	}, cfg, a.logger, a.metrics)
}

func (a *app) claims() synth.ClaimExtractor {
	if a.provider == nil {
		return nil
	}
	return claims.NewExtractor(a.provider, a.cfg.Claims, a.logger, a.metrics)
}

// fetcher is shared by verification and ingestion; timeout overrides the
// configured HTTP timeout when positive
func (a *app) fetcher(timeout time.Duration) *fetch.Fetcher {
	httpCfg := a.cfg.HTTP
	if timeout > 0 {
		httpCfg.Timeout = timeout
	}
	opts := []fetch.Option{
		fetch.WithLimiter(worker.NewLimiter(httpCfg.RequestsPerSecond, httpCfg.Burst)),
		fetch.WithCache(a.cache, a.cfg.Cache.MemoryTTL),
		fetch.WithLogger(a.logger),
	}
	if a.cfg.Verify.RespectRobots {
		opts = append(opts, fetch.WithRobots(fetch.NewRobotsChecker(httpCfg.UserAgent, httpCfg.Timeout)))
	}
	return fetch.New(httpCfg, opts...)
}

func (a *app) verifier() *credcheck.Verifier {
	opts := []credcheck.Option{
		credcheck.WithFetcher(a.fetcher(a.cfg.Verify.FetchTimeout)),
		credcheck.WithLogger(a.logger),
		credcheck.WithMetrics(a.metrics),
	}
	if a.embedder != nil {
		opts = append(opts, credcheck.WithEmbedder(a.embedder))
	}
	if a.provider != nil {
		opts = append(opts, credcheck.WithProvider(a.provider))
	}
	if a.cfg.Verify.LogVerdicts {
		opts = append(opts, credcheck.WithVerdictLog(a.store))
	}
	return credcheck.New(a.cfg.Verify, opts...)
}

func (a *app) ingester() *ingest.Ingester {
	return ingest.New(a.fetcher(0), a.embedder, a.store, a.cfg.Ingest, a.logger, a.metrics)
}
