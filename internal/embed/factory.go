package embed

import (
	"go.uber.org/zap"

	"github.com/ppiankov/credence/internal/breaker"
	"github.com/ppiankov/credence/internal/cache"
	"github.com/ppiankov/credence/internal/model"
)

// New assembles the shared embedding stack: cache outermost, then the
// breaker around the API client. It never retries; callers that need to
// wrap it with WithRetry themselves.
func New(cfg model.EmbeddingConfig, httpCfg model.HTTPConfig, store cache.Cache, logger *zap.Logger) (Embedder, error) {
	client, err := NewOpenAIEmbedder(cfg, httpCfg)
	if err != nil {
		return nil, err
	}

	var e Embedder = client
	e = WithBreaker(e, breaker.New("embedding", cfg.Breaker, logger))
	e = WithCache(e, store, client.model, cfg.CacheTTL)
	return e, nil
}
