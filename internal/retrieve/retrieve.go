// Package retrieve finds candidate documents for a refined query.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/credence/internal/embed"
	"github.com/ppiankov/credence/internal/metrics"
	"github.com/ppiankov/credence/internal/model"
)

const (
	DefaultLimit = 20
	DefaultTopK  = 5
)

// Store is the document side of the corpus store
type Store interface {
	NearestDocuments(ctx context.Context, vec []float32, limit int) ([]model.ScoredDocument, error)
	KeywordDocuments(ctx context.Context, terms []string, limit int) ([]model.Document, error)
}

// Retriever embeds a query and searches the document corpus
type Retriever struct {
	embedder embed.Embedder
	sourcing embed.Embedder // embedder with retries, Sources only
	store    Store
	cfg      model.RetrievalConfig
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// New creates a retriever; logger and collector may be nil
func New(e embed.Embedder, s Store, cfg model.RetrievalConfig, logger *zap.Logger, m *metrics.Collector) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		embedder: e,
		sourcing: embed.WithRetry(e, cfg.SourcesAttempts, cfg.SourcesBackoff, logger),
		store:    s,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
	}
}

// Retrieve returns up to limit documents ordered by ascending vector
// distance. Embedding or search failures yield an empty slice. When the
// vector search succeeds with no rows, a keyword search is tried instead.
func (r *Retriever) Retrieve(ctx context.Context, refinedQuery string, limit int) []model.Document {
	defer r.metrics.ObserveStage("retrieve", time.Now())

	if limit <= 0 {
		limit = r.limit()
	}
	refinedQuery = strings.TrimSpace(refinedQuery)
	if refinedQuery == "" {
		return []model.Document{}
	}

	vec, err := r.embedder.Embed(ctx, refinedQuery)
	r.metrics.OracleCall("embedding", err)
	if err != nil {
		r.logger.Warn("retrieval embedding failed", zap.String("component", "retrieve"), zap.Error(err))
		r.metrics.Fallback("retrieve", "embedding_error")
		return []model.Document{}
	}

	rows, err := r.store.NearestDocuments(ctx, vec, limit)
	r.metrics.OracleCall("store", err)
	if err != nil {
		r.logger.Warn("vector search failed", zap.String("component", "retrieve"), zap.Error(err))
		r.metrics.Fallback("retrieve", "search_error")
		return []model.Document{}
	}

	if len(rows) == 0 {
		return r.keyword(ctx, refinedQuery, limit)
	}

	docs := make([]model.Document, len(rows))
	for i, row := range rows {
		docs[i] = row.Document
	}
	return docs
}

func (r *Retriever) keyword(ctx context.Context, query string, limit int) []model.Document {
	if !r.cfg.KeywordFallback {
		return []model.Document{}
	}
	terms := KeywordTerms(query)
	if len(terms) == 0 {
		return []model.Document{}
	}

	docs, err := r.store.KeywordDocuments(ctx, terms, limit)
	r.metrics.OracleCall("store", err)
	if err != nil {
		r.logger.Warn("keyword search failed", zap.String("component", "retrieve"), zap.Error(err))
		return []model.Document{}
	}
	r.metrics.Fallback("retrieve", "keyword")
	r.logger.Debug("keyword fallback", zap.Strings("terms", terms), zap.Int("rows", len(docs)))
	if docs == nil {
		docs = []model.Document{}
	}
	return docs
}

// ErrNoEmbedding is returned by Sources when the query cannot be embedded
var ErrNoEmbedding = errors.New("query embedding unavailable")

// Sources runs one vector search and formats the rows as citation entries.
// Unlike Retrieve, failures are returned to the caller.
func (r *Retriever) Sources(ctx context.Context, query string, topK int) ([]model.Source, error) {
	if topK <= 0 {
		topK = r.cfg.SourcesTopK
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	vec, err := r.sourcing.Embed(ctx, strings.TrimSpace(query))
	r.metrics.OracleCall("embedding", err)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoEmbedding, err)
	}

	rows, err := r.store.NearestDocuments(ctx, vec, topK)
	r.metrics.OracleCall("store", err)
	if err != nil {
		return nil, fmt.Errorf("search sources: %w", err)
	}

	chars := r.cfg.ExcerptChars
	if chars <= 0 {
		chars = 1200
	}
	out := make([]model.Source, len(rows))
	for i, row := range rows {
		title := row.SourceTitle
		if title == "" {
			title = fmt.Sprintf("source_%d", i+1)
		}
		out[i] = model.Source{
			ID:      i + 1,
			Title:   title,
			URL:     row.SourceURL,
			Excerpt: Truncate(row.Content, chars),
			Score:   embed.Similarity(row.Distance),
		}
	}
	return out, nil
}

func (r *Retriever) limit() int {
	if r.cfg.Limit > 0 {
		return r.cfg.Limit
	}
	return DefaultLimit
}

// Truncate cuts s to at most n runes
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
