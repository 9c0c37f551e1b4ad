// Package rerank rescores retrieved candidates by model-judged relevance
// and source domain trust.
package rerank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/credence/internal/authority"
	"github.com/ppiankov/credence/internal/embed"
	"github.com/ppiankov/credence/internal/llm"
	"github.com/ppiankov/credence/internal/metrics"
	"github.com/ppiankov/credence/internal/model"
	"github.com/ppiankov/credence/internal/retrieve"
)

// lexicalNorm is the token overlap count that saturates the lexical score
const lexicalNorm = 8.0

var nonWord = regexp.MustCompile(`\W+`)

var errNoArray = errors.New("no JSON array in model output")

// Reranker scores candidates with a language model, falling back to
// lexical overlap
type Reranker struct {
	provider   llm.Provider
	classifier *authority.Classifier
	cfg        model.RerankConfig
	logger     *zap.Logger
	metrics    *metrics.Collector
}

// New creates a reranker; logger and collector may be nil
func New(provider llm.Provider, cfg model.RerankConfig, logger *zap.Logger, m *metrics.Collector) *Reranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reranker{
		provider:   provider,
		classifier: authority.NewClassifier(cfg.TrustedDomains, cfg.NewsDomains),
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
	}
}

type scoredID struct {
	ID    interface{} `json:"id"`
	Score float64     `json:"score"`
}

// Rerank returns min(topK, len(candidates)) candidates sorted by
// descending score, ties in candidate order. Any model or parse failure
// rescores the whole list lexically.
func (r *Reranker) Rerank(ctx context.Context, refinedQuery string, candidates []model.Document, topK int) []model.RankedCandidate {
	defer r.metrics.ObserveStage("rerank", time.Now())

	if topK <= 0 {
		topK = r.cfg.TopK
	}
	if topK <= 0 {
		topK = retrieve.DefaultTopK
	}
	if len(candidates) == 0 {
		return []model.RankedCandidate{}
	}

	base, err := r.modelScores(ctx, refinedQuery, candidates)
	if err != nil {
		r.logger.Warn("model rerank failed, using lexical overlap", zap.String("component", "rerank"), zap.Error(err))
		r.metrics.Fallback("rerank", "lexical")
		base = LexicalScores(refinedQuery, candidates)
	}

	ranked := make([]model.RankedCandidate, len(candidates))
	for i, doc := range candidates {
		ranked[i] = model.RankedCandidate{
			Document: doc,
			Score:    embed.Clamp01(base[i] * r.DomainFactor(doc.SourceURL)),
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked
}

// DomainFactor is the trust multiplier for a source URL
func (r *Reranker) DomainFactor(sourceURL string) float64 {
	switch r.classifier.Classify(sourceURL) {
	case authority.TierTrusted:
		return r.cfg.TrustedFactor
	case authority.TierGov:
		return r.cfg.GovFactor
	case authority.TierNews:
		return r.cfg.NewsFactor
	default:
		return 1.0
	}
}

// modelScores returns one base score per candidate. Candidates the model
// left out score 0.
func (r *Reranker) modelScores(ctx context.Context, query string, candidates []model.Document) ([]float64, error) {
	if r.provider == nil {
		return nil, errors.New("no language model configured")
	}

	resp, err := r.provider.Complete(ctx, llm.CompletionRequest{
		Messages:    llm.User(r.buildPrompt(query, candidates)),
		Temperature: 0,
		MaxTokens:   r.cfg.MaxTokens,
	})
	r.metrics.OracleCall("llm", err)
	if err != nil {
		return nil, err
	}

	raw := resp.Text
	start := strings.Index(raw, "[")
	if start < 0 {
		return nil, errNoArray
	}
	raw = raw[start:]
	if end := strings.LastIndex(raw, "]"); end >= 0 {
		raw = raw[:end+1]
	}

	var parsed []scoredID
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parse rerank scores: %w", err)
	}

	byID := make(map[string]float64, len(parsed))
	for _, p := range parsed {
		id := idString(p.ID)
		if _, dup := byID[id]; !dup {
			byID[id] = p.Score
		}
	}

	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = byID[c.ID]
	}
	return scores, nil
}

func (r *Reranker) buildPrompt(query string, candidates []model.Document) string {
	docs := make([]string, len(candidates))
	for i, d := range candidates {
		docs[i] = fmt.Sprintf("DOC_%d | id:%s\nExcerpt:\n%s\n", i+1, d.ID, retrieve.Truncate(d.Content, r.excerptChars()))
	}

	return fmt.Sprintf(`You are a relevance scorer. Given the query and short document excerpts, return a JSON array:
[{"id":"<doc id>", "score": <0..1>}, ...] with 1 = highly relevant.

Query:
"""%s"""

Documents:
%s

Return only JSON.`, query, strings.Join(docs, "\n---\n"))
}

func (r *Reranker) excerptChars() int {
	if r.cfg.ExcerptChars > 0 {
		return r.cfg.ExcerptChars
	}
	return 400
}

// LexicalScores counts the content tokens that occur in the lowercased
// query and normalizes the count to [0,1].
func LexicalScores(query string, candidates []model.Document) []float64 {
	lowerQ := strings.ToLower(query)
	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		overlap := 0
		for _, tok := range nonWord.Split(strings.ToLower(c.Content), -1) {
			if tok != "" && strings.Contains(lowerQ, tok) {
				overlap++
			}
		}
		scores[i] = min(1, float64(overlap)/lexicalNorm)
	}
	return scores
}

func idString(v interface{}) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}
