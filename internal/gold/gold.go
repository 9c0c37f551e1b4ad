// Package gold matches a query against curated question/answer pairs.
package gold

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/credence/internal/embed"
	"github.com/ppiankov/credence/internal/metrics"
	"github.com/ppiankov/credence/internal/model"
	"github.com/ppiankov/credence/internal/store"
)

// Classification says how a gold match should be served
type Classification string

const (
	// ClassGold is served verbatim
	ClassGold Classification = "gold"
	// ClassBorderline is served with a verification disclaimer
	ClassBorderline Classification = "gold_borderline"
	// ClassRAG falls through to document retrieval
	ClassRAG Classification = "rag"
)

// Searcher is the gold side of the corpus store
type Searcher interface {
	NearestGold(ctx context.Context, index store.GoldIndex, vec []float32, limit int) ([]model.ScoredGold, error)
}

// Thresholds are the classification cut-offs
type Thresholds struct {
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	HumanConf float64 `json:"human_conf"`
}

// Candidate is one merged gold answer with its similarity signals
type Candidate struct {
	model.GoldAnswer
	SimQ     float64 `json:"sim_q"`
	SimA     float64 `json:"sim_a"`
	Combined float64 `json:"combined"`
}

// Result is the outcome of a gold search
type Result struct {
	Candidates     []Candidate    `json:"candidates"`
	Best           *Candidate     `json:"best"`
	Classification Classification `json:"classification"`
	Thresholds     Thresholds     `json:"thresholds"`
}

// Matcher runs dual-index gold searches
type Matcher struct {
	embedder embed.Embedder
	searcher Searcher
	cfg      model.GoldConfig
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// NewMatcher creates a matcher; logger and collector may be nil
func NewMatcher(e embed.Embedder, s Searcher, cfg model.GoldConfig, logger *zap.Logger, m *metrics.Collector) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{embedder: e, searcher: s, cfg: cfg, logger: logger, metrics: m}
}

// Thresholds returns the configured cut-offs
func (m *Matcher) Thresholds() Thresholds {
	return Thresholds{High: m.cfg.High, Low: m.cfg.Low, HumanConf: m.cfg.HumanConfMin}
}

// Search embeds query once, searches the question and answer indexes in
// parallel and classifies the best merged candidate. Failures fail open to
// ClassRAG.
func (m *Matcher) Search(ctx context.Context, query string, limit int) Result {
	defer m.metrics.ObserveStage("gold", time.Now())

	if limit <= 0 {
		limit = m.cfg.Limit
	}
	res := Result{Candidates: []Candidate{}, Classification: ClassRAG, Thresholds: m.Thresholds()}

	if strings.TrimSpace(query) == "" {
		return res
	}

	vec, err := m.embedder.Embed(ctx, query)
	m.metrics.OracleCall("embedding", err)
	if err != nil {
		m.logger.Warn("gold search embedding failed", zap.String("component", "gold"), zap.Error(err))
		m.metrics.Fallback("gold", "embedding_error")
		m.metrics.GoldClassification(string(res.Classification))
		return res
	}

	var (
		byQ, byA   []model.ScoredGold
		errQ, errA error
		g          errgroup.Group
	)
	g.Go(func() error {
		byQ, errQ = m.searcher.NearestGold(ctx, store.GoldByQuestion, vec, limit)
		return nil
	})
	g.Go(func() error {
		byA, errA = m.searcher.NearestGold(ctx, store.GoldByAnswer, vec, limit)
		return nil
	})
	_ = g.Wait()

	if errQ != nil {
		m.logger.Warn("gold question search failed", zap.String("component", "gold"), zap.Error(errQ))
	}
	if errA != nil {
		m.logger.Warn("gold answer search failed", zap.String("component", "gold"), zap.Error(errA))
	}
	if errQ != nil && errA != nil {
		m.metrics.Fallback("gold", "search_error")
		m.metrics.GoldClassification(string(res.Classification))
		return res
	}

	res.Candidates = m.merge(byQ, byA)
	if len(res.Candidates) > 0 {
		best := res.Candidates[0]
		res.Best = &best
		res.Classification = Classify(best.Combined, best.HumanConfidence, res.Thresholds)
	}
	m.metrics.GoldClassification(string(res.Classification))
	return res
}

// merge keeps the best similarity per id from each index and orders by the
// fused score, ties in first-seen order
func (m *Matcher) merge(byQ, byA []model.ScoredGold) []Candidate {
	var order []string
	byID := make(map[string]*Candidate)

	add := func(row model.ScoredGold, question bool) {
		c, ok := byID[row.ID]
		if !ok {
			c = &Candidate{GoldAnswer: row.GoldAnswer}
			byID[row.ID] = c
			order = append(order, row.ID)
		}
		sim := embed.Similarity(row.Distance)
		if question {
			c.SimQ = max(c.SimQ, sim)
		} else {
			c.SimA = max(c.SimA, sim)
		}
	}
	for _, row := range byQ {
		add(row, true)
	}
	for _, row := range byA {
		add(row, false)
	}

	out := make([]Candidate, 0, len(order))
	for _, id := range order {
		c := byID[id]
		c.Combined = Combine(c.SimQ, c.SimA, c.HumanConfidence, m.cfg)
		out = append(out, *c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Combined > out[j].Combined
	})
	return out
}

// Combine fuses question similarity, answer similarity and human confidence
func Combine(simQ, simA, humanConf float64, cfg model.GoldConfig) float64 {
	return cfg.QuestionWeight*simQ + cfg.AnswerWeight*simA + cfg.HumanWeight*humanConf
}

// Classify maps a fused score to a serving decision. For fixed human
// confidence it is monotonic in combined.
func Classify(combined, humanConf float64, t Thresholds) Classification {
	switch {
	case combined >= t.High && humanConf >= t.HumanConf:
		return ClassGold
	case combined >= t.Low:
		return ClassBorderline
	default:
		return ClassRAG
	}
}

// FormatSources converts curated sources into numbered answer sources
func FormatSources(sources []model.GoldSource) []model.Source {
	out := make([]model.Source, 0, len(sources))
	for i, s := range sources {
		title := s.Title
		if title == "" {
			title = "Gold Standard Answer"
		}
		out = append(out, model.Source{
			ID:          i + 1,
			Title:       title,
			URL:         s.URL,
			Excerpt:     s.Excerpt,
			SnapshotURL: s.SnapshotURL,
		})
	}
	return out
}
