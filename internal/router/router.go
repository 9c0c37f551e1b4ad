// Package router rewrites a conversational query into a standalone search
// query and classifies its intent and answer format.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/credence/internal/llm"
	"github.com/ppiankov/credence/internal/metrics"
	"github.com/ppiankov/credence/internal/model"
)

const (
	historyTurns = 6
	maxTokens    = 180
)

const systemPrompt = "You are a compact query rewriting assistant for retrieval."

var comparisonPattern = regexp.MustCompile(`\b(compare|comparison|difference|differences|vs|versus)\b`)

// Router classifies queries with a language model
type Router struct {
	provider llm.Provider
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// New creates a router; logger and collector may be nil
func New(provider llm.Provider, logger *zap.Logger, m *metrics.Collector) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{provider: provider, logger: logger, metrics: m}
}

type routeReply struct {
	RefinedQuery string `json:"refined_query"`
	Query        string `json:"query"`
	Intent       string `json:"intent"`
	Type         string `json:"type"`
	Format       string `json:"format"`
}

// Route never fails: a failed or unparsable classification yields
// model.DefaultRoutedQuery, and unparsable output still detects comparisons.
func (r *Router) Route(ctx context.Context, query string, history []model.Turn) model.RoutedQuery {
	query = strings.TrimSpace(query)
	fallback := model.DefaultRoutedQuery(query)
	if query == "" || r.provider == nil {
		return fallback
	}

	resp, err := r.provider.Complete(ctx, llm.CompletionRequest{
		System:      systemPrompt,
		Messages:    llm.User(buildPrompt(query, history)),
		Temperature: 0,
		MaxTokens:   maxTokens,
		JSONMode:    true,
	})
	r.metrics.OracleCall("llm", err)
	if err != nil {
		r.logger.Warn("query routing failed, using defaults", zap.String("component", "router"), zap.Error(err))
		r.metrics.Fallback("router", "oracle_error")
		return fallback
	}

	var reply routeReply
	if err := json.Unmarshal([]byte(extractObject(resp.Text)), &reply); err != nil {
		r.logger.Warn("unparsable routing output", zap.String("component", "router"), zap.Error(err))
		r.metrics.Fallback("router", "parse_error")
		if comparisonPattern.MatchString(strings.ToLower(query)) {
			fallback.Intent = model.IntentComparison
			fallback.Format = model.FormatTable
		}
		return fallback
	}

	routed := model.RoutedQuery{
		RefinedQuery: firstNonEmpty(reply.RefinedQuery, reply.Query, query),
		Intent:       normalizeIntent(firstNonEmpty(reply.Intent, reply.Type)),
		Format:       normalizeFormat(reply.Format),
	}
	return routed
}

func buildPrompt(query string, history []model.Turn) string {
	if len(history) > historyTurns {
		history = history[len(history)-historyTurns:]
	}
	lines := make([]string, 0, len(history))
	for _, t := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", t.Role, t.Content))
	}

	return fmt.Sprintf(`You are a fast, deterministic query rewriter for a U.S. immigration retrieval system.
Use the conversation history plus the latest user message to produce:
- refined_query: a concise, self-contained search query suitable for retrieval
- intent: one of "question", "follow_up", "comparison", "explain", "procedural", "greet"
- format: one of "short_answer", "bullet_points", "table", "step_by_step"

Conversation history:
%s

Latest user message:
%s

Return JSON only: {"refined_query":"...", "intent":"...", "format":"..."}`, strings.Join(lines, "\n"), query)
}

// extractObject trims prose or code fences around a JSON object
func extractObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return raw
	}
	return raw[start : end+1]
}

func normalizeIntent(s string) model.Intent {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	switch s {
	case "followup":
		return model.IntentFollowUp
	case "compare":
		return model.IntentComparison
	case "explanation":
		return model.IntentExplain
	case "procedure", "steps":
		return model.IntentProcedural
	case "greeting":
		return model.IntentGreet
	}
	if i := model.Intent(s); i.Valid() {
		return i
	}
	return model.IntentQuestion
}

func normalizeFormat(s string) model.Format {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	switch s {
	case "paragraph", "short", "answer":
		return model.FormatShortAnswer
	case "bullets", "list":
		return model.FormatBulletPoints
	case "compare_table", "comparison_table":
		return model.FormatTable
	case "steps", "numbered_steps":
		return model.FormatStepByStep
	}
	if f := model.Format(s); f.Valid() {
		return f
	}
	return model.FormatShortAnswer
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
