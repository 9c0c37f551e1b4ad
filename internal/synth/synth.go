// Package synth writes citation-annotated answers from ranked documents and
// runs claim extraction on the result.
package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/credence/internal/llm"
	"github.com/ppiankov/credence/internal/metrics"
	"github.com/ppiankov/credence/internal/model"
	"github.com/ppiankov/credence/internal/retrieve"
)

const sourceExcerptChars = 400

// ErrModel marks a failed synthesis call. Unlike every other oracle
// failure in the pipeline it is fatal to the request.
var ErrModel = errors.New("answer synthesis failed")

var (
	blankRuns  = regexp.MustCompile(`\n{3,}`)
	fencedJSON = regexp.MustCompile("(?is)```json(.*?)```")
)

// ClaimExtractor turns an answer into claims
type ClaimExtractor interface {
	ExtractAndValidate(ctx context.Context, answer string, docs []model.Document) ([]model.Claim, error)
}

// Synthesizer answers from documents with a language model
type Synthesizer struct {
	provider llm.Provider
	claims   ClaimExtractor
	cfg      model.SynthConfig
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// New creates a synthesizer. A nil extractor skips the claims phase.
func New(provider llm.Provider, claims ClaimExtractor, cfg model.SynthConfig, logger *zap.Logger, m *metrics.Collector) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{provider: provider, claims: claims, cfg: cfg, logger: logger, metrics: m}
}

// Synthesize writes an answer to query from docs, then extracts its claims.
// Sources are numbered in document order, so source i backs marker [i].
// A model failure returns an error wrapping ErrModel; a claims failure only
// sets ClaimsStatus.
func (s *Synthesizer) Synthesize(ctx context.Context, docs []model.RankedCandidate, query string, routed model.RoutedQuery, history []model.Turn) (*model.SynthesizedAnswer, error) {
	return s.synthesize(ctx, docs, query, routed, history, nil)
}

// SynthesizeStream is Synthesize with the answer text handed to onChunk as
// the model produces it. Claims are extracted once the stream has ended.
// Chunks are raw model output; the returned Text is the cleaned answer.
func (s *Synthesizer) SynthesizeStream(ctx context.Context, docs []model.RankedCandidate, query string, routed model.RoutedQuery, history []model.Turn, onChunk func(string) error) (*model.SynthesizedAnswer, error) {
	return s.synthesize(ctx, docs, query, routed, history, onChunk)
}

func (s *Synthesizer) synthesize(ctx context.Context, docs []model.RankedCandidate, query string, routed model.RoutedQuery, history []model.Turn, onChunk func(string) error) (*model.SynthesizedAnswer, error) {
	text, err := s.answer(ctx, docs, query, routed, history, onChunk)
	if err != nil {
		return nil, err
	}

	out := &model.SynthesizedAnswer{
		Text:    text,
		Sources: Sources(docs),
		Claims:  []model.Claim{},
	}
	s.extract(ctx, out, docs)
	return out, nil
}

func (s *Synthesizer) answer(ctx context.Context, docs []model.RankedCandidate, query string, routed model.RoutedQuery, history []model.Turn, onChunk func(string) error) (string, error) {
	if s.provider == nil {
		return "", fmt.Errorf("%w: no language model configured", ErrModel)
	}
	defer s.metrics.ObserveStage("synth", time.Now())

	intent := EffectiveIntent(query, routed.Intent)
	req := llm.CompletionRequest{
		System:      instructions(intent, routed.Format),
		Messages:    llm.User(s.userPrompt(docs, query, history)),
		Temperature: 0,
		MaxTokens:   s.cfg.MaxTokens,
	}

	var (
		resp *llm.CompletionResponse
		err  error
	)
	if onChunk == nil {
		resp, err = s.provider.Complete(ctx, req)
	} else {
		resp, err = llm.StreamOrComplete(ctx, s.provider, req, onChunk)
	}
	s.metrics.OracleCall("llm", err)
	if err != nil {
		s.logger.Error("answer synthesis failed", zap.String("component", "synth"), zap.Bool("stream", onChunk != nil), zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrModel, err)
	}

	text := StripTrailingJSON(resp.Text)
	if text == "" {
		return "", fmt.Errorf("%w: %w", ErrModel, llm.ErrEmptyResponse)
	}
	s.logger.Debug("answer synthesized",
		zap.String("intent", string(intent)),
		zap.Int("docs", len(docs)),
		zap.Int("tokens", resp.TokensUsed),
	)
	return text, nil
}

// extract is the second phase. Its outcome is recorded on out, never
// returned.
func (s *Synthesizer) extract(ctx context.Context, out *model.SynthesizedAnswer, docs []model.RankedCandidate) {
	if s.claims == nil {
		out.ClaimsStatus = model.ClaimsSkipped
		return
	}

	plain := make([]model.Document, len(docs))
	for i, d := range docs {
		plain[i] = d.Document
	}

	claims, err := s.claims.ExtractAndValidate(ctx, out.Text, plain)
	switch {
	case err != nil:
		s.logger.Warn("claim extraction failed, answering without claims", zap.String("component", "claims"), zap.Error(err))
		s.metrics.Fallback("claims", "extract_error")
		out.ClaimsStatus = model.ClaimsFailed
		out.ClaimsError = err.Error()
	case len(claims) == 0:
		out.ClaimsStatus = model.ClaimsEmpty
	default:
		out.Claims = claims
		out.ClaimsStatus = model.ClaimsExtracted
	}
}

func (s *Synthesizer) userPrompt(docs []model.RankedCandidate, query string, history []model.Turn) string {
	turns := s.cfg.HistoryTurns
	if turns <= 0 {
		turns = 6
	}
	if len(history) > turns {
		history = history[len(history)-turns:]
	}
	lines := make([]string, 0, len(history))
	for _, t := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", t.Role, t.Content))
	}

	return fmt.Sprintf("CONTEXT:\n%s\n\nQUESTION:\n%s\n\nRECENT_HISTORY:\n%s\n",
		DocBlock(docs, s.cfg.DocChars), query, strings.Join(lines, "\n"))
}

// DocBlock renders docs as numbered context entries, each excerpt cut to
// chars runes with long blank runs collapsed
func DocBlock(docs []model.RankedCandidate, chars int) string {
	if chars <= 0 {
		chars = 1200
	}
	entries := make([]string, len(docs))
	for i, d := range docs {
		url := d.SourceURL
		if url == "" {
			url = "N/A"
		}
		excerpt := blankRuns.ReplaceAllString(retrieve.Truncate(d.Content, chars), "\n\n")
		entries[i] = fmt.Sprintf("[%d] Title: %s\nURL: %s\nExcerpt:\n%s\n", i+1, d.Title(), url, excerpt)
	}
	return strings.Join(entries, "\n---\n")
}

// Sources lists docs in citation order
func Sources(docs []model.RankedCandidate) []model.Source {
	out := make([]model.Source, len(docs))
	for i, d := range docs {
		out[i] = model.Source{
			ID:      i + 1,
			Title:   d.Title(),
			URL:     d.SourceURL,
			Excerpt: retrieve.Truncate(d.Content, sourceExcerptChars),
			Score:   d.Score,
		}
	}
	return out
}

// StripTrailingJSON removes a JSON object the model appended after its
// answer, fenced or not. Text that is entirely JSON is kept.
func StripTrailingJSON(raw string) string {
	cleaned := fencedJSON.ReplaceAllString(raw, "\n$1\n")
	cleaned = strings.TrimSpace(cleaned)

	end := strings.LastIndex(cleaned, "}")
	if end < 0 || strings.TrimSpace(cleaned[end+1:]) != "" {
		return cleaned
	}
	for open := strings.LastIndex(cleaned, "{"); open > 0; open = strings.LastIndex(cleaned[:open], "{") {
		if json.Valid([]byte(cleaned[open : end+1])) {
			return strings.TrimSpace(cleaned[:open])
		}
	}
	return cleaned
}
