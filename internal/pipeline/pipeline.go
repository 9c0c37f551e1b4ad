// Package pipeline answers a question end to end: greeting shortcut, gold
// lookup, routing, retrieval, reranking, gating and synthesis.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ppiankov/credence/internal/gate"
	"github.com/ppiankov/credence/internal/gold"
	"github.com/ppiankov/credence/internal/metrics"
	"github.com/ppiankov/credence/internal/model"
	"github.com/ppiankov/credence/internal/rerank"
	"github.com/ppiankov/credence/internal/retrieve"
	"github.com/ppiankov/credence/internal/router"
	"github.com/ppiankov/credence/internal/synth"
)

// Greeting is the reply to a bare greeting
const Greeting = "Hello! How can I help with U.S. immigration?"

// BorderlineNotice prefixes curated answers that only nearly match
const BorderlineNotice = "Note: this curated answer closely matches your question but may not address it exactly. Please verify the details with the sources below."

// ErrEmptyQuery is returned for blank questions
var ErrEmptyQuery = errors.New("empty query")

var greetingPattern = regexp.MustCompile(`(?i)^(hi|hello|hey)\b`)

// Mode says which path produced an answer
type Mode string

const (
	ModeGreeting   Mode = "greeting"
	ModeGold       Mode = "gold"
	ModeBorderline Mode = "gold_borderline"
	ModeRAG        Mode = "rag"
	ModeGeneral    Mode = "general"
)

// Response is a complete answer
type Response struct {
	model.SynthesizedAnswer
	Mode   Mode               `json:"mode"`
	Routed *model.RoutedQuery `json:"routed,omitempty"`
	Gate   *gate.Decision     `json:"gate,omitempty"`
}

// StreamWriter receives a streamed answer: its sources once, then the
// text in pieces. An error from either method abandons the answer.
type StreamWriter interface {
	Sources(sources []model.Source) error
	Text(chunk string) error
}

// Pipeline wires the answer components together
type Pipeline struct {
	router    *router.Router
	gold      *gold.Matcher
	retriever *retrieve.Retriever
	reranker  *rerank.Reranker
	gate      *gate.Gate
	synth     *synth.Synthesizer
	cfg       *model.Config
	logger    *zap.Logger
	metrics   *metrics.Collector
	tracer    trace.Tracer
}

// Components are the stages of a Pipeline
type Components struct {
	Router      *router.Router
	Gold        *gold.Matcher
	Retriever   *retrieve.Retriever
	Reranker    *rerank.Reranker
	Synthesizer *synth.Synthesizer
}

// New creates a pipeline; logger and collector may be nil
func New(c Components, cfg *model.Config, logger *zap.Logger, m *metrics.Collector) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		router:    c.Router,
		gold:      c.Gold,
		retriever: c.Retriever,
		reranker:  c.Reranker,
		gate:      gate.New(cfg.Gate),
		synth:     c.Synthesizer,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		tracer:    otel.Tracer("credence/pipeline"),
	}
}

// Answer runs the full answer flow for q. Only a failed synthesis call is
// an error; every other stage degrades.
func (p *Pipeline) Answer(ctx context.Context, q model.Query) (*Response, error) {
	return p.answer(ctx, q, nil)
}

// AnswerStream runs the same flow as Answer, writing the sources and then
// the answer text to sw as they become available. Synthesized answers are
// streamed from the model; greeting, curated and general answers arrive in
// one piece. The returned Response carries the claims, which are only known
// after the text has been written.
func (p *Pipeline) AnswerStream(ctx context.Context, q model.Query, sw StreamWriter) (*Response, error) {
	resp, err := p.answer(ctx, q, sw)
	if err != nil {
		return nil, err
	}
	if resp.Mode != ModeRAG {
		if err := sw.Sources(resp.Sources); err != nil {
			return nil, err
		}
		if err := sw.Text(resp.Text); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (p *Pipeline) answer(ctx context.Context, q model.Query, sw StreamWriter) (*Response, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.answer")
	defer span.End()
	defer p.metrics.ObserveStage("answer", time.Now())

	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, ErrEmptyQuery
	}

	// 1. Greeting shortcut
	if greetingPattern.MatchString(text) {
		span.SetAttributes(attribute.String("mode", string(ModeGreeting)))
		return greeting(), nil
	}

	// 2. Curated answers
	if resp := p.goldAnswer(ctx, text); resp != nil {
		span.SetAttributes(attribute.String("mode", string(resp.Mode)))
		return resp, nil
	}

	// 3. Route
	routed := p.route(ctx, text, q.History)
	if routed.Intent == model.IntentGreet {
		return greeting(), nil
	}

	// 4. Retrieve and rerank
	ranked := p.rank(ctx, routed)

	// 5. Gate
	decision := p.gate.Evaluate(ranked)
	span.SetAttributes(
		attribute.Int("candidates", len(ranked)),
		attribute.Bool("gate.confident", decision.Confident),
	)
	p.logger.Debug("confidence gate", zap.Bool("confident", decision.Confident), zap.String("reason", decision.Reason))

	if !decision.Confident {
		span.SetAttributes(attribute.String("mode", string(ModeGeneral)))
		return p.general(ctx, text, routed, decision), nil
	}

	// 6. Synthesize
	ctx, synthSpan := p.tracer.Start(ctx, "pipeline.synthesize")
	ans, err := p.synthesize(ctx, ranked, text, routed, q.History, sw)
	if err != nil {
		synthSpan.RecordError(err)
		synthSpan.SetStatus(codes.Error, "synthesis failed")
		synthSpan.End()
		span.SetStatus(codes.Error, "synthesis failed")
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	synthSpan.SetAttributes(attribute.String("claims.status", string(ans.ClaimsStatus)))
	synthSpan.End()

	span.SetAttributes(attribute.String("mode", string(ModeRAG)))
	return &Response{SynthesizedAnswer: *ans, Mode: ModeRAG, Routed: &routed, Gate: &decision}, nil
}

func (p *Pipeline) synthesize(ctx context.Context, ranked []model.RankedCandidate, text string, routed model.RoutedQuery, history []model.Turn, sw StreamWriter) (*model.SynthesizedAnswer, error) {
	if sw == nil {
		return p.synth.Synthesize(ctx, ranked, text, routed, history)
	}
	if err := sw.Sources(synth.Sources(ranked)); err != nil {
		return nil, err
	}
	return p.synth.SynthesizeStream(ctx, ranked, text, routed, history, sw.Text)
}

func (p *Pipeline) goldAnswer(ctx context.Context, text string) *Response {
	if p.gold == nil {
		return nil
	}
	ctx, span := p.tracer.Start(ctx, "pipeline.gold")
	defer span.End()

	res := p.gold.Search(ctx, text, p.cfg.Gold.Limit)
	span.SetAttributes(attribute.String("classification", string(res.Classification)))
	if res.Best == nil {
		return nil
	}

	resp := &Response{
		SynthesizedAnswer: model.SynthesizedAnswer{
			Text:         res.Best.GoldAnswer.GoldAnswer,
			Sources:      gold.FormatSources(res.Best.Sources),
			Claims:       []model.Claim{},
			ClaimsStatus: model.ClaimsSkipped,
		},
	}
	switch res.Classification {
	case gold.ClassGold:
		resp.Mode = ModeGold
	case gold.ClassBorderline:
		resp.Mode = ModeBorderline
		resp.Text = BorderlineNotice + "\n\n" + resp.Text
	default:
		return nil
	}
	return resp
}

func (p *Pipeline) route(ctx context.Context, text string, history []model.Turn) model.RoutedQuery {
	if p.router == nil {
		return model.DefaultRoutedQuery(text)
	}
	ctx, span := p.tracer.Start(ctx, "pipeline.route")
	defer span.End()

	routed := p.router.Route(ctx, text, history)
	span.SetAttributes(
		attribute.String("intent", string(routed.Intent)),
		attribute.String("format", string(routed.Format)),
	)
	return routed
}

func (p *Pipeline) rank(ctx context.Context, routed model.RoutedQuery) []model.RankedCandidate {
	ctx, span := p.tracer.Start(ctx, "pipeline.retrieve")
	defer span.End()

	docs := p.retriever.Retrieve(ctx, routed.RefinedQuery, p.cfg.Retrieval.Limit)
	span.SetAttributes(attribute.Int("documents", len(docs)))
	if len(docs) == 0 {
		return []model.RankedCandidate{}
	}
	return p.reranker.Rerank(ctx, routed.RefinedQuery, docs, p.cfg.Rerank.TopK)
}

func (p *Pipeline) general(ctx context.Context, text string, routed model.RoutedQuery, decision gate.Decision) *Response {
	g := p.synth.GeneralAnswer(ctx, text)
	sources := make([]model.Source, len(g.URLs))
	for i, u := range g.URLs {
		sources[i] = model.Source{ID: i + 1, Title: u, URL: u}
	}
	return &Response{
		SynthesizedAnswer: model.SynthesizedAnswer{
			Text:         g.Text,
			Sources:      sources,
			Claims:       []model.Claim{},
			ClaimsStatus: model.ClaimsSkipped,
		},
		Mode:   ModeGeneral,
		Routed: &routed,
		Gate:   &decision,
	}
}

// Sources returns the topK nearest documents for query without synthesis.
// Unlike Answer, an embedding failure here is an error.
func (p *Pipeline) Sources(ctx context.Context, query string, topK int) ([]model.Source, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.sources")
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = p.cfg.Retrieval.SourcesTopK
	}
	sources, err := p.retriever.Sources(ctx, query, topK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sources failed")
		return nil, err
	}
	return sources, nil
}

// GoldSearch exposes the curated-answer search
func (p *Pipeline) GoldSearch(ctx context.Context, query string, limit int) gold.Result {
	if p.gold == nil {
		return gold.Result{Candidates: []gold.Candidate{}, Classification: gold.ClassRAG}
	}
	return p.gold.Search(ctx, query, limit)
}

func greeting() *Response {
	return &Response{
		SynthesizedAnswer: model.SynthesizedAnswer{
			Text:         Greeting,
			Sources:      []model.Source{},
			Claims:       []model.Claim{},
			ClaimsStatus: model.ClaimsSkipped,
		},
		Mode: ModeGreeting,
	}
}
