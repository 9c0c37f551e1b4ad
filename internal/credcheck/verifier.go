// Package credcheck re-derives the credibility of cited claims from the
// cited pages themselves.
package credcheck

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ppiankov/credence/internal/authority"
	"github.com/ppiankov/credence/internal/embed"
	"github.com/ppiankov/credence/internal/fetch"
	"github.com/ppiankov/credence/internal/llm"
	"github.com/ppiankov/credence/internal/metrics"
	"github.com/ppiankov/credence/internal/model"
	"github.com/ppiankov/credence/internal/score"
	"github.com/ppiankov/credence/internal/store"
	"github.com/ppiankov/credence/internal/worker"
)

const evidenceSnippetChars = 200

// PageFetcher retrieves cited pages
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Page, error)
}

// VerdictLogger records completed verifications
type VerdictLogger interface {
	LogVerdict(ctx context.Context, rec store.VerdictRecord) error
}

// Verifier scores claims against their citations
type Verifier struct {
	cfg      model.VerifyConfig
	weights  *authority.Weights
	fetcher  PageFetcher
	embedder embed.Embedder
	provider llm.Provider
	verdicts VerdictLogger
	logger   *zap.Logger
	metrics  *metrics.Collector
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures a Verifier
type Option func(*Verifier)

// WithFetcher sets the page fetcher; without one every fetch fails
func WithFetcher(f PageFetcher) Option {
	return func(v *Verifier) { v.fetcher = f }
}

// WithEmbedder sets the embedder for semantic similarity
func WithEmbedder(e embed.Embedder) Option {
	return func(v *Verifier) { v.embedder = e }
}

// WithProvider sets the entailment model
func WithProvider(p llm.Provider) Option {
	return func(v *Verifier) { v.provider = p }
}

// WithVerdictLog records every completed verification
func WithVerdictLog(l VerdictLogger) Option {
	return func(v *Verifier) { v.verdicts = l }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithMetrics sets the collector
func WithMetrics(m *metrics.Collector) Option {
	return func(v *Verifier) { v.metrics = m }
}

// WithClock overrides the freshness reference time
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// New creates a verifier
func New(cfg model.VerifyConfig, opts ...Option) *Verifier {
	v := &Verifier{
		cfg:     cfg,
		weights: authority.NewWeights(cfg),
		logger:  zap.NewNop(),
		tracer:  otel.Tracer("credence/credcheck"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify scores in with the full policy
func (v *Verifier) Verify(ctx context.Context, in model.CredCheckInput) (model.OverallVerdict, error) {
	return v.VerifyWith(ctx, in, score.Full)
}

// task is one cited URL of one claim
type task struct {
	claim int
	cite  model.CitationURL
}

// VerifyWith scores in under policy. Policies with citation bases score
// from domain and quote alone; the others fetch and analyze every page.
func (v *Verifier) VerifyWith(ctx context.Context, in model.CredCheckInput, policy score.Policy) (model.OverallVerdict, error) {
	if err := Validate(in); err != nil {
		return model.OverallVerdict{}, err
	}
	defer v.metrics.ObserveStage("credcheck_"+policy.Name, time.Now())

	cited := citationsByClaim(in)

	var tasks []task
	for i, c := range in.Claims {
		for _, cu := range cited[c.ID] {
			tasks = append(tasks, task{claim: i, cite: cu})
		}
	}

	var evidence []model.Evidence
	if policy.Citation != nil {
		evidence = make([]model.Evidence, len(tasks))
		for i, t := range tasks {
			evidence[i] = v.citationEvidence(t.cite, policy)
		}
	} else {
		evidence = v.gather(ctx, in.Claims, tasks, policy)
	}

	perClaim := make([][]model.Evidence, len(in.Claims))
	for i, t := range tasks {
		perClaim[t.claim] = append(perClaim[t.claim], evidence[i])
	}

	results := make([]model.ClaimVerdict, len(in.Claims))
	for i, c := range in.Claims {
		results[i] = claimVerdict(c.ID, perClaim[i], policy)
	}

	verdict := policy.Overall(in.AnswerText, results)
	v.metrics.Verdict(policy.Name, string(verdict.Decision))
	v.record(ctx, policy, verdict)
	return verdict, nil
}

func claimVerdict(id string, evidence []model.Evidence, policy score.Policy) model.ClaimVerdict {
	if len(evidence) == 0 {
		return model.ClaimVerdict{
			ClaimID:  id,
			Decision: model.DecisionReject,
			Evidence: []model.Evidence{},
			Reason:   "no citations provided",
		}
	}

	scores := make([]float64, len(evidence))
	authoritative := 0
	for i, e := range evidence {
		scores[i] = e.FinalScore
		if e.Authoritative {
			authoritative++
		}
	}
	best := policy.ClaimScore(scores)
	return model.ClaimVerdict{
		ClaimID:   id,
		BestScore: best,
		Decision:  policy.Decide(best),
		Evidence:  evidence,
		Reason:    fmt.Sprintf("%d citation(s), %d authoritative", len(evidence), authoritative),
	}
}

// citationsByClaim groups cited URLs by claim id, dropping citations for
// unknown claims
func citationsByClaim(in model.CredCheckInput) map[string][]model.CitationURL {
	known := make(map[string]bool, len(in.Claims))
	for _, c := range in.Claims {
		known[c.ID] = true
	}
	out := make(map[string][]model.CitationURL)
	for _, c := range in.Citations {
		if !known[c.ClaimID] {
			continue
		}
		for _, u := range c.URLs {
			if strings.TrimSpace(u.URL) != "" {
				out[c.ClaimID] = append(out[c.ClaimID], u)
			}
		}
	}
	return out
}

func (v *Verifier) citationEvidence(cu model.CitationURL, policy score.Policy) model.Evidence {
	e := v.baseEvidence(cu)
	e.FinalScore = policy.CitationScore(e.Authoritative, cu.QuotedSnippet)
	e.Formula = fmt.Sprintf("citation base (authoritative=%t, quote=%d chars) = %.2f", e.Authoritative, utf8.RuneCountInString(cu.QuotedSnippet), e.FinalScore)
	return e
}

func (v *Verifier) baseEvidence(cu model.CitationURL) model.Evidence {
	return model.Evidence{
		URL:           cu.URL,
		Domain:        authority.Host(cu.URL),
		Snippet:       truncate(cu.QuotedSnippet, evidenceSnippetChars),
		Authoritative: v.weights.IsAuthoritative(cu.URL),
		DomainWeight:  v.weights.Weight(cu.URL),
	}
}

// claimVector embeds a claim once however many citations it has
type claimVector struct {
	once sync.Once
	vec  []float32
	err  error
}

func (v *Verifier) gather(ctx context.Context, claims []model.ClaimRef, tasks []task, policy score.Policy) []model.Evidence {
	vectors := make([]claimVector, len(claims))
	claimVec := func(ctx context.Context, i int) ([]float32, error) {
		cv := &vectors[i]
		cv.once.Do(func() {
			cv.vec, cv.err = v.embed(ctx, claims[i].Text)
		})
		return cv.vec, cv.err
	}

	workers := v.cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	type slot struct {
		done bool
		ev   model.Evidence
	}
	slots := worker.Map(ctx, workers, tasks, func(ctx context.Context, t task) (s slot) {
		// a panic here would otherwise escape the pool goroutine
		defer func() {
			if r := recover(); r != nil {
				v.logger.Error("evidence assessment panicked",
					zap.String("claim_id", claims[t.claim].ID),
					zap.String("url", t.cite.URL),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
				s = slot{done: true, ev: v.degraded(t.cite, fmt.Sprintf("internal error: %v", r), policy)}
			}
		}()
		return slot{done: true, ev: v.assess(ctx, claims[t.claim], t, claimVec, policy)}
	})

	out := make([]model.Evidence, len(tasks))
	for i, s := range slots {
		if s.done {
			out[i] = s.ev
			continue
		}
		// never scheduled: the request was cancelled
		out[i] = v.degraded(tasks[i].cite, "not evaluated: "+errString(ctx.Err()), policy)
	}
	return out
}

// degraded is the evidence for a citation that could not be assessed
func (v *Verifier) degraded(cite model.CitationURL, reason string, policy score.Policy) model.Evidence {
	e := v.baseEvidence(cite)
	e.FetchError = reason
	e.NLIVerdict = model.NLIInconclusive
	policy.Fuse(&e)
	return e
}

// assess builds the evidence for one cited URL. Every failure degrades a
// signal instead of aborting the claim.
func (v *Verifier) assess(ctx context.Context, claim model.ClaimRef, t task, claimVec func(context.Context, int) ([]float32, error), policy score.Policy) model.Evidence {
	ctx, span := v.tracer.Start(ctx, "credcheck.evidence", trace.WithAttributes(
		attribute.String("claim.id", claim.ID),
		attribute.String("url", t.cite.URL),
	))
	defer span.End()

	e := v.baseEvidence(t.cite)

	page, err := v.fetchPage(ctx, t.cite.URL)
	text := ""
	if err != nil {
		e.FetchError = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		v.logger.Debug("cited page unavailable", zap.String("url", t.cite.URL), zap.Error(err))
	} else {
		text = page.Text
		e.LastModified = page.LastModified
	}

	quote := strings.TrimSpace(t.cite.QuotedSnippet)
	switch {
	case quote != "" && ContainsExact(text, quote):
		e.Exact = true
		e.SnippetMatch = 1
	case quote != "":
		e.SnippetMatch = FuzzyMatch(text, quote)
	default:
		e.SnippetMatch = FuzzyMatch(text, claim.Text)
	}

	e.Semantic = v.semantic(ctx, text, func() ([]float32, error) { return claimVec(ctx, t.claim) })
	e.NLIVerdict, e.NLIConfidence = v.entailment(ctx, claim.Text, text, e)

	if err == nil {
		e.Freshness = v.freshness(page.LastModified)
	}

	policy.Fuse(&e)
	span.SetAttributes(
		attribute.Float64("score.final", e.FinalScore),
		attribute.String("nli.verdict", string(e.NLIVerdict)),
	)
	return e
}

func (v *Verifier) fetchPage(ctx context.Context, rawURL string) (*fetch.Page, error) {
	if v.fetcher == nil {
		return nil, fmt.Errorf("no page fetcher configured")
	}
	timeout := v.cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	page, err := v.fetcher.Fetch(ctx, rawURL)
	v.metrics.OracleCall("fetch", err)
	return page, err
}

// semantic is the clamped cosine similarity of the page prefix and the
// claim; 0 when either cannot be embedded or the page is too short
func (v *Verifier) semantic(ctx context.Context, text string, claimVec func() ([]float32, error)) float64 {
	text = strings.TrimSpace(text)
	if v.embedder == nil || len(text) < v.cfg.MinPageChars || text == "" {
		return 0
	}

	chars := v.cfg.SemanticChars
	if chars <= 0 {
		chars = 2000
	}
	pageVec, err := v.embed(ctx, truncate(text, chars))
	if err != nil {
		return 0
	}
	cv, err := claimVec()
	if err != nil {
		return 0
	}
	return embed.Clamp01(embed.Cosine(pageVec, cv))
}

func (v *Verifier) embed(ctx context.Context, text string) ([]float32, error) {
	if v.embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	vec, err := v.embedder.Embed(ctx, text)
	v.metrics.OracleCall("embedding", err)
	if err != nil {
		v.logger.Debug("evidence embedding failed", zap.Error(err))
	}
	return vec, err
}

// entailment forces SUPPORT on exact or strongly similar evidence, asks the
// model in the mid band and is INCONCLUSIVE otherwise. The returned
// confidence is how strongly the passage supports the claim, so a
// contradiction contributes nothing.
func (v *Verifier) entailment(ctx context.Context, claim, text string, e model.Evidence) (model.NLIVerdict, float64) {
	weak := max(e.Semantic, e.SnippetMatch*0.6)

	switch {
	case e.Exact || e.Semantic >= v.cfg.NLIHigh:
		return model.NLISupport, max(e.Semantic, e.SnippetMatch)
	case e.Semantic < v.cfg.NLILow:
		return model.NLIInconclusive, weak
	}

	verdict, conf, err := entail(ctx, v.provider, claim, text)
	v.metrics.OracleCall("llm", err)
	if err != nil {
		v.logger.Warn("entailment check failed", zap.String("component", "credcheck"), zap.Error(err))
		v.metrics.Fallback("credcheck", "nli_error")
		return model.NLIInconclusive, weak
	}

	switch verdict {
	case model.NLISupport:
		return verdict, conf
	case model.NLIContradict:
		return verdict, 0
	default:
		return verdict, weak
	}
}

// freshness discounts pages last modified more than StaleYears calendar
// years ago. Pages without a date count as fresh.
func (v *Verifier) freshness(lastModified *time.Time) float64 {
	if lastModified == nil || v.cfg.StaleYears <= 0 {
		return 1
	}
	if v.now().Year()-lastModified.Year() > v.cfg.StaleYears {
		return v.cfg.StaleFactor
	}
	return 1
}

func (v *Verifier) record(ctx context.Context, policy score.Policy, verdict model.OverallVerdict) {
	if !v.cfg.LogVerdicts || v.verdicts == nil {
		return
	}
	rec := store.VerdictRecord{
		VerdictID:    uuid.NewString(),
		Policy:       policy.Name,
		Decision:     string(verdict.Decision),
		OverallScore: verdict.Overall,
		ClaimCount:   len(verdict.Results),
		CreatedAt:    v.now(),
	}
	if err := v.verdicts.LogVerdict(context.WithoutCancel(ctx), rec); err != nil {
		v.logger.Warn("verdict log failed", zap.String("component", "credcheck"), zap.Error(err))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func errString(err error) string {
	if err == nil {
		return "cancelled"
	}
	return err.Error()
}
