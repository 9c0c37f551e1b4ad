// Package claims decomposes a synthesized answer into atomic, source-linked
// claims and cross-checks them against the documents they cite.
package claims

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/credence/internal/llm"
	"github.com/ppiankov/credence/internal/metrics"
	"github.com/ppiankov/credence/internal/model"
	"github.com/ppiankov/credence/internal/retrieve"
)

const (
	defaultSnippetChars = 200
	docIDPrefix         = "doc_"
)

// ErrNoProvider is returned when extraction is attempted without a model
var ErrNoProvider = errors.New("no language model configured")

// Extractor asks a language model to split answers into claims
type Extractor struct {
	provider llm.Provider
	cfg      model.ClaimsConfig
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// NewExtractor creates an extractor; logger and collector may be nil
func NewExtractor(provider llm.Provider, cfg model.ClaimsConfig, logger *zap.Logger, m *metrics.Collector) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{provider: provider, cfg: cfg, logger: logger, metrics: m}
}

// docRef is a document as shown to the extractor
type docRef struct {
	id      string
	title   string
	url     string
	excerpt string
}

// Extract returns the claims of answer linked to docs. A blank answer
// returns no claims without calling the model. Claims shorter than
// MinClaimLength are dropped and at most MaxClaims are kept. A claim whose
// document reference does not resolve has no source and is never verified.
func (e *Extractor) Extract(ctx context.Context, answer string, docs []model.Document) ([]model.Claim, error) {
	if strings.TrimSpace(answer) == "" {
		return []model.Claim{}, nil
	}
	if e.provider == nil {
		return nil, ErrNoProvider
	}
	defer e.metrics.ObserveStage("claims", time.Now())

	refs := e.docRefs(docs)
	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		System:      systemPrompt,
		Messages:    llm.User(buildPrompt(answer, refs)),
		Temperature: 0,
		MaxTokens:   e.cfg.MaxTokens,
		JSONMode:    true,
	})
	e.metrics.OracleCall("llm", err)
	if err != nil {
		return nil, fmt.Errorf("extract claims: %w", err)
	}

	raw, err := Decode([]byte(resp.Text))
	if err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}

	claims := e.resolve(raw, refs)
	e.logger.Debug("extracted claims", zap.Int("raw", len(raw)), zap.Int("kept", len(claims)))
	return claims, nil
}

// ExtractAndValidate runs Extract and, when enabled, Validate
func (e *Extractor) ExtractAndValidate(ctx context.Context, answer string, docs []model.Document) ([]model.Claim, error) {
	claims, err := e.Extract(ctx, answer, docs)
	if err != nil {
		return nil, err
	}
	if e.cfg.Validate {
		claims = Validate(claims, docs)
	}
	return claims, nil
}

func (e *Extractor) docRefs(docs []model.Document) []docRef {
	chars := e.cfg.ExcerptChars
	if chars <= 0 {
		chars = 800
	}
	refs := make([]docRef, len(docs))
	for i, d := range docs {
		refs[i] = docRef{
			id:      docIDPrefix + strconv.Itoa(i),
			title:   d.Title(),
			url:     d.SourceURL,
			excerpt: retrieve.Truncate(d.Content, chars),
		}
	}
	return refs
}

func (e *Extractor) resolve(raw []RawClaim, refs []docRef) []model.Claim {
	minLen := e.cfg.MinClaimLength
	maxClaims := e.cfg.MaxClaims
	if maxClaims <= 0 {
		maxClaims = 10
	}

	seen := make(map[string]bool)
	var out []model.Claim
	for _, rc := range raw {
		text := strings.TrimSpace(rc.Text)
		if len(text) < minLen {
			continue
		}
		key := strings.ToLower(text)
		if seen[key] {
			continue
		}
		seen[key] = true

		claim := model.Claim{
			ID:       strings.TrimSpace(rc.ID),
			Text:     text,
			Critical: rc.Critical,
		}
		if claim.ID == "" {
			claim.ID = fmt.Sprintf("c%d", len(out)+1)
		}
		if ref, ok := lookupDoc(rc.DocID, refs); ok {
			snippet := strings.TrimSpace(rc.Snippet)
			if snippet == "" {
				snippet = retrieve.Truncate(ref.excerpt, defaultSnippetChars)
			}
			claim.Source = &model.ClaimSource{Title: ref.title, URL: ref.url, Snippet: snippet}
			claim.Verified = rc.Verified == nil || *rc.Verified
		}

		out = append(out, claim)
		if len(out) == maxClaims {
			break
		}
	}
	if out == nil {
		out = []model.Claim{}
	}
	return out
}

func lookupDoc(id string, refs []docRef) (docRef, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, r := range refs {
		if r.id == id {
			return r, true
		}
	}
	return docRef{}, false
}

const systemPrompt = `You extract atomic factual claims from answers about U.S. immigration and link each claim to the document that supports it.

Rules:
1. One verifiable fact per claim, understandable on its own.
2. Skip opinions, advice and disclaimers.
3. Set doc_id to the supporting document id, or null when no document supports the claim.
4. Set verified to false when no document supports the claim.
5. Set critical to true for requirements, eligibility, fees and deadlines.

Reply with JSON:
{"claims":[{"id":"c1","text":"...","doc_id":"doc_0","snippet":"supporting sentence","verified":true,"critical":false}]}

Good claims: "Form I-129 filing fee is $460", "H-1B requires a bachelor's degree or equivalent".
Bad claims: "You should consult an attorney", "Immigration is complex".`

func buildPrompt(answer string, refs []docRef) string {
	blocks := make([]string, len(refs))
	for i, r := range refs {
		url := r.url
		if url == "" {
			url = "N/A"
		}
		blocks[i] = fmt.Sprintf("[%s]\nTitle: %s\nURL: %s\nContent: %s\n", r.id, r.title, url, r.excerpt)
	}
	return fmt.Sprintf("ANSWER:\n%s\n\nDOCUMENTS:\n%s\n\nExtract the factual claims of the answer and link each to its document.",
		answer, strings.Join(blocks, "\n---\n"))
}
