package credcheck

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/credence/internal/embed/embedtest"
	"github.com/ppiankov/credence/internal/fetch"
	"github.com/ppiankov/credence/internal/llm/llmtest"
	"github.com/ppiankov/credence/internal/model"
	"github.com/ppiankov/credence/internal/score"
	"github.com/ppiankov/credence/internal/store"
)

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]*fetch.Page
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (*fetch.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if p, ok := f.pages[rawURL]; ok {
		return p, nil
	}
	return nil, errors.New("dial tcp: connection refused")
}

type fakeLog struct {
	mu   sync.Mutex
	recs []store.VerdictRecord
	err  error
}

func (l *fakeLog) LogVerdict(_ context.Context, rec store.VerdictRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recs = append(l.recs, rec)
	return l.err
}

var fixedNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func newVerifier(f *fakeFetcher, e *embedtest.Static, p *llmtest.Scripted, opts ...Option) *Verifier {
	base := []Option{WithFetcher(f), WithClock(func() time.Time { return fixedNow })}
	if e != nil {
		base = append(base, WithEmbedder(e))
	}
	if p != nil {
		base = append(base, WithProvider(p))
	}
	return New(model.DefaultConfig().Verify, append(base, opts...)...)
}

const feePage = "H-1B Specialty Occupations. Employers filing a new petition must pay a $100,000 fee. Other fees may apply."

func TestVerify_ExactMatchOnFreshUSCISPage(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*fetch.Page{
		"https://www.uscis.gov/h-1b": {Text: feePage, StatusCode: 200},
	}}
	v := newVerifier(f, embedtest.New().Default(1, 0), llmtest.New())

	verdict, err := v.Verify(context.Background(), model.CredCheckInput{
		AnswerText: "H-1B requires a $100,000 fee [1].",
		Claims:     []model.ClaimRef{{ID: "c1", Text: "H-1B requires a $100,000 fee"}},
		Citations: []model.Citation{{ClaimID: "c1", URLs: []model.CitationURL{
			{URL: "https://www.uscis.gov/h-1b", QuotedSnippet: "must  pay a $100,000 FEE"},
		}}},
	})
	require.NoError(t, err)
	require.Len(t, verdict.Results, 1)

	ev := verdict.Results[0].Evidence[0]
	assert.True(t, ev.Exact)
	assert.Equal(t, 1.0, ev.SnippetMatch)
	assert.Equal(t, model.NLISupport, ev.NLIVerdict)
	assert.Equal(t, 1.0, ev.DomainWeight)
	assert.Equal(t, 1.0, ev.Freshness)
	assert.InDelta(t, 1.0, ev.FinalScore, 1e-9)
	assert.Equal(t, "uscis.gov", ev.Domain)
	assert.True(t, ev.Authoritative)

	assert.Equal(t, model.DecisionVerified, verdict.Results[0].Decision)
	assert.Equal(t, model.DecisionVerified, verdict.Decision)
	assert.Equal(t, "full", verdict.Summary.Policy)
}

func TestVerify_UnreachableLowTrustPage(t *testing.T) {
	provider := llmtest.New()
	v := newVerifier(&fakeFetcher{}, embedtest.New().Default(1, 0), provider)

	verdict, err := v.Verify(context.Background(), model.CredCheckInput{
		Claims:    []model.ClaimRef{{ID: "c1", Text: "Green card renewals take two weeks"}},
		Citations: []model.Citation{{ClaimID: "c1", URLs: []model.CitationURL{{URL: "https://www.buzzfeed.com/immigration"}}}},
	})
	require.NoError(t, err)

	ev := verdict.Results[0].Evidence[0]
	assert.Equal(t, 0.6, ev.DomainWeight)
	assert.NotEmpty(t, ev.FetchError)
	assert.Zero(t, ev.SnippetMatch)
	assert.Zero(t, ev.Semantic)
	assert.Equal(t, model.NLIInconclusive, ev.NLIVerdict)
	assert.Zero(t, ev.NLIConfidence)
	assert.InDelta(t, 0.12, ev.FinalScore, 1e-9)
	assert.Equal(t, model.DecisionReject, verdict.Results[0].Decision)
	assert.Zero(t, provider.CallCount(), "no entailment call outside the mid band")
}

func TestVerify_ZeroCitations(t *testing.T) {
	v := newVerifier(&fakeFetcher{}, nil, nil)
	verdict, err := v.Verify(context.Background(), model.CredCheckInput{
		Claims: []model.ClaimRef{{ID: "c1", Text: "Uncited claim about visas"}},
		Citations: []model.Citation{
			{ClaimID: "other", URLs: []model.CitationURL{{URL: "https://www.uscis.gov"}}},
		},
	})
	require.NoError(t, err)

	r := verdict.Results[0]
	assert.Equal(t, 0.0, r.BestScore)
	assert.Equal(t, model.DecisionReject, r.Decision)
	assert.NotNil(t, r.Evidence)
	assert.Empty(t, r.Evidence)
	assert.Equal(t, 0, verdict.Summary.TotalCitations, "unmatched citations are ignored")
}

func midBandEmbedder() *embedtest.Static {
	// cosine((1,0),(0.7,0.714)) is about 0.70
	return embedtest.New().
		On("Asylum applicants", 1, 0).
		On("Filing deadline", 0.7, 0.71414284)
}

const asylumPage = "Filing deadline guidance. An applicant generally must apply within one year of the last arrival."

func TestVerify_EntailmentInMidBand(t *testing.T) {
	tests := []struct {
		desc     string
		provider *llmtest.Scripted
		verdict  model.NLIVerdict
		conf     func(ev model.Evidence) float64
	}{
		{
			desc:     "support",
			provider: llmtest.New().On("PASSAGE:", `{"verdict":"SUPPORT","confidence":0.9}`),
			verdict:  model.NLISupport,
			conf:     func(model.Evidence) float64 { return 0.9 },
		},
		{
			desc:     "contradiction contributes nothing",
			provider: llmtest.New().On("PASSAGE:", `{"verdict":"contradict","confidence":0.95}`),
			verdict:  model.NLIContradict,
			conf:     func(model.Evidence) float64 { return 0 },
		},
		{
			desc:     "model failure degrades to inconclusive",
			provider: llmtest.New().Fail("PASSAGE:", errors.New("overloaded")),
			verdict:  model.NLIInconclusive,
			conf:     func(ev model.Evidence) float64 { return max(ev.Semantic, ev.SnippetMatch*0.6) },
		},
		{
			desc:     "unparsable verdict degrades to inconclusive",
			provider: llmtest.New().On("PASSAGE:", `{"verdict":"MAYBE"}`),
			verdict:  model.NLIInconclusive,
			conf:     func(ev model.Evidence) float64 { return max(ev.Semantic, ev.SnippetMatch*0.6) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			f := &fakeFetcher{pages: map[string]*fetch.Page{
				"https://www.uscis.gov/asylum": {Text: asylumPage},
			}}
			v := newVerifier(f, midBandEmbedder(), tt.provider)

			verdict, err := v.Verify(context.Background(), model.CredCheckInput{
				Claims:    []model.ClaimRef{{ID: "c1", Text: "Asylum applicants must file within one year of arrival"}},
				Citations: []model.Citation{{ClaimID: "c1", URLs: []model.CitationURL{{URL: "https://www.uscis.gov/asylum"}}}},
			})
			require.NoError(t, err)

			ev := verdict.Results[0].Evidence[0]
			assert.InDelta(t, 0.70, ev.Semantic, 0.01)
			assert.Equal(t, 1, tt.provider.CallCount())
			assert.Equal(t, tt.verdict, ev.NLIVerdict)
			assert.InDelta(t, tt.conf(ev), ev.NLIConfidence, 1e-9)
			assert.InDelta(t, 0.35*ev.SnippetMatch+0.40*ev.NLIConfidence+0.20*1.0+0.05*1.0, ev.FinalScore, 1e-9)
		})
	}
}

func TestVerify_StalePage(t *testing.T) {
	old := time.Date(2015, 3, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)
	f := &fakeFetcher{pages: map[string]*fetch.Page{
		"https://www.ecfr.gov/old":    {Text: feePage, LastModified: &old},
		"https://www.ecfr.gov/recent": {Text: feePage, LastModified: &recent},
	}}
	v := newVerifier(f, embedtest.New().Default(1, 0), nil)

	verdict, err := v.Verify(context.Background(), model.CredCheckInput{
		Claims: []model.ClaimRef{{ID: "c1", Text: "Employers must pay a $100,000 fee"}},
		Citations: []model.Citation{{ClaimID: "c1", URLs: []model.CitationURL{
			{URL: "https://www.ecfr.gov/old"},
			{URL: "https://www.ecfr.gov/recent"},
		}}},
	})
	require.NoError(t, err)

	evs := verdict.Results[0].Evidence
	require.Len(t, evs, 2)
	assert.Equal(t, 0.85, evs[0].Freshness)
	assert.Equal(t, 1.0, evs[1].Freshness)
	assert.Equal(t, max(evs[0].FinalScore, evs[1].FinalScore), verdict.Results[0].BestScore)
}

func TestVerify_ShortPageHasNoSemanticScore(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*fetch.Page{"https://www.dol.gov/x": {Text: "Not found"}}}
	e := embedtest.New().Default(1, 0)
	v := newVerifier(f, e, nil)

	verdict, err := v.Verify(context.Background(), model.CredCheckInput{
		Claims:    []model.ClaimRef{{ID: "c1", Text: "The prevailing wage applies"}},
		Citations: []model.Citation{{ClaimID: "c1", URLs: []model.CitationURL{{URL: "https://www.dol.gov/x"}}}},
	})
	require.NoError(t, err)
	assert.Zero(t, verdict.Results[0].Evidence[0].Semantic)
	assert.Zero(t, e.Calls())
}

func TestVerify_Bypass(t *testing.T) {
	quote := "an authoritative quoted passage of text"
	f := &fakeFetcher{}
	logs := &fakeLog{}
	v := newVerifier(f, nil, nil, WithVerdictLog(logs))

	verdict, err := v.VerifyWith(context.Background(), model.CredCheckInput{
		AnswerText: "answer",
		Claims: []model.ClaimRef{
			{ID: "c1", Text: "Claim one is well sourced"},
			{ID: "c2", Text: "Claim two is poorly sourced"},
		},
		Citations: []model.Citation{
			{ClaimID: "c1", URLs: []model.CitationURL{
				{URL: "https://www.uscis.gov/a", QuotedSnippet: quote},
				{URL: "https://www.state.gov/b", QuotedSnippet: quote},
			}},
			{ClaimID: "c1", URLs: []model.CitationURL{{URL: "https://www.ecfr.gov/c", QuotedSnippet: quote}}},
			{ClaimID: "c2", URLs: []model.CitationURL{{URL: "https://example.com/d"}}},
		},
	}, score.Bypass)
	require.NoError(t, err)

	assert.Zero(t, f.calls, "bypass performs no network I/O")
	assert.InDelta(t, 1.0, verdict.Results[0].BestScore, 1e-9)
	assert.InDelta(t, 0.24, verdict.Results[1].BestScore, 1e-9)
	assert.InDelta(t, 0.62, verdict.Overall, 1e-9)
	assert.Equal(t, 3, verdict.Summary.AuthoritativeCitations)
	assert.Equal(t, 4, verdict.Summary.TotalCitations)
	// probable upgraded: 3 authoritative, 75% of citations
	assert.Equal(t, model.DecisionVerified, verdict.Decision)

	require.Len(t, logs.recs, 1)
	assert.Equal(t, "bypass", logs.recs[0].Policy)
	assert.Equal(t, "verified", logs.recs[0].Decision)
	assert.Equal(t, 2, logs.recs[0].ClaimCount)
	assert.NotEmpty(t, logs.recs[0].VerdictID)
}

func TestVerify_BypassShortQuoteEarnsNoBonus(t *testing.T) {
	v := newVerifier(&fakeFetcher{}, nil, nil)

	verdict, err := v.VerifyWith(context.Background(), model.CredCheckInput{
		Claims: []model.ClaimRef{{ID: "c1", Text: "The H-1B cap is 65,000 visas"}},
		Citations: []model.Citation{{ClaimID: "c1", URLs: []model.CitationURL{
			{URL: "https://www.uscis.gov/h-1b"},
			{URL: "https://example.com/blog", QuotedSnippet: "cap is 65k"},
		}}},
	}, score.Bypass)
	require.NoError(t, err)

	// (0.7 + 0.3) / 2
	assert.InDelta(t, 0.5, verdict.Results[0].BestScore, 1e-9)
	assert.InDelta(t, 0.5, verdict.Overall, 1e-9)
	assert.Equal(t, model.DecisionReject, verdict.Decision)
}

func TestVerify_VerdictLogFailureIsNotFatal(t *testing.T) {
	v := newVerifier(&fakeFetcher{}, nil, nil, WithVerdictLog(&fakeLog{err: errors.New("disk full")}))
	_, err := v.Verify(context.Background(), model.CredCheckInput{Claims: []model.ClaimRef{{ID: "c1", Text: "x"}}})
	assert.NoError(t, err)
}

// panickyFetcher panics for one URL and serves the rest from next
type panickyFetcher struct {
	next  *fakeFetcher
	panic string
}

func (p panickyFetcher) Fetch(ctx context.Context, rawURL string) (*fetch.Page, error) {
	if rawURL == p.panic {
		panic("nil page parser")
	}
	return p.next.Fetch(ctx, rawURL)
}

func TestVerify_PanickingCitationDegrades(t *testing.T) {
	f := panickyFetcher{
		next: &fakeFetcher{pages: map[string]*fetch.Page{
			"https://www.uscis.gov/h-1b": {Text: feePage, StatusCode: 200},
		}},
		panic: "https://example.com/broken",
	}
	v := New(model.DefaultConfig().Verify, WithFetcher(f), WithClock(func() time.Time { return fixedNow }))

	verdict, err := v.Verify(context.Background(), model.CredCheckInput{
		Claims: []model.ClaimRef{{ID: "c1", Text: "H-1B requires a $100,000 fee"}},
		Citations: []model.Citation{{ClaimID: "c1", URLs: []model.CitationURL{
			{URL: "https://example.com/broken"},
			{URL: "https://www.uscis.gov/h-1b", QuotedSnippet: "must pay a $100,000 fee"},
		}}},
	})
	require.NoError(t, err)
	require.Len(t, verdict.Results, 1)

	evidence := verdict.Results[0].Evidence
	require.Len(t, evidence, 2)
	byURL := map[string]model.Evidence{}
	for _, e := range evidence {
		byURL[e.URL] = e
	}
	broken := byURL["https://example.com/broken"]
	assert.Contains(t, broken.FetchError, "internal error: nil page parser")
	assert.Equal(t, model.NLIInconclusive, broken.NLIVerdict)
	assert.Empty(t, byURL["https://www.uscis.gov/h-1b"].FetchError)
}

func TestVerify_CancelledRequestStillAnswers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := newVerifier(&fakeFetcher{}, nil, nil)
	verdict, err := v.Verify(ctx, model.CredCheckInput{
		Claims:    []model.ClaimRef{{ID: "c1", Text: "x"}},
		Citations: []model.Citation{{ClaimID: "c1", URLs: []model.CitationURL{{URL: "https://example.com"}}}},
	})
	require.NoError(t, err)
	ev := verdict.Results[0].Evidence[0]
	assert.Equal(t, "https://example.com", ev.URL)
	assert.NotEmpty(t, ev.FetchError)
	assert.Equal(t, model.DecisionReject, verdict.Decision)
}

func TestRun_InputErrors(t *testing.T) {
	tests := []struct {
		desc    string
		payload string
		mode    string
		wantMsg string
	}{
		{desc: "missing claims", payload: `{"citations":[]}`, wantMsg: "Invalid request: claims array required"},
		{desc: "empty claims", payload: `{"claims":[],"citations":[]}`, wantMsg: "Invalid request: claims array required"},
		{desc: "claims not array", payload: `{"claims":{"id":"c1"},"citations":[]}`, wantMsg: "Invalid request: claims array required"},
		{desc: "missing citations", payload: `{"claims":[{"id":"c1","text":"t"}]}`, wantMsg: "Invalid request: citations array required"},
		{desc: "citations not array", payload: `{"claims":[{"id":"c1","text":"t"}],"citations":"x"}`, wantMsg: "Invalid request: citations array required"},
		{desc: "malformed", payload: `{"claims":`, wantMsg: "Invalid request: malformed JSON"},
		{desc: "unknown mode", payload: `{"claims":[{"id":"c1"}],"citations":[]}`, mode: "fast", wantMsg: `Invalid request: unknown mode "fast"`},
	}

	f := &fakeFetcher{}
	v := newVerifier(f, nil, nil)
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			env, err := v.Run(context.Background(), []byte(tt.payload), tt.mode)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.False(t, env.OK)
			assert.Nil(t, env.Result)
			assert.True(t, strings.HasPrefix(env.Error, tt.wantMsg), env.Error)
		})
	}
	assert.Zero(t, f.calls, "input errors do no network I/O")
}

func TestRun_LegacyShapes(t *testing.T) {
	f := &fakeFetcher{}
	v := newVerifier(f, nil, nil)

	env, err := v.Run(context.Background(), []byte(`{
		"answer_text": "a",
		"claims": [{"id":"c1","text":"claim one"}],
		"citations": [
			{"claimId":"c1","urls":["https://www.uscis.gov/a", {"url":"https://www.state.gov/b","quotedSnippet":"`+strings.Repeat("q", 30)+`"}, 42]},
			7
		]
	}`), "bypass")
	require.NoError(t, err)
	require.True(t, env.OK)

	r := env.Result.Results[0]
	require.Len(t, r.Evidence, 2)
	assert.InDelta(t, 0.7, r.Evidence[0].FinalScore, 1e-9)
	assert.InDelta(t, 1.0, r.Evidence[1].FinalScore, 1e-9)
	assert.InDelta(t, 0.85, r.BestScore, 1e-9)
}

func TestRunBatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "batch.jsonl")
	content := strings.Join([]string{
		`# comment`,
		`{"claims":[{"id":"c1","text":"x"}],"citations":[]}`,
		``,
		`{"claims":[],"citations":[]}`,
		`{"claims":[{"id":"c1","text":"y"}],"citations":[{"claim_id":"c1","urls":[{"url":"https://www.uscis.gov/z"}]}]}`,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	items, err := ReadBatch(path)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "batch.jsonl:2", items[0].Source)

	v := newVerifier(&fakeFetcher{}, nil, nil)
	results := v.RunBatch(context.Background(), items, "bypass", 2)
	require.Len(t, results, 3)

	assert.True(t, results[0].Envelope.OK)
	assert.False(t, results[1].Envelope.OK)
	assert.ErrorIs(t, results[1].GetError(), ErrInvalidInput)
	assert.True(t, results[2].Envelope.OK)
	assert.InDelta(t, 0.56, results[2].Envelope.Result.Overall, 1e-9)
}

func TestReadBatch_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(`{"claims":[]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte(`skip`), 0o644))

	items, err := ReadBatch(dir)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a.json", items[0].Source)

	_, err = ReadBatch(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestContainsExact(t *testing.T) {
	assert.True(t, ContainsExact("Must pay a\n$100,000   fee.", "must pay a $100,000 fee"))
	assert.False(t, ContainsExact("must pay a fee", "must pay a $100,000 fee"))
	assert.False(t, ContainsExact("anything", "   "))
}

func TestFuzzyMatch(t *testing.T) {
	page := "Unrelated introduction about the agency. Employers filing a new H-1B petition must pay a $100,000 fee. Contact us."

	near := FuzzyMatch(page, "employers filing a new H-1B petition must pay a $100,000 fee")
	far := FuzzyMatch(page, "naturalization ceremonies are held monthly in every district")

	assert.InDelta(t, 1.0, near, 0.05)
	assert.Less(t, far, near)
	assert.Zero(t, FuzzyMatch("", "anything"))
	assert.Zero(t, FuzzyMatch(page, ""))
}

func TestFuzzyMatch_ScanLimitCountsCharacters(t *testing.T) {
	// 40k characters but 60k bytes of accented filler ahead of the quote
	filler := strings.Repeat("é ", 20_000) + "fin. "
	require.Greater(t, len(filler), maxFuzzyChars)
	page := filler + "Le délai de dépôt est d'un an après l'arrivée."

	got := FuzzyMatch(page, "le délai de dépôt est d'un an après l'arrivée")
	assert.InDelta(t, 1.0, got, 0.05)

	beyond := strings.Repeat("é ", maxFuzzyChars/2) + "Le délai de dépôt est d'un an."
	assert.Less(t, FuzzyMatch(beyond, "le délai de dépôt est d'un an"), 0.5, "text past the limit is not scanned")
}
