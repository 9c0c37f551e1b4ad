package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/credence/internal/credcheck"
	"github.com/ppiankov/credence/internal/gold"
	"github.com/ppiankov/credence/internal/metrics"
	"github.com/ppiankov/credence/internal/model"
	"github.com/ppiankov/credence/internal/pipeline"
)

type fakeAnswerer struct {
	resp    *pipeline.Response
	err     error
	sources []model.Source
	gold    gold.Result

	chunks     []string
	afterChunk func(i int)

	gotQuery model.Query
	gotTopK  int
}

func (f *fakeAnswerer) Answer(_ context.Context, q model.Query) (*pipeline.Response, error) {
	f.gotQuery = q
	return f.resp, f.err
}

// AnswerStream writes the sources and chunks. err fails the answer before
// anything is written, or after the last chunk when chunks are set.
func (f *fakeAnswerer) AnswerStream(_ context.Context, q model.Query, sw pipeline.StreamWriter) (*pipeline.Response, error) {
	f.gotQuery = q
	if f.err != nil && len(f.chunks) == 0 {
		return nil, f.err
	}
	if err := sw.Sources(f.resp.Sources); err != nil {
		return nil, err
	}
	for i, c := range f.chunks {
		if err := sw.Text(c); err != nil {
			return nil, err
		}
		if f.afterChunk != nil {
			f.afterChunk(i)
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeAnswerer) Sources(_ context.Context, query string, topK int) ([]model.Source, error) {
	f.gotTopK = topK
	if strings.TrimSpace(query) == "" {
		return nil, pipeline.ErrEmptyQuery
	}
	return f.sources, f.err
}

func (f *fakeAnswerer) GoldSearch(context.Context, string, int) gold.Result {
	return f.gold
}

type failingVerifier struct{}

func (failingVerifier) Run(context.Context, []byte, string) (credcheck.Envelope, error) {
	return credcheck.Envelope{Error: "embedding quota exceeded"}, errors.New("embedding quota exceeded")
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func newTestServer(a Answerer, v Verifier) *Server {
	if v == nil {
		v = credcheck.New(model.DefaultConfig().Verify)
	}
	return New(a, v, nil, model.DefaultConfig().Server, nil, metrics.NewCollector("credence_test"))
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChat(t *testing.T) {
	a := &fakeAnswerer{resp: &pipeline.Response{
		SynthesizedAnswer: model.SynthesizedAnswer{
			Text:         "**Answer:** File within one year [1].",
			Sources:      []model.Source{{ID: 1, Title: "Asylum", URL: "https://www.uscis.gov/asylum"}},
			Claims:       []model.Claim{},
			ClaimsStatus: model.ClaimsEmpty,
		},
		Mode: pipeline.ModeRAG,
	}}
	h := newTestServer(a, nil).Handler()

	rec := do(t, h, http.MethodPost, "/api/chat", `{"query":"asylum deadline?","history":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "**Answer:** File within one year [1].", body["answer"])
	assert.Equal(t, "rag", body["mode"])
	assert.Equal(t, "empty", body["claims_status"])
	assert.Len(t, body["sources"], 1)

	assert.Equal(t, "asylum deadline?", a.gotQuery.Text)
	require.Len(t, a.gotQuery.History, 1)
}

func TestChat_Errors(t *testing.T) {
	tests := []struct {
		desc   string
		body   string
		err    error
		status int
		want   string
	}{
		{desc: "malformed body", body: `{"query":`, status: http.StatusBadRequest, want: "invalid request body"},
		{desc: "missing query", body: `{}`, status: http.StatusBadRequest, want: "query is required"},
		{desc: "bad history role", body: `{"query":"q","history":[{"role":"robot","content":"x"}]}`, status: http.StatusBadRequest, want: "role must be one of"},
		{desc: "blank query", body: `{"query":"   "}`, err: pipeline.ErrEmptyQuery, status: http.StatusBadRequest, want: "query is required"},
		{desc: "synthesis failure", body: `{"query":"q"}`, err: errors.New("model: 503 from upstream"), status: http.StatusInternalServerError, want: "Internal Server Error"},
	}

	for _, target := range []string{"/api/chat", "/api/chat?stream=1"} {
		for _, tt := range tests {
			t.Run(target+" "+tt.desc, func(t *testing.T) {
				h := newTestServer(&fakeAnswerer{err: tt.err}, nil).Handler()
				rec := do(t, h, http.MethodPost, target, tt.body)

				assert.Equal(t, tt.status, rec.Code)
				assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
				assert.Contains(t, rec.Body.String(), tt.want)
				assert.NotContains(t, rec.Body.String(), "503 from upstream", "internal errors stay in the log")
			})
		}
	}
}

func streamedResponse() *pipeline.Response {
	return &pipeline.Response{
		SynthesizedAnswer: model.SynthesizedAnswer{
			Text:         "**Answer:** File within one year [1].",
			Sources:      []model.Source{{ID: 1, Title: "Asylum", URL: "https://www.uscis.gov/asylum"}},
			Claims:       []model.Claim{},
			ClaimsStatus: model.ClaimsEmpty,
		},
		Mode: pipeline.ModeRAG,
	}
}

func TestChat_Stream(t *testing.T) {
	a := &fakeAnswerer{resp: streamedResponse(), chunks: []string{"**Answer:** File ", "within one year [1]."}}
	h := newTestServer(a, nil).Handler()

	rec := do(t, h, http.MethodPost, "/api/chat?stream=1", `{"query":"asylum deadline?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.True(t, rec.Flushed)

	body := rec.Body.String()
	require.True(t, strings.HasPrefix(body, "SOURCES_JSON:"), body)
	head, rest, ok := strings.Cut(strings.TrimPrefix(body, "SOURCES_JSON:"), "\n\n")
	require.True(t, ok)

	var sources []model.Source
	require.NoError(t, json.Unmarshal([]byte(head), &sources))
	require.Len(t, sources, 1)
	assert.Equal(t, "https://www.uscis.gov/asylum", sources[0].URL)

	text, trailer, ok := strings.Cut(rest, "\n\nCLAIMS_JSON:")
	require.True(t, ok, "claims follow the text")
	assert.Equal(t, "**Answer:** File within one year [1].", text)

	var claims map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(trailer), &claims))
	assert.Equal(t, "empty", claims["claims_status"])
	assert.Equal(t, "rag", claims["mode"])
	assert.Equal(t, "asylum deadline?", a.gotQuery.Text)
}

func TestChat_StreamFailsMidAnswer(t *testing.T) {
	a := &fakeAnswerer{resp: streamedResponse(), chunks: []string{"**Answer:** File "}, err: errors.New("model: 503 from upstream")}
	h := newTestServer(a, nil).Handler()

	rec := do(t, h, http.MethodPost, "/api/chat?stream=1", `{"query":"asylum deadline?"}`)
	assert.Equal(t, http.StatusOK, rec.Code, "status is committed once streaming starts")
	assert.True(t, strings.HasSuffix(rec.Body.String(), "**Answer:** File "))
	assert.NotContains(t, rec.Body.String(), "CLAIMS_JSON:")
	assert.NotContains(t, rec.Body.String(), "503 from upstream")
}

func TestChat_StreamStopsWhenClientLeaves(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := &fakeAnswerer{
		resp:   streamedResponse(),
		chunks: []string{"one ", "two ", "three"},
		afterChunk: func(i int) {
			if i == 0 {
				cancel()
			}
		},
	}
	h := newTestServer(a, nil).Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/chat?stream=1", strings.NewReader(`{"query":"q"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.True(t, strings.HasSuffix(body, "\n\none "), body)
	assert.NotContains(t, body, "two")
	assert.NotContains(t, body, "CLAIMS_JSON:")
}

func TestChatSources(t *testing.T) {
	a := &fakeAnswerer{sources: []model.Source{{ID: 1, Title: "source_1", Excerpt: "x"}}}
	h := newTestServer(a, nil).Handler()

	rec := do(t, h, http.MethodPost, "/api/chat-sources", `{"query":"h-1b fee","topK":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sources":[{"id":1,"title":"source_1","excerpt":"x"}]}`, rec.Body.String())
	assert.Equal(t, 3, a.gotTopK)

	rec = do(t, h, http.MethodPost, "/api/chat-sources", `{"query":"h-1b fee","topK":99}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "topk must be at most 20")
}

func TestGoldSearch(t *testing.T) {
	a := &fakeAnswerer{gold: gold.Result{Candidates: []gold.Candidate{}, Classification: gold.ClassRAG}}
	h := newTestServer(a, nil).Handler()

	rec := do(t, h, http.MethodPost, "/api/gold-search", `{"query":"opt extension"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res gold.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, gold.ClassRAG, res.Classification)
	assert.Nil(t, res.Best)
}

func TestCredCheck(t *testing.T) {
	h := newTestServer(&fakeAnswerer{}, nil).Handler()

	payload := `{"answer_text":"a","claims":[{"id":"c1","text":"H-1B petitions use Form I-129"}],"citations":[{"claim_id":"c1","urls":[{"url":"https://www.uscis.gov/i-129"}]}]}`
	rec := do(t, h, http.MethodPost, "/api/cred-check?mode=bypass", payload)
	require.Equal(t, http.StatusOK, rec.Code)

	var env credcheck.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.OK)
	require.NotNil(t, env.Result)
	assert.InDelta(t, 0.56, env.Result.Overall, 1e-9)
}

func TestCredCheck_Errors(t *testing.T) {
	tests := []struct {
		desc     string
		verifier Verifier
		target   string
		body     string
		status   int
		want     string
	}{
		{desc: "missing claims", target: "/api/cred-check", body: `{"citations":[]}`, status: http.StatusBadRequest, want: "claims array required"},
		{desc: "unknown mode", target: "/api/cred-check?mode=fast", body: `{}`, status: http.StatusBadRequest, want: "unknown mode"},
		{desc: "fatal failure", verifier: failingVerifier{}, target: "/api/cred-check", body: `{}`, status: http.StatusInternalServerError, want: "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			h := newTestServer(&fakeAnswerer{}, tt.verifier).Handler()
			rec := do(t, h, http.MethodPost, tt.target, tt.body)

			assert.Equal(t, tt.status, rec.Code)
			var env credcheck.Envelope
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			assert.False(t, env.OK)
			assert.Contains(t, env.Error, tt.want)
			assert.NotContains(t, env.Error, "quota")
		})
	}
}

func TestHealth(t *testing.T) {
	s := New(&fakeAnswerer{}, failingVerifier{}, pinger{}, model.ServerConfig{}, nil, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	s = New(&fakeAnswerer{}, failingVerifier{}, pinger{err: errors.New("database is locked")}, model.ServerConfig{}, nil, nil)
	rec = do(t, s.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(&fakeAnswerer{sources: []model.Source{}}, nil).Handler()
	do(t, h, http.MethodPost, "/api/chat-sources", `{"query":"x"}`)

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/api/chat-sources"`)
}

func TestCORSPreflight(t *testing.T) {
	h := New(&fakeAnswerer{}, failingVerifier{}, nil, model.ServerConfig{}, nil, nil).Handler()
	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "https://app.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
