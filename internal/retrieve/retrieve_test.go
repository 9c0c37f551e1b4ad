package retrieve

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/credence/internal/embed"
	"github.com/ppiankov/credence/internal/embed/embedtest"
	"github.com/ppiankov/credence/internal/model"
)

type fakeStore struct {
	nearest    []model.ScoredDocument
	nearestErr error
	keyword    []model.Document
	keywordErr error

	gotTerms []string
	gotLimit int
}

func (f *fakeStore) NearestDocuments(_ context.Context, _ []float32, limit int) ([]model.ScoredDocument, error) {
	f.gotLimit = limit
	if f.nearestErr != nil {
		return nil, f.nearestErr
	}
	if len(f.nearest) > limit {
		return f.nearest[:limit], nil
	}
	return f.nearest, nil
}

func (f *fakeStore) KeywordDocuments(_ context.Context, terms []string, _ int) ([]model.Document, error) {
	f.gotTerms = terms
	return f.keyword, f.keywordErr
}

func cfg() model.RetrievalConfig {
	c := model.DefaultConfig().Retrieval
	c.SourcesBackoff = time.Millisecond
	return c
}

func scored(id string, dist float64) model.ScoredDocument {
	return model.ScoredDocument{
		Document: model.Document{ID: id, Content: "content " + id, SourceURL: "https://www.uscis.gov/" + id},
		Distance: dist,
	}
}

func TestRetrieve_VectorOrder(t *testing.T) {
	s := &fakeStore{nearest: []model.ScoredDocument{scored("a", 0.1), scored("b", 0.2)}}
	r := New(embedtest.New().Default(1, 0), s, cfg(), nil, nil)

	docs := r.Retrieve(context.Background(), "H-1B fee", 0)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, DefaultLimit, s.gotLimit)
	assert.Nil(t, s.gotTerms, "keyword search must not run when vectors match")
}

func TestRetrieve_FailuresAreEmpty(t *testing.T) {
	tests := []struct {
		desc     string
		embedder *embedtest.Static
		store    *fakeStore
	}{
		{
			desc:     "embedding fails",
			embedder: embedtest.New().FailWith(errors.New("quota")),
			store:    &fakeStore{nearest: []model.ScoredDocument{scored("a", 0.1)}},
		},
		{
			desc:     "vector search fails",
			embedder: embedtest.New().Default(1),
			store:    &fakeStore{nearestErr: errors.New("index unavailable"), keyword: []model.Document{{ID: "k"}}},
		},
		{
			desc:     "keyword search fails",
			embedder: embedtest.New().Default(1),
			store:    &fakeStore{keywordErr: errors.New("locked")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			docs := New(tt.embedder, tt.store, cfg(), nil, nil).Retrieve(context.Background(), "green card", 5)
			assert.NotNil(t, docs)
			assert.Empty(t, docs)
		})
	}
}

func TestRetrieve_KeywordFallbackOnNoRows(t *testing.T) {
	s := &fakeStore{keyword: []model.Document{{ID: "k1"}}}
	r := New(embedtest.New().Default(1), s, cfg(), nil, nil)

	docs := r.Retrieve(context.Background(), "What is the fee for Form I-130?", 5)
	require.Len(t, docs, 1)
	assert.Equal(t, "k1", docs[0].ID)
	assert.Equal(t, []string{"fee", "form", "i-130"}, s.gotTerms)

	off := cfg()
	off.KeywordFallback = false
	s = &fakeStore{keyword: []model.Document{{ID: "k1"}}}
	assert.Empty(t, New(embedtest.New().Default(1), s, off, nil, nil).Retrieve(context.Background(), "fee", 5))
}

func TestKeywordTerms(t *testing.T) {
	tests := []struct {
		desc  string
		query string
		want  []string
	}{
		{desc: "stopwords dropped", query: "How do I get a green card?", want: []string{"green", "card"}},
		{desc: "deduplicated", query: "visa visa VISA", want: []string{"visa"}},
		{desc: "capped at six", query: "asylum parole refugee status work permit travel document", want: []string{"asylum", "parole", "refugee", "status", "work", "permit"}},
		{desc: "only stopwords", query: "what is the", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			assert.Equal(t, tt.want, KeywordTerms(tt.query))
		})
	}
}

func TestSources(t *testing.T) {
	long := strings.Repeat("x", 1500)
	s := &fakeStore{nearest: []model.ScoredDocument{
		{Document: model.Document{ID: "a", Content: long, SourceTitle: "USCIS fees", SourceURL: "https://www.uscis.gov/fees"}, Distance: 0.2},
		{Document: model.Document{ID: "b", Content: "short"}, Distance: 0.4},
	}}
	r := New(embedtest.New().Default(1), s, cfg(), nil, nil)

	sources, err := r.Sources(context.Background(), "fees", 0)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, 5, s.gotLimit)

	assert.Equal(t, 1, sources[0].ID)
	assert.Equal(t, "USCIS fees", sources[0].Title)
	assert.Len(t, sources[0].Excerpt, 1200)
	assert.InDelta(t, 0.8, sources[0].Score, 1e-9)

	assert.Equal(t, "source_2", sources[1].Title)
	assert.Equal(t, "short", sources[1].Excerpt)
}

func TestSources_EmbeddingFailure(t *testing.T) {
	e := embedtest.New().FailWith(errors.New("down"))
	r := New(e, &fakeStore{}, cfg(), nil, nil)
	_, err := r.Sources(context.Background(), "fees", 3)
	assert.ErrorIs(t, err, ErrNoEmbedding)
	assert.Equal(t, 3, e.Calls(), "sources retries its embedding call")
}

func TestSources_RecoversOnRetry(t *testing.T) {
	var calls int
	flaky := embed.EmbedderFunc(func(context.Context, string) ([]float32, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("503")
		}
		return []float32{1}, nil
	})
	s := &fakeStore{nearest: []model.ScoredDocument{scored("a", 0.1)}}

	sources, err := New(flaky, s, cfg(), nil, nil).Sources(context.Background(), "fees", 1)
	require.NoError(t, err)
	assert.Len(t, sources, 1)
	assert.Equal(t, 2, calls)
}

func TestRetrieve_EmbeddingFailureIsNotRetried(t *testing.T) {
	e := embedtest.New().FailWith(errors.New("down"))
	c := cfg()
	c.SourcesBackoff = time.Hour

	start := time.Now()
	docs := New(e, &fakeStore{}, c, nil, nil).Retrieve(context.Background(), "H-1B fee", 5)
	assert.Empty(t, docs)
	assert.Equal(t, 1, e.Calls())
	assert.Less(t, time.Since(start), time.Second)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abcdef", 3))
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "héé", Truncate("héééé", 3))
	assert.Equal(t, "abc", Truncate("abc", 0))
}
