package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/credence/internal/model"
)

func openTest(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestVectorRoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3}
	assert.Equal(t, in, decodeVector(encodeVector(in)))
	assert.Nil(t, encodeVector(nil))
	assert.Nil(t, decodeVector([]byte{1, 2}))
}

func TestNearestDocuments_OrdersByDistance(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	docs := []model.Document{
		{ID: "far", Content: "unrelated", Embedding: []float32{0, 1}},
		{ID: "near", Content: "H-1B fee", SourceURL: "https://www.uscis.gov/h1b", Embedding: []float32{1, 0}},
		{ID: "mid", Content: "visa basics", Embedding: []float32{1, 1}},
		{ID: "noemb", Content: "not indexed"},
	}
	for i, d := range docs {
		ok, err := s.InsertDocument(ctx, d, d.ID+string(rune('a'+i)))
		require.NoError(t, err)
		require.True(t, ok)
	}

	got, err := s.NearestDocuments(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].ID)
	assert.InDelta(t, 0, got[0].Distance, 1e-6)
	assert.Equal(t, "https://www.uscis.gov/h1b", got[0].SourceURL)
	assert.Equal(t, "mid", got[1].ID)

	_, err = s.NearestDocuments(ctx, nil, 2)
	assert.Error(t, err)
}

func TestInsertDocument_DedupesByHash(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	ok, err := s.InsertDocument(ctx, model.Document{ID: "1", Content: "x"}, "h")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.InsertDocument(ctx, model.Document{ID: "2", Content: "x"}, "h")
	require.NoError(t, err)
	assert.False(t, ok)

	has, err := s.HasContentHash(ctx, "h")
	require.NoError(t, err)
	assert.True(t, has)

	n, err := s.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestKeywordDocuments(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	for _, d := range []model.Document{
		{ID: "a", Content: "The H-1B petition filing fee"},
		{ID: "b", Content: "Green card interview"},
		{ID: "c", Content: "H-1B petition timelines and 100% premium processing"},
	} {
		_, err := s.InsertDocument(ctx, d, d.ID)
		require.NoError(t, err)
	}

	got, err := s.KeywordDocuments(ctx, []string{"petition", "fee"}, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID, "two matching terms rank first")
	assert.Equal(t, "c", got[1].ID)

	got, err = s.KeywordDocuments(ctx, []string{"100%"}, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ID)

	got, err = s.KeywordDocuments(ctx, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGold_UpsertAndNearest(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	verified := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)

	g := model.GoldAnswer{
		ID:                "g1",
		Question:          "What is the H-1B fee?",
		GoldAnswer:        "$100,000 for new petitions.",
		Sources:           []model.GoldSource{{Title: "USCIS", URL: "https://www.uscis.gov/h1b"}},
		HumanConfidence:   0.9,
		VerifiedBy:        "reviewer",
		LastVerified:      &verified,
		QuestionEmbedding: []float32{1, 0},
		AnswerEmbedding:   []float32{0, 1},
	}
	require.NoError(t, s.UpsertGold(ctx, g))
	require.NoError(t, s.UpsertGold(ctx, model.GoldAnswer{
		ID: "g2", Question: "q", GoldAnswer: "a",
		QuestionEmbedding: []float32{0, 1}, AnswerEmbedding: []float32{1, 0},
	}))

	byQ, err := s.NearestGold(ctx, GoldByQuestion, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, byQ, 2)
	assert.Equal(t, "g1", byQ[0].ID)
	assert.Equal(t, []model.GoldSource{{Title: "USCIS", URL: "https://www.uscis.gov/h1b"}}, byQ[0].Sources)
	require.NotNil(t, byQ[0].LastVerified)
	assert.True(t, verified.Equal(*byQ[0].LastVerified))

	byA, err := s.NearestGold(ctx, GoldByAnswer, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, byA, 1)
	assert.Equal(t, "g2", byA[0].ID)

	_, err = s.NearestGold(ctx, GoldIndex("bogus"), []float32{1, 0}, 1)
	assert.Error(t, err)

	got, err := s.GetGold(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.HumanConfidence)

	_, err = s.GetGold(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLargeFiles(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	large, err := s.IsLargeFile(ctx, "https://example.gov/big.pdf")
	require.NoError(t, err)
	assert.False(t, large)

	require.NoError(t, s.RecordLargeFile(ctx, "https://example.gov/big.pdf", 9_000_000))
	require.NoError(t, s.RecordLargeFile(ctx, "https://example.gov/big.pdf", 9_500_000))

	large, err = s.IsLargeFile(ctx, "https://example.gov/big.pdf")
	require.NoError(t, err)
	assert.True(t, large)
}

func TestVerdictLog(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	require.NoError(t, s.LogVerdict(ctx, VerdictRecord{VerdictID: "v1", Policy: "full", Decision: "reject", OverallScore: 0.12, ClaimCount: 1}))
	require.NoError(t, s.LogVerdict(ctx, VerdictRecord{VerdictID: "v2", Policy: "bypass", Decision: "verified", OverallScore: 0.9, ClaimCount: 3}))

	got, err := s.RecentVerdicts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "v2", got[0].VerdictID)
	assert.Equal(t, "bypass", got[0].Policy)
	assert.False(t, got[0].CreatedAt.IsZero())
}
