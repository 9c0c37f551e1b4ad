package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ppiankov/credence/internal/model"
)

// GoldIndex selects which embedding a gold search runs against
type GoldIndex string

const (
	GoldByQuestion GoldIndex = "question"
	GoldByAnswer   GoldIndex = "answer"
)

func (g GoldIndex) column() (string, error) {
	switch g {
	case GoldByQuestion:
		return "question_embedding", nil
	case GoldByAnswer:
		return "answer_embedding", nil
	default:
		return "", fmt.Errorf("unknown gold index %q", string(g))
	}
}

const goldColumns = `id, question, gold_answer, sources_json, human_confidence, verified_by, last_verified`

// NearestGold returns up to limit gold answers ordered by ascending cosine
// distance between vec and the selected embedding.
func (s *SQLite) NearestGold(ctx context.Context, index GoldIndex, vec []float32, limit int) ([]model.ScoredGold, error) {
	col, err := index.column()
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("nearest gold: empty query vector")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+goldColumns+`, `+col+` FROM gold_answers WHERE `+col+` IS NOT NULL ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query gold answers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []ranked[model.GoldAnswer]
	for rows.Next() {
		var blob []byte
		g, err := scanGold(rows, &blob)
		if err != nil {
			return nil, err
		}
		emb := decodeVector(blob)
		if len(emb) != len(vec) {
			continue
		}
		candidates = append(candidates, ranked[model.GoldAnswer]{item: g, distance: cosineDistance(vec, emb)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gold answers: %w", err)
	}

	top := nearest(candidates, limit)
	out := make([]model.ScoredGold, len(top))
	for i, r := range top {
		out[i] = model.ScoredGold{GoldAnswer: r.item, Distance: r.distance}
	}
	return out, nil
}

// GetGold loads one gold answer by id
func (s *SQLite) GetGold(ctx context.Context, id string) (*model.GoldAnswer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+goldColumns+` FROM gold_answers WHERE id = ?`, id)
	g, err := scanGold(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("gold answer %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// UpsertGold inserts or replaces a curated answer together with its embeddings
func (s *SQLite) UpsertGold(ctx context.Context, g model.GoldAnswer) error {
	sources, err := json.Marshal(g.Sources)
	if err != nil {
		return fmt.Errorf("marshal gold sources: %w", err)
	}

	var lastVerified interface{}
	if g.LastVerified != nil {
		lastVerified = g.LastVerified.UTC().Format(time.RFC3339)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO gold_answers
		 (id, question, gold_answer, sources_json, human_confidence, verified_by, last_verified,
		  question_embedding, answer_embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   question = excluded.question,
		   gold_answer = excluded.gold_answer,
		   sources_json = excluded.sources_json,
		   human_confidence = excluded.human_confidence,
		   verified_by = excluded.verified_by,
		   last_verified = excluded.last_verified,
		   question_embedding = excluded.question_embedding,
		   answer_embedding = excluded.answer_embedding`,
		g.ID, g.Question, g.GoldAnswer, string(sources), g.HumanConfidence,
		nullable(g.VerifiedBy), lastVerified,
		encodeVector(g.QuestionEmbedding), encodeVector(g.AnswerEmbedding),
	)
	if err != nil {
		return fmt.Errorf("upsert gold answer: %w", err)
	}
	return nil
}

// scanGold reads goldColumns, plus any extra trailing destinations
func scanGold(row scanner, extra ...interface{}) (model.GoldAnswer, error) {
	var (
		g                     model.GoldAnswer
		sources, by, verified sql.NullString
	)
	dest := append([]interface{}{&g.ID, &g.Question, &g.GoldAnswer, &sources, &g.HumanConfidence, &by, &verified}, extra...)
	if err := row.Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return g, err
		}
		return g, fmt.Errorf("scan gold answer: %w", err)
	}

	if sources.Valid && sources.String != "" && sources.String != "null" {
		if err := json.Unmarshal([]byte(sources.String), &g.Sources); err != nil {
			return g, fmt.Errorf("unmarshal gold sources: %w", err)
		}
	}
	g.VerifiedBy = by.String
	if verified.Valid {
		if t, err := time.Parse(time.RFC3339, verified.String); err == nil {
			g.LastVerified = &t
		}
	}
	return g, nil
}
