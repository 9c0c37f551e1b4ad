package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/credence/internal/model"
)

// NearestDocuments returns up to limit documents ordered by ascending cosine
// distance to vec. Rows without an embedding are skipped.
func (s *SQLite) NearestDocuments(ctx context.Context, vec []float32, limit int) ([]model.ScoredDocument, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("nearest documents: empty query vector")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, source_title, source_url, source_file, embedding
		 FROM documents WHERE embedding IS NOT NULL ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []ranked[model.Document]
	for rows.Next() {
		doc, blob, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		emb := decodeVector(blob)
		if len(emb) != len(vec) {
			continue
		}
		candidates = append(candidates, ranked[model.Document]{item: doc, distance: cosineDistance(vec, emb)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	top := nearest(candidates, limit)
	out := make([]model.ScoredDocument, len(top))
	for i, r := range top {
		out[i] = model.ScoredDocument{Document: r.item, Distance: r.distance}
	}
	return out, nil
}

// KeywordDocuments ranks documents by how many of terms their content
// contains (case-insensitive), most matches first.
func (s *SQLite) KeywordDocuments(ctx context.Context, terms []string, limit int) ([]model.Document, error) {
	var (
		hits []string
		args []interface{}
	)
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		hits = append(hits, `(CASE WHEN lower(content) LIKE ? ESCAPE '\' THEN 1 ELSE 0 END)`)
		args = append(args, "%"+escapeLike(term)+"%")
	}
	if len(hits) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)

	query := `SELECT id, content, source_title, source_url, source_file, embedding FROM (
		SELECT rowid AS rid, id, content, source_title, source_url, source_file, embedding,
		       ` + strings.Join(hits, " + ") + ` AS hits
		FROM documents
	) WHERE hits > 0 ORDER BY hits DESC, rid LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Document
	for rows.Next() {
		doc, _, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// InsertDocument stores doc keyed by contentHash. A chunk already present
// under the same hash is left untouched and reported as not inserted.
func (s *SQLite) InsertDocument(ctx context.Context, doc model.Document, contentHash string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO documents
		 (id, content, source_title, source_url, source_file, content_hash, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Content, nullable(doc.SourceTitle), nullable(doc.SourceURL), nullable(doc.SourceFile),
		contentHash, encodeVector(doc.Embedding), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("insert document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// HasContentHash reports whether a chunk with this hash is already stored
func (s *SQLite) HasContentHash(ctx context.Context, contentHash string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM documents WHERE content_hash = ? LIMIT 1`, contentHash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup hash: %w", err)
	}
	return true, nil
}

// CountDocuments returns the number of stored chunks
func (s *SQLite) CountDocuments(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// RecordLargeFile remembers a URL whose body exceeded the ingest limit
func (s *SQLite) RecordLargeFile(ctx context.Context, url string, size int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO large_files (url, size_bytes, checked_at) VALUES (?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET size_bytes = excluded.size_bytes, checked_at = excluded.checked_at`,
		url, size, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record large file: %w", err)
	}
	return nil
}

// IsLargeFile reports whether url was previously recorded as oversize
func (s *SQLite) IsLargeFile(ctx context.Context, url string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM large_files WHERE url = ?`, url).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup large file: %w", err)
	}
	return true, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row scanner) (model.Document, []byte, error) {
	var (
		doc              model.Document
		title, url, file sql.NullString
		blob             []byte
	)
	if err := row.Scan(&doc.ID, &doc.Content, &title, &url, &file, &blob); err != nil {
		return model.Document{}, nil, fmt.Errorf("scan document: %w", err)
	}
	doc.SourceTitle = title.String
	doc.SourceURL = url.String
	doc.SourceFile = file.String
	return doc, blob, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
