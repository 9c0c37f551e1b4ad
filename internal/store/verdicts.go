package store

import (
	"context"
	"fmt"
	"time"
)

// VerdictRecord is one row of the verification provenance log
type VerdictRecord struct {
	VerdictID    string
	Policy       string
	Decision     string
	OverallScore float64
	ClaimCount   int
	CreatedAt    time.Time
}

// LogVerdict appends a completed verification to verdict_log
func (s *SQLite) LogVerdict(ctx context.Context, rec VerdictRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO verdict_log (verdict_id, policy, decision, overall_score, claim_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.VerdictID, rec.Policy, rec.Decision, rec.OverallScore, rec.ClaimCount,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log verdict: %w", err)
	}
	return nil
}

// RecentVerdicts returns the newest entries first
func (s *SQLite) RecentVerdicts(ctx context.Context, limit int) ([]VerdictRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT verdict_id, policy, decision, overall_score, claim_count, created_at
		 FROM verdict_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query verdicts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []VerdictRecord
	for rows.Next() {
		var (
			rec     VerdictRecord
			created string
		)
		if err := rows.Scan(&rec.VerdictID, &rec.Policy, &rec.Decision, &rec.OverallScore, &rec.ClaimCount, &created); err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}
