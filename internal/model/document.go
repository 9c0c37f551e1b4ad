package model

import (
	"fmt"
	"time"
)

// Document is one chunk of the general corpus
type Document struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	SourceTitle string    `json:"source_title,omitempty"`
	SourceURL   string    `json:"source_url,omitempty"`
	SourceFile  string    `json:"source_file,omitempty"`
	Embedding   []float32 `json:"-"`
}

// Title returns the best human-readable label for the document
func (d Document) Title() string {
	switch {
	case d.SourceTitle != "":
		return d.SourceTitle
	case d.SourceFile != "":
		return d.SourceFile
	default:
		return fmt.Sprintf("Doc %s", d.ID)
	}
}

// ScoredDocument is a nearest-neighbor row: the document and its cosine distance
type ScoredDocument struct {
	Document
	Distance float64 `json:"distance"`
}

// RankedCandidate is a document with a relevance score in [0,1]
type RankedCandidate struct {
	Document
	Score float64 `json:"score"`
}

// GoldSource is a citation attached to a curated answer
type GoldSource struct {
	Title       string `json:"title,omitempty" yaml:"title,omitempty"`
	URL         string `json:"url,omitempty" yaml:"url,omitempty"`
	Excerpt     string `json:"excerpt,omitempty" yaml:"excerpt,omitempty"`
	SnapshotURL string `json:"snapshot_url,omitempty" yaml:"snapshot_url,omitempty"`
}

// GoldAnswer is a curated, human-verified question/answer pair
type GoldAnswer struct {
	ID                string       `json:"id" yaml:"id"`
	Question          string       `json:"question" yaml:"question" validate:"required"`
	GoldAnswer        string       `json:"gold_answer" yaml:"gold_answer" validate:"required"`
	Sources           []GoldSource `json:"sources,omitempty" yaml:"sources,omitempty"`
	HumanConfidence   float64      `json:"human_confidence" yaml:"human_confidence" validate:"gte=0,lte=1"`
	VerifiedBy        string       `json:"verified_by,omitempty" yaml:"verified_by,omitempty"`
	LastVerified      *time.Time   `json:"last_verified,omitempty" yaml:"last_verified,omitempty"`
	QuestionEmbedding []float32    `json:"-" yaml:"-"`
	AnswerEmbedding   []float32    `json:"-" yaml:"-"`
}

// ScoredGold is a gold nearest-neighbor row
type ScoredGold struct {
	GoldAnswer
	Distance float64
}

// Source is a citation entry shown next to an answer. ID i matches marker [i].
type Source struct {
	ID          int     `json:"id"`
	Title       string  `json:"title"`
	URL         string  `json:"url,omitempty"`
	Excerpt     string  `json:"excerpt,omitempty"`
	Score       float64 `json:"score,omitempty"`
	SnapshotURL string  `json:"snapshot_url,omitempty"`
}
