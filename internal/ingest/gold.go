package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/credence/internal/embed"
	"github.com/ppiankov/credence/internal/model"
)

// GoldStore persists curated answers
type GoldStore interface {
	UpsertGold(ctx context.Context, g model.GoldAnswer) error
}

type goldFile struct {
	Answers []model.GoldAnswer `json:"answers" yaml:"answers"`
}

var validate = validator.New()

// LoadGold reads curated answers from a YAML or JSON file holding either a
// list or an object with an "answers" list. Answers without an id get one
// derived from the question, so reloading a file updates in place.
func LoadGold(path string) ([]model.GoldAnswer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gold file: %w", err)
	}

	var answers []model.GoldAnswer
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = decodeGold(data, json.Unmarshal, &answers)
	default:
		err = decodeGold(data, yaml.Unmarshal, &answers)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	for i := range answers {
		g := &answers[i]
		g.Question = strings.TrimSpace(g.Question)
		g.GoldAnswer = strings.TrimSpace(g.GoldAnswer)
		if err := validate.Struct(g); err != nil {
			return nil, fmt.Errorf("gold answer %d: %w", i+1, err)
		}
		if g.ID == "" {
			g.ID = GoldID(g.Question)
		}
	}
	return answers, nil
}

func decodeGold(data []byte, unmarshal func([]byte, interface{}) error, out *[]model.GoldAnswer) error {
	if err := unmarshal(data, out); err == nil {
		return nil
	}
	var wrapped goldFile
	if err := unmarshal(data, &wrapped); err != nil {
		return err
	}
	*out = wrapped.Answers
	return nil
}

// GoldID is the stable id of a curated answer to question
func GoldID(question string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.ToLower(strings.TrimSpace(question)))).String()
}

// AddGold embeds the question and answer of each entry and upserts it.
// It stops at the first failure and returns how many were stored.
func AddGold(ctx context.Context, e embed.Embedder, s GoldStore, answers []model.GoldAnswer, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for i, g := range answers {
		var err error
		if g.QuestionEmbedding, err = e.Embed(ctx, g.Question); err != nil {
			return i, fmt.Errorf("embed question %q: %w", g.ID, err)
		}
		if g.AnswerEmbedding, err = e.Embed(ctx, g.GoldAnswer); err != nil {
			return i, fmt.Errorf("embed answer %q: %w", g.ID, err)
		}
		if err := s.UpsertGold(ctx, g); err != nil {
			return i, err
		}
		logger.Debug("gold answer stored", zap.String("id", g.ID))
	}
	return len(answers), nil
}
