package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/credence/internal/llm/llmtest"
	"github.com/ppiankov/credence/internal/model"
)

func TestRoute_ParsesModelOutput(t *testing.T) {
	script := llmtest.New().On("Latest user message",
		"```json\n{\"refined_query\":\"H-1B cap lottery 2026\",\"intent\":\"followup\",\"format\":\"steps\"}\n```")
	r := New(script, nil, nil)

	got := r.Route(context.Background(), "what about the lottery?", []model.Turn{
		{Role: "user", Content: "Tell me about H-1B"},
		{Role: "assistant", Content: "H-1B is a specialty occupation visa."},
	})

	assert.Equal(t, model.RoutedQuery{
		RefinedQuery: "H-1B cap lottery 2026",
		Intent:       model.IntentFollowUp,
		Format:       model.FormatStepByStep,
	}, got)

	calls := script.Calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].JSONMode)
	assert.Equal(t, 180, calls[0].MaxTokens)
	assert.Zero(t, calls[0].Temperature)
	assert.Contains(t, calls[0].Messages[0].Content, "assistant: H-1B is a specialty occupation visa.")
}

func TestRoute_UsesLastSixTurns(t *testing.T) {
	script := llmtest.New().On("Latest", `{"refined_query":"q","intent":"question","format":"short_answer"}`)
	r := New(script, nil, nil)

	var history []model.Turn
	for i := 0; i < 10; i++ {
		history = append(history, model.Turn{Role: "user", Content: fmt.Sprintf("turn-%d", i)})
	}
	r.Route(context.Background(), "q", history)

	prompt := script.Calls()[0].Messages[0].Content
	assert.NotContains(t, prompt, "turn-3")
	for i := 4; i < 10; i++ {
		assert.Contains(t, prompt, fmt.Sprintf("turn-%d", i))
	}
}

func TestRoute_Fallbacks(t *testing.T) {
	tests := []struct {
		desc   string
		script *llmtest.Scripted
		query  string
		want   model.RoutedQuery
	}{
		{
			desc:   "oracle error returns defaults",
			script: llmtest.New().Fail("Latest", errors.New("503")),
			query:  "  What is OPT?  ",
			want:   model.RoutedQuery{RefinedQuery: "What is OPT?", Intent: model.IntentQuestion, Format: model.FormatShortAnswer},
		},
		{
			desc:   "unparsable output keeps defaults",
			script: llmtest.New().On("Latest", "sure! here you go"),
			query:  "What is OPT?",
			want:   model.RoutedQuery{RefinedQuery: "What is OPT?", Intent: model.IntentQuestion, Format: model.FormatShortAnswer},
		},
		{
			desc:   "unparsable output detects comparison",
			script: llmtest.New().On("Latest", "not json"),
			query:  "H-1B vs O-1 visa",
			want:   model.RoutedQuery{RefinedQuery: "H-1B vs O-1 visa", Intent: model.IntentComparison, Format: model.FormatTable},
		},
		{
			desc:   "empty query skips the model",
			script: llmtest.New(),
			query:  "   ",
			want:   model.RoutedQuery{RefinedQuery: "", Intent: model.IntentQuestion, Format: model.FormatShortAnswer},
		},
		{
			desc:   "unknown labels normalize to defaults",
			script: llmtest.New().On("Latest", `{"refined_query":"","intent":"fees","format":"essay"}`),
			query:  "How much is the fee?",
			want:   model.RoutedQuery{RefinedQuery: "How much is the fee?", Intent: model.IntentQuestion, Format: model.FormatShortAnswer},
		},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got := New(tt.script, nil, nil).Route(context.Background(), tt.query, nil)
			assert.Equal(t, tt.want, got)
			if strings.TrimSpace(tt.query) == "" {
				assert.Zero(t, tt.script.CallCount())
			}
		})
	}
}

func TestNormalizeIntent(t *testing.T) {
	tests := map[string]model.Intent{
		"question":    model.IntentQuestion,
		"Follow-Up":   model.IntentFollowUp,
		"followup":    model.IntentFollowUp,
		"compare":     model.IntentComparison,
		"comparison":  model.IntentComparison,
		"explain":     model.IntentExplain,
		"procedural":  model.IntentProcedural,
		"greet":       model.IntentGreet,
		"greeting":    model.IntentGreet,
		"fees":        model.IntentQuestion,
		"":            model.IntentQuestion,
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeIntent(in), in)
	}
}

func TestNormalizeFormat(t *testing.T) {
	tests := map[string]model.Format{
		"paragraph":     model.FormatShortAnswer,
		"bullet points": model.FormatBulletPoints,
		"compare_table": model.FormatTable,
		"table":         model.FormatTable,
		"steps":         model.FormatStepByStep,
		"step-by-step":  model.FormatStepByStep,
		"haiku":         model.FormatShortAnswer,
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeFormat(in), in)
	}
}
