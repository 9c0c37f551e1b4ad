package credcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/credence/internal/embed"
	"github.com/ppiankov/credence/internal/llm"
	"github.com/ppiankov/credence/internal/model"
)

const (
	nliMaxTokens    = 150
	nliPassageChars = 4000
)

const nliSystemPrompt = `You judge whether a passage supports a claim. Reason only from the passage; ignore anything you know from elsewhere.
Answer SUPPORT only when the passage states the claim. Answer CONTRADICT only when the passage states something incompatible with it. Otherwise answer INCONCLUSIVE.
Reply with JSON: {"verdict":"SUPPORT|CONTRADICT|INCONCLUSIVE","confidence":0.0-1.0}`

type nliReply struct {
	Verdict    string  `json:"verdict"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// entail asks the model for a conservative entailment verdict
func entail(ctx context.Context, provider llm.Provider, claim, passage string) (model.NLIVerdict, float64, error) {
	if provider == nil {
		return "", 0, fmt.Errorf("no language model configured")
	}
	if len(passage) > nliPassageChars {
		passage = passage[:nliPassageChars]
	}

	resp, err := provider.Complete(ctx, llm.CompletionRequest{
		System:      nliSystemPrompt,
		Messages:    llm.User(fmt.Sprintf("PASSAGE:\n%s\n\nCLAIM:\n%s", passage, claim)),
		Temperature: 0,
		MaxTokens:   nliMaxTokens,
		JSONMode:    true,
	})
	if err != nil {
		return "", 0, err
	}

	text := resp.Text
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		text = text[start : end+1]
	}
	var reply nliReply
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return "", 0, fmt.Errorf("parse entailment: %w", err)
	}

	verdict := model.NLIVerdict(strings.ToUpper(strings.TrimSpace(firstNonEmpty(reply.Verdict, reply.Label))))
	switch verdict {
	case model.NLISupport, model.NLIContradict, model.NLIInconclusive:
	default:
		return "", 0, fmt.Errorf("unknown entailment verdict %q", verdict)
	}
	return verdict, embed.Clamp01(reply.Confidence), nil
}
