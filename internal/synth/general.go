package synth

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/credence/internal/llm"
)

// Disclaimer opens every answer not drawn from the corpus
const Disclaimer = "Disclaimer: Based on general knowledge (not our verified sources). Please consult official sources for legal decisions."

const (
	generalMaxTokens   = 900
	generalUnavailable = "Sorry, I could not produce an answer right now."
)

var (
	urlPattern  = regexp.MustCompile(`\bhttps?://[^\s)]+`)
	urlTrailing = regexp.MustCompile(`[.,;)]+$`)
)

// General is an unsourced answer. URLs are whatever links the model
// mentioned; none of them has been checked.
type General struct {
	Text string   `json:"answer"`
	URLs []string `json:"raw_urls"`
}

// GeneralAnswer answers from the model's general knowledge. It never
// fails: when the model is unavailable the disclaimer is followed by a
// fixed apology.
func (s *Synthesizer) GeneralAnswer(ctx context.Context, query string) General {
	if s.provider == nil {
		return General{Text: Disclaimer + "\n\n" + generalUnavailable, URLs: []string{}}
	}

	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		Messages:    llm.User(generalPrompt(query)),
		Temperature: 0,
		MaxTokens:   generalMaxTokens,
	})
	s.metrics.OracleCall("llm", err)
	if err != nil {
		s.logger.Warn("general answer failed", zap.String("component", "synth"), zap.Error(err))
		s.metrics.Fallback("synth", "general_error")
		return General{Text: Disclaimer + "\n\n" + generalUnavailable, URLs: []string{}}
	}

	text := strings.TrimSpace(resp.Text)
	if !strings.HasPrefix(text, "Disclaimer:") {
		text = Disclaimer + "\n\n" + text
	}
	return General{Text: text, URLs: ExtractURLs(text)}
}

// ExtractURLs returns the distinct http(s) URLs in text, in order of first
// appearance, with trailing punctuation removed
func ExtractURLs(text string) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, u := range urlPattern.FindAllString(text, -1) {
		u = urlTrailing.ReplaceAllString(u, "")
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

func generalPrompt(query string) string {
	return fmt.Sprintf(`You are an assistant answering from general knowledge (NOT from our verified sources).
Start with: %q
Then provide a concise and helpful answer to:
%q
At the end, if you can, list any web URLs (one per line) that informed this answer under a "URLs:" heading.
Do not invent statutes or claim access to internal documents.`, Disclaimer, query)
}
