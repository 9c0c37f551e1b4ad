package credcheck

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/credence/internal/model"
)

// wireInput is the request as received; citations stay raw so both the
// documented and the legacy shapes can be read
type wireInput struct {
	AnswerText string          `json:"answer_text"`
	Claims     json.RawMessage `json:"claims"`
	Citations  json.RawMessage `json:"citations"`
}

type wireCitation struct {
	ClaimID  string            `json:"claim_id"`
	ClaimID2 string            `json:"claimId"`
	URLs     []json.RawMessage `json:"urls"`
}

type wireURL struct {
	URL            string `json:"url"`
	QuotedSnippet  string `json:"quoted_snippet"`
	QuotedSnippet2 string `json:"quotedSnippet"`
	Snippet        string `json:"snippet"`
}

// ParseInput decodes and structurally validates a verification request.
// claims must be a non-empty array and citations an array. Citations may
// key their claim as claim_id or claimId, and list URLs either as objects
// or as bare strings.
func ParseInput(data []byte) (model.CredCheckInput, error) {
	var in model.CredCheckInput

	var w wireInput
	if err := json.Unmarshal(data, &w); err != nil {
		return in, invalid(fmt.Sprintf("malformed JSON: %v", err))
	}
	in.AnswerText = w.AnswerText

	if !isArray(w.Claims) {
		return in, invalid("claims array required")
	}
	if err := json.Unmarshal(w.Claims, &in.Claims); err != nil {
		return in, invalid(fmt.Sprintf("claims: %v", err))
	}
	if len(in.Claims) == 0 {
		return in, invalid("claims array required")
	}

	if !isArray(w.Citations) {
		return in, invalid("citations array required")
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(w.Citations, &raw); err != nil {
		return in, invalid(fmt.Sprintf("citations: %v", err))
	}

	in.Citations = make([]model.Citation, 0, len(raw))
	for _, r := range raw {
		var wc wireCitation
		if err := json.Unmarshal(r, &wc); err != nil {
			// entries that are not objects cannot name a claim
			continue
		}
		c := model.Citation{ClaimID: firstNonEmpty(wc.ClaimID, wc.ClaimID2)}
		for _, u := range wc.URLs {
			if cu, ok := parseURL(u); ok {
				c.URLs = append(c.URLs, cu)
			}
		}
		in.Citations = append(in.Citations, c)
	}
	return in, nil
}

// Validate checks a typed request
func Validate(in model.CredCheckInput) error {
	if len(in.Claims) == 0 {
		return invalid("claims array required")
	}
	return nil
}

func parseURL(raw json.RawMessage) (model.CitationURL, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		return model.CitationURL{URL: s}, s != ""
	}

	var u wireURL
	if err := json.Unmarshal(raw, &u); err != nil {
		return model.CitationURL{}, false
	}
	u.URL = strings.TrimSpace(u.URL)
	return model.CitationURL{
		URL:           u.URL,
		QuotedSnippet: firstNonEmpty(u.QuotedSnippet, u.QuotedSnippet2, u.Snippet),
	}, u.URL != ""
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
