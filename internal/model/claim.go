package model

// ClaimSource links a claim to the document that supports it
type ClaimSource struct {
	Title   string `json:"title"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Claim is an atomic factual statement taken from a synthesized answer.
// Verified is always false when Source is nil.
type Claim struct {
	ID       string       `json:"id"`
	Text     string       `json:"text"`
	Source   *ClaimSource `json:"source"`
	Verified bool         `json:"verified"`
	Critical bool         `json:"critical"`
}

// ClaimsStatus records how the extraction phase ended
type ClaimsStatus string

const (
	ClaimsExtracted ClaimsStatus = "extracted" // at least one claim
	ClaimsEmpty     ClaimsStatus = "empty"     // extractor ran, nothing usable
	ClaimsFailed    ClaimsStatus = "failed"    // extractor errored, degraded to empty
	ClaimsSkipped   ClaimsStatus = "skipped"   // no sourced answer to extract from
)

// SynthesizedAnswer is the result of one answer request
type SynthesizedAnswer struct {
	Text         string       `json:"answer"`
	Sources      []Source     `json:"sources"`
	Claims       []Claim      `json:"claims"`
	ClaimsStatus ClaimsStatus `json:"claims_status"`
	ClaimsError  string       `json:"claims_error,omitempty"`
}
