package model

import "time"

// ClaimRef is a claim as submitted for credibility checking
type ClaimRef struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// CitationURL is one cited page, optionally with the quoted passage
type CitationURL struct {
	URL           string `json:"url"`
	QuotedSnippet string `json:"quoted_snippet,omitempty"`
}

// Citation groups the URLs cited for one claim
type Citation struct {
	ClaimID string        `json:"claim_id"`
	URLs    []CitationURL `json:"urls"`
}

// CredCheckInput is the verifier request. Citations whose claim_id matches
// no claim are ignored.
type CredCheckInput struct {
	AnswerText string     `json:"answer_text"`
	Claims     []ClaimRef `json:"claims"`
	Citations  []Citation `json:"citations"`
}

// NLIVerdict is an entailment outcome
type NLIVerdict string

const (
	NLISupport      NLIVerdict = "SUPPORT"
	NLIContradict   NLIVerdict = "CONTRADICT"
	NLIInconclusive NLIVerdict = "INCONCLUSIVE"
)

// Decision is the accept/reject band of a score
type Decision string

const (
	DecisionReject   Decision = "reject"
	DecisionProbable Decision = "probable"
	DecisionVerified Decision = "verified"
)

// Evidence is the scored assessment of one cited URL for one claim
type Evidence struct {
	URL           string     `json:"url"`
	Domain        string     `json:"domain"`
	Snippet       string     `json:"snippet,omitempty"`
	Authoritative bool       `json:"authoritative"`
	Exact         bool       `json:"exact"`
	SnippetMatch  float64    `json:"snippet_match"`
	Semantic      float64    `json:"semantic"`
	NLIVerdict    NLIVerdict `json:"nli_verdict,omitempty"`
	NLIConfidence float64    `json:"nli_confidence"`
	DomainWeight  float64    `json:"domain_weight"`
	Freshness     float64    `json:"freshness"`
	FinalScore    float64    `json:"score"`
	LastModified  *time.Time `json:"last_modified,omitempty"`
	FetchError    string     `json:"fetch_error,omitempty"`
	Formula       string     `json:"formula,omitempty"`
}

// ClaimVerdict is the outcome for one claim
type ClaimVerdict struct {
	ClaimID   string     `json:"claim_id"`
	BestScore float64    `json:"score"`
	Decision  Decision   `json:"decision"`
	Evidence  []Evidence `json:"evidence"`
	Reason    string     `json:"reason,omitempty"`
}

// VerdictSummary carries counts for the whole request
type VerdictSummary struct {
	Policy                 string `json:"policy"`
	TotalClaims            int    `json:"total_claims"`
	TotalCitations         int    `json:"total_citations"`
	AuthoritativeCitations int    `json:"authoritative_citations"`
	AnswerText             string `json:"answer_text"`
}

// OverallVerdict is the outcome for the whole request
type OverallVerdict struct {
	Decision Decision       `json:"decision"`
	Overall  float64        `json:"overall_score"`
	Results  []ClaimVerdict `json:"results"`
	Summary  VerdictSummary `json:"summary"`
}
