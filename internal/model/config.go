package model

import "time"

// Config is the complete credence configuration
type Config struct {
	LLM       LLMConfig       `yaml:"llm" mapstructure:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding" mapstructure:"embedding"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Gold      GoldConfig      `yaml:"gold" mapstructure:"gold"`
	Retrieval RetrievalConfig `yaml:"retrieval" mapstructure:"retrieval"`
	Rerank    RerankConfig    `yaml:"rerank" mapstructure:"rerank"`
	Gate      GateConfig      `yaml:"gate" mapstructure:"gate"`
	Synth     SynthConfig     `yaml:"synth" mapstructure:"synth"`
	Claims    ClaimsConfig    `yaml:"claims" mapstructure:"claims"`
	Verify    VerifyConfig    `yaml:"verify" mapstructure:"verify"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	HTTP      HTTPConfig      `yaml:"http" mapstructure:"http"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// BreakerConfig configures the circuit breaker around an oracle
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled" mapstructure:"enabled"`
	MaxRequests      uint32        `yaml:"max_requests" mapstructure:"max_requests"`
	Interval         time.Duration `yaml:"interval" mapstructure:"interval"`
	Timeout          time.Duration `yaml:"timeout" mapstructure:"timeout"`
	FailureThreshold float64       `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	MinRequests      uint32        `yaml:"min_requests" mapstructure:"min_requests"`
}

// LLMConfig configures the language-model oracle
type LLMConfig struct {
	Provider   string        `yaml:"provider" mapstructure:"provider"` // openai, anthropic, ollama
	Model      string        `yaml:"model" mapstructure:"model"`
	APIKey     string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL    string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout    int           `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens  int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	HTTPProxy  string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy    string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
	Breaker    BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
}

// EmbeddingConfig configures the embedding oracle
type EmbeddingConfig struct {
	Model    string        `yaml:"model" mapstructure:"model"`
	APIKey   string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL  string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout  int           `yaml:"timeout" mapstructure:"timeout"` // seconds
	CacheTTL time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	Breaker  BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
}

// StoreConfig locates the sqlite corpus
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// GoldConfig holds the golden-answer fusion weights and thresholds
type GoldConfig struct {
	Limit          int     `yaml:"limit" mapstructure:"limit"`
	High           float64 `yaml:"high" mapstructure:"high"`
	Low            float64 `yaml:"low" mapstructure:"low"`
	HumanConfMin   float64 `yaml:"human_conf_min" mapstructure:"human_conf_min"`
	QuestionWeight float64 `yaml:"question_weight" mapstructure:"question_weight"`
	AnswerWeight   float64 `yaml:"answer_weight" mapstructure:"answer_weight"`
	HumanWeight    float64 `yaml:"human_weight" mapstructure:"human_weight"`
}

// RetrievalConfig configures document retrieval
type RetrievalConfig struct {
	Limit           int  `yaml:"limit" mapstructure:"limit"`
	KeywordFallback bool `yaml:"keyword_fallback" mapstructure:"keyword_fallback"`
	SourcesTopK     int  `yaml:"sources_top_k" mapstructure:"sources_top_k"`
	ExcerptChars    int  `yaml:"excerpt_chars" mapstructure:"excerpt_chars"`
	// The sources endpoint alone retries its embedding call; every other
	// caller fails open on the first error.
	SourcesAttempts int           `yaml:"sources_attempts" mapstructure:"sources_attempts"`
	SourcesBackoff  time.Duration `yaml:"sources_backoff" mapstructure:"sources_backoff"`
}

// RerankConfig configures the reranker and its domain factors
type RerankConfig struct {
	TopK           int      `yaml:"top_k" mapstructure:"top_k"`
	TrustedDomains []string `yaml:"trusted_domains" mapstructure:"trusted_domains"`
	NewsDomains    []string `yaml:"news_domains" mapstructure:"news_domains"`
	TrustedFactor  float64  `yaml:"trusted_factor" mapstructure:"trusted_factor"`
	GovFactor      float64  `yaml:"gov_factor" mapstructure:"gov_factor"`
	NewsFactor     float64  `yaml:"news_factor" mapstructure:"news_factor"`
	ExcerptChars   int      `yaml:"excerpt_chars" mapstructure:"excerpt_chars"`
	MaxTokens      int      `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// GateConfig holds the confidence gate thresholds
type GateConfig struct {
	MinDocs   int     `yaml:"min_docs" mapstructure:"min_docs"`
	TopScore  float64 `yaml:"top_score" mapstructure:"top_score"`
	MeanTop3  float64 `yaml:"mean_top3" mapstructure:"mean_top3"`
	StrongTop float64 `yaml:"strong_top" mapstructure:"strong_top"`
}

// SynthConfig configures answer synthesis
type SynthConfig struct {
	DocChars     int `yaml:"doc_chars" mapstructure:"doc_chars"`
	MaxTokens    int `yaml:"max_tokens" mapstructure:"max_tokens"`
	HistoryTurns int `yaml:"history_turns" mapstructure:"history_turns"`
}

// ClaimsConfig configures claim extraction
type ClaimsConfig struct {
	MaxClaims      int  `yaml:"max_claims" mapstructure:"max_claims"`
	MinClaimLength int  `yaml:"min_claim_length" mapstructure:"min_claim_length"`
	ExcerptChars   int  `yaml:"excerpt_chars" mapstructure:"excerpt_chars"`
	MaxTokens      int  `yaml:"max_tokens" mapstructure:"max_tokens"`
	Validate       bool `yaml:"validate" mapstructure:"validate"`
}

// VerifyConfig configures the credibility verifier
type VerifyConfig struct {
	Workers              int                `yaml:"workers" mapstructure:"workers"`
	FetchTimeout         time.Duration      `yaml:"fetch_timeout" mapstructure:"fetch_timeout"`
	AuthoritativeDomains []string           `yaml:"authoritative_domains" mapstructure:"authoritative_domains"`
	DomainWeights        map[string]float64 `yaml:"domain_weights" mapstructure:"domain_weights"`
	AllowlistWeight      float64            `yaml:"allowlist_weight" mapstructure:"allowlist_weight"`
	DefaultWeight        float64            `yaml:"default_weight" mapstructure:"default_weight"`
	NLILow               float64            `yaml:"nli_low" mapstructure:"nli_low"`
	NLIHigh              float64            `yaml:"nli_high" mapstructure:"nli_high"`
	SemanticChars        int                `yaml:"semantic_chars" mapstructure:"semantic_chars"`
	MinPageChars         int                `yaml:"min_page_chars" mapstructure:"min_page_chars"`
	StaleYears           int                `yaml:"stale_years" mapstructure:"stale_years"`
	StaleFactor          float64            `yaml:"stale_factor" mapstructure:"stale_factor"`
	RespectRobots        bool               `yaml:"respect_robots" mapstructure:"respect_robots"`
	LogVerdicts          bool               `yaml:"log_verdicts" mapstructure:"log_verdicts"`
}

// IngestConfig configures corpus seeding
type IngestConfig struct {
	ChunkChars   int   `yaml:"chunk_chars" mapstructure:"chunk_chars"`
	ChunkOverlap int   `yaml:"chunk_overlap" mapstructure:"chunk_overlap"`
	HashChars    int   `yaml:"hash_chars" mapstructure:"hash_chars"`
	EmbedBatch   int   `yaml:"embed_batch" mapstructure:"embed_batch"`
	Workers      int   `yaml:"workers" mapstructure:"workers"`
	MinTextChars int   `yaml:"min_text_chars" mapstructure:"min_text_chars"`
	MaxBytes     int64 `yaml:"max_bytes" mapstructure:"max_bytes"`
	DiscoverMax  int   `yaml:"discover_max" mapstructure:"discover_max"`
}

// HTTPConfig configures outbound page fetching
type HTTPConfig struct {
	UserAgent         string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `yaml:"burst" mapstructure:"burst"`
	HTTPProxy         string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy        string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy           string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// CacheConfig configures page and embedding caching
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr           string   `yaml:"addr" mapstructure:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures zap
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // console or json
}

// DefaultBreakerConfig trips after 80% failures over at least 5 calls
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:          true,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "gpt-4o-mini",
			Timeout:   30,
			MaxTokens: 1000,
			Breaker:   DefaultBreakerConfig(),
		},
		Embedding: EmbeddingConfig{
			Model:    "text-embedding-3-small",
			Timeout:  20,
			CacheTTL: time.Hour,
			Breaker:  DefaultBreakerConfig(),
		},
		Store: StoreConfig{
			Path: "credence.db",
		},
		Gold: GoldConfig{
			Limit:          5,
			High:           0.75,
			Low:            0.60,
			HumanConfMin:   0.50,
			QuestionWeight: 0.6,
			AnswerWeight:   0.3,
			HumanWeight:    0.1,
		},
		Retrieval: RetrievalConfig{
			Limit:           20,
			KeywordFallback: true,
			SourcesTopK:     5,
			ExcerptChars:    1200,
			SourcesAttempts: 3,
			SourcesBackoff:  time.Second,
		},
		Rerank: RerankConfig{
			TopK:           5,
			TrustedDomains: []string{"uscis.gov", "state.gov", "federalregister.gov", "congress.gov"},
			NewsDomains: []string{
				"nytimes.com", "washingtonpost.com", "cnn.com", "foxnews.com",
				"bloomberg.com", "reuters.com", "theguardian.com", "forbes.com",
			},
			TrustedFactor: 1.25,
			GovFactor:     1.20,
			NewsFactor:    0.85,
			ExcerptChars:  400,
			MaxTokens:     400,
		},
		Gate: GateConfig{
			MinDocs:   2,
			TopScore:  0.72,
			MeanTop3:  0.48,
			StrongTop: 0.92,
		},
		Synth: SynthConfig{
			DocChars:     1200,
			MaxTokens:    1100,
			HistoryTurns: 6,
		},
		Claims: ClaimsConfig{
			MaxClaims:      10,
			MinClaimLength: 20,
			ExcerptChars:   800,
			MaxTokens:      1500,
			Validate:       true,
		},
		Verify: VerifyConfig{
			Workers:      4,
			FetchTimeout: 10 * time.Second,
			AuthoritativeDomains: []string{
				"uscis.gov", "dhs.gov", "state.gov", "travel.state.gov", "dol.gov",
				"justice.gov", "eoir.justice.gov", "ecfr.gov", "federalregister.gov",
				"uscourts.gov", "courtlistener.com", "congress.gov", "law.cornell.edu",
				"ice.gov", "cbp.gov",
			},
			DomainWeights: map[string]float64{
				"uscis.gov":           1.0,
				"dhs.gov":             0.98,
				"justice.gov":         0.98,
				"ecfr.gov":            0.95,
				"federalregister.gov": 0.95,
				"dol.gov":             0.95,
				"state.gov":           0.95,
				"uscourts.gov":        0.95,
				"courtlistener.com":   0.95,
				"congress.gov":        0.94,
				"law.cornell.edu":     0.92,
			},
			AllowlistWeight: 0.9,
			DefaultWeight:   0.6,
			NLILow:          0.62,
			NLIHigh:         0.78,
			SemanticChars:   2000,
			MinPageChars:    20,
			StaleYears:      5,
			StaleFactor:     0.85,
			RespectRobots:   true,
			LogVerdicts:     true,
		},
		Ingest: IngestConfig{
			ChunkChars:   1200,
			ChunkOverlap: 200,
			HashChars:    2000,
			EmbedBatch:   32,
			Workers:      4,
			MinTextChars: 200,
			MaxBytes:     2_000_000,
			DiscoverMax:  50,
		},
		HTTP: HTTPConfig{
			UserAgent:         "credence/0.1 (+https://github.com/ppiankov/credence)",
			MaxBodyBytes:      2_000_000,
			Timeout:           20 * time.Second,
			RequestsPerSecond: 2,
			Burst:             5,
		},
		Cache: CacheConfig{
			Enabled:   true,
			MemoryTTL: 15 * time.Minute,
			DiskTTL:   24 * time.Hour,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
