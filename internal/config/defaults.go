package config

import (
	"strings"
	"time"
)

// DefaultCrisisKeywords are matched as lowercase substrings.
var DefaultCrisisKeywords = []string{
	"suicide",
	"kill myself",
	"end my life",
	"want to die",
	"self harm",
	"cut myself",
	"hurt myself",
	"no reason to live",
}

// DefaultCrisisPatterns are matched against the lowercased message.
var DefaultCrisisPatterns = []string{
	`\b(don't|dont) want to (live|be here)`,
	`\b(thinking about|planning) (suicide|ending)`,
	`\bno point in (living|life)\b`,
}

const DefaultDisclaimer = "\n\n*Note: I'm an AI assistant providing general information. " +
	"For personalized advice, please consult a mental health professional.*"

func defaultCrisisResources() map[string]string {
	return map[string]string{
		"hotline":       "988 (Suicide & Crisis Lifeline)",
		"text":          `Text "HELLO" to 741741 (Crisis Text Line)`,
		"international": "https://findahelpline.com",
	}
}

func defaultGeneralResources() map[string]string {
	return map[string]string{
		"therapy_finder": "https://www.psychologytoday.com/us/therapists",
		"samhsa":         "1-800-662-4357 (Substance abuse and mental health)",
		"nami":           "https://www.nami.org (National Alliance on Mental Illness)",
	}
}

// seed returns a Config holding the defaults of settings where zero is a
// meaningful choice. Load decodes on top of it so an explicit zero survives
// ApplyDefaults.
func seed() Config {
	return Config{
		Server: ServerConfig{RateLimitRPS: 20},
		Index: IndexConfig{
			Lambda:          0.7,
			IngestRateLimit: 1500,
			ChunkOverlap:    40,
		},
		Generation: GenerationConfig{Temperature: 0.7},
		Safety:     SafetyConfig{SourceCount: 2},
	}
}

// ApplyDefaults sets default values for zero values in cfg where zero is not
// a usable setting. Settings that accept zero (lambda, temperature,
// source_count, chunk_overlap and the rate limits) are left as they are.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "5000"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = 40
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Index.DatabasePath == "" {
		cfg.Index.DatabasePath = "mindcare_index.db"
	}
	if cfg.Index.EmbeddingModel == "" {
		cfg.Index.EmbeddingModel = "text-embedding-004"
	}
	if cfg.Index.EmbeddingCache == 0 {
		cfg.Index.EmbeddingCache = 1000
	}
	if cfg.Index.K == 0 {
		cfg.Index.K = 4
	}
	if cfg.Index.FetchK == 0 {
		cfg.Index.FetchK = 10
	}
	if cfg.Index.SearchDefaultK == 0 {
		cfg.Index.SearchDefaultK = 3
	}
	if cfg.Index.SearchMaxK == 0 {
		cfg.Index.SearchMaxK = 20
	}
	if cfg.Index.ChunkSize == 0 {
		cfg.Index.ChunkSize = 200
	}
	if cfg.Index.QueryTimeout == 0 {
		cfg.Index.QueryTimeout = 10 * time.Second
	}

	cfg.Generation.Provider = strings.ToLower(strings.TrimSpace(cfg.Generation.Provider))
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = ProviderGemini
	}
	if cfg.Generation.Model == "" {
		if cfg.Generation.Provider == ProviderOpenAI {
			cfg.Generation.Model = "gpt-4o-mini"
		} else {
			cfg.Generation.Model = "gemini-2.0-flash"
		}
	}
	if cfg.Index.EmbeddingAPIKey == "" && cfg.Generation.Provider == ProviderGemini {
		cfg.Index.EmbeddingAPIKey = cfg.Generation.APIKey
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 500
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 30 * time.Second
	}

	if cfg.Memory.MaxSessions == 0 {
		cfg.Memory.MaxSessions = 1000
	}
	if cfg.Memory.IdleTTL == 0 {
		cfg.Memory.IdleTTL = 24 * time.Hour
	}
	if cfg.Memory.PromptTurns == 0 {
		cfg.Memory.PromptTurns = 10
	}

	if cfg.Safety.MaxMessageLength == 0 {
		cfg.Safety.MaxMessageLength = 1000
	}
	if cfg.Safety.CrisisKeywords == nil {
		cfg.Safety.CrisisKeywords = append([]string(nil), DefaultCrisisKeywords...)
	}
	if cfg.Safety.CrisisPatterns == nil {
		cfg.Safety.CrisisPatterns = append([]string(nil), DefaultCrisisPatterns...)
	}
	if cfg.Safety.Disclaimer == "" {
		cfg.Safety.Disclaimer = DefaultDisclaimer
	}
	if cfg.Safety.SnippetLength == 0 {
		cfg.Safety.SnippetLength = 150
	}

	if cfg.Resources.Crisis == nil {
		cfg.Resources.Crisis = defaultCrisisResources()
	}
	if cfg.Resources.General == nil {
		cfg.Resources.General = defaultGeneralResources()
	}
}

// Default returns a fully defaulted configuration without reading any file
// or environment variable.
func Default() *Config {
	cfg := seed()
	ApplyDefaults(&cfg)
	return &cfg
}
