package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Index      IndexConfig      `yaml:"index"`
	Generation GenerationConfig `yaml:"generation"`
	Memory     MemoryConfig     `yaml:"memory"`
	Safety     SafetyConfig     `yaml:"safety"`
	Resources  ResourcesConfig  `yaml:"resources"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"`
	RateBurst    int           `yaml:"rate_limit_burst"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// IndexConfig controls the document index and retrieval tuning.
type IndexConfig struct {
	DatabasePath    string        `yaml:"database_path"`
	EmbeddingModel  string        `yaml:"embedding_model"`
	EmbeddingAPIKey string        `yaml:"embedding_api_key"`
	EmbeddingCache  int           `yaml:"embedding_cache_size"`
	K               int           `yaml:"k"`
	FetchK          int           `yaml:"fetch_k"`
	Lambda          float64       `yaml:"lambda"`
	SearchDefaultK  int           `yaml:"search_default_k"`
	SearchMaxK      int           `yaml:"search_max_k"`
	IngestRateLimit int           `yaml:"ingest_rate_per_minute"`
	ChunkSize       int           `yaml:"chunk_size"`
	ChunkOverlap    int           `yaml:"chunk_overlap"`
	// QueryTimeout bounds the embedding call made for each retrieval.
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

type GenerationConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// MemoryConfig bounds the in-process session store. MaxSessions of zero
// after defaults is not possible; use a large value to effectively disable
// the cap.
type MemoryConfig struct {
	MaxSessions int           `yaml:"max_sessions"`
	IdleTTL     time.Duration `yaml:"idle_ttl"`
	PromptTurns int           `yaml:"prompt_turns"`
}

type SafetyConfig struct {
	MaxMessageLength int      `yaml:"max_message_length"`
	CrisisKeywords   []string `yaml:"crisis_keywords"`
	CrisisPatterns   []string `yaml:"crisis_patterns"`
	GateSearch       bool     `yaml:"gate_search"`
	Disclaimer       string   `yaml:"disclaimer"`
	SourceCount      int      `yaml:"source_count"`
	SnippetLength    int      `yaml:"snippet_length"`
}

type ResourcesConfig struct {
	Crisis  map[string]string `yaml:"crisis"`
	General map[string]string `yaml:"general"`
}

// Load reads an optional YAML file, overlays an optional .env file and the
// process environment, then fills remaining zero values with defaults.
// Decoding starts from seeded defaults so that an explicit zero in the file
// is kept.
func Load(path string) (*Config, error) {
	cfg := seed()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// A missing .env file is normal in deployed environments.
	_ = godotenv.Load()

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.Server.Port = getEnv("HTTP_PORT", cfg.Server.Port)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Index.DatabasePath = getEnv("DATABASE_URL", cfg.Index.DatabasePath)
	cfg.Generation.Provider = getEnv("GENERATION_PROVIDER", cfg.Generation.Provider)
	cfg.Generation.Model = getEnv("GENERATION_MODEL", cfg.Generation.Model)
	cfg.Generation.BaseURL = getEnv("GENERATION_BASE_URL", cfg.Generation.BaseURL)

	// Query and chunk embeddings always come from Gemini so that a stored
	// index stays comparable when the generation provider changes.
	cfg.Index.EmbeddingAPIKey = getEnv("GEMINI_API_KEY", cfg.Index.EmbeddingAPIKey)

	switch strings.ToLower(cfg.Generation.Provider) {
	case ProviderOpenAI:
		cfg.Generation.APIKey = getEnv("OPENAI_API_KEY", cfg.Generation.APIKey)
	default:
		cfg.Generation.APIKey = getEnv("GEMINI_API_KEY", cfg.Generation.APIKey)
	}

	var err error
	if cfg.Memory.MaxSessions, err = getEnvAsInt("MAX_SESSIONS", cfg.Memory.MaxSessions); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("SESSION_IDLE_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SESSION_IDLE_TTL %q: %w", v, err)
		}
		cfg.Memory.IdleTTL = d
	}
	return nil
}

// Validate rejects configurations the service cannot run with. A missing
// generation credential is allowed: the service starts and reports itself
// as not ready.
func (c *Config) Validate() error {
	var errs []error
	if c.Index.K <= 0 {
		errs = append(errs, errors.New("index.k must be positive"))
	}
	if c.Index.FetchK < c.Index.K {
		errs = append(errs, fmt.Errorf("index.fetch_k (%d) must be >= index.k (%d)", c.Index.FetchK, c.Index.K))
	}
	if c.Index.Lambda < 0 || c.Index.Lambda > 1 {
		errs = append(errs, fmt.Errorf("index.lambda must be within [0,1], got %v", c.Index.Lambda))
	}
	if c.Index.SearchDefaultK > c.Index.SearchMaxK {
		errs = append(errs, errors.New("index.search_default_k must not exceed index.search_max_k"))
	}
	if c.Index.ChunkOverlap >= c.Index.ChunkSize {
		errs = append(errs, errors.New("index.chunk_overlap must be smaller than index.chunk_size"))
	}
	switch c.Generation.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("generation.provider %q is not supported", c.Generation.Provider))
	}
	if c.Index.QueryTimeout <= 0 {
		errs = append(errs, errors.New("index.query_timeout must be positive"))
	}
	if c.Index.ChunkOverlap < 0 {
		errs = append(errs, errors.New("index.chunk_overlap must not be negative"))
	}
	if c.Generation.Temperature < 0 {
		errs = append(errs, errors.New("generation.temperature must not be negative"))
	}
	if c.Safety.SourceCount < 0 {
		errs = append(errs, errors.New("safety.source_count must not be negative"))
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, errors.New("server.rate_limit_rps must not be negative"))
	}
	if c.Generation.Timeout <= 0 {
		errs = append(errs, errors.New("generation.timeout must be positive"))
	}
	if c.Safety.MaxMessageLength <= 0 {
		errs = append(errs, errors.New("safety.max_message_length must be positive"))
	}
	for _, p := range c.Safety.CrisisPatterns {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("safety.crisis_patterns: %q: %w", p, err))
		}
	}
	if c.Memory.MaxSessions < 0 {
		errs = append(errs, errors.New("memory.max_sessions must not be negative"))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, valueStr, err)
	}
	return value, nil
}
