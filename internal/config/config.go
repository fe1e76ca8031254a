package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the guarded RAG chat service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	// Authentication for inbound requests: "proxy" trusts the
	// X-Forwarded-User header, "token" maps static bearer tokens to
	// identities, "none" treats every caller as anonymous.
	AuthMode        string
	TrustedUserHdr  string
	AuthTokens      map[string]string
	RateLimitPerMin int
	RateLimitBurst  int
	MaxMessageChars int

	// Storage.
	DatabaseURL    string
	CollectionName string
	EmbeddingDim   int

	// Semantic response cache.
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	CacheKey          string
	CacheMaxEntries   int
	CacheHitThreshold float64

	// Retrieval and prompt assembly.
	RetrievalTopK      int
	RetrievalMinScore  float64
	HistoryReplayLimit int
	SystemInstructions string

	// Embedding service (OpenAI-compatible /v1/embeddings).
	EmbedMode   string
	EmbedURL    string
	EmbedAPIKey string
	EmbedModel  string

	// Generation service (OpenAI-compatible /v1/chat/completions).
	LLMMode    string
	LLMURL     string
	LLMAPIKey  string
	LLMModel   string
	LLMTimeout time.Duration

	// Remote PII detection service.
	DLPMode    string
	DLPURL     string
	DLPAPIKey  string
	DLPTimeout time.Duration

	// Streaming PII policy: "off" forwards raw deltas, "redact" additionally
	// passes each delta through the local pattern redactor. Either way the
	// aggregate response is sanitized before it reaches cache or history.
	StreamGuard string

	StageTimeout time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "aegis"),
		AuthMode:         envOrDefault("AUTH_MODE", "none"),
		TrustedUserHdr:   envOrDefault("AUTH_TRUSTED_USER_HEADER", "X-Forwarded-User"),
		AuthTokens:       parseTokenMap(os.Getenv("AUTH_TOKENS")),
		RateLimitPerMin:  5,
		RateLimitBurst:   5,
		MaxMessageChars:  10000,

		DatabaseURL:    trimmedEnv("DATABASE_URL"),
		CollectionName: envOrDefault("VECTOR_COLLECTION", "knowledge_base"),
		EmbeddingDim:   1536,

		RedisAddr:         trimmedEnv("REDIS_ADDR"),
		RedisPassword:     trimmedEnv("REDIS_PASSWORD"),
		RedisDB:           0,
		CacheKey:          envOrDefault("SEMCACHE_KEY", "aegis:semcache"),
		CacheMaxEntries:   256,
		CacheHitThreshold: 0.92,

		RetrievalTopK:      5,
		RetrievalMinScore:  0.0,
		HistoryReplayLimit: 0,
		SystemInstructions: envOrDefault("SYSTEM_INSTRUCTIONS",
			"You are a helpful assistant. Use the context below to answer."),

		EmbedMode:   envOrDefault("EMBED_MODE", "auto"),
		EmbedURL:    trimmedEnv("EMBED_URL"),
		EmbedAPIKey: trimmedEnv("EMBED_API_KEY"),
		EmbedModel:  envOrDefault("EMBED_MODEL", "text-embedding-3-small"),

		LLMMode:    envOrDefault("LLM_MODE", "auto"),
		LLMURL:     trimmedEnv("LLM_URL"),
		LLMAPIKey:  trimmedEnv("LLM_API_KEY"),
		LLMModel:   envOrDefault("LLM_MODEL", "gpt-4o-mini"),
		LLMTimeout: 60 * time.Second,

		DLPMode:    envOrDefault("DLP_MODE", "auto"),
		DLPURL:     trimmedEnv("DLP_URL"),
		DLPAPIKey:  trimmedEnv("DLP_API_KEY"),
		DLPTimeout: 10 * time.Second,

		StreamGuard: envOrDefault("STREAM_GUARD", "off"),

		ShutdownTimeout: 15 * time.Second,
		StageTimeout:    20 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.StageTimeout, err = durationFromEnv("APP_STAGE_TIMEOUT", cfg.StageTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTimeout, err = durationFromEnv("LLM_TIMEOUT", cfg.LLMTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DLPTimeout, err = durationFromEnv("DLP_TIMEOUT", cfg.DLPTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EmbeddingDim, err = intFromEnv("EMBEDDING_DIM", cfg.EmbeddingDim)
	if err != nil {
		return Config{}, err
	}
	cfg.RedisDB, err = intFromEnv("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheMaxEntries, err = intFromEnv("SEMCACHE_MAX_ENTRIES", cfg.CacheMaxEntries)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheHitThreshold, err = floatFromEnv("SEMCACHE_HIT_THRESHOLD", cfg.CacheHitThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.RetrievalTopK, err = intFromEnv("RETRIEVAL_TOP_K", cfg.RetrievalTopK)
	if err != nil {
		return Config{}, err
	}
	cfg.RetrievalMinScore, err = floatFromEnv("RETRIEVAL_MIN_SCORE", cfg.RetrievalMinScore)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryReplayLimit, err = intFromEnv("HISTORY_REPLAY_LIMIT", cfg.HistoryReplayLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxMessageChars, err = intFromEnv("APP_MAX_MESSAGE_CHARS", cfg.MaxMessageChars)
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimitPerMin, err = intFromEnv("APP_RATE_LIMIT_PER_MIN", cfg.RateLimitPerMin)
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimitBurst, err = intFromEnv("APP_RATE_LIMIT_BURST", cfg.RateLimitBurst)
	if err != nil {
		return Config{}, err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.AuthMode)) {
	case "proxy", "token", "none":
	default:
		return Config{}, fmt.Errorf("AUTH_MODE must be one of proxy|token|none, got %q", cfg.AuthMode)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.StreamGuard)) {
	case "off", "redact":
	default:
		return Config{}, fmt.Errorf("STREAM_GUARD must be one of off|redact, got %q", cfg.StreamGuard)
	}
	if cfg.EmbeddingDim <= 0 {
		return Config{}, fmt.Errorf("EMBEDDING_DIM must be positive")
	}
	if cfg.MaxMessageChars <= 0 {
		return Config{}, fmt.Errorf("APP_MAX_MESSAGE_CHARS must be positive")
	}
	if cfg.RetrievalTopK <= 0 {
		return Config{}, fmt.Errorf("RETRIEVAL_TOP_K must be positive")
	}
	if cfg.CacheMaxEntries <= 0 {
		return Config{}, fmt.Errorf("SEMCACHE_MAX_ENTRIES must be positive")
	}
	if cfg.CacheHitThreshold <= 0 || cfg.CacheHitThreshold > 1 {
		return Config{}, fmt.Errorf("SEMCACHE_HIT_THRESHOLD must be in (0, 1]")
	}
	if cfg.RateLimitPerMin <= 0 {
		return Config{}, fmt.Errorf("APP_RATE_LIMIT_PER_MIN must be positive")
	}

	return cfg, nil
}

// parseTokenMap parses "token1:alice,token2:bob" into a token lookup map.
func parseTokenMap(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, identity, ok := strings.Cut(pair, ":")
		token = strings.TrimSpace(token)
		identity = strings.TrimSpace(identity)
		if !ok || token == "" || identity == "" {
			continue
		}
		out[token] = identity
	}
	return out
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}
