package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"legalguardian/internal/domain"
	"legalguardian/internal/usecase"
)

// Config is the full runtime configuration. Keys are snake_case and map to
// upper-case environment variables of the same name.
type Config struct {
	MaxHistory        int     `mapstructure:"max_history"`
	MaxChunks         int     `mapstructure:"max_chunks"`
	TopK              int     `mapstructure:"top_k"`
	MaxTokens         int     `mapstructure:"max_tokens"`
	Temperature       float64 `mapstructure:"temperature"`
	TopP              float64 `mapstructure:"top_p"`
	DoSample          bool    `mapstructure:"do_sample"`
	MaxQuestionLength int     `mapstructure:"max_question_length"`
	QueryExpansion    bool    `mapstructure:"query_expansion"`

	IndexPath       string `mapstructure:"index_path"`
	HeuristicsPath  string `mapstructure:"heuristics_path"`
	WatchHeuristics bool   `mapstructure:"watch_heuristics"`

	EmbeddingURL     string        `mapstructure:"embedding_url"`
	EmbeddingModel   string        `mapstructure:"embedding_model"`
	EmbeddingTimeout time.Duration `mapstructure:"embedding_timeout"`
	QueryPrefix      string        `mapstructure:"query_prefix"`

	LLMBaseURL string        `mapstructure:"llm_base_url"`
	LLMModel   string        `mapstructure:"llm_model"`
	LLMAPIKey  string        `mapstructure:"llm_api_key"`
	LLMTimeout time.Duration `mapstructure:"llm_timeout"`

	TelegramToken       string        `mapstructure:"telegram_token"`
	TelegramPollTimeout time.Duration `mapstructure:"telegram_poll_timeout"`

	ParamPrefix   string `mapstructure:"param_prefix"`
	StateTable    string `mapstructure:"state_table"`
	TranscriptTTL int    `mapstructure:"transcript_ttl_days"`
	HTTPAddr      string `mapstructure:"http_addr"`
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
}

var defaults = map[string]any{
	"max_history":         8,
	"max_chunks":          5,
	"top_k":               5,
	"max_tokens":          1024,
	"temperature":         0.7,
	"top_p":               0.9,
	"do_sample":           true,
	"max_question_length": 4000,
	"query_expansion":     true,

	"index_path":       "data/legal_index.db",
	"heuristics_path":  "",
	"watch_heuristics": false,

	"embedding_url":     "http://localhost:11434",
	"embedding_model":   "jeffh/intfloat-multilingual-e5-large:f16",
	"embedding_timeout": "30s",
	"query_prefix":      "query: ",

	"llm_base_url": "http://localhost:11434/v1",
	"llm_model":    "saiga_mistral_7b",
	"llm_api_key":  "",
	"llm_timeout":  "120s",

	"telegram_token":        "",
	"telegram_poll_timeout": "30s",

	"param_prefix":        "",
	"state_table":         "",
	"transcript_ttl_days": 30,
	"http_addr":           ":8080",
	"log_level":           "info",
	"log_format":          "text",
}

// Keys returns every known configuration key.
func Keys() []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	return keys
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file into v and decodes the result.
// A missing file is an error only when it was named explicitly.
func Load(v *viper.Viper, file string) (Config, error) {
	if file = strings.TrimSpace(file); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", file, err)
		}
	}
	return Decode(v)
}

// Decode unmarshals the current state of v.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// Overlay sets the known keys found in params on v and returns the keys
// applied. Unknown keys are ignored.
func Overlay(v *viper.Viper, params map[string]string) []string {
	var applied []string
	for k, val := range params {
		key := strings.ToLower(strings.TrimSpace(k))
		if _, ok := defaults[key]; !ok {
			continue
		}
		v.Set(key, val)
		applied = append(applied, key)
	}
	return applied
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	positive := map[string]int{
		"max_history":         c.MaxHistory,
		"max_chunks":          c.MaxChunks,
		"top_k":               c.TopK,
		"max_tokens":          c.MaxTokens,
		"max_question_length": c.MaxQuestionLength,
	}
	for _, k := range []string{"max_history", "max_chunks", "top_k", "max_tokens", "max_question_length"} {
		if positive[k] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", k, positive[k]))
		}
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature must be within [0, 2], got %g", c.Temperature))
	}
	if c.TopP <= 0 || c.TopP > 1 {
		errs = append(errs, fmt.Errorf("top_p must be within (0, 1], got %g", c.TopP))
	}
	required := map[string]string{
		"index_path":      c.IndexPath,
		"embedding_url":   c.EmbeddingURL,
		"embedding_model": c.EmbeddingModel,
		"llm_base_url":    c.LLMBaseURL,
		"llm_model":       c.LLMModel,
	}
	for _, k := range []string{"index_path", "embedding_url", "embedding_model", "llm_base_url", "llm_model"} {
		if strings.TrimSpace(required[k]) == "" {
			errs = append(errs, fmt.Errorf("%s is required", k))
		}
	}
	if c.WatchHeuristics && strings.TrimSpace(c.HeuristicsPath) == "" {
		errs = append(errs, errors.New("watch_heuristics requires heuristics_path"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}

// Sampling returns the generation settings.
func (c Config) Sampling() domain.SamplingParams {
	return domain.SamplingParams{
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		TopP:        c.TopP,
		DoSample:    c.DoSample,
	}
}

// Pipeline returns the answering pipeline settings.
func (c Config) Pipeline() usecase.Config {
	return usecase.Config{
		MaxChunks:         c.MaxChunks,
		TopK:              c.TopK,
		MaxQuestionLength: c.MaxQuestionLength,
		QueryExpansion:    c.QueryExpansion,
		Sampling:          c.Sampling(),
	}
}

// TranscriptRetention converts TranscriptTTL days into a duration.
func (c Config) TranscriptRetention() time.Duration {
	return time.Duration(c.TranscriptTTL) * 24 * time.Hour
}
