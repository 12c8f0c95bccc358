package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the counsel service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Stages    StagesConfig    `mapstructure:"stages"`
	Search    SearchConfig    `mapstructure:"search"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains LLM provider configuration
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // openai
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"` // default model when a stage pins none
	Timeout     time.Duration `mapstructure:"timeout"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
}

// PipelineConfig holds the orchestrator policy knobs. Answer templates are
// configuration, not code: operators localize the degraded/turn-limit wording.
type PipelineConfig struct {
	StageTimeout    time.Duration `mapstructure:"stage_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	MaxTurns        int           `mapstructure:"max_turns"`
	IdleTTL         time.Duration `mapstructure:"idle_ttl"`
	EventBuffer     int           `mapstructure:"event_buffer"`
	DegradedAnswer  string        `mapstructure:"degraded_answer"`
	TurnLimitAnswer string        `mapstructure:"turn_limit_answer"`
}

// StagesConfig maps stage name -> per-stage LLM settings (admin editable).
type StagesConfig struct {
	Facilitator StageConfig `mapstructure:"facilitator"`
	Search      StageConfig `mapstructure:"search"`
	Analyst     StageConfig `mapstructure:"analyst"`
	Response    StageConfig `mapstructure:"response"`
	Citation    StageConfig `mapstructure:"citation"`
	Validator   StageConfig `mapstructure:"validator"`
}

// StageConfig holds the injected LLM parameters for a single stage.
type StageConfig struct {
	Model            string  `mapstructure:"model" json:"model"`
	SystemPrompt     string  `mapstructure:"system_prompt" json:"systemPrompt"`
	Temperature      float64 `mapstructure:"temperature" json:"temperature"`
	MaxTokens        int     `mapstructure:"max_tokens" json:"maxTokens"`
	TopP             float64 `mapstructure:"top_p" json:"topP"`
	FrequencyPenalty float64 `mapstructure:"frequency_penalty" json:"frequencyPenalty"`
	PresencePenalty  float64 `mapstructure:"presence_penalty" json:"presencePenalty"`
}

// ByName returns the stage config for a stage name, false when unknown.
func (s StagesConfig) ByName(name string) (StageConfig, bool) {
	switch name {
	case "facilitator":
		return s.Facilitator, true
	case "search":
		return s.Search, true
	case "analyst":
		return s.Analyst, true
	case "response":
		return s.Response, true
	case "citation":
		return s.Citation, true
	case "validator":
		return s.Validator, true
	}
	return StageConfig{}, false
}

// SearchConfig contains retrieval settings for the search stage.
type SearchConfig struct {
	MaxResults      int           `mapstructure:"max_results"`
	MaxRounds       int           `mapstructure:"max_rounds"`
	Timeout         time.Duration `mapstructure:"timeout"`
	ExternalEnabled bool          `mapstructure:"external_enabled"`
	ExternalAPIKey  string        `mapstructure:"external_api_key"`
	ExternalBaseURL string        `mapstructure:"external_base_url"`
}

// StorageConfig contains persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DSN builds a postgres:// DSN from the configured fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig contains Redis connection settings (admin config store)
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
}

// Validate checks pipeline policy values are usable.
func (p PipelineConfig) Validate() error {
	if p.StageTimeout <= 0 {
		return fmt.Errorf("pipeline.stage_timeout must be > 0")
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("pipeline.max_retries must be >= 0")
	}
	if p.MaxTurns <= 0 {
		return fmt.Errorf("pipeline.max_turns must be > 0")
	}
	return nil
}

// LoadConfig reads configuration from file and environment (COUNSEL_*).
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	setDefaults()

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("COUNSEL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// config file is optional; env + defaults are a complete configuration
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	if err := cfg.Pipeline.Validate(); err != nil {
		panic(err)
	}
	return &cfg
}

func setDefaults() {
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "2m")
	viper.SetDefault("server.address", ":8001")

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4")
	viper.SetDefault("llm.timeout", "60s")
	viper.SetDefault("llm.temperature", 0.3)
	viper.SetDefault("llm.max_tokens", 1500)

	viper.SetDefault("pipeline.stage_timeout", "30s")
	viper.SetDefault("pipeline.max_retries", 3)
	viper.SetDefault("pipeline.retry_base_delay", "500ms")
	viper.SetDefault("pipeline.max_turns", 5)
	viper.SetDefault("pipeline.idle_ttl", "30m")
	viper.SetDefault("pipeline.event_buffer", 64)
	viper.SetDefault("pipeline.degraded_answer", DefaultDegradedAnswer)
	viper.SetDefault("pipeline.turn_limit_answer", DefaultTurnLimitAnswer)

	for name, sc := range DefaultStageConfigs() {
		prefix := "stages." + name + "."
		viper.SetDefault(prefix+"model", sc.Model)
		viper.SetDefault(prefix+"system_prompt", sc.SystemPrompt)
		viper.SetDefault(prefix+"temperature", sc.Temperature)
		viper.SetDefault(prefix+"max_tokens", sc.MaxTokens)
		viper.SetDefault(prefix+"top_p", sc.TopP)
		viper.SetDefault(prefix+"frequency_penalty", sc.FrequencyPenalty)
		viper.SetDefault(prefix+"presence_penalty", sc.PresencePenalty)
	}

	viper.SetDefault("search.max_results", 20)
	viper.SetDefault("search.max_rounds", 2)
	viper.SetDefault("search.timeout", "10s")
	viper.SetDefault("search.external_enabled", false)
	viper.SetDefault("search.external_base_url", "https://google.serper.dev/search")

	viper.SetDefault("storage.redis.db", 0)

	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.cost_tracking", true)
}
