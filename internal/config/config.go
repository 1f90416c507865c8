package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vvou01/interview-pilot/internal/llm"
)

// EnvPrefix is the namespace prefix for all Interview Pilot environment
// variables.
const EnvPrefix = "COACH_PILOT_"

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	DBPath                string `yaml:"db_path"`
	ListenAddr            string `yaml:"listen_addr"`
	BackendURL            string `yaml:"backend_url"`
	MicSampleRate         int    `yaml:"mic_sample_rate"`
	LLMModel              string `yaml:"llm_model"`
	TranscriptPoll        string `yaml:"transcript_poll"`
	SuggestionPoll        string `yaml:"suggestion_poll"`
	StatusPoll            string `yaml:"status_poll"`
	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`

	// Secrets, env vars only, never serialized to YAML.
	DeepgramAPIKey  string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
}

func defaults() Config {
	return Config{
		DBPath:                "data/interview-pilot.db",
		ListenAddr:            "127.0.0.1:8090",
		BackendURL:            "http://127.0.0.1:8090",
		MicSampleRate:         16000,
		LLMModel:              "openai/gpt-4o-mini",
		TranscriptPoll:        "3s",
		SuggestionPoll:        "2s",
		StatusPoll:            "5s",
		GoogleCredentialsFile: "./service-account.json",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedTranscriptPoll returns TranscriptPoll as a time.Duration, falling
// back to 3s if the value is invalid.
func (c *Config) ParsedTranscriptPoll() time.Duration {
	return parseDurationOr(c.TranscriptPoll, 3*time.Second)
}

// ParsedSuggestionPoll returns SuggestionPoll as a time.Duration, falling
// back to 2s if the value is invalid.
func (c *Config) ParsedSuggestionPoll() time.Duration {
	return parseDurationOr(c.SuggestionPoll, 2*time.Second)
}

// ParsedStatusPoll returns StatusPoll as a time.Duration, falling back to
// 5s if the value is invalid.
func (c *Config) ParsedStatusPoll() time.Duration {
	return parseDurationOr(c.StatusPoll, 5*time.Second)
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "BACKEND_URL"); v != "" {
		cfg.BackendURL = v
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATE"); v != "" {
		if rate, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && rate > 0 {
			cfg.MicSampleRate = rate
		}
	}
	if v := os.Getenv(EnvPrefix + "LLM_MODEL"); v != "" {
		cfg.LLMModel = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPT_POLL"); v != "" {
		cfg.TranscriptPoll = v
	}
	if v := os.Getenv(EnvPrefix + "SUGGESTION_POLL"); v != "" {
		cfg.SuggestionPoll = v
	}
	if v := os.Getenv(EnvPrefix + "STATUS_POLL"); v != "" {
		cfg.StatusPoll = v
	}
	if v := os.Getenv(EnvPrefix + "GDRIVE_FOLDER_ID"); v != "" {
		cfg.GDriveFolderID = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.GoogleCredentialsFile = v
	}
}

func loadSecrets(cfg *Config) {
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
}

// LLMAPIKey returns the secret for the given LLM provider, or "" for
// providers it has no key for.
func (c *Config) LLMAPIKey(provider string) string {
	switch provider {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return ""
	}
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.DeepgramAPIKey == "" {
		warnings = append(warnings, "Deepgram API key not configured, live transcription is disabled. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
	}
	provider, _, err := llm.ParseModel(cfg.LLMModel)
	switch {
	case err != nil:
		warnings = append(warnings, fmt.Sprintf("Invalid llm_model %q, expected provider/model_name.", cfg.LLMModel))
	case cfg.LLMAPIKey(provider) == "":
		warnings = append(warnings, fmt.Sprintf("LLM API key not configured, coaching and debriefs are disabled. Set %s%s_API_KEY.", EnvPrefix, strings.ToUpper(provider)))
	}
	for name, raw := range map[string]string{
		"transcript_poll": cfg.TranscriptPoll,
		"suggestion_poll": cfg.SuggestionPoll,
		"status_poll":     cfg.StatusPoll,
	} {
		if _, err := time.ParseDuration(raw); err != nil {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q, using the default.", name, raw))
		}
	}

	return warnings
}
