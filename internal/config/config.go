package config

import (
	"strings"

	"github.com/kalambet/sunday/internal/chat"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Backend BackendConfig
	Relay   RelayConfig
	AI      AIConfig
	Mail    MailConfig
	Log     LogConfig
	User    UserConfig
}

type ServerConfig struct {
	Port  int
	Token string
}

type StorageConfig struct {
	DataDir string
}

// BackendConfig points at the completion backend turns are streamed from.
type BackendConfig struct {
	URL    string
	APIKey string
}

// RelayConfig configures the /api/chat endpoint served by sunday itself.
type RelayConfig struct {
	OpenAIAPIKey string
	BaseURL      string
}

type AIConfig struct {
	Model            string
	ImageModel       string
	Temperature      float64
	MaxTokens        int
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
	CustomPrompt     string
}

type MailConfig struct {
	MaxResults    int
	Query         string
	ContextTokens int
}

type LogConfig struct {
	Level string
}

// UserConfig names the user for requests that do not identify one.
type UserConfig struct {
	ID string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Backend: BackendConfig{
			URL: "http://localhost:4100/api/chat",
		},
		Relay: RelayConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		AI: AIConfig{
			Model:       "gpt-4o-mini",
			ImageModel:  "gpt-4o",
			Temperature: 0.5,
			MaxTokens:   1000,
			TopP:        1,
		},
		Mail: MailConfig{
			MaxResults:    500,
			ContextTokens: 6000,
		},
		Log: LogConfig{
			Level: "info",
		},
		User: UserConfig{
			ID: "local",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.sunday.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/sunday/config.json
// and secrets fall back to $XDG_DATA_HOME/sunday/secrets.json.
//
// Environment variables (SUNDAY_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Secrets not set in the environment may live in the platform keychain.
	if cfg.Backend.APIKey == "" {
		if key, err := kc.Get("sunday", "backend_api_key"); err == nil && key != "" {
			cfg.Backend.APIKey = key
		}
	}
	if cfg.Relay.OpenAIAPIKey == "" {
		if key, err := kc.Get("sunday", "openai_api_key"); err == nil && key != "" {
			cfg.Relay.OpenAIAPIKey = key
		}
	}

	return cfg, nil
}

// RelayEnabled reports whether the /api/chat relay has an upstream key.
func (c Config) RelayEnabled() bool {
	return c.Relay.OpenAIAPIKey != ""
}

// ChatAI projects the generation parameters into the snapshot passed with
// every turn.
func (c Config) ChatAI() chat.AIConfig {
	return chat.AIConfig{
		Model:            c.AI.Model,
		ImageModel:       c.AI.ImageModel,
		Temperature:      c.AI.Temperature,
		MaxTokens:        c.AI.MaxTokens,
		TopP:             c.AI.TopP,
		FrequencyPenalty: c.AI.FrequencyPenalty,
		PresencePenalty:  c.AI.PresencePenalty,
		CustomPrompt:     c.AI.CustomPrompt,
	}
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
