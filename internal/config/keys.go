package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "SUNDAY_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "SUNDAY_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SUNDAY_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "backend.url", typ: kString, env: "SUNDAY_BACKEND_URL",
		apply:   func(cfg *Config, v any) { cfg.Backend.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.URL },
	},
	{
		key: "backend.api_key", typ: kString, env: "SUNDAY_BACKEND_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Backend.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.APIKey },
	},
	{
		key: "relay.openai_api_key", typ: kString, env: "SUNDAY_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Relay.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Relay.OpenAIAPIKey },
	},
	{
		key: "relay.base_url", typ: kString, env: "SUNDAY_RELAY_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Relay.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Relay.BaseURL },
	},
	{
		key: "ai.model", typ: kString, env: "SUNDAY_AI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.AI.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.Model },
	},
	{
		key: "ai.image_model", typ: kString, env: "SUNDAY_AI_IMAGE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.AI.ImageModel = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.ImageModel },
	},
	{
		key: "ai.temperature", typ: kFloat, env: "SUNDAY_AI_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.AI.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.AI.Temperature },
	},
	{
		key: "ai.max_tokens", typ: kInt, env: "SUNDAY_AI_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.AI.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.AI.MaxTokens },
	},
	{
		key: "ai.top_p", typ: kFloat, env: "SUNDAY_AI_TOP_P",
		apply:   func(cfg *Config, v any) { cfg.AI.TopP = v.(float64) },
		extract: func(cfg Config) any { return cfg.AI.TopP },
	},
	{
		key: "ai.frequency_penalty", typ: kFloat, env: "SUNDAY_AI_FREQUENCY_PENALTY",
		apply:   func(cfg *Config, v any) { cfg.AI.FrequencyPenalty = v.(float64) },
		extract: func(cfg Config) any { return cfg.AI.FrequencyPenalty },
	},
	{
		key: "ai.presence_penalty", typ: kFloat, env: "SUNDAY_AI_PRESENCE_PENALTY",
		apply:   func(cfg *Config, v any) { cfg.AI.PresencePenalty = v.(float64) },
		extract: func(cfg Config) any { return cfg.AI.PresencePenalty },
	},
	{
		key: "ai.custom_prompt", typ: kString, env: "SUNDAY_AI_CUSTOM_PROMPT",
		apply:   func(cfg *Config, v any) { cfg.AI.CustomPrompt = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.CustomPrompt },
	},
	{
		key: "mail.max_results", typ: kInt, env: "SUNDAY_MAIL_MAX_RESULTS",
		apply:   func(cfg *Config, v any) { cfg.Mail.MaxResults = v.(int) },
		extract: func(cfg Config) any { return cfg.Mail.MaxResults },
	},
	{
		key: "mail.query", typ: kString, env: "SUNDAY_MAIL_QUERY",
		apply:   func(cfg *Config, v any) { cfg.Mail.Query = v.(string) },
		extract: func(cfg Config) any { return cfg.Mail.Query },
	},
	{
		key: "mail.context_tokens", typ: kInt, env: "SUNDAY_MAIL_CONTEXT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Mail.ContextTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Mail.ContextTokens },
	},
	{
		key: "log.level", typ: kString, env: "SUNDAY_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "user.id", typ: kString, env: "SUNDAY_USER_ID",
		apply:   func(cfg *Config, v any) { cfg.User.ID = v.(string) },
		extract: func(cfg Config) any { return cfg.User.ID },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
