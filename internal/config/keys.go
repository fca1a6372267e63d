package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
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
		key: "server.port", typ: kInt, env: "BLOGPILOT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "log.level", typ: kString, env: "BLOGPILOT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.data_dir", typ: kString, env: "BLOGPILOT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "pipeline.draft_threshold", typ: kInt, env: "BLOGPILOT_DRAFT_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.DraftThreshold = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.DraftThreshold },
	},
	{
		key: "pipeline.auto_publish_threshold", typ: kInt, env: "BLOGPILOT_AUTO_PUBLISH_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.AutoPublishThreshold = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.AutoPublishThreshold },
	},
	{
		key: "pipeline.max_retries", typ: kInt, env: "BLOGPILOT_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.MaxRetries },
	},
	{
		key: "pipeline.run_timeout", typ: kString, env: "BLOGPILOT_RUN_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.RunTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.RunTimeout },
	},
	{
		key: "replenish.low_water", typ: kInt, env: "BLOGPILOT_REPLENISH_LOW_WATER",
		apply:   func(cfg *Config, v any) { cfg.Replenish.LowWater = v.(int) },
		extract: func(cfg Config) any { return cfg.Replenish.LowWater },
	},
	{
		key: "replenish.batch_size", typ: kInt, env: "BLOGPILOT_REPLENISH_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Replenish.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Replenish.BatchSize },
	},
	{
		key: "llm.base_url", typ: kString, env: "BLOGPILOT_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.text_model", typ: kString, env: "BLOGPILOT_LLM_TEXT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.TextModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.TextModel },
	},
	{
		key: "llm.image_model", typ: kString, env: "BLOGPILOT_LLM_IMAGE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.ImageModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.ImageModel },
	},
	{
		key: "llm.api_key", typ: kString, env: "BLOGPILOT_LLM_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "blog.base_url", typ: kString, env: "BLOGPILOT_BLOG_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Blog.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Blog.BaseURL },
	},
	{
		key: "blog.api_key", typ: kString, env: "BLOGPILOT_BLOG_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Blog.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Blog.APIKey },
	},
	{
		key: "blog.admin_password", typ: kString, env: "BLOGPILOT_BLOG_ADMIN_PASSWORD",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Blog.AdminPassword = v.(string) },
		extract: func(cfg Config) any { return cfg.Blog.AdminPassword },
	},
	{
		key: "brand.profile_path", typ: kString, env: "BLOGPILOT_BRAND_PROFILE",
		apply:   func(cfg *Config, v any) { cfg.Brand.ProfilePath = v.(string) },
		extract: func(cfg Config) any { return cfg.Brand.ProfilePath },
	},
	{
		key: "image.width", typ: kInt, env: "BLOGPILOT_IMAGE_WIDTH",
		apply:   func(cfg *Config, v any) { cfg.Image.Width = v.(int) },
		extract: func(cfg Config) any { return cfg.Image.Width },
	},
	{
		key: "image.height", typ: kInt, env: "BLOGPILOT_IMAGE_HEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Image.Height = v.(int) },
		extract: func(cfg Config) any { return cfg.Image.Height },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parse converts a raw value from the config file, the environment or the
// CLI into the key's type. JSON numbers arrive as float64.
func (s keySpec) parse(raw any) (any, error) {
	switch s.typ {
	case kInt:
		switch v := raw.(type) {
		case int:
			return v, nil
		case float64:
			if v != math.Trunc(v) || v < math.MinInt32 || v > math.MaxInt32 {
				return nil, fmt.Errorf("%s: %v is not an integer", s.key, v)
			}
			return int(v), nil
		case string:
			i, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("%s: invalid integer %q", s.key, v)
			}
			return i, nil
		}
	case kString:
		switch v := raw.(type) {
		case string:
			return v, nil
		case float64, bool:
			return fmt.Sprint(v), nil
		}
	}
	return nil, fmt.Errorf("%s: unsupported value %v", s.key, raw)
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok := b.Lookup(s.key)
		if !ok {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] ignoring %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

// applySecrets fills credentials left empty by the environment from the
// secret store. Accounts are the key with dots replaced, so "llm.api_key"
// is stored as "llm_api_key".
func applySecrets(cfg *Config, store SecretStore) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		if v, ok := store.Secret(secretAccount(s.key)); ok {
			s.apply(cfg, v)
		}
	}
}

func secretAccount(key string) string {
	return strings.ReplaceAll(key, ".", "_")
}
