package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Storage   StorageConfig
	Pipeline  PipelineConfig
	Replenish ReplenishConfig
	LLM       LLMConfig
	Blog      BlogConfig
	Brand     BrandConfig
	Image     ImageConfig
}

type ServerConfig struct {
	Port int
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	DataDir string
}

type PipelineConfig struct {
	DraftThreshold       int
	AutoPublishThreshold int
	MaxRetries           int
	RunTimeout           string
}

type ReplenishConfig struct {
	LowWater  int
	BatchSize int
}

type LLMConfig struct {
	BaseURL    string
	TextModel  string
	ImageModel string
	APIKey     string
}

type BlogConfig struct {
	BaseURL       string
	APIKey        string
	AdminPassword string
}

type BrandConfig struct {
	// ProfilePath is a YAML brand profile. Empty means the built-in one.
	ProfilePath string
}

type ImageConfig struct {
	Width  int
	Height int
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4100},
		Log:     LogConfig{Level: "info"},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Pipeline: PipelineConfig{
			DraftThreshold:       70,
			AutoPublishThreshold: 85,
			MaxRetries:           2,
			RunTimeout:           "5m",
		},
		Replenish: ReplenishConfig{
			LowWater:  6,
			BatchSize: 15,
		},
		LLM: LLMConfig{
			BaseURL:    "https://api.openai.com/v1",
			TextModel:  "gpt-4o",
			ImageModel: "dall-e-3",
		},
		Blog: BlogConfig{
			BaseURL: "https://blog.example.com",
		},
		Image: ImageConfig{Width: 1600, Height: 900},
	}
}

// Load builds the configuration from defaults, the JSON config file at
// $XDG_CONFIG_HOME/blogpilot/config.json, BLOGPILOT_* environment variables
// and finally the secrets file for credentials the environment left unset.
// Credentials are not required here; see RequireCredentials.
func Load() (Config, error) {
	return loadWith(platformBackend(), platformSecrets())
}

func loadWith(b Backend, secrets SecretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, secrets)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field constraints.
func (c Config) Validate() error {
	var problems []string
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	p := c.Pipeline
	if p.DraftThreshold < 0 || p.DraftThreshold > 100 {
		problems = append(problems, fmt.Sprintf("pipeline.draft_threshold %d not in [0,100]", p.DraftThreshold))
	}
	if p.AutoPublishThreshold < 0 || p.AutoPublishThreshold > 100 {
		problems = append(problems, fmt.Sprintf("pipeline.auto_publish_threshold %d not in [0,100]", p.AutoPublishThreshold))
	}
	if p.AutoPublishThreshold < p.DraftThreshold {
		problems = append(problems, fmt.Sprintf("pipeline.auto_publish_threshold %d is below pipeline.draft_threshold %d",
			p.AutoPublishThreshold, p.DraftThreshold))
	}
	if p.MaxRetries < 0 {
		problems = append(problems, "pipeline.max_retries must not be negative")
	}
	if d, err := time.ParseDuration(p.RunTimeout); err != nil || d <= 0 {
		problems = append(problems, fmt.Sprintf("pipeline.run_timeout %q is not a positive duration", p.RunTimeout))
	}
	if c.Replenish.LowWater <= 0 || c.Replenish.BatchSize <= 0 {
		problems = append(problems, "replenish.low_water and replenish.batch_size must be positive")
	}
	if c.Image.Width <= 0 || c.Image.Height <= 0 {
		problems = append(problems, "image.width and image.height must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RunTimeoutDuration returns pipeline.run_timeout parsed. Validate has
// already rejected unparseable values.
func (c Config) RunTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Pipeline.RunTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// RequireCredentials reports every credential the server needs that is
// still unset.
func RequireCredentials(cfg Config) error {
	var missing []string
	for _, s := range specs {
		if s.secret && s.extract(cfg) == "" {
			missing = append(missing, fmt.Sprintf("%s (env %s)", s.key, s.env))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("missing required config: %s. Set via environment variables%s",
		strings.Join(missing, ", "), secretHint())
}
