package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// mockSecrets is an in-memory SecretStore.
type mockSecrets struct {
	values map[string]string
	err    error
}

func (m *mockSecrets) Secret(account string) (string, bool) {
	v, ok := m.values[account]
	return v, ok && v != ""
}

func (m *mockSecrets) SetSecret(account, value string) error {
	if m.err != nil {
		return m.err
	}
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[account] = value
	return nil
}

func writeTempConfig(t *testing.T, content string) *jsonFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return openJSONFile(path, 0o600)
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
	t.Setenv(apiTokenEnv, "")
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := loadWith(writeTempConfig(t, `{}`), &mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Pipeline.DraftThreshold != 70 || cfg.Pipeline.AutoPublishThreshold != 85 {
		t.Errorf("thresholds = %d/%d, want 70/85", cfg.Pipeline.DraftThreshold, cfg.Pipeline.AutoPublishThreshold)
	}
	if cfg.Pipeline.MaxRetries != 2 {
		t.Errorf("Pipeline.MaxRetries = %d, want 2", cfg.Pipeline.MaxRetries)
	}
	if got := cfg.RunTimeoutDuration().String(); got != "5m0s" {
		t.Errorf("RunTimeoutDuration = %s, want 5m0s", got)
	}
	if cfg.Replenish.LowWater != 6 || cfg.Replenish.BatchSize != 15 {
		t.Errorf("replenish = %d/%d, want 6/15", cfg.Replenish.LowWater, cfg.Replenish.BatchSize)
	}
	if cfg.LLM.TextModel != "gpt-4o" || cfg.LLM.ImageModel != "dall-e-3" {
		t.Errorf("LLM models = %q/%q", cfg.LLM.TextModel, cfg.LLM.ImageModel)
	}
	if cfg.Image.Width != 1600 || cfg.Image.Height != 900 {
		t.Errorf("Image = %dx%d, want 1600x900", cfg.Image.Width, cfg.Image.Height)
	}
	if cfg.LLM.APIKey != "" {
		t.Errorf("LLM.APIKey = %q, want empty", cfg.LLM.APIKey)
	}
}

// TestFileParsing verifies that fields are read from the JSON backend.
func TestFileParsing(t *testing.T) {
	clearEnv(t)
	b := writeTempConfig(t, `{
  "server.port": 5000,
  "storage.data_dir": "/tmp/blogpilot-test",
  "pipeline.draft_threshold": 60,
  "pipeline.auto_publish_threshold": "90",
  "pipeline.run_timeout": "90s",
  "llm.text_model": "gpt-4.1",
  "blog.base_url": "https://blog.test"
}`)

	cfg, err := loadWith(b, &mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/tmp/blogpilot-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Pipeline.DraftThreshold != 60 || cfg.Pipeline.AutoPublishThreshold != 90 {
		t.Errorf("thresholds = %d/%d", cfg.Pipeline.DraftThreshold, cfg.Pipeline.AutoPublishThreshold)
	}
	if cfg.RunTimeoutDuration().Seconds() != 90 {
		t.Errorf("RunTimeoutDuration = %s", cfg.RunTimeoutDuration())
	}
	if cfg.LLM.TextModel != "gpt-4.1" {
		t.Errorf("LLM.TextModel = %q", cfg.LLM.TextModel)
	}
	if cfg.Blog.BaseURL != "https://blog.test" {
		t.Errorf("Blog.BaseURL = %q", cfg.Blog.BaseURL)
	}
}

// TestEnvOverride verifies that environment variables override backend values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("BLOGPILOT_SERVER_PORT", "6000")
	t.Setenv("BLOGPILOT_LLM_API_KEY", "env-key")
	t.Setenv("BLOGPILOT_REPLENISH_BATCH_SIZE", "not-a-number")

	b := writeTempConfig(t, `{"server.port": 5000}`)
	kc := &mockSecrets{values: map[string]string{"llm_api_key": "stored-key"}}
	cfg, err := loadWith(b, kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("LLM.APIKey = %q, want env-key", cfg.LLM.APIKey)
	}
	if cfg.Replenish.BatchSize != 15 {
		t.Errorf("Replenish.BatchSize = %d, want default on parse failure", cfg.Replenish.BatchSize)
	}
}

// TestSecretStoreFallback verifies secrets are read when not in env.
func TestSecretStoreFallback(t *testing.T) {
	clearEnv(t)
	kc := &mockSecrets{values: map[string]string{
		"llm_api_key":         "llm-secret",
		"blog_api_key":        "blog-secret",
		"blog_admin_password": "admin-secret",
	}}
	cfg, err := loadWith(writeTempConfig(t, `{}`), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "llm-secret" || cfg.Blog.APIKey != "blog-secret" || cfg.Blog.AdminPassword != "admin-secret" {
		t.Errorf("secrets not applied: %+v %+v", cfg.LLM, cfg.Blog)
	}
	if err := RequireCredentials(cfg); err != nil {
		t.Errorf("RequireCredentials: %v", err)
	}
}

// TestSecretsIgnoredInFile verifies secrets in the plain config file are not read.
func TestSecretsIgnoredInFile(t *testing.T) {
	clearEnv(t)
	cfg, err := loadWith(writeTempConfig(t, `{"llm.api_key": "leaked"}`), &mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "" {
		t.Errorf("LLM.APIKey = %q, want empty", cfg.LLM.APIKey)
	}
}

// TestRequireCredentials verifies a clear error naming each missing credential.
func TestRequireCredentials(t *testing.T) {
	cfg := defaults()
	cfg.Blog.APIKey = "set"

	err := RequireCredentials(cfg)
	if err == nil {
		t.Fatal("expected error for missing credentials, got nil")
	}
	msg := err.Error()
	for _, want := range []string{"missing required config", "BLOGPILOT_LLM_API_KEY", "BLOGPILOT_BLOG_ADMIN_PASSWORD"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error = %q, want it to contain %q", msg, want)
		}
	}
	if strings.Contains(msg, "BLOGPILOT_BLOG_API_KEY") {
		t.Errorf("error = %q names a credential that is set", msg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"auto publish below draft", func(c *Config) { c.Pipeline.AutoPublishThreshold = 60 }, "below pipeline.draft_threshold"},
		{"threshold above 100", func(c *Config) { c.Pipeline.DraftThreshold = 101; c.Pipeline.AutoPublishThreshold = 101 }, "not in [0,100]"},
		{"negative retries", func(c *Config) { c.Pipeline.MaxRetries = -1 }, "max_retries"},
		{"bad timeout", func(c *Config) { c.Pipeline.RunTimeout = "soon" }, "run_timeout"},
		{"zero batch", func(c *Config) { c.Replenish.BatchSize = 0 }, "replenish"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}

	cfg := defaults()
	cfg.Pipeline.DraftThreshold = 80
	cfg.Pipeline.AutoPublishThreshold = 80
	if err := cfg.Validate(); err != nil {
		t.Errorf("equal thresholds should be valid: %v", err)
	}
}

func TestLoadRejectsInvalidThresholds(t *testing.T) {
	clearEnv(t)
	t.Setenv("BLOGPILOT_AUTO_PUBLISH_THRESHOLD", "50")
	if _, err := loadWith(writeTempConfig(t, `{}`), &mockSecrets{}); err == nil {
		t.Fatal("expected error when auto publish threshold is below draft threshold")
	}
}

func TestSetKeyAndShowAll(t *testing.T) {
	clearEnv(t)
	b := writeTempConfig(t, `{}`)

	if err := setKeyWith(b, "pipeline.draft_threshold", "65"); err != nil {
		t.Fatalf("setKeyWith: %v", err)
	}
	if err := setKeyWith(b, "llm.text_model", "gpt-4o-mini"); err != nil {
		t.Fatalf("setKeyWith: %v", err)
	}
	if err := setKeyWith(b, "pipeline.draft_threshold", "abc"); err == nil {
		t.Error("expected error for non-integer value")
	}
	if err := setKeyWith(b, "llm.api_key", "x"); err == nil {
		t.Error("expected error setting a secret")
	}
	if err := setKeyWith(b, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
	if err := setKeyWith(b, "pipeline.seo_checklist_size", "10"); err == nil {
		t.Error("expected error: the checklist size follows the Editor, not config")
	}

	// Reload from disk to check persistence.
	cfg, err := loadWith(openJSONFile(b.path, 0o600), &mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	shown := map[string]string{}
	for _, ki := range ShowAll(cfg) {
		shown[ki.Key] = ki.Value
	}
	if shown["pipeline.draft_threshold"] != "65" {
		t.Errorf("draft_threshold = %q, want 65", shown["pipeline.draft_threshold"])
	}
	if shown["llm.text_model"] != "gpt-4o-mini" {
		t.Errorf("text_model = %q", shown["llm.text_model"])
	}
	if _, ok := shown["llm.api_key"]; ok {
		t.Error("ShowAll must not list secrets")
	}
	for _, k := range ValidKeys() {
		if strings.HasSuffix(k, "api_key") || strings.HasSuffix(k, "password") {
			t.Errorf("ValidKeys lists secret %q", k)
		}
	}
}

func TestAPIToken(t *testing.T) {
	clearEnv(t)

	store := &mockSecrets{}
	token, err := apiTokenFrom(store)
	if err != nil {
		t.Fatalf("apiTokenFrom: %v", err)
	}
	if len(token) != 64 || store.values[apiTokenAccount] != token {
		t.Errorf("token = %q (saved %q), want 64 hex chars persisted", token, store.values[apiTokenAccount])
	}

	again, err := apiTokenFrom(store)
	if err != nil || again != token {
		t.Errorf("second call = %q, %v; want the stored token", again, err)
	}

	t.Setenv(apiTokenEnv, "from-env")
	if token, _ := apiTokenFrom(store); token != "from-env" {
		t.Errorf("token = %q, want from-env", token)
	}
}

func TestAPITokenSaveFailure(t *testing.T) {
	clearEnv(t)
	_, err := apiTokenFrom(&mockSecrets{err: errors.New("read-only")})
	if err == nil || !strings.Contains(err.Error(), "saving api token") {
		t.Errorf("err = %v, want save failure", err)
	}
}

func TestUnsetKey(t *testing.T) {
	clearEnv(t)
	b := writeTempConfig(t, `{"llm.text_model": "gpt-4.1"}`)

	if err := unsetKeyWith(b, "llm.text_model"); err != nil {
		t.Fatalf("unsetKeyWith: %v", err)
	}
	cfg, err := loadWith(openJSONFile(b.path, 0o600), &mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.TextModel != "gpt-4o" {
		t.Errorf("LLM.TextModel = %q, want default after unset", cfg.LLM.TextModel)
	}
	if err := unsetKeyWith(b, "blog.api_key"); err == nil {
		t.Error("expected error unsetting a secret")
	}
}

func TestSetKeyRejectsInvalidCombination(t *testing.T) {
	clearEnv(t)
	b := writeTempConfig(t, `{}`)

	if err := setKeyWith(b, "pipeline.auto_publish_threshold", "50"); err == nil {
		t.Fatal("expected error for auto publish threshold below draft threshold")
	}
	if _, ok := b.Lookup("pipeline.auto_publish_threshold"); ok {
		t.Error("rejected value must not be stored")
	}
}

func TestJSONFileWritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "secrets.json")
	f := openJSONFile(path, 0o600)

	if err := f.SetSecret("llm_api_key", "sk-1"); err != nil {
		t.Fatalf("SetSecret: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("found %d files, want only the target (no temp leftovers)", len(entries))
	}

	reopened := openJSONFile(path, 0o600)
	if v, ok := reopened.Secret("llm_api_key"); !ok || v != "sk-1" {
		t.Errorf("Secret = %q, %v", v, ok)
	}
	if _, ok := reopened.Secret("missing"); ok {
		t.Error("missing account reported present")
	}
}

func TestParseValues(t *testing.T) {
	port, _ := lookupSpec("server.port")
	tests := []struct {
		raw     any
		want    any
		wantErr bool
	}{
		{float64(5000), 5000, false},
		{" 42 ", 42, false},
		{1.5, nil, true},
		{"abc", nil, true},
		{true, nil, true},
	}
	for _, tt := range tests {
		got, err := port.parse(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("parse(%v) err = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parse(%v) = %v, want %v", tt.raw, got, tt.want)
		}
	}

	model, _ := lookupSpec("llm.text_model")
	if v, err := model.parse("gpt-4o"); err != nil || v != "gpt-4o" {
		t.Errorf("string parse = %v, %v", v, err)
	}
}
