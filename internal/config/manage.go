package config

import (
	"fmt"
	"os"
)

// KeyInfo describes a config key for display.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
	// FromEnv is set when the environment overrides the stored value.
	FromEnv bool
}

// ShowAll lists every non-secret key with its effective value.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		result = append(result, KeyInfo{
			Key:     s.key,
			EnvVar:  s.env,
			Value:   fmt.Sprintf("%v", s.extract(cfg)),
			FromEnv: os.Getenv(s.env) != "",
		})
	}
	return result
}

// SetKey stores a non-secret key in the config file.
func SetKey(key, value string) error {
	return setKeyWith(platformBackend(), key, value)
}

// UnsetKey removes a key from the config file so its default applies again.
func UnsetKey(key string) error {
	return unsetKeyWith(platformBackend(), key)
}

func setKeyWith(b Backend, key, value string) error {
	s, err := writableSpec(key)
	if err != nil {
		return err
	}
	v, err := s.parse(value)
	if err != nil {
		return err
	}

	// Reject values that would stop the server from starting.
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return err
	}
	s.apply(&cfg, v)
	if err := cfg.Validate(); err != nil {
		return err
	}
	return b.Set(key, v)
}

func unsetKeyWith(b Backend, key string) error {
	if _, err := writableSpec(key); err != nil {
		return err
	}
	return b.Delete(key)
}

func writableSpec(key string) (keySpec, error) {
	s, ok := lookupSpec(key)
	if !ok {
		return keySpec{}, fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return keySpec{}, fmt.Errorf("cannot set secret %q via config; use environment variable %s%s", key, s.env, secretHint())
	}
	return s, nil
}

// ValidKeys returns the non-secret config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
