package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

const (
	apiTokenEnv     = "BLOGPILOT_API_TOKEN"
	apiTokenAccount = "api_token"
)

// APIToken returns the bearer token guarding the management API: the
// BLOGPILOT_API_TOKEN variable, else the secrets file, else a freshly
// generated token that is saved there.
func APIToken() (string, error) {
	return apiTokenFrom(platformSecrets())
}

// LookupAPIToken returns the token without generating one.
func LookupAPIToken() string {
	if v := os.Getenv(apiTokenEnv); v != "" {
		return v
	}
	v, _ := platformSecrets().Secret(apiTokenAccount)
	return v
}

func apiTokenFrom(store SecretStore) (string, error) {
	if v := os.Getenv(apiTokenEnv); v != "" {
		return v, nil
	}
	if v, ok := store.Secret(apiTokenAccount); ok {
		return v, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api token: %w", err)
	}
	token := hex.EncodeToString(buf)
	if err := store.SetSecret(apiTokenAccount, token); err != nil {
		return "", fmt.Errorf("saving api token: %w", err)
	}
	return token, nil
}
