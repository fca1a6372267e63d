package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Backend persists non-secret config keys.
type Backend interface {
	Lookup(key string) (any, bool)
	Set(key string, val any) error
	Delete(key string) error
}

// SecretStore holds credentials and the API token, keyed by account name.
type SecretStore interface {
	Secret(account string) (string, bool)
	SetSecret(account, value string) error
}

// jsonFile is a flat JSON object on disk. Writes go to a temp file in the
// same directory and are renamed into place.
type jsonFile struct {
	mu   sync.Mutex
	path string
	perm os.FileMode
	data map[string]any
}

func openJSONFile(path string, perm os.FileMode) *jsonFile {
	f := &jsonFile{path: path, perm: perm, data: make(map[string]any)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "[WARN] could not read %s: %v. Using default values.\n", path, err)
		}
		return f
	}
	if err := json.Unmarshal(raw, &f.data); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse %s: %v. Using default values.\n", path, err)
		f.data = make(map[string]any)
	}
	return f
}

func (f *jsonFile) Lookup(key string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok
}

func (f *jsonFile) Set(key string, val any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = val
	return f.flush()
}

func (f *jsonFile) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; !ok {
		return nil
	}
	delete(f.data, key)
	return f.flush()
}

func (f *jsonFile) Secret(account string) (string, bool) {
	v, ok := f.Lookup(account)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func (f *jsonFile) SetSecret(account, value string) error {
	return f.Set(account, value)
}

func (f *jsonFile) flush() error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	out, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(f.perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
