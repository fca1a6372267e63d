// Package schedule decides when automated pipeline runs happen.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"
)

const (
	KeyActive   = "scheduler_active"
	KeyRunTimes = "scheduler_run_times"
	KeyTimezone = "scheduler_timezone"

	MaxRunTimes = 5
)

var runTimeRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Settings controls automated runs. It is read fresh on every evaluation.
type Settings struct {
	Active   bool     `json:"active"`
	RunTimes []string `json:"run_times"`
	Timezone string   `json:"timezone"`
}

// Defaults returns the settings used when nothing has been saved.
func Defaults() Settings {
	return Settings{
		Active:   true,
		RunTimes: []string{"06:00", "12:00", "18:00"},
		Timezone: "UTC",
	}
}

// Validate checks run times and the timezone name.
func (s Settings) Validate() error {
	if len(s.RunTimes) == 0 || len(s.RunTimes) > MaxRunTimes {
		return fmt.Errorf("run_times must have between 1 and %d entries", MaxRunTimes)
	}
	seen := make(map[string]bool, len(s.RunTimes))
	for _, rt := range s.RunTimes {
		if !runTimeRe.MatchString(rt) {
			return fmt.Errorf("invalid run time %q (use 24h HH:MM)", rt)
		}
		if seen[rt] {
			return fmt.Errorf("duplicate run time %q", rt)
		}
		seen[rt] = true
	}
	if s.Timezone == "" {
		return fmt.Errorf("timezone is required")
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q", s.Timezone)
	}
	return nil
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Active   *bool    `json:"active,omitempty"`
	RunTimes []string `json:"run_times,omitempty"`
	Timezone *string  `json:"timezone,omitempty"`
}

// Apply returns s with the patch's non-nil fields applied.
func (p Patch) Apply(s Settings) Settings {
	if p.Active != nil {
		s.Active = *p.Active
	}
	if p.RunTimes != nil {
		s.RunTimes = append([]string(nil), p.RunTimes...)
	}
	if p.Timezone != nil {
		s.Timezone = *p.Timezone
	}
	return s
}

// SettingsStore is the key/value persistence the Manager needs.
// Implemented by storage.Store.
type SettingsStore interface {
	SetSetting(ctx context.Context, key, value string) error
	GetAllSettings(ctx context.Context) (map[string]string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager loads and saves schedule settings.
type Manager struct {
	store  SettingsStore
	logger *slog.Logger
}

// NewManager creates a Manager backed by store.
func NewManager(store SettingsStore) *Manager {
	return &Manager{store: store, logger: slog.Default()}
}

// Load returns the stored settings. Missing or unreadable keys take their
// default value.
func (m *Manager) Load(ctx context.Context) (Settings, error) {
	kv, err := m.store.GetAllSettings(ctx)
	if err != nil {
		return Settings{}, fmt.Errorf("loading schedule settings: %w", err)
	}

	s := Defaults()
	if v, ok := kv[KeyActive]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			s.Active = b
		} else {
			m.logger.Warn("ignoring malformed schedule setting", "key", KeyActive, "value", v)
		}
	}
	if v, ok := kv[KeyRunTimes]; ok {
		var times []string
		if err := json.Unmarshal([]byte(v), &times); err == nil && len(times) > 0 {
			s.RunTimes = times
		} else {
			m.logger.Warn("ignoring malformed schedule setting", "key", KeyRunTimes, "value", v)
		}
	}
	if v, ok := kv[KeyTimezone]; ok && v != "" {
		s.Timezone = v
	}
	return s, nil
}

// Save validates and persists s.
func (m *Manager) Save(ctx context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	times, err := json.Marshal(s.RunTimes)
	if err != nil {
		return fmt.Errorf("encoding run times: %w", err)
	}
	if err := m.store.SetSetting(ctx, KeyActive, strconv.FormatBool(s.Active)); err != nil {
		return err
	}
	if err := m.store.SetSetting(ctx, KeyRunTimes, string(times)); err != nil {
		return err
	}
	return m.store.SetSetting(ctx, KeyTimezone, s.Timezone)
}

// Update applies p to the current settings, validates, and saves.
func (m *Manager) Update(ctx context.Context, p Patch) (Settings, error) {
	cur, err := m.Load(ctx)
	if err != nil {
		return Settings{}, err
	}
	next := p.Apply(cur)
	if err := m.Save(ctx, next); err != nil {
		return Settings{}, err
	}
	return next, nil
}
