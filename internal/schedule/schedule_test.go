package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	kv   map[string]string
	fail error
}

func newMemStore() *memStore { return &memStore{kv: map[string]string{}} }

func (m *memStore) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
	return nil
}

func (m *memStore) GetAllSettings(context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	out := make(map[string]string, len(m.kv))
	for k, v := range m.kv {
		out[k] = v
	}
	return out, nil
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func TestDefaults(t *testing.T) {
	d := Defaults()
	assert.True(t, d.Active)
	assert.Equal(t, []string{"06:00", "12:00", "18:00"}, d.RunTimes)
	assert.Equal(t, "UTC", d.Timezone)
	assert.NoError(t, d.Validate())
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		s    Settings
		msg  string
	}{
		{"no times", Settings{Timezone: "UTC"}, "between 1 and 5"},
		{"too many", Settings{RunTimes: []string{"01:00", "02:00", "03:00", "04:00", "05:00", "06:00"}, Timezone: "UTC"}, "between 1 and 5"},
		{"bad format", Settings{RunTimes: []string{"6:00"}, Timezone: "UTC"}, "invalid run time"},
		{"hour 24", Settings{RunTimes: []string{"24:00"}, Timezone: "UTC"}, "invalid run time"},
		{"duplicate", Settings{RunTimes: []string{"06:00", "06:00"}, Timezone: "UTC"}, "duplicate"},
		{"bad tz", Settings{RunTimes: []string{"06:00"}, Timezone: "Mars/Olympus"}, "invalid timezone"},
		{"empty tz", Settings{RunTimes: []string{"06:00"}}, "timezone is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorContains(t, tc.s.Validate(), tc.msg)
		})
	}
	assert.NoError(t, Settings{RunTimes: []string{"23:59", "00:00"}, Timezone: "America/New_York"}.Validate())
}

func TestManagerLoadDefaultsWhenEmpty(t *testing.T) {
	m := NewManager(newMemStore())
	s, err := m.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Defaults(), s)
}

func TestManagerSaveAndLoad(t *testing.T) {
	store := newMemStore()
	m := NewManager(store)
	ctx := context.Background()

	want := Settings{Active: false, RunTimes: []string{"07:30"}, Timezone: "Europe/Berlin"}
	require.NoError(t, m.Save(ctx, want))
	assert.Equal(t, "false", store.kv[KeyActive])
	assert.Equal(t, `["07:30"]`, store.kv[KeyRunTimes])

	got, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestManagerSaveRejectsInvalid(t *testing.T) {
	store := newMemStore()
	err := NewManager(store).Save(context.Background(), Settings{RunTimes: []string{"nope"}, Timezone: "UTC"})
	assert.Error(t, err)
	assert.Empty(t, store.kv)
}

func TestManagerLoadIgnoresMalformed(t *testing.T) {
	store := newMemStore()
	store.kv[KeyActive] = "maybe"
	store.kv[KeyRunTimes] = "not json"
	s, err := NewManager(store).Load(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Active)
	assert.Equal(t, Defaults().RunTimes, s.RunTimes)
}

func TestManagerLoadError(t *testing.T) {
	store := newMemStore()
	store.fail = errors.New("disk gone")
	_, err := NewManager(store).Load(context.Background())
	assert.ErrorContains(t, err, "disk gone")
}

func TestManagerUpdate(t *testing.T) {
	m := NewManager(newMemStore())
	paused := false
	s, err := m.Update(context.Background(), Patch{Active: &paused})
	require.NoError(t, err)
	assert.False(t, s.Active)
	assert.Equal(t, Defaults().RunTimes, s.RunTimes)

	bad := "Nowhere/Land"
	_, err = m.Update(context.Background(), Patch{Timezone: &bad})
	assert.Error(t, err)
}

func TestEvaluate(t *testing.T) {
	s := Settings{Active: true, RunTimes: []string{"06:00", "12:00"}, Timezone: "UTC"}

	d := Evaluate(s, time.Date(2025, 5, 1, 6, 17, 0, 0, time.UTC))
	assert.Equal(t, ActionRun, d.Action)

	d = Evaluate(s, time.Date(2025, 5, 1, 7, 0, 0, 0, time.UTC))
	assert.Equal(t, ActionSkip, d.Action)
	assert.NotEmpty(t, d.Reason)

	s.Active = false
	d = Evaluate(s, time.Date(2025, 5, 1, 6, 0, 0, 0, time.UTC))
	assert.Equal(t, ActionPaused, d.Action)
}

func TestEvaluateUsesTimezone(t *testing.T) {
	s := Settings{Active: true, RunTimes: []string{"06:00"}, Timezone: "America/New_York"}
	// 10:00 UTC is 06:00 in New York during daylight time.
	d := Evaluate(s, time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))
	assert.Equal(t, ActionRun, d.Action)
	assert.Equal(t, 6, d.LocalTime.Hour())
}

func TestEvaluateInvalidTimezoneFallsBackToUTC(t *testing.T) {
	s := Settings{Active: true, RunTimes: []string{"06:00"}, Timezone: "Not/AZone"}
	d := Evaluate(s, time.Date(2025, 7, 1, 6, 30, 0, 0, time.UTC))
	assert.Equal(t, ActionRun, d.Action)
	assert.Equal(t, time.UTC, d.LocalTime.Location())
}

func TestNextRuns(t *testing.T) {
	s := Settings{Active: true, RunTimes: []string{"18:00", "06:00", "12:00"}, Timezone: "UTC"}
	now := time.Date(2025, 5, 1, 12, 30, 0, 0, time.UTC)

	got := NextRuns(s, now, 3)
	require.Len(t, got, 3)
	assert.Equal(t, time.Date(2025, 5, 1, 18, 0, 0, 0, time.UTC), got[0])
	assert.Equal(t, time.Date(2025, 5, 2, 6, 0, 0, 0, time.UTC), got[1])
	assert.Equal(t, time.Date(2025, 5, 2, 12, 0, 0, 0, time.UTC), got[2])

	s.Active = false
	assert.Empty(t, NextRuns(s, now, 3))
}

func TestRunnerTick(t *testing.T) {
	store := newMemStore()
	m := NewManager(store)
	clock := &fixedClock{now: time.Date(2025, 5, 1, 5, 59, 0, 0, time.UTC)}
	runs := 0
	r := NewRunnerWithClock(m, func(context.Context) { runs++ }, clock, time.Millisecond)
	ctx := context.Background()

	assert.False(t, r.Tick(ctx), "05:59 is not a run time")

	clock.set(time.Date(2025, 5, 1, 6, 0, 10, 0, time.UTC))
	assert.True(t, r.Tick(ctx))
	clock.set(time.Date(2025, 5, 1, 6, 0, 40, 0, time.UTC))
	assert.False(t, r.Tick(ctx), "same slot fires once")
	assert.Equal(t, 1, runs)

	clock.set(time.Date(2025, 5, 2, 6, 0, 0, 0, time.UTC))
	assert.True(t, r.Tick(ctx), "next day fires again")
	assert.Equal(t, 2, runs)
}

func TestRunnerTickPaused(t *testing.T) {
	store := newMemStore()
	m := NewManager(store)
	require.NoError(t, m.Save(context.Background(), Settings{Active: false, RunTimes: []string{"06:00"}, Timezone: "UTC"}))

	clock := &fixedClock{now: time.Date(2025, 5, 1, 6, 0, 0, 0, time.UTC)}
	runs := 0
	r := NewRunnerWithClock(m, func(context.Context) { runs++ }, clock, 0)
	assert.False(t, r.Tick(context.Background()))
	assert.Zero(t, runs)
}

func TestRunnerRunStopsOnCancel(t *testing.T) {
	clock := &fixedClock{now: time.Date(2025, 5, 1, 3, 0, 0, 0, time.UTC)}
	r := NewRunnerWithClock(NewManager(newMemStore()), func(context.Context) {}, clock, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
