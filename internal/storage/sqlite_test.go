package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// stepClock returns a clock that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}

func addTopic(t *testing.T, s *Store, topic string) QueueItem {
	t.Helper()
	item, err := s.AddQueueItem(context.Background(), QueueItem{Topic: topic})
	if err != nil {
		t.Fatalf("AddQueueItem(%q): %v", topic, err)
	}
	return item
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) == 0 || len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("012_add_things.sql")
	if err != nil {
		t.Fatalf("parseMigrationVersion: %v", err)
	}
	if v != 12 {
		t.Errorf("version = %d, want 12", v)
	}
	if _, err := parseMigrationVersion("init.sql"); err == nil {
		t.Error("expected error for filename without version prefix")
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_queue_items_status_created", "idx_automation_logs_created", "idx_automation_logs_queue"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestAddAndGetQueueItem(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	added, err := s.AddQueueItem(ctx, QueueItem{
		Topic:          "Morning rituals",
		FocusKeyphrase: "slow mornings",
		Keywords:       []string{"ritual", "calm"},
		Status:         StatusPublished, // ignored: new items are always pending
	})
	if err != nil {
		t.Fatalf("AddQueueItem: %v", err)
	}
	if added.ID == "" {
		t.Fatal("expected generated ID")
	}

	got, err := s.GetQueueItem(ctx, added.ID)
	if err != nil {
		t.Fatalf("GetQueueItem: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, StatusPending)
	}
	if got.FocusKeyphrase != "slow mornings" {
		t.Errorf("FocusKeyphrase = %q, want %q", got.FocusKeyphrase, "slow mornings")
	}
	if len(got.Keywords) != 2 || got.Keywords[1] != "calm" {
		t.Errorf("Keywords = %v, want [ritual calm]", got.Keywords)
	}
	if got.ProcessedAt != nil {
		t.Errorf("ProcessedAt = %v, want nil", got.ProcessedAt)
	}
	if !got.CreatedAt.Equal(added.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, added.CreatedAt)
	}
}

func TestGetQueueItemNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetQueueItem(context.Background(), "missing")
	if err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestKeyphraseFallsBackToTopic(t *testing.T) {
	q := QueueItem{Topic: "Desk plants"}
	if got := q.Keyphrase(); got != "Desk plants" {
		t.Errorf("Keyphrase() = %q, want topic", got)
	}
	q.FocusKeyphrase = "office greenery"
	if got := q.Keyphrase(); got != "office greenery" {
		t.Errorf("Keyphrase() = %q, want %q", got, "office greenery")
	}
}

func TestClaimNextPending_FIFO(t *testing.T) {
	s := openTestStore(t)
	s.now = stepClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	first := addTopic(t, s, "first")
	addTopic(t, s, "second")

	claimed, err := s.ClaimNextPending(ctx)
	if err != nil {
		t.Fatalf("ClaimNextPending: %v", err)
	}
	if claimed == nil {
		t.Fatal("expected an item, got nil")
	}
	if claimed.ID != first.ID {
		t.Errorf("claimed %q, want oldest %q", claimed.Topic, first.Topic)
	}
	if claimed.Status != StatusInProgress {
		t.Errorf("Status = %q, want %q", claimed.Status, StatusInProgress)
	}

	stored, err := s.GetQueueItem(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetQueueItem: %v", err)
	}
	if stored.Status != StatusInProgress {
		t.Errorf("stored Status = %q, want %q", stored.Status, StatusInProgress)
	}
}

func TestClaimNextPending_Empty(t *testing.T) {
	s := openTestStore(t)

	item, err := s.ClaimNextPending(context.Background())
	if err != nil {
		t.Fatalf("ClaimNextPending: %v", err)
	}
	if item != nil {
		t.Errorf("expected nil, got %+v", item)
	}
}

func TestClaimNextPending_SkipsNonPending(t *testing.T) {
	s := openTestStore(t)
	s.now = stepClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	held := addTopic(t, s, "held")
	if err := s.UpdateQueueStatus(ctx, held.ID, StatusHeld); err != nil {
		t.Fatalf("UpdateQueueStatus: %v", err)
	}
	pending := addTopic(t, s, "pending")

	claimed, err := s.ClaimNextPending(ctx)
	if err != nil {
		t.Fatalf("ClaimNextPending: %v", err)
	}
	if claimed == nil || claimed.ID != pending.ID {
		t.Fatalf("claimed %+v, want %q", claimed, pending.ID)
	}
}

// TestClaimNextPending_Concurrent claims from many goroutines and verifies
// no item is handed out twice.
func TestClaimNextPending_Concurrent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const items = 5
	for i := 0; i < items; i++ {
		addTopic(t, s, fmt.Sprintf("topic-%d", i))
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			item, err := s.ClaimNextPending(ctx)
			if err != nil {
				t.Errorf("ClaimNextPending: %v", err)
				return
			}
			if item == nil {
				return
			}
			mu.Lock()
			seen[item.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != items {
		t.Errorf("claimed %d distinct items, want %d", len(seen), items)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("item %s claimed %d times", id, n)
		}
	}
}

func TestUpdateQueueStatus_ProcessedAt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	item := addTopic(t, s, "topic")

	if err := s.UpdateQueueStatus(ctx, item.ID, StatusPublished); err != nil {
		t.Fatalf("UpdateQueueStatus: %v", err)
	}
	got, _ := s.GetQueueItem(ctx, item.ID)
	if got.ProcessedAt == nil {
		t.Fatal("ProcessedAt = nil after terminal transition")
	}

	if err := s.UpdateQueueStatus(ctx, item.ID, StatusPending); err != nil {
		t.Fatalf("UpdateQueueStatus: %v", err)
	}
	got, _ = s.GetQueueItem(ctx, item.ID)
	if got.ProcessedAt != nil {
		t.Errorf("ProcessedAt = %v after revert, want nil", got.ProcessedAt)
	}
}

func TestUpdateQueueStatus_Errors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpdateQueueStatus(ctx, "missing", StatusHeld); err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	item := addTopic(t, s, "topic")
	if err := s.UpdateQueueStatus(ctx, item.ID, QueueStatus("archived")); err == nil {
		t.Error("expected error for unknown status")
	}
}

// TestResetInProgressItems covers crash recovery: an item abandoned mid-run
// is pending again and is the next one claimed.
func TestResetInProgressItems(t *testing.T) {
	s := openTestStore(t)
	s.now = stepClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	stuck := addTopic(t, s, "stuck")
	addTopic(t, s, "later")
	if _, err := s.ClaimNextPending(ctx); err != nil {
		t.Fatalf("ClaimNextPending: %v", err)
	}

	n, err := s.ResetInProgressItems(ctx)
	if err != nil {
		t.Fatalf("ResetInProgressItems: %v", err)
	}
	if n != 1 {
		t.Errorf("reset %d items, want 1", n)
	}

	n, err = s.ResetInProgressItems(ctx)
	if err != nil {
		t.Fatalf("second ResetInProgressItems: %v", err)
	}
	if n != 0 {
		t.Errorf("second reset moved %d items, want 0", n)
	}

	claimed, err := s.ClaimNextPending(ctx)
	if err != nil {
		t.Fatalf("ClaimNextPending: %v", err)
	}
	if claimed == nil || claimed.ID != stuck.ID {
		t.Errorf("claimed %+v, want recovered item %q", claimed, stuck.ID)
	}
}

func TestCountPendingAndTopics(t *testing.T) {
	s := openTestStore(t)
	s.now = stepClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	a := addTopic(t, s, "a")
	b := addTopic(t, s, "b")
	addTopic(t, s, "c")
	s.UpdateQueueStatus(ctx, a.ID, StatusPublished)
	s.UpdateQueueStatus(ctx, b.ID, StatusDiscarded)

	n, err := s.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending: %v", err)
	}
	if n != 1 {
		t.Errorf("CountPending = %d, want 1", n)
	}

	all, err := s.ListAllTopics(ctx)
	if err != nil {
		t.Fatalf("ListAllTopics: %v", err)
	}
	if fmt.Sprint(all) != "[a b c]" {
		t.Errorf("ListAllTopics = %v, want [a b c]", all)
	}

	resolved, err := s.ListResolvedTopics(ctx)
	if err != nil {
		t.Fatalf("ListResolvedTopics: %v", err)
	}
	if fmt.Sprint(resolved) != "[a]" {
		t.Errorf("ListResolvedTopics = %v, want [a]", resolved)
	}
}

func TestListQueueItems(t *testing.T) {
	s := openTestStore(t)
	s.now = stepClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for _, topic := range []string{"one", "two", "three"} {
		addTopic(t, s, topic)
	}
	held := addTopic(t, s, "four")
	s.UpdateQueueStatus(ctx, held.ID, StatusHeld)

	all, err := s.ListQueueItems(ctx, QueueFilter{})
	if err != nil {
		t.Fatalf("ListQueueItems: %v", err)
	}
	if len(all) != 4 || all[0].Topic != "four" {
		t.Fatalf("ListQueueItems newest first: got %d items, first %q", len(all), all[0].Topic)
	}

	pending, err := s.ListQueueItems(ctx, QueueFilter{Status: StatusPending, Limit: 2})
	if err != nil {
		t.Fatalf("ListQueueItems: %v", err)
	}
	if len(pending) != 2 || pending[0].Topic != "three" {
		t.Errorf("filtered list = %+v", pending)
	}

	page, err := s.ListQueueItems(ctx, QueueFilter{Offset: 3})
	if err != nil {
		t.Fatalf("ListQueueItems offset: %v", err)
	}
	if len(page) != 1 || page[0].Topic != "one" {
		t.Errorf("offset page = %+v", page)
	}
}

func TestDeleteQueueItem(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	item := addTopic(t, s, "gone")

	if err := s.DeleteQueueItem(ctx, item.ID); err != nil {
		t.Fatalf("DeleteQueueItem: %v", err)
	}
	if _, err := s.GetQueueItem(ctx, item.ID); err != ErrNotFound {
		t.Errorf("GetQueueItem after delete: %v, want ErrNotFound", err)
	}
	if err := s.DeleteQueueItem(ctx, item.ID); err != ErrNotFound {
		t.Errorf("second delete: %v, want ErrNotFound", err)
	}
}

func TestInsertAndListLogs(t *testing.T) {
	s := openTestStore(t)
	s.now = stepClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	queueID := "q-1"
	score, seo := 88, 12
	notes := "tightened intro"
	if _, err := s.InsertLog(ctx, AutomationLog{
		QueueID: &queueID, Status: LogSuccess, ConfidenceScore: &score, SEOChecksPassed: &seo, RevisionNotes: &notes,
	}); err != nil {
		t.Fatalf("InsertLog: %v", err)
	}
	msg := "boom"
	if _, err := s.InsertLog(ctx, AutomationLog{Status: LogError, ErrorMessage: &msg}); err != nil {
		t.Fatalf("InsertLog: %v", err)
	}

	logs, err := s.ListLogs(ctx, LogFilter{})
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("len(logs) = %d, want 2", len(logs))
	}
	if logs[0].Status != LogError || logs[0].QueueID != nil || *logs[0].ErrorMessage != "boom" {
		t.Errorf("newest log = %+v", logs[0])
	}
	if logs[1].ConfidenceScore == nil || *logs[1].ConfidenceScore != 88 {
		t.Errorf("ConfidenceScore = %v, want 88", logs[1].ConfidenceScore)
	}

	byQueue, err := s.ListLogs(ctx, LogFilter{QueueID: "q-1", Limit: 10})
	if err != nil {
		t.Fatalf("ListLogs by queue: %v", err)
	}
	if len(byQueue) != 1 || *byQueue[0].RevisionNotes != notes {
		t.Errorf("ListLogs(queue) = %+v", byQueue)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	empty, err := s.GetAllSettings(ctx)
	if err != nil {
		t.Fatalf("GetAllSettings: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("fresh store settings = %v, want none", empty)
	}
	if err := s.SetSetting(ctx, "scheduler_active", "true"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := s.SetSetting(ctx, "scheduler_active", "false"); err != nil {
		t.Fatalf("SetSetting overwrite: %v", err)
	}
	s.SetSetting(ctx, "scheduler_timezone", "UTC")
	all, err := s.GetAllSettings(ctx)
	if err != nil {
		t.Fatalf("GetAllSettings: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("len(all) = %d, want 2", len(all))
	}
	if all["scheduler_active"] != "false" {
		t.Errorf("scheduler_active = %q, want %q", all["scheduler_active"], "false")
	}
}
