package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so that lexical order in SQLite matches
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const queueColumns = "id, topic, focus_keyphrase, keywords, status, created_at, processed_at"

const logColumns = "id, queue_id, post_id, status, confidence_score, seo_checks_passed, revision_notes, error_message, created_at"

// Store persists queue items, automation logs and app settings in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "blogpilot.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// One connection: the claim relies on SQLite serializing writers, and
	// ":memory:" databases are per-connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if applied > 0 {
			continue
		}

		body, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		if err := s.applyMigration(version, string(body)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(version int, body string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(body); err != nil {
		return fmt.Errorf("applying migration %d: %w", version, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("recording migration %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %d: %w", version, err)
	}
	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueItem(row rowScanner) (QueueItem, error) {
	var (
		q           QueueItem
		keywords    string
		status      string
		createdAt   string
		processedAt sql.NullString
	)
	if err := row.Scan(&q.ID, &q.Topic, &q.FocusKeyphrase, &keywords, &status, &createdAt, &processedAt); err != nil {
		return QueueItem{}, err
	}
	q.Status = QueueStatus(status)
	if err := json.Unmarshal([]byte(keywords), &q.Keywords); err != nil {
		return QueueItem{}, fmt.Errorf("decoding keywords for item %s: %w", q.ID, err)
	}
	if q.Keywords == nil {
		q.Keywords = []string{}
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return QueueItem{}, fmt.Errorf("parsing created_at for item %s: %w", q.ID, err)
	}
	q.CreatedAt = t
	if processedAt.Valid {
		p, err := parseTime(processedAt.String)
		if err != nil {
			return QueueItem{}, fmt.Errorf("parsing processed_at for item %s: %w", q.ID, err)
		}
		q.ProcessedAt = &p
	}
	return q, nil
}

// --- Queue ---

// AddQueueItem inserts a new pending item. ID and CreatedAt are assigned when empty.
func (s *Store) AddQueueItem(ctx context.Context, item QueueItem) (QueueItem, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now().UTC()
	}
	if item.Keywords == nil {
		item.Keywords = []string{}
	}
	item.Status = StatusPending
	item.ProcessedAt = nil

	keywords, err := json.Marshal(item.Keywords)
	if err != nil {
		return QueueItem{}, fmt.Errorf("encoding keywords: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO queue_items (id, topic, focus_keyphrase, keywords, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		item.ID, item.Topic, item.FocusKeyphrase, string(keywords), string(StatusPending),
		item.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return QueueItem{}, fmt.Errorf("inserting queue item: %w", err)
	}
	return item, nil
}

// ClaimNextPending moves the oldest pending item to in_progress and returns it.
// The select and the transition happen in one statement, so two callers can
// never claim the same row. Returns nil, nil when nothing is pending.
func (s *Store) ClaimNextPending(ctx context.Context) (*QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE queue_items SET status = 'in_progress'
		WHERE id = (
			SELECT id FROM queue_items
			WHERE status = 'pending'
			ORDER BY created_at ASC, rowid ASC
			LIMIT 1
		) AND status = 'pending'
		RETURNING `+queueColumns)

	item, err := scanQueueItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming next pending item: %w", err)
	}
	return &item, nil
}

// UpdateQueueStatus moves an item to status. Terminal statuses stamp
// processed_at; pending and in_progress clear it.
func (s *Store) UpdateQueueStatus(ctx context.Context, id string, status QueueStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid queue status %q", status)
	}
	var processedAt any
	if status.Terminal() {
		processedAt = s.timestamp()
	}
	res, err := s.db.ExecContext(ctx, `UPDATE queue_items SET status = ?, processed_at = ? WHERE id = ?`,
		string(status), processedAt, id)
	if err != nil {
		return fmt.Errorf("updating queue item %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetInProgressItems returns every in_progress item to pending and reports
// how many were moved. Safe to call any number of times.
func (s *Store) ResetInProgressItems(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE queue_items SET status = 'pending', processed_at = NULL WHERE status = 'in_progress'`)
	if err != nil {
		return 0, fmt.Errorf("resetting in-progress items: %w", err)
	}
	return res.RowsAffected()
}

// CountByStatus returns the number of items in status.
func (s *Store) CountByStatus(ctx context.Context, status QueueStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_items WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s items: %w", status, err)
	}
	return n, nil
}

// CountPending returns the number of pending items.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	return s.CountByStatus(ctx, StatusPending)
}

// ListAllTopics returns the topic of every item regardless of status, oldest first.
func (s *Store) ListAllTopics(ctx context.Context) ([]string, error) {
	return s.listTopics(ctx, sq.Select("topic").From("queue_items"))
}

// ListResolvedTopics returns topics of items that already produced an outcome.
func (s *Store) ListResolvedTopics(ctx context.Context) ([]string, error) {
	return s.listTopics(ctx, sq.Select("topic").From("queue_items").
		Where(sq.Eq{"status": []string{string(StatusPublished), string(StatusHeld)}}))
}

func (s *Store) listTopics(ctx context.Context, q sq.SelectBuilder) ([]string, error) {
	query, args, err := q.OrderBy("created_at ASC", "rowid ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building topics query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing topics: %w", err)
	}
	defer rows.Close()

	topics := []string{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// GetQueueItem returns the item with id or ErrNotFound.
func (s *Store) GetQueueItem(ctx context.Context, id string) (QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queue_items WHERE id = ?`, id)
	item, err := scanQueueItem(row)
	if err == sql.ErrNoRows {
		return QueueItem{}, ErrNotFound
	}
	if err != nil {
		return QueueItem{}, err
	}
	return item, nil
}

// ListQueueItems returns items newest first.
func (s *Store) ListQueueItems(ctx context.Context, f QueueFilter) ([]QueueItem, error) {
	q := sq.Select(queueColumns).From("queue_items").OrderBy("created_at DESC", "rowid DESC")
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": string(f.Status)})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		if f.Limit <= 0 {
			q = q.Limit(uint64(1<<62))
		}
		q = q.Offset(uint64(f.Offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building queue query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing queue items: %w", err)
	}
	defer rows.Close()

	items := []QueueItem{}
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteQueueItem removes an item. Only operator actions call this.
func (s *Store) DeleteQueueItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM queue_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting queue item %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Automation logs ---

// InsertLog appends a log entry. ID and CreatedAt are assigned when empty.
func (s *Store) InsertLog(ctx context.Context, l AutomationLog) (AutomationLog, error) {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now().UTC()
	}
	query, args, err := sq.Insert("automation_logs").
		Columns("id", "queue_id", "post_id", "status", "confidence_score", "seo_checks_passed", "revision_notes", "error_message", "created_at").
		Values(l.ID, l.QueueID, l.PostID, string(l.Status), l.ConfidenceScore, l.SEOChecksPassed, l.RevisionNotes, l.ErrorMessage,
			l.CreatedAt.UTC().Format(timeLayout)).
		ToSql()
	if err != nil {
		return AutomationLog{}, fmt.Errorf("building log insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return AutomationLog{}, fmt.Errorf("inserting automation log: %w", err)
	}
	return l, nil
}

// ListLogs returns log entries newest first.
func (s *Store) ListLogs(ctx context.Context, f LogFilter) ([]AutomationLog, error) {
	q := sq.Select(logColumns).From("automation_logs").OrderBy("created_at DESC", "rowid DESC")
	if f.QueueID != "" {
		q = q.Where(sq.Eq{"queue_id": f.QueueID})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": string(f.Status)})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building logs query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing logs: %w", err)
	}
	defer rows.Close()

	logs := []AutomationLog{}
	for rows.Next() {
		var (
			l                        AutomationLog
			status, createdAt        string
			queueID, postID          sql.NullString
			notes, errMsg            sql.NullString
			confidence, seoCheckPass sql.NullInt64
		)
		if err := rows.Scan(&l.ID, &queueID, &postID, &status, &confidence, &seoCheckPass, &notes, &errMsg, &createdAt); err != nil {
			return nil, err
		}
		l.Status = LogStatus(status)
		l.QueueID = nullString(queueID)
		l.PostID = nullString(postID)
		l.RevisionNotes = nullString(notes)
		l.ErrorMessage = nullString(errMsg)
		l.ConfidenceScore = nullInt(confidence)
		l.SEOChecksPassed = nullInt(seoCheckPass)
		t, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for log %s: %w", l.ID, err)
		}
		l.CreatedAt = t
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

// --- Settings ---

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("saving setting %s: %w", key, err)
	}
	return nil
}

func (s *Store) GetAllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM app_settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		result[k] = v
	}
	return result, rows.Err()
}
