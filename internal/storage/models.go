package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// QueueStatus is the lifecycle state of a queue item.
type QueueStatus string

const (
	StatusPending    QueueStatus = "pending"
	StatusInProgress QueueStatus = "in_progress"
	StatusPublished  QueueStatus = "published"
	StatusHeld       QueueStatus = "held"
	StatusDiscarded  QueueStatus = "discarded"
)

// Valid reports whether s is one of the known queue statuses.
func (s QueueStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusPublished, StatusHeld, StatusDiscarded:
		return true
	}
	return false
}

// Terminal reports whether an item in this status has a processed_at timestamp.
func (s QueueStatus) Terminal() bool {
	return s == StatusPublished || s == StatusHeld || s == StatusDiscarded
}

// LogStatus is the outcome recorded in an automation log entry.
type LogStatus string

const (
	LogSuccess LogStatus = "success"
	LogDraft   LogStatus = "draft"
	LogHeld    LogStatus = "held"
	LogError   LogStatus = "error"
)

type QueueItem struct {
	ID             string      `json:"id"`
	Topic          string      `json:"topic"`
	FocusKeyphrase string      `json:"focus_keyphrase,omitempty"`
	Keywords       []string    `json:"keywords"`
	Status         QueueStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	ProcessedAt    *time.Time  `json:"processed_at,omitempty"`
}

// Keyphrase returns the focus keyphrase, falling back to the topic.
func (q QueueItem) Keyphrase() string {
	if q.FocusKeyphrase != "" {
		return q.FocusKeyphrase
	}
	return q.Topic
}

// AutomationLog is an append-only record of one pipeline outcome.
type AutomationLog struct {
	ID              string    `json:"id"`
	QueueID         *string   `json:"queue_id,omitempty"`
	PostID          *string   `json:"post_id,omitempty"`
	Status          LogStatus `json:"status"`
	ConfidenceScore *int      `json:"confidence_score,omitempty"`
	SEOChecksPassed *int      `json:"seo_checks_passed,omitempty"`
	RevisionNotes   *string   `json:"revision_notes,omitempty"`
	ErrorMessage    *string   `json:"error_message,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// QueueFilter narrows ListQueueItems. Zero values mean no filter.
type QueueFilter struct {
	Status QueueStatus
	Limit  int
	Offset int
}

// LogFilter narrows ListLogs. Zero values mean no filter.
type LogFilter struct {
	QueueID string
	Status  LogStatus
	Limit   int
}
