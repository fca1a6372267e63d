package pipeline

import "github.com/kalambet/blogpilot/internal/storage"

// Status is the outcome of one run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusDraft   Status = "draft"
	StatusHeld    Status = "held"
	StatusError   Status = "error"
)

// Result is what a run reports to its trigger.
type Result struct {
	Status          Status             `json:"status"`
	QueueItem       *storage.QueueItem `json:"queueItem,omitempty"`
	PostID          string             `json:"postId,omitempty"`
	Slug            string             `json:"slug,omitempty"`
	ConfidenceScore *int               `json:"confidence_score,omitempty"`
	SEOChecksPassed *int               `json:"seo_checks_passed,omitempty"`
	RevisionNotes   string             `json:"revision_notes,omitempty"`
	Error           string             `json:"error,omitempty"`
}
