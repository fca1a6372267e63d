package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/blogpilot/internal/blog"
	"github.com/kalambet/blogpilot/internal/errs"
	"github.com/kalambet/blogpilot/internal/storage"
)

const manualApprovalNote = "Manually approved from review queue"

// Approval is the operator-edited post published from the review queue.
type Approval struct {
	Title      string   `json:"title"`
	Excerpt    string   `json:"excerpt"`
	Content    string   `json:"content"`
	CoverImage string   `json:"cover_image"`
	Tags       []string `json:"tags"`
}

// Approve publishes an operator-reviewed post for item id, marks the item
// published, and records a success log.
func (o *Orchestrator) Approve(ctx context.Context, id string, a Approval) (blog.CreatedPost, error) {
	if strings.TrimSpace(a.Title) == "" || strings.TrimSpace(a.Excerpt) == "" ||
		strings.TrimSpace(a.Content) == "" || strings.TrimSpace(a.CoverImage) == "" {
		return blog.CreatedPost{}, errs.New(errs.KindValidation, "title, excerpt, content, and cover_image are required for approval")
	}
	if _, err := o.deps.Store.GetQueueItem(ctx, id); err != nil {
		return blog.CreatedPost{}, err
	}

	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	created, err := o.deps.Publisher.CreatePost(ctx, blog.Post{
		Title:      a.Title,
		Excerpt:    a.Excerpt,
		Content:    a.Content,
		Author:     o.deps.Brand.Profile().Author,
		CoverImage: a.CoverImage,
		Tags:       tags,
		Published:  true,
	})
	if err != nil {
		return blog.CreatedPost{}, err
	}

	if err := o.deps.Store.UpdateQueueStatus(ctx, id, storage.StatusPublished); err != nil {
		return created, fmt.Errorf("marking item published: %w", err)
	}
	note := manualApprovalNote
	o.record(ctx, storage.AutomationLog{
		QueueID:       &id,
		PostID:        &created.ID,
		Status:        storage.LogSuccess,
		RevisionNotes: &note,
	}, o.logger.With("queue_id", id))
	return created, nil
}

// Discard retires an item without publishing.
func (o *Orchestrator) Discard(ctx context.Context, id string) error {
	return o.deps.Store.UpdateQueueStatus(ctx, id, storage.StatusDiscarded)
}
