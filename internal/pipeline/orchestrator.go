// Package pipeline runs one queue item through draft, revision, cover image
// and publication, and keeps the queue topped up.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/blogpilot/internal/agents"
	"github.com/kalambet/blogpilot/internal/blog"
	"github.com/kalambet/blogpilot/internal/brand"
	"github.com/kalambet/blogpilot/internal/content"
	"github.com/kalambet/blogpilot/internal/errs"
	"github.com/kalambet/blogpilot/internal/retry"
	"github.com/kalambet/blogpilot/internal/storage"
)

// ErrNoPendingTopics is the message reported when the queue is empty.
const ErrNoPendingTopics = "No pending topics in queue"

const (
	DefaultDraftThreshold       = 70
	DefaultAutoPublishThreshold = 85
	DefaultRunTimeout           = 5 * time.Minute
)

// QueueStore is the persistence the orchestrator needs.
// Implemented by storage.Store.
type QueueStore interface {
	ClaimNextPending(ctx context.Context) (*storage.QueueItem, error)
	GetQueueItem(ctx context.Context, id string) (storage.QueueItem, error)
	UpdateQueueStatus(ctx context.Context, id string, status storage.QueueStatus) error
	ResetInProgressItems(ctx context.Context) (int64, error)
	ListResolvedTopics(ctx context.Context) ([]string, error)
	InsertLog(ctx context.Context, l storage.AutomationLog) (storage.AutomationLog, error)
}

type DraftGenerator interface {
	Generate(ctx context.Context, topic, focusKeyphrase string, existingTitles []string) (agents.Draft, error)
}

type Reviser interface {
	Revise(ctx context.Context, d agents.Draft) (agents.Revision, error)
}

type ImageGenerator interface {
	Generate(ctx context.Context, title, excerpt string) (string, error)
}

type Publisher interface {
	CreatePost(ctx context.Context, p blog.Post) (blog.CreatedPost, error)
}

// Config holds the thresholds and retry policy for a run.
type Config struct {
	DraftThreshold       int
	AutoPublishThreshold int
	// SEOChecklistSize bounds SEOChecksPassed. It must match the checklist
	// the Reviser audits against; zero means agents.ChecklistSize().
	SEOChecklistSize     int
	RunTimeout           time.Duration
	Retry                retry.Policy
}

// DefaultConfig returns the stock thresholds with two retries per call.
func DefaultConfig() Config {
	return Config{
		DraftThreshold:       DefaultDraftThreshold,
		AutoPublishThreshold: DefaultAutoPublishThreshold,
		SEOChecklistSize:     agents.ChecklistSize(),
		RunTimeout:           DefaultRunTimeout,
		Retry:                retry.DefaultPolicy(retry.DefaultMaxRetries),
	}
}

// Deps are the collaborators a run calls out to.
type Deps struct {
	Store     QueueStore
	Writer    DraftGenerator
	Editor    Reviser
	Images    ImageGenerator
	Publisher Publisher
	Brand     *brand.Source
}

// Orchestrator processes at most one queue item per Run.
type Orchestrator struct {
	// triggered serializes RunTriggered so the in_progress sweep never
	// reclaims an item another trigger in this process is still working on.
	triggered sync.Mutex

	deps      Deps
	cfg       Config
	replenish *Replenisher
	logger    *slog.Logger
}

// New creates an Orchestrator. Zero-valued config fields take defaults.
func New(deps Deps, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.DraftThreshold == 0 && cfg.AutoPublishThreshold == 0 {
		cfg.DraftThreshold = def.DraftThreshold
		cfg.AutoPublishThreshold = def.AutoPublishThreshold
	}
	if cfg.SEOChecklistSize <= 0 {
		cfg.SEOChecklistSize = def.SEOChecklistSize
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = def.RunTimeout
	}
	if deps.Brand == nil {
		deps.Brand = brand.Static(brand.Default())
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: slog.Default()}
}

// WithReplenisher attaches the replenishment check that externally
// triggered runs kick off before claiming.
func (o *Orchestrator) WithReplenisher(r *Replenisher) *Orchestrator {
	o.replenish = r
	return o
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// RunTriggered is the entry point for timer and operator triggers: it
// returns abandoned in_progress items to pending, starts a background
// replenishment check, and runs the pipeline once under the run timeout.
func (o *Orchestrator) RunTriggered(ctx context.Context) Result {
	o.triggered.Lock()
	defer o.triggered.Unlock()

	if n, err := o.deps.Store.ResetInProgressItems(ctx); err != nil {
		o.logger.Error("resetting in-progress items failed", "error", err)
	} else if n > 0 {
		o.logger.Warn("recovered abandoned queue items", "count", n)
	}

	if o.replenish != nil {
		o.replenish.Trigger(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)
	defer cancel()
	return o.Run(ctx)
}

// Run claims the oldest pending item and drives it to a terminal outcome.
// Failures never escape as errors or panics; they come back as a Result
// with Status "error", and the item is returned to pending.
func (o *Orchestrator) Run(ctx context.Context) Result {
	item, err := o.deps.Store.ClaimNextPending(ctx)
	if err != nil {
		o.logger.Error("claiming queue item failed", "error", err)
		return Result{Status: StatusError, Error: err.Error()}
	}
	if item == nil {
		o.logger.Info(ErrNoPendingTopics)
		return Result{Status: StatusError, Error: ErrNoPendingTopics}
	}

	log := o.logger.With("queue_id", item.ID, "topic", item.Topic)
	log.Info("pipeline run started")

	res, err := o.process(ctx, item, log)
	if err != nil {
		return o.fail(ctx, item, err, log)
	}
	log.Info("pipeline run finished", "status", res.Status, "post_id", res.PostID,
		"confidence_score", deref(res.ConfidenceScore))
	return res
}

func (o *Orchestrator) process(ctx context.Context, item *storage.QueueItem, log *slog.Logger) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()

	existing, err := o.deps.Store.ListResolvedTopics(ctx)
	if err != nil {
		log.Warn("loading existing titles failed, continuing without", "error", err)
		existing = nil
	}

	draft, err := retry.Do(ctx, o.policy(log), "draft", func(ctx context.Context) (agents.Draft, error) {
		return o.deps.Writer.Generate(ctx, item.Topic, item.Keyphrase(), existing)
	})
	if err != nil {
		return Result{}, err
	}
	log.Debug("draft generated", "title", draft.Title)

	rev, err := retry.Do(ctx, o.policy(log), "revise", func(ctx context.Context) (agents.Revision, error) {
		return o.deps.Editor.Revise(ctx, draft)
	})
	if err != nil {
		return Result{}, err
	}
	confidence := clamp(rev.ConfidenceScore, 0, 100)
	seoPassed := clamp(rev.SEOChecksPassed, 0, o.cfg.SEOChecklistSize)
	log.Info("revision scored", "confidence_score", confidence, "seo_checks_passed", seoPassed)

	if confidence < o.cfg.DraftThreshold {
		return o.hold(ctx, item, confidence, seoPassed, rev.RevisionNotes)
	}

	coverURL, err := retry.Do(ctx, o.policy(log), "image", func(ctx context.Context) (string, error) {
		return o.deps.Images.Generate(ctx, rev.Title, rev.Excerpt)
	})
	if err != nil {
		return Result{}, err
	}

	if err := validatePayload(rev, coverURL); err != nil {
		return Result{}, err
	}

	published := confidence >= o.cfg.AutoPublishThreshold
	post := blog.Post{
		Title:      rev.Title,
		Excerpt:    rev.Excerpt,
		Content:    rev.Content,
		Author:     o.deps.Brand.Profile().Author,
		CoverImage: coverURL,
		Tags:       rev.Tags,
		Published:  published,
	}
	created, err := retry.Do(ctx, o.policy(log), "publish", func(ctx context.Context) (blog.CreatedPost, error) {
		return o.deps.Publisher.CreatePost(ctx, post)
	})
	if err != nil {
		return Result{}, err
	}

	// The post exists upstream now. Resolve the item even if the run
	// context expires, or the next run would publish it again.
	ctx = context.WithoutCancel(ctx)
	if err := o.deps.Store.UpdateQueueStatus(ctx, item.ID, storage.StatusPublished); err != nil {
		return Result{}, fmt.Errorf("marking item published: %w", err)
	}

	status := StatusDraft
	logStatus := storage.LogDraft
	if published {
		status = StatusSuccess
		logStatus = storage.LogSuccess
	}
	o.record(ctx, storage.AutomationLog{
		QueueID:         &item.ID,
		PostID:          &created.ID,
		Status:          logStatus,
		ConfidenceScore: &confidence,
		SEOChecksPassed: &seoPassed,
		RevisionNotes:   &rev.RevisionNotes,
	}, log)

	done := *item
	done.Status = storage.StatusPublished
	return Result{
		Status:          status,
		QueueItem:       &done,
		PostID:          created.ID,
		Slug:            created.Slug,
		ConfidenceScore: &confidence,
		SEOChecksPassed: &seoPassed,
		RevisionNotes:   rev.RevisionNotes,
	}, nil
}

func (o *Orchestrator) hold(ctx context.Context, item *storage.QueueItem, confidence, seoPassed int, notes string) (Result, error) {
	if err := o.deps.Store.UpdateQueueStatus(ctx, item.ID, storage.StatusHeld); err != nil {
		return Result{}, fmt.Errorf("marking item held: %w", err)
	}
	o.record(ctx, storage.AutomationLog{
		QueueID:         &item.ID,
		Status:          storage.LogHeld,
		ConfidenceScore: &confidence,
		SEOChecksPassed: &seoPassed,
		RevisionNotes:   &notes,
	}, o.logger.With("queue_id", item.ID))

	held := *item
	held.Status = storage.StatusHeld
	return Result{
		Status:          StatusHeld,
		QueueItem:       &held,
		ConfidenceScore: &confidence,
		SEOChecksPassed: &seoPassed,
		RevisionNotes:   notes,
	}, nil
}

// fail returns the item to pending and records the error. Neither step may
// mask the original failure.
func (o *Orchestrator) fail(ctx context.Context, item *storage.QueueItem, cause error, log *slog.Logger) Result {
	msg := cause.Error()
	log.Error("pipeline run failed", "error", msg, "kind", errs.KindOf(cause))

	// The run context may already be done; bookkeeping must still land.
	bg := context.WithoutCancel(ctx)
	if err := o.deps.Store.UpdateQueueStatus(bg, item.ID, storage.StatusPending); err != nil {
		log.Error("reverting item to pending failed", "error", err)
	}
	o.record(bg, storage.AutomationLog{
		QueueID:      &item.ID,
		Status:       storage.LogError,
		ErrorMessage: &msg,
	}, log)

	reverted := *item
	reverted.Status = storage.StatusPending
	return Result{Status: StatusError, QueueItem: &reverted, Error: msg}
}

func (o *Orchestrator) record(ctx context.Context, l storage.AutomationLog, log *slog.Logger) {
	if _, err := o.deps.Store.InsertLog(ctx, l); err != nil {
		log.Error("writing automation log failed", "status", l.Status, "error", err)
	}
}

func (o *Orchestrator) policy(log *slog.Logger) retry.Policy {
	p := o.cfg.Retry
	if p.Logger == nil {
		p.Logger = log
	}
	return p
}

// validatePayload checks the post right before it is sent to the blog.
func validatePayload(rev agents.Revision, coverURL string) error {
	if strings.TrimSpace(rev.Title) == "" {
		return errs.New(errs.KindPayloadInvalid, "revised title is empty")
	}
	if strings.TrimSpace(rev.Excerpt) == "" {
		return errs.New(errs.KindPayloadInvalid, "revised excerpt is empty")
	}
	text, err := content.VisibleText(rev.Content)
	if err != nil || text == "" {
		return errs.New(errs.KindPayloadInvalid, "revised content is empty")
	}
	if !isHTTPURL(coverURL) {
		return errs.New(errs.KindPayloadInvalid, "invalid cover image URL")
	}
	return nil
}

func isHTTPURL(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return (strings.HasPrefix(s, "http://") && len(s) > len("http://")) ||
		(strings.HasPrefix(s, "https://") && len(s) > len("https://"))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
