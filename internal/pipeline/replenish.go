package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/blogpilot/internal/agents"
	"github.com/kalambet/blogpilot/internal/retry"
	"github.com/kalambet/blogpilot/internal/storage"
)

const (
	DefaultLowWater  = 6
	DefaultBatchSize = 15

	replenishTimeout = 3 * time.Minute
)

// TopicStore is the persistence the replenisher needs.
// Implemented by storage.Store.
type TopicStore interface {
	CountPending(ctx context.Context) (int, error)
	ListAllTopics(ctx context.Context) ([]string, error)
	AddQueueItem(ctx context.Context, item storage.QueueItem) (storage.QueueItem, error)
}

type TopicSuggester interface {
	Suggest(ctx context.Context, count int, existingTopics []string) ([]agents.TopicSuggestion, error)
}

// ReplenishResult reports what one replenishment check did.
type ReplenishResult struct {
	Pending   int `json:"pending"`
	Requested int `json:"requested"`
	Added     int `json:"added"`
}

// Replenisher tops the queue up with suggested topics when it runs low.
type Replenisher struct {
	store     TopicStore
	suggester TopicSuggester
	lowWater  int
	batchSize int
	retry     retry.Policy
	logger    *slog.Logger

	// running serializes checks so two triggers cannot both see a low
	// queue and double the batch.
	running sync.Mutex
	wg      sync.WaitGroup
}

// NewReplenisher creates a Replenisher. lowWater and batchSize <= 0 take defaults.
func NewReplenisher(store TopicStore, suggester TopicSuggester, lowWater, batchSize int, policy retry.Policy) *Replenisher {
	if lowWater <= 0 {
		lowWater = DefaultLowWater
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Replenisher{
		store:     store,
		suggester: suggester,
		lowWater:  lowWater,
		batchSize: batchSize,
		retry:     policy,
		logger:    slog.Default(),
	}
}

// Run checks the pending count and, when below the low-water mark, asks for
// a batch of suggestions and enqueues each one.
func (r *Replenisher) Run(ctx context.Context) (ReplenishResult, error) {
	r.running.Lock()
	defer r.running.Unlock()
	return r.check(ctx)
}

func (r *Replenisher) check(ctx context.Context) (ReplenishResult, error) {
	pending, err := r.store.CountPending(ctx)
	if err != nil {
		return ReplenishResult{}, err
	}
	res := ReplenishResult{Pending: pending}
	if pending >= r.lowWater {
		return res, nil
	}

	existing, err := r.store.ListAllTopics(ctx)
	if err != nil {
		return res, err
	}

	policy := r.retry
	if policy.Logger == nil {
		policy.Logger = r.logger
	}
	res.Requested = r.batchSize
	suggestions, err := retry.Do(ctx, policy, "suggest topics", func(ctx context.Context) ([]agents.TopicSuggestion, error) {
		return r.suggester.Suggest(ctx, r.batchSize, existing)
	})
	if err != nil {
		return res, err
	}

	for _, s := range suggestions {
		if _, err := r.store.AddQueueItem(ctx, storage.QueueItem{
			Topic:          s.Topic,
			FocusKeyphrase: s.FocusKeyphrase,
			Keywords:       s.Keywords,
		}); err != nil {
			return res, err
		}
		res.Added++
		r.logger.Debug("queued suggested topic", "topic", s.Topic, "pillar", s.ContentPillar)
	}
	r.logger.Info("queue replenished", "pending_before", pending, "added", res.Added)
	return res, nil
}

// Trigger starts a check in the background and returns immediately. Errors
// are logged, never returned. A check already in flight makes this a no-op.
func (r *Replenisher) Trigger(ctx context.Context) {
	if !r.running.TryLock() {
		r.logger.Debug("replenishment already running")
		return
	}
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), replenishTimeout)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		defer r.running.Unlock()
		if _, err := r.check(bg); err != nil {
			r.logger.Error("queue replenishment failed", "error", err)
		}
	}()
}

// Wait blocks until background checks started by Trigger have finished.
func (r *Replenisher) Wait() {
	r.wg.Wait()
}
