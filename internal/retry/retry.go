// Package retry runs collaborator calls with bounded, hint-aware backoff.
package retry

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/kalambet/blogpilot/internal/errs"
)

const (
	DefaultMaxRetries = 2
	DefaultBaseDelay  = time.Second
)

var retryDelayRe = regexp.MustCompile(`"retryDelay"\s*:\s*"(\d+)s"`)

// Policy controls how many times an operation is retried and how long to
// wait between attempts. The zero value makes a single attempt.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	// Negative means no retries.
	MaxRetries int
	// BaseDelay is multiplied by the attempt number when no hint is present.
	BaseDelay time.Duration
	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// DefaultPolicy returns a policy with MaxRetries retries and the default step.
func DefaultPolicy(maxRetries int) Policy {
	return Policy{MaxRetries: maxRetries, BaseDelay: DefaultBaseDelay}
}

func (p Policy) attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p Policy) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Delay returns how long to wait after a failed attempt (1-based).
// An upstream hint wins over the linear step.
func (p Policy) Delay(err error, attempt int) time.Duration {
	if d, ok := Hint(err); ok {
		return d
	}
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	return time.Duration(attempt) * base
}

// Hint extracts a provider-requested delay from err, either carried by an
// errs rate-limit error or embedded as "retryDelay":"Ns" in its message.
func Hint(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	if d, ok := errs.RetryAfter(err); ok {
		return d, true
	}
	m := retryDelayRe.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	secs, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// Do calls op until it succeeds or the attempts are used up. The last
// operation error is returned as-is. Cancelling ctx stops further attempts.
func Do[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	total := p.attempts()
	for attempt := 1; attempt <= total; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if attempt == total || ctx.Err() != nil {
			break
		}

		delay := p.Delay(err, attempt)
		p.logger().Warn("retrying after failure",
			"op", name, "attempt", attempt, "of", total, "delay", delay, "error", err)
		if err := p.sleep(ctx, delay); err != nil {
			break
		}
	}
	return zero, lastErr
}
