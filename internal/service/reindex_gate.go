package service

import (
	"context"
	"fmt"
	"time"
)

// AttemptRecorder persists the last reindex request time per video.
type AttemptRecorder interface {
	LastAttempt(ctx context.Context, videoID string) (int64, error)
	Record(ctx context.Context, videoID string, at int64) error
}

// CooldownError reports that a reindex was requested too soon after the
// previous one.
type CooldownError struct {
	Remaining int64 // seconds until the next attempt is allowed
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("reindex on cooldown, retry in %ds", e.Remaining)
}

// ReindexGate rate-limits reindex requests per video against a durable
// recorder, so restarts don't reset the cooldown. The check is best effort:
// two racing requests may both pass, which the single-writer indexing mutex
// absorbs.
type ReindexGate struct {
	recorder AttemptRecorder
	cooldown time.Duration
	now      func() time.Time
}

// NewReindexGate creates a gate over the given recorder.
// Parameters:
//   - recorder: durable attempt store.
//   - cooldown: minimum interval between attempts per video.
// Returns:
//   - *ReindexGate: gate instance using wall-clock time.
func NewReindexGate(recorder AttemptRecorder, cooldown time.Duration) *ReindexGate {
	return &ReindexGate{
		recorder: recorder,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (g *ReindexGate) WithClock(now func() time.Time) *ReindexGate {
	g.now = now
	return g
}

// Check allows the attempt and records its time, or returns a CooldownError
// with the remaining wait.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - videoID: video the reindex targets.
// Returns:
//   - error: *CooldownError while cooling down, other non-nil on storage failure.
func (g *ReindexGate) Check(ctx context.Context, videoID string) error {
	last, err := g.recorder.LastAttempt(ctx, videoID)
	if err != nil {
		return fmt.Errorf("failed to read last reindex attempt: %w", err)
	}

	now := g.now().Unix()
	if last > 0 {
		elapsed := now - last
		window := int64(g.cooldown / time.Second)
		if elapsed < window {
			return &CooldownError{Remaining: window - elapsed}
		}
	}

	if err := g.recorder.Record(ctx, videoID, now); err != nil {
		return fmt.Errorf("failed to record reindex attempt: %w", err)
	}
	return nil
}
