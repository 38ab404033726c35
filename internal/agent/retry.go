package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kaustubhduse/support-agent/internal/llm"
)

// chatWithRetry sends req, retrying rate-limited responses with linear
// backoff. Any other error is returned at once.
func (l *Loop) chatWithRetry(ctx context.Context, req llm.ChatRequest, log *slog.Logger) (*llm.ChatResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= l.cfg.MaxAttempts; attempt++ {
		start := time.Now()
		resp, err := l.llm.Chat(ctx, req)
		elapsed := time.Since(start).Seconds()

		switch {
		case err == nil:
			l.metrics.RecordModelRequest(ctx, req.Model, "ok", elapsed)
			return resp, nil
		case !llm.IsRateLimited(err):
			l.metrics.RecordModelRequest(ctx, req.Model, "error", elapsed)
			return nil, err
		}

		l.metrics.RecordModelRequest(ctx, req.Model, "rate_limited", elapsed)
		lastErr = err
		if attempt == l.cfg.MaxAttempts {
			break
		}

		wait := time.Duration(attempt) * l.cfg.RetryBackoff
		log.Warn("rate limited, retrying", "attempt", attempt, "max_attempts", l.cfg.MaxAttempts, "wait", wait)
		l.metrics.RecordRateLimitRetry(ctx, req.Model)
		if err := l.sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("waiting to retry: %w", err)
		}
	}
	return nil, fmt.Errorf("rate limited after %d attempts: %w", l.cfg.MaxAttempts, lastErr)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
