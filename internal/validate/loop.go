// Package validate confirms that a corrective order actually restored hedge
// balance, polling live position state under a bounded retry budget.
package validate

import (
	"context"
	"fmt"
	"time"

	"bn-hedge-bot/internal/bnc"
	"bn-hedge-bot/internal/hedge"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusBalanced Status = "BALANCED"
	StatusTimedOut Status = "TIMED_OUT"
)

type Config struct {
	MaxAttempts  int
	PollInterval time.Duration
	MaxWait      time.Duration
}

func DefaultConfig() Config {
	return Config{MaxAttempts: 5, PollInterval: 2 * time.Second, MaxWait: 30 * time.Second}
}

type Result struct {
	Status   Status
	Attempts int
	LastEval hedge.Evaluation
}

// PollFunc fetches a fresh position snapshot for the asset under validation.
type PollFunc func(ctx context.Context) (hedge.AssetPosition, error)

// Run polls until the position classifies as balanced or the retry budget is
// exhausted. Exhaustion is a terminal failure carrying the last observed
// numbers; the last-seen state is never silently accepted as success.
func Run(ctx context.Context, cfg Config, pol hedge.Policy, poll PollFunc) (Result, error) {
	if cfg.MaxAttempts <= 0 || cfg.PollInterval <= 0 || cfg.MaxWait <= 0 {
		return Result{Status: StatusPending}, fmt.Errorf("invalid validation config: attempts %d interval %s max wait %s",
			cfg.MaxAttempts, cfg.PollInterval, cfg.MaxWait)
	}
	deadline := time.NewTimer(cfg.MaxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	result := Result{Status: StatusPending}
	for {
		pos, err := poll(ctx)
		if err != nil {
			return result, err
		}
		result.Attempts++
		result.LastEval = hedge.Evaluate(pos, pol)
		if result.LastEval.Classification == hedge.Balanced {
			result.Status = StatusBalanced
			return result, nil
		}
		if result.Attempts >= cfg.MaxAttempts {
			return timedOut(result)
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-deadline.C:
			return timedOut(result)
		case <-ticker.C:
		}
	}
}

func timedOut(result Result) (Result, error) {
	result.Status = StatusTimedOut
	eval := result.LastEval
	return result, fmt.Errorf("%s: %s after %d polls (spot %.8f futures %.8f ratio %.4f): %w",
		eval.Symbol, eval.Classification, result.Attempts, eval.SpotTotal, eval.FuturesSize, eval.Ratio,
		bnc.ErrImbalanceTimeout)
}
