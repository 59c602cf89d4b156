package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type ChainRetrier interface {
	RetryFailed(ctx context.Context, limit int) (int, error)
}

// ChainRetryJob periodically resubmits failed on-chain mint settlements.
type ChainRetryJob struct {
	retrier ChainRetrier
	limit   int
}

func NewChainRetryJob(retrier ChainRetrier, limit int) *ChainRetryJob {
	if limit <= 0 {
		limit = 50
	}
	return &ChainRetryJob{retrier: retrier, limit: limit}
}

func (j *ChainRetryJob) Start(ctx context.Context, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				j.RunOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
	return done
}

func (j *ChainRetryJob) RunOnce(ctx context.Context) (int, error) {
	n, err := j.retrier.RetryFailed(ctx, j.limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to retry chain settlements")
		return n, err
	}
	if n > 0 {
		log.Info().Int("count", n).Msg("Resubmitted failed chain settlements")
	}
	return n, nil
}
