// Package jobs holds the background sweeps run by the API process and settlectl.
package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Expirer moves requests whose deadline has passed to expired.
type Expirer interface {
	ExpireDue(ctx context.Context, now time.Time, batch int) (int, error)
}

// Result counts the requests expired by one sweep.
type Result struct {
	Mints int
	Burns int
}

// ExpiryJob sweeps overdue mint and burn requests.
type ExpiryJob struct {
	mints   Expirer
	burns   Expirer
	batch   int
	timeout time.Duration
	now     func() time.Time
}

func NewExpiryJob(mints, burns Expirer, batch int) *ExpiryJob {
	if batch <= 0 {
		batch = 100
	}
	return &ExpiryJob{
		mints:   mints,
		burns:   burns,
		batch:   batch,
		timeout: 30 * time.Second,
		now:     time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (j *ExpiryJob) WithClock(now func() time.Time) *ExpiryJob {
	j.now = now
	return j
}

// Start runs a sweep immediately and then every interval until ctx is done.
// The returned channel is closed once the loop has exited.
func (j *ExpiryJob) Start(ctx context.Context, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = time.Minute
	}
	done := make(chan struct{})

	log.Info().Dur("interval", interval).Int("batch", j.batch).Msg("Starting expiry sweeper...")
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		j.tick(ctx)
		for {
			select {
			case <-ticker.C:
				j.tick(ctx)
			case <-ctx.Done():
				log.Info().Msg("Expiry sweeper stopped")
				return
			}
		}
	}()
	return done
}

func (j *ExpiryJob) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()
	j.RunOnce(ctx)
}

// RunOnce sweeps both request kinds once. A failure in one kind is logged and
// does not stop the other; the first error is returned.
func (j *ExpiryJob) RunOnce(ctx context.Context) (Result, error) {
	now := j.now().UTC()
	var res Result
	var firstErr error

	n, err := j.mints.ExpireDue(ctx, now, j.batch)
	res.Mints = n
	if err != nil {
		log.Error().Err(err).Msg("Failed to expire mint requests")
		firstErr = err
	}

	n, err = j.burns.ExpireDue(ctx, now, j.batch)
	res.Burns = n
	if err != nil {
		log.Error().Err(err).Msg("Failed to expire burn requests")
		if firstErr == nil {
			firstErr = err
		}
	}

	if res.Mints > 0 || res.Burns > 0 {
		log.Info().Int("mints", res.Mints).Int("burns", res.Burns).Msg("Expired overdue requests")
	}
	return res, firstErr
}
