package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/tripcms/internal/repository"
)

// ResetTokenJanitor periodically deletes reset tokens that expired or were
// used more than one TTL ago.
type ResetTokenJanitor struct {
	tokens   repository.ResetTokenRepository
	interval time.Duration
	ttl      time.Duration
	logger   *slog.Logger
	now      Clock

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewResetTokenJanitor(tokens repository.ResetTokenRepository, interval, ttl time.Duration, logger *slog.Logger) *ResetTokenJanitor {
	return &ResetTokenJanitor{
		tokens:   tokens,
		interval: interval,
		ttl:      ttl,
		logger:   logger,
		now:      utcNow,
		done:     make(chan struct{}),
	}
}

// Start launches the cleanup loop. Calling it more than once is a no-op.
func (j *ResetTokenJanitor) Start() {
	j.startOnce.Do(func() {
		j.logger.Info("starting reset token janitor", slog.Duration("interval", j.interval))
		j.wg.Add(1)
		go j.run()
	})
}

// Stop ends the loop and waits for an in-progress sweep to finish.
func (j *ResetTokenJanitor) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
	})
	j.wg.Wait()
}

func (j *ResetTokenJanitor) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.Sweep(context.Background())
		}
	}
}

// Sweep runs one cleanup pass and returns how many rows were removed.
func (j *ResetTokenJanitor) Sweep(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := j.tokens.DeleteStaleResetTokens(ctx, j.now().Add(-j.ttl))
	if err != nil {
		j.logger.Error("reset token cleanup failed", slog.String("error", err.Error()))
		return 0
	}
	if n > 0 {
		j.logger.Info("removed stale reset tokens", slog.Int64("count", n))
	}
	return n
}
