package auth

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"
)

// HashPool bounds how many argon2 computations run at once.
//
// Each argon2id call pins Memory KiB of RAM and a CPU core for its whole
// duration. Without a bound, a burst of login attempts would run as many
// hashes as there are in-flight requests and starve every other handler.
// HashPool admits at most `size` computations; the rest wait for a slot or
// give up when their request context ends.
//
// It satisfies service.PasswordHasher.
type HashPool struct {
	passwords *PasswordService
	slots     *semaphore.Weighted
	size      int64
	logger    *slog.Logger
}

// NewHashPool wraps passwords with a pool of `size` slots (minimum 1).
func NewHashPool(passwords *PasswordService, size int, logger *slog.Logger) *HashPool {
	if size < 1 {
		size = 1
	}
	return &HashPool{
		passwords: passwords,
		slots:     semaphore.NewWeighted(int64(size)),
		size:      int64(size),
		logger:    logger,
	}
}

// Hash hashes plaintext once a slot is free.
func (p *HashPool) Hash(ctx context.Context, plaintext string) (string, error) {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("auth: waiting for hash slot: %w", err)
	}
	defer p.slots.Release(1)

	return p.passwords.Hash(plaintext)
}

// Verify checks plaintext against hash once a slot is free.
// A cancelled wait counts as a failed verification.
func (p *HashPool) Verify(ctx context.Context, hash, plaintext string) bool {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		p.logger.Warn("password verification abandoned", slog.String("error", err.Error()))
		return false
	}
	defer p.slots.Release(1)

	return p.passwords.Verify(hash, plaintext)
}

// NeedsRehash only parses the hash and does not need a slot.
func (p *HashPool) NeedsRehash(hash string) bool {
	return p.passwords.NeedsRehash(hash)
}

// Size returns the number of concurrent computations allowed.
func (p *HashPool) Size() int {
	return int(p.size)
}
