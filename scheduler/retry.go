package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

// Allocator is the subset of Engine used by caller-side retry helpers.
type Allocator interface {
	Allocate(ctx context.Context, variant string, memoryRequiredMB *int, preferAccelerator *int) (int, error)
}

// RetryConfig bounds AllocateWithRetry.
type RetryConfig struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns a short exponential schedule suited to waiting
// for the next inventory poll to reflect freed memory.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxTries:        5,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// AllocateWithRetry retries Allocate with exponential backoff while it fails
// with ErrNoCapacity. The engine itself never retries: inventory and placement
// are only eventually consistent, so a capacity failure may clear once the
// next poll observes released memory. Any other error stops immediately.
func AllocateWithRetry(ctx context.Context, a Allocator, variant string, memoryRequiredMB, preferAccelerator *int, cfg RetryConfig) (int, error) {
	b := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		b.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		b.MaxInterval = cfg.MaxInterval
	}
	tries := cfg.MaxTries
	if tries == 0 {
		tries = 1
	}

	attempt := 0
	return backoff.Retry(ctx, func() (int, error) {
		attempt++
		id, err := a.Allocate(ctx, variant, memoryRequiredMB, preferAccelerator)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrNoCapacity) {
			return 0, backoff.Permanent(err)
		}
		logrus.Debugf("allocation attempt %d for %q found no capacity, retrying: %v", attempt, variant, err)
		return 0, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(tries))
}
