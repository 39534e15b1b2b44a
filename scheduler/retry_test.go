package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedAllocator returns errs in order, then succeeds with id.
type scriptedAllocator struct {
	errs  []error
	id    int
	calls int
}

func (s *scriptedAllocator) Allocate(_ context.Context, _ string, _ *int, _ *int) (int, error) {
	s.calls++
	if s.calls <= len(s.errs) {
		return 0, s.errs[s.calls-1]
	}
	return s.id, nil
}

func fastRetry(tries uint) RetryConfig {
	return RetryConfig{MaxTries: tries, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestAllocateWithRetry_RetriesCapacityErrors(t *testing.T) {
	noCap := fmt.Errorf("allocating: %w", ErrNoCapacity)
	a := &scriptedAllocator{errs: []error{noCap, noCap}, id: 3}

	id, err := AllocateWithRetry(context.Background(), a, "v", nil, nil, fastRetry(5))

	require.NoError(t, err)
	assert.Equal(t, 3, id)
	assert.Equal(t, 3, a.calls)
}

func TestAllocateWithRetry_StopsOnOtherErrors(t *testing.T) {
	boom := errors.New("inventory unavailable")
	a := &scriptedAllocator{errs: []error{boom}}

	_, err := AllocateWithRetry(context.Background(), a, "v", nil, nil, fastRetry(5))

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.calls)
}

func TestAllocateWithRetry_GivesUpAfterMaxTries(t *testing.T) {
	a := &scriptedAllocator{errs: []error{ErrNoCapacity, ErrNoCapacity, ErrNoCapacity, ErrNoCapacity}}

	_, err := AllocateWithRetry(context.Background(), a, "v", nil, nil, fastRetry(3))

	assert.ErrorIs(t, err, ErrNoCapacity)
	assert.Equal(t, 3, a.calls)
}

func TestAllocateWithRetry_RealEngine(t *testing.T) {
	// GIVEN an engine whose only accelerator is full, then frees memory
	engine, inv := newTestEngine(t, FirstFit, []Accelerator{{ID: 0, MemoryTotalMB: 1000, MemoryFreeMB: 0}})
	req := 500

	attempts := 0
	wrapped := allocatorFunc(func(ctx context.Context, v string, mem, prefer *int) (int, error) {
		attempts++
		if attempts == 2 {
			inv.Update(0, func(a *Accelerator) { a.MemoryFreeMB = 1000 })
		}
		return engine.Allocate(ctx, v, mem, prefer)
	})

	id, err := AllocateWithRetry(context.Background(), wrapped, "v", &req, nil, fastRetry(5))
	require.NoError(t, err)
	assert.Equal(t, 0, id)
	assert.Equal(t, 2, attempts)
}

type allocatorFunc func(ctx context.Context, variant string, memoryRequiredMB, preferAccelerator *int) (int, error)

func (f allocatorFunc) Allocate(ctx context.Context, variant string, memoryRequiredMB, preferAccelerator *int) (int, error) {
	return f(ctx, variant, memoryRequiredMB, preferAccelerator)
}
