package freshness

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nfrund/fellowship/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	reasons []string
	block   chan struct{}
	active  atomic.Int32
	overlap atomic.Bool
}

func (r *recorder) refresh(ctx context.Context, reason string) error {
	if r.active.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer r.active.Add(-1)

	r.mu.Lock()
	r.reasons = append(r.reasons, reason)
	block := r.block
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}
	return nil
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.reasons...)
}

func TestReconciler_InitialRunAndTriggers(t *testing.T) {
	rec := &recorder{}
	r := New("test", rec.refresh, WithLogger(logging.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	require.Eventually(t, func() bool { return len(rec.get()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, ReasonInitial, rec.get()[0])

	r.Trigger("event")
	require.Eventually(t, func() bool { return len(rec.get()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, "event", rec.get()[1])
}

func TestReconciler_CoalescesWhileBusy(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	r := New("test", rec.refresh, WithLogger(logging.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	require.Eventually(t, func() bool { return len(rec.get()) == 1 }, time.Second, time.Millisecond)

	// The initial refresh is blocked; these collapse into one follow-up.
	r.Trigger("first")
	r.Trigger("second")
	r.Trigger("third")

	rec.mu.Lock()
	close(rec.block)
	rec.block = nil
	rec.mu.Unlock()

	require.Eventually(t, func() bool { return len(rec.get()) == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{ReasonInitial, "first"}, rec.get())
	assert.False(t, rec.overlap.Load(), "refreshes never overlap")
}

func TestReconciler_Interval(t *testing.T) {
	rec := &recorder{}
	r := New("test", rec.refresh, WithInterval(10*time.Millisecond), WithoutInitialRun(), WithLogger(logging.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)

	require.Eventually(t, func() bool { return len(rec.get()) >= 3 }, time.Second, time.Millisecond)
	cancel()
	for _, reason := range rec.get() {
		assert.Equal(t, ReasonTick, reason)
	}
}

func TestReconciler_TriggerBeforeRun(t *testing.T) {
	rec := &recorder{}
	r := New("test", rec.refresh, WithoutInitialRun(), WithLogger(logging.Discard()))
	r.Trigger("early")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	require.Eventually(t, func() bool { return len(rec.get()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "early", rec.get()[0])
}

func TestReconciler_ErrorsDoNotStopLoop(t *testing.T) {
	var calls atomic.Int32
	r := New("test", func(context.Context, string) error {
		calls.Add(1)
		return errors.New("offline")
	}, WithLogger(logging.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	r.Trigger("again")
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
}
