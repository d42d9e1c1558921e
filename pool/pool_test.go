package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jcmrest/jcmrest/core"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	p := New(cfg)
	require.NoError(t, p.Start())
	t.Cleanup(func() { _ = p.Stop(context.Background()) })
	return p
}

func TestNewAppliesDefaults(t *testing.T) {
	p := New(Config{})
	assert.Equal(t, 4, p.config.Workers)
	assert.Equal(t, 30*time.Second, p.config.ShutdownTimeout)
	assert.Equal(t, 0, cap(p.queue))

	p = New(Config{QueueSize: -1})
	assert.Equal(t, 1024, cap(p.queue))
}

func TestPoolRunsJobsInFIFOOrder(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 16})

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	// Queue everything before any worker runs so the order is the queue order.
	for i := 0; i < 10; i++ {
		wg.Add(1)
		i := i
		p.queue <- queuedJob{job: func(context.Context) {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}, enqueued: time.Now()}
		p.queued.Add(1)
	}
	require.NoError(t, p.Start())
	defer func() { _ = p.Stop(context.Background()) }()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestPoolBoundsInFlightJobs(t *testing.T) {
	const workers, jobs = 3, 20
	p := startPool(t, Config{Workers: workers, QueueSize: jobs})

	var current, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), func(context.Context) {
			defer wg.Done()
			n := current.Add(1)
			for {
				m := peak.Load()
				if n <= m || peak.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
		}))
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(workers))
	require.Eventually(t, func() bool { return p.Stats().Completed == jobs }, time.Second, time.Millisecond)
	stats := p.Stats()
	assert.LessOrEqual(t, stats.MaxInFlight, int64(workers))
	assert.Zero(t, stats.InFlight)
	assert.Zero(t, stats.Queued)
}

func TestPoolRecoversPanics(t *testing.T) {
	p := startPool(t, Config{Workers: 1})

	done := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) { panic("boom") }))
	require.NoError(t, p.Submit(context.Background(), func(context.Context) { close(done) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive a panicking job")
	}
	assert.Equal(t, int64(1), p.Stats().Panics)
}

func TestSubmitBlocksUntilContextEnds(t *testing.T) {
	p := startPool(t, Config{Workers: 1, QueueSize: 0})

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) {
		close(started)
		<-release
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func(context.Context) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, p.Stats().Queued)

	close(release)
}

func TestSubmitRejectsWhenStopped(t *testing.T) {
	p := New(Config{Workers: 1})
	err := p.Submit(context.Background(), func(context.Context) {})
	assert.ErrorIs(t, err, core.ErrPoolStopped)

	require.NoError(t, p.Start())
	assert.ErrorIs(t, p.Start(), core.ErrAlreadyStarted)
	require.NoError(t, p.Stop(context.Background()))
	assert.False(t, p.Running())

	err = p.Submit(context.Background(), func(context.Context) {})
	assert.ErrorIs(t, err, core.ErrPoolStopped)
	assert.ErrorIs(t, p.Start(), core.ErrPoolStopped)
	assert.NoError(t, p.Stop(context.Background()))

	assert.ErrorIs(t, p.Submit(context.Background(), nil), core.ErrInvalidRequest)
}

func TestStopCancelsRunningAndDrainsQueuedJobs(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 4})
	require.NoError(t, p.Start())

	started := make(chan struct{})
	var running, drained atomic.Bool
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		running.Store(true)
	}))
	<-started
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {
		drained.Store(ctx.Err() != nil)
	}))

	require.NoError(t, p.Stop(context.Background()))
	assert.True(t, running.Load())
	assert.True(t, drained.Load())
	assert.Equal(t, int64(2), p.Stats().Completed)
}

func TestSubmitRacingStopRunsEveryAcceptedJob(t *testing.T) {
	for round := 0; round < 20; round++ {
		p := New(Config{Workers: 2, QueueSize: 64})
		require.NoError(t, p.Start())

		var accepted, ran atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					err := p.Submit(context.Background(), func(context.Context) { ran.Add(1) })
					if err != nil {
						assert.ErrorIs(t, err, core.ErrPoolStopped)
						return
					}
					accepted.Add(1)
				}
			}()
		}

		time.Sleep(time.Millisecond)
		require.NoError(t, p.Stop(context.Background()))
		wg.Wait()
		assert.Equal(t, accepted.Load(), ran.Load(), "round %d", round)
		assert.Zero(t, p.Stats().Queued)
	}
}

func TestStopHonoursShutdownTimeout(t *testing.T) {
	p := New(Config{Workers: 1, ShutdownTimeout: 20 * time.Millisecond})
	require.NoError(t, p.Start())

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) {
		close(started)
		<-release
	}))
	<-started

	err := p.Stop(context.Background())
	assert.ErrorIs(t, err, core.ErrTimeout)

	close(release)
	require.Eventually(t, func() bool { return p.Stats().InFlight == 0 }, time.Second, time.Millisecond)
	// let the waiter goroutine from Stop finish before the leak check
	time.Sleep(10 * time.Millisecond)
}
