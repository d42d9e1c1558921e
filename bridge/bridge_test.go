package bridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jcmrest/jcmrest/core"
	"github.com/jcmrest/jcmrest/mind"
	"github.com/jcmrest/jcmrest/pool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// countingAgent records injections on top of a real agent.
type countingAgent struct {
	*mind.Agent
	injected atomic.Int64
}

func (c *countingAgent) InjectIntention(it *mind.Intention) {
	c.injected.Add(1)
	c.Agent.InjectIntention(it)
}

type mapRegistry map[string]AgentHandle

func (r mapRegistry) Lookup(name string) (AgentHandle, error) {
	if a, ok := r[name]; ok {
		return a, nil
	}
	return nil, core.NewAgentError("Lookup", name, core.ErrAgentNotFound)
}

func newTestAgent(t *testing.T, src string) *countingAgent {
	t.Helper()
	prog, err := mind.ParseProgram(src)
	require.NoError(t, err)
	a := mind.NewAgent("bob", prog)
	require.NoError(t, a.Start())
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return &countingAgent{Agent: a}
}

func newTestPool(t *testing.T, workers int) *pool.Pool {
	t.Helper()
	p := pool.New(pool.Config{Workers: workers, QueueSize: 64, ShutdownTimeout: 5 * time.Second})
	require.NoError(t, p.Start())
	t.Cleanup(func() { _ = p.Stop(context.Background()) })
	return p
}

func newTestBridge(t *testing.T, p *pool.Pool, timeout time.Duration) *Bridge {
	t.Helper()
	b, err := NewBridge(p, Config{CommandTimeout: timeout})
	require.NoError(t, err)
	return b
}

func TestNewBridgeRequiresTimeout(t *testing.T) {
	p := pool.New(pool.Config{Workers: 1})

	_, err := NewBridge(p, Config{})
	assert.ErrorIs(t, err, core.ErrMissingConfiguration)
	assert.True(t, core.IsConfigurationError(err))

	_, err = NewBridge(nil, Config{CommandTimeout: time.Second})
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)

	b, err := NewBridge(p, Config{CommandTimeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, time.Second, b.Timeout())
}

func TestExecuteReturnsBindings(t *testing.T) {
	agent := newTestAgent(t, "")
	b := newTestBridge(t, newTestPool(t, 2), 5*time.Second)

	res, err := b.Execute(context.Background(), agent, "X = 1+2")
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.NotEmpty(t, res.IntentionID)
	assert.Equal(t, map[string]string{"X": "3"}, res.Bindings())
	assert.Zero(t, agent.CompletionListenerCount())

	res, err = b.Execute(context.Background(), agent, "+raining.")
	require.NoError(t, err)
	assert.Empty(t, res.Bindings())
	assert.True(t, agent.HasBelief(mind.Atom("raining")))
}

func TestExecuteBindingsOnSuccessAndFailure(t *testing.T) {
	agent := newTestAgent(t, "")
	b := newTestBridge(t, newTestPool(t, 1), 5*time.Second)

	ok, err := b.Execute(context.Background(), agent, "X = 1+2")
	require.NoError(t, err)
	failed, err := b.Execute(context.Background(), agent, "X = 1+2; .fail")
	require.NoError(t, err)

	assert.True(t, ok.Succeeded())
	assert.False(t, failed.Succeeded())
	assert.Equal(t, map[string]string{"X": "3"}, ok.Bindings())
	assert.Equal(t, ok.Bindings(), failed.Bindings())
}

func TestExecuteParseErrorNeverInjects(t *testing.T) {
	agent := newTestAgent(t, "")
	b := newTestBridge(t, newTestPool(t, 1), 5*time.Second)

	for _, cmd := range []string{"", "+", "price(", "foo"} {
		res, err := b.Execute(context.Background(), agent, cmd)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, core.ErrParse, cmd)
		var pe *mind.ParseError
		assert.True(t, errors.As(err, &pe))
	}
	assert.Zero(t, agent.injected.Load())
	assert.Zero(t, agent.CompletionListenerCount())
	assert.Equal(t, int64(4), b.Stats().ParseErrors)
}

func TestExecuteFailedCommandReturnsResult(t *testing.T) {
	agent := newTestAgent(t, "")
	b := newTestBridge(t, newTestPool(t, 1), 5*time.Second)

	res, err := b.Execute(context.Background(), agent, "X = 4; .fail")
	require.NoError(t, err)
	assert.False(t, res.Succeeded())
	assert.Equal(t, mind.OutcomeFailed, res.Outcome)
	assert.Equal(t, "4", res.Bindings()["X"])
	assert.NotEmpty(t, res.Reason)
}

func TestExecuteTimesOut(t *testing.T) {
	agent := newTestAgent(t, "")
	b := newTestBridge(t, newTestPool(t, 1), 50*time.Millisecond)

	start := time.Now()
	res, err := b.Execute(context.Background(), agent, ".suspend")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, core.ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Zero(t, agent.CompletionListenerCount())
	assert.Equal(t, int64(1), b.Stats().Timeouts)

	// the agent keeps working after an abandoned command
	res, err = b.Execute(context.Background(), agent, "Y = 2")
	require.NoError(t, err)
	assert.Equal(t, "2", res.Bindings()["Y"])
}

func TestExecuteHonoursCallerCancellation(t *testing.T) {
	agent := newTestAgent(t, "")
	b := newTestBridge(t, newTestPool(t, 1), 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := b.Execute(ctx, agent, ".suspend")
	assert.ErrorIs(t, err, core.ErrCancelled)
	assert.NotErrorIs(t, err, core.ErrTimeout)
	assert.Zero(t, agent.CompletionListenerCount())
	assert.Equal(t, int64(1), b.Stats().Cancelled)
}

func TestQueuedCommandThatTimesOutIsNeverInjected(t *testing.T) {
	agent := newTestAgent(t, "")
	p := newTestPool(t, 1)
	b := newTestBridge(t, p, 30*time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) {
		close(started)
		<-release
	}))
	<-started

	_, err := b.Execute(context.Background(), agent, "+late")
	assert.ErrorIs(t, err, core.ErrTimeout)

	close(release)
	require.Eventually(t, func() bool { return p.Stats().Queued == 0 && p.Stats().InFlight == 0 }, time.Second, time.Millisecond)

	assert.Zero(t, agent.injected.Load())
	assert.False(t, agent.HasBelief(mind.Atom("late")))
	assert.Equal(t, int64(1), b.Stats().NotInjected)
}

func TestConcurrentCommandsKeepTheirOwnBindings(t *testing.T) {
	agent := newTestAgent(t, "")
	b := newTestBridge(t, newTestPool(t, 4), 5*time.Second)

	const n = 32
	var wg sync.WaitGroup
	got := make([]map[string]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := b.Execute(context.Background(), agent, fmt.Sprintf("X = %d; Y = X * 10", i))
			errs[i] = err
			if err == nil {
				got[i] = res.Bindings()
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, map[string]string{"X": strconv.Itoa(i), "Y": strconv.Itoa(i * 10)}, got[i])
	}
	assert.Zero(t, agent.CompletionListenerCount())
	// every other command's drop event reached each gate as a mismatch
	assert.Positive(t, b.Stats().Mismatches)
}

func TestInFlightCommandsBoundedByPoolSize(t *testing.T) {
	agent := newTestAgent(t, "")
	const workers, commands = 2, 8
	p := newTestPool(t, workers)
	b := newTestBridge(t, p, 5*time.Second)

	var wg sync.WaitGroup
	var failures atomic.Int64
	for i := 0; i < commands; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.Execute(context.Background(), agent, ".wait(10)"); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, failures.Load())
	require.Eventually(t, func() bool { return p.Stats().Completed == commands }, time.Second, time.Millisecond)
	assert.LessOrEqual(t, p.Stats().MaxInFlight, int64(workers))
}

func TestExecuteNamed(t *testing.T) {
	agent := newTestAgent(t, "")
	p := newTestPool(t, 1)
	b, err := NewBridge(p, Config{CommandTimeout: time.Second, Registry: mapRegistry{"bob": agent}})
	require.NoError(t, err)

	res, err := b.ExecuteNamed(context.Background(), "bob", ".my_name(N)")
	require.NoError(t, err)
	assert.Equal(t, "bob", res.Bindings()["N"])

	_, err = b.ExecuteNamed(context.Background(), "alice", "+x")
	assert.ErrorIs(t, err, core.ErrAgentNotFound)

	noRegistry := newTestBridge(t, p, time.Second)
	_, err = noRegistry.ExecuteNamed(context.Background(), "bob", "+x")
	assert.ErrorIs(t, err, core.ErrNotInitialized)
}

func TestExecuteOnStoppedPool(t *testing.T) {
	agent := newTestAgent(t, "")
	p := pool.New(pool.Config{Workers: 1})
	b := newTestBridge(t, p, time.Second)

	_, err := b.Execute(context.Background(), agent, "+x")
	assert.ErrorIs(t, err, core.ErrPoolStopped)
	assert.Zero(t, agent.CompletionListenerCount())
}
