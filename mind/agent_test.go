package mind

import (
	"context"
	"fmt"
	"strconv"
	"sync"
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

func newTestAgent(t *testing.T, src string, opts ...Option) *Agent {
	t.Helper()
	prog, err := ParseProgram(src)
	require.NoError(t, err)
	a := NewAgent("bob", prog, opts...)
	require.NoError(t, a.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx)
	})
	return a
}

// runCommand injects cmd and waits for its drop event.
func runCommand(t *testing.T, a *Agent, cmd string) Event {
	t.Helper()
	body, err := CompileCommand(cmd)
	require.NoError(t, err)
	it := NewCommandIntention(body)

	ch := make(chan Event, 1)
	tok := a.AddCompletionListener(func(ev Event) bool {
		return ev.Kind == EventDropped && ev.IntentionID == it.ID
	}, func(ev Event) { ch <- ev })
	defer a.RemoveCompletionListener(tok)

	a.InjectIntention(it)
	a.Wake()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("command %q did not complete", cmd)
		return Event{}
	}
}

func TestAgentAddBeliefCommand(t *testing.T) {
	a := newTestAgent(t, "")

	ev := runCommand(t, a, "+raining")
	assert.Equal(t, OutcomeSucceeded, ev.Outcome)
	assert.Empty(t, ev.Unifier.Strings())
	assert.True(t, a.HasBelief(Atom("raining")))
	assert.Contains(t, a.Beliefs(), "raining[source(self)]")
}

func TestAgentArithmeticCommand(t *testing.T) {
	a := newTestAgent(t, "")

	ev := runCommand(t, a, "X = 1+2")
	assert.Equal(t, OutcomeSucceeded, ev.Outcome)
	assert.Equal(t, map[string]string{"X": "3"}, ev.Unifier.Strings())
	assert.Equal(t, "{X=3}", ev.Unifier.String())
}

func TestAgentBindingsSurviveEitherOutcome(t *testing.T) {
	a := newTestAgent(t, "")

	ev := runCommand(t, a, "X = 1+2; Y = X * 2")
	require.Equal(t, OutcomeSucceeded, ev.Outcome, ev.Reason)
	assert.Equal(t, map[string]string{"X": "3", "Y": "6"}, ev.Unifier.Strings())

	ev = runCommand(t, a, "X = 1+2; .fail")
	require.Equal(t, OutcomeFailed, ev.Outcome)
	assert.Equal(t, map[string]string{"X": "3"}, ev.Unifier.Strings())
}

func TestAgentSubGoalBindsCaller(t *testing.T) {
	a := newTestAgent(t, `
		+!double(X, Y) <- Y = X * 2.
		+!quad(X, Y) <- !double(X, Z); !double(Z, Y).
	`)

	ev := runCommand(t, a, "!double(4, R)")
	require.Equal(t, OutcomeSucceeded, ev.Outcome, ev.Reason)
	assert.Equal(t, map[string]string{"R": "8"}, ev.Unifier.Strings())

	ev = runCommand(t, a, "!quad(3, R)")
	require.Equal(t, OutcomeSucceeded, ev.Outcome, ev.Reason)
	assert.Equal(t, map[string]string{"R": "12"}, ev.Unifier.Strings())
}

func TestAgentPlanSelectionUsesContext(t *testing.T) {
	a := newTestAgent(t, `
		price(banana, 45).
		+!rate(F, expensive) : price(F, P) & P > 40.
		+!rate(F, cheap).
	`)

	ev := runCommand(t, a, "!rate(banana, R)")
	assert.Equal(t, "expensive", ev.Unifier.Strings()["R"])

	ev = runCommand(t, a, "!rate(apple, R)")
	assert.Equal(t, "cheap", ev.Unifier.Strings()["R"])
}

func TestAgentTestGoal(t *testing.T) {
	a := newTestAgent(t, "price(banana, 45).")

	ev := runCommand(t, a, "?price(banana, P)")
	assert.Equal(t, OutcomeSucceeded, ev.Outcome)
	assert.Equal(t, "45", ev.Unifier.Strings()["P"])

	ev = runCommand(t, a, "?price(apple, P)")
	assert.Equal(t, OutcomeFailed, ev.Outcome)
}

func TestAgentBeliefUpdates(t *testing.T) {
	a := newTestAgent(t, "count(1).")

	runCommand(t, a, "-+count(2)")
	assert.False(t, a.HasBelief(NewStruct("count", Number(1))))
	assert.True(t, a.HasBelief(NewStruct("count", Number(2))))

	ev := runCommand(t, a, "-count(X)")
	assert.Equal(t, OutcomeSucceeded, ev.Outcome)
	assert.Equal(t, "2", ev.Unifier.Strings()["X"])
	assert.Empty(t, a.Beliefs())

	ev = runCommand(t, a, "-missing")
	assert.Equal(t, OutcomeSucceeded, ev.Outcome)
}

func TestAgentFailures(t *testing.T) {
	a := newTestAgent(t, "")

	tests := []string{
		".fail",
		"!unknown_goal",
		"1 > 2",
		".no_such_action",
		"+p(X)",
		"X = 1 / 0",
	}
	for _, cmd := range tests {
		t.Run(cmd, func(t *testing.T) {
			ev := runCommand(t, a, cmd)
			assert.Equal(t, OutcomeFailed, ev.Outcome)
			assert.NotEmpty(t, ev.Reason)
		})
	}
}

func TestAgentFailureKeepsEarlierBindings(t *testing.T) {
	a := newTestAgent(t, "")

	ev := runCommand(t, a, "X = 5; .fail")
	assert.Equal(t, OutcomeFailed, ev.Outcome)
	assert.Equal(t, "5", ev.Unifier.Strings()["X"])
}

func TestAgentPrintReachesLogHandlers(t *testing.T) {
	a := newTestAgent(t, "")

	var mu sync.Mutex
	var lines []string
	tok := a.AddLogHandler(func(rec LogRecord) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, rec.Message)
	})
	defer a.RemoveLogHandler(tok)

	runCommand(t, a, `.print("hello ", world, " ", 42)`)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"hello world 42"}, lines)
}

func TestAgentInitialGoalRunsOnStart(t *testing.T) {
	prog, err := ParseProgram(`!start. +!start <- .print("Hi"); +started.`)
	require.NoError(t, err)
	a := NewAgent("alice", prog)

	got := make(chan string, 4)
	a.AddLogHandler(func(rec LogRecord) { got <- rec.Message })
	require.NoError(t, a.Start())
	defer func() { _ = a.Stop(context.Background()) }()

	select {
	case msg := <-got:
		assert.Equal(t, "Hi", msg)
	case <-time.After(5 * time.Second):
		t.Fatal("initial goal did not run")
	}
	require.Eventually(t, func() bool { return a.HasBelief(Atom("started")) }, 5*time.Second, 5*time.Millisecond)
	assert.ErrorContains(t, a.Start(), "already started")
}

func TestAgentBeliefEventTriggersPlan(t *testing.T) {
	a := newTestAgent(t, "+hot <- +fan_on.")

	runCommand(t, a, "+hot")
	require.Eventually(t, func() bool { return a.HasBelief(Atom("fan_on")) }, 5*time.Second, 5*time.Millisecond)
}

func TestAgentAchieveNewRunsSeparately(t *testing.T) {
	a := newTestAgent(t, "+!later(X) <- +done(X).")

	ev := runCommand(t, a, "!!later(7)")
	assert.Equal(t, OutcomeSucceeded, ev.Outcome)
	require.Eventually(t, func() bool {
		return a.HasBelief(NewStruct("done", Number(7)))
	}, 5*time.Second, 5*time.Millisecond)
}

func TestAgentWaitSuspendsAndResumes(t *testing.T) {
	a := newTestAgent(t, "")

	var mu sync.Mutex
	var kinds []EventKind
	tok := a.AddCompletionListener(nil, func(ev Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})
	defer a.RemoveCompletionListener(tok)

	start := time.Now()
	ev := runCommand(t, a, "X = 1; .wait(30); +waited(X)")
	assert.Equal(t, OutcomeSucceeded, ev.Outcome)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.True(t, a.HasBelief(NewStruct("waited", Number(1))))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventKind{EventSuspended, EventResumed, EventDropped}, kinds)
}

func TestAgentOtherIntentionsRunWhileOneWaits(t *testing.T) {
	a := newTestAgent(t, "")

	slow := make(chan Event, 1)
	body, err := CompileCommand(".wait(200); +slow")
	require.NoError(t, err)
	it := NewCommandIntention(body)
	tok := a.AddCompletionListener(func(ev Event) bool {
		return ev.Kind == EventDropped && ev.IntentionID == it.ID
	}, func(ev Event) { slow <- ev })
	defer a.RemoveCompletionListener(tok)
	a.InjectIntention(it)
	a.Wake()

	ev := runCommand(t, a, "+fast")
	assert.Equal(t, OutcomeSucceeded, ev.Outcome)
	assert.False(t, a.HasBelief(Atom("slow")))

	select {
	case ev := <-slow:
		assert.Equal(t, OutcomeSucceeded, ev.Outcome)
	case <-time.After(5 * time.Second):
		t.Fatal("waiting intention never resumed")
	}
}

func TestAgentStopAbortsSuspendedIntentions(t *testing.T) {
	prog, err := ParseProgram("")
	require.NoError(t, err)
	a := NewAgent("bob", prog)
	require.NoError(t, a.Start())

	body, err := CompileCommand("+before; .suspend; +after")
	require.NoError(t, err)
	it := NewCommandIntention(body)

	events := make(chan Event, 4)
	a.AddCompletionListener(func(ev Event) bool { return ev.IntentionID == it.ID }, func(ev Event) { events <- ev })
	a.InjectIntention(it)
	a.Wake()

	select {
	case ev := <-events:
		require.Equal(t, EventSuspended, ev.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("intention was not suspended")
	}
	st := a.Status()
	require.Equal(t, 1, st.NbIntentions)
	assert.True(t, st.Intentions[0].Suspended)

	require.NoError(t, a.Stop(context.Background()))
	ev := <-events
	assert.Equal(t, EventDropped, ev.Kind)
	assert.Equal(t, OutcomeAborted, ev.Outcome)
	assert.False(t, a.Running())
	assert.True(t, a.HasBelief(Atom("before")))
	assert.False(t, a.HasBelief(Atom("after")))
}

func TestAgentStopTimeoutAbortsQueuedIntentions(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	a := NewAgent("bob", nil, WithAction(".block", func(*ActionContext) error {
		close(entered)
		<-release
		return nil
	}))
	require.NoError(t, a.Start())

	events := make(chan Event, 4)
	a.AddCompletionListener(func(ev Event) bool { return ev.Kind == EventDropped }, func(ev Event) { events <- ev })

	body, err := CompileCommand(".block")
	require.NoError(t, err)
	busy := NewCommandIntention(body)
	a.InjectIntention(busy)
	a.Wake()
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("blocking action did not start")
	}

	body, err = CompileCommand("+x")
	require.NoError(t, err)
	queued := NewCommandIntention(body)
	a.InjectIntention(queued)

	// the loop is stuck in .block, so Stop gives up on it
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.Stop(ctx), core.ErrCancelled)

	select {
	case ev := <-events:
		assert.Equal(t, queued.ID, ev.IntentionID)
		assert.Equal(t, OutcomeAborted, ev.Outcome)
	case <-time.After(5 * time.Second):
		t.Fatal("queued intention was not aborted")
	}

	close(release)
	select {
	case ev := <-events:
		assert.Equal(t, busy.ID, ev.IntentionID)
	case <-time.After(5 * time.Second):
		t.Fatal("running intention never finished")
	}
	assert.False(t, a.HasBelief(Atom("x")))
}

func TestAgentInjectAfterStopIsAborted(t *testing.T) {
	a := NewAgent("bob", nil)
	require.NoError(t, a.Start())
	require.NoError(t, a.Stop(context.Background()))

	body, err := CompileCommand("+x")
	require.NoError(t, err)
	it := NewCommandIntention(body)
	var got Event
	a.AddCompletionListener(nil, func(ev Event) { got = ev })
	a.InjectIntention(it)

	assert.Equal(t, it.ID, got.IntentionID)
	assert.Equal(t, OutcomeAborted, got.Outcome)
	assert.Error(t, a.Deliver(Message{Performative: PerformativeTell, Sender: "x", Content: "a"}))
}

func TestAgentDeliverMessages(t *testing.T) {
	a := newTestAgent(t, "+!gg(X) <- +got(X).")

	require.NoError(t, a.Deliver(Message{ID: "34", Performative: PerformativeTell, Sender: "jomi", Receiver: "bob", Content: "vl(10)"}))
	require.Eventually(t, func() bool {
		for _, b := range a.Beliefs() {
			if b == "vl(10)[source(jomi)]" {
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, a.Deliver(Message{ID: "35", Performative: PerformativeUntell, Sender: "jomi", Content: "vl(10)"}))
	require.Eventually(t, func() bool { return !a.HasBelief(NewStruct("vl", Number(10))) }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, a.Deliver(Message{ID: "39", Performative: PerformativeAchieve, Sender: "jomi", Content: "gg(13)"}))
	require.Eventually(t, func() bool { return a.HasBelief(NewStruct("got", Number(13))) }, 5*time.Second, 5*time.Millisecond)

	assert.ErrorContains(t, a.Deliver(Message{Performative: PerformativeTell, Content: "vl("}), "parse error")
}

func TestAgentMyNameAndConcat(t *testing.T) {
	a := newTestAgent(t, "")

	ev := runCommand(t, a, `.my_name(N); .concat("a", "b", S); .concat([1], [2, 3], L)`)
	require.Equal(t, OutcomeSucceeded, ev.Outcome, ev.Reason)
	assert.Equal(t, map[string]string{"N": "bob", "S": `"ab"`, "L": "[1,2,3]"}, ev.Unifier.Strings())
}

func TestAgentCustomActionPanicFailsIntention(t *testing.T) {
	a := newTestAgent(t, "", WithAction(".boom", func(*ActionContext) error { panic("boom") }))

	ev := runCommand(t, a, ".boom")
	assert.Equal(t, OutcomeFailed, ev.Outcome)
	assert.Contains(t, ev.Reason, "panicked")

	ev = runCommand(t, a, "+still_alive")
	assert.Equal(t, OutcomeSucceeded, ev.Outcome)
}

func TestAgentStepCapYieldsToOthers(t *testing.T) {
	a := newTestAgent(t, "+!loop(0). +!loop(N) : N > 0 <- !loop(N-1).", WithMaxSteps(5))

	ev := runCommand(t, a, "!loop(50)")
	assert.Equal(t, OutcomeSucceeded, ev.Outcome, ev.Reason)
}

func TestAgentPlansStatusAndSuggestions(t *testing.T) {
	a := newTestAgent(t, `@hello +!hello(Who) <- .print("hi ", Who). +news <- true.`)

	plans, err := ParsePlans("@bye +!bye <- .print(bye).")
	require.NoError(t, err)
	assert.Equal(t, []string{"bye"}, a.AddPlans(plans))

	assert.Contains(t, a.Plans("all"), "@hello +!hello(Who)")
	assert.Contains(t, a.Plans(""), "@bye")
	assert.Equal(t, "@bye +!bye <- .print(bye).\n", a.Plans("bye"))
	assert.Empty(t, a.Plans("nope"))

	s := a.Suggestions()
	assert.Contains(t, s, "!hello(Who)")
	assert.Contains(t, s, "!bye")
	assert.Contains(t, s, "+news")
	assert.Contains(t, s, ".print")

	require.Eventually(t, func() bool { return a.Status().Idle }, 5*time.Second, 5*time.Millisecond)
	assert.Zero(t, a.Status().NbIntentions)
	assert.Positive(t, a.Status().Cycle)
}

func TestAgentConcurrentCommandsAreIsolated(t *testing.T) {
	a := newTestAgent(t, "")

	const n = 20
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := runCommand(t, a, fmt.Sprintf("X = %d", i))
			results[i] = ev.Unifier.Strings()["X"]
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.Equal(t, strconv.Itoa(i), results[i])
	}
	assert.Zero(t, a.CompletionListenerCount())
}
