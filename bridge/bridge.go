// Package bridge turns an agent command into a synchronous call.
//
// An agent runs its intentions on its own loop. The bridge compiles a
// command, wraps it in a fresh intention, registers a completion gate for
// that intention and only then injects it through the execution pool. The
// caller blocks on the gate until the agent drops the intention, the
// command timeout fires or the caller gives up.
package bridge

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jcmrest/jcmrest/core"
	"github.com/jcmrest/jcmrest/mind"
	"github.com/jcmrest/jcmrest/pool"
)

// AgentHandle is the part of an agent the bridge needs.
type AgentHandle interface {
	Name() string
	Wake()
	InjectIntention(it *mind.Intention)
	AddCompletionListener(match func(mind.Event) bool, fn func(mind.Event)) mind.ListenerToken
	RemoveCompletionListener(tok mind.ListenerToken)
}

// Registry resolves agent names.
type Registry interface {
	Lookup(name string) (AgentHandle, error)
}

// Submitter is the execution pool as seen by the bridge.
type Submitter interface {
	Submit(ctx context.Context, job pool.Job) error
}

// Config configures a Bridge.
type Config struct {
	// CommandTimeout bounds every Execute call. Required.
	CommandTimeout time.Duration

	// Registry is used by ExecuteNamed.
	Registry Registry

	Logger    core.Logger
	Telemetry core.Telemetry
}

// Result is the outcome of one command. Unifier holds the bindings of the
// command's variables whether it succeeded or failed.
type Result struct {
	IntentionID string
	Outcome     mind.Outcome
	Unifier     mind.Unifier
	Reason      string
}

// Bindings exports the unifier as variable name to text.
func (r *Result) Bindings() map[string]string {
	return r.Unifier.Strings()
}

// Succeeded reports whether the intention finished its body.
func (r *Result) Succeeded() bool {
	return r.Outcome == mind.OutcomeSucceeded
}

// Stats counts bridge activity.
type Stats struct {
	Executed    int64 `json:"executed"`
	ParseErrors int64 `json:"parse_errors"`
	Timeouts    int64 `json:"timeouts"`
	Cancelled   int64 `json:"cancelled"`
	NotInjected int64 `json:"not_injected"`
	Mismatches  int64 `json:"listener_mismatches"`
}

// Bridge executes commands on agents.
type Bridge struct {
	pool      Submitter
	timeout   time.Duration
	registry  Registry
	logger    core.Logger
	telemetry core.Telemetry

	executed    atomic.Int64
	parseErrors atomic.Int64
	timeouts    atomic.Int64
	cancelled   atomic.Int64
	notInjected atomic.Int64
	mismatches  atomic.Int64
}

// NewBridge validates cfg and builds a bridge on top of the given pool.
func NewBridge(p Submitter, cfg Config) (*Bridge, error) {
	if p == nil {
		return nil, &core.FrameworkError{Op: "bridge.NewBridge", Kind: "config", Message: "execution pool is required", Err: core.ErrInvalidConfiguration}
	}
	if cfg.CommandTimeout <= 0 {
		return nil, &core.FrameworkError{Op: "bridge.NewBridge", Kind: "config", Message: "command timeout must be positive", Err: core.ErrMissingConfiguration}
	}
	b := &Bridge{
		pool:      p,
		timeout:   cfg.CommandTimeout,
		registry:  cfg.Registry,
		logger:    core.WithComponent(cfg.Logger, "framework/bridge"),
		telemetry: cfg.Telemetry,
	}
	if b.telemetry == nil {
		b.telemetry = &core.NoOpTelemetry{}
	}
	return b, nil
}

// Timeout is the configured command timeout.
func (b *Bridge) Timeout() time.Duration {
	return b.timeout
}

// ExecuteNamed looks the agent up in the configured registry and runs command on it.
func (b *Bridge) ExecuteNamed(ctx context.Context, agentName, command string) (*Result, error) {
	if b.registry == nil {
		return nil, core.NewFrameworkError("bridge.ExecuteNamed", "config", core.ErrNotInitialized)
	}
	agent, err := b.registry.Lookup(agentName)
	if err != nil {
		return nil, err
	}
	return b.Execute(ctx, agent, command)
}

// job claim states
const (
	claimPending int32 = iota
	claimInjected
	claimAbandoned
)

// Execute compiles command, runs it on agent and waits for the intention to
// be dropped. Parse errors return before anything reaches the agent. On
// timeout or cancellation the intention, if already injected, keeps running.
func (b *Bridge) Execute(ctx context.Context, agent AgentHandle, command string) (*Result, error) {
	start := time.Now()
	ctx, span := b.telemetry.StartSpan(ctx, "command.execute")
	defer span.End()
	span.SetAttribute("agent", agent.Name())

	body, err := mind.CompileCommand(command)
	if err != nil {
		b.parseErrors.Add(1)
		span.RecordError(err)
		b.record(agent.Name(), "parse_error", start)
		return nil, core.NewAgentError("bridge.Execute", agent.Name(), err)
	}

	it := mind.NewCommandIntention(body)
	span.SetAttribute("intention_id", it.ID)

	// The gate must be registered before the intention can possibly run.
	gate := NewGate(it.ID)
	tok := agent.AddCompletionListener(func(ev mind.Event) bool {
		return ev.Kind == mind.EventDropped
	}, func(ev mind.Event) {
		gate.Signal(ev)
	})
	defer func() {
		agent.RemoveCompletionListener(tok)
		b.mismatches.Add(gate.Mismatches())
	}()

	waitCtx, cancelWait := context.WithTimeout(ctx, b.timeout)
	defer cancelWait()

	var claim atomic.Int32
	defer func() {
		if claim.CompareAndSwap(claimPending, claimAbandoned) {
			b.notInjected.Add(1)
		}
	}()

	err = b.pool.Submit(waitCtx, func(poolCtx context.Context) {
		if poolCtx.Err() != nil || waitCtx.Err() != nil {
			return
		}
		if !claim.CompareAndSwap(claimPending, claimInjected) {
			return
		}
		agent.InjectIntention(it)
		agent.Wake()

		// Hold the worker until the command resolves so in-flight commands
		// stay bounded by the pool size.
		select {
		case <-gate.Done():
		case <-waitCtx.Done():
		case <-poolCtx.Done():
		}
	})
	if err != nil && waitCtx.Err() == nil {
		span.RecordError(err)
		b.record(agent.Name(), "rejected", start)
		return nil, core.NewAgentError("bridge.Execute", agent.Name(), err)
	}

	ev, err := gate.Wait(waitCtx)
	if err != nil {
		return nil, b.abandon(ctx, agent.Name(), it.ID, span, start)
	}

	b.executed.Add(1)
	span.SetAttribute("outcome", ev.Outcome.String())
	b.record(agent.Name(), ev.Outcome.String(), start)

	b.logger.DebugWithContext(ctx, "Command executed", map[string]interface{}{
		"agent":        agent.Name(),
		"intention_id": it.ID,
		"outcome":      ev.Outcome.String(),
		"duration_ms":  time.Since(start).Milliseconds(),
	})

	return &Result{
		IntentionID: it.ID,
		Outcome:     ev.Outcome,
		Unifier:     ev.Unifier,
		Reason:      ev.Reason,
	}, nil
}

// abandon classifies why waiting stopped.
func (b *Bridge) abandon(ctx context.Context, agentName, intentionID string, span core.Span, start time.Time) error {
	if ctx.Err() != nil {
		b.cancelled.Add(1)
		span.RecordError(core.ErrCancelled)
		b.record(agentName, "cancelled", start)
		b.logger.InfoWithContext(ctx, "Command cancelled by caller", map[string]interface{}{
			"agent":        agentName,
			"intention_id": intentionID,
		})
		return &core.FrameworkError{
			Op:      "bridge.Execute",
			Kind:    "command",
			ID:      agentName,
			Message: "command cancelled",
			Err:     fmt.Errorf("%w: %v", core.ErrCancelled, ctx.Err()),
		}
	}

	b.timeouts.Add(1)
	span.RecordError(core.ErrTimeout)
	b.record(agentName, "timeout", start)
	b.logger.WarnWithContext(ctx, "Command timed out", map[string]interface{}{
		"agent":        agentName,
		"intention_id": intentionID,
		"timeout":      b.timeout.String(),
	})
	return &core.FrameworkError{
		Op:      "bridge.Execute",
		Kind:    "command",
		ID:      agentName,
		Message: fmt.Sprintf("command timed out after %s", b.timeout),
		Err:     core.ErrTimeout,
	}
}

func (b *Bridge) record(agent, outcome string, start time.Time) {
	labels := map[string]string{"agent": agent, "outcome": outcome}
	b.telemetry.RecordMetric("jcmrest.command.count", 1, labels)
	b.telemetry.RecordMetric("jcmrest.command.duration_ms", float64(time.Since(start).Milliseconds()), labels)
}

// Stats returns a snapshot of the counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Executed:    b.executed.Load(),
		ParseErrors: b.parseErrors.Load(),
		Timeouts:    b.timeouts.Load(),
		Cancelled:   b.cancelled.Load(),
		NotInjected: b.notInjected.Load(),
		Mismatches:  b.mismatches.Load(),
	}
}
