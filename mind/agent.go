package mind

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jcmrest/jcmrest/core"
)

// DefaultMaxSteps bounds how many formulas one intention may run in a single
// cycle before it yields to the next runnable intention.
const DefaultMaxSteps = 10000

// Option configures an Agent.
type Option func(*Agent)

// WithLogger mirrors agent log records and failures to logger.
func WithLogger(logger core.Logger) Option {
	return func(a *Agent) {
		a.logger = core.WithComponent(logger, "mind/agent")
	}
}

// WithEnvironment connects the agent to a platform.
func WithEnvironment(env Environment) Option {
	return func(a *Agent) {
		a.env = env
	}
}

// WithMaxSteps overrides DefaultMaxSteps.
func WithMaxSteps(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxSteps = n
		}
	}
}

// WithAction registers an extra internal action. The name must start with '.'.
func WithAction(name string, fn InternalAction) Option {
	return func(a *Agent) {
		a.actions[name] = actionSpec{fn: fn, doc: "user defined"}
	}
}

type completionListener struct {
	match func(Event) bool
	fn    func(Event)
}

// pendingEvent is a trigger waiting to be turned into an intention.
type pendingEvent struct {
	trigger Trigger
}

// Agent is one reasoning agent. All mind state is owned by a single loop
// goroutine; the exported methods are safe for concurrent use.
type Agent struct {
	name     string
	logger   core.Logger
	env      Environment
	maxSteps int
	actions  map[string]actionSpec

	mu        sync.Mutex
	beliefs   *BeliefBase
	plans     *PlanLibrary
	runnable  []*Intention
	suspended map[string]*Intention
	events    []pendingEvent
	cycle     int64
	renameSeq int

	inboxMu  sync.Mutex
	injected []*Intention
	mailbox  []Message

	completion  registry[completionListener]
	logHandlers registry[func(LogRecord)]

	ctx     context.Context
	cancel  context.CancelFunc
	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
	started atomic.Bool
	stopped atomic.Bool
	stop    sync.Once
}

// NewAgent builds an agent from a parsed program. The agent does not reason
// until Start is called.
func NewAgent(name string, prog *Program, opts ...Option) *Agent {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		name:      name,
		logger:    &core.NoOpLogger{},
		maxSteps:  DefaultMaxSteps,
		actions:   make(map[string]actionSpec, len(builtinActions)),
		beliefs:   NewBeliefBase(),
		plans:     NewPlanLibrary(),
		suspended: make(map[string]*Intention),
		ctx:       ctx,
		cancel:    cancel,
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for n, spec := range builtinActions {
		a.actions[n] = spec
	}
	for _, opt := range opts {
		opt(a)
	}

	if prog != nil {
		for _, b := range prog.Beliefs {
			a.beliefs.Add(withSource(b, "self"))
		}
		a.plans.Add(prog.Plans...)
		for _, g := range prog.Goals {
			a.events = append(a.events, pendingEvent{trigger: Trigger{Op: TriggerAdd, Type: TriggerAchieve, Literal: g}})
		}
	}
	return a
}

// Name returns the agent name.
func (a *Agent) Name() string {
	return a.name
}

// Start launches the reasoning loop. Calling it twice returns core.ErrAlreadyStarted.
func (a *Agent) Start() error {
	if a.stopped.Load() {
		return core.NewAgentError("Agent.Start", a.name, core.ErrAgentNotRunning)
	}
	if !a.started.CompareAndSwap(false, true) {
		return core.NewAgentError("Agent.Start", a.name, core.ErrAlreadyStarted)
	}
	go a.run()
	a.Wake()
	return nil
}

// Running reports whether the loop is active.
func (a *Agent) Running() bool {
	return a.started.Load() && !a.stopped.Load()
}

// Stop ends the loop and drops every remaining intention as aborted. It
// waits for the loop to exit or for ctx to end. When ctx ends first, queued
// intentions are aborted at once and the loop's own once it exits.
func (a *Agent) Stop(ctx context.Context) error {
	var err error
	a.stop.Do(func() {
		a.inboxMu.Lock()
		a.stopped.Store(true)
		injected := a.injected
		a.injected, a.mailbox = nil, nil
		a.inboxMu.Unlock()

		close(a.quit)
		a.cancel()
		if a.started.Load() {
			select {
			case <-a.done:
			case <-ctx.Done():
				err = core.NewAgentError("Agent.Stop", a.name, core.ErrCancelled)
				fx := &effects{}
				for _, it := range injected {
					fx.drop(it, OutcomeAborted, "agent stopped")
				}
				a.dispatch(fx)
				go func() {
					<-a.done
					a.abortPending(nil)
				}()
				return
			}
		}
		a.abortPending(injected)
	})
	return err
}

// abortPending drops extra and every intention the loop still holds.
func (a *Agent) abortPending(extra []*Intention) {
	fx := &effects{}
	a.mu.Lock()
	pending := append(extra, a.runnable...)
	for _, it := range a.suspended {
		if it.timer != nil {
			it.timer.Stop()
		}
		pending = append(pending, it)
	}
	a.runnable = nil
	a.suspended = make(map[string]*Intention)
	a.events = nil
	for _, it := range pending {
		fx.drop(it, OutcomeAborted, "agent stopped")
	}
	a.mu.Unlock()
	a.dispatch(fx)

	a.logger.Debug("Agent stopped", map[string]interface{}{
		"agent":   a.name,
		"aborted": len(pending),
	})
}

// Wake asks the loop to run a cycle. It never blocks.
func (a *Agent) Wake() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// InjectIntention queues it to run. If the agent has stopped the intention
// is dropped immediately as aborted.
func (a *Agent) InjectIntention(it *Intention) {
	a.inboxMu.Lock()
	if a.stopped.Load() {
		a.inboxMu.Unlock()
		fx := &effects{}
		fx.drop(it, OutcomeAborted, "agent stopped")
		a.dispatch(fx)
		return
	}
	a.injected = append(a.injected, it)
	a.inboxMu.Unlock()
}

// Deliver puts msg into the mailbox and wakes the agent. The content must
// parse as a literal.
func (a *Agent) Deliver(msg Message) error {
	if _, err := ParseLiteral(msg.Content); err != nil {
		return err
	}
	a.inboxMu.Lock()
	if a.stopped.Load() {
		a.inboxMu.Unlock()
		return core.NewAgentError("Agent.Deliver", a.name, core.ErrAgentNotRunning)
	}
	a.mailbox = append(a.mailbox, msg)
	a.inboxMu.Unlock()
	a.Wake()
	return nil
}

// AddCompletionListener registers fn for events accepted by match. A nil
// match accepts every event.
func (a *Agent) AddCompletionListener(match func(Event) bool, fn func(Event)) ListenerToken {
	return a.completion.add(completionListener{match: match, fn: fn})
}

// RemoveCompletionListener unregisters a listener. Unknown tokens are ignored.
func (a *Agent) RemoveCompletionListener(tok ListenerToken) {
	a.completion.remove(tok)
}

// CompletionListenerCount is the number of registered completion listeners.
func (a *Agent) CompletionListenerCount() int {
	return a.completion.len()
}

// AddLogHandler registers fn for every log record of the agent.
func (a *Agent) AddLogHandler(fn func(LogRecord)) ListenerToken {
	return a.logHandlers.add(fn)
}

// RemoveLogHandler unregisters a log handler.
func (a *Agent) RemoveLogHandler(tok ListenerToken) {
	a.logHandlers.remove(tok)
}

// AddPlans adds plans to the library and returns their labels.
func (a *Agent) AddPlans(plans []*Plan) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.plans.Add(plans...)
}

// Plans renders the plan with the given label, or every plan when label is
// empty or "all".
func (a *Agent) Plans(label string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if label == "" || label == "all" {
		return a.plans.Text()
	}
	if p, ok := a.plans.Get(label); ok {
		return p.String() + "\n"
	}
	return ""
}

// Beliefs returns the belief base as text, one literal per entry.
func (a *Agent) Beliefs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	lits := a.beliefs.Literals()
	out := make([]string, len(lits))
	for i, l := range lits {
		out[i] = l.String()
	}
	return out
}

// HasBelief reports whether a literal equal to lit, ignoring annotations, is believed.
func (a *Agent) HasBelief(lit *Struct) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.beliefs.Contains(lit)
}

// Status describes the reasoning state of an agent.
type Status struct {
	Idle         bool              `json:"idle"`
	Cycle        int64             `json:"cycle"`
	NbIntentions int               `json:"nbIntentions"`
	Intentions   []IntentionStatus `json:"intentions"`
}

// Status reports the current cycle and intentions.
func (a *Agent) Status() Status {
	a.inboxMu.Lock()
	inbox := len(a.injected) + len(a.mailbox)
	a.inboxMu.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	st := Status{
		Cycle:      a.cycle,
		Intentions: make([]IntentionStatus, 0, len(a.runnable)+len(a.suspended)),
	}
	for _, it := range a.runnable {
		st.Intentions = append(st.Intentions, it.status())
	}
	ids := make([]string, 0, len(a.suspended))
	for id := range a.suspended {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		st.Intentions = append(st.Intentions, a.suspended[id].status())
	}
	st.NbIntentions = len(st.Intentions)
	st.Idle = len(a.runnable) == 0 && len(a.events) == 0 && inbox == 0
	return st
}

// Suggestions lists command completions: goals and belief triggers handled
// by plans, and the internal actions. Values describe the entry.
func (a *Agent) Suggestions() map[string]string {
	out := make(map[string]string)
	a.mu.Lock()
	for _, p := range a.plans.Plans() {
		lit := p.Trigger.Literal
		var b strings.Builder
		switch p.Trigger.Type {
		case TriggerAchieve:
			b.WriteByte('!')
		case TriggerTest:
			b.WriteByte('?')
		default:
			if p.Trigger.Op == TriggerAdd {
				b.WriteByte('+')
			} else {
				b.WriteByte('-')
			}
		}
		if lit.Negated {
			b.WriteByte('~')
		}
		b.WriteString(lit.Functor)
		if len(lit.Args) > 0 {
			b.WriteByte('(')
			for i, t := range lit.Args {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(t.String())
			}
			b.WriteByte(')')
		}
		out[b.String()] = ""
	}
	for name, spec := range a.actions {
		out[name] = spec.doc
	}
	a.mu.Unlock()
	return out
}

// --- reasoning loop ---

func (a *Agent) run() {
	defer close(a.done)
	for {
		select {
		case <-a.quit:
			return
		case <-a.wake:
		}
		for a.step() {
			select {
			case <-a.quit:
				return
			default:
			}
		}
	}
}

// step runs one reasoning cycle and reports whether more work is pending.
func (a *Agent) step() bool {
	a.inboxMu.Lock()
	injected, mailbox := a.injected, a.mailbox
	a.injected, a.mailbox = nil, nil
	a.inboxMu.Unlock()

	fx := &effects{}
	a.mu.Lock()
	a.cycle++
	for _, m := range mailbox {
		a.receiveLocked(m, fx)
	}
	a.runnable = append(a.runnable, injected...)
	a.processEventsLocked(fx)
	if len(a.runnable) > 0 {
		it := a.runnable[0]
		a.runnable = a.runnable[1:]
		a.runIntentionLocked(it, fx)
	}
	more := len(a.runnable) > 0 || len(a.events) > 0
	a.mu.Unlock()

	a.dispatch(fx)

	if more {
		return true
	}
	a.inboxMu.Lock()
	defer a.inboxMu.Unlock()
	return len(a.injected) > 0 || len(a.mailbox) > 0
}

func (a *Agent) receiveLocked(m Message, fx *effects) {
	lit, err := ParseLiteral(m.Content)
	if err != nil {
		fx.log(a.name, "warn", fmt.Sprintf("discarding message %q from %s: %v", m.Content, m.Sender, err))
		return
	}
	sender := m.Sender
	if sender == "" {
		sender = "unknown"
	}
	switch m.Performative {
	case PerformativeTell:
		lit = withSource(lit, sender)
		if !IsGround(lit) {
			fx.log(a.name, "warn", "discarding non-ground belief "+lit.String()+" from "+sender)
			return
		}
		if a.beliefs.Add(lit) {
			a.postLocked(Trigger{Op: TriggerAdd, Type: TriggerBelief, Literal: lit})
		}
	case PerformativeUntell:
		lit = withSource(lit, sender)
		if before, ok := a.beliefs.Remove(lit, NewUnifier()); ok {
			a.postLocked(Trigger{Op: TriggerDel, Type: TriggerBelief, Literal: before})
		}
	case PerformativeAchieve:
		a.postLocked(Trigger{Op: TriggerAdd, Type: TriggerAchieve, Literal: withSource(lit, sender)})
	default:
		fx.log(a.name, "warn", fmt.Sprintf("unsupported performative %q from %s", m.Performative, sender))
	}
}

func (a *Agent) postLocked(trig Trigger) {
	a.events = append(a.events, pendingEvent{trigger: trig})
}

// processEventsLocked turns pending events into new intentions. Belief
// events without an applicable plan are discarded silently.
func (a *Agent) processEventsLocked(fx *effects) {
	events := a.events
	a.events = nil
	for _, ev := range events {
		p, u, ok := a.applicablePlanLocked(ev.trigger)
		if !ok {
			if ev.trigger.Type == TriggerAchieve {
				fx.log(a.name, "warn", "no applicable plan for "+ev.trigger.String())
			}
			continue
		}
		a.runnable = append(a.runnable, newPlanIntention(p, u))
	}
}

func (a *Agent) applicablePlanLocked(trig Trigger) (*Plan, Unifier, bool) {
	for _, p := range a.plans.Relevant(trig) {
		u := NewUnifier()
		if !Unify(p.Trigger.Literal.WithoutAnnots(), trig.Literal.WithoutAnnots(), u) {
			continue
		}
		if !matchAnnots(p.Trigger.Literal, trig.Literal, u) {
			continue
		}
		if sol, ok := a.solveLocked(p.Context, u); ok {
			return p, sol, true
		}
	}
	return nil, nil, false
}

// solveLocked finds the first unifier satisfying every condition.
func (a *Agent) solveLocked(conds []Condition, u Unifier) (Unifier, bool) {
	if len(conds) == 0 {
		return u, true
	}
	c := conds[0]
	var candidates []Unifier
	if c.Relation != nil {
		trial := u.Clone()
		if ok, err := evalRelation(c.Relation, trial); err == nil && ok {
			candidates = []Unifier{trial}
		}
	} else {
		candidates = a.beliefs.Query(c.Literal, u)
	}
	if c.Negated {
		if len(candidates) > 0 {
			return nil, false
		}
		return a.solveLocked(conds[1:], u)
	}
	for _, cand := range candidates {
		if sol, ok := a.solveLocked(conds[1:], cand); ok {
			return sol, true
		}
	}
	return nil, false
}

type stepResult int

const (
	stepNext stepResult = iota
	stepPushed
	stepSuspended
)

func (a *Agent) runIntentionLocked(it *Intention, fx *effects) {
	for steps := 0; ; steps++ {
		if steps >= a.maxSteps {
			a.runnable = append(a.runnable, it)
			return
		}

		top := it.top()
		if top.done() {
			if len(it.stack) == 1 {
				// snapshot the bottom frame bindings before it goes away
				fx.drop(it, OutcomeSucceeded, "")
				it.stack = it.stack[:0]
				return
			}
			it.stack = it.stack[:len(it.stack)-1]
			caller := it.top()
			result := ApplyLiteral(top.goal, top.unifier)
			if !Unify(top.callerGoal.WithoutAnnots(), result.WithoutAnnots(), caller.unifier) {
				a.failLocked(it, fmt.Errorf("result %s does not match %s", result, top.callerGoal), fx)
				return
			}
			caller.pc++
			continue
		}

		res, err := a.execLocked(it, top, top.body.Formulas[top.pc], fx)
		if err != nil {
			a.failLocked(it, err, fx)
			return
		}
		switch res {
		case stepNext:
			top.pc++
		case stepSuspended:
			return
		}
	}
}

func (a *Agent) failLocked(it *Intention, err error, fx *effects) {
	fx.log(a.name, "warn", fmt.Sprintf("intention %s failed: %v", it.ID, err))
	fx.drop(it, OutcomeFailed, err.Error())
}

func (a *Agent) execLocked(it *Intention, im *intendedMeans, f Formula, fx *effects) (stepResult, error) {
	u := im.unifier
	switch f.Kind {
	case FormulaAddBelief:
		lit, err := EvalLiteral(f.Literal, u)
		if err != nil {
			return 0, err
		}
		if !IsGround(lit) {
			return 0, fmt.Errorf("cannot add non-ground belief %s", lit)
		}
		lit = withSource(lit, "self")
		if a.beliefs.Add(lit) {
			a.postLocked(Trigger{Op: TriggerAdd, Type: TriggerBelief, Literal: lit})
		}
		return stepNext, nil

	case FormulaDelBelief:
		pattern := withSource(f.Literal, "self")
		if before, ok := a.beliefs.Remove(pattern, u); ok {
			a.postLocked(Trigger{Op: TriggerDel, Type: TriggerBelief, Literal: before})
		}
		return stepNext, nil

	case FormulaReplaceBelief:
		lit, err := EvalLiteral(f.Literal, u)
		if err != nil {
			return 0, err
		}
		if !IsGround(lit) {
			return 0, fmt.Errorf("cannot add non-ground belief %s", lit)
		}
		a.beliefs.RemoveAll(lit, Source("self"))
		lit = withSource(lit, "self")
		if a.beliefs.Add(lit) {
			a.postLocked(Trigger{Op: TriggerAdd, Type: TriggerBelief, Literal: lit})
		}
		return stepNext, nil

	case FormulaTest:
		sols := a.beliefs.Query(f.Literal, u)
		if len(sols) == 0 {
			return 0, fmt.Errorf("test goal ?%s failed", ApplyLiteral(f.Literal, u))
		}
		for k, v := range sols[0] {
			u[k] = v
		}
		return stepNext, nil

	case FormulaAchieve:
		return a.pushSubGoalLocked(it, im, f.Literal)

	case FormulaAchieveNew:
		lit, err := EvalLiteral(f.Literal, u)
		if err != nil {
			return 0, err
		}
		a.postLocked(Trigger{Op: TriggerAdd, Type: TriggerAchieve, Literal: lit})
		return stepNext, nil

	case FormulaRelational:
		ok, err := evalRelation(f.Relation, u)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("%s is false", f.Relation)
		}
		return stepNext, nil

	case FormulaInternalAction:
		return a.runActionLocked(it, im, f.Literal, fx)
	}
	return 0, fmt.Errorf("unknown formula %s", f)
}

func (a *Agent) pushSubGoalLocked(it *Intention, caller *intendedMeans, goal *Struct) (stepResult, error) {
	callerGoal, err := EvalLiteral(goal, caller.unifier)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]Var)
	renamed, _ := renameVars(callerGoal, func() string {
		a.renameSeq++
		return "_g" + strconv.Itoa(a.renameSeq)
	}, seen).(*Struct)

	trig := Trigger{Op: TriggerAdd, Type: TriggerAchieve, Literal: renamed}
	p, u, ok := a.applicablePlanLocked(trig)
	if !ok {
		return 0, fmt.Errorf("no applicable plan for %s", trig)
	}

	// The result is unified back into the caller once the sub-goal completes.
	it.stack = append(it.stack, &intendedMeans{
		trigger:    p.Trigger,
		label:      p.Label,
		body:       p.Body,
		unifier:    u,
		goal:       renamed,
		callerGoal: callerGoal,
	})
	return stepPushed, nil
}

func (a *Agent) runActionLocked(it *Intention, im *intendedMeans, lit *Struct, fx *effects) (res stepResult, err error) {
	spec, ok := a.actions[lit.Functor]
	if !ok {
		return 0, fmt.Errorf("unknown internal action %s", lit.Functor)
	}
	args := make([]Term, len(lit.Args))
	for i, t := range lit.Args {
		v, err := Eval(t, im.unifier)
		if err != nil {
			return 0, err
		}
		args[i] = v
	}
	ac := &ActionContext{
		Name:    lit.Functor,
		Args:    args,
		ctx:     a.ctx,
		agent:   a.name,
		env:     a.env,
		unifier: im.unifier,
		fx:      fx,
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Internal action panicked", map[string]interface{}{
				"agent":  a.name,
				"action": lit.Functor,
				"panic":  fmt.Sprintf("%v", r),
				"stack":  string(debug.Stack()),
			})
			err = fmt.Errorf("%w: %s panicked: %v", ErrActionFailed, lit.Functor, r)
		}
	}()

	if err := spec.fn(ac); err != nil {
		return 0, err
	}
	if !ac.suspend {
		return stepNext, nil
	}

	it.suspended = true
	a.suspended[it.ID] = it
	fx.events = append(fx.events, Event{Kind: EventSuspended, IntentionID: it.ID, Unifier: it.Unifier()})
	if ac.duration > 0 {
		id := it.ID
		it.timer = time.AfterFunc(ac.duration, func() { a.resume(id) })
	}
	return stepSuspended, nil
}

// resume moves a suspended intention back to the runnable queue past the
// formula that suspended it.
func (a *Agent) resume(id string) {
	fx := &effects{}
	a.mu.Lock()
	it, ok := a.suspended[id]
	if !ok || a.stopped.Load() {
		a.mu.Unlock()
		return
	}
	delete(a.suspended, id)
	it.suspended = false
	it.timer = nil
	it.top().pc++
	a.runnable = append(a.runnable, it)
	fx.events = append(fx.events, Event{Kind: EventResumed, IntentionID: id, Unifier: it.Unifier()})
	a.mu.Unlock()

	a.dispatch(fx)
	a.Wake()
}

// --- effects ---

// effects collects what a locked section wants to tell the outside world.
// They are dispatched after the lock is released.
type effects struct {
	logs   []LogRecord
	events []Event
}

func (fx *effects) log(agent, level, msg string) {
	fx.logs = append(fx.logs, LogRecord{Agent: agent, Time: time.Now(), Level: level, Message: msg})
}

func (fx *effects) drop(it *Intention, outcome Outcome, reason string) {
	fx.events = append(fx.events, Event{
		Kind:        EventDropped,
		IntentionID: it.ID,
		Outcome:     outcome,
		Unifier:     it.Unifier(),
		Reason:      reason,
	})
}

// dispatch delivers log records before events so output of a command is
// visible by the time its completion is reported.
func (a *Agent) dispatch(fx *effects) {
	for _, rec := range fx.logs {
		fields := map[string]interface{}{"agent": rec.Agent}
		if rec.Level == "warn" {
			a.logger.Warn(rec.Message, fields)
		} else {
			a.logger.Debug(rec.Message, fields)
		}
		for _, h := range a.logHandlers.snapshot() {
			h.value(rec)
		}
	}
	for _, ev := range fx.events {
		for _, l := range a.completion.snapshot() {
			if l.value.match != nil && !l.value.match(ev) {
				continue
			}
			cp := ev
			cp.Unifier = ev.Unifier.Clone()
			l.value.fn(cp)
		}
	}
}

// --- helpers ---

func withSource(lit *Struct, source string) *Struct {
	if len(lit.Sources()) > 0 {
		return lit
	}
	out := &Struct{Functor: lit.Functor, Args: lit.Args, Negated: lit.Negated}
	out.Annots = append(append([]Term(nil), lit.Annots...), Source(source))
	return out
}

var errUnbound = errors.New("comparison with an unbound variable")

func evalRelation(r *Relation, u Unifier) (bool, error) {
	switch r.Op {
	case "==":
		return Equal(Apply(r.Left, u), Apply(r.Right, u)), nil
	case "\\==":
		return !Equal(Apply(r.Left, u), Apply(r.Right, u)), nil
	}

	l, err := Eval(r.Left, u)
	if err != nil {
		return false, err
	}
	rt, err := Eval(r.Right, u)
	if err != nil {
		return false, err
	}
	if r.Op == "=" {
		return Unify(l, rt, u), nil
	}
	if !IsGround(l) || !IsGround(rt) {
		return false, fmt.Errorf("%w: %s", errUnbound, r)
	}
	c := Compare(l, rt)
	switch r.Op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, fmt.Errorf("unknown relational operator %q", r.Op)
}
