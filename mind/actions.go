package mind

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrActionFailed is returned by .fail and wraps arity or type problems of
// internal action arguments.
var ErrActionFailed = errors.New("internal action failed")

// InternalAction runs inside the agent's reasoning loop. Returning an error
// fails the intention.
type InternalAction func(ac *ActionContext) error

// ActionContext gives an internal action access to its arguments and to the
// agent that runs it. Args are already substituted with the current bindings.
type ActionContext struct {
	Name string
	Args []Term

	ctx     context.Context
	agent   string
	env     Environment
	unifier Unifier
	fx      *effects

	suspend  bool
	duration time.Duration
}

// Context is cancelled when the agent stops.
func (ac *ActionContext) Context() context.Context {
	return ac.ctx
}

// AgentName is the name of the running agent.
func (ac *ActionContext) AgentName() string {
	return ac.agent
}

// Environment returns the platform hooks, or nil when the agent runs alone.
func (ac *ActionContext) Environment() Environment {
	return ac.env
}

// Unify binds a and b in the intention's unifier.
func (ac *ActionContext) Unify(a, b Term) bool {
	return Unify(a, b, ac.unifier)
}

// Log emits a log record from the agent.
func (ac *ActionContext) Log(level, msg string) {
	ac.fx.log(ac.agent, level, msg)
}

// Suspend parks the intention after the action returns. A positive d resumes
// it after d; zero keeps it suspended until the agent stops.
func (ac *ActionContext) Suspend(d time.Duration) {
	ac.suspend = true
	ac.duration = d
}

func (ac *ActionContext) arity(n int) error {
	if len(ac.Args) != n {
		return fmt.Errorf("%w: %s expects %d argument(s), got %d", ErrActionFailed, ac.Name, n, len(ac.Args))
	}
	return nil
}

type actionSpec struct {
	fn  InternalAction
	doc string
}

var builtinActions = map[string]actionSpec{
	".print":         {actPrint, "prints its arguments to the agent log"},
	".println":       {actPrint, "prints its arguments to the agent log"},
	".wait":          {actWait, "suspends the intention for the given milliseconds"},
	".suspend":       {actSuspend, "suspends the intention"},
	".fail":          {actFail, "fails the intention"},
	".my_name":       {actMyName, "unifies its argument with the agent name"},
	".concat":        {actConcat, "concatenates strings or lists into the last argument"},
	".send":          {actSend, "sends a message: .send(receiver, performative, content)"},
	".df_register":   {actDFRegister, "registers a service in the directory facilitator"},
	".df_deregister": {actDFDeregister, "removes a service from the directory facilitator"},
}

func actPrint(ac *ActionContext) error {
	var b strings.Builder
	for _, a := range ac.Args {
		b.WriteString(TextOf(a))
	}
	ac.Log("info", b.String())
	return nil
}

func actWait(ac *ActionContext) error {
	if err := ac.arity(1); err != nil {
		return err
	}
	ms, ok := ac.Args[0].(Number)
	if !ok || ms < 0 {
		return fmt.Errorf("%w: .wait expects a non-negative number of milliseconds, got %s", ErrActionFailed, ac.Args[0])
	}
	d := time.Duration(float64(ms) * float64(time.Millisecond))
	if d == 0 {
		d = time.Nanosecond
	}
	ac.Suspend(d)
	return nil
}

func actSuspend(ac *ActionContext) error {
	ac.Suspend(0)
	return nil
}

func actFail(ac *ActionContext) error {
	if len(ac.Args) > 0 {
		return fmt.Errorf("%w: %s", ErrActionFailed, ac.Args[0])
	}
	return ErrActionFailed
}

func actMyName(ac *ActionContext) error {
	if err := ac.arity(1); err != nil {
		return err
	}
	if !ac.Unify(ac.Args[0], Atom(ac.agent)) {
		return fmt.Errorf("%w: %s is not %s", ErrActionFailed, ac.Args[0], ac.agent)
	}
	return nil
}

func actConcat(ac *ActionContext) error {
	if len(ac.Args) < 2 {
		return fmt.Errorf("%w: .concat needs at least two arguments", ErrActionFailed)
	}
	inputs, out := ac.Args[:len(ac.Args)-1], ac.Args[len(ac.Args)-1]

	if _, isList := inputs[0].(*List); isList {
		joined := &List{}
		for _, in := range inputs {
			l, ok := in.(*List)
			if !ok || l.Tail != nil {
				return fmt.Errorf("%w: .concat cannot mix lists and %s", ErrActionFailed, in)
			}
			joined.Elems = append(joined.Elems, l.Elems...)
		}
		if !ac.Unify(out, joined) {
			return fmt.Errorf("%w: .concat result does not unify", ErrActionFailed)
		}
		return nil
	}

	var b strings.Builder
	for _, in := range inputs {
		if !IsGround(in) {
			return fmt.Errorf("%w: .concat argument %s is unbound", ErrActionFailed, in)
		}
		b.WriteString(TextOf(in))
	}
	if !ac.Unify(out, Str(b.String())) {
		return fmt.Errorf("%w: .concat result does not unify", ErrActionFailed)
	}
	return nil
}

func actSend(ac *ActionContext) error {
	if err := ac.arity(3); err != nil {
		return err
	}
	if ac.env == nil {
		return fmt.Errorf("%w: .send needs a platform", ErrActionFailed)
	}
	if !IsGround(ac.Args[2]) {
		return fmt.Errorf("%w: message content %s is not ground", ErrActionFailed, ac.Args[2])
	}
	msg := Message{
		Sender:       ac.agent,
		Receiver:     TextOf(ac.Args[0]),
		Performative: TextOf(ac.Args[1]),
		Content:      ac.Args[2].String(),
	}
	return ac.env.Send(ac.ctx, msg)
}

func actDFRegister(ac *ActionContext) error {
	if len(ac.Args) < 1 || len(ac.Args) > 2 {
		return fmt.Errorf("%w: .df_register expects a service and an optional type", ErrActionFailed)
	}
	if ac.env == nil {
		return fmt.Errorf("%w: .df_register needs a platform", ErrActionFailed)
	}
	typ := ""
	if len(ac.Args) == 2 {
		typ = TextOf(ac.Args[1])
	}
	return ac.env.RegisterService(ac.ctx, ac.agent, TextOf(ac.Args[0]), typ)
}

func actDFDeregister(ac *ActionContext) error {
	if err := ac.arity(1); err != nil {
		return err
	}
	if ac.env == nil {
		return fmt.Errorf("%w: .df_deregister needs a platform", ErrActionFailed)
	}
	return ac.env.RemoveService(ac.ctx, ac.agent, TextOf(ac.Args[0]))
}

// ActionNames lists the built-in internal actions.
func ActionNames() []string {
	names := make([]string, 0, len(builtinActions))
	for n := range builtinActions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
