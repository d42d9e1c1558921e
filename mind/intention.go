package mind

import (
	"time"

	"github.com/google/uuid"
)

// ReplTrigger is the goal every command intention pretends to achieve.
const ReplTrigger = "run_repl_expr"

// EventKind tags intention lifecycle events.
type EventKind int

const (
	EventDropped EventKind = iota
	EventSuspended
	EventResumed
)

func (k EventKind) String() string {
	switch k {
	case EventDropped:
		return "dropped"
	case EventSuspended:
		return "suspended"
	case EventResumed:
		return "resumed"
	}
	return "unknown"
}

// Outcome tells how a dropped intention ended.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeFailed
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeAborted:
		return "aborted"
	}
	return "unknown"
}

// Event is delivered to completion listeners. Unifier is a snapshot of the
// bottom intended means and is owned by the receiver.
type Event struct {
	Kind        EventKind
	IntentionID string
	Outcome     Outcome
	Unifier     Unifier
	Reason      string
}

// LogRecord is one line of agent output, e.g. from .print.
type LogRecord struct {
	Agent   string
	Time    time.Time
	Level   string
	Message string
}

// intendedMeans is one frame of an intention stack.
type intendedMeans struct {
	trigger Trigger
	label   string
	body    *PlanBody
	pc      int
	unifier Unifier

	// goal is the plan trigger literal, callerGoal the literal as written in
	// the caller's !g formula. Both are nil for the bottom frame.
	goal       *Struct
	callerGoal *Struct
}

func (im *intendedMeans) done() bool {
	return im.pc >= im.body.Len()
}

// Intention is a stack of intended means sharing one identity.
type Intention struct {
	ID    string
	stack []*intendedMeans

	suspended bool
	timer     *time.Timer
}

// NewCommandIntention wraps a compiled command so it can be injected into an
// agent. The bottom frame uses the +!run_repl_expr trigger.
func NewCommandIntention(body *PlanBody) *Intention {
	if body == nil {
		body = &PlanBody{}
	}
	return &Intention{
		ID: uuid.NewString(),
		stack: []*intendedMeans{{
			trigger: Trigger{Op: TriggerAdd, Type: TriggerAchieve, Literal: Atom(ReplTrigger)},
			label:   ReplTrigger,
			body:    body,
			unifier: NewUnifier(),
		}},
	}
}

func newPlanIntention(p *Plan, u Unifier) *Intention {
	return &Intention{
		ID: uuid.NewString(),
		stack: []*intendedMeans{{
			trigger: p.Trigger,
			label:   p.Label,
			body:    p.Body,
			unifier: u,
		}},
	}
}

func (i *Intention) top() *intendedMeans {
	if len(i.stack) == 0 {
		return nil
	}
	return i.stack[len(i.stack)-1]
}

// Unifier returns a copy of the bottom frame bindings.
func (i *Intention) Unifier() Unifier {
	if len(i.stack) == 0 {
		return NewUnifier()
	}
	return i.stack[0].unifier.Clone()
}

// Size is the depth of the intention stack.
func (i *Intention) Size() int {
	return len(i.stack)
}

// Trigger is the trigger of the bottom frame.
func (i *Intention) Trigger() Trigger {
	if len(i.stack) == 0 {
		return Trigger{}
	}
	return i.stack[0].trigger
}

// IntentionStatus is the externally visible summary of one intention.
type IntentionStatus struct {
	ID        string `json:"id"`
	Size      int    `json:"size"`
	Trigger   string `json:"trigger"`
	Finished  bool   `json:"finished"`
	Suspended bool   `json:"suspended"`
}

func (i *Intention) status() IntentionStatus {
	top := i.top()
	return IntentionStatus{
		ID:        i.ID,
		Size:      len(i.stack),
		Trigger:   i.Trigger().String(),
		Finished:  top == nil || (len(i.stack) == 1 && top.done()),
		Suspended: i.suspended,
	}
}
