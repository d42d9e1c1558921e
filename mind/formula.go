package mind

import (
	"strings"
)

// FormulaKind tells the reasoning loop how to execute a body formula.
type FormulaKind int

const (
	FormulaAddBelief     FormulaKind = iota // +b
	FormulaDelBelief                        // -b
	FormulaReplaceBelief                    // -+b
	FormulaAchieve                          // !g
	FormulaAchieveNew                       // !!g
	FormulaTest                             // ?b
	FormulaInternalAction                   // .name(args)
	FormulaRelational                       // X = 1+2, X > 3
)

var formulaPrefix = map[FormulaKind]string{
	FormulaAddBelief:     "+",
	FormulaDelBelief:     "-",
	FormulaReplaceBelief: "-+",
	FormulaAchieve:       "!",
	FormulaAchieveNew:    "!!",
	FormulaTest:          "?",
}

// Relation is a comparison or unification between two terms.
type Relation struct {
	Op    string // = == \== < <= > >=
	Left  Term
	Right Term
}

func (r *Relation) String() string {
	return r.Left.String() + " " + r.Op + " " + r.Right.String()
}

// Formula is one step of a plan body.
type Formula struct {
	Kind     FormulaKind
	Literal  *Struct   // belief, goal and internal action formulas
	Relation *Relation // FormulaRelational only
}

func (f Formula) String() string {
	switch f.Kind {
	case FormulaRelational:
		return f.Relation.String()
	case FormulaInternalAction:
		return f.Literal.String()
	}
	return formulaPrefix[f.Kind] + f.Literal.String()
}

// PlanBody is an ordered sequence of formulas.
type PlanBody struct {
	Formulas []Formula
}

// Len is the number of formulas.
func (b *PlanBody) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Formulas)
}

func (b *PlanBody) String() string {
	if b.Len() == 0 {
		return "true"
	}
	parts := make([]string, len(b.Formulas))
	for i, f := range b.Formulas {
		parts[i] = f.String()
	}
	return strings.Join(parts, "; ")
}

// TriggerOp is the addition or deletion part of a trigger.
type TriggerOp int

const (
	TriggerAdd TriggerOp = iota
	TriggerDel
)

// TriggerType distinguishes belief, achievement and test triggers.
type TriggerType int

const (
	TriggerBelief TriggerType = iota
	TriggerAchieve
	TriggerTest
)

// Trigger is the event part of a plan head, e.g. +!start or -price(X).
type Trigger struct {
	Op      TriggerOp
	Type    TriggerType
	Literal *Struct
}

func (t Trigger) String() string {
	var b strings.Builder
	if t.Op == TriggerAdd {
		b.WriteByte('+')
	} else {
		b.WriteByte('-')
	}
	switch t.Type {
	case TriggerAchieve:
		b.WriteByte('!')
	case TriggerTest:
		b.WriteByte('?')
	}
	b.WriteString(t.Literal.String())
	return b.String()
}

// Condition is one conjunct of a plan context.
type Condition struct {
	Negated  bool
	Literal  *Struct
	Relation *Relation
}

func (c Condition) String() string {
	s := ""
	if c.Relation != nil {
		s = c.Relation.String()
	} else {
		s = c.Literal.String()
	}
	if c.Negated {
		return "not " + s
	}
	return s
}

// Plan is a labelled trigger, context and body.
type Plan struct {
	Label   string
	Trigger Trigger
	Context []Condition
	Body    *PlanBody
}

// String renders the plan in agent language syntax.
func (p *Plan) String() string {
	var b strings.Builder
	if p.Label != "" {
		b.WriteByte('@')
		b.WriteString(p.Label)
		b.WriteByte(' ')
	}
	b.WriteString(p.Trigger.String())
	if len(p.Context) > 0 {
		b.WriteString(" : ")
		for i, c := range p.Context {
			if i > 0 {
				b.WriteString(" & ")
			}
			b.WriteString(c.String())
		}
	}
	if p.Body.Len() > 0 {
		b.WriteString(" <- ")
		b.WriteString(p.Body.String())
	}
	b.WriteByte('.')
	return b.String()
}
