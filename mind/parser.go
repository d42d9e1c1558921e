package mind

import (
	"fmt"
	"strconv"
	"strings"
)

// Program is a parsed agent source: initial beliefs, initial goals and plans.
type Program struct {
	Beliefs []*Struct
	Goals   []*Struct
	Plans   []*Plan
}

var relOps = map[string]bool{
	"=": true, "==": true, "\\==": true, "<": true, "<=": true, ">": true, ">=": true,
}

type parser struct {
	toks []token
	pos  int
	anon int
}

func newParser(src string) (*parser, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	return &parser{toks: toks}, nil
}

// CompileCommand turns command text into a plan body. Surrounding whitespace
// and exactly one trailing '.' are removed first. The result is never nil
// when err is nil.
func CompileCommand(text string) (*PlanBody, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, ".")
	if strings.TrimSpace(text) == "" {
		return nil, &ParseError{Offset: 0, Message: "empty command"}
	}

	p, err := newParser(text)
	if err != nil {
		return nil, err
	}
	body, err := p.parseBody()
	if err != nil {
		return nil, err
	}
	if !p.at(tokEOF) {
		return nil, p.errorf("unexpected %s after command", p.peek())
	}
	return body, nil
}

// ParseProgram parses agent source text.
func ParseProgram(text string) (*Program, error) {
	p, err := newParser(text)
	if err != nil {
		return nil, err
	}
	prog := &Program{}
	for !p.at(tokEOF) {
		if err := p.parseClause(prog); err != nil {
			return nil, err
		}
	}
	return prog, nil
}

// ParsePlans parses text that may only contain plans.
func ParsePlans(text string) ([]*Plan, error) {
	prog, err := ParseProgram(text)
	if err != nil {
		return nil, err
	}
	if len(prog.Beliefs) > 0 || len(prog.Goals) > 0 {
		return nil, &ParseError{Offset: 0, Message: "only plans are accepted here"}
	}
	return prog.Plans, nil
}

// ParseLiteral parses a single literal, e.g. message content. One trailing '.' is allowed.
func ParseLiteral(text string) (*Struct, error) {
	text = strings.TrimSuffix(strings.TrimSpace(text), ".")
	p, err := newParser(text)
	if err != nil {
		return nil, err
	}
	lit, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	if !p.at(tokEOF) {
		return nil, p.errorf("unexpected %s after literal", p.peek())
	}
	return lit, nil
}

// ParseTerm parses a single term.
func ParseTerm(text string) (Term, error) {
	p, err := newParser(strings.TrimSpace(text))
	if err != nil {
		return nil, err
	}
	t, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	if !p.at(tokEOF) {
		return nil, p.errorf("unexpected %s after term", p.peek())
	}
	return t, nil
}

// --- token helpers ---

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) peekAt(n int) token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) at(kind tokenKind) bool {
	return p.peek().kind == kind
}

func (p *parser) atPunct(val string) bool {
	t := p.peek()
	return t.kind == tokPunct && t.val == val
}

func (p *parser) accept(val string) bool {
	if p.atPunct(val) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(val string) error {
	if !p.accept(val) {
		return p.errorf("expected %q but found %s", val, p.peek())
	}
	return nil
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return &ParseError{Offset: p.peek().pos, Message: fmt.Sprintf(format, args...)}
}

// --- program clauses ---

func (p *parser) parseClause(prog *Program) error {
	label := ""
	if p.accept("@") {
		lit, err := p.parseLiteral()
		if err != nil {
			return err
		}
		label = lit.Functor
	}

	switch {
	case label == "" && p.atPunct("!"):
		p.next()
		goal, err := p.parseLiteral()
		if err != nil {
			return err
		}
		prog.Goals = append(prog.Goals, goal)

	case p.atPunct("+") || p.atPunct("-"):
		plan, err := p.parsePlan()
		if err != nil {
			return err
		}
		plan.Label = label
		prog.Plans = append(prog.Plans, plan)

	case label != "":
		return p.errorf("a label must be followed by a plan")

	default:
		lit, err := p.parseLiteral()
		if err != nil {
			return err
		}
		if p.atPunct(":-") {
			return p.errorf("rules are not supported")
		}
		if !IsGround(lit) {
			return &ParseError{Offset: p.peek().pos, Message: "initial belief " + lit.String() + " is not ground"}
		}
		prog.Beliefs = append(prog.Beliefs, lit)
	}

	return p.expect(".")
}

func (p *parser) parsePlan() (*Plan, error) {
	trig, err := p.parseTrigger()
	if err != nil {
		return nil, err
	}
	plan := &Plan{Trigger: trig, Body: &PlanBody{}}

	if p.accept(":") {
		ctx, err := p.parseContext()
		if err != nil {
			return nil, err
		}
		plan.Context = ctx
	}
	if p.accept("<-") {
		body, err := p.parseBody()
		if err != nil {
			return nil, err
		}
		plan.Body = body
	}
	return plan, nil
}

func (p *parser) parseTrigger() (Trigger, error) {
	var trig Trigger
	switch {
	case p.accept("+"):
		trig.Op = TriggerAdd
	case p.accept("-"):
		trig.Op = TriggerDel
	case p.accept("-+"):
		return trig, p.errorf("-+ is not a trigger")
	default:
		return trig, p.errorf("expected trigger")
	}
	switch {
	case p.accept("!"):
		trig.Type = TriggerAchieve
	case p.accept("?"):
		trig.Type = TriggerTest
	default:
		trig.Type = TriggerBelief
	}
	lit, err := p.parseLiteral()
	if err != nil {
		return trig, err
	}
	trig.Literal = lit
	return trig, nil
}

func (p *parser) parseContext() ([]Condition, error) {
	if t := p.peek(); t.kind == tokAtom && t.val == "true" && !p.isStructStart(1) {
		p.next()
		return nil, nil
	}
	var conds []Condition
	for {
		c, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		conds = append(conds, c)
		if !p.accept("&") {
			return conds, nil
		}
	}
}

func (p *parser) parseCondition() (Condition, error) {
	if t := p.peek(); t.kind == tokAtom && t.val == "not" {
		p.next()
		paren := p.accept("(")
		inner, err := p.parseCondition()
		if err != nil {
			return Condition{}, err
		}
		if paren {
			if err := p.expect(")"); err != nil {
				return Condition{}, err
			}
		}
		inner.Negated = !inner.Negated
		return inner, nil
	}

	left, err := p.parseTerm()
	if err != nil {
		return Condition{}, err
	}
	if t := p.peek(); t.kind == tokPunct && relOps[t.val] {
		rel, err := p.parseRelationRest(left)
		if err != nil {
			return Condition{}, err
		}
		return Condition{Relation: rel}, nil
	}
	lit, ok := left.(*Struct)
	if !ok {
		return Condition{}, p.errorf("expected literal or relation in context, found %s", left)
	}
	return Condition{Literal: lit}, nil
}

// --- bodies and formulas ---

func (p *parser) parseBody() (*PlanBody, error) {
	body := &PlanBody{}
	if t := p.peek(); t.kind == tokAtom && t.val == "true" && !p.isStructStart(1) {
		p.next()
		return body, nil
	}
	for {
		f, err := p.parseFormula()
		if err != nil {
			return nil, err
		}
		body.Formulas = append(body.Formulas, f)
		if !p.accept(";") {
			return body, nil
		}
	}
}

func (p *parser) parseFormula() (Formula, error) {
	t := p.peek()
	if t.kind == tokPunct {
		kind, ok := map[string]FormulaKind{
			"+":  FormulaAddBelief,
			"-+": FormulaReplaceBelief,
			"!!": FormulaAchieveNew,
			"!":  FormulaAchieve,
			"?":  FormulaTest,
		}[t.val]
		if t.val == "-" && p.peekAt(1).kind != tokNumber {
			kind, ok = FormulaDelBelief, true
		}
		if ok {
			p.next()
			lit, err := p.parseLiteral()
			if err != nil {
				return Formula{}, err
			}
			return Formula{Kind: kind, Literal: lit}, nil
		}
	}

	if t.kind == tokAction {
		p.next()
		ia := &Struct{Functor: t.val}
		if p.accept("(") {
			args, err := p.parseTermList(")")
			if err != nil {
				return Formula{}, err
			}
			ia.Args = args
		}
		return Formula{Kind: FormulaInternalAction, Literal: ia}, nil
	}

	left, err := p.parseTerm()
	if err != nil {
		return Formula{}, err
	}
	if nt := p.peek(); nt.kind == tokPunct && relOps[nt.val] {
		rel, err := p.parseRelationRest(left)
		if err != nil {
			return Formula{}, err
		}
		return Formula{Kind: FormulaRelational, Relation: rel}, nil
	}
	if s, ok := left.(*Struct); ok {
		return Formula{}, &ParseError{Offset: t.pos, Message: "environment actions are not supported: " + s.String()}
	}
	return Formula{}, p.errorf("expected formula but found %s", t)
}

func (p *parser) parseRelationRest(left Term) (*Relation, error) {
	op := p.next().val
	right, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	return &Relation{Op: op, Left: left, Right: right}, nil
}

// --- literals and terms ---

func (p *parser) isStructStart(n int) bool {
	t := p.peekAt(n)
	return t.kind == tokPunct && (t.val == "(" || t.val == "[")
}

func (p *parser) parseLiteral() (*Struct, error) {
	negated := p.accept("~")
	t := p.peek()
	if t.kind != tokAtom {
		return nil, p.errorf("expected literal but found %s", t)
	}
	p.next()
	lit := &Struct{Functor: t.val, Negated: negated}
	if err := p.parseArgsAndAnnots(lit); err != nil {
		return nil, err
	}
	return lit, nil
}

func (p *parser) parseArgsAndAnnots(s *Struct) error {
	if p.accept("(") {
		args, err := p.parseTermList(")")
		if err != nil {
			return err
		}
		s.Args = args
	}
	if p.accept("[") {
		annots, err := p.parseTermList("]")
		if err != nil {
			return err
		}
		s.Annots = annots
	}
	return nil
}

// parseTermList reads comma separated terms up to and including the closer.
func (p *parser) parseTermList(closer string) ([]Term, error) {
	var terms []Term
	if p.accept(closer) {
		return terms, nil
	}
	for {
		t, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
		if p.accept(",") {
			continue
		}
		if err := p.expect(closer); err != nil {
			return nil, err
		}
		return terms, nil
	}
}

func (p *parser) parseTerm() (Term, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.atPunct("+") || p.atPunct("-") {
		op := p.next().val
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &Expr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (Term, error) {
	left, err := p.parsePower()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		isOp := (t.kind == tokPunct && (t.val == "*" || t.val == "/")) ||
			(t.kind == tokAtom && (t.val == "div" || t.val == "mod"))
		if !isOp {
			return left, nil
		}
		p.next()
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		left = &Expr{Op: t.val, Left: left, Right: right}
	}
}

func (p *parser) parsePower() (Term, error) {
	base, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if p.accept("**") {
		exp, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		return &Expr{Op: "**", Left: base, Right: exp}, nil
	}
	return base, nil
}

func (p *parser) parseUnary() (Term, error) {
	if p.accept("-") {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if n, ok := operand.(Number); ok {
			return -n, nil
		}
		return &Expr{Op: "-", Right: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Term, error) {
	t := p.peek()
	switch t.kind {
	case tokNumber:
		p.next()
		return Number(t.num), nil
	case tokString:
		p.next()
		return Str(t.val), nil
	case tokVar:
		p.next()
		if t.val == "_" {
			p.anon++
			return Var("_" + strconv.Itoa(p.anon)), nil
		}
		return Var(t.val), nil
	case tokAtom:
		return p.parseLiteral()
	case tokPunct:
		switch t.val {
		case "~":
			return p.parseLiteral()
		case "(":
			p.next()
			inner, err := p.parseTerm()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return inner, nil
		case "[":
			return p.parseList()
		}
	}
	return nil, p.errorf("expected term but found %s", t)
}

func (p *parser) parseList() (Term, error) {
	if err := p.expect("["); err != nil {
		return nil, err
	}
	list := &List{}
	if p.accept("]") {
		return list, nil
	}
	for {
		e, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		list.Elems = append(list.Elems, e)
		if p.accept(",") {
			continue
		}
		if p.accept("|") {
			tail, err := p.parseTerm()
			if err != nil {
				return nil, err
			}
			list.Tail = tail
		}
		if err := p.expect("]"); err != nil {
			return nil, err
		}
		return list, nil
	}
}
