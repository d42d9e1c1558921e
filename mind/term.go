// Package mind is a small in-process reasoning engine for AgentSpeak-style
// agents. It provides the term language, a parser for commands and agent
// programs, a belief base, a plan library and the per-agent reasoning loop
// that runs intentions and reports when they are dropped.
package mind

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Term is any value of the agent language.
type Term interface {
	String() string
	isTerm()
}

// Number is a numeric constant. Integral values print without a fraction.
type Number float64

// Str is a string constant.
type Str string

// Var is a logical variable. Names starting with "_" are anonymous.
type Var string

// Struct is an atom (no args), a structure or a literal. Annots holds the
// literal annotations such as source(self); Negated marks strong negation (~).
type Struct struct {
	Functor string
	Args    []Term
	Annots  []Term
	Negated bool
}

// List is a list term. Tail is nil for a proper list, or a Var/List for [H|T].
type List struct {
	Elems []Term
	Tail  Term
}

// Expr is an arithmetic expression. Left is nil for unary minus.
type Expr struct {
	Op    string
	Left  Term
	Right Term
}

func (Number) isTerm()  {}
func (Str) isTerm()     {}
func (Var) isTerm()     {}
func (*Struct) isTerm() {}
func (*List) isTerm()   {}
func (*Expr) isTerm()   {}

// Atom builds a term with no arguments.
func Atom(name string) *Struct {
	return &Struct{Functor: name}
}

// NewStruct builds a structure.
func NewStruct(functor string, args ...Term) *Struct {
	return &Struct{Functor: functor, Args: args}
}

// Source builds the source(name) annotation.
func Source(name string) *Struct {
	return NewStruct("source", Atom(name))
}

func (n Number) String() string {
	f := float64(n)
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func (s Str) String() string {
	return strconv.Quote(string(s))
}

func (v Var) String() string {
	return string(v)
}

// Anonymous reports whether the variable is a placeholder that is never exported.
func (v Var) Anonymous() bool {
	return strings.HasPrefix(string(v), "_")
}

func (s *Struct) String() string {
	var b strings.Builder
	if s.Negated {
		b.WriteByte('~')
	}
	b.WriteString(s.Functor)
	if len(s.Args) > 0 {
		b.WriteByte('(')
		writeTerms(&b, s.Args)
		b.WriteByte(')')
	}
	if len(s.Annots) > 0 {
		b.WriteByte('[')
		writeTerms(&b, s.Annots)
		b.WriteByte(']')
	}
	return b.String()
}

// Arity is the number of arguments.
func (s *Struct) Arity() int {
	return len(s.Args)
}

// Key identifies the predicate of a literal, e.g. "price/2" or "~dark/0".
func (s *Struct) Key() string {
	key := s.Functor + "/" + strconv.Itoa(len(s.Args))
	if s.Negated {
		return "~" + key
	}
	return key
}

// WithoutAnnots returns a copy of s without annotations.
func (s *Struct) WithoutAnnots() *Struct {
	return &Struct{Functor: s.Functor, Args: s.Args, Negated: s.Negated}
}

// HasAnnot reports whether an annotation equal to a is present.
func (s *Struct) HasAnnot(a Term) bool {
	for _, x := range s.Annots {
		if Equal(x, a) {
			return true
		}
	}
	return false
}

// Sources returns the names found in source(...) annotations.
func (s *Struct) Sources() []string {
	var out []string
	for _, a := range s.Annots {
		if st, ok := a.(*Struct); ok && st.Functor == "source" && len(st.Args) == 1 {
			out = append(out, TextOf(st.Args[0]))
		}
	}
	return out
}

func (l *List) String() string {
	var b strings.Builder
	b.WriteByte('[')
	writeTerms(&b, l.Elems)
	if l.Tail != nil {
		b.WriteByte('|')
		b.WriteString(l.Tail.String())
	}
	b.WriteByte(']')
	return b.String()
}

func (e *Expr) String() string {
	if e.Left == nil {
		return "(-" + e.Right.String() + ")"
	}
	op := e.Op
	if op == "div" || op == "mod" {
		op = " " + op + " "
	}
	return "(" + e.Left.String() + op + e.Right.String() + ")"
}

func writeTerms(b *strings.Builder, terms []Term) {
	for i, t := range terms {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(t.String())
	}
}

// TextOf renders t for human output: strings lose their quotes.
func TextOf(t Term) string {
	if s, ok := t.(Str); ok {
		return string(s)
	}
	return t.String()
}

// IsGround reports whether t contains no variables.
func IsGround(t Term) bool {
	switch v := t.(type) {
	case Var:
		return false
	case *Struct:
		for _, a := range v.Args {
			if !IsGround(a) {
				return false
			}
		}
		for _, a := range v.Annots {
			if !IsGround(a) {
				return false
			}
		}
	case *List:
		for _, e := range v.Elems {
			if !IsGround(e) {
				return false
			}
		}
		if v.Tail != nil {
			return IsGround(v.Tail)
		}
	case *Expr:
		if v.Left != nil && !IsGround(v.Left) {
			return false
		}
		return IsGround(v.Right)
	}
	return true
}

// Equal is structural equality, annotations included.
func Equal(a, b Term) bool {
	switch x := a.(type) {
	case Number:
		y, ok := b.(Number)
		return ok && x == y
	case Str:
		y, ok := b.(Str)
		return ok && x == y
	case Var:
		y, ok := b.(Var)
		return ok && x == y
	case *Struct:
		y, ok := b.(*Struct)
		if !ok || x.Functor != y.Functor || x.Negated != y.Negated ||
			len(x.Args) != len(y.Args) || len(x.Annots) != len(y.Annots) {
			return false
		}
		for i := range x.Args {
			if !Equal(x.Args[i], y.Args[i]) {
				return false
			}
		}
		for _, an := range x.Annots {
			if !y.HasAnnot(an) {
				return false
			}
		}
		return true
	case *List:
		y, ok := b.(*List)
		if !ok || len(x.Elems) != len(y.Elems) {
			return false
		}
		for i := range x.Elems {
			if !Equal(x.Elems[i], y.Elems[i]) {
				return false
			}
		}
		if x.Tail == nil || y.Tail == nil {
			return x.Tail == nil && y.Tail == nil
		}
		return Equal(x.Tail, y.Tail)
	case *Expr:
		y, ok := b.(*Expr)
		if !ok || x.Op != y.Op || !Equal(x.Right, y.Right) {
			return false
		}
		if x.Left == nil || y.Left == nil {
			return x.Left == nil && y.Left == nil
		}
		return Equal(x.Left, y.Left)
	}
	return false
}

// Compare orders terms: numbers numerically, everything else by text.
func Compare(a, b Term) int {
	if x, ok := a.(Number); ok {
		if y, ok := b.(Number); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(TextOf(a), TextOf(b))
}

// Unifier maps variable names to terms. A nil Unifier is not usable; use NewUnifier.
type Unifier map[string]Term

// NewUnifier returns an empty unifier.
func NewUnifier() Unifier {
	return make(Unifier)
}

// Clone copies the bindings. Terms are immutable and shared.
func (u Unifier) Clone() Unifier {
	c := make(Unifier, len(u))
	for k, v := range u {
		c[k] = v
	}
	return c
}

// Get returns the fully applied value bound to name.
func (u Unifier) Get(name string) (Term, bool) {
	t, ok := u[name]
	if !ok {
		return nil, false
	}
	return Apply(t, u), true
}

// Names returns the exported variable names in sorted order.
func (u Unifier) Names() []string {
	names := make([]string, 0, len(u))
	for k := range u {
		if Var(k).Anonymous() {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Strings exports the bindings as name to text, with values fully applied.
func (u Unifier) Strings() map[string]string {
	out := make(map[string]string, len(u))
	for _, k := range u.Names() {
		v, _ := u.Get(k)
		out[k] = v.String()
	}
	return out
}

// String renders the bindings as {X=3, Y=a} with sorted names.
func (u Unifier) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range u.Names() {
		if i > 0 {
			b.WriteString(", ")
		}
		v, _ := u.Get(k)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v.String())
	}
	b.WriteByte('}')
	return b.String()
}
